package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"brewline.io/internal/auth"
	"brewline.io/internal/cache"
	"brewline.io/internal/config"
	"brewline.io/internal/httpapi"
	"brewline.io/internal/migrate"
	"brewline.io/internal/obs"
	"brewline.io/internal/rbac"
	"brewline.io/internal/store/memory"
	"brewline.io/internal/store/pg"
	"brewline.io/internal/stream"
	"brewline.io/migrations"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if err := obs.SetLevel(cfg.LogLevel); err != nil {
		log.WithError(err).Fatal("set log level")
	}
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := map[string]httpapi.Pinger{}

	var repo rbac.Repository
	if cfg.PGDSN != "" {
		store, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.WithError(err).Fatal("open postgres")
		}
		defer store.Close()
		if cfg.AutoMigrate {
			applied, err := migrate.NewManager(store.DB(), migrations.FS).Up(ctx)
			if err != nil {
				log.WithError(err).Fatal("apply migrations")
			}
			log.WithField("applied", applied).Info("migrations up to date")
		}
		repo = store
		deps["postgres"] = store
	} else {
		log.Warn("BREWLINE_PG_DSN not set, using in-memory store")
		repo = memory.New()
	}

	var coreOpts []rbac.Option
	if cfg.RedisURL != "" && !cfg.CacheEnabled() {
		log.Warn("BREWLINE_REDIS_URL set but BREWLINE_CACHE_TTL is 0, decision cache disabled")
	}
	dc, redisClient, err := cache.Open(ctx, cfg.RedisURL, cfg.CacheSize, cfg.CacheTTL)
	if err != nil {
		log.WithError(err).Fatal("open decision cache")
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	if dc != nil {
		coreOpts = append(coreOpts, rbac.WithDecisionCache(dc))
	}
	if rc, ok := dc.(*cache.Redis); ok {
		deps["redis"] = rc
	}

	core, err := rbac.NewCore(repo, coreOpts...)
	if err != nil {
		log.WithError(err).Fatal("build rbac core")
	}

	var signer *auth.Signer
	if cfg.AuthEnabled() {
		signer, err = auth.NewSigner(cfg.AuthSecret, cfg.AuthIssuer)
		if err != nil {
			log.WithError(err).Fatal("build token signer")
		}
	} else {
		log.Warn("BREWLINE_AUTH_SECRET not set, authentication disabled")
	}

	ready := httpapi.ReadyProbe{Deps: deps}
	api := httpapi.New(core, httpapi.Options{
		Version:       version,
		Signer:        signer,
		Stream:        stream.New(64),
		Ready:         ready,
		RateBurst:     cfg.RateBurst,
		RatePerSecond: cfg.RatePerSecond,
		MaxBodyBytes:  cfg.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "version": version}).Info("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http listen")
		}
	}()

	var gs *grpc.Server
	if cfg.GRPCAddr != "" {
		authz := httpapi.NewGRPCServer(core, signer, ready)
		gs = grpc.NewServer(authz.ServerOptions()...)
		authz.Register(gs)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.WithError(err).Fatal("grpc listen")
		}
		go authz.WatchHealth(ctx, 10*time.Second)
		go func() {
			log.WithField("addr", cfg.GRPCAddr).Info("grpc listening")
			if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.WithError(err).Error("grpc serve")
			}
		}()
		defer authz.Shutdown()
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if gs != nil {
		stopped := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			gs.Stop()
		}
	}
	log.Info("stopped")
}
