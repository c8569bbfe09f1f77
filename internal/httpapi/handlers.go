// Package httpapi exposes the RBAC core over REST and gRPC.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"brewline.io/internal/audit"
	"brewline.io/internal/auth"
	"brewline.io/internal/obs"
	"brewline.io/internal/rbac"
	"brewline.io/internal/stream"
)

const serviceName = "brewline-rbac"

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe pings every named dependency.
type ReadyProbe struct {
	Deps map[string]Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	names := make([]string, 0, len(rp.Deps))
	for name := range rp.Deps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := rp.Deps[name].Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Options configures the HTTP layer. A nil Signer disables authentication;
// a nil Stream disables the change feed.
type Options struct {
	Version       string
	Signer        *auth.Signer
	Stream        *stream.Stream
	Ready         readinessChecker
	RateBurst     int
	RatePerSecond float64
	MaxBodyBytes  int64
}

// API is the HTTP layer.
type API struct {
	core     *rbac.Core
	router   *mux.Router
	signer   *auth.Signer
	stream   *stream.Stream
	ready    readinessChecker
	version  string
	validate *validator.Validate

	rateBurst    int
	ratePerSec   float64
	maxBodyBytes int64
}

func New(core *rbac.Core, opts Options) *API {
	a := &API{
		core:         core,
		router:       mux.NewRouter(),
		signer:       opts.Signer,
		stream:       opts.Stream,
		ready:        opts.Ready,
		version:      opts.Version,
		validate:     validator.New(),
		rateBurst:    opts.RateBurst,
		ratePerSec:   opts.RatePerSecond,
		maxBodyBytes: opts.MaxBodyBytes,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.Use(obs.Instrument, a.withAuth)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.HandleFunc("/v1/info", a.Info).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/permissions", a.createPermission).Methods(http.MethodPost)
	v1.HandleFunc("/permissions", a.listPermissions).Methods(http.MethodGet)
	v1.HandleFunc("/permissions/{id}", a.getPermission).Methods(http.MethodGet)
	v1.HandleFunc("/permissions/{id}", a.updatePermission).Methods(http.MethodPatch)
	v1.HandleFunc("/permissions/{id}", a.deletePermission).Methods(http.MethodDelete)

	v1.HandleFunc("/roles", a.createRole).Methods(http.MethodPost)
	v1.HandleFunc("/roles", a.listRoles).Methods(http.MethodGet)
	v1.HandleFunc("/roles/{id}", a.getRole).Methods(http.MethodGet)
	v1.HandleFunc("/roles/{id}", a.updateRole).Methods(http.MethodPatch)
	v1.HandleFunc("/roles/{id}", a.deleteRole).Methods(http.MethodDelete)

	v1.HandleFunc("/assignments", a.assignRole).Methods(http.MethodPost)
	v1.HandleFunc("/assignments", a.listAssignments).Methods(http.MethodGet)
	v1.HandleFunc("/assignments/{id}", a.getAssignment).Methods(http.MethodGet)
	v1.HandleFunc("/assignments/{id}/revoke", a.revokeAssignment).Methods(http.MethodPost)

	v1.HandleFunc("/check", a.check).Methods(http.MethodPost)
	v1.HandleFunc("/organizations/{org}/users/{user}/permissions", a.userPermissions).Methods(http.MethodGet)
	v1.HandleFunc("/organizations/{org}/roles/by-code/{code}", a.getRoleByCode).Methods(http.MethodGet)
	v1.HandleFunc("/organizations/{org}/provision", a.provision).Methods(http.MethodPost)
	v1.HandleFunc("/organizations/{org}/events", a.Stream).Methods(http.MethodGet)
}

// Handler returns the router wrapped in the outer middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, a.maxBodyBytes)
	if a.rateBurst > 0 && a.ratePerSec > 0 {
		h = RateLimit(h, a.rateBurst, a.ratePerSec)
	}
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = Recovery(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      serviceName,
		"time":      time.Now().UTC().Format(time.RFC3339),
		"version":   a.version,
		"auth":      a.signer != nil,
		"resources": rbac.Resources(),
		"actions":   rbac.Actions(),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorDetails(w, r, code, msg, nil)
}

func writeErrorDetails(w http.ResponseWriter, r *http.Request, code int, msg string, details map[string]string) {
	payload := map[string]any{"error": msg}
	if len(details) > 0 {
		payload["details"] = details
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// decode reads a single JSON object into dst and validates its struct tags.
// It writes the 400 response itself and reports whether the caller may go on.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			writeError(w, r, http.StatusBadRequest, "invalid input")
			return false
		}
		details := make(map[string]string, len(ve))
		for _, fe := range ve {
			details[fe.Field()] = fe.Tag()
		}
		writeErrorDetails(w, r, http.StatusBadRequest, "validation failed", details)
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleRBACError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rbac.ErrBadRequest):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, rbac.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, rbac.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		obs.Logger().WithError(err).WithField("request_id", RequestIDFromContext(r.Context())).Error("rbac operation failed")
		writeError(w, r, http.StatusInternalServerError, "rbac operation failed")
	}
}

// audit records a committed write in the audit log and on the change feed.
func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		obs.Logger().WithError(err).WithField("event", event).Warn("audit log failed")
	}
	if a.stream == nil {
		return
	}
	org, _ := fields["organization_id"].(string)
	a.stream.Publish(stream.ChangeEvent{
		Event:          event,
		OrganizationID: org,
		Actor:          actor(ctx, ""),
		Fields:         fields,
	})
}

// actor is the authenticated principal's user id. The body value is only
// used when no principal is attached, i.e. when auth is off.
func actor(ctx context.Context, fallback string) string {
	if id, ok := auth.UserIDFromContext(ctx); ok && id != "" {
		return id
	}
	return strings.TrimSpace(fallback)
}
