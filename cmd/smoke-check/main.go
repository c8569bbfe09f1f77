// Command smoke-check probes a running server over gRPC: the health service
// must report SERVING and a check for BREWLINE_SMOKE_USER must succeed.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"brewline.io/internal/rbac"
	"brewline.io/internal/remote"
)

func main() {
	log.SetFlags(0)
	addr := os.Getenv("BREWLINE_GRPC_TARGET")
	if addr == "" {
		addr = "localhost:9090"
	}
	org := envOr("BREWLINE_SMOKE_ORG", "smoke-org")
	user := envOr("BREWLINE_SMOKE_USER", "smoke-user")

	var opts []remote.Option
	if tok := os.Getenv("BREWLINE_TOKEN"); tok != "" {
		opts = append(opts, remote.WithToken(tok))
	}
	client, err := remote.Dial(addr, opts)
	if err != nil {
		log.Fatalf("dial %s: %v", addr, err)
	}
	defer client.Close()

	ctx, cancel := remote.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serving, err := client.Serving(ctx)
	if err != nil {
		log.Fatalf("health: %v", err)
	}
	if !serving {
		log.Fatal("authorizer is not serving")
	}

	res, err := client.Check(ctx, user, org, rbac.ResourceOrders, rbac.ActionRead)
	if err != nil {
		log.Fatalf("check: %v", err)
	}
	perms, err := client.UserPermissions(ctx, user, org)
	if err != nil {
		log.Fatalf("user permissions: %v", err)
	}
	fmt.Printf("smoke check passed: %s ORDERS:READ allowed=%t reason=%q permissions=%d\n",
		user, res.Allowed, res.Reason, len(perms))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
