// Command tokengen mints a bearer token signed with BREWLINE_AUTH_SECRET.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"brewline.io/internal/auth"
	"brewline.io/internal/config"
)

func main() {
	log.SetFlags(0)
	var (
		user  = flag.String("user", "", "Subject user id")
		roles = flag.String("roles", "", "Comma separated platform roles, e.g. platform_admin")
		ttl   = flag.Duration("ttl", time.Hour, "Token lifetime")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if !cfg.AuthEnabled() {
		log.Fatal("BREWLINE_AUTH_SECRET is not set")
	}
	signer, err := auth.NewSigner(cfg.AuthSecret, cfg.AuthIssuer)
	if err != nil {
		log.Fatalf("signer: %v", err)
	}

	var list []string
	for _, r := range strings.Split(*roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			list = append(list, r)
		}
	}
	token, exp, err := signer.GenerateToken(*user, list, *ttl)
	if err != nil {
		log.Fatalf("generate: %v", err)
	}
	fmt.Println(token)
	log.Printf("expires %s", exp.Format(time.RFC3339))
}
