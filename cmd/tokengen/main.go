// Command tokengen issues a bearer token for the session API.
//
//	go run ./cmd/tokengen -subject shop-01
package main

import (
	"flag"
	"fmt"
	"os"

	"cpay-gateway/config"
	"cpay-gateway/internal/service"
)

func main() {
	subject := flag.String("subject", "", "API client the token identifies")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "auth.jwt_secret is not set")
		os.Exit(1)
	}

	token, expiresAt, err := service.NewJWTTokenService(cfg.Auth.JWTSecret, cfg.Auth.Expiry, cfg.Auth.Issuer).Generate(*subject)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate token: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s\n# expires %s\n", token, expiresAt.UTC().Format("2006-01-02T15:04:05Z"))
}
