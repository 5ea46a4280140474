// Command tokengen mints bearer tokens for services and operators calling loginguard.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/clock"
	"github.com/BradenHooton/loginguard/internal/models"
)

func main() {
	userID := flag.String("user", "", "subject of the token (service name or operator id)")
	role := flag.String("role", models.RoleService, "role claim: service or admin")
	ttl := flag.Duration("ttl", 0, "token lifetime; zero uses TOKEN_EXPIRY or 1h")
	flag.Parse()

	_ = godotenv.Load()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is required")
		os.Exit(1)
	}
	issuer := os.Getenv("JWT_ISSUER")
	if issuer == "" {
		issuer = "loginguard"
	}
	expiry := time.Hour
	if v := os.Getenv("TOKEN_EXPIRY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid TOKEN_EXPIRY: %v\n", err)
			os.Exit(1)
		}
		expiry = d
	}

	tm := auth.NewTokenManager(secret, issuer, expiry, clock.Real{})
	token, err := tm.GenerateToken(*userID, *role, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
