// Command synctoken mints operator bearer tokens for the sync API using the
// server's auth.jwt_secret.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/meschain/syncengine/internal/infrastructure/auth"
	"github.com/meschain/syncengine/internal/infrastructure/config"
)

func main() {
	var (
		subject string
		ttl     time.Duration
		scopes  string
	)
	flag.StringVar(&subject, "subject", "", "Operator identity recorded in the token (required)")
	flag.DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	flag.StringVar(&scopes, "scopes", "", "Comma separated scopes: sync:read, sync:trigger, sync:map (default: all)")
	flag.Parse()

	_ = godotenv.Load()

	if subject == "" {
		fmt.Fprintln(os.Stderr, "synctoken: -subject is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "synctoken: %v\n", err)
		os.Exit(1)
	}

	var granted []string
	for _, s := range strings.Split(scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			granted = append(granted, s)
		}
	}

	token, err := auth.NewJWTService(cfg.Auth).Issue(subject, ttl, granted...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "synctoken: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
