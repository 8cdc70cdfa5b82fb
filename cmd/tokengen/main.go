// Command tokengen prints a signed bearer token for local testing of the relay.
//
//	RELAY_AUTH__JWT_SECRET=dev tokengen -sub user-a -email a@example.test
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/georgeshao/api-relay/internal/config"
	"github.com/georgeshao/api-relay/internal/identity"
)

func main() {
	subject := flag.String("sub", "", "subject id (required)")
	email := flag.String("email", "", "email claim")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if *subject == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	v, err := identity.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		logger.Fatal().Err(err).Msg("set RELAY_AUTH__JWT_SECRET to sign tokens")
	}

	token, err := v.Issue(*subject, *email, *ttl)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to sign token")
	}
	fmt.Println(token)
}
