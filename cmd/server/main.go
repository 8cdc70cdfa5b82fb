package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/georgeshao/api-relay/internal/api"
	"github.com/georgeshao/api-relay/internal/collection"
	"github.com/georgeshao/api-relay/internal/config"
	"github.com/georgeshao/api-relay/internal/history"
	"github.com/georgeshao/api-relay/internal/identity"
	"github.com/georgeshao/api-relay/internal/proxyprotocol"
	"github.com/georgeshao/api-relay/internal/relay"
	"github.com/georgeshao/api-relay/internal/storage"
	"github.com/georgeshao/api-relay/internal/storage/memory"
	"github.com/georgeshao/api-relay/internal/storage/pebbledb"
	"github.com/georgeshao/api-relay/internal/storage/redisstore"
	"github.com/georgeshao/api-relay/internal/storage/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("failed to load config")
	}

	logger := newLogger(cfg.Log)

	store, err := openStore(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to initialize storage")
	}

	var verifier identity.Verifier
	if cfg.Auth.JWTSecret != "" {
		v, err := identity.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize token verifier")
		}
		verifier = v
	} else {
		logger.Warn().Msg("no JWT secret configured, all callers are anonymous")
	}

	h := api.NewHandler(
		identity.NewResolver(verifier, logger),
		relay.NewClient(relay.Config{
			Timeout:           cfg.Relay.Timeout,
			RequestsPerSecond: cfg.Relay.RequestsPerSecond,
			MaxResponseBytes:  cfg.Relay.MaxResponseBytes,
		}, logger),
		history.NewRecorder(store, logger),
		collection.NewManager(store, logger),
		api.Options{RequireAuthForReads: cfg.Auth.RequireAuthForReads},
		logger,
	)

	app := api.NewApp(api.AppConfig{
		ReadTimeout:        cfg.Server.ReadTimeout,
		WriteTimeout:       cfg.Server.WriteTimeout,
		IdleTimeout:        cfg.Server.IdleTimeout,
		BodyLimit:          cfg.Server.BodyLimit,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		RateLimitMax:       cfg.Server.RateLimitMax,
		RateLimitWindow:    cfg.Server.RateLimitWindow,
	}, h, logger)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info().Msg("shutting down server")
		if err := app.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("error during shutdown")
		}
	}()

	addr := cfg.Server.Addr()
	logger.Info().
		Str("addr", addr).
		Str("env", cfg.Primary.Env).
		Str("storage", cfg.Storage.Driver).
		Str("body_limit", humanize.IBytes(uint64(cfg.Server.BodyLimit))).
		Bool("proxy_protocol", cfg.Server.ProxyProtocol).
		Msg("starting API relay")

	err = listen(app, addr, cfg.Server.ProxyProtocol)
	if closeErr := store.Close(); closeErr != nil {
		err = multierr.Append(err, fmt.Errorf("close store: %w", closeErr))
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("server stopped with error")
	}
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func listen(app *fiber.App, addr string, proxyProtocol bool) error {
	if !proxyProtocol {
		return app.Listen(addr)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return app.Listener(proxyprotocol.NewListener(ln))
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.New(cfg.Path)
	case "pebble":
		return pebbledb.New(cfg.Path, cfg.PebbleBatch)
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return redisstore.New(ctx, redisstore.Config{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		})
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
