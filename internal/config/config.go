package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every configuration variable. Nested keys are separated
// by a double underscore: RELAY_SERVER__PORT sets server.port.
const EnvPrefix = "RELAY_"

type Config struct {
	Primary Primary       `koanf:"primary" validate:"required"`
	Server  ServerConfig  `koanf:"server" validate:"required"`
	Storage StorageConfig `koanf:"storage" validate:"required"`
	Auth    AuthConfig    `koanf:"auth"`
	Relay   RelayConfig   `koanf:"relay"`
	Log     LogConfig     `koanf:"log" validate:"required"`
}

type Primary struct {
	Env string `koanf:"env" validate:"required,oneof=development production test"`
}

type ServerConfig struct {
	Port               string        `koanf:"port" validate:"required"`
	ReadTimeout        time.Duration `koanf:"read_timeout" validate:"gte=0"`
	WriteTimeout       time.Duration `koanf:"write_timeout" validate:"gte=0"`
	IdleTimeout        time.Duration `koanf:"idle_timeout" validate:"gte=0"`
	BodyLimit          int           `koanf:"body_limit" validate:"gt=0"`
	CORSAllowedOrigins string        `koanf:"cors_allowed_origins" validate:"required"`
	// RateLimitMax is the number of inbound requests allowed per client IP
	// per RateLimitWindow. Zero disables the limiter.
	RateLimitMax    int           `koanf:"rate_limit_max" validate:"gte=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gte=0"`
	// ProxyProtocol accepts PROXY protocol headers from a load balancer in
	// front of the server.
	ProxyProtocol bool `koanf:"proxy_protocol"`
}

type StorageConfig struct {
	Driver string `koanf:"driver" validate:"required,oneof=sqlite pebble redis memory"`
	Path   string `koanf:"path" validate:"required_if=Driver sqlite,required_if=Driver pebble"`
	// PebbleBatch groups concurrent Pebble writes into shared commits.
	PebbleBatch bool `koanf:"pebble_batch"`

	RedisAddr      string `koanf:"redis_addr" validate:"required_if=Driver redis"`
	RedisPassword  string `koanf:"redis_password"`
	RedisDB        int    `koanf:"redis_db" validate:"gte=0"`
	RedisKeyPrefix string `koanf:"redis_key_prefix"`
}

type AuthConfig struct {
	// JWTSecret verifies bearer tokens. When empty every caller is anonymous.
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
	Audience  string `koanf:"audience"`
	// RequireAuthForReads makes anonymous GET /history and GET /collections
	// return 401 instead of an empty list.
	RequireAuthForReads bool `koanf:"require_auth_for_reads"`
}

type RelayConfig struct {
	Timeout           time.Duration `koanf:"timeout" validate:"gte=0"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gte=0"`
	MaxResponseBytes  int64         `koanf:"max_response_bytes" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"required,oneof=trace debug info warn error"`
	Pretty bool   `koanf:"pretty"`
}

func Default() *Config {
	return &Config{
		Primary: Primary{Env: "development"},
		Server: ServerConfig{
			Port:               "8080",
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       30 * time.Second,
			IdleTimeout:        120 * time.Second,
			BodyLimit:          10 * 1024 * 1024, // 10MB
			CORSAllowedOrigins: "*",
			RateLimitMax:       0,
			RateLimitWindow:    time.Minute,
		},
		Storage: StorageConfig{
			Driver:         "sqlite",
			Path:           "./data/api_relay.db",
			RedisAddr:      "localhost:6379",
			RedisKeyPrefix: "relay:",
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// Load reads an optional .env file, then RELAY_* environment variables over
// the defaults, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("could not load .env file: %w", err)
	}

	k := koanf.New(".")
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("could not load env variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Addr returns the listen address for the configured port.
func (s ServerConfig) Addr() string {
	if strings.HasPrefix(s.Port, ":") {
		return s.Port
	}
	return ":" + s.Port
}
