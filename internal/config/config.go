// Package config holds the service configuration: a YAML file layered over
// Defaults, then TRIAGE_* environment variables over the file.
package config

import (
	"os"
	"time"
)

const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Database      DatabaseConfig      `yaml:"database"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// HandlerTimeout bounds the context of API handlers; zero disables it.
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig controls bearer token verification. With Enabled false,
// requests act as AnonymousActor.
type IdentityConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Issuer       string        `yaml:"issuer"`
	Audience     string        `yaml:"audience"`
	JWKSURL      string        `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration `yaml:"jwks_cache_ttl"`
	Algorithms   []string      `yaml:"algorithms"`
	// ClaimPaths maps subject_id, email and roles to dot paths in the token.
	ClaimPaths     map[string]string `yaml:"claim_paths"`
	AnonymousActor string            `yaml:"anonymous_actor"`
}

type DefinitionsConfig struct {
	Directories    []string      `yaml:"directories"`
	HotReload      bool          `yaml:"hot_reload"`
	ReloadDebounce time.Duration `yaml:"reload_debounce"`
	// PublishCanonical seeds the built-in bug_assessment definition when
	// no file provides it.
	PublishCanonical bool `yaml:"publish_canonical"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ResolveDSN prefers the literal DSN and falls back to the DSNEnv variable.
func (d DatabaseConfig) ResolveDSN() string {
	return valueOrEnv(d.DSN, d.DSNEnv)
}

type WorkflowConfig struct {
	TimeoutsEnabled      bool          `yaml:"timeouts_enabled"`
	TimeoutCheckInterval time.Duration `yaml:"timeout_check_interval"`
	MaxAutoSteps         int           `yaml:"max_auto_steps"`
	SystemActor          string        `yaml:"system_actor"`
}

type IdempotencyConfig struct {
	Enabled bool                   `yaml:"enabled"`
	Store   IdempotencyStoreConfig `yaml:"store"`
}

type IdempotencyStoreConfig struct {
	Driver     string        `yaml:"driver"`
	Addr       string        `yaml:"addr"`
	AddrEnv    string        `yaml:"addr_env"`
	DB         int           `yaml:"db"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// ResolveAddr prefers the literal Addr and falls back to the AddrEnv variable.
func (s IdempotencyStoreConfig) ResolveAddr() string {
	return valueOrEnv(s.Addr, s.AddrEnv)
}

func valueOrEnv(value, envName string) string {
	if value == "" && envName != "" {
		return os.Getenv(envName)
	}
	return value
}

type ObservabilityConfig struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
	Tracing   TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is "otlp" (the default) or "stdout".
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	// ForceSampleErrors keeps spans that end in error even when the ratio
	// sampler dropped them.
	ForceSampleErrors bool `yaml:"force_sample_errors"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults is the configuration before any file or environment is applied.
// Identity and Postgres are on, so a bare deployment must configure both or
// switch them off explicitly.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id", "Idempotency-Key"},
				MaxAge:         int((24 * time.Hour).Seconds()),
			},
		},
		Identity: IdentityConfig{
			Enabled:        true,
			JWKSCacheTTL:   time.Hour,
			Algorithms:     []string{"RS256"},
			ClaimPaths:     map[string]string{"subject_id": "sub", "email": "email", "roles": "roles"},
			AnonymousActor: "anonymous",
		},
		Definitions: DefinitionsConfig{
			Directories:      []string{"/definitions"},
			ReloadDebounce:   500 * time.Millisecond,
			PublishCanonical: true,
		},
		Database: DatabaseConfig{
			Driver:          DriverPostgres,
			DSNEnv:          "TRIAGE_DATABASE_DSN",
			MaxConns:        25,
			MinConns:        2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Workflow: WorkflowConfig{
			TimeoutsEnabled:      true,
			TimeoutCheckInterval: time.Minute,
			MaxAutoSteps:         10,
			SystemActor:          "system",
		},
		Idempotency: IdempotencyConfig{
			Enabled: true,
			Store: IdempotencyStoreConfig{
				Driver:     DriverRedis,
				AddrEnv:    "TRIAGE_REDIS_ADDR",
				DefaultTTL: 24 * time.Hour,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Tracing:   TracingConfig{Exporter: "otlp", SamplingRate: 0.1},
			Metrics:   MetricsConfig{Enabled: true, Path: "/metrics"},
		},
	}
}
