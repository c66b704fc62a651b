package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load builds the configuration from path and the environment, then
// validates it.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

type envSetter func(cfg *Config, value string) error

func setString(field func(*Config) *string) envSetter {
	return func(cfg *Config, v string) error {
		*field(cfg) = v
		return nil
	}
}

// envOverrides are the variables recognised by Load. Anything else is set
// in the file.
var envOverrides = map[string]envSetter{
	"TRIAGE_SERVER_PORT": func(cfg *Config, v string) error {
		port, err := strconv.Atoi(v)
		cfg.Server.Port = port
		return err
	},
	"TRIAGE_IDENTITY_ENABLED": func(cfg *Config, v string) error {
		on, err := strconv.ParseBool(v)
		cfg.Identity.Enabled = on
		return err
	},
	"TRIAGE_IDEMPOTENCY_ENABLED": func(cfg *Config, v string) error {
		on, err := strconv.ParseBool(v)
		cfg.Idempotency.Enabled = on
		return err
	},
	"TRIAGE_DEFINITIONS_DIRS": func(cfg *Config, v string) error {
		cfg.Definitions.Directories = strings.Split(v, string(os.PathListSeparator))
		return nil
	},
	"TRIAGE_IDENTITY_ISSUER":          setString(func(c *Config) *string { return &c.Identity.Issuer }),
	"TRIAGE_IDENTITY_JWKS_URL":        setString(func(c *Config) *string { return &c.Identity.JWKSURL }),
	"TRIAGE_IDENTITY_AUDIENCE":        setString(func(c *Config) *string { return &c.Identity.Audience }),
	"TRIAGE_DATABASE_DRIVER":          setString(func(c *Config) *string { return &c.Database.Driver }),
	"TRIAGE_IDEMPOTENCY_DRIVER":       setString(func(c *Config) *string { return &c.Idempotency.Store.Driver }),
	"TRIAGE_OBSERVABILITY_LOG_LEVEL":  setString(func(c *Config) *string { return &c.Observability.LogLevel }),
	"TRIAGE_OBSERVABILITY_LOG_FORMAT": setString(func(c *Config) *string { return &c.Observability.LogFormat }),
}

// applyEnv applies every set, non-empty override. A value that does not
// parse is reported rather than ignored.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	for name, set := range envOverrides {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		if err := set(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", name, v, err))
		}
	}
	return errors.Join(errs...)
}

// Validate reports every problem at once, joined with "; ".
func (c *Config) Validate() error {
	var p problems

	p.check(c.Server.Port >= 1 && c.Server.Port <= 65535, "server.port must be between 1 and 65535")

	if id := c.Identity; id.Enabled {
		p.check(id.Issuer != "", "identity.issuer is required")
		p.check(id.JWKSURL != "", "identity.jwks_url is required")
		p.check(id.Audience != "", "identity.audience is required")
	}

	switch c.Database.Driver {
	case DriverPostgres:
		p.check(c.Database.ResolveDSN() != "", "database.dsn (or the variable named by database.dsn_env) is required for postgres")
	case DriverMemory:
	default:
		p.addf("database.driver %q must be postgres or memory", c.Database.Driver)
	}

	if store := c.Idempotency.Store; c.Idempotency.Enabled {
		switch store.Driver {
		case DriverRedis:
			p.check(store.ResolveAddr() != "", "idempotency.store.addr (or the variable named by addr_env) is required for redis")
		case DriverMemory:
		default:
			p.addf("idempotency.store.driver %q must be redis or memory", store.Driver)
		}
		p.check(store.DefaultTTL > 0, "idempotency.store.default_ttl must be positive")
	}

	p.check(!c.Workflow.TimeoutsEnabled || c.Workflow.TimeoutCheckInterval > 0, "workflow.timeout_check_interval must be positive")
	p.check(c.Workflow.MaxAutoSteps >= 1, "workflow.max_auto_steps must be at least 1")

	switch strings.ToLower(c.Observability.LogFormat) {
	case "", "json", "console":
	default:
		p.addf("observability.log_format %q must be json or console", c.Observability.LogFormat)
	}
	if tr := c.Observability.Tracing; tr.Enabled {
		switch strings.ToLower(tr.Exporter) {
		case "", "otlp", "stdout":
		default:
			p.addf("observability.tracing.exporter %q must be otlp or stdout", tr.Exporter)
		}
	}

	return p.err()
}

type problems []string

func (p *problems) check(ok bool, msg string) {
	if !ok {
		*p = append(*p, msg)
	}
}

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return errors.New(strings.Join(p, "; "))
}
