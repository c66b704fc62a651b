package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/bugtriage/internal/config"
	"github.com/pitabwire/bugtriage/internal/definition"
	"github.com/pitabwire/bugtriage/internal/execution"
	"github.com/pitabwire/bugtriage/internal/observability"
	"github.com/pitabwire/bugtriage/internal/workflow"
)

// setup loads configuration and builds the process logger.
func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger, nil
}

// openPool connects to PostgreSQL using the database settings.
func openPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	dsn := cfg.ResolveDSN()
	if dsn == "" {
		return nil, errors.New("database: no DSN configured")
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("database: parse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("database: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}
	return pool, nil
}

// stores bundles the persistence layer chosen by database.driver.
type stores struct {
	definitions definition.Store
	executions  execution.Store
	pool        *pgxpool.Pool
	health      observability.HealthChecker
}

func (s *stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func openStores(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*stores, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory stores; executions are lost on restart")
		return &stores{
			definitions: definition.NewMemoryStore(),
			executions:  execution.NewMemoryStore(),
		}, nil
	case config.DriverPostgres:
		pool, err := openPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		execs := execution.NewPgStore(pool)
		return &stores{
			definitions: definition.NewPgStore(pool),
			executions:  execs,
			pool:        pool,
			health:      execs,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
}

// openIdempotencyStore returns nil when idempotency is disabled. The
// closer is never nil.
func openIdempotencyStore(ctx context.Context, cfg config.IdempotencyConfig, logger *zap.Logger) (workflow.IdempotencyStore, observability.HealthChecker, func(), error) {
	noop := func() {}
	if !cfg.Enabled {
		return nil, nil, noop, nil
	}

	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.Info("using in-memory idempotency store")
		return workflow.NewMemoryIdempotencyStore(), nil, noop, nil
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr: cfg.Store.ResolveAddr(),
			DB:   cfg.Store.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, noop, fmt.Errorf("idempotency store: ping: %w", err)
		}
		store := workflow.NewRedisIdempotencyStore(client)
		return store, store, func() { client.Close() }, nil
	default:
		return nil, nil, noop, fmt.Errorf("unsupported idempotency store driver: %q", cfg.Store.Driver)
	}
}
