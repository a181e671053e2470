// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/mrcsystems/mrcauth/internal/auth"
	"github.com/mrcsystems/mrcauth/internal/auth/memory"
	"github.com/mrcsystems/mrcauth/internal/auth/postgres"
	"github.com/mrcsystems/mrcauth/internal/config"
	"github.com/mrcsystems/mrcauth/internal/observability"
	"github.com/mrcsystems/mrcauth/internal/ratelimit"
	"github.com/mrcsystems/mrcauth/internal/revocation"
	"github.com/mrcsystems/mrcauth/internal/store"
)

const (
	readinessTimeout   = 2 * time.Second
	denylistSweepEvery = time.Minute
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// ConnectDatabase opens the PostgreSQL pool.
	// Default: store.Connect
	ConnectDatabase func(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*pgxpool.Pool, error)

	// MigrateUp applies pending migrations.
	// Default: store.MigrateUp
	MigrateUp func(databaseURL string) error

	// NewRedisClient opens the shared rate-limit and revocation store.
	// Default: redis.ParseURL + redis.NewClient
	NewRedisClient func(url string) (redis.UniversalClient, error)

	// OnReady is called once both listeners are bound.
	OnReady func(apiAddr, metricsAddr string)
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.ConnectDatabase == nil {
		out.ConnectDatabase = connectDatabase
	}
	if out.MigrateUp == nil {
		out.MigrateUp = store.MigrateUp
	}
	if out.NewRedisClient == nil {
		out.NewRedisClient = newRedisClient
	}
	return &out
}

func connectDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	return store.Connect(ctx, cfg.URL, store.ConnectConfig{ //nolint:wrapcheck // already coded
		MaxConns: cfg.MaxConns,
		Attempts: cfg.ConnectAttempts,
		Backoff:  cfg.ConnectBackoff,
	}, logger)
}

func newRedisClient(url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("REDIS_URL_INVALID").Wrap(err)
	}
	return redis.NewClient(opts), nil
}

// backends are the storage collaborators of the service.
type backends struct {
	accounts     auth.AccountRepository
	resets       auth.ResetRepository
	limiterStore ratelimit.Store
	denylist     auth.Denylist

	// sweep prunes an in-process denylist; nil when redis holds it.
	sweep   func()
	checks  []func(ctx context.Context) error
	closers []func()
}

// ready runs every readiness check.
func (b *backends) ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()
	for _, check := range b.checks {
		if err := check(ctx); err != nil {
			return false
		}
	}
	return true
}

// close releases resources in reverse order of acquisition.
func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// buildBackends opens storage for cfg. On error everything opened so far
// is closed.
func buildBackends(ctx context.Context, cfg config.Config, deps *ServeDeps, metrics *observability.AuthMetrics, reg prometheus.Registerer, logger *slog.Logger) (*backends, error) {
	b := &backends{}
	built := false
	defer func() {
		if !built {
			b.close()
		}
	}()

	switch cfg.Storage {
	case config.StorageMemory:
		logger.Warn("using in-memory account storage; accounts are lost on restart")
		b.accounts = memory.NewAccountRepository()
		b.resets = memory.NewResetRepository()
	default:
		if cfg.Database.AutoMigrate {
			if err := deps.MigrateUp(cfg.Database.URL); err != nil {
				return nil, oops.Code("MIGRATION_FAILED").With("operation", "auto-migrate").Wrap(err)
			}
			logger.Info("database migrations applied")
		}
		pool, err := deps.ConnectDatabase(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		b.checks = append(b.checks, pool.Ping)
		b.accounts = postgres.NewAccountRepository(pool)
		b.resets = postgres.NewResetRepository(pool)
	}

	if cfg.Redis.URL != "" {
		client, err := deps.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() {
			if err := client.Close(); err != nil {
				logger.Debug("error closing redis client", "error", err)
			}
		})
		b.checks = append(b.checks, func(ctx context.Context) error {
			return client.Ping(ctx).Err() //nolint:wrapcheck // readiness only
		})
		b.limiterStore = ratelimit.NewRedisStore(client, cfg.Redis.Prefix+"ratelimit:")
		b.denylist = revocation.NewRedisDenylist(client, cfg.Redis.Prefix)
		logger.Info("using redis for rate limits and token revocation")
		built = true
		return b, nil
	}

	memStore := ratelimit.NewMemoryStore(ratelimit.MemoryStoreConfig{Registerer: reg})
	b.closers = append(b.closers, memStore.Close)
	b.limiterStore = memStore

	denylist := revocation.NewMemoryDenylist(nil)
	b.denylist = denylist
	b.sweep = denylist.Sweep
	metrics.TrackGauge("mrcauth_revoked_tokens_tracked", "Revoked token IDs held in memory",
		func() float64 { return float64(denylist.Len()) })
	built = true
	return b, nil
}
