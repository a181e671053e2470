// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

// Package store owns the PostgreSQL connection pool and schema migrations
// for the auth repositories.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Connection defaults.
const (
	DefaultConnectAttempts = 5
	DefaultConnectBackoff  = 500 * time.Millisecond
	maxConnectBackoff      = 10 * time.Second
)

// ConnectConfig tunes Connect.
type ConnectConfig struct {
	// MaxConns caps the pool. Zero keeps the pgxpool default.
	MaxConns int32
	// Attempts is the number of ping attempts before giving up.
	Attempts uint64
	// Backoff is the first retry delay; it doubles up to ten seconds.
	Backoff time.Duration
}

// Connect opens a pool for dsn and waits until the database answers a ping,
// retrying with exponential backoff while it starts up.
func Connect(ctx context.Context, dsn string, cfg ConnectConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("STORE_DSN_INVALID").With("operation", "parse database url").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = DefaultConnectAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultConnectBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}

	backoff := retry.WithMaxRetries(cfg.Attempts-1,
		retry.WithCappedDuration(maxConnectBackoff, retry.NewExponential(cfg.Backoff)))

	var pool *pgxpool.Pool
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return oops.Code("STORE_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			logger.WarnContext(ctx, "database not ready",
				"attempt", attempt,
				"host", poolCfg.ConnConfig.Host,
				"error", err)
			return retry.RetryableError(oops.Code("STORE_CONNECT_FAILED").
				With("operation", "ping database").
				With("attempts", attempt).
				Wrap(err))
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "database connected",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"max_conns", poolCfg.MaxConns)
	return pool, nil
}
