// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

// Package postgres provides PostgreSQL implementations of auth repositories.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/mrcsystems/mrcauth/internal/auth"
)

// ResetRepository implements auth.ResetRepository using PostgreSQL.
type ResetRepository struct {
	pool Pool
}

// NewResetRepository creates a new ResetRepository.
func NewResetRepository(pool Pool) *ResetRepository {
	return &ResetRepository{pool: pool}
}

// Create supersedes the account's outstanding requests and stores reset in
// one transaction.
func (r *ResetRepository) Create(ctx context.Context, reset *auth.PasswordReset) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "begin transaction").
			With("account_id", reset.AccountID.String()).
			Wrap(err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE password_resets
		SET consumed_at = $2
		WHERE account_id = $1 AND consumed_at IS NULL
	`, reset.AccountID.String(), reset.CreatedAt)
	if err != nil {
		_ = tx.Rollback(ctx)
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "supersede outstanding resets").
			With("account_id", reset.AccountID.String()).
			Wrap(err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO password_resets (id, account_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, reset.ID.String(), reset.AccountID.String(), reset.TokenHash, reset.ExpiresAt, reset.CreatedAt)
	if err != nil {
		_ = tx.Rollback(ctx)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("RESET_DUPLICATE").
				With("account_id", reset.AccountID.String()).
				Wrap(auth.ErrDuplicate)
		}
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "insert password_reset").
			With("account_id", reset.AccountID.String()).
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "commit").
			With("account_id", reset.AccountID.String()).
			Wrap(err)
	}
	return nil
}

// Consume marks the matching request consumed in a single conditional
// UPDATE, so at most one concurrent caller wins.
func (r *ResetRepository) Consume(ctx context.Context, tokenHash string, now time.Time) (ulid.ULID, error) {
	var accountID string
	err := r.pool.QueryRow(ctx, `
		UPDATE password_resets
		SET consumed_at = $2
		WHERE token_hash = $1 AND consumed_at IS NULL AND expires_at > $2
		RETURNING account_id
	`, tokenHash, now).Scan(&accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ulid.ULID{}, r.classifyMiss(ctx, tokenHash)
	}
	if err != nil {
		return ulid.ULID{}, oops.Code("RESET_CONSUME_FAILED").
			With("operation", "consume password_reset").
			Wrap(err)
	}

	id, err := ulid.Parse(accountID)
	if err != nil {
		return ulid.ULID{}, oops.Code("RESET_ACCOUNT_ID_INVALID").With("account_id", accountID).Wrap(err)
	}
	return id, nil
}

// classifyMiss tells an expired request apart from one that never existed
// or was already used.
func (r *ResetRepository) classifyMiss(ctx context.Context, tokenHash string) error {
	var (
		expiresAt  time.Time
		consumedAt *time.Time
	)
	err := r.pool.QueryRow(ctx, `
		SELECT expires_at, consumed_at FROM password_resets WHERE token_hash = $1
	`, tokenHash).Scan(&expiresAt, &consumedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return oops.Code(auth.CodeResetNotFound).Wrap(auth.ErrNotFound)
	case err != nil:
		return oops.Code("RESET_CONSUME_FAILED").
			With("operation", "classify password_reset").
			Wrap(err)
	case consumedAt != nil:
		return oops.Code(auth.CodeResetNotFound).Wrap(auth.ErrNotFound)
	default:
		return oops.Code(auth.CodeResetExpired).
			With("expired_at", expiresAt).
			Wrap(auth.ErrExpired)
	}
}

// DeleteStale removes requests that expired or were consumed before cutoff.
func (r *ResetRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM password_resets
		WHERE expires_at < $1 OR consumed_at < $1
	`, cutoff)
	if err != nil {
		return 0, oops.Code("RESET_DELETE_STALE_FAILED").
			With("operation", "delete stale password_resets").
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

var _ auth.ResetRepository = (*ResetRepository)(nil)
