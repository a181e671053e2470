// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcsystems/mrcauth/internal/auth"
	"github.com/mrcsystems/mrcauth/internal/auth/postgres"
	"github.com/mrcsystems/mrcauth/pkg/errutil"
)

func newReset(t *testing.T) *auth.PasswordReset {
	t.Helper()
	reset, err := auth.NewPasswordReset(ulid.Make(), auth.HashResetToken("token"), created.Add(time.Hour), created)
	require.NoError(t, err)
	return reset
}

func TestResetRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("supersedes then inserts", func(t *testing.T) {
		mock := newMock(t)
		reset := newReset(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE password_resets\s+SET consumed_at = \$2\s+WHERE account_id = \$1 AND consumed_at IS NULL`).
			WithArgs(reset.AccountID.String(), reset.CreatedAt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(`INSERT INTO password_resets`).
			WithArgs(reset.ID.String(), reset.AccountID.String(), reset.TokenHash, reset.ExpiresAt, reset.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		require.NoError(t, postgres.NewResetRepository(mock).Create(ctx, reset))
	})

	t.Run("hash collision", func(t *testing.T) {
		mock := newMock(t)
		reset := newReset(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE password_resets`).
			WithArgs(reset.AccountID.String(), reset.CreatedAt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectExec(`INSERT INTO password_resets`).
			WithArgs(reset.ID.String(), reset.AccountID.String(), reset.TokenHash, reset.ExpiresAt, reset.CreatedAt).
			WillReturnError(uniqueViolation("password_resets_token_hash_key"))
		mock.ExpectRollback()

		err := postgres.NewResetRepository(mock).Create(ctx, reset)
		assert.ErrorIs(t, err, auth.ErrDuplicate)
		errutil.AssertErrorCode(t, err, "RESET_DUPLICATE")
	})

	t.Run("supersede failure keeps old requests", func(t *testing.T) {
		mock := newMock(t)
		reset := newReset(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE password_resets`).
			WithArgs(reset.AccountID.String(), reset.CreatedAt).
			WillReturnError(errors.New("lock timeout"))
		mock.ExpectRollback()

		err := postgres.NewResetRepository(mock).Create(ctx, reset)
		errutil.AssertErrorCode(t, err, "RESET_CREATE_FAILED")
		errutil.AssertErrorContext(t, err, "operation", "supersede outstanding resets")
	})

	t.Run("commit failure", func(t *testing.T) {
		mock := newMock(t)
		reset := newReset(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE password_resets`).
			WithArgs(reset.AccountID.String(), reset.CreatedAt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectExec(`INSERT INTO password_resets`).
			WithArgs(reset.ID.String(), reset.AccountID.String(), reset.TokenHash, reset.ExpiresAt, reset.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit().WillReturnError(errors.New("connection lost"))

		err := postgres.NewResetRepository(mock).Create(ctx, reset)
		errutil.AssertErrorContext(t, err, "operation", "commit")
	})
}

func TestResetRepository_Consume(t *testing.T) {
	ctx := context.Background()
	hash := auth.HashResetToken("token")
	now := created
	accountID := ulid.Make()
	classifyCols := []string{"expires_at", "consumed_at"}
	consumeQuery := `UPDATE password_resets\s+SET consumed_at = \$2\s+WHERE token_hash = \$1 AND consumed_at IS NULL AND expires_at > \$2\s+RETURNING account_id`

	t.Run("redeems", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(consumeQuery).WithArgs(hash, now).
			WillReturnRows(pgxmock.NewRows([]string{"account_id"}).AddRow(accountID.String()))

		got, err := postgres.NewResetRepository(mock).Consume(ctx, hash, now)
		require.NoError(t, err)
		assert.Equal(t, accountID, got)
	})

	misses := []struct {
		name     string
		rows     *pgxmock.Rows
		wantCode string
		wantIs   error
	}{
		{"unknown token", pgxmock.NewRows(classifyCols), auth.CodeResetNotFound, auth.ErrNotFound},
		{"already used", pgxmock.NewRows(classifyCols).AddRow(now.Add(time.Hour), &now), auth.CodeResetNotFound, auth.ErrNotFound},
		{"expired", pgxmock.NewRows(classifyCols).AddRow(now.Add(-time.Minute), (*time.Time)(nil)), auth.CodeResetExpired, auth.ErrExpired},
	}
	for _, m := range misses {
		t.Run(m.name, func(t *testing.T) {
			mock := newMock(t)
			mock.ExpectQuery(consumeQuery).WithArgs(hash, now).
				WillReturnRows(pgxmock.NewRows([]string{"account_id"}))
			mock.ExpectQuery(`SELECT expires_at, consumed_at FROM password_resets WHERE token_hash = \$1`).
				WithArgs(hash).
				WillReturnRows(m.rows)

			_, err := postgres.NewResetRepository(mock).Consume(ctx, hash, now)
			require.Error(t, err)
			assert.ErrorIs(t, err, m.wantIs)
			errutil.AssertErrorCode(t, err, m.wantCode)
		})
	}

	t.Run("storage failure is not a miss", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(consumeQuery).WithArgs(hash, now).WillReturnError(errors.New("connection refused"))

		_, err := postgres.NewResetRepository(mock).Consume(ctx, hash, now)
		assert.NotErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "RESET_CONSUME_FAILED")
	})
}

func TestResetRepository_DeleteStale(t *testing.T) {
	ctx := context.Background()
	cutoff := created.Add(-7 * 24 * time.Hour)

	mock := newMock(t)
	mock.ExpectExec(`DELETE FROM password_resets\s+WHERE expires_at < \$1 OR consumed_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := postgres.NewResetRepository(mock).DeleteStale(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	mock.ExpectExec(`DELETE FROM password_resets`).WithArgs(cutoff).WillReturnError(errors.New("disk full"))
	_, err = postgres.NewResetRepository(mock).DeleteStale(ctx, cutoff)
	errutil.AssertErrorCode(t, err, "RESET_DELETE_STALE_FAILED")
}
