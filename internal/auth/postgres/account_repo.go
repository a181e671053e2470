// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/mrcsystems/mrcauth/internal/auth"
)

// Unique index names from the accounts migration.
const (
	usernameIndex = "accounts_username_lower_key"
	emailIndex    = "accounts_email_lower_key"
)

const accountColumns = `id, username, email, password_hash, full_name, phone,
	is_active, failed_attempts, locked_until, last_login_at, created_at, updated_at`

// Pool is the subset of *pgxpool.Pool the repositories use.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool Pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (
			id, username, email, password_hash, full_name, phone,
			is_active, failed_attempts, locked_until, last_login_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		account.ID.String(),
		account.Username,
		account.Email,
		account.PasswordHash,
		account.FullName,
		account.Phone,
		account.Active,
		account.FailedAttempts,
		account.LockedUntil,
		account.LastLoginAt,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if dup := duplicateAccount(err, account.Username, account.Email); dup != nil {
			return dup
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("username", account.Username).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id.String())

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(auth.CodeAccountNotFound).
			With("account_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_ID_FAILED").
			With("operation", "get account by id").
			With("account_id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// GetByIdentifier retrieves an account by username or email
// (case-insensitive). A username match wins over an email match.
func (r *AccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($1)
		ORDER BY (LOWER(username) = LOWER($1)) DESC
		LIMIT 1
	`, identifier)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(auth.CodeAccountNotFound).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_IDENTIFIER_FAILED").
			With("operation", "get account by identifier").
			Wrap(err)
	}
	return account, nil
}

// GetByEmail retrieves an account by email (case-insensitive).
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE LOWER(email) = LOWER($1)`, email)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(auth.CodeAccountNotFound).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_EMAIL_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}
	return account, nil
}

// UpdateProfile applies the non-nil changes and returns the stored account.
// An empty Phone is stored as NULL.
func (r *AccountRepository) UpdateProfile(ctx context.Context, id ulid.ULID, changes auth.ProfileChanges) (*auth.Account, error) {
	if changes.Empty() {
		return r.GetByID(ctx, id)
	}

	q := psql.Update("accounts")
	if changes.Username != nil {
		q = q.Set("username", *changes.Username)
	}
	if changes.Email != nil {
		q = q.Set("email", *changes.Email)
	}
	if changes.FullName != nil {
		q = q.Set("full_name", *changes.FullName)
	}
	if changes.Phone != nil {
		if *changes.Phone == "" {
			q = q.Set("phone", nil)
		} else {
			q = q.Set("phone", *changes.Phone)
		}
	}
	if changes.PasswordHash != nil {
		q = q.Set("password_hash", *changes.PasswordHash)
	}
	query, args, err := q.
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id.String()}).
		Suffix("RETURNING " + accountColumns).
		ToSql()
	if err != nil {
		return nil, oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "build profile update").
			Wrap(err)
	}

	account, err := scanAccount(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(auth.CodeAccountNotFound).
			With("account_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		var username, email string
		if changes.Username != nil {
			username = *changes.Username
		}
		if changes.Email != nil {
			email = *changes.Email
		}
		if dup := duplicateAccount(err, username, email); dup != nil {
			return nil, dup
		}
		return nil, oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update profile").
			With("account_id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// UpdatePassword replaces the password hash.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	return r.exec(ctx, "update password", id,
		`UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1`,
		id.String(), passwordHash)
}

// RecordLogin stamps the last successful sign-in.
func (r *AccountRepository) RecordLogin(ctx context.Context, id ulid.ULID, at time.Time) error {
	return r.exec(ctx, "record login", id,
		`UPDATE accounts SET last_login_at = $2 WHERE id = $1`,
		id.String(), at)
}

// SetActive enables or disables sign-in for the account.
func (r *AccountRepository) SetActive(ctx context.Context, id ulid.ULID, active bool) error {
	return r.exec(ctx, "set active", id,
		`UPDATE accounts SET is_active = $2, updated_at = NOW() WHERE id = $1`,
		id.String(), active)
}

// ClearFailures resets the failure counter and lifts any lock.
func (r *AccountRepository) ClearFailures(ctx context.Context, id ulid.ULID) error {
	return r.exec(ctx, "clear failures", id,
		`UPDATE accounts SET failed_attempts = 0, locked_until = NULL, updated_at = NOW() WHERE id = $1`,
		id.String())
}

// RegisterFailure applies one failed attempt under a row lock so concurrent
// failures serialize on the account.
func (r *AccountRepository) RegisterFailure(ctx context.Context, id ulid.ULID, now time.Time, policy auth.LockoutPolicy) (auth.LockoutState, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return auth.LockoutState{}, oops.Code("ACCOUNT_REGISTER_FAILURE_FAILED").
			With("operation", "begin transaction").
			With("account_id", id.String()).
			Wrap(err)
	}

	var state auth.LockoutState
	err = tx.QueryRow(ctx, `
		SELECT failed_attempts, locked_until
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, id.String()).Scan(&state.FailedAttempts, &state.LockedUntil)
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.LockoutState{}, oops.Code(auth.CodeAccountNotFound).
				With("account_id", id.String()).
				Wrap(auth.ErrNotFound)
		}
		return auth.LockoutState{}, oops.Code("ACCOUNT_REGISTER_FAILURE_FAILED").
			With("operation", "lock account row").
			With("account_id", id.String()).
			Wrap(err)
	}

	next := policy.Fail(state, now)
	if next.FailedAttempts != state.FailedAttempts {
		_, err = tx.Exec(ctx, `
			UPDATE accounts
			SET failed_attempts = $2, locked_until = $3, updated_at = NOW()
			WHERE id = $1
		`, id.String(), next.FailedAttempts, next.LockedUntil)
		if err != nil {
			_ = tx.Rollback(ctx)
			return auth.LockoutState{}, oops.Code("ACCOUNT_REGISTER_FAILURE_FAILED").
				With("operation", "store failure count").
				With("account_id", id.String()).
				Wrap(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return auth.LockoutState{}, oops.Code("ACCOUNT_REGISTER_FAILURE_FAILED").
			With("operation", "commit").
			With("account_id", id.String()).
			Wrap(err)
	}
	return next, nil
}

// List returns every account ordered by username, case-insensitive.
func (r *AccountRepository) List(ctx context.Context) ([]*auth.Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY LOWER(username)`)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").With("operation", "query accounts").Wrap(err)
	}
	defer rows.Close()

	var accounts []*auth.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, oops.Code("ACCOUNT_LIST_FAILED").With("operation", "scan account").Wrap(err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").With("operation", "iterate accounts").Wrap(err)
	}
	return accounts, nil
}

func (r *AccountRepository) exec(ctx context.Context, op string, id ulid.ULID, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", op).
			With("account_id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code(auth.CodeAccountNotFound).
			With("account_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanAccount propagates pgx.ErrNoRows unchanged so callers can map it.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		a     auth.Account
		idStr string
	)
	err := row.Scan(
		&idStr,
		&a.Username,
		&a.Email,
		&a.PasswordHash,
		&a.FullName,
		&a.Phone,
		&a.Active,
		&a.FailedAttempts,
		&a.LockedUntil,
		&a.LastLoginAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_ID_INVALID").With("id", idStr).Wrap(err)
	}
	a.ID = id
	return &a, nil
}

// duplicateAccount maps a unique violation to the taken-field error, or
// returns nil if err is not a unique violation.
func duplicateAccount(err error, username, email string) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return nil
	}
	switch pgErr.ConstraintName {
	case usernameIndex:
		return oops.Code(auth.CodeUsernameTaken).With("username", username).Wrap(auth.ErrDuplicate)
	case emailIndex:
		return oops.Code(auth.CodeEmailTaken).With("email", email).Wrap(auth.ErrDuplicate)
	default:
		return oops.Code(auth.CodeAccountDuplicate).
			With("constraint", pgErr.ConstraintName).
			Wrap(auth.ErrDuplicate)
	}
}

var _ auth.AccountRepository = (*AccountRepository)(nil)
