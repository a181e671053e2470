// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Reset token configuration.
const (
	ResetTokenBytes  = 32 // 64 hex chars
	DefaultResetTTL  = time.Hour
	DefaultResetKeep = 7 * 24 * time.Hour
)

// PasswordReset is a stored reset request. Only the token hash is persisted.
type PasswordReset struct {
	ID         ulid.ULID
	AccountID  ulid.ULID
	TokenHash  string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// NewPasswordReset creates a PasswordReset with validated fields.
func NewPasswordReset(accountID ulid.ULID, tokenHash string, expiresAt, now time.Time) (*PasswordReset, error) {
	if accountID.IsZero() {
		return nil, oops.Code("RESET_INVALID").Errorf("account ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("RESET_INVALID").Errorf("token hash cannot be empty")
	}
	if !expiresAt.After(now) {
		return nil, oops.Code("RESET_INVALID").Errorf("expiry must be in the future")
	}
	return &PasswordReset{
		ID:        ulid.Make(),
		AccountID: accountID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

// GenerateResetToken creates a random token and its SHA-256 hash.
// The plaintext goes to the user; only the hash is stored.
func GenerateResetToken() (token, hash string, err error) {
	tokenBytes := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}
	token = hex.EncodeToString(tokenBytes)
	return token, HashResetToken(token), nil
}

// HashResetToken returns the hex SHA-256 of token.
func HashResetToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// ResetRepository persists reset requests.
type ResetRepository interface {
	// Create stores reset and, in the same transaction, marks every other
	// unconsumed request for the account as consumed.
	Create(ctx context.Context, reset *PasswordReset) error

	// Consume atomically marks the unconsumed, unexpired request with
	// tokenHash as consumed and returns its account. Fails with
	// RESET_TOKEN_NOT_FOUND (wrapping ErrNotFound) if no unconsumed request
	// matches, or RESET_TOKEN_EXPIRED (wrapping ErrExpired) if it lapsed.
	Consume(ctx context.Context, tokenHash string, now time.Time) (ulid.ULID, error)

	// DeleteStale removes requests that expired or were consumed before cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// ResetTokenStore issues and redeems single-use password reset tokens.
type ResetTokenStore struct {
	repo  ResetRepository
	ttl   time.Duration
	clock Clock
}

// NewResetTokenStore creates a store issuing tokens valid for ttl.
func NewResetTokenStore(repo ResetRepository, ttl time.Duration, clock Clock) (*ResetTokenStore, error) {
	if repo == nil {
		return nil, oops.Code("RESET_STORE_INVALID").Errorf("reset repository is required")
	}
	if ttl <= 0 {
		return nil, oops.Code("RESET_STORE_INVALID").Errorf("reset token TTL must be positive")
	}
	return &ResetTokenStore{repo: repo, ttl: ttl, clock: clock}, nil
}

// Create issues a token for accountID, superseding any outstanding one.
func (s *ResetTokenStore) Create(ctx context.Context, accountID ulid.ULID) (string, time.Time, error) {
	token, hash, err := GenerateResetToken()
	if err != nil {
		return "", time.Time{}, err
	}
	now := s.clock.now()
	reset, err := NewPasswordReset(accountID, hash, now.Add(s.ttl), now)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := s.repo.Create(ctx, reset); err != nil {
		return "", time.Time{}, oops.Code("RESET_CREATE_FAILED").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return token, reset.ExpiresAt, nil
}

// Consume redeems token exactly once and returns its account.
func (s *ResetTokenStore) Consume(ctx context.Context, token string) (ulid.ULID, error) {
	if token == "" {
		return ulid.ULID{}, oops.Code(CodeResetNotFound).Wrap(ErrNotFound)
	}
	id, err := s.repo.Consume(ctx, HashResetToken(token), s.clock.now())
	if err != nil {
		return ulid.ULID{}, oops.Code("RESET_CONSUME_FAILED").Wrap(err)
	}
	return id, nil
}

// Prune deletes requests that lapsed more than retention ago.
func (s *ResetTokenStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.repo.DeleteStale(ctx, s.clock.now().Add(-retention))
	if err != nil {
		return 0, oops.Code("RESET_PRUNE_FAILED").Wrap(err)
	}
	return n, nil
}

// TTL returns the token lifetime.
func (s *ResetTokenStore) TTL() time.Duration {
	return s.ttl
}
