// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

// Package memory provides in-process implementations of the auth
// repositories for single-node deployments and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/mrcsystems/mrcauth/internal/auth"
)

// AccountRepository is a thread-safe auth.AccountRepository. Usernames and
// emails are unique case-insensitively.
type AccountRepository struct {
	mu       sync.Mutex
	accounts map[ulid.ULID]*auth.Account
}

// NewAccountRepository creates an empty repository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{accounts: make(map[ulid.ULID]*auth.Account)}
}

func clone(a *auth.Account) *auth.Account {
	c := *a
	if a.Phone != nil {
		p := *a.Phone
		c.Phone = &p
	}
	if a.LockedUntil != nil {
		t := *a.LockedUntil
		c.LockedUntil = &t
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

// conflict reports a clash with any account other than skip.
func (r *AccountRepository) conflict(skip ulid.ULID, username, email string) error {
	for id, a := range r.accounts {
		if id == skip {
			continue
		}
		if username != "" && strings.EqualFold(a.Username, username) {
			return oops.Code(auth.CodeUsernameTaken).With("username", username).Wrap(auth.ErrDuplicate)
		}
		if email != "" && strings.EqualFold(a.Email, email) {
			return oops.Code(auth.CodeEmailTaken).With("email", email).Wrap(auth.ErrDuplicate)
		}
	}
	return nil
}

func notFound(id ulid.ULID) error {
	return oops.Code(auth.CodeAccountNotFound).With("account_id", id.String()).Wrap(auth.ErrNotFound)
}

// Create implements auth.AccountRepository.
func (r *AccountRepository) Create(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[account.ID]; ok {
		return oops.Code(auth.CodeAccountDuplicate).With("account_id", account.ID.String()).Wrap(auth.ErrDuplicate)
	}
	if err := r.conflict(account.ID, account.Username, account.Email); err != nil {
		return err
	}
	r.accounts[account.ID] = clone(account)
	return nil
}

// GetByID implements auth.AccountRepository.
func (r *AccountRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, notFound(id)
	}
	return clone(a), nil
}

// GetByIdentifier implements auth.AccountRepository.
func (r *AccountRepository) GetByIdentifier(_ context.Context, identifier string) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if strings.EqualFold(a.Username, identifier) || strings.EqualFold(a.Email, identifier) {
			return clone(a), nil
		}
	}
	return nil, oops.Code(auth.CodeAccountNotFound).Wrap(auth.ErrNotFound)
}

// GetByEmail implements auth.AccountRepository.
func (r *AccountRepository) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if strings.EqualFold(a.Email, email) {
			return clone(a), nil
		}
	}
	return nil, oops.Code(auth.CodeAccountNotFound).Wrap(auth.ErrNotFound)
}

// UpdateProfile implements auth.AccountRepository.
func (r *AccountRepository) UpdateProfile(_ context.Context, id ulid.ULID, changes auth.ProfileChanges) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, notFound(id)
	}
	var username, email string
	if changes.Username != nil {
		username = *changes.Username
	}
	if changes.Email != nil {
		email = *changes.Email
	}
	if err := r.conflict(id, username, email); err != nil {
		return nil, err
	}

	if changes.Username != nil {
		a.Username = *changes.Username
	}
	if changes.Email != nil {
		a.Email = strings.ToLower(*changes.Email)
	}
	if changes.FullName != nil {
		a.FullName = *changes.FullName
	}
	if changes.Phone != nil {
		if *changes.Phone == "" {
			a.Phone = nil
		} else {
			p := *changes.Phone
			a.Phone = &p
		}
	}
	if changes.PasswordHash != nil {
		a.PasswordHash = *changes.PasswordHash
	}
	a.UpdatedAt = time.Now()
	return clone(a), nil
}

// UpdatePassword implements auth.AccountRepository.
func (r *AccountRepository) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	return r.mutate(id, func(a *auth.Account) { a.PasswordHash = passwordHash })
}

// RecordLogin implements auth.AccountRepository.
func (r *AccountRepository) RecordLogin(_ context.Context, id ulid.ULID, at time.Time) error {
	return r.mutate(id, func(a *auth.Account) { a.LastLoginAt = &at })
}

// SetActive implements auth.AccountRepository.
func (r *AccountRepository) SetActive(_ context.Context, id ulid.ULID, active bool) error {
	return r.mutate(id, func(a *auth.Account) { a.Active = active })
}

// RegisterFailure implements auth.LockoutStore.
func (r *AccountRepository) RegisterFailure(_ context.Context, id ulid.ULID, now time.Time, policy auth.LockoutPolicy) (auth.LockoutState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return auth.LockoutState{}, notFound(id)
	}
	next := policy.Fail(a.Lockout(), now)
	a.FailedAttempts = next.FailedAttempts
	a.LockedUntil = next.LockedUntil
	return next, nil
}

// ClearFailures implements auth.LockoutStore.
func (r *AccountRepository) ClearFailures(_ context.Context, id ulid.ULID) error {
	return r.mutate(id, func(a *auth.Account) {
		a.FailedAttempts = 0
		a.LockedUntil = nil
	})
}

// List implements auth.AccountRepository.
func (r *AccountRepository) List(_ context.Context) ([]*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*auth.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, clone(a))
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Username) < strings.ToLower(out[j].Username)
	})
	return out, nil
}

func (r *AccountRepository) mutate(id ulid.ULID, fn func(*auth.Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return notFound(id)
	}
	fn(a)
	a.UpdatedAt = time.Now()
	return nil
}

// ResetRepository is a thread-safe auth.ResetRepository.
type ResetRepository struct {
	mu     sync.Mutex
	resets map[string]*auth.PasswordReset // by token hash
}

// NewResetRepository creates an empty repository.
func NewResetRepository() *ResetRepository {
	return &ResetRepository{resets: make(map[string]*auth.PasswordReset)}
}

// Create implements auth.ResetRepository.
func (r *ResetRepository) Create(_ context.Context, reset *auth.PasswordReset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.resets[reset.TokenHash]; ok {
		return oops.Code("RESET_DUPLICATE").Wrap(auth.ErrDuplicate)
	}
	for _, existing := range r.resets {
		if existing.AccountID == reset.AccountID && existing.ConsumedAt == nil {
			at := reset.CreatedAt
			existing.ConsumedAt = &at
		}
	}
	c := *reset
	r.resets[reset.TokenHash] = &c
	return nil
}

// Consume implements auth.ResetRepository.
func (r *ResetRepository) Consume(_ context.Context, tokenHash string, now time.Time) (ulid.ULID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reset, ok := r.resets[tokenHash]
	if !ok || reset.ConsumedAt != nil {
		return ulid.ULID{}, oops.Code(auth.CodeResetNotFound).Wrap(auth.ErrNotFound)
	}
	if !reset.ExpiresAt.After(now) {
		return ulid.ULID{}, oops.Code(auth.CodeResetExpired).
			With("expires_at", reset.ExpiresAt).
			Wrap(auth.ErrExpired)
	}
	reset.ConsumedAt = &now
	return reset.AccountID, nil
}

// DeleteStale implements auth.ResetRepository.
func (r *ResetRepository) DeleteStale(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for hash, reset := range r.resets {
		lapsed := reset.ExpiresAt
		if reset.ConsumedAt != nil && reset.ConsumedAt.Before(lapsed) {
			lapsed = *reset.ConsumedAt
		}
		if lapsed.Before(cutoff) {
			delete(r.resets, hash)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored requests.
func (r *ResetRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resets)
}

var (
	_ auth.AccountRepository = (*AccountRepository)(nil)
	_ auth.ResetRepository   = (*ResetRepository)(nil)
)
