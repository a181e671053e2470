// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Account is a member account able to sign in.
type Account struct {
	ID             ulid.ULID
	Username       string
	Email          string
	PasswordHash   string
	FullName       string
	Phone          *string
	Active         bool
	FailedAttempts int
	LockedUntil    *time.Time
	LastLoginAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewMember is the input for creating an account.
type NewMember struct {
	Username string
	Email    string
	Password string
	FullName string
	Phone    string
}

// NewAccount creates an active Account with validated fields and a fresh ID.
// passwordHash must already be computed.
func NewAccount(username, email, fullName string, phone *string, passwordHash string, now time.Time) (*Account, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidateFullName(fullName); err != nil {
		return nil, err
	}
	if phone != nil {
		if err := ValidatePhone(*phone); err != nil {
			return nil, err
		}
	}
	if passwordHash == "" {
		return nil, oops.Code(CodeEmptyPassword).Errorf("password hash cannot be empty")
	}
	return &Account{
		ID:           ulid.Make(),
		Username:     username,
		Email:        strings.ToLower(email),
		PasswordHash: passwordHash,
		FullName:     fullName,
		Phone:        phone,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Lockout returns the account's lockout state.
func (a *Account) Lockout() LockoutState {
	return LockoutState{FailedAttempts: a.FailedAttempts, LockedUntil: a.LockedUntil}
}

// Profile is the caller-visible view of an account.
type Profile struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	FullName    string     `json:"full_name"`
	Phone       *string    `json:"phone"`
	Active      bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login"`
}

// Profile returns the public view of a.
func (a *Account) Profile() Profile {
	return Profile{
		ID:          a.ID.String(),
		Username:    a.Username,
		Email:       a.Email,
		FullName:    a.FullName,
		Phone:       a.Phone,
		Active:      a.Active,
		CreatedAt:   a.CreatedAt,
		LastLoginAt: a.LastLoginAt,
	}
}

// ProfileChanges lists the columns an UpdateProfile call sets. Nil fields
// are left untouched; an empty Phone clears it.
type ProfileChanges struct {
	Username     *string
	Email        *string
	FullName     *string
	Phone        *string
	PasswordHash *string
}

// Empty reports whether no field would change.
func (c ProfileChanges) Empty() bool {
	return c.Username == nil && c.Email == nil && c.FullName == nil && c.Phone == nil && c.PasswordHash == nil
}

// AccountRepository manages account persistence.
type AccountRepository interface {
	LockoutStore

	// Create stores a new account. Returns an error wrapping ErrDuplicate
	// (code ACCOUNT_USERNAME_TAKEN or ACCOUNT_EMAIL_TAKEN) on conflict.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByIdentifier retrieves an account by username or email, case-insensitive.
	GetByIdentifier(ctx context.Context, identifier string) (*Account, error)

	// GetByEmail retrieves an account by email, case-insensitive.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// UpdateProfile applies changes and returns the updated account.
	UpdateProfile(ctx context.Context, id ulid.ULID, changes ProfileChanges) (*Account, error)

	// UpdatePassword replaces the password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// RecordLogin stamps the last successful sign-in.
	RecordLogin(ctx context.Context, id ulid.ULID, at time.Time) error

	// SetActive enables or disables sign-in for the account.
	SetActive(ctx context.Context, id ulid.ULID, active bool) error

	// List returns every account ordered by username, case-insensitive.
	List(ctx context.Context) ([]*Account, error)
}
