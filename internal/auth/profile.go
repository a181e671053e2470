// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// ProfileUpdate is a partial profile edit. Nil fields are left unchanged.
// A password change needs both CurrentPassword and NewPassword.
type ProfileUpdate struct {
	Username        *string
	Email           *string
	FullName        *string
	Phone           *string
	CurrentPassword string
	NewPassword     string
}

// GetProfile returns the account with the given ID.
func (s *Service) GetProfile(ctx context.Context, id ulid.ULID) (*Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, "get profile", err)
	}
	return account, nil
}

// UpdateProfile applies a sanitized, validated partial edit to the account.
func (s *Service) UpdateProfile(ctx context.Context, id ulid.ULID, upd ProfileUpdate) (*Account, error) {
	const op = "update profile"

	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}

	var changes ProfileChanges
	if upd.Username != nil {
		username := Sanitize(*upd.Username)
		if err := ValidateUsername(username); err != nil {
			return nil, s.fail(ctx, op, err)
		}
		if username != account.Username {
			changes.Username = &username
		}
	}
	if upd.Email != nil {
		email := strings.ToLower(Sanitize(*upd.Email))
		if err := ValidateEmail(email); err != nil {
			return nil, s.fail(ctx, op, err)
		}
		if email != account.Email {
			changes.Email = &email
		}
	}
	if upd.FullName != nil {
		fullName := Sanitize(*upd.FullName)
		if err := ValidateFullName(fullName); err != nil {
			return nil, s.fail(ctx, op, err)
		}
		if fullName != account.FullName {
			changes.FullName = &fullName
		}
	}
	if upd.Phone != nil {
		phone := Sanitize(*upd.Phone)
		if err := ValidatePhone(phone); err != nil {
			return nil, s.fail(ctx, op, err)
		}
		if account.Phone == nil || phone != *account.Phone {
			changes.Phone = &phone
		}
	}

	if upd.CurrentPassword != "" || upd.NewPassword != "" {
		hash, err := s.changePassword(account, upd.CurrentPassword, upd.NewPassword)
		if err != nil {
			return nil, s.fail(ctx, op, err)
		}
		changes.PasswordHash = &hash
	}

	if changes.Empty() {
		return account, nil
	}

	updated, err := s.accounts.UpdateProfile(ctx, id, changes)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	s.logger.InfoContext(ctx, "profile updated",
		"account_id", id.String(),
		"password_changed", changes.PasswordHash != nil)
	return updated, nil
}

func (s *Service) changePassword(account *Account, current, next string) (string, error) {
	if current == "" || next == "" {
		return "", validationError("Current password and new password are both required")
	}
	if !s.hasher.Verify(current, account.PasswordHash) {
		return "", oops.Code(CodeWrongPassword).Errorf(currentPasswordWrongMsg)
	}
	if err := ValidatePasswordStrength(next); err != nil {
		return "", err
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return "", oops.Code("PROFILE_PASSWORD_HASH_FAILED").Wrap(err)
	}
	return hash, nil
}

// AddMember creates an account on behalf of an active signed-in account.
func (s *Service) AddMember(ctx context.Context, actorID ulid.ULID, m NewMember) (*Account, error) {
	actor, err := s.accounts.GetByID(ctx, actorID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, s.fail(ctx, "add member", tokenAccountUnavailable("acting account no longer exists"))
	case err != nil:
		return nil, s.internal(ctx, "add member", err)
	case !actor.Active:
		return nil, s.fail(ctx, "add member", tokenAccountUnavailable("acting account is inactive"))
	}

	account, err := s.CreateMember(ctx, m)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "member added",
		"actor_id", actorID.String(),
		"account_id", account.ID.String())
	return account, nil
}

// CreateMember creates an account without an acting account. It backs
// AddMember and administrative tooling.
func (s *Service) CreateMember(ctx context.Context, m NewMember) (*Account, error) {
	const op = "create member"

	required := []struct{ label, value string }{
		{"Username", m.Username},
		{"Email", m.Email},
		{"Password", m.Password},
		{"Full name", m.FullName},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return nil, s.fail(ctx, op, validationError("%s is required", f.label))
		}
	}

	username := Sanitize(m.Username)
	email := strings.ToLower(Sanitize(m.Email))
	fullName := Sanitize(m.FullName)
	var phone *string
	if p := Sanitize(m.Phone); p != "" {
		phone = &p
	}

	for _, check := range []func() error{
		func() error { return ValidateUsername(username) },
		func() error { return ValidateEmail(email) },
		func() error { return ValidateFullName(fullName) },
		func() error {
			if phone == nil {
				return nil
			}
			return ValidatePhone(*phone)
		},
		func() error { return ValidatePasswordStrength(m.Password) },
	} {
		if err := check(); err != nil {
			return nil, s.fail(ctx, op, err)
		}
	}

	hash, err := s.hasher.Hash(m.Password)
	if err != nil {
		return nil, s.internal(ctx, op, err)
	}
	account, err := NewAccount(username, email, fullName, phone, hash, s.clock.now())
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, s.fail(ctx, op, err)
	}
	return account, nil
}

// SetActive enables or disables sign-in for the account matching
// identifier (username or email).
func (s *Service) SetActive(ctx context.Context, identifier string, active bool) (*Account, error) {
	const op = "set active"

	account, err := s.accounts.GetByIdentifier(ctx, strings.TrimSpace(identifier))
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	if account.Active == active {
		return account, nil
	}
	if err := s.accounts.SetActive(ctx, account.ID, active); err != nil {
		return nil, s.fail(ctx, op, err)
	}
	account.Active = active
	s.logger.InfoContext(ctx, "account active flag changed",
		"account_id", account.ID.String(),
		"active", active)
	return account, nil
}

// ListMembers returns every account ordered by username.
func (s *Service) ListMembers(ctx context.Context) ([]*Account, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, s.internal(ctx, "list members", err)
	}
	return accounts, nil
}
