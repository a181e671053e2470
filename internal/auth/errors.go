// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package auth

import (
	"errors"
	"time"

	"github.com/samber/oops"

	"github.com/mrcsystems/mrcauth/pkg/errutil"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique username or email is already taken.
var ErrDuplicate = errors.New("duplicate")

// ErrExpired is returned when a time-limited record is past its expiry.
var ErrExpired = errors.New("expired")

// Kind is the caller-facing class of a failed operation.
type Kind int

// Error kinds returned by Service. Everything else is narrowed to KindInternal.
const (
	KindInternal Kind = iota
	KindInvalidCredentials
	KindAccountLocked
	KindRateLimited
	KindTokenInvalid
	KindResetTokenInvalid
	KindValidation
	KindConflict
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindAccountLocked:
		return "account_locked"
	case KindRateLimited:
		return "rate_limited"
	case KindTokenInvalid:
		return "token_invalid"
	case KindResetTokenInvalid:
		return "reset_token_invalid"
	case KindValidation:
		return "validation_error"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is the only error type Service returns. Message is safe to show to
// the caller; the internal cause is logged, never attached.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return e.Message
}

// KindOf returns the kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Error codes that carry meaning across the Service boundary.
const (
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeAccountLocked      = "ACCOUNT_LOCKED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeTokenMalformed     = "TOKEN_MALFORMED"
	CodeTokenBadSignature  = "TOKEN_BAD_SIGNATURE"
	CodeTokenRevoked       = "TOKEN_REVOKED"
	CodeTokenAccount       = "TOKEN_ACCOUNT_UNAVAILABLE"
	CodeRefreshRejected    = "REFRESH_REJECTED"
	CodeResetNotFound      = "RESET_TOKEN_NOT_FOUND"
	CodeResetExpired       = "RESET_TOKEN_EXPIRED"
	CodeValidation         = "VALIDATION_FAILED"
	CodeInvalidUsername    = "AUTH_INVALID_USERNAME"
	CodeInvalidEmail       = "AUTH_INVALID_EMAIL"
	CodeInvalidFullName    = "AUTH_INVALID_FULL_NAME"
	CodeInvalidPhone       = "AUTH_INVALID_PHONE"
	CodeWeakPassword       = "AUTH_WEAK_PASSWORD"
	CodeEmptyPassword      = "AUTH_EMPTY_PASSWORD"
	CodeWrongPassword      = "AUTH_CURRENT_PASSWORD_INCORRECT"
	CodeUsernameTaken      = "ACCOUNT_USERNAME_TAKEN"
	CodeEmailTaken         = "ACCOUNT_EMAIL_TAKEN"
	CodeAccountDuplicate   = "ACCOUNT_DUPLICATE"
	CodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
	CodeAccountInactive    = "ACCOUNT_INACTIVE"
)

const (
	retryAfterKey           = "retry_after"
	genericInternalMessage  = "Internal error"
	genericTokenMessage     = "Session expired or invalid, please sign in again"
	genericResetMessage     = "Invalid or expired reset token"
	genericLockedMessage    = "Account is temporarily locked"
	genericRateMessage      = "Too many requests, please try again later"
	genericCredentialsMsg   = "Invalid credentials"
	genericNotFoundMessage  = "Account not found"
	genericConflictMessage  = "Account already exists"
	usernameTakenMessage    = "Username already taken"
	emailTakenMessage       = "Email already taken"
	validationFallbackMsg   = "Invalid input"
	currentPasswordWrongMsg = "Current password is incorrect"
)

// codeKinds is the complete table of internal codes that reach the caller
// as something other than KindInternal.
var codeKinds = map[string]Kind{
	CodeInvalidCredentials: KindInvalidCredentials,
	CodeAccountInactive:    KindInvalidCredentials,
	CodeAccountLocked:      KindAccountLocked,
	CodeRateLimited:        KindRateLimited,
	CodeTokenExpired:       KindTokenInvalid,
	CodeTokenMalformed:     KindTokenInvalid,
	CodeTokenBadSignature:  KindTokenInvalid,
	CodeTokenRevoked:       KindTokenInvalid,
	CodeRefreshRejected:    KindTokenInvalid,
	CodeTokenAccount:       KindTokenInvalid,
	CodeResetNotFound:      KindResetTokenInvalid,
	CodeResetExpired:       KindResetTokenInvalid,
	CodeValidation:         KindValidation,
	CodeInvalidUsername:    KindValidation,
	CodeInvalidEmail:       KindValidation,
	CodeInvalidFullName:    KindValidation,
	CodeInvalidPhone:       KindValidation,
	CodeWeakPassword:       KindValidation,
	CodeEmptyPassword:      KindValidation,
	CodeWrongPassword:      KindValidation,
	CodeUsernameTaken:      KindConflict,
	CodeEmailTaken:         KindConflict,
	CodeAccountDuplicate:   KindConflict,
	CodeAccountNotFound:    KindNotFound,
}

// Narrow maps any internal error to the caller-facing *Error. The mapping is
// total: unknown codes and plain errors become KindInternal with a generic
// message, so no internal detail leaks.
func Narrow(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	code := errutil.Code(err)
	kind, ok := codeKinds[code]
	if !ok {
		switch {
		case errors.Is(err, ErrDuplicate):
			kind = KindConflict
		case errors.Is(err, ErrNotFound):
			kind = KindNotFound
		default:
			kind = KindInternal
		}
	}

	out := &Error{Kind: kind}
	switch kind {
	case KindInvalidCredentials:
		out.Message = genericCredentialsMsg
	case KindAccountLocked:
		out.Message = genericLockedMessage
		out.RetryAfter = retryAfter(err)
	case KindRateLimited:
		out.Message = genericRateMessage
		out.RetryAfter = retryAfter(err)
	case KindTokenInvalid:
		out.Message = genericTokenMessage
	case KindResetTokenInvalid:
		out.Message = genericResetMessage
	case KindValidation:
		out.Message = validationMessage(err)
	case KindConflict:
		switch code {
		case CodeUsernameTaken:
			out.Message = usernameTakenMessage
		case CodeEmailTaken:
			out.Message = emailTakenMessage
		default:
			out.Message = genericConflictMessage
		}
	case KindNotFound:
		out.Message = genericNotFoundMessage
	default:
		out.Message = genericInternalMessage
	}
	return out
}

// validationMessage returns the message of a validation error. Validation
// errors are built by this package from fixed, user-safe strings.
func validationMessage(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return validationFallbackMsg
	}
	if msg := oopsErr.Error(); msg != "" {
		return msg
	}
	return validationFallbackMsg
}

func retryAfter(err error) time.Duration {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return 0
	}
	if d, ok := oopsErr.Context()[retryAfterKey].(time.Duration); ok && d > 0 {
		return d
	}
	return 0
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid username or password")
}

func lockedError(remaining time.Duration) error {
	return oops.Code(CodeAccountLocked).
		With(retryAfterKey, remaining).
		Errorf("account is temporarily locked")
}

func tokenAccountUnavailable(reason string) error {
	return oops.Code(CodeTokenAccount).Errorf("%s", reason)
}

func validationError(format string, args ...any) error {
	return oops.Code(CodeValidation).Errorf(format, args...)
}
