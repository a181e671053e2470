// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mrcsystems/mrcauth/internal/mail"
	"github.com/mrcsystems/mrcauth/internal/ratelimit"
	"github.com/mrcsystems/mrcauth/pkg/errutil"
)

// RateLimiter throttles requests by endpoint class and client key.
type RateLimiter interface {
	Allow(ctx context.Context, class ratelimit.Class, key string) (ratelimit.Decision, error)
}

// ResetNotifier hands a reset link to the user. It must not block on delivery.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, n mail.PasswordResetNotice)
}

// Outcome labels passed to a Recorder.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeLocked             = "locked"
	OutcomeRateLimited        = "rate_limited"
	OutcomeRejected           = "rejected"
	OutcomeIgnored            = "ignored"
	OutcomeError              = "error"
)

// Reset stages passed to Recorder.PasswordReset.
const (
	StageRequest  = "request"
	StageComplete = "complete"
)

// Recorder observes security-relevant outcomes.
type Recorder interface {
	LoginAttempt(outcome string)
	LockoutEngaged()
	RateLimited(class string)
	RateLimitStoreError()
	PasswordReset(stage, outcome string)
	TokenRefresh(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) LoginAttempt(string)          {}
func (nopRecorder) LockoutEngaged()              {}
func (nopRecorder) RateLimited(string)           {}
func (nopRecorder) RateLimitStoreError()         {}
func (nopRecorder) PasswordReset(string, string) {}
func (nopRecorder) TokenRefresh(string)          {}

// TracerName names the tracer that Service spans are recorded under.
const TracerName = "mrcauth/auth"

// ServiceDeps are the collaborators of a Service. Limiter, Notifier,
// Metrics, Logger, Clock and TracerProvider are optional.
type ServiceDeps struct {
	Accounts AccountRepository
	Hasher   PasswordHasher
	Lockout  *LockoutTracker
	Tokens   *TokenIssuer
	Resets   *ResetTokenStore
	Limiter  RateLimiter
	Notifier ResetNotifier
	Metrics  Recorder
	Logger   *slog.Logger
	Clock    Clock

	TracerProvider trace.TracerProvider
}

// Service orchestrates credential checks, sessions and password resets.
// Every error it returns is an *Error.
type Service struct {
	accounts AccountRepository
	hasher   PasswordHasher
	lockout  *LockoutTracker
	tokens   *TokenIssuer
	resets   *ResetTokenStore
	limiter  RateLimiter
	notifier ResetNotifier
	metrics  Recorder
	logger   *slog.Logger
	clock    Clock
	tracer   trace.Tracer

	// dummyHash is verified against when no account matches, so unknown
	// identifiers cost the same as wrong passwords.
	dummyHash string
}

// NewService validates deps and creates a Service.
func NewService(deps ServiceDeps) (*Service, error) {
	switch {
	case deps.Accounts == nil:
		return nil, oops.Code("SERVICE_INVALID").Errorf("accounts repository is required")
	case deps.Hasher == nil:
		return nil, oops.Code("SERVICE_INVALID").Errorf("password hasher is required")
	case deps.Lockout == nil:
		return nil, oops.Code("SERVICE_INVALID").Errorf("lockout tracker is required")
	case deps.Tokens == nil:
		return nil, oops.Code("SERVICE_INVALID").Errorf("token issuer is required")
	case deps.Resets == nil:
		return nil, oops.Code("SERVICE_INVALID").Errorf("reset token store is required")
	}

	s := &Service{
		accounts: deps.Accounts,
		hasher:   deps.Hasher,
		lockout:  deps.Lockout,
		tokens:   deps.Tokens,
		resets:   deps.Resets,
		limiter:  deps.Limiter,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		clock:    deps.Clock,
	}
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	provider := deps.TracerProvider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	s.tracer = provider.Tracer(TracerName)

	seed := make([]byte, 16)
	if _, err := rand.Read(seed); err != nil {
		return nil, oops.Code("SERVICE_INVALID").Wrap(err)
	}
	dummy, err := s.hasher.Hash(hex.EncodeToString(seed))
	if err != nil {
		return nil, oops.Code("SERVICE_INVALID").With("operation", "hash dummy password").Wrap(err)
	}
	s.dummyHash = dummy
	return s, nil
}

// LoginRequest is the input to Login.
type LoginRequest struct {
	// Identifier is a username or an email address.
	Identifier string
	Password   string
	// Remember requests a refresh token.
	Remember   bool
	ClientAddr string
}

// Session is the result of a successful Login or Refresh.
type Session struct {
	Account *Account
	Access  IssuedToken
	Refresh *IssuedToken
}

// Login checks credentials and issues a session.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "auth.login",
		trace.WithAttributes(attribute.Bool("auth.remember", req.Remember)))
	session, err := s.login(ctx, req)
	endSpan(span, session, err)
	return session, err
}

func (s *Service) login(ctx context.Context, req LoginRequest) (*Session, error) {
	const op = "login"

	if err := s.throttle(ctx, ratelimit.ClassLogin, req.ClientAddr); err != nil {
		s.metrics.LoginAttempt(OutcomeRateLimited)
		return nil, err
	}

	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" || req.Password == "" {
		return nil, s.fail(ctx, op, validationError("Username/email and password are required"))
	}

	account, err := s.accounts.GetByIdentifier(ctx, identifier)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.metrics.LoginAttempt(OutcomeError)
		return nil, s.internal(ctx, op, err)
	}

	if account == nil || !account.Active {
		target := s.dummyHash
		if account != nil {
			target = account.PasswordHash
		}
		s.hasher.Verify(req.Password, target)
		s.decoyFailure(ctx)
		s.metrics.LoginAttempt(OutcomeInvalidCredentials)
		return nil, s.fail(ctx, op, invalidCredentials())
	}

	if err := s.lockout.Check(account.Lockout()); err != nil {
		s.metrics.LoginAttempt(OutcomeLocked)
		return nil, s.fail(ctx, op, err)
	}

	if !s.hasher.Verify(req.Password, account.PasswordHash) {
		return nil, s.loginFailed(ctx, account)
	}
	return s.loginSucceeded(ctx, account, req)
}

func (s *Service) loginFailed(ctx context.Context, account *Account) error {
	const op = "login"

	state, err := s.lockout.RecordFailure(ctx, account.ID)
	if err != nil {
		s.metrics.LoginAttempt(OutcomeError)
		return s.internal(ctx, op, err)
	}

	// The attempt that engages a lock still reports bad credentials; the
	// lock shows from the next attempt on.
	if state.IsLocked(s.clock.now()) {
		s.metrics.LockoutEngaged()
		s.logger.WarnContext(ctx, "account locked after repeated failures",
			"account_id", account.ID.String(),
			"failed_attempts", state.FailedAttempts,
			"locked_until", *state.LockedUntil)
	}

	s.metrics.LoginAttempt(OutcomeInvalidCredentials)
	return s.fail(ctx, op, invalidCredentials())
}

// decoyFailure runs a failure write against an id no account has, so a
// login for an unknown or inactive account makes the same store round trip
// as a wrong password.
func (s *Service) decoyFailure(ctx context.Context) {
	if _, err := s.lockout.RecordFailure(ctx, ulid.Make()); err != nil && !errors.Is(err, ErrNotFound) {
		errutil.LogWarn(ctx, s.logger, "decoy failure write", err)
	}
}

func (s *Service) loginSucceeded(ctx context.Context, account *Account, req LoginRequest) (*Session, error) {
	const op = "login"

	if err := s.lockout.Reset(ctx, account.ID); err != nil {
		s.metrics.LoginAttempt(OutcomeError)
		return nil, s.internal(ctx, op, err)
	}
	account.FailedAttempts = 0
	account.LockedUntil = nil

	now := s.clock.now()
	if err := s.accounts.RecordLogin(ctx, account.ID, now); err != nil {
		errutil.LogWarn(ctx, s.logger, "record last login", err, "account_id", account.ID.String())
	} else {
		account.LastLoginAt = &now
	}

	s.upgradeHash(ctx, account, req.Password)

	session, err := s.issue(account, req.Remember)
	if err != nil {
		s.metrics.LoginAttempt(OutcomeError)
		return nil, s.internal(ctx, op, err)
	}

	s.metrics.LoginAttempt(OutcomeSuccess)
	s.logger.InfoContext(ctx, "login succeeded",
		"account_id", account.ID.String(),
		"remember", req.Remember)
	return session, nil
}

// upgradeHash rehashes with current parameters. Failures leave the old
// hash in place and do not affect the login.
func (s *Service) upgradeHash(ctx context.Context, account *Account, password string) {
	if !s.hasher.NeedsUpgrade(account.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		errutil.LogWarn(ctx, s.logger, "rehash password", err, "account_id", account.ID.String())
		return
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash); err != nil {
		errutil.LogWarn(ctx, s.logger, "store upgraded password hash", err, "account_id", account.ID.String())
		return
	}
	account.PasswordHash = hash
	s.logger.InfoContext(ctx, "password hash upgraded", "account_id", account.ID.String())
}

func (s *Service) issue(account *Account, withRefresh bool) (*Session, error) {
	access, err := s.tokens.IssueAccess(account.ID)
	if err != nil {
		return nil, err
	}
	session := &Session{Account: account, Access: access}
	if withRefresh {
		refresh, err := s.tokens.IssueRefresh(account.ID)
		if err != nil {
			return nil, err
		}
		session.Refresh = &refresh
	}
	return session, nil
}

// Refresh exchanges a refresh token for a new access token and a rotated
// refresh token. The presented refresh token cannot be used again.
func (s *Service) Refresh(ctx context.Context, refreshToken, clientAddr string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "auth.refresh")
	session, err := s.refresh(ctx, refreshToken, clientAddr)
	endSpan(span, session, err)
	return session, err
}

func (s *Service) refresh(ctx context.Context, refreshToken, clientAddr string) (*Session, error) {
	const op = "refresh"

	if err := s.throttle(ctx, ratelimit.ClassRefresh, clientAddr); err != nil {
		s.metrics.TokenRefresh(OutcomeRateLimited)
		return nil, err
	}

	claims, err := s.tokens.Validate(ctx, refreshToken, TokenRefresh)
	if err != nil {
		return nil, s.refreshFailed(ctx, err)
	}
	account, err := s.loadTokenAccount(ctx, claims)
	if err != nil {
		return nil, s.refreshFailed(ctx, err)
	}

	fresh, err := s.tokens.Revoke(ctx, claims)
	if err != nil {
		return nil, s.refreshFailed(ctx, err)
	}
	if !fresh {
		s.logger.WarnContext(ctx, "refresh token replayed",
			"account_id", account.ID.String(),
			"jti", claims.ID)
		return nil, s.refreshFailed(ctx, oops.Code(CodeTokenRevoked).Errorf("refresh token already used"))
	}

	session, err := s.issue(account, true)
	if err != nil {
		s.metrics.TokenRefresh(OutcomeError)
		return nil, s.internal(ctx, op, err)
	}
	s.metrics.TokenRefresh(OutcomeSuccess)
	return session, nil
}

func (s *Service) refreshFailed(ctx context.Context, err error) error {
	out := s.fail(ctx, "refresh", err)
	if KindOf(out) == KindInternal {
		s.metrics.TokenRefresh(OutcomeError)
	} else {
		s.metrics.TokenRefresh(OutcomeRejected)
	}
	return out
}

// Logout revokes whichever of the two tokens are valid. Tokens that are
// malformed or expired are ignored and revocation failures are logged, so
// Logout always succeeds from the caller's view.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) {
	for _, t := range []struct {
		raw  string
		kind TokenKind
	}{
		{accessToken, TokenAccess},
		{refreshToken, TokenRefresh},
	} {
		if t.raw == "" {
			continue
		}
		claims, err := s.tokens.Validate(ctx, t.raw, t.kind)
		if err != nil {
			s.logger.DebugContext(ctx, "logout ignored unusable token",
				append(errutil.Attrs(err), "kind", string(t.kind))...)
			continue
		}
		if _, err := s.tokens.Revoke(ctx, claims); err != nil {
			errutil.LogError(ctx, s.logger, "revoke token on logout", err,
				"kind", string(t.kind),
				"account_id", claims.Subject)
		}
	}
}

// Authenticate validates an access token and returns its active account.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Account, error) {
	claims, err := s.tokens.Validate(ctx, accessToken, TokenAccess)
	if err != nil {
		return nil, s.fail(ctx, "authenticate", err)
	}
	account, err := s.loadTokenAccount(ctx, claims)
	if err != nil {
		return nil, s.fail(ctx, "authenticate", err)
	}
	return account, nil
}

// loadTokenAccount resolves the subject of valid claims to an active
// account. A missing or inactive account is a token failure, not NotFound.
func (s *Service) loadTokenAccount(ctx context.Context, claims *Claims) (*Account, error) {
	id, err := claims.AccountID()
	if err != nil {
		return nil, err
	}
	account, err := s.accounts.GetByID(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, tokenAccountUnavailable("token subject no longer exists")
	case err != nil:
		return nil, oops.Code("TOKEN_ACCOUNT_LOOKUP_FAILED").With("account_id", id.String()).Wrap(err)
	case !account.Active:
		return nil, tokenAccountUnavailable("token subject is inactive")
	}
	return account, nil
}

// RequestPasswordReset issues a reset token and queues the email. The
// result is the same whether or not the email belongs to an account, and
// failures after the lookup are logged rather than returned.
func (s *Service) RequestPasswordReset(ctx context.Context, email, clientAddr string) error {
	ctx, span := s.tracer.Start(ctx, "auth.request_password_reset")
	err := s.requestPasswordReset(ctx, email, clientAddr)
	endSpan(span, nil, err)
	return err
}

func (s *Service) requestPasswordReset(ctx context.Context, email, clientAddr string) error {
	const op = "request password reset"

	if err := s.throttle(ctx, ratelimit.ClassResetRequest, clientAddr); err != nil {
		s.metrics.PasswordReset(StageRequest, OutcomeRateLimited)
		return err
	}

	email = strings.TrimSpace(email)
	if email == "" {
		return s.fail(ctx, op, oops.Code(CodeInvalidEmail).Errorf("Email is required"))
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.metrics.PasswordReset(StageRequest, OutcomeError)
		return s.internal(ctx, op, err)
	}

	if account == nil || !account.Active {
		s.decoyReset(ctx)
		s.metrics.PasswordReset(StageRequest, OutcomeIgnored)
		s.logger.InfoContext(ctx, "password reset requested for unknown or inactive account")
		return nil
	}

	token, _, err := s.resets.Create(ctx, account.ID)
	if err != nil {
		errutil.LogError(ctx, s.logger, "create reset token", err, "account_id", account.ID.String())
		s.metrics.PasswordReset(StageRequest, OutcomeError)
		return nil
	}

	if s.notifier == nil {
		s.logger.WarnContext(ctx, "no mail notifier configured, reset email not sent",
			"account_id", account.ID.String())
	} else {
		s.notifier.NotifyPasswordReset(ctx, mail.PasswordResetNotice{
			Email:    account.Email,
			FullName: account.FullName,
			Token:    token,
			TTL:      s.resets.TTL(),
		})
	}

	s.metrics.PasswordReset(StageRequest, OutcomeSuccess)
	s.logger.InfoContext(ctx, "password reset requested", "account_id", account.ID.String())
	return nil
}

// decoyReset pays for a token and a store round trip when no email will be
// sent, so unknown addresses are not answered faster.
func (s *Service) decoyReset(ctx context.Context) {
	token, _, err := GenerateResetToken()
	if err != nil {
		errutil.LogWarn(ctx, s.logger, "generate decoy reset token", err)
		return
	}
	if _, err := s.resets.Consume(ctx, token); err != nil && Narrow(err).Kind != KindResetTokenInvalid {
		errutil.LogWarn(ctx, s.logger, "decoy reset lookup", err)
	}
}

// CompletePasswordReset redeems token and sets newPassword. The lockout
// state of the account is cleared.
func (s *Service) CompletePasswordReset(ctx context.Context, token, newPassword, clientAddr string) error {
	ctx, span := s.tracer.Start(ctx, "auth.complete_password_reset")
	err := s.completePasswordReset(ctx, token, newPassword, clientAddr)
	endSpan(span, nil, err)
	return err
}

func (s *Service) completePasswordReset(ctx context.Context, token, newPassword, clientAddr string) error {
	const op = "complete password reset"

	if err := s.throttle(ctx, ratelimit.ClassResetComplete, clientAddr); err != nil {
		s.metrics.PasswordReset(StageComplete, OutcomeRateLimited)
		return err
	}

	if strings.TrimSpace(token) == "" || newPassword == "" {
		return s.fail(ctx, op, validationError("Token and new password are required"))
	}
	if err := ValidatePasswordStrength(newPassword); err != nil {
		return s.fail(ctx, op, err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.metrics.PasswordReset(StageComplete, OutcomeError)
		return s.internal(ctx, op, err)
	}

	accountID, err := s.resets.Consume(ctx, strings.TrimSpace(token))
	if err != nil {
		out := s.fail(ctx, op, err)
		if KindOf(out) == KindInternal {
			s.metrics.PasswordReset(StageComplete, OutcomeError)
		} else {
			s.metrics.PasswordReset(StageComplete, OutcomeRejected)
		}
		return out
	}

	if err := s.accounts.UpdatePassword(ctx, accountID, hash); err != nil {
		s.metrics.PasswordReset(StageComplete, OutcomeError)
		return s.internal(ctx, op, err)
	}
	if err := s.lockout.Reset(ctx, accountID); err != nil {
		errutil.LogWarn(ctx, s.logger, "clear lockout after password reset", err,
			"account_id", accountID.String())
	}

	s.metrics.PasswordReset(StageComplete, OutcomeSuccess)
	s.logger.InfoContext(ctx, "password reset completed", "account_id", accountID.String())
	return nil
}

// throttle applies the rate limit for class. A limiter failure lets the
// request through.
func (s *Service) throttle(ctx context.Context, class ratelimit.Class, client string) error {
	if s.limiter == nil {
		return nil
	}
	decision, err := s.limiter.Allow(ctx, class, client)
	if err != nil {
		s.metrics.RateLimitStoreError()
		errutil.LogWarn(ctx, s.logger, "rate limiter unavailable, allowing request", err,
			"class", string(class))
		return nil
	}
	if decision.Allowed {
		return nil
	}
	s.metrics.RateLimited(string(class))
	return s.fail(ctx, string(class), oops.Code(CodeRateLimited).
		With(retryAfterKey, decision.RetryAfter).
		With("class", string(class)).
		Errorf("rate limit exceeded"))
}

// fail narrows err for the caller. Internal failures are logged at error
// level with their full context; expected rejections at debug.
func (s *Service) fail(ctx context.Context, op string, err error) error {
	out := Narrow(err)
	if out.Kind == KindInternal {
		errutil.LogError(ctx, s.logger, op+" failed", err, "operation", op)
		return out
	}
	s.logger.DebugContext(ctx, op+" rejected",
		append(errutil.Attrs(err), "operation", op, "kind", out.Kind.String())...)
	return out
}

// internal logs err and returns a generic internal error regardless of
// any code err carries.
func (s *Service) internal(ctx context.Context, op string, err error) error {
	errutil.LogError(ctx, s.logger, op+" failed", err, "operation", op)
	return &Error{Kind: KindInternal, Message: genericInternalMessage}
}

// endSpan records the outcome of a Service call on span and ends it.
func endSpan(span trace.Span, session *Session, err error) {
	if session != nil && session.Account != nil {
		span.SetAttributes(attribute.String("account.id", session.Account.ID.String()))
	}
	if err != nil {
		span.SetAttributes(attribute.String("auth.error_kind", KindOf(err).String()))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
