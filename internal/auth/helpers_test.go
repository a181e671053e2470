// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package auth_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/mrcsystems/mrcauth/internal/auth"
	"github.com/mrcsystems/mrcauth/internal/auth/memory"
	"github.com/mrcsystems/mrcauth/internal/mail"
	"github.com/mrcsystems/mrcauth/internal/ratelimit"
	"github.com/mrcsystems/mrcauth/internal/revocation"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// fakeClock is a manually advanced clock safe for concurrent use.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testTokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		Secret:     testSecret,
		Issuer:     "mrcauth-test",
		AccessTTL:  8 * time.Hour,
		RefreshTTL: 30 * 24 * time.Hour,
	}
}

// capturingNotifier records reset notices.
type capturingNotifier struct {
	mu      sync.Mutex
	notices []mail.PasswordResetNotice
}

func (n *capturingNotifier) NotifyPasswordReset(_ context.Context, notice mail.PasswordResetNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *capturingNotifier) Notices() []mail.PasswordResetNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]mail.PasswordResetNotice(nil), n.notices...)
}

// countingRecorder counts auth.Recorder events by label.
type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) inc(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[key]++
}

func (r *countingRecorder) Count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

func (r *countingRecorder) LoginAttempt(outcome string)   { r.inc("login:" + outcome) }
func (r *countingRecorder) LockoutEngaged()               { r.inc("lockout") }
func (r *countingRecorder) RateLimited(class string)      { r.inc("ratelimited:" + class) }
func (r *countingRecorder) RateLimitStoreError()          { r.inc("ratelimit_store_error") }
func (r *countingRecorder) PasswordReset(stage, o string) { r.inc("reset:" + stage + ":" + o) }
func (r *countingRecorder) TokenRefresh(outcome string)   { r.inc("refresh:" + outcome) }

// harness wires a Service to in-memory collaborators.
type harness struct {
	svc      *auth.Service
	accounts *memory.AccountRepository
	resets   *memory.ResetRepository
	tokens   *auth.TokenIssuer
	store    *auth.ResetTokenStore
	hasher   *auth.Argon2idHasher
	clock    *fakeClock
	notifier *capturingNotifier
	metrics  *countingRecorder
}

type harnessOption func(*auth.ServiceDeps)

func withLimiter(l auth.RateLimiter) harnessOption {
	return func(d *auth.ServiceDeps) { d.Limiter = l }
}

func withTracerProvider(tp trace.TracerProvider) harnessOption {
	return func(d *auth.ServiceDeps) { d.TracerProvider = tp }
}

func withoutNotifier() harnessOption {
	return func(d *auth.ServiceDeps) { d.Notifier = nil }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		accounts: memory.NewAccountRepository(),
		resets:   memory.NewResetRepository(),
		hasher:   newTestHasher(t),
		clock:    newFakeClock(),
		notifier: &capturingNotifier{},
		metrics:  &countingRecorder{},
	}
	clock := auth.Clock(h.clock.Now)

	lockout, err := auth.NewLockoutTracker(h.accounts, auth.DefaultLockoutPolicy(), clock)
	require.NoError(t, err)
	h.tokens, err = auth.NewTokenIssuer(testTokenConfig(), revocation.NewMemoryDenylist(h.clock.Now), clock)
	require.NoError(t, err)
	h.store, err = auth.NewResetTokenStore(h.resets, auth.DefaultResetTTL, clock)
	require.NoError(t, err)

	deps := auth.ServiceDeps{
		Accounts: h.accounts,
		Hasher:   h.hasher,
		Lockout:  lockout,
		Tokens:   h.tokens,
		Resets:   h.store,
		Notifier: h.notifier,
		Metrics:  h.metrics,
		Logger:   slog.New(slog.DiscardHandler),
		Clock:    clock,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.svc, err = auth.NewService(deps)
	require.NoError(t, err)
	return h
}

const testPassword = "Str0ng!Pass"

// seed creates an active account through the service.
func (h *harness) seed(t *testing.T, username, email string) *auth.Account {
	t.Helper()
	account, err := h.svc.CreateMember(context.Background(), auth.NewMember{
		Username: username,
		Email:    email,
		Password: testPassword,
		FullName: "Test " + username,
	})
	require.NoError(t, err)
	return account
}

func newMemoryLimiter(t *testing.T, rules map[ratelimit.Class]ratelimit.Rule, now func() time.Time) *ratelimit.Limiter {
	t.Helper()
	store := ratelimit.NewMemoryStore(ratelimit.MemoryStoreConfig{Now: now})
	t.Cleanup(store.Close)
	limiter, err := ratelimit.New(store, rules)
	require.NoError(t, err)
	return limiter
}

func requireKind(t *testing.T, err error, kind auth.Kind) *auth.Error {
	t.Helper()
	require.Error(t, err)
	var authErr *auth.Error
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, kind, authErr.Kind, "message: %s", authErr.Message)
	return authErr
}
