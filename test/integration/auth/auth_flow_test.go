// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

//go:build integration

package auth_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-resty/resty/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mrcsystems/mrcauth/internal/api"
	"github.com/mrcsystems/mrcauth/internal/auth"
	authpg "github.com/mrcsystems/mrcauth/internal/auth/postgres"
	"github.com/mrcsystems/mrcauth/internal/mail"
	"github.com/mrcsystems/mrcauth/internal/ratelimit"
	"github.com/mrcsystems/mrcauth/internal/revocation"
	"github.com/mrcsystems/mrcauth/internal/store"
)

const (
	memberPassword = "Str0ng!Pass"
	resetPassword  = "N3w!Passw0rd"
)

// outbox captures reset notices instead of mailing them.
type outbox struct {
	mu      sync.Mutex
	notices []mail.PasswordResetNotice
}

func (o *outbox) NotifyPasswordReset(_ context.Context, n mail.PasswordResetNotice) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notices = append(o.notices, n)
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.notices)
}

func (o *outbox) last() mail.PasswordResetNotice {
	o.mu.Lock()
	defer o.mu.Unlock()
	Expect(o.notices).NotTo(BeEmpty())
	return o.notices[len(o.notices)-1]
}

type testEnv struct {
	ctx       context.Context
	container testcontainers.Container
	pool      *pgxpool.Pool
	redis     *miniredis.Miniredis
	client    redis.UniversalClient
	svc       *auth.Service
	outbox    *outbox
	server    *httptest.Server
}

var env *testEnv

var _ = BeforeSuite(func() {
	ctx := context.Background()
	env = &testEnv{ctx: ctx, outbox: &outbox{}}

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("mrcauth_test"),
		postgres.WithUsername("mrcauth"),
		postgres.WithPassword("mrcauth"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	Expect(err).NotTo(HaveOccurred())
	env.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	Expect(err).NotTo(HaveOccurred())
	Expect(store.MigrateUp(connStr)).To(Succeed())

	env.pool, err = store.Connect(ctx, connStr, store.ConnectConfig{}, nil)
	Expect(err).NotTo(HaveOccurred())

	env.redis, err = miniredis.Run()
	Expect(err).NotTo(HaveOccurred())
	env.client = redis.NewClient(&redis.Options{Addr: env.redis.Addr()})

	accounts := authpg.NewAccountRepository(env.pool)
	hasher, err := auth.NewArgon2idHasher(auth.HasherParams{Time: 1, Memory: 64, Threads: 1})
	Expect(err).NotTo(HaveOccurred())
	lockout, err := auth.NewLockoutTracker(accounts, auth.DefaultLockoutPolicy(), nil)
	Expect(err).NotTo(HaveOccurred())
	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{
		Secret:     []byte("integration-secret-0123456789abcdef"),
		Issuer:     "mrcauth-integration",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}, revocation.NewRedisDenylist(env.client, "mrcauth:"), nil)
	Expect(err).NotTo(HaveOccurred())
	resets, err := auth.NewResetTokenStore(authpg.NewResetRepository(env.pool), auth.DefaultResetTTL, nil)
	Expect(err).NotTo(HaveOccurred())

	rules := ratelimit.DefaultRules()
	rules[ratelimit.ClassLogin] = ratelimit.Rule{Limit: 50, Window: time.Minute}
	limiter, err := ratelimit.New(ratelimit.NewRedisStore(env.client, "mrcauth:ratelimit:"), rules)
	Expect(err).NotTo(HaveOccurred())

	logger := slog.New(slog.DiscardHandler)
	env.svc, err = auth.NewService(auth.ServiceDeps{
		Accounts: accounts,
		Hasher:   hasher,
		Lockout:  lockout,
		Tokens:   tokens,
		Resets:   resets,
		Limiter:  limiter,
		Notifier: env.outbox,
		Logger:   logger,
	})
	Expect(err).NotTo(HaveOccurred())

	handler := api.NewHandler(env.svc, api.Options{Version: "integration", Logger: logger})
	env.server = httptest.NewServer(handler.Routes())
})

var _ = AfterSuite(func() {
	if env == nil {
		return
	}
	if env.server != nil {
		env.server.Close()
	}
	if env.client != nil {
		_ = env.client.Close()
	}
	if env.redis != nil {
		env.redis.Close()
	}
	if env.pool != nil {
		env.pool.Close()
	}
	if env.container != nil {
		_ = env.container.Terminate(env.ctx)
	}
})

// newClient returns an HTTP client with its own cookie jar.
func newClient() *resty.Client {
	return resty.New().
		SetBaseURL(env.server.URL).
		SetHeader("Content-Type", "application/json")
}

type loginResponse struct {
	Message      string        `json:"message"`
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	User         *auth.Profile `json:"user"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func login(c *resty.Client, identifier, password string, remember bool) (*resty.Response, *loginResponse) {
	var out loginResponse
	resp, err := c.R().
		SetBody(map[string]any{"identifier": identifier, "password": password, "remember_me": remember}).
		SetResult(&out).
		Post("/api/auth/login")
	Expect(err).NotTo(HaveOccurred())
	return resp, &out
}

var _ = Describe("Auth flows", func() {
	BeforeEach(func() {
		_, err := env.pool.Exec(env.ctx, "TRUNCATE accounts, password_resets CASCADE")
		Expect(err).NotTo(HaveOccurred())
		env.redis.FlushAll()

		_, err = env.svc.CreateMember(env.ctx, auth.NewMember{
			Username: "jane",
			Email:    "jane@example.com",
			Password: memberPassword,
			FullName: "Jane Tech",
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Login and session", func() {
		It("signs in, reads the profile with the session cookie and signs out", func() {
			c := newClient()

			resp, body := login(c, "JANE@example.com", memberPassword, false)
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))
			Expect(body.Message).To(Equal("Login successful"))
			Expect(body.User.Username).To(Equal("jane"))

			resp, err := c.R().Get("/api/auth/profile")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))

			resp, err = c.R().Post("/api/auth/logout")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))

			// The revoked token is rejected even when presented explicitly.
			resp, err = newClient().R().SetAuthToken(body.AccessToken).Get("/api/auth/profile")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusUnauthorized))
		})

		It("rotates refresh tokens and rejects reuse", func() {
			c := newClient()
			_, body := login(c, "jane", memberPassword, true)
			Expect(body.RefreshToken).NotTo(BeEmpty())

			var refreshed loginResponse
			resp, err := newClient().R().
				SetBody(map[string]any{"refresh_token": body.RefreshToken}).
				SetResult(&refreshed).
				Post("/api/auth/refresh")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))
			Expect(refreshed.AccessToken).NotTo(BeEmpty())

			resp, err = newClient().R().
				SetBody(map[string]any{"refresh_token": body.RefreshToken}).
				Post("/api/auth/refresh")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusUnauthorized))
		})

		It("rejects deactivated accounts with the generic message", func() {
			_, err := env.svc.SetActive(env.ctx, "jane", false)
			Expect(err).NotTo(HaveOccurred())

			var failure errorResponse
			resp, err := newClient().R().
				SetBody(map[string]any{"identifier": "jane", "password": memberPassword}).
				SetError(&failure).
				Post("/api/auth/login")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusUnauthorized))
			Expect(failure.Error).To(Equal("Invalid credentials"))
		})
	})

	Describe("Lockout", func() {
		It("locks the account after five failures and persists the state", func() {
			c := newClient()
			for range 5 {
				resp, _ := login(c, "jane", "wrong-password", false)
				Expect(resp.StatusCode()).To(Equal(http.StatusUnauthorized))
			}

			resp, _ := login(c, "jane", memberPassword, false)
			Expect(resp.StatusCode()).To(Equal(http.StatusLocked))
			retry, err := strconv.Atoi(resp.Header().Get("Retry-After"))
			Expect(err).NotTo(HaveOccurred())
			Expect(retry).To(BeNumerically("~", 300, 5))

			var failed int
			var lockedUntil *time.Time
			Expect(env.pool.QueryRow(env.ctx,
				"SELECT failed_attempts, locked_until FROM accounts WHERE username = 'jane'").
				Scan(&failed, &lockedUntil)).To(Succeed())
			Expect(failed).To(Equal(5))
			Expect(lockedUntil).NotTo(BeNil())
		})

		It("clears the lockout after a password reset", func() {
			c := newClient()
			for range 5 {
				login(c, "jane", "wrong-password", false)
			}

			resp, err := c.R().SetBody(map[string]any{"email": "jane@example.com"}).
				Post("/api/auth/request-password-reset")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))

			resp, err = c.R().
				SetBody(map[string]any{"token": env.outbox.last().Token, "new_password": resetPassword}).
				Post("/api/auth/reset-password")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))

			resp, _ = login(c, "jane", resetPassword, false)
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))
		})
	})

	Describe("Password reset", func() {
		It("answers identically for unknown addresses", func() {
			before := env.outbox.count()
			known, err := newClient().R().SetBody(map[string]any{"email": "jane@example.com"}).
				Post("/api/auth/request-password-reset")
			Expect(err).NotTo(HaveOccurred())
			unknown, err := newClient().R().SetBody(map[string]any{"email": "ghost@example.com"}).
				Post("/api/auth/request-password-reset")
			Expect(err).NotTo(HaveOccurred())

			Expect(unknown.StatusCode()).To(Equal(known.StatusCode()))
			Expect(unknown.String()).To(Equal(known.String()))
			Expect(env.outbox.count()).To(Equal(before + 1))
		})

		It("supersedes older tokens and consumes the token once", func() {
			c := newClient()
			for range 2 {
				_, err := c.R().SetBody(map[string]any{"email": "jane@example.com"}).
					Post("/api/auth/request-password-reset")
				Expect(err).NotTo(HaveOccurred())
			}
			env.outbox.mu.Lock()
			first := env.outbox.notices[len(env.outbox.notices)-2].Token
			env.outbox.mu.Unlock()
			latest := env.outbox.last().Token

			resp, err := c.R().SetBody(map[string]any{"token": first, "new_password": resetPassword}).
				Post("/api/auth/reset-password")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusBadRequest))

			resp, err = c.R().SetBody(map[string]any{"token": latest, "new_password": resetPassword}).
				Post("/api/auth/reset-password")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))

			resp, err = c.R().SetBody(map[string]any{"token": latest, "new_password": "An0ther!Pass"}).
				Post("/api/auth/reset-password")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusBadRequest))
		})

		It("throttles repeated reset requests per client", func() {
			c := newClient()
			for range 3 {
				resp, err := c.R().SetBody(map[string]any{"email": "jane@example.com"}).
					Post("/api/auth/request-password-reset")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode()).To(Equal(http.StatusOK))
			}

			resp, err := c.R().SetBody(map[string]any{"email": "jane@example.com"}).
				Post("/api/auth/request-password-reset")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusTooManyRequests))
			Expect(resp.Header().Get("Retry-After")).NotTo(BeEmpty())
		})
	})
})
