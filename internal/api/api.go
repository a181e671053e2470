// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

// Package api exposes the auth service over HTTP with JSON bodies. Tokens
// travel in the Authorization header or in HttpOnly cookies.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"

	"github.com/mrcsystems/mrcauth/internal/auth"
)

// AuthService is the part of auth.Service the API calls.
type AuthService interface {
	Login(ctx context.Context, req auth.LoginRequest) (*auth.Session, error)
	Refresh(ctx context.Context, refreshToken, clientAddr string) (*auth.Session, error)
	Logout(ctx context.Context, accessToken, refreshToken string)
	Authenticate(ctx context.Context, accessToken string) (*auth.Account, error)
	UpdateProfile(ctx context.Context, id ulid.ULID, upd auth.ProfileUpdate) (*auth.Account, error)
	AddMember(ctx context.Context, actorID ulid.ULID, m auth.NewMember) (*auth.Account, error)
	RequestPasswordReset(ctx context.Context, email, clientAddr string) error
	CompletePasswordReset(ctx context.Context, token, newPassword, clientAddr string) error
}

var _ AuthService = (*auth.Service)(nil)

// CookieOptions controls the token cookies.
type CookieOptions struct {
	Secure bool
	Domain string
	Path   string
}

// Options configures a Handler.
type Options struct {
	// Version is reported by the health endpoint.
	Version string
	// TrustProxy takes the client address from X-Forwarded-For or
	// X-Real-IP. Leave off unless a proxy sets those headers.
	TrustProxy bool
	Cookies    CookieOptions
	Logger     *slog.Logger
}

// Handler serves the auth API.
type Handler struct {
	svc     AuthService
	cookies CookieOptions
	opts    Options
	logger  *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc AuthService, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Cookies.Path == "" {
		opts.Cookies.Path = "/"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Handler{svc: svc, cookies: opts.Cookies, opts: opts, logger: logger}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if h.opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", h.health)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", h.login)
		r.Post("/refresh", h.refresh)
		r.Post("/logout", h.logout)
		r.Post("/request-password-reset", h.requestPasswordReset)
		r.Post("/reset-password", h.resetPassword)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAccount)
			r.Get("/profile", h.profile)
			r.Put("/profile", h.updateProfile)
			r.Post("/add-member", h.addMember)
		})
	})

	r.With(h.requireAccount).Get("/api/me", h.profile)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
	})
	return r
}
