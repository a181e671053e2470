// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcsystems/mrcauth/internal/auth"
	"github.com/mrcsystems/mrcauth/internal/mail"
)

// AuthMetrics records auth and mail outcomes as Prometheus counters.
type AuthMetrics struct {
	LoginAttempts    *prometheus.CounterVec
	Lockouts         prometheus.Counter
	RateLimitedTotal *prometheus.CounterVec
	RateLimitErrors  prometheus.Counter
	PasswordResets   *prometheus.CounterVec
	TokenRefreshes   *prometheus.CounterVec
	MailDispatches   *prometheus.CounterVec

	reg prometheus.Registerer
}

// NewAuthMetrics creates the auth metrics and registers them on reg.
func NewAuthMetrics(reg prometheus.Registerer) *AuthMetrics {
	m := &AuthMetrics{
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mrcauth_login_attempts_total",
			Help: "Login attempts by outcome",
		}, []string{"outcome"}),
		Lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mrcauth_lockouts_total",
			Help: "Failed attempts that left an account locked",
		}),
		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mrcauth_rate_limited_total",
			Help: "Requests refused by the rate limiter, by endpoint class",
		}, []string{"class"}),
		RateLimitErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mrcauth_ratelimit_store_errors_total",
			Help: "Rate-limit store failures; requests were allowed",
		}),
		PasswordResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mrcauth_password_resets_total",
			Help: "Password reset requests and completions by outcome",
		}, []string{"stage", "outcome"}),
		TokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mrcauth_token_refresh_total",
			Help: "Refresh token exchanges by outcome",
		}, []string{"outcome"}),
		MailDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mrcauth_mail_dispatch_total",
			Help: "Outgoing email by dispatch outcome",
		}, []string{"outcome"}),
		reg: reg,
	}

	reg.MustRegister(
		m.LoginAttempts,
		m.Lockouts,
		m.RateLimitedTotal,
		m.RateLimitErrors,
		m.PasswordResets,
		m.TokenRefreshes,
		m.MailDispatches,
	)
	return m
}

// TrackGauge exposes fn as a gauge, e.g. the number of keys held by the
// in-memory rate-limit store.
func (m *AuthMetrics) TrackGauge(name, help string, fn func() float64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

// LoginAttempt implements auth.Recorder.
func (m *AuthMetrics) LoginAttempt(outcome string) {
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

// LockoutEngaged implements auth.Recorder.
func (m *AuthMetrics) LockoutEngaged() {
	m.Lockouts.Inc()
}

// RateLimited implements auth.Recorder.
func (m *AuthMetrics) RateLimited(class string) {
	m.RateLimitedTotal.WithLabelValues(class).Inc()
}

// RateLimitStoreError implements auth.Recorder.
func (m *AuthMetrics) RateLimitStoreError() {
	m.RateLimitErrors.Inc()
}

// PasswordReset implements auth.Recorder.
func (m *AuthMetrics) PasswordReset(stage, outcome string) {
	m.PasswordResets.WithLabelValues(stage, outcome).Inc()
}

// TokenRefresh implements auth.Recorder.
func (m *AuthMetrics) TokenRefresh(outcome string) {
	m.TokenRefreshes.WithLabelValues(outcome).Inc()
}

// MailDispatched implements mail.Recorder.
func (m *AuthMetrics) MailDispatched(outcome string) {
	m.MailDispatches.WithLabelValues(outcome).Inc()
}

var (
	_ auth.Recorder = (*AuthMetrics)(nil)
	_ mail.Recorder = (*AuthMetrics)(nil)
)
