// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package mail_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mrcsystems/mrcauth/internal/mail"
	"github.com/mrcsystems/mrcauth/pkg/errutil"
)

func TestPasswordResetMessage(t *testing.T) {
	t.Run("renders link and expiry", func(t *testing.T) {
		msg, err := mail.PasswordResetMessage(mail.PasswordResetNotice{
			Email:    "jane@example.com",
			FullName: "Jane Tech",
			Token:    "abc123",
			TTL:      time.Hour,
		}, "https://mrc.example/reset-password")
		require.NoError(t, err)

		assert.Equal(t, "jane@example.com", msg.To)
		assert.Equal(t, "Jane Tech", msg.ToName)
		assert.Equal(t, "Password Reset - MRC System", msg.Subject)
		assert.Contains(t, msg.Text, "Hello Jane Tech,")
		assert.Contains(t, msg.Text, "https://mrc.example/reset-password?token=abc123")
		assert.Contains(t, msg.Text, "expire in 1 hour")
	})

	t.Run("keeps existing query parameters", func(t *testing.T) {
		msg, err := mail.PasswordResetMessage(mail.PasswordResetNotice{
			Email: "a@example.com",
			Token: "t",
			TTL:   15 * time.Minute,
		}, "https://mrc.example/reset?lang=en")
		require.NoError(t, err)
		assert.Contains(t, msg.Text, "https://mrc.example/reset?lang=en&token=t")
		assert.Contains(t, msg.Text, "expire in 15 minutes")
		assert.Contains(t, msg.Text, "Hello a@example.com,")
	})

	t.Run("rejects unparseable base", func(t *testing.T) {
		_, err := mail.PasswordResetMessage(mail.PasswordResetNotice{Token: "t"}, "://bad")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "MAIL_RESET_LINK_INVALID")
	})
}

func TestHTTPSender(t *testing.T) {
	ctx := context.Background()

	t.Run("posts json with bearer auth", func(t *testing.T) {
		var got map[string]any
		var auth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		sender, err := mail.NewHTTPSender(mail.HTTPSenderConfig{
			URL:       srv.URL,
			APIKey:    "key-123",
			FromEmail: "noreply@mrc.example",
			FromName:  "MRC System",
			Timeout:   time.Second,
		})
		require.NoError(t, err)

		err = sender.Send(ctx, mail.Message{To: "jane@example.com", ToName: "Jane", Subject: "Hi", Text: "Body"})
		require.NoError(t, err)

		assert.Equal(t, "Bearer key-123", auth)
		assert.Equal(t, "Hi", got["subject"])
		assert.Equal(t, "Body", got["text"])
		assert.Equal(t, map[string]any{"email": "noreply@mrc.example", "name": "MRC System"}, got["from"])
		assert.Equal(t, []any{map[string]any{"email": "jane@example.com", "name": "Jane"}}, got["to"])
	})

	t.Run("error status is reported", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		sender, err := mail.NewHTTPSender(mail.HTTPSenderConfig{URL: srv.URL, FromEmail: "noreply@mrc.example"})
		require.NoError(t, err)

		err = sender.Send(ctx, mail.Message{To: "x@example.com"})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "MAIL_SEND_REJECTED")
		errutil.AssertErrorContext(t, err, "status", http.StatusUnauthorized)
	})

	t.Run("requires url and sender", func(t *testing.T) {
		_, err := mail.NewHTTPSender(mail.HTTPSenderConfig{FromEmail: "a@b.c"})
		require.Error(t, err)
		_, err = mail.NewHTTPSender(mail.HTTPSenderConfig{URL: "http://localhost"})
		require.Error(t, err)
	})
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	sender := mail.NewLogSender(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, sender.Send(context.Background(), mail.Message{To: "jane@example.com", Subject: "Hi", Text: "secret link"}))
	assert.Contains(t, buf.String(), "jane@example.com")
	assert.NotContains(t, buf.String(), "secret link")
}

type recordingSender struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
	gate chan struct{}
}

func (s *recordingSender) Send(_ context.Context, msg mail.Message) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return s.err
}

func (s *recordingSender) Sent() []mail.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mail.Message(nil), s.sent...)
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *countingRecorder) MailDispatched(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[outcome]++
}

func (r *countingRecorder) Count(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[outcome]
}

func TestDispatcher(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	cfg := mail.DispatcherConfig{ResetLinkBase: "https://mrc.example/reset-password"}

	t.Run("delivers queued reset emails before stopping", func(t *testing.T) {
		sender := &recordingSender{}
		recorder := &countingRecorder{}
		d, err := mail.NewDispatcher(sender, cfg, slog.New(slog.DiscardHandler), recorder)
		require.NoError(t, err)
		d.Start(ctx)

		d.NotifyPasswordReset(ctx, mail.PasswordResetNotice{Email: "a@example.com", Token: "t1", TTL: time.Hour})
		d.NotifyPasswordReset(ctx, mail.PasswordResetNotice{Email: "b@example.com", Token: "t2", TTL: time.Hour})
		d.Stop()

		sent := sender.Sent()
		require.Len(t, sent, 2)
		assert.Equal(t, "a@example.com", sent[0].To)
		assert.Equal(t, 2, recorder.Count(mail.OutcomeSent))
	})

	t.Run("delivery failure is recorded and swallowed", func(t *testing.T) {
		sender := &recordingSender{err: errors.New("smtp down")}
		recorder := &countingRecorder{}
		d, err := mail.NewDispatcher(sender, cfg, slog.New(slog.DiscardHandler), recorder)
		require.NoError(t, err)
		d.Start(ctx)

		assert.True(t, d.Enqueue(mail.Message{To: "a@example.com"}))
		d.Stop()
		assert.Equal(t, 1, recorder.Count(mail.OutcomeFailed))
	})

	t.Run("full queue drops without blocking", func(t *testing.T) {
		sender := &recordingSender{gate: make(chan struct{})}
		recorder := &countingRecorder{}
		d, err := mail.NewDispatcher(sender, mail.DispatcherConfig{
			QueueSize:     1,
			ResetLinkBase: cfg.ResetLinkBase,
		}, slog.New(slog.DiscardHandler), recorder)
		require.NoError(t, err)

		// Not started yet, so the single slot fills.
		assert.True(t, d.Enqueue(mail.Message{To: "1@example.com"}))
		assert.False(t, d.Enqueue(mail.Message{To: "2@example.com"}))
		assert.Equal(t, 1, recorder.Count(mail.OutcomeDropped))

		d.Start(ctx)
		close(sender.gate)
		d.Stop()
		assert.Len(t, sender.Sent(), 1)
	})

	t.Run("enqueue after stop is dropped", func(t *testing.T) {
		d, err := mail.NewDispatcher(&recordingSender{}, cfg, slog.New(slog.DiscardHandler), nil)
		require.NoError(t, err)
		d.Start(ctx)
		d.Stop()
		d.Stop()
		assert.False(t, d.Enqueue(mail.Message{To: "late@example.com"}))
	})

	t.Run("requires sender and link base", func(t *testing.T) {
		_, err := mail.NewDispatcher(nil, cfg, nil, nil)
		require.Error(t, err)
		_, err = mail.NewDispatcher(&recordingSender{}, mail.DispatcherConfig{}, nil, nil)
		require.Error(t, err)
	})
}
