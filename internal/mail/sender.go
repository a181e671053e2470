// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package mail

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samber/oops"
)

// HTTPSenderConfig configures an HTTPSender.
type HTTPSenderConfig struct {
	URL       string
	APIKey    string
	FromEmail string
	FromName  string
	Timeout   time.Duration
}

// HTTPSender posts messages to a JSON mail API with bearer authentication.
type HTTPSender struct {
	client *resty.Client
	cfg    HTTPSenderConfig
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendRequest struct {
	From    address   `json:"from"`
	To      []address `json:"to"`
	Subject string    `json:"subject"`
	Text    string    `json:"text"`
}

// NewHTTPSender creates an HTTPSender.
func NewHTTPSender(cfg HTTPSenderConfig) (*HTTPSender, error) {
	if cfg.URL == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("mail API URL is required")
	}
	if cfg.FromEmail == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("sender address is required")
	}
	client := resty.New().
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &HTTPSender{client: client, cfg: cfg}, nil
}

// Send implements Sender.
func (s *HTTPSender) Send(ctx context.Context, msg Message) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(sendRequest{
			From:    address{Email: s.cfg.FromEmail, Name: s.cfg.FromName},
			To:      []address{{Email: msg.To, Name: msg.ToName}},
			Subject: msg.Subject,
			Text:    msg.Text,
		}).
		Post(s.cfg.URL)
	if err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("operation", "post").
			Wrap(err)
	}
	if resp.IsError() {
		return oops.Code("MAIL_SEND_REJECTED").
			With("status", resp.StatusCode()).
			Errorf("mail API responded %s", resp.Status())
	}
	return nil
}

// LogSender logs messages instead of delivering them. The body, which may
// hold a reset link, is only logged at debug level.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender. A nil logger uses slog.Default.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send implements Sender.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "mail not delivered, log sender active",
		"to", msg.To,
		"subject", msg.Subject)
	s.logger.DebugContext(ctx, "mail body", "body", msg.Text)
	return nil
}

var (
	_ Sender = (*HTTPSender)(nil)
	_ Sender = (*LogSender)(nil)
)
