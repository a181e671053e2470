// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

// Package mail builds and delivers transactional email.
package mail

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Message is a plain-text email to one recipient.
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// PasswordResetNotice carries what the reset email needs.
type PasswordResetNotice struct {
	Email    string
	FullName string
	Token    string
	TTL      time.Duration
}

const resetSubject = "Password Reset - MRC System"

// PasswordResetMessage renders the reset email, linking to linkBase with
// the token as a query parameter.
func PasswordResetMessage(n PasswordResetNotice, linkBase string) (Message, error) {
	link, err := resetLink(linkBase, n.Token)
	if err != nil {
		return Message{}, err
	}

	name := n.FullName
	if name == "" {
		name = n.Email
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", name)
	b.WriteString("You have requested a password reset for your MRC account.\n\n")
	b.WriteString("Please click the link below to reset your password:\n")
	b.WriteString(link + "\n\n")
	fmt.Fprintf(&b, "This link will expire in %s.\n\n", humanDuration(n.TTL))
	b.WriteString("If you did not request this reset, please ignore this email.\n\n")
	b.WriteString("Best regards,\nMRC System\n")

	return Message{
		To:      n.Email,
		ToName:  n.FullName,
		Subject: resetSubject,
		Text:    b.String(),
	}, nil
}

func resetLink(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", oops.Code("MAIL_RESET_LINK_INVALID").With("base", base).Wrap(err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func humanDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	switch {
	case d <= 0:
		return "a short while"
	case d%time.Hour == 0:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	default:
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
}
