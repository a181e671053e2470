// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/mrcsystems/mrcauth/internal/auth"
)

// Cookie names.
const (
	AccessCookie  = "access_token_cookie"
	RefreshCookie = "refresh_token_cookie"
)

// bearerToken returns the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// accessToken prefers the header over the cookie.
func accessToken(r *http.Request) string {
	if t := bearerToken(r); t != "" {
		return t
	}
	return cookieValue(r, AccessCookie)
}

// refreshToken checks the header, the cookie and then the body value.
func refreshToken(r *http.Request, body string) string {
	if t := bearerToken(r); t != "" {
		return t
	}
	if t := cookieValue(r, RefreshCookie); t != "" {
		return t
	}
	return strings.TrimSpace(body)
}

func (h *Handler) cookie(name, value string, expires time.Time) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cookies.Path,
		Domain:   h.cookies.Domain,
		Secure:   h.cookies.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if value == "" {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		return c
	}
	c.Expires = expires
	return c
}

func (h *Handler) setSessionCookies(w http.ResponseWriter, s *auth.Session) {
	http.SetCookie(w, h.cookie(AccessCookie, s.Access.Value, s.Access.ExpiresAt))
	if s.Refresh != nil {
		http.SetCookie(w, h.cookie(RefreshCookie, s.Refresh.Value, s.Refresh.ExpiresAt))
	}
}

func (h *Handler) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, h.cookie(AccessCookie, "", time.Time{}))
	http.SetCookie(w, h.cookie(RefreshCookie, "", time.Time{}))
}
