// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package api

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/mrcsystems/mrcauth/internal/auth"
)

type errorBody struct {
	Error string `json:"error"`
}

type messageBody struct {
	Message string `json:"message"`
}

type userBody struct {
	Message string        `json:"message,omitempty"`
	User    *auth.Profile `json:"user"`
}

type sessionBody struct {
	Message      string        `json:"message,omitempty"`
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	User         *auth.Profile `json:"user"`
}

var kindStatus = map[auth.Kind]int{
	auth.KindInvalidCredentials: http.StatusUnauthorized,
	auth.KindTokenInvalid:       http.StatusUnauthorized,
	auth.KindAccountLocked:      http.StatusLocked,
	auth.KindRateLimited:        http.StatusTooManyRequests,
	auth.KindResetTokenInvalid:  http.StatusBadRequest,
	auth.KindValidation:         http.StatusBadRequest,
	auth.KindConflict:           http.StatusConflict,
	auth.KindNotFound:           http.StatusNotFound,
	auth.KindInternal:           http.StatusInternalServerError,
}

// StatusFor returns the HTTP status for a service error.
func StatusFor(kind auth.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func profileOf(a *auth.Account) *auth.Profile {
	p := a.Profile()
	return &p
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(body)
}

// writeError renders a service error. Service errors are already
// narrowed and logged; anything else is reported as internal.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *auth.Error
	if !errors.As(err, &authErr) {
		h.logger.ErrorContext(r.Context(), "unexpected error type from auth service", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal error"})
		return
	}

	if authErr.RetryAfter > 0 {
		seconds := int(math.Ceil(authErr.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	writeJSON(w, StatusFor(authErr.Kind), errorBody{Error: authErr.Message})
}

const maxBodyBytes = 64 << 10

// decode reads a JSON object into dst. An empty body leaves dst untouched.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid JSON was passed"})
	return false
}
