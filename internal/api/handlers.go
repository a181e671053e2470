// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package api

import (
	"net/http"

	"github.com/mrcsystems/mrcauth/internal/auth"
)

const serviceName = "MRC Authentication API"

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": serviceName,
		"version": h.opts.Version,
	})
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}

	identifier := req.Identifier
	if identifier == "" {
		identifier = req.Username
	}
	if identifier == "" {
		identifier = req.Email
	}

	session, err := h.svc.Login(r.Context(), auth.LoginRequest{
		Identifier: identifier,
		Password:   req.Password,
		Remember:   req.RememberMe,
		ClientAddr: clientAddr(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setSessionCookies(w, session)
	body := sessionBody{
		Message:     "Login successful",
		AccessToken: session.Access.Value,
		User:        profileOf(session.Account),
	}
	if session.Refresh != nil {
		body.RefreshToken = session.Refresh.Value
	}
	writeJSON(w, http.StatusOK, body)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}

	token := refreshToken(r, req.RefreshToken)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Refresh token is required"})
		return
	}

	session, err := h.svc.Refresh(r.Context(), token, clientAddr(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setSessionCookies(w, session)
	body := sessionBody{AccessToken: session.Access.Value, User: profileOf(session.Account)}
	if session.Refresh != nil {
		body.RefreshToken = session.Refresh.Value
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}

	refresh := cookieValue(r, RefreshCookie)
	if refresh == "" {
		refresh = req.RefreshToken
	}
	h.svc.Logout(r.Context(), accessToken(r), refresh)

	h.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, messageBody{Message: "Logged out successfully"})
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userBody{User: profileOf(accountFrom(r.Context()))})
}

type profileRequest struct {
	Username        *string `json:"username"`
	Email           *string `json:"email"`
	FullName        *string `json:"full_name"`
	Phone           *string `json:"phone"`
	CurrentPassword string  `json:"current_password"`
	NewPassword     string  `json:"new_password"`
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decode(w, r, &req) {
		return
	}

	account, err := h.svc.UpdateProfile(r.Context(), accountFrom(r.Context()).ID, auth.ProfileUpdate{
		Username:        req.Username,
		Email:           req.Email,
		FullName:        req.FullName,
		Phone:           req.Phone,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userBody{Message: "Profile updated successfully", User: profileOf(account)})
}

type memberRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if !decode(w, r, &req) {
		return
	}

	account, err := h.svc.AddMember(r.Context(), accountFrom(r.Context()).ID, auth.NewMember{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Phone:    req.Phone,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userBody{Message: "Member added successfully", User: profileOf(account)})
}

type resetRequest struct {
	Email string `json:"email"`
}

func (h *Handler) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.svc.RequestPasswordReset(r.Context(), req.Email, clientAddr(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "If the email exists, a reset link has been sent"})
}

type resetCompleteRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetCompleteRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.svc.CompletePasswordReset(r.Context(), req.Token, req.NewPassword, clientAddr(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Password reset successfully"})
}
