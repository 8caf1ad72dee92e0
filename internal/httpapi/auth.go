package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ent0n29/xianwen/internal/auth"
	"github.com/ent0n29/xianwen/internal/policy"
	"github.com/ent0n29/xianwen/internal/users"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	User  users.User `json:"user"`
	Token string     `json:"token"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	u, token, err := s.auth.Register(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrMissingFields), errors.Is(err, auth.ErrPasswordTooLong):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	case errors.Is(err, users.ErrEmailTaken):
		s.logger.Info("register rejected", slog.String("email", policy.MaskEmail(users.NormalizeEmail(req.Email))))
		respondError(w, http.StatusBadRequest, "email_taken", "user already exists")
		return
	default:
		s.logger.Error("register failed", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "internal", "registration failed")
		return
	}
	s.observeAuth("register")
	respondJSON(w, http.StatusCreated, authResponse{User: u, Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	u, token, err := s.auth.Login(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrMissingFields), errors.Is(err, auth.ErrPasswordTooLong):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.observeAuth("login_failed")
		s.logger.Info("login rejected", slog.String("email", policy.MaskEmail(users.NormalizeEmail(req.Email))))
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	default:
		s.logger.Error("login failed", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "internal", "login failed")
		return
	}
	s.observeAuth("login")
	respondJSON(w, http.StatusOK, authResponse{User: u, Token: token})
}

// Tokens are stateless, so logout only drops server-side conversation state.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	cleared := s.chats.ClearUser(id.UserID)
	s.observeAuth("logout")
	respondJSON(w, http.StatusOK, map[string]any{
		"message":               "Logged out successfully",
		"conversations_cleared": cleared,
	})
}
