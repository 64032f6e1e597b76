package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trinetra-eo/cogcatalog/internal/auth"
	apperrors "github.com/trinetra-eo/cogcatalog/internal/errors"
	"github.com/trinetra-eo/cogcatalog/internal/model"
	"github.com/trinetra-eo/cogcatalog/internal/storage"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type sessionResponse struct {
	User      *model.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// handleLogin handles POST /auth/login. The token is set as an HTTP-only cookie
// and echoed in the body for non-browser clients.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleLogin")
	defer span.End()

	var req loginRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	invalid := apperrors.Invalid(apperrors.CAT_AUTHN, "invalid email or password")

	u, err := s.store.GetUserByEmail(r.Context(), strings.ToLower(req.Email))
	if errors.Is(err, storage.ErrNotFound) {
		s.fail(w, r, invalid)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := auth.CheckPassword(u.PasswordHash, req.Password); err != nil {
		slog.InfoContext(r.Context(), "login rejected", "correlation_id", CorrelationID(r.Context()), "user_id", u.ID)
		s.fail(w, r, invalid)
		return
	}

	token, exp, err := s.tokens.Issue(*u)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	http.SetCookie(w, auth.SessionCookie(token, exp, s.opts.SecureCookies))
	writeSuccess(w, http.StatusOK, sessionResponse{User: u, Token: token, ExpiresAt: exp})
}

// handleLogout handles POST /auth/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, auth.ClearCookie(s.opts.SecureCookies))
	writeSuccess(w, http.StatusOK, map[string]bool{"loggedOut": true})
}

// handleValidateToken handles GET /auth/validate-token
func (s *Server) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	resp := map[string]interface{}{
		"valid":  true,
		"userId": claims.Subject,
		"email":  claims.Email,
	}
	if claims.ExpiresAt != nil {
		resp["expiresAt"] = claims.ExpiresAt.Time
	}
	writeSuccess(w, http.StatusOK, resp)
}

type registerRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	FirstName string `json:"firstName" validate:"max=128"`
	LastName  string `json:"lastName" validate:"max=128"`
}

// handleRegister handles POST /users/register
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleRegister")
	defer span.End()

	var req registerRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	u := model.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(req.Email),
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), u); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			s.fail(w, r, apperrors.Invalid(apperrors.CAT_CONFLICT, "email already registered"))
			return
		}
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, u)
}

// handleMe handles GET /users/me
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleMe")
	defer span.End()

	claims, _ := ClaimsFrom(r.Context())
	u, err := s.store.GetUser(r.Context(), claims.Subject)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, u)
}
