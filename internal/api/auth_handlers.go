package api

import (
	"net/http"

	"github.com/safar/go-marketplace/internal/auth"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/store"
	"github.com/safar/go-marketplace/internal/validate"
)

type authResponse struct {
	Profile *models.Profile `json:"profile"`
	Tokens  *auth.TokenPair `json:"tokens"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var form validate.SignUpForm
	if err := s.decode(w, r, &form); err != nil {
		s.fail(w, r, err)
		return
	}

	profile, tokens, err := s.auth.SignUp(r.Context(), auth.SignUpInput{
		Email:    form.Email,
		Password: form.Password,
		FullName: form.FullName,
		Role:     models.Role(form.Role),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, authResponse{Profile: profile, Tokens: tokens})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var form validate.SignInForm
	if err := s.decode(w, r, &form); err != nil {
		s.fail(w, r, err)
		return
	}

	profile, tokens, err := s.auth.SignIn(r.Context(), form.Email, form.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, authResponse{Profile: profile, Tokens: tokens})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var form validate.RefreshForm
	if err := s.decode(w, r, &form); err != nil {
		s.fail(w, r, err)
		return
	}

	tokens, err := s.auth.Refresh(r.Context(), form.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.SignOut(r.Context(), auth.SessionFrom(r.Context())); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	profile, err := store.GetProfile(r.Context(), s.db, session.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"session": session,
		"profile": profile,
	})
}

// handleDeleteAccount removes the caller's profile and everything it owns,
// then revokes the token used for the request.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	if err := store.DeleteProfile(r.Context(), s.db, session.UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.auth.SignOut(r.Context(), session); err != nil {
		s.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
