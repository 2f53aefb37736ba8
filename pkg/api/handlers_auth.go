package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/burrowhq/burrow/pkg/types"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User  *types.User `json:"user"`
	Token string      `json:"token"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	user, token, err := s.auth.Signup(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusCreated, sessionResponse{User: user, Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	user, token, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusOK, sessionResponse{User: user, Token: token})
}

type createKeyRequest struct {
	Name string `json:"name"`
}

// createKeyResponse carries the secret exactly once; it is never shown
// again.
type createKeyResponse struct {
	Key    *types.APIKey `json:"key"`
	Secret string        `json:"secret"`
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	key, secret, err := s.auth.CreateKey(r.Context(), identity(r).UserID, req.Name)
	if err != nil {
		respondError(w, err)
		return
	}

	s.record(r, "apikey.create", "api_key", key.ID, map[string]string{"name": key.Name})
	respond(w, http.StatusCreated, createKeyResponse{Key: key, Secret: secret})
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.auth.ListKeys(r.Context(), identity(r).UserID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, keys)
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "id")
	if err := s.auth.RevokeKey(r.Context(), identity(r).UserID, keyID); err != nil {
		respondError(w, err)
		return
	}

	s.record(r, "apikey.revoke", "api_key", keyID, nil)
	respond(w, http.StatusOK, map[string]string{"id": keyID})
}
