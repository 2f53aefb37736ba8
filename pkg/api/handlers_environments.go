package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/burrowhq/burrow/pkg/environment"
)

func (s *Server) handleCreateEnvironment(w http.ResponseWriter, r *http.Request) {
	var req environment.CreateRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	view, err := s.environments.Create(r.Context(), identity(r).UserID, req)
	if err != nil {
		respondError(w, err)
		return
	}

	s.record(r, "environment.create", "environment", view.ID, map[string]string{"name": view.Name})
	respond(w, http.StatusCreated, view)
}

func (s *Server) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	views, err := s.environments.List(r.Context(), identity(r).UserID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, views)
}

func (s *Server) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	view, err := s.environments.Get(r.Context(), identity(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, view)
}

func (s *Server) handleUpdateEnvironment(w http.ResponseWriter, r *http.Request) {
	var req environment.UpdateRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	envID := chi.URLParam(r, "id")
	view, err := s.environments.Update(r.Context(), identity(r).UserID, envID, req)
	if err != nil {
		respondError(w, err)
		return
	}

	s.record(r, "environment.update", "environment", envID, nil)
	respond(w, http.StatusOK, view)
}

func (s *Server) handleDeleteEnvironment(w http.ResponseWriter, r *http.Request) {
	envID := chi.URLParam(r, "id")
	if err := s.environments.Delete(r.Context(), identity(r).UserID, envID); err != nil {
		respondError(w, err)
		return
	}

	s.record(r, "environment.delete", "environment", envID, nil)
	respond(w, http.StatusOK, map[string]string{"id": envID})
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.environments.ListVersions(r.Context(), identity(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, versions)
}

type setSecretRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleSetSecret(w http.ResponseWriter, r *http.Request) {
	var req setSecretRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	envID := chi.URLParam(r, "id")
	if err := s.environments.SetSecret(r.Context(), identity(r).UserID, envID, req.Key, req.Value); err != nil {
		respondError(w, err)
		return
	}

	// The secret value never reaches the audit trail.
	s.record(r, "environment.secret.set", "environment", envID, map[string]string{"key": req.Key})
	respond(w, http.StatusOK, map[string]string{"key": req.Key})
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	envID := chi.URLParam(r, "id")
	key := chi.URLParam(r, "key")
	if err := s.environments.DeleteSecret(r.Context(), identity(r).UserID, envID, key); err != nil {
		respondError(w, err)
		return
	}

	s.record(r, "environment.secret.delete", "environment", envID, map[string]string{"key": key})
	respond(w, http.StatusOK, map[string]string{"key": key})
}
