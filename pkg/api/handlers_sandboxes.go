package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/burrowhq/burrow/pkg/errdefs"
	"github.com/burrowhq/burrow/pkg/sandbox"
	"github.com/burrowhq/burrow/pkg/storage"
	"github.com/burrowhq/burrow/pkg/types"
)

const (
	defaultLogTail = 100
	maxLogTail     = 1000
	previewTail    = 10
)

func (s *Server) handleCreateSandbox(w http.ResponseWriter, r *http.Request) {
	var req sandbox.CreateRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	sb, created, err := s.sandboxes.Create(r.Context(), identity(r).UserID, req)
	if err != nil {
		respondError(w, err)
		return
	}

	// An idempotent re-create returns the existing row; only the call that
	// actually inserted one leaves an audit entry.
	if created {
		s.record(r, "sandbox.create", "sandbox", sb.ID, map[string]string{"name": sb.Name})
	}
	// Provisioning continues in the background; the caller polls the row.
	respond(w, http.StatusAccepted, sb)
}

func (s *Server) handleListSandboxes(w http.ResponseWriter, r *http.Request) {
	filter := storage.SandboxFilter{
		Status:        types.SandboxStatus(r.URL.Query().Get("status")),
		EnvironmentID: r.URL.Query().Get("environmentId"),
	}

	sandboxes, err := s.sandboxes.List(r.Context(), identity(r).UserID, filter)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, sandboxes)
}

// sandboxDetail augments the row with a short log preview.
type sandboxDetail struct {
	*types.Sandbox
	LogsPreview []*types.SandboxLog `json:"logsPreview"`
}

func (s *Server) handleGetSandbox(w http.ResponseWriter, r *http.Request) {
	userID := identity(r).UserID
	sb, err := s.sandboxes.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}

	preview, err := s.sandboxes.Logs(r.Context(), userID, sb.ID, previewTail)
	if err != nil {
		preview = nil
	}
	respond(w, http.StatusOK, sandboxDetail{Sandbox: sb, LogsPreview: preview})
}

func (s *Server) handleDestroySandbox(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existed, err := s.sandboxes.Destroy(r.Context(), identity(r).UserID, id)
	if err != nil {
		respondError(w, err)
		return
	}

	if existed {
		s.record(r, "sandbox.destroy", "sandbox", id, nil)
	}
	respond(w, http.StatusOK, map[string]interface{}{"id": id, "destroyed": existed})
}

func (s *Server) handleStartSandbox(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sb, err := s.sandboxes.Start(r.Context(), identity(r).UserID, id)
	if err != nil {
		respondError(w, err)
		return
	}

	s.record(r, "sandbox.start", "sandbox", id, nil)
	respond(w, http.StatusOK, sb)
}

func (s *Server) handleStopSandbox(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sb, err := s.sandboxes.Stop(r.Context(), identity(r).UserID, id)
	if err != nil {
		respondError(w, err)
		return
	}

	s.record(r, "sandbox.stop", "sandbox", id, nil)
	respond(w, http.StatusOK, sb)
}

func (s *Server) handleRestartSandbox(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sb, err := s.sandboxes.Restart(r.Context(), identity(r).UserID, id)
	if err != nil {
		respondError(w, err)
		return
	}

	s.record(r, "sandbox.restart", "sandbox", id, nil)
	respond(w, http.StatusOK, sb)
}

func (s *Server) handleReplicateSandbox(w http.ResponseWriter, r *http.Request) {
	var req sandbox.ReplicateRequest
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			respondError(w, err)
			return
		}
	}

	id := chi.URLParam(r, "id")
	replica, err := s.sandboxes.Replicate(r.Context(), identity(r).UserID, id, req)
	if err != nil {
		respondError(w, err)
		return
	}

	s.record(r, "sandbox.replicate", "sandbox", replica.ID, map[string]string{"source": id})
	respond(w, http.StatusAccepted, replica)
}

func (s *Server) handleSandboxLogs(w http.ResponseWriter, r *http.Request) {
	tail := defaultLogTail
	if raw := r.URL.Query().Get("tail"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLogTail {
			respondError(w, errdefs.Newf(errdefs.KindValidation, "tail must be 1..%d", maxLogTail))
			return
		}
		tail = n
	}

	logs, err := s.sandboxes.Logs(r.Context(), identity(r).UserID, chi.URLParam(r, "id"), tail)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, logs)
}

func (s *Server) handleSandboxMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.sandboxes.Metrics(r.Context(), identity(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, m)
}

type execRequest struct {
	Command []string `json:"command"`
}

func (s *Server) handleSandboxExec(w http.ResponseWriter, r *http.Request) {
	var req execRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if len(req.Command) == 0 {
		respondError(w, errdefs.New(errdefs.KindValidation, "command is required"))
		return
	}

	id := chi.URLParam(r, "id")
	result, err := s.sandboxes.Exec(r.Context(), identity(r).UserID, id, req.Command)
	if err != nil {
		respondError(w, err)
		return
	}

	s.record(r, "sandbox.exec", "sandbox", id, nil)
	respond(w, http.StatusOK, result)
}
