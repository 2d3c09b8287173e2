package controlapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentctl/controlplane/internal/httpserver"
	"github.com/agentctl/controlplane/pkg/store"
)

func pathSession(r *http.Request) string { return chi.URLParam(r, "sid") }

type createSessionRequest struct {
	Name string `json:"name" validate:"required"`
}

// handleCreateSession implements create_session (§3): sessions can only be
// created against a running agent, which mints the session_id. The proxy
// rejects this against anything but an active project before we ever touch
// the agent.
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	created, err := h.proxy.CreateSession(r.Context(), pathProject(r), req.Name)
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}

	sess := store.Session{
		SessionID: created.SessionID,
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := h.store.PutSession(r.Context(), pathProject(r), sess); err != nil {
		httpserver.RespondAppError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusCreated, map[string]any{"session": sess})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	project, err := h.store.GetProject(r.Context(), pathProject(r))
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	sessions := project.Sessions
	if sessions == nil {
		sessions = []store.Session{}
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleDeleteSession implements delete_session (§3): the agent must
// confirm deletion before the local summary is dropped.
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.proxy.DeleteSession(r.Context(), pathProject(r), pathSession(r)); err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	if _, err := h.store.RemoveSession(r.Context(), pathProject(r), pathSession(r)); err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"message": "session deleted"})
}

// handleListMessages proxies message history to the agent's synchronous
// endpoint; the control plane does not persist chat transcripts itself.
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	raw, err := h.proxy.ListMessages(r.Context(), pathProject(r), pathSession(r))
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}

	var messages []json.RawMessage
	_ = json.Unmarshal(raw, &messages)

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"session_id":  pathSession(r),
		"messages":    messages,
		"total_count": len(messages),
	})
}
