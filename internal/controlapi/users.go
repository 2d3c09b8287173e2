package controlapi

import (
	"net/http"

	"github.com/agentctl/controlplane/internal/httpserver"
)

type userSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}

	out := make([]userSummary, 0, len(users))
	for _, u := range users {
		out = append(out, userSummary{ID: u.ID, Name: u.Name})
	}
	httpserver.Respond(w, http.StatusOK, out)
}

type githubKeyRequest struct {
	GithubKey *string `json:"github_key"`
}

func (h *Handler) handlePutUserGithubKey(w http.ResponseWriter, r *http.Request) {
	var req githubKeyRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.engine.UpdateUserGlobalToken(r.Context(), pathUser(r), req.GithubKey); err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"message": "github key updated"})
}

func (h *Handler) handleGetUserGithubKey(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUser(r.Context(), pathUser(r))
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]bool{"github_key_set": user.GlobalTokenSet})
}

func (h *Handler) handleDeleteUserGithubKey(w http.ResponseWriter, r *http.Request) {
	empty := ""
	if err := h.engine.UpdateUserGlobalToken(r.Context(), pathUser(r), &empty); err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"message": "github key removed"})
}
