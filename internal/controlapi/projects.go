package controlapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentctl/controlplane/internal/httpserver"
)

func pathProject(r *http.Request) string { return chi.URLParam(r, "pid") }

func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.store.ListProjectsByUser(r.Context(), pathUser(r))
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, projects)
}

type createProjectRequest struct {
	Name      string  `json:"name" validate:"required"`
	GithubKey *string `json:"github_key"`
	RepoURL   string  `json:"repo_url"`
}

func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	var token string
	if req.GithubKey != nil {
		token = *req.GithubKey
	}

	project, err := h.engine.CreateProject(r.Context(), pathUser(r), req.Name, req.RepoURL, token)
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusCreated, map[string]string{
		"project_id": project.ID,
		"message":    "project created",
	})
}

type updateProjectRequest struct {
	Name string `json:"name" validate:"required"`
}

func (h *Handler) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var req updateProjectRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if _, err := h.store.UpdateProjectFields(r.Context(), pathProject(r), map[string]any{"name": req.Name}); err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"message": "project updated"})
}

func (h *Handler) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteProject(r.Context(), pathProject(r)); err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"message": "project deleted"})
}

func (h *Handler) handleActivateProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.engine.ActivateProject(r.Context(), pathProject(r))
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{
		"message":  "project activated",
		"endpoint": project.Endpoint,
	})
}

func (h *Handler) handleDeactivateProject(w http.ResponseWriter, r *http.Request) {
	if _, err := h.engine.DeactivateProject(r.Context(), pathProject(r)); err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"message": "project deactivated"})
}

func (h *Handler) handleCloneRepository(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.CloneRepository(r.Context(), pathProject(r))
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"message":        "clone step completed",
		"has_repository": result.HasRepository,
	})
}

func (h *Handler) handlePutProjectGithubKey(w http.ResponseWriter, r *http.Request) {
	var req githubKeyRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if _, err := h.engine.UpdateGithubToken(r.Context(), pathProject(r), req.GithubKey); err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"message": "github key updated"})
}

func (h *Handler) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	project, err := h.store.GetProject(r.Context(), pathProject(r))
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"project_status":   project.Status,
		"endpoint":         project.Endpoint,
		"has_repository":   project.HasRepository,
		"last_clone_error": project.LastCloneError,
		"last_probe_error": project.LastProbeError,
	})
}
