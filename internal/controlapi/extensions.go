package controlapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentctl/controlplane/internal/apperr"
	"github.com/agentctl/controlplane/internal/httpserver"
	"github.com/agentctl/controlplane/pkg/store"
)

func pathExtensionName(r *http.Request) string { return chi.URLParam(r, "name") }

func (h *Handler) handleListExtensions(w http.ResponseWriter, r *http.Request) {
	project, err := h.store.GetProject(r.Context(), pathProject(r))
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	extensions := project.Extensions
	if extensions == nil {
		extensions = []store.Extension{}
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"extensions": extensions})
}

func (h *Handler) handleGetExtension(w http.ResponseWriter, r *http.Request) {
	project, err := h.store.GetProject(r.Context(), pathProject(r))
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}

	name := pathExtensionName(r)
	for _, ext := range project.Extensions {
		if ext.Name == name {
			httpserver.Respond(w, http.StatusOK, ext)
			return
		}
	}
	httpserver.RespondAppError(w, apperr.New(apperr.NotFound, "extension not found"))
}

type putExtensionRequest struct {
	Name    string            `json:"name"`
	Kind    string            `json:"kind" validate:"required,oneof=builtin stdio sse streamable_http frontend inline_python"`
	Enabled bool              `json:"enabled"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	URI     string            `json:"uri"`
	Code    string            `json:"code"`
}

func (h *Handler) handlePutExtension(w http.ResponseWriter, r *http.Request) {
	var req putExtensionRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	name := req.Name
	if fromPath := pathExtensionName(r); fromPath != "" {
		name = fromPath
	}
	if name == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_argument", "extension name is required")
		return
	}

	ext := store.Extension{
		Name:    name,
		Kind:    store.ExtensionKind(req.Kind),
		Enabled: req.Enabled,
		Command: req.Command,
		Args:    req.Args,
		Env:     req.Env,
		URI:     req.URI,
		Code:    req.Code,
	}

	if _, err := h.engine.PutExtension(r.Context(), pathProject(r), ext); err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"message": "extension saved"})
}

type toggleExtensionRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *Handler) handleToggleExtension(w http.ResponseWriter, r *http.Request) {
	var req toggleExtensionRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if _, err := h.engine.ToggleExtension(r.Context(), pathProject(r), pathExtensionName(r), req.Enabled); err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"message": "extension toggled"})
}

func (h *Handler) handleDeleteExtension(w http.ResponseWriter, r *http.Request) {
	if _, err := h.engine.RemoveExtension(r.Context(), pathProject(r), pathExtensionName(r)); err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"message": "extension removed"})
}
