package controlapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentctl/controlplane/internal/httpserver"
	"github.com/agentctl/controlplane/pkg/settings"
	"github.com/agentctl/controlplane/pkg/store"
)

func pathSettingKey(r *http.Request) string { return chi.URLParam(r, "key") }

func (h *Handler) handleListSettings(w http.ResponseWriter, r *http.Request) {
	project, err := h.store.GetProject(r.Context(), pathProject(r))
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}

	out := map[string]store.Setting{}
	for key, def := range settings.Registry {
		s, ok := project.Settings[key]
		if !ok {
			s = store.Setting{Key: key, Type: def.Type, RequiresRestart: def.RequiresRestart}
		}
		s.Default = def.Default
		out[key] = s
	}
	httpserver.Respond(w, http.StatusOK, out)
}

func (h *Handler) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	project, err := h.store.GetProject(r.Context(), pathProject(r))
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}

	key := pathSettingKey(r)
	def, ok := settings.Registry[key]
	if !ok {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "unrecognized setting")
		return
	}

	s, ok := project.Settings[key]
	if !ok {
		s = store.Setting{Key: key, Type: def.Type, RequiresRestart: def.RequiresRestart}
	}
	s.Default = def.Default
	httpserver.Respond(w, http.StatusOK, s)
}

type putSettingRequest struct {
	Value string `json:"value"`
}

func (h *Handler) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	var req putSettingRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	key := pathSettingKey(r)
	def, ok := settings.Registry[key]
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_argument", "unrecognized setting")
		return
	}

	change := map[string]store.Setting{
		key: {Key: key, Type: def.Type, Value: req.Value, RequiresRestart: def.RequiresRestart},
	}
	if _, err := h.engine.UpdateSettings(r.Context(), pathProject(r), change); err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"message": "setting updated"})
}

type putSettingsRequest struct {
	Settings map[string]string `json:"settings" validate:"required"`
}

func (h *Handler) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req putSettingsRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	changes := make(map[string]store.Setting, len(req.Settings))
	for key, value := range req.Settings {
		def, ok := settings.Registry[key]
		if !ok {
			httpserver.RespondError(w, http.StatusBadRequest, "invalid_argument", "unrecognized setting: "+key)
			return
		}
		changes[key] = store.Setting{Key: key, Type: def.Type, Value: value, RequiresRestart: def.RequiresRestart}
	}

	if _, err := h.engine.UpdateSettings(r.Context(), pathProject(r), changes); err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"message": "settings updated"})
}

func (h *Handler) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.DeleteSetting(r.Context(), pathProject(r), pathSettingKey(r)); err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"message": "setting removed"})
}
