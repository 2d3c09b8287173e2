// Package controlapi is the Control API (C7): thin chi handlers that parse
// and validate requests, call the lifecycle engine and agent proxy, and
// translate errors to status codes through apperr. No business logic lives
// here — it belongs in pkg/lifecycle, pkg/store, and pkg/agentproxy.
package controlapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentctl/controlplane/internal/auth"
	"github.com/agentctl/controlplane/pkg/agentproxy"
	"github.com/agentctl/controlplane/pkg/lifecycle"
	"github.com/agentctl/controlplane/pkg/store"
)

// Handler serves the full Control API HTTP surface described in spec.md §6.
type Handler struct {
	store  *store.Store
	engine *lifecycle.Engine
	proxy  *agentproxy.Proxy
	logger *slog.Logger
}

// NewHandler builds a Handler over the given collaborators.
func NewHandler(st *store.Store, engine *lifecycle.Engine, proxy *agentproxy.Proxy, logger *slog.Logger) *Handler {
	return &Handler{store: st, engine: engine, proxy: proxy, logger: logger}
}

func pathUser(r *http.Request) string { return chi.URLParam(r, "user") }

// Routes mounts the /users subtree. The caller mounts the returned router at
// "/users" on the top-level server.
func (h *Handler) Routes(resolver auth.KeyResolver) chi.Router {
	r := chi.NewRouter()
	r.Use(auth.Middleware(resolver))

	r.Get("/", h.handleListUsers)

	r.Route("/{user}", func(r chi.Router) {
		r.Use(auth.RequireUserMatch(pathUser))

		r.Put("/github-key", h.handlePutUserGithubKey)
		r.Get("/github-key", h.handleGetUserGithubKey)
		r.Delete("/github-key", h.handleDeleteUserGithubKey)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.handleListProjects)
			r.Post("/", h.handleCreateProject)

			r.Route("/{pid}", func(r chi.Router) {
				r.Put("/", h.handleUpdateProject)
				r.Delete("/", h.handleDeleteProject)
				r.Post("/activate", h.handleActivateProject)
				r.Post("/deactivate", h.handleDeactivateProject)
				r.Post("/clone-repository", h.handleCloneRepository)
				r.Put("/github-key", h.handlePutProjectGithubKey)
				r.Get("/agent/status", h.handleAgentStatus)

				r.Route("/sessions", func(r chi.Router) {
					r.Get("/", h.handleListSessions)
					r.Post("/", h.handleCreateSession)
					r.Route("/{sid}", func(r chi.Router) {
						r.Delete("/", h.handleDeleteSession)
						r.Get("/messages", h.handleListMessages)
					})
				})

				r.Post("/messages", h.handleStreamMessage)
				r.Post("/messages/send", h.handleSendMessage)

				r.Route("/settings", func(r chi.Router) {
					r.Get("/", h.handleListSettings)
					r.Put("/", h.handlePutSettings)
					r.Route("/{key}", func(r chi.Router) {
						r.Get("/", h.handleGetSetting)
						r.Put("/", h.handlePutSetting)
						r.Delete("/", h.handleDeleteSetting)
					})
				})

				r.Route("/extensions", func(r chi.Router) {
					r.Get("/", h.handleListExtensions)
					r.Post("/", h.handlePutExtension)
					r.Route("/{name}", func(r chi.Router) {
						r.Get("/", h.handleGetExtension)
						r.Put("/", h.handlePutExtension)
						r.Delete("/", h.handleDeleteExtension)
						r.Post("/toggle", h.handleToggleExtension)
					})
				})
			})
		})
	})

	return r
}
