package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/marginalia/internal/service"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *service.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Route("/artifacts", func(r chi.Router) {
		r.Get("/", h.ListArtifacts)
		r.Delete("/", h.ClearArtifacts)
		r.Get("/{action}", h.GetArtifact)
		r.Put("/{action}", h.PutArtifact)
		r.Delete("/{action}", h.ClearArtifact)
		r.Post("/{action}/update", h.UpdateArtifact)
		r.Post("/{action}/redo", h.RedoArtifact)
		r.Post("/{action}/dismiss", h.DismissNotice)
	})

	r.Put("/position", h.SetPosition)
	r.Post("/documents/move", h.MoveDocument)

	r.Get("/notebook", h.GetNotebook)
	r.Put("/notebook", h.PutNotebook)
	r.Delete("/notebook", h.DeleteNotebook)

	r.Get("/chats", h.ListChats)
	r.Get("/index/{name}", h.IndexRecord)
	r.Get("/migration", h.Migration)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
