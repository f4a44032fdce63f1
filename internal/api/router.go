package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starford/othala/internal/itemservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *itemservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Items.
	r.Get("/items", h.ListItems)
	r.Post("/items", h.CreateItem)
	r.Get("/items/{name}", h.GetItem)
	r.Get("/items/{name}/state", h.ItemState)
	r.Post("/items/{name}/refresh", h.RefreshItem)
	r.Get("/items/{name}/check", h.CheckItem)
	r.Post("/items/{name}/relocate", h.RelocateItem)

	// Records.
	r.Get("/items/{name}/records", h.ListRecords)
	r.Post("/items/{name}/records", h.CreateRecord)
	r.Get("/items/{name}/records/{record}", h.GetRecord)
	r.Get("/items/{name}/records/{record}/files/*", h.ServeRecordFile)

	// Search.
	r.Get("/search", h.Search)

	// Modules.
	r.Get("/modules", h.ListModules)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
