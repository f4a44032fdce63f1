package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/itemservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *itemservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *itemservice.Service) *Handler {
	return &Handler{svc: svc}
}

// itemName extracts the item name from the URL. Supports encoded characters
// from OpenAPI clients (e.g. bug%2D1042).
func itemName(r *http.Request) string {
	raw := chi.URLParam(r, "name")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListItems handles GET /api/items.
//
//	@Summary		List items with optional pagination
//	@Tags			items
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			sort	query		string	false	"Sort field"	Enums(name, updated)
//	@Success		200		{object}	ItemListResponse
//	@Security		BearerAuth
//	@Router			/items [get]
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	sort := q.Get("sort")

	items, total, err := h.svc.ListItems(r.Context(), limit, offset, sort)
	if err != nil {
		slog.Error("list items failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
	})
}

// GetItem handles GET /api/items/{name}.
//
//	@Summary		Get a single item with its folded state
//	@Tags			items
//	@Produce		json
//	@Param			name	path		string	true	"Item name"
//	@Success		200		{object}	ItemDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{name} [get]
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	name := itemName(r)
	item, err := h.svc.GetItem(r.Context(), name)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get item failed", slog.String("item", name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// CreateItem handles POST /api/items.
//
//	@Summary		Create a new item
//	@Tags			items
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateItemRequest	true	"Item to create (name optional)"
//	@Success		201		{object}	ItemDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items [post]
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	item, err := h.svc.CreateItem(r.Context(), req.Name)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrAlreadyExists):
			writeJSON(w, http.StatusConflict, errorBody("item already exists"))
		case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrInvalid):
			writeJSON(w, http.StatusBadRequest, errorBody("invalid item name"))
		default:
			slog.Error("create item failed", slog.String("item", req.Name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// ItemState handles GET /api/items/{name}/state.
//
//	@Summary		Fold the item's records into its current state
//	@Tags			items
//	@Produce		json
//	@Param			name	path		string	true	"Item name"
//	@Success		200		{object}	map[string]any
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{name}/state [get]
func (h *Handler) ItemState(w http.ResponseWriter, r *http.Request) {
	name := itemName(r)
	state, err := h.svc.State(r.Context(), name)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("item state failed", slog.String("item", name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// RefreshItem handles POST /api/items/{name}/refresh.
//
//	@Summary		Recompute the item's cached state if its records changed
//	@Tags			items
//	@Produce		json
//	@Param			name	path		string	true	"Item name"
//	@Success		200		{object}	RefreshResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{name}/refresh [post]
func (h *Handler) RefreshItem(w http.ResponseWriter, r *http.Request) {
	name := itemName(r)
	changed, err := h.svc.RefreshItem(r.Context(), name)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("refresh item failed", slog.String("item", name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{Refreshed: changed})
}

// CheckItem handles GET /api/items/{name}/check.
//
//	@Summary		Verify every record of the item against its name
//	@Tags			items
//	@Produce		json
//	@Param			name	path		string	true	"Item name"
//	@Success		200		{object}	CheckReport
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{name}/check [get]
func (h *Handler) CheckItem(w http.ResponseWriter, r *http.Request) {
	name := itemName(r)
	report, err := h.svc.CheckIntegrity(r.Context(), name)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("check item failed", slog.String("item", name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RelocateItem handles POST /api/items/{name}/relocate. The destination is
// a relative path resolved against the repository root; the item keeps its
// name through the redirect left behind.
//
//	@Summary		Move an item's directory, leaving a redirect
//	@Tags			items
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string				true	"Item name"
//	@Param			body	body		RelocateItemRequest	true	"Destination relative to the repository root"
//	@Success		200		{object}	ItemDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{name}/relocate [post]
func (h *Handler) RelocateItem(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	name := itemName(r)
	var req RelocateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	root := h.svc.Repository().Root()
	dest := filepath.Join(root, filepath.FromSlash(req.Dest))
	if req.Dest == "" || filepath.IsAbs(req.Dest) ||
		(!strings.HasPrefix(dest, root+string(os.PathSeparator)) && dest != root) {
		writeJSON(w, http.StatusBadRequest, errorBody("dest must stay under the repository root"))
		return
	}
	if err := h.svc.RelocateItem(r.Context(), name, dest); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("relocate item failed", slog.String("item", name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	item, err := h.svc.GetItem(r.Context(), name)
	if err != nil {
		slog.Error("relocated item lookup failed", slog.String("item", name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across cached item state
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
	})
}

// ListModules handles GET /api/modules.
//
//	@Summary		List resolved module directories
//	@Tags			modules
//	@Produce		json
//	@Success		200	{object}	ModulesResponse
//	@Security		BearerAuth
//	@Router			/modules [get]
func (h *Handler) ListModules(w http.ResponseWriter, r *http.Request) {
	modules, err := h.svc.Modules(r.Context())
	if err != nil {
		slog.Error("list modules failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"modules": modules,
	})
}
