package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/starford/othala/internal/apperr"
)

// Record payloads cap at 50 MB per request, JSON or multipart.
const maxRecordBytes = 50 << 20

// recordName extracts the record hash name from the URL.
func recordName(r *http.Request) string {
	raw := chi.URLParam(r, "record")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// recordFilePath extracts the record file path from the URL (everything
// after .../files/). Record file names may contain slashes.
func recordFilePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListRecords handles GET /api/items/{name}/records.
//
//	@Summary		Walk the item's records in topological generations
//	@Tags			records
//	@Produce		json
//	@Param			name	path		string	true	"Item name"
//	@Success		200		{object}	GenerationsResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{name}/records [get]
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	name := itemName(r)
	gens, remaining, err := h.svc.Generations(r.Context(), name)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("list records failed", slog.String("item", name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generations": gens,
		"remaining":   remaining,
	})
}

// CreateRecord handles POST /api/items/{name}/records. A JSON body carries
// text files; a multipart form carries binary files, one part per record
// file, each part's filename naming the file. The form value "link_heads"
// ("false" to disable) and the JSON field of the same name control whether
// the record claims the current heads as parents; linking is the default.
//
//	@Summary		Append a record to the item
//	@Tags			records
//	@Accept			json
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			name	path		string				true	"Item name"
//	@Param			body	body		NewRecordRequest	true	"Record files (JSON form)"
//	@Success		201		{object}	RecordDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{name}/records [post]
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRecordBytes)
	name := itemName(r)

	files, linkHeads, err := recordRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("record needs at least one file"))
		return
	}

	rec, err := h.svc.NewRecord(r.Context(), name, files, linkHeads)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrInvalid):
			writeJSON(w, http.StatusBadRequest, errorBody("invalid record file name"))
		default:
			slog.Error("create record failed", slog.String("item", name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// recordRequest decodes either request form into the record's file set.
func recordRequest(r *http.Request) (map[string][]byte, bool, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		return multipartRecord(r)
	}

	var req NewRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, false, errors.New("invalid JSON body")
	}
	files := make(map[string][]byte, len(req.Files))
	for name, content := range req.Files {
		files[name] = []byte(content)
	}
	linkHeads := req.LinkHeads == nil || *req.LinkHeads
	return files, linkHeads, nil
}

func multipartRecord(r *http.Request) (map[string][]byte, bool, error) {
	if err := r.ParseMultipartForm(maxRecordBytes); err != nil {
		return nil, false, errors.New("request too large or invalid multipart")
	}
	files := make(map[string][]byte)
	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			f, err := header.Open()
			if err != nil {
				return nil, false, errors.New("unreadable multipart file")
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, false, errors.New("unreadable multipart file")
			}
			files[header.Filename] = data
		}
	}
	linkHeads := r.FormValue("link_heads") != "false"
	return files, linkHeads, nil
}

// GetRecord handles GET /api/items/{name}/records/{record}.
//
//	@Summary		Get one record with its parents and file list
//	@Tags			records
//	@Produce		json
//	@Param			name	path		string	true	"Item name"
//	@Param			record	path		string	true	"Record name"
//	@Success		200		{object}	RecordDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{name}/records/{record} [get]
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	name := itemName(r)
	record := recordName(r)
	rec, err := h.svc.GetRecord(r.Context(), name, record)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get record failed", slog.String("item", name),
				slog.String("record", record), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ServeRecordFile handles GET /api/items/{name}/records/{record}/files/*.
// The response body is the raw file content.
//
//	@Summary		Read one file out of a record
//	@Tags			records
//	@Produce		octet-stream
//	@Param			name	path		string	true	"Item name"
//	@Param			record	path		string	true	"Record name"
//	@Param			file	path		string	true	"File path within the record"
//	@Success		200		{file}		binary
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{name}/records/{record}/files/{file} [get]
func (h *Handler) ServeRecordFile(w http.ResponseWriter, r *http.Request) {
	name := itemName(r)
	record := recordName(r)
	file := recordFilePath(r)
	if file == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("file path is required"))
		return
	}
	data, err := h.svc.ReadRecordFile(r.Context(), name, record, file)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrInvalid):
			writeJSON(w, http.StatusBadRequest, errorBody("invalid file path"))
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		default:
			slog.Error("serve record file failed", slog.String("item", name),
				slog.String("record", record), slog.String("file", file),
				slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("record file write failed", slog.String("error", err.Error()))
	}
}
