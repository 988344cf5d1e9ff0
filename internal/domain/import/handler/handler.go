// Package handler exposes the import pipeline over HTTP, including the SSE
// progress stream.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/mapping"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/parser"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/session"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/service"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/transactions"
	"github.com/ledgerkeep/ledgerkeep/internal/server"
)

// Handler serves the import endpoints.
type Handler struct {
	svc      *service.Service
	maxBytes int64
	logger   *slog.Logger
}

func New(svc *service.Service, maxUploadBytes int64, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, maxBytes: maxUploadBytes, logger: logger}
}

// Routes mounts the import endpoints on an authenticated router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/imports", h.create)
	r.Get("/imports/{id}", h.status)
	r.Post("/imports/{id}/mapping/suggest", h.suggest)
	r.Put("/imports/{id}/mapping", h.saveMapping)
	r.Get("/imports/{id}/preview", h.preview)
	r.Post("/imports/{id}/commit", h.commit)
	r.Get("/imports/{id}/events", h.events)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	userID, ok := server.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		http.Error(w, "upload too large or malformed", http.StatusBadRequest)
		return
	}

	accountID, err := uuid.Parse(r.FormValue("account_id"))
	if err != nil {
		http.Error(w, "invalid account_id", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}

	analysis, err := h.svc.CreateSession(r.Context(), userID, accountID, header.Filename, data)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, analysis)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	sess, err := h.svc.Status(r.Context(), userID, sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) suggest(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	suggestion, err := h.svc.SuggestMapping(r.Context(), userID, sessionID)
	if err != nil {
		if errors.Is(err, service.ErrNoSuggestion) {
			h.writeJSON(w, http.StatusOK, map[string]any{"mapping": nil})
			return
		}
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"mapping": suggestion})
}

func (h *Handler) saveMapping(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	var m mapping.ColumnMapping
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, "invalid mapping payload", http.StatusBadRequest)
		return
	}

	if err := h.svc.SaveMapping(r.Context(), userID, sessionID, &m); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	preview, err := h.svc.BuildPreview(r.Context(), userID, sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, preview)
}

type commitRequest struct {
	RowIndexes []int `json:"row_indexes"`
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid commit payload", http.StatusBadRequest)
		return
	}

	if err := h.svc.Commit(r.Context(), userID, sessionID, req.RowIndexes); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"import_id": sessionID.String()})
}

// events streams progress as server-sent events. Events published before
// the connection opened are not replayed; clients read the status endpoint
// on connect and fall back to polling it if the stream drops.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		http.Error(w, "streaming unsupported", http.StatusNotImplemented)
		return
	}

	ch, cancel, err := h.svc.Subscribe(r.Context(), userID, sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to encode progress event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
			if event.IsTerminal() {
				return
			}
		}
	}
}

func (h *Handler) requestScope(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := server.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return uuid.Nil, uuid.Nil, false
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid import id", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	return userID, sessionID, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var parseErr *parser.ParseError

	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, transactions.ErrAccountNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, session.ErrAlreadyImporting), errors.Is(err, session.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, mapping.ErrInvalidMapping):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.As(err, &parseErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("import request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
