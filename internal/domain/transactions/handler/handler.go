// Package handler exposes account transaction endpoints, including the CSV
// export.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ledgerkeep/ledgerkeep/internal/domain/transactions"
	"github.com/ledgerkeep/ledgerkeep/internal/server"
)

type Handler struct {
	repo   *transactions.Repository
	logger *slog.Logger
}

func New(repo *transactions.Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/accounts/{id}/transactions", h.list)
	r.Get("/accounts/{id}/transactions/export", h.export)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	userID, accountID, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	txs, err := h.load(w, r, userID, accountID)
	if err != nil {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(txs); err != nil {
		h.logger.Error("failed to encode transactions", "error", err)
	}
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	userID, accountID, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	txs, err := h.load(w, r, userID, accountID)
	if err != nil {
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "transactions-"+accountID.String()+".csv"))
	if err := transactions.WriteCSV(w, txs); err != nil {
		h.logger.Error("failed to write csv export", "error", err)
	}
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request, userID, accountID uuid.UUID) ([]transactions.Transaction, error) {
	if _, err := h.repo.GetAccount(r.Context(), userID, accountID); err != nil {
		h.writeError(w, err)
		return nil, err
	}
	txs, err := h.repo.ListByAccount(r.Context(), userID, accountID)
	if err != nil {
		h.writeError(w, err)
		return nil, err
	}
	return txs, nil
}

func (h *Handler) requestScope(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := server.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return uuid.Nil, uuid.Nil, false
	}
	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	return userID, accountID, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, transactions.ErrAccountNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.logger.Error("transactions request failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
