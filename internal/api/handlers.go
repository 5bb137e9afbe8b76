package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/punchamoorthee/paysync/internal/domain"
	"github.com/punchamoorthee/paysync/internal/models"
)

const (
	defaultEntryLimit = 50
	maxEntryLimit     = 200
)

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, models.HealthResponse{Status: "ok"}, "GET", "/health")
}

func (h *Handler) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/payments/{id}"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	id := mux.Vars(r)["id"]
	payment, err := h.reader.GetPayment(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownPayment) {
			respondWithError(w, http.StatusNotFound, "Payment not found", "GET", endpoint)
			return
		}
		h.logger.Error("get payment", zap.String("payment_id", id), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error", "GET", endpoint)
		return
	}
	respondWithJSON(w, http.StatusOK, payment, "GET", endpoint)
}

func (h *Handler) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/wallets/{userID}"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	limit := defaultEntryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer", "GET", endpoint)
			return
		}
		limit = min(n, maxEntryLimit)
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondWithError(w, http.StatusBadRequest, "offset must be a non-negative integer", "GET", endpoint)
			return
		}
		offset = n
	}

	userID := mux.Vars(r)["userID"]
	wallet, err := h.reader.GetWallet(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrWalletNotFound) {
			respondWithError(w, http.StatusNotFound, "Wallet not found", "GET", endpoint)
			return
		}
		h.logger.Error("get wallet", zap.String("user_id", userID), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error", "GET", endpoint)
		return
	}

	entries, err := h.reader.ListLedgerEntries(r.Context(), wallet.ID, limit, offset)
	if err != nil {
		h.logger.Error("list ledger entries", zap.String("wallet_id", wallet.ID), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error", "GET", endpoint)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	respondWithJSON(w, http.StatusOK, models.WalletView{Wallet: wallet, Entries: entries}, "GET", endpoint)
}

func respondWithError(w http.ResponseWriter, code int, message, method, endpoint string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message}, method, endpoint)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, statusLabel(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
