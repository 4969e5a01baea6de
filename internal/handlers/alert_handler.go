package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shaibs3/pricewatch/internal/store"
	"go.uber.org/zap"
)

// AlertHandler lets an external notifier acknowledge delivered alerts
type AlertHandler struct {
	alerts store.AlertStore
	logger *zap.Logger
}

func NewAlertHandler(alerts store.AlertStore, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{alerts: alerts, logger: logger.Named("alerts")}
}

func (h *AlertHandler) RegisterRoutes(router *mux.Router, logger *zap.Logger) {
	router.HandleFunc("/v1/alerts/{id:[0-9]+}/sent", h.handleMarkSent).Methods(http.MethodPost)
}

func (h *AlertHandler) handleMarkSent(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		http.Error(w, "Invalid alert id", http.StatusBadRequest)
		return
	}

	alert, err := h.alerts.MarkAlertSent(req.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Alert not found", http.StatusNotFound)
		return
	case errors.Is(err, store.ErrAlertNotPending):
		http.Error(w, "Alert is not pending", http.StatusConflict)
		return
	case err != nil:
		h.logger.Error("failed to mark alert sent", zap.Uint64("alert_id", id), zap.Error(err))
		http.Error(w, "Failed to update alert", http.StatusInternalServerError)
		return
	}

	h.logger.Info("alert acknowledged", zap.Uint64("alert_id", id), zap.Uint64("product_id", alert.ProductID))
	writeJSON(w, http.StatusOK, alert)
}
