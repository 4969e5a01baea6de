package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shaibs3/pricewatch/internal/scheduler"
	"go.uber.org/zap"
)

// CycleRunner runs one poll cycle on demand
type CycleRunner interface {
	RunCycle(ctx context.Context) (scheduler.CycleReport, error)
}

// PollHandler is the operator trigger for an immediate poll cycle
type PollHandler struct {
	runner CycleRunner
	logger *zap.Logger
}

func NewPollHandler(runner CycleRunner, logger *zap.Logger) *PollHandler {
	return &PollHandler{runner: runner, logger: logger.Named("poll")}
}

func (h *PollHandler) RegisterRoutes(router *mux.Router, logger *zap.Logger) {
	router.HandleFunc("/v1/poll", h.handlePoll).Methods(http.MethodPost)
}

func (h *PollHandler) handlePoll(w http.ResponseWriter, req *http.Request) {
	// a client disconnect must not abort the cycle half way; shutdown still can
	report, err := h.runner.RunCycle(context.WithoutCancel(req.Context()))
	switch {
	case errors.Is(err, scheduler.ErrCycleInProgress):
		http.Error(w, "A poll cycle is already running", http.StatusConflict)
		return
	case errors.Is(err, scheduler.ErrPollerStopped):
		http.Error(w, "Shutting down", http.StatusServiceUnavailable)
		return
	case err != nil:
		h.logger.Error("manual poll cycle failed", zap.Error(err))
		http.Error(w, "Poll cycle failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
