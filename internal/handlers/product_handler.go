package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/shaibs3/pricewatch/internal/extraction"
	"github.com/shaibs3/pricewatch/internal/model"
	"github.com/shaibs3/pricewatch/internal/normalize"
	"github.com/shaibs3/pricewatch/internal/registry"
	"github.com/shaibs3/pricewatch/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	msgNoDetails    = "could not extract product details"
	msgPriceMissing = "product registered without a price, the next poll cycle will retry"
)

// Fetcher is the extraction client used by the registration flow
type Fetcher interface {
	Fetch(ctx context.Context, locator string) model.ExtractionResult
}

// ProductHandler serves product registration, lookup and price trends
type ProductHandler struct {
	registry          *registry.Registry
	history           store.HistoryStore
	alerts            store.AlertStore
	fetcher           Fetcher
	clock             clockwork.Clock
	allowPrivateHosts bool
	logger            *zap.Logger
}

func NewProductHandler(reg *registry.Registry, history store.HistoryStore, alerts store.AlertStore,
	fetcher Fetcher, clock clockwork.Clock, allowPrivateHosts bool, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		registry:          reg,
		history:           history,
		alerts:            alerts,
		fetcher:           fetcher,
		clock:             clock,
		allowPrivateHosts: allowPrivateHosts,
		logger:            logger.Named("products"),
	}
}

// RegisterRoutes registers the routes for this handler
func (h *ProductHandler) RegisterRoutes(router *mux.Router, logger *zap.Logger) {
	router.HandleFunc("/v1/products", h.handleRegister).Methods(http.MethodPost)
	router.HandleFunc("/v1/products", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/v1/products/{id:[0-9]+}", h.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/v1/products/{id:[0-9]+}/trend", h.handleTrend).Methods(http.MethodGet)
	router.HandleFunc("/v1/products/{id:[0-9]+}/alerts", h.handleAlerts).Methods(http.MethodGet)
}

type registerRequest struct {
	UserID      uint64           `json:"user_id"`
	URL         string           `json:"url"`
	Name        string           `json:"name"`
	TargetPrice *decimal.Decimal `json:"target_price"`
}

func (h *ProductHandler) handleRegister(w http.ResponseWriter, req *http.Request) {
	var body registerRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if body.UserID == 0 {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if body.TargetPrice == nil {
		http.Error(w, "target_price is required", http.StatusBadRequest)
		return
	}
	if _, err := extraction.ValidateLocator(body.URL, h.allowPrivateHosts); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	product := model.TrackedProduct{
		UserID:      body.UserID,
		URL:         body.URL,
		Name:        strings.TrimSpace(body.Name),
		TargetPrice: *body.TargetPrice,
	}
	if err := product.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result := h.fetcher.Fetch(req.Context(), body.URL)
	if !result.HasDetails() {
		h.logger.Info("registration rejected, nothing extracted", zap.String("url", body.URL))
		http.Error(w, msgNoDetails, http.StatusUnprocessableEntity)
		return
	}
	if product.Name == "" {
		product.Name = result.Title
	}

	var initial *decimal.Decimal
	if price, ok := normalize.Price(result.PriceText); ok {
		initial = &price
	}

	if err := h.registry.Add(req.Context(), &product, initial, h.clock.Now()); err != nil {
		h.logger.Error("failed to register product", zap.String("url", body.URL), zap.Error(err))
		http.Error(w, "Failed to store product", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"message": "Product registered",
		"product": product,
	}
	if initial == nil {
		response["warning"] = msgPriceMissing
	}
	writeJSON(w, http.StatusCreated, response)
}

func (h *ProductHandler) handleList(w http.ResponseWriter, req *http.Request) {
	var (
		products []model.TrackedProduct
		err      error
	)
	if raw := req.URL.Query().Get("user_id"); raw != "" {
		userID, perr := strconv.ParseUint(raw, 10, 64)
		if perr != nil {
			http.Error(w, "Invalid user_id", http.StatusBadRequest)
			return
		}
		products, err = h.registry.ListByUser(req.Context(), userID)
	} else {
		products, err = h.registry.ListAll(req.Context())
	}
	if err != nil {
		h.logger.Error("failed to list products", zap.Error(err))
		http.Error(w, "Failed to fetch products", http.StatusInternalServerError)
		return
	}
	if products == nil {
		products = []model.TrackedProduct{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *ProductHandler) handleGet(w http.ResponseWriter, req *http.Request) {
	product, ok := h.lookup(w, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, product)
}

type trendPoint struct {
	Date  string      `json:"date"`
	Price json.Number `json:"price"`
}

func (h *ProductHandler) handleTrend(w http.ResponseWriter, req *http.Request) {
	product, ok := h.lookup(w, req)
	if !ok {
		return
	}
	history, err := h.history.History(req.Context(), product.ID)
	if err != nil {
		h.logger.Error("failed to load price history", zap.Uint64("product_id", product.ID), zap.Error(err))
		http.Error(w, "Failed to fetch price history", http.StatusInternalServerError)
		return
	}

	points := make([]trendPoint, 0, len(history))
	for _, obs := range history {
		points = append(points, trendPoint{
			Date:  obs.ObservedAt.UTC().Format(time.RFC3339),
			Price: json.Number(obs.Price.String()),
		})
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *ProductHandler) handleAlerts(w http.ResponseWriter, req *http.Request) {
	product, ok := h.lookup(w, req)
	if !ok {
		return
	}
	alerts, err := h.alerts.Alerts(req.Context(), product.ID)
	if err != nil {
		h.logger.Error("failed to load alerts", zap.Uint64("product_id", product.ID), zap.Error(err))
		http.Error(w, "Failed to fetch alerts", http.StatusInternalServerError)
		return
	}
	if alerts == nil {
		alerts = []model.AlertRecord{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// lookup resolves the {id} route variable, writing the error response
// itself when the product cannot be returned
func (h *ProductHandler) lookup(w http.ResponseWriter, req *http.Request) (model.TrackedProduct, bool) {
	id, err := pathID(req)
	if err != nil {
		http.Error(w, "Invalid product id", http.StatusBadRequest)
		return model.TrackedProduct{}, false
	}
	product, err := h.registry.Get(req.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Product not found", http.StatusNotFound)
		return model.TrackedProduct{}, false
	case err != nil:
		h.logger.Error("failed to load product", zap.Uint64("product_id", id), zap.Error(err))
		http.Error(w, "Failed to fetch product", http.StatusInternalServerError)
		return model.TrackedProduct{}, false
	}
	return product, true
}

func pathID(req *http.Request) (uint64, error) {
	return strconv.ParseUint(mux.Vars(req)["id"], 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
