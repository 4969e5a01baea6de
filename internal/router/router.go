package router

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shaibs3/pricewatch/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Handler is implemented by every API handler group
type Handler interface {
	RegisterRoutes(router *mux.Router, logger *zap.Logger)
}

type Router struct {
	router    *mux.Router
	limiter   *rate.Limiter
	telemetry *telemetry.Telemetry
	logger    *zap.Logger

	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

func NewRouter(limiter *rate.Limiter, tel *telemetry.Telemetry, logger *zap.Logger, handlers []Handler) *Router {
	r := &Router{
		router:    mux.NewRouter(),
		limiter:   limiter,
		telemetry: tel,
		logger:    logger.Named("http"),
	}

	var err error
	r.requests, err = tel.Meter.Int64Counter("pricewatch_http_requests_total",
		metric.WithDescription("HTTP requests by route and status"))
	if err != nil {
		r.logger.Warn("failed to create request counter", zap.Error(err))
	}
	r.latency, err = tel.Meter.Float64Histogram("pricewatch_http_request_duration_seconds",
		metric.WithDescription("HTTP request latency"), metric.WithUnit("s"))
	if err != nil {
		r.logger.Warn("failed to create latency histogram", zap.Error(err))
	}

	r.router.Use(r.rateLimitMiddleware, r.metricsMiddleware)
	r.router.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	r.router.Handle("/metrics", tel.Handler()).Methods(http.MethodGet)

	for _, h := range handlers {
		h.RegisterRoutes(r.router, r.logger)
	}
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}

// CreateServer wraps the router in an http.Server listening on addr
func (r *Router) CreateServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// registration runs a synchronous extraction
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (r *Router) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.limiter != nil && !r.limiter.Allow() {
			r.logger.Warn("rate limit exceeded",
				zap.String("path", req.URL.Path),
				zap.String("remote_addr", req.RemoteAddr))
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, req)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (r *Router) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)

		route := req.URL.Path
		if current := mux.CurrentRoute(req); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		elapsed := time.Since(start)
		r.record(req.Context(), req.Method, route, rec.status, elapsed)

		r.logger.Debug("request served",
			zap.String("method", req.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("duration", elapsed))
	})
}

func (r *Router) record(ctx context.Context, method, route string, status int, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	)
	if r.requests != nil {
		r.requests.Add(ctx, 1, attrs)
	}
	if r.latency != nil {
		r.latency.Record(ctx, elapsed.Seconds(), attrs)
	}
}
