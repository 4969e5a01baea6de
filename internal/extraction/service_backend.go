package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ServiceBackend delegates to an external browser/vision extraction
// service. Request: {"url": "...", "region": {...}}. Response:
// {"title": string|null, "price": string|null}.
type ServiceBackend struct {
	endpoint string
	client   *http.Client
	cb       *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

type serviceRequest struct {
	URL    string  `json:"url"`
	Region *Region `json:"region,omitempty"`
}

type serviceResponse struct {
	Title *string         `json:"title"`
	Price json.RawMessage `json:"price"`
}

var errMalformedResponse = errors.New("malformed extraction service response")

func NewServiceBackend(endpoint string, logger *zap.Logger, timeout time.Duration) *ServiceBackend {
	svcLogger := logger.Named("service")
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ExtractionService",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// a product that can never be parsed says nothing about service health
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			svcLogger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &ServiceBackend{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		cb:       cb,
		logger:   svcLogger,
	}
}

func (b *ServiceBackend) Extract(ctx context.Context, target Target) (RawProduct, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.call(ctx, target)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return RawProduct{}, Permanent(err)
		}
		return RawProduct{}, err
	}
	return res.(RawProduct), nil
}

func (b *ServiceBackend) call(ctx context.Context, target Target) (RawProduct, error) {
	payload, err := json.Marshal(serviceRequest{URL: target.URL, Region: target.Region})
	if err != nil {
		return RawProduct{}, Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return RawProduct{}, Permanent(fmt.Errorf("build extraction request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return RawProduct{}, fmt.Errorf("call extraction service: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return RawProduct{}, statusError(resp)
	}

	var body serviceResponse
	dec := json.NewDecoder(io.LimitReader(resp.Body, 1<<20))
	if err := dec.Decode(&body); err != nil {
		return RawProduct{}, fmt.Errorf("%w: %v", errMalformedResponse, err)
	}

	out := RawProduct{}
	if body.Title != nil {
		out.Title = strings.TrimSpace(*body.Title)
	}
	price, err := rawPrice(body.Price)
	if err != nil {
		return RawProduct{}, err
	}
	out.Price = price
	return out, nil
}

// rawPrice accepts a JSON string, number or null
func rawPrice(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", fmt.Errorf("%w: %v", errMalformedResponse, err)
		}
		return strings.TrimSpace(s), nil
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return "", fmt.Errorf("%w: price is %s", errMalformedResponse, trimmed)
		}
		return n.String(), nil
	}
}
