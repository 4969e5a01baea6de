package extraction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestServiceBackend_Extract(t *testing.T) {
	var lastRegion atomic.Pointer[Region]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req serviceRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		lastRegion.Store(req.Region)
		switch req.URL {
		case "https://shop.example/watch":
			_, _ = w.Write([]byte(`{"title":"Watch","price":"₹24,999.00"}`))
		case "https://shop.example/numeric":
			_, _ = w.Write([]byte(`{"title":null,"price":1299.5}`))
		case "https://shop.example/none":
			_, _ = w.Write([]byte(`{"title":null,"price":null}`))
		case "https://shop.example/garbage":
			_, _ = w.Write([]byte(`<html>oops</html>`))
		case "https://shop.example/bad-request":
			w.WriteHeader(http.StatusBadRequest)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	b := NewServiceBackend(srv.URL, zap.NewNop(), 5*time.Second)
	ctx := context.Background()
	region := &Region{X: 300, Y: 200, Width: 600, Height: 400}

	got, err := b.Extract(ctx, Target{URL: "https://shop.example/watch", Region: region})
	require.NoError(t, err)
	require.Equal(t, RawProduct{Title: "Watch", Price: "₹24,999.00"}, got)
	require.Equal(t, region, lastRegion.Load())

	got, err = b.Extract(ctx, Target{URL: "https://shop.example/numeric"})
	require.NoError(t, err)
	require.Equal(t, RawProduct{Price: "1299.5"}, got)
	require.Nil(t, lastRegion.Load())

	got, err = b.Extract(ctx, Target{URL: "https://shop.example/none"})
	require.NoError(t, err)
	require.Equal(t, RawProduct{}, got)

	_, err = b.Extract(ctx, Target{URL: "https://shop.example/garbage"})
	require.ErrorIs(t, err, errMalformedResponse)
	require.True(t, IsTransient(err))

	_, err = b.Extract(ctx, Target{URL: "https://shop.example/bad-request"})
	require.Error(t, err)
	require.False(t, IsTransient(err))
}

func TestServiceBackend_BreakerOpensOnTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := NewServiceBackend(srv.URL, zap.NewNop(), time.Second)
	for i := 0; i < 6; i++ {
		_, err := b.Extract(context.Background(), Target{URL: "https://shop.example/x"})
		require.True(t, IsTransient(err))
	}

	_, err := b.Extract(context.Background(), Target{URL: "https://shop.example/x"})
	require.Error(t, err)
	require.False(t, IsTransient(err), "open breaker should fail fast")
	require.Equal(t, int32(6), calls.Load())
}
