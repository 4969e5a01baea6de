package extraction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Region is a visual area of the rendered page that holds the price. Vision
// based backends crop to it; selector based backends ignore it.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Target is what a backend is asked to extract
type Target struct {
	URL    string
	Region *Region
}

// RawProduct holds the untouched strings a backend found on the page.
// Empty means not found.
type RawProduct struct {
	Title string
	Price string
}

// Backend fetches a product page and pulls out its title and price
type Backend interface {
	Extract(ctx context.Context, target Target) (RawProduct, error)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsTransient reports whether a failed extraction may succeed on retry.
// Everything is transient unless marked Permanent, is a locator error, or
// is a cancellation of the caller's context.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) || errors.Is(err, ErrInvalidLocator) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// statusError classifies a non-2xx response from a page or service
func statusError(resp *http.Response) error {
	err := fmt.Errorf("unexpected status %d from %s", resp.StatusCode, resp.Request.URL.Redacted())
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return err
	}
	return Permanent(err)
}

// BackendFunc adapts a function to Backend
type BackendFunc func(ctx context.Context, target Target) (RawProduct, error)

func (f BackendFunc) Extract(ctx context.Context, target Target) (RawProduct, error) {
	return f(ctx, target)
}
