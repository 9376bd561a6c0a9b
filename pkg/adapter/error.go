package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrNoTargets is returned when a reasoner has no adapter it can call.
	ErrNoTargets = errors.New("no adapter targets configured")

	// ErrEmptyCompletion means the provider answered without any text.
	ErrEmptyCompletion = errors.New("provider returned an empty completion")
)

// AdapterError wraps provider errors with the HTTP status, when known.
type AdapterError struct {
	Adapter   string
	Status    int
	Temporary bool
	Err       error
}

func (e *AdapterError) Error() string {
	switch {
	case e == nil:
		return "adapter error"
	case e.Err == nil:
		return fmt.Sprintf("%s: status %d", e.name(), e.Status)
	case e.Adapter == "":
		return e.Err.Error()
	default:
		return fmt.Sprintf("%s API error: %v", e.Adapter, e.Err)
	}
}

func (e *AdapterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *AdapterError) name() string {
	if e.Adapter == "" {
		return "adapter"
	}
	return e.Adapter
}

// IsTransient reports whether a call is worth retrying. Empty completions
// count as transient.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrEmptyCompletion):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var adapterErr *AdapterError
	if !errors.As(err, &adapterErr) {
		return false
	}
	if adapterErr.Temporary {
		return true
	}
	switch s := adapterErr.Status; {
	case s == http.StatusRequestTimeout, s == http.StatusTooManyRequests:
		return true
	case s >= 500 && s <= 599:
		return true
	}
	return false
}

func wrapStatus(name string, status int, err error) error {
	if err == nil {
		return nil
	}
	return &AdapterError{Adapter: name, Status: status, Err: err}
}
