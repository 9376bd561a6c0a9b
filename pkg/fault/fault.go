// Package fault defines the error taxonomy surfaced to callers of the
// orchestrator. Every failure that leaves the core is a *Error carrying a
// Kind, so callers can decide between retrying, backing off and giving up.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindClassificationUnavailable Kind = "classification_unavailable"
	KindMisconfiguredRoute        Kind = "misconfigured_route"
	KindToolCallInGraphMode       Kind = "tool_call_in_non_passthrough_mode"
	KindHandlerError              Kind = "handler_error"
	KindToolCallTimeout           Kind = "tool_call_timeout"
	KindCircuitOpen               Kind = "circuit_open"
	KindUnknownOrExpiredRequest   Kind = "unknown_or_expired_request"
	KindProtocolError             Kind = "protocol_error"
	KindInvalidRequest            Kind = "invalid_request"
	KindInternal                  Kind = "internal"
)

type Retry string

const (
	RetryTryAgain         Retry = "try_again"
	RetryDoNotRetry       Retry = "do_not_retry"
	RetryUpstreamDegraded Retry = "upstream_degraded"
)

var (
	ErrClassificationUnavailable = errors.New("classification unavailable")
	ErrUnknownRoute              = errors.New("unknown route")
	ErrUnknownOrExpiredRequest   = errors.New("unknown or expired request")
	ErrToolCallTimeout           = errors.New("tool call timeout")
	ErrCircuitOpen               = errors.New("circuit open")
	ErrProtocol                  = errors.New("protocol error")
)

type Error struct {
	Kind      Kind
	Route     string
	RequestID string
	Msg       string
	Err       error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Route != "" {
		fmt.Fprintf(&b, " [route=%s]", e.Route)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " [request=%s]", e.RequestID)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Retry() Retry {
	return RetryClass(e.Kind)
}

// WithRoute returns a copy annotated with the route, keeping an existing one.
func (e *Error) WithRoute(route string) *Error {
	out := *e
	if out.Route == "" {
		out.Route = route
	}
	return &out
}

func (e *Error) WithRequest(id string) *Error {
	out := *e
	if out.RequestID == "" {
		out.RequestID = id
	}
	return &out
}

// KindOf reports the Kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// As extracts the *Error from err, if any.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

func RetryClass(kind Kind) Retry {
	switch kind {
	case KindToolCallTimeout, KindCircuitOpen:
		return RetryTryAgain
	case KindClassificationUnavailable, KindHandlerError, KindInternal:
		return RetryUpstreamDegraded
	default:
		return RetryDoNotRetry
	}
}

// IsRouteFailure reports whether a failure should count against the route's
// circuit breaker. Caller protocol mistakes and abandoned turns do not.
func IsRouteFailure(kind Kind) bool {
	switch kind {
	case KindHandlerError, KindMisconfiguredRoute, KindToolCallInGraphMode, KindInternal:
		return true
	default:
		return false
	}
}
