// Package suspend stores passthrough turns that are waiting for the caller's
// tool results. Suspensions are plain data, so any worker holding the
// request id can resume a turn.
package suspend

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/LeeJc02/ShopMate/pkg/schema"
)

var (
	ErrNotFound = errors.New("suspension not found")
	// ErrExpired is returned once by the lookup that finds an entry past
	// its deadline. The entry is deleted by that lookup.
	ErrExpired = errors.New("suspension expired")
	ErrExists  = errors.New("suspension already exists")
	// ErrCompleted is returned by Complete when another resume won.
	ErrCompleted = errors.New("suspension already completed")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Suspension is the serializable state of a turn in AwaitingToolResults.
type Suspension struct {
	RequestID    string                   `json:"request_id"`
	Request      schema.Request           `json:"request"`
	Decision     schema.RouteDecision     `json:"decision"`
	Variant      string                   `json:"variant,omitempty"`
	Experiment   string                   `json:"experiment,omitempty"`
	Calls        []schema.ToolCallRequest `json:"calls"`
	HandlerState json.RawMessage          `json:"handler_state,omitempty"`
	Transitions  []string                 `json:"transitions,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
	ExpiresAt    time.Time                `json:"expires_at"`

	Status        Status           `json:"status"`
	ResultsDigest string           `json:"results_digest,omitempty"`
	Response      *schema.Response `json:"response,omitempty"`
}

// Expired reports whether the suspension is past its deadline at now.
func (s *Suspension) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store persists suspensions keyed by request id. Implementations must be
// safe for concurrent use.
type Store interface {
	Put(ctx context.Context, s *Suspension) error
	// Get returns ErrNotFound for unknown ids and ErrExpired for entries
	// past their deadline.
	Get(ctx context.Context, requestID string) (*Suspension, error)
	// Complete records the final response of a pending suspension. It
	// fails with ErrCompleted if the suspension was already completed.
	Complete(ctx context.Context, requestID, digest string, resp *schema.Response) error
	Delete(ctx context.Context, requestID string) error
	// Sweep deletes every entry expired at now and reports how many.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

func encode(s *Suspension) ([]byte, error) {
	return json.Marshal(s)
}

func decode(data []byte) (*Suspension, error) {
	var s Suspension
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
