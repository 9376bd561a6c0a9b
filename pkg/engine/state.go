package engine

import (
	"strings"
	"time"

	"github.com/LeeJc02/ShopMate/pkg/fault"
	"github.com/LeeJc02/ShopMate/pkg/schema"
)

// State is a step of a turn's lifecycle.
type State string

const (
	StateStart               State = "start"
	StateClassifying         State = "classifying"
	StateDispatching         State = "dispatching"
	StateExecuting           State = "executing"
	StateAwaitingToolResults State = "awaiting_tool_results"
	StateSynthesizing        State = "synthesizing"
	StateCompleted           State = "completed"
	StateFailed              State = "failed"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Outcome is the result of dispatching one turn: a final response or the
// tool calls the caller must fulfil before resuming.
type Outcome struct {
	Response    *schema.Response
	Pending     *schema.PendingToolCalls
	Decision    schema.RouteDecision
	Variant     string
	Transitions []State
}

func (o *Outcome) IsPending() bool {
	return o != nil && o.Pending != nil
}

// State returns the last state the turn reached.
func (o *Outcome) State() State {
	if o == nil || len(o.Transitions) == 0 {
		return StateStart
	}
	return o.Transitions[len(o.Transitions)-1]
}

// Record is what the engine reports about every turn it settles, including
// the ones that fail.
type Record struct {
	RequestID   string        `json:"request_id"`
	Route       string        `json:"route,omitempty"`
	Variant     string        `json:"variant,omitempty"`
	Mode        schema.Mode   `json:"mode,omitempty"`
	Transitions []State       `json:"transitions"`
	Kind        fault.Kind    `json:"error_kind,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
	At          time.Time     `json:"at"`
}

// turn tracks the transitions of a single request.
type turn struct {
	states []State
}

func newTurn(from ...State) *turn {
	t := &turn{states: make([]State, 0, 8)}
	t.states = append(t.states, from...)
	return t
}

func (t *turn) to(s State) {
	t.states = append(t.states, s)
}

func (t *turn) snapshot() []State {
	out := make([]State, len(t.states))
	copy(out, t.states)
	return out
}

func (t *turn) String() string {
	return joinStates(t.states)
}

func joinStates(states []State) string {
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = string(s)
	}
	return strings.Join(parts, ">")
}

func statesFrom(names []string) []State {
	out := make([]State, len(names))
	for i, n := range names {
		out[i] = State(n)
	}
	return out
}

func stateNames(states []State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
