// Package handler implements the route handlers the engine dispatches to.
//
// A handler either finishes a request on its own or, in passthrough mode,
// asks the caller to execute tool calls and later resumes with the results.
// Handlers never block waiting for those results and never talk to each
// other.
package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/LeeJc02/ShopMate/pkg/schema"
)

// Prompt strategies.
const (
	StrategyRAG      = "rag"
	StrategyConcise  = "concise"
	StrategyTemplate = "template"
	StrategyLLM      = "llm"
)

var ErrMissingResult = errors.New("missing tool result")

// Reasoner synthesizes text from a prompt.
type Reasoner interface {
	Complete(ctx context.Context, prompt string, meta map[string]string) (string, error)
}

// Outcome is the result of Respond: exactly one of Response or ToolCalls is
// set.
type Outcome struct {
	Response  *schema.Response
	ToolCalls []schema.ToolCallRequest
	// State is opaque handler data returned on Resume.
	State json.RawMessage
}

func Final(resp *schema.Response) Outcome {
	return Outcome{Response: resp}
}

func NeedsToolCall(calls []schema.ToolCallRequest, state json.RawMessage) Outcome {
	return Outcome{ToolCalls: calls, State: state}
}

func (o Outcome) IsFinal() bool {
	return o.Response != nil
}

// Suspended is what a handler gets back when a passthrough turn resumes.
type Suspended struct {
	Calls []schema.ToolCallRequest
	State json.RawMessage
}

// Handler serves one route, optionally one experiment variant of it.
type Handler interface {
	Name() string
	Respond(ctx context.Context, req *schema.Request, mode schema.Mode) (Outcome, error)
	Resume(ctx context.Context, req *schema.Request, s Suspended, results []schema.ToolCallResult) (*schema.Response, error)
}

func newResponse(req *schema.Request, text string) *schema.Response {
	return &schema.Response{
		RequestID: req.ID,
		Text:      text,
	}
}

func resultFor(results []schema.ToolCallResult, callID string) (schema.ToolCallResult, bool) {
	for _, r := range results {
		if r.CallID == callID {
			return r, true
		}
	}
	return schema.ToolCallResult{}, false
}
