package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

type Mode string

const (
	ModeGraph       Mode = "graph"
	ModePassthrough Mode = "passthrough"
)

type ToolStatus string

const (
	ToolStatusOK    ToolStatus = "ok"
	ToolStatusError ToolStatus = "error"
)

// Session context keys with a meaning to the orchestrator. Anything else is
// passed through to handlers untouched.
const (
	SessionKeyID      = "session_id"
	SessionKeyHistory = "chat_history"
	SessionKeyUserID  = "user_id"
)

// === Request ===

type Request struct {
	ID             string            `json:"id"`
	Text           string            `json:"text"`
	SessionContext map[string]any    `json:"session_context,omitempty"`
	Mode           Mode              `json:"mode"`
	Trace          map[string]string `json:"trace,omitempty"`
}

func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("request is nil")
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("request id is required")
	}
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("request text is required")
	}
	switch r.Mode {
	case ModeGraph, ModePassthrough:
	default:
		return fmt.Errorf("invalid mode %q", r.Mode)
	}
	return nil
}

// StickyKey returns the identifier experiments use to keep a caller on one
// variant. Requests without a session fall back to their own id.
func (r *Request) StickyKey() string {
	if r.SessionContext != nil {
		if v, ok := r.SessionContext[SessionKeyID].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return r.ID
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History decodes the chat history a caller supplied in the session context.
// Malformed entries are skipped.
func (r *Request) History() []Message {
	if r.SessionContext == nil {
		return nil
	}
	raw, ok := r.SessionContext[SessionKeyHistory]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []Message:
		return v
	case []any:
		out := make([]Message, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			role, _ := m["role"].(string)
			content, _ := m["content"].(string)
			if role == "" || content == "" {
				continue
			}
			out = append(out, Message{Role: role, Content: content})
		}
		return out
	}
	return nil
}

// === Routing ===

type RouteDecision struct {
	Route      string   `json:"route"`
	Confidence float64  `json:"confidence,omitempty"`
	Rationale  string   `json:"rationale,omitempty"`
	Fallback   bool     `json:"fallback,omitempty"`
	UsedLLM    bool     `json:"used_llm,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
}

// === Tool Calls ===

type Argument struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type ToolCallRequest struct {
	CallID    string     `json:"call_id"`
	ToolName  string     `json:"tool_name"`
	Arguments []Argument `json:"arguments"`
}

func (c ToolCallRequest) Arg(name string) (string, bool) {
	for _, a := range c.Arguments {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

type ToolCallResult struct {
	CallID  string          `json:"call_id"`
	Status  ToolStatus      `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (r ToolCallResult) Validate() error {
	if strings.TrimSpace(r.CallID) == "" {
		return fmt.Errorf("call_id is required")
	}
	switch r.Status {
	case ToolStatusOK, ToolStatusError:
	default:
		return fmt.Errorf("call %s: invalid status %q", r.CallID, r.Status)
	}
	if len(r.Payload) > 0 && !json.Valid(r.Payload) {
		return fmt.Errorf("call %s: payload is not valid JSON", r.CallID)
	}
	return nil
}

// DigestResults hashes a result set independent of its order, so a replayed
// resume can be recognised.
func DigestResults(results []ToolCallResult) string {
	sorted := make([]ToolCallResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CallID < sorted[j].CallID })

	h := sha256.New()
	for _, r := range sorted {
		fmt.Fprintf(h, "%s\x00%s\x00", r.CallID, r.Status)
		h.Write(compactJSON(r.Payload))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func compactJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

// === Responses ===

// Trace metadata keys attached to every response.
const (
	TraceKeyTraceID     = "trace_id"
	TraceKeySpanID      = "span_id"
	TraceKeyTransitions = "transitions"
	TraceKeyConfidence  = "classifier_confidence"
	TraceKeyExperiment  = "experiment"
	TraceKeyDurationMS  = "duration_ms"
	TraceKeyFallback    = "fallback_route"
)

type Response struct {
	RequestID string            `json:"request_id"`
	Route     string            `json:"route"`
	Text      string            `json:"text"`
	UsedCache bool              `json:"used_cache"`
	Variant   string            `json:"variant,omitempty"`
	Trace     map[string]string `json:"trace,omitempty"`
}

// Clone returns a deep copy. Cached and stored responses are shared between
// requests and must never be mutated in place.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := *r
	if r.Trace != nil {
		out.Trace = make(map[string]string, len(r.Trace))
		for k, v := range r.Trace {
			out.Trace[k] = v
		}
	}
	return &out
}

func (r *Response) SetTrace(key, value string) {
	if r.Trace == nil {
		r.Trace = make(map[string]string)
	}
	r.Trace[key] = value
}

type PendingToolCalls struct {
	RequestID string            `json:"request_id"`
	Route     string            `json:"route"`
	ToolCalls []ToolCallRequest `json:"tool_calls"`
	ExpiresAt time.Time         `json:"expires_at"`
}
