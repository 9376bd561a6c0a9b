package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/LeeJc02/ShopMate/pkg/knowledge"
	"github.com/LeeJc02/ShopMate/pkg/records"
	"github.com/LeeJc02/ShopMate/pkg/schema"
	"github.com/LeeJc02/ShopMate/pkg/tools"
)

type recordingReasoner struct {
	prompts []string
	reply   string
	err     error
}

func (r *recordingReasoner) Complete(_ context.Context, prompt string, _ map[string]string) (string, error) {
	r.prompts = append(r.prompts, prompt)
	return r.reply, r.err
}

type failingRetriever struct{}

func (failingRetriever) Query(context.Context, string, knowledge.RouteContext) ([]knowledge.Document, error) {
	return nil, errors.New("index offline")
}

func newRequest(id, text string, mode schema.Mode) *schema.Request {
	return &schema.Request{ID: id, Text: text, Mode: mode}
}

func TestExtractOrderKey(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Where is my order #123?", "123"},
		{"status of ord20240001 please", "ORD20240001"},
		{"check order 456", "456"},
		{"order number: 789", "789"},
		{"我的订单号：20240003", "20240003"},
		{"where is my order", ""},
	}
	for _, tt := range tests {
		if got := extractOrderKey(tt.text); got != tt.want {
			t.Errorf("extractOrderKey(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func newMockDataHandler(t *testing.T, strategy string, reasoner Reasoner) *MockDataHandler {
	t.Helper()
	h, err := NewMockDataHandler(strategy, records.NewMockStore(), reasoner, tools.NewCatalog(), nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h
}

func TestMockDataGraphLookup(t *testing.T) {
	h := newMockDataHandler(t, StrategyTemplate, nil)
	out, err := h.Respond(context.Background(), newRequest("r1", "Where is my order #123?", schema.ModeGraph), schema.ModeGraph)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !out.IsFinal() {
		t.Fatal("expected final outcome in graph mode")
	}
	if !strings.Contains(out.Response.Text, "shipped") || !strings.Contains(out.Response.Text, "ORD00000123") {
		t.Fatalf("unexpected text: %q", out.Response.Text)
	}
	if out.Response.RequestID != "r1" {
		t.Fatalf("expected request id on response")
	}
}

func TestMockDataGraphNotFound(t *testing.T) {
	h := newMockDataHandler(t, StrategyTemplate, nil)
	out, err := h.Respond(context.Background(), newRequest("r1", "order ORD99999999", schema.ModeGraph), schema.ModeGraph)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !out.IsFinal() || !strings.Contains(out.Response.Text, "couldn't find") {
		t.Fatalf("expected not-found response, got %+v", out)
	}
}

func TestMockDataAsksForKey(t *testing.T) {
	h := newMockDataHandler(t, StrategyTemplate, nil)
	out, err := h.Respond(context.Background(), newRequest("r1", "where is my package", schema.ModePassthrough), schema.ModePassthrough)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !out.IsFinal() || out.Response.Text != askForOrderText {
		t.Fatalf("expected ask-for-order response, got %+v", out)
	}
}

func TestMockDataListsUserOrders(t *testing.T) {
	h := newMockDataHandler(t, StrategyTemplate, nil)
	req := newRequest("r1", "where is my package", schema.ModeGraph)
	req.SessionContext = map[string]any{schema.SessionKeyUserID: "U10001"}
	out, err := h.Respond(context.Background(), req, schema.ModeGraph)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !strings.Contains(out.Response.Text, "ORD20240001") || !strings.Contains(out.Response.Text, "ORD20240002") {
		t.Fatalf("expected order list, got %q", out.Response.Text)
	}
}

func TestMockDataPassthroughIssuesLookup(t *testing.T) {
	h := newMockDataHandler(t, StrategyTemplate, nil)
	out, err := h.Respond(context.Background(), newRequest("req-1", "Where is my order #123?", schema.ModePassthrough), schema.ModePassthrough)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if out.IsFinal() {
		t.Fatal("expected tool calls in passthrough mode")
	}
	if len(out.ToolCalls) != 1 {
		t.Fatalf("expected one call, got %d", len(out.ToolCalls))
	}
	call := out.ToolCalls[0]
	if call.CallID != "c1" || call.ToolName != tools.LookupOrder {
		t.Fatalf("unexpected call: %+v", call)
	}
	if v, _ := call.Arg("id"); v != "123" {
		t.Fatalf("expected id=123, got %q", v)
	}
}

func suspendedLookup(t *testing.T, h *MockDataHandler) (*schema.Request, Suspended) {
	t.Helper()
	req := newRequest("req-1", "Where is my order #123?", schema.ModePassthrough)
	out, err := h.Respond(context.Background(), req, schema.ModePassthrough)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	return req, Suspended{Calls: out.ToolCalls, State: out.State}
}

func TestMockDataResume(t *testing.T) {
	h := newMockDataHandler(t, StrategyTemplate, nil)
	req, s := suspendedLookup(t, h)

	payload, _ := json.Marshal(records.Order{ID: "ORD00000123", Product: "Mouse", Status: records.StatusAwaitingShipment})
	resp, err := h.Resume(context.Background(), req, s, []schema.ToolCallResult{
		{CallID: "c1", Status: schema.ToolStatusOK, Payload: payload},
	})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !strings.Contains(resp.Text, "awaiting shipment") {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
}

func TestMockDataResumeErrors(t *testing.T) {
	h := newMockDataHandler(t, StrategyTemplate, nil)
	req, s := suspendedLookup(t, h)

	if _, err := h.Resume(context.Background(), req, s, nil); !errors.Is(err, ErrMissingResult) {
		t.Fatalf("expected ErrMissingResult, got %v", err)
	}

	_, err := h.Resume(context.Background(), req, s, []schema.ToolCallResult{
		{CallID: "c1", Status: schema.ToolStatusOK, Payload: json.RawMessage(`["not","an","object"]`)},
	})
	if err == nil || !strings.Contains(err.Error(), "JSON object") {
		t.Fatalf("expected malformed payload error, got %v", err)
	}

	resp, err := h.Resume(context.Background(), req, s, []schema.ToolCallResult{
		{CallID: "c1", Status: schema.ToolStatusError, Payload: json.RawMessage(`{"message":"backend down"}`)},
	})
	if err != nil {
		t.Fatalf("error status should produce an apology, got %v", err)
	}
	if !strings.Contains(resp.Text, "Sorry") || !strings.Contains(resp.Text, "123") {
		t.Fatalf("unexpected apology: %q", resp.Text)
	}
}

func TestMockDataLLMStrategy(t *testing.T) {
	reasoner := &recordingReasoner{reply: "  Your iPhone is on its way!  "}
	h := newMockDataHandler(t, StrategyLLM, reasoner)

	out, err := h.Respond(context.Background(), newRequest("r1", "where is ORD20240001", schema.ModeGraph), schema.ModeGraph)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if out.Response.Text != "Your iPhone is on its way!" {
		t.Fatalf("unexpected text: %q", out.Response.Text)
	}
	if len(reasoner.prompts) != 1 || !strings.Contains(reasoner.prompts[0], "SF1234567890") {
		t.Fatalf("expected order facts in prompt")
	}
}

func TestMockDataUnknownStrategy(t *testing.T) {
	if _, err := NewMockDataHandler("poetry", records.NewMockStore(), nil, nil, nil); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestKnowledgeHandlerStrategies(t *testing.T) {
	src := knowledge.NewStaticSource(knowledge.DefaultDocuments())

	for _, strategy := range []string{StrategyRAG, StrategyConcise} {
		t.Run(strategy, func(t *testing.T) {
			reasoner := &recordingReasoner{reply: "You can return it within 7 days."}
			h, err := NewKnowledgeHandler(KnowledgeConfig{Route: "after_sales", Category: knowledge.CategoryAfterSales, Strategy: strategy}, src, reasoner, nil)
			if err != nil {
				t.Fatalf("new handler: %v", err)
			}
			out, err := h.Respond(context.Background(), newRequest("r1", "what is the refund policy", schema.ModeGraph), schema.ModeGraph)
			if err != nil {
				t.Fatalf("respond: %v", err)
			}
			if out.Response.Text != "You can return it within 7 days." {
				t.Fatalf("unexpected text: %q", out.Response.Text)
			}
			prompt := reasoner.prompts[0]
			if !strings.Contains(prompt, "Refunds") {
				t.Fatalf("expected retrieved context in prompt")
			}
			concise := strings.Contains(prompt, "at most three sentences")
			if concise != (strategy == StrategyConcise) {
				t.Fatalf("strategy %s: concise instruction present = %v", strategy, concise)
			}
		})
	}
}

func TestKnowledgeHandlerWithoutReasoner(t *testing.T) {
	src := knowledge.NewStaticSource(knowledge.DefaultDocuments())
	h, err := NewKnowledgeHandler(KnowledgeConfig{Route: "product_query", Category: knowledge.CategoryProduct}, src, nil, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	out, err := h.Respond(context.Background(), newRequest("r1", "AirPods Pro price", schema.ModeGraph), schema.ModeGraph)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !strings.HasPrefix(out.Response.Text, "AirPods Pro 2:") {
		t.Fatalf("unexpected text: %q", out.Response.Text)
	}
}

func TestKnowledgeHandlerRetrieverError(t *testing.T) {
	h, err := NewKnowledgeHandler(KnowledgeConfig{Route: "product_query"}, failingRetriever{}, nil, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	if _, err := h.Respond(context.Background(), newRequest("r1", "price", schema.ModeGraph), schema.ModeGraph); err == nil {
		t.Fatal("expected retriever error to surface")
	}
}

func TestConversationalHandler(t *testing.T) {
	out, err := NewConversationalHandler(nil).Respond(context.Background(), newRequest("r1", "hi", schema.ModeGraph), schema.ModeGraph)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if out.Response.Text != greetingText {
		t.Fatalf("expected greeting, got %q", out.Response.Text)
	}

	reasoner := &recordingReasoner{reply: "Hi there!"}
	req := newRequest("r2", "how are you", schema.ModeGraph)
	req.SessionContext = map[string]any{schema.SessionKeyHistory: []any{
		map[string]any{"role": "user", "content": "hello"},
		map[string]any{"role": "assistant", "content": "Hello! How can I help?"},
	}}
	out, err = NewConversationalHandler(reasoner).Respond(context.Background(), req, schema.ModeGraph)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if out.Response.Text != "Hi there!" {
		t.Fatalf("unexpected text: %q", out.Response.Text)
	}
	if !strings.Contains(reasoner.prompts[0], "Assistant: Hello! How can I help?") {
		t.Fatalf("expected history in prompt: %s", reasoner.prompts[0])
	}

	reasoner.err = errors.New("provider down")
	if _, err := NewConversationalHandler(reasoner).Respond(context.Background(), req, schema.ModeGraph); err == nil {
		t.Fatal("expected reasoner error")
	}
}
