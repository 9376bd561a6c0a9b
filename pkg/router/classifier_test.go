package router

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/LeeJc02/ShopMate/pkg/config"
	"github.com/LeeJc02/ShopMate/pkg/fault"
	"github.com/LeeJc02/ShopMate/pkg/schema"
)

type countingReasoner struct {
	calls    int
	response string
	err      error
}

func (r *countingReasoner) Complete(_ context.Context, _ string, _ map[string]string) (string, error) {
	r.calls++
	return r.response, r.err
}

type memoryRecorder struct {
	decisions map[string]*Decision
}

func (m *memoryRecorder) RecordDecision(_ context.Context, requestID string, d *Decision) error {
	if m.decisions == nil {
		m.decisions = make(map[string]*Decision)
	}
	m.decisions[requestID] = d
	return nil
}

func req(id, text string) *schema.Request {
	return &schema.Request{ID: id, Text: text, Mode: schema.ModeGraph}
}

func TestHeuristicDecisionConfidence(t *testing.T) {
	cfg := &config.RoutingConfig{
		Routes: map[string]config.RouteSpec{
			"alpha": {Triggers: []string{"alpha", "beta", "gamma"}},
			"beta":  {Triggers: []string{"alpha", "beta"}},
		},
	}

	decision := HeuristicDecision("alpha beta gamma", cfg)
	if decision.Route != "alpha" {
		t.Fatalf("expected alpha, got %s", decision.Route)
	}
	if len(decision.Candidates) < 2 {
		t.Fatalf("expected candidates")
	}
	if decision.Candidates[0].Score != 3 || decision.Candidates[1].Score != 2 {
		t.Fatalf("unexpected scores: %+v", decision.Candidates)
	}

	want := 0.55
	if math.Abs(decision.Confidence-want) > 0.02 {
		t.Fatalf("confidence mismatch: got %.2f want %.2f", decision.Confidence, want)
	}
}

func TestHeuristicDecisionNoMatches(t *testing.T) {
	decision := HeuristicDecision("no matches here", config.DefaultRoutingConfig())
	if decision.Route != "" {
		t.Fatalf("expected no route, got %s", decision.Route)
	}
	if decision.Confidence != 0 || len(decision.Candidates) != 0 {
		t.Fatalf("expected empty decision, got %+v", decision)
	}
}

func TestClassifyDefaultRoutes(t *testing.T) {
	disabled := false
	cfg := config.DefaultRoutingConfig()
	cfg.EnableLLMTieBreaker = &disabled
	classifier := NewClassifier(cfg)

	tests := []struct {
		text  string
		route string
	}{
		{"Where is my order #123?", "order_query"},
		{"I want to return this, it arrived broken", "after_sales"},
		{"How much is the iPhone 15 Pro, is it in stock?", "product_query"},
		{"hello there", "chitchat"},
		{"我的订单到哪了", "order_query"},
		{"我要退货退款", "after_sales"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			decision, err := classifier.Classify(context.Background(), req("r", tt.text))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if decision.Route != tt.route {
				t.Fatalf("expected %s, got %s (%+v)", tt.route, decision.Route, decision.Candidates)
			}
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	disabled := false
	cfg := config.DefaultRoutingConfig()
	cfg.EnableLLMTieBreaker = &disabled
	classifier := NewClassifier(cfg)

	first, _ := classifier.Classify(context.Background(), req("a", "track my package please"))
	for i := 0; i < 10; i++ {
		next, _ := classifier.Classify(context.Background(), req("a", "track my package please"))
		if next.Route != first.Route || next.Confidence != first.Confidence {
			t.Fatalf("classification changed between calls: %+v vs %+v", first, next)
		}
	}
}

func TestConfidentHeuristicSkipsReasoner(t *testing.T) {
	reasoner := &countingReasoner{response: "{}"}
	classifier := NewClassifier(config.DefaultRoutingConfig(), WithReasoner(reasoner))

	decision, err := classifier.Classify(context.Background(), req("r", "Where is my order #123?"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.UsedLLM || reasoner.calls != 0 {
		t.Fatalf("expected no LLM usage")
	}
}

func TestTieBreakerPicksRoute(t *testing.T) {
	reasoner := &countingReasoner{response: "```json\n{\"route\":\"product_query\",\"confidence\":0.82,\"reason\":\"asks about price\"}\n```"}
	classifier := NewClassifier(config.DefaultRoutingConfig(), WithReasoner(reasoner))

	decision, err := classifier.Classify(context.Background(), req("r", "what's the price of my order"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reasoner.calls != 1 {
		t.Fatalf("expected one reasoner call, got %d", reasoner.calls)
	}
	if decision.Route != "product_query" || !decision.UsedLLM {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestTieBreakerLowConfidenceIsAmbiguous(t *testing.T) {
	reasoner := &countingReasoner{response: `{"route":"order_query","confidence":0.3,"reason":"unsure"}`}
	classifier := NewClassifier(config.DefaultRoutingConfig(), WithReasoner(reasoner))

	decision, err := classifier.Classify(context.Background(), req("r", "hmm"))
	if !errors.Is(err, ErrAmbiguousIntent) {
		t.Fatalf("expected ambiguous intent, got %v", err)
	}
	var amb *AmbiguousIntentError
	if !errors.As(err, &amb) || amb.Decision != decision {
		t.Fatalf("expected error to carry the decision")
	}
}

func TestTieBreakerUnknownRouteIsAmbiguous(t *testing.T) {
	reasoner := &countingReasoner{response: `{"route":"weather","confidence":0.99}`}
	classifier := NewClassifier(config.DefaultRoutingConfig(), WithReasoner(reasoner))

	_, err := classifier.Classify(context.Background(), req("r", "will it rain"))
	if !errors.Is(err, ErrAmbiguousIntent) {
		t.Fatalf("expected ambiguous intent, got %v", err)
	}
}

func TestReasonerFailureIsUnavailable(t *testing.T) {
	reasoner := &countingReasoner{err: errors.New("connection refused")}
	classifier := NewClassifier(config.DefaultRoutingConfig(), WithReasoner(reasoner))

	decision, err := classifier.Classify(context.Background(), req("r", "something vague"))
	if !errors.Is(err, fault.ErrClassificationUnavailable) {
		t.Fatalf("expected classification unavailable, got %v", err)
	}
	if decision != nil {
		t.Fatalf("expected no decision on unavailability")
	}
}

func TestNoReasonerLowConfidenceIsAmbiguous(t *testing.T) {
	classifier := NewClassifier(config.DefaultRoutingConfig())
	_, err := classifier.Classify(context.Background(), req("r", "qwerty"))
	if !errors.Is(err, ErrAmbiguousIntent) {
		t.Fatalf("expected ambiguous intent, got %v", err)
	}
}

func TestClassifyRecordsDecision(t *testing.T) {
	rec := &memoryRecorder{}
	classifier := NewClassifier(config.DefaultRoutingConfig(), WithRecorder(rec))

	if _, err := classifier.Classify(context.Background(), req("req-42", "refund please")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, ok := rec.decisions["req-42"]
	if !ok || d.Route != "after_sales" {
		t.Fatalf("expected recorded after_sales decision, got %+v", rec.decisions)
	}
}

func TestRouteDecisionConversion(t *testing.T) {
	d := &Decision{
		Route:      "order_query",
		Confidence: 0.9,
		Reasons:    []string{"a", "b"},
		Candidates: []Candidate{{Route: "order_query"}, {Route: "product_query"}},
	}
	rd := d.RouteDecision()
	if rd.Rationale != "a; b" || len(rd.Candidates) != 2 || rd.Route != "order_query" {
		t.Fatalf("unexpected conversion: %+v", rd)
	}
}
