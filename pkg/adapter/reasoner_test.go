package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/LeeJc02/ShopMate/pkg/circuit"
	"github.com/LeeJc02/ShopMate/pkg/fault"
)

func TestReasonerCompleteReturnsContent(t *testing.T) {
	mock := NewMockAdapterWithResponses(map[string]string{"ping": "pong"}, "")
	r := NewReasoner(map[string]Adapter{"mock": mock}, Target{Adapter: "mock", Model: "mock-1"}, fastPolicy())

	out, err := r.Complete(context.Background(), "ping", map[string]string{"route": "chitchat"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "pong" {
		t.Fatalf("expected pong, got %q", out)
	}
}

func TestReasonerBreakerOpensOnRepeatedFailures(t *testing.T) {
	mock := NewMockAdapter()
	mock.FailWith(errors.New("provider down"))
	breaker := circuit.New("llm", circuit.Config{FailureThreshold: 3, Cooldown: time.Minute})
	r := NewReasoner(map[string]Adapter{"mock": mock}, Target{Adapter: "mock", Model: "mock-1"}, fastPolicy(), WithBreaker(breaker))

	for i := 0; i < 3; i++ {
		if _, err := r.Complete(context.Background(), "hello", nil); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}
	calls := mock.Calls()

	_, err := r.Complete(context.Background(), "hello", nil)
	if !errors.Is(err, fault.ErrCircuitOpen) {
		t.Fatalf("expected circuit open error, got %v", err)
	}
	if mock.Calls() != calls {
		t.Fatalf("expected short-circuit to skip the adapter")
	}
}

func TestMockAdapterDefaultEchoesPrompt(t *testing.T) {
	mock := NewMockAdapter()
	resp, err := mock.Generate(context.Background(), "", "status please")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(resp.Content, "status please") || resp.Model != "mock-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
