package evidence

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/LeeJc02/ShopMate/pkg/engine"
	"github.com/LeeJc02/ShopMate/pkg/router"
)

func TestRecordDecision(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	decision := &router.Decision{Route: "order_query", Confidence: 0.82, Reasons: []string{"matched order"}}
	if err := writer.RecordDecision(context.Background(), "req-1", decision); err != nil {
		t.Fatalf("record decision: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "req-1", "decision.json"))
	if err != nil {
		t.Fatalf("missing decision.json: %v", err)
	}
	var got DecisionRecord
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RequestID != "req-1" || got.Decision.Route != "order_query" {
		t.Fatalf("unexpected record: %+v", got)
	}

	if runtime.GOOS != "windows" {
		assertPerm(t, filepath.Join(dir, "req-1"), 0700)
		assertPerm(t, filepath.Join(dir, "req-1", "decision.json"), 0600)
	}
}

func TestRecordOutcomeAppends(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	ctx := context.Background()
	first := engine.Record{
		RequestID:   "req-1",
		Route:       "order_query",
		Transitions: []engine.State{engine.StateStart, engine.StateAwaitingToolResults},
		At:          time.Unix(100, 0).UTC(),
	}
	second := first
	second.Transitions = []engine.State{engine.StateSynthesizing, engine.StateCompleted}

	for _, rec := range []engine.Record{first, second} {
		if err := writer.RecordOutcome(ctx, rec); err != nil {
			t.Fatalf("record outcome: %v", err)
		}
	}

	got, err := ReadOutcomes(filepath.Join(dir, "req-1", "outcomes.json"))
	if err != nil {
		t.Fatalf("read outcomes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[1].Transitions[1] != engine.StateCompleted {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestRejectsEscapingIDs(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	for _, id := range []string{"", ".", "..", "../x", `a\b`} {
		if err := writer.RecordDecision(context.Background(), id, &router.Decision{}); err == nil {
			t.Errorf("expected error for id %q", id)
		}
	}
}

func TestNewWriterRequiresBase(t *testing.T) {
	if _, err := NewWriter(""); err == nil {
		t.Fatal("expected error for empty base dir")
	}
}

func assertPerm(t *testing.T, path string, want os.FileMode) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	if got := info.Mode().Perm(); got != want {
		t.Fatalf("expected %s to have perm %o, got %o", path, want, got)
	}
}
