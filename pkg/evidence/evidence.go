// Package evidence writes a per-request audit trail of routing decisions and
// turn outcomes as JSON files under a base directory.
package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/LeeJc02/ShopMate/pkg/engine"
	"github.com/LeeJc02/ShopMate/pkg/router"
)

// DecisionRecord captures how a request was classified.
type DecisionRecord struct {
	RequestID string           `json:"request_id"`
	Timestamp time.Time        `json:"timestamp"`
	Decision  *router.Decision `json:"decision"`
}

// Writer lays out one directory per request:
//
//	<base>/<request-id>/decision.json
//	<base>/<request-id>/outcomes.json
//
// outcomes.json holds every settled turn of the request in order, so a
// suspended turn and its resume both appear.
type Writer struct {
	baseDir string
	now     func() time.Time

	mu sync.Mutex
}

// NewWriter creates a writer rooted at baseDir.
func NewWriter(baseDir string) (*Writer, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}
	return &Writer{baseDir: baseDir, now: time.Now}, nil
}

// RequestDir returns the directory holding a request's records.
func (w *Writer) RequestDir(requestID string) (string, error) {
	if err := checkID(requestID); err != nil {
		return "", err
	}
	return filepath.Join(w.baseDir, requestID), nil
}

// RecordDecision writes decision.json.
func (w *Writer) RecordDecision(_ context.Context, requestID string, decision *router.Decision) error {
	dir, err := w.ensureDir(requestID)
	if err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, "decision.json"), DecisionRecord{
		RequestID: requestID,
		Timestamp: w.now().UTC(),
		Decision:  decision,
	})
}

// RecordOutcome appends the record to outcomes.json.
func (w *Writer) RecordOutcome(_ context.Context, rec engine.Record) error {
	dir, err := w.ensureDir(rec.RequestID)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	path := filepath.Join(dir, "outcomes.json")
	existing, err := ReadOutcomes(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return writeJSON(path, append(existing, rec))
}

// ReadOutcomes loads an outcomes.json file.
func ReadOutcomes(path string) ([]engine.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []engine.Record
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

func (w *Writer) ensureDir(requestID string) (string, error) {
	dir, err := w.RequestDir(requestID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// checkID keeps request ids from escaping the base directory.
func checkID(id string) error {
	if id == "" {
		return fmt.Errorf("request ID is required")
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid request ID %q", id)
	}
	return nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
