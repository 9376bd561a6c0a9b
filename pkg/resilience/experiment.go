package resilience

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

var ErrUnknownExperiment = errors.New("unknown experiment")

type Variant struct {
	Label   string `json:"label"`
	Percent int    `json:"percent"`
}

// Experiment splits a route's traffic over handler variants. A zero
// Duration runs until disabled.
type Experiment struct {
	ID       string        `json:"id"`
	Route    string        `json:"route"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
	Variants []Variant     `json:"variants"`
	Enabled  bool          `json:"enabled"`
}

func (e Experiment) Active(now time.Time) bool {
	if !e.Enabled || now.Before(e.Start) {
		return false
	}
	return e.Duration <= 0 || now.Before(e.Start.Add(e.Duration))
}

func (e Experiment) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("experiment id is required")
	}
	if e.Route == "" {
		return fmt.Errorf("experiment %s: route is required", e.ID)
	}
	return validateSplit(e.ID, e.Variants)
}

func validateSplit(id string, variants []Variant) error {
	if len(variants) == 0 {
		return fmt.Errorf("experiment %s: at least one variant is required", id)
	}
	total := 0
	seen := make(map[string]struct{}, len(variants))
	for _, v := range variants {
		if v.Percent < 0 {
			return fmt.Errorf("experiment %s: variant %q has negative percent", id, v.Label)
		}
		if _, dup := seen[v.Label]; dup {
			return fmt.Errorf("experiment %s: duplicate variant %q", id, v.Label)
		}
		seen[v.Label] = struct{}{}
		total += v.Percent
	}
	if total != 100 {
		return fmt.Errorf("experiment %s: variant percentages sum to %d, want 100", id, total)
	}
	return nil
}

// VariantStats aggregates the gateway's observations for one arm.
type VariantStats struct {
	Requests      int64   `json:"requests"`
	Failures      int64   `json:"failures"`
	MeanLatencyMS float64 `json:"mean_latency_ms"`

	totalLatency time.Duration
}

type ExperimentSnapshot struct {
	Experiment
	Active   bool                    `json:"active"`
	Assigned int                     `json:"assigned"`
	Stats    map[string]VariantStats `json:"stats"`
}

type experimentState struct {
	Experiment
	assignments map[string]string
	stats       map[string]*VariantStats
}

// Splitter assigns sticky keys to experiment variants.
type Splitter struct {
	now func() time.Time

	mu          sync.RWMutex
	experiments map[string]*experimentState
}

func NewSplitter(now func() time.Time) *Splitter {
	if now == nil {
		now = time.Now
	}
	return &Splitter{now: now, experiments: make(map[string]*experimentState)}
}

// Add registers an experiment, replacing one with the same id.
func (s *Splitter) Add(exp Experiment) error {
	if err := exp.Validate(); err != nil {
		return err
	}
	exp.Variants = append([]Variant(nil), exp.Variants...)
	if exp.Start.IsZero() {
		exp.Start = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.experiments[exp.ID] = &experimentState{
		Experiment:  exp,
		assignments: make(map[string]string),
		stats:       make(map[string]*VariantStats),
	}
	return nil
}

// Assign returns the variant for stickyKey under the first active experiment
// on route. Once assigned, a key keeps its variant while the experiment runs.
func (s *Splitter) Assign(route, stickyKey string) (experimentID, variant string, ok bool) {
	now := s.now()

	s.mu.RLock()
	exp := s.activeFor(route, now)
	if exp == nil {
		s.mu.RUnlock()
		return "", "", false
	}
	if v, hit := exp.assignments[stickyKey]; hit {
		s.mu.RUnlock()
		return exp.ID, v, true
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	exp = s.activeFor(route, now)
	if exp == nil {
		return "", "", false
	}
	if v, hit := exp.assignments[stickyKey]; hit {
		return exp.ID, v, true
	}
	v := pick(exp.Variants, bucket(exp.ID, stickyKey))
	exp.assignments[stickyKey] = v
	return exp.ID, v, true
}

// activeFor must be called with s.mu held.
func (s *Splitter) activeFor(route string, now time.Time) *experimentState {
	var found *experimentState
	for _, exp := range s.experiments {
		if exp.Route != route || !exp.Active(now) {
			continue
		}
		if found == nil || exp.ID < found.ID {
			found = exp
		}
	}
	return found
}

func bucket(id, key string) int {
	h := fnv.New32a()
	h.Write([]byte(id + ":" + key))
	return int(h.Sum32() % 100)
}

func pick(variants []Variant, b int) string {
	cumulative := 0
	for _, v := range variants {
		cumulative += v.Percent
		if b < cumulative {
			return v.Label
		}
	}
	return variants[len(variants)-1].Label
}

// UpdateSplit changes the percentages for keys not yet assigned.
func (s *Splitter) UpdateSplit(id string, variants []Variant) error {
	if err := validateSplit(id, variants); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.experiments[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExperiment, id)
	}
	exp.Variants = append([]Variant(nil), variants...)
	return nil
}

func (s *Splitter) Enable(id string) error {
	return s.setEnabled(id, true)
}

func (s *Splitter) Disable(id string) error {
	return s.setEnabled(id, false)
}

func (s *Splitter) setEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.experiments[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExperiment, id)
	}
	exp.Enabled = enabled
	return nil
}

// Record adds one observation to a variant's stats.
func (s *Splitter) Record(id, variant string, latency time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.experiments[id]
	if !ok {
		return
	}
	st, ok := exp.stats[variant]
	if !ok {
		st = &VariantStats{}
		exp.stats[variant] = st
	}
	st.Requests++
	if failed {
		st.Failures++
	}
	st.totalLatency += latency
	st.MeanLatencyMS = float64(st.totalLatency.Microseconds()) / 1000 / float64(st.Requests)
}

// Experiments returns every registered experiment, sorted by id.
func (s *Splitter) Experiments() []ExperimentSnapshot {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ExperimentSnapshot, 0, len(s.experiments))
	for _, exp := range s.experiments {
		snap := ExperimentSnapshot{
			Experiment: exp.Experiment,
			Active:     exp.Active(now),
			Assigned:   len(exp.assignments),
			Stats:      make(map[string]VariantStats, len(exp.stats)),
		}
		snap.Variants = append([]Variant(nil), exp.Variants...)
		for label, st := range exp.stats {
			snap.Stats[label] = *st
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
