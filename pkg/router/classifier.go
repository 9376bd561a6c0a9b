package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/LeeJc02/ShopMate/pkg/config"
	"github.com/LeeJc02/ShopMate/pkg/fault"
	"github.com/LeeJc02/ShopMate/pkg/schema"
)

// Reasoner is the completion capability the LLM tie-breaker needs.
type Reasoner interface {
	Complete(ctx context.Context, prompt string, meta map[string]string) (string, error)
}

// Recorder persists classification decisions for later inspection.
type Recorder interface {
	RecordDecision(ctx context.Context, requestID string, decision *Decision) error
}

// Classifier maps requests to routes using trigger heuristics, asking the
// reasoner to break ties when the heuristic is not confident.
type Classifier struct {
	config   *config.RoutingConfig
	rules    *RuleSet
	reasoner Reasoner
	recorder Recorder
	logger   *slog.Logger
}

type ClassifierOption func(*Classifier)

// WithReasoner enables the LLM tie-breaker.
func WithReasoner(r Reasoner) ClassifierOption {
	return func(c *Classifier) {
		c.reasoner = r
	}
}

func WithRecorder(r Recorder) ClassifierOption {
	return func(c *Classifier) {
		c.recorder = r
	}
}

func WithLogger(l *slog.Logger) ClassifierOption {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClassifier creates a new classifier for the routing config.
func NewClassifier(cfg *config.RoutingConfig, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		config: cfg,
		rules:  NewRuleSet(cfg),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Labels returns every route the classifier can produce.
func (c *Classifier) Labels() []string {
	return c.config.RouteNames()
}

// Classify determines the route for a request.
//
// It returns an error wrapping fault.ErrClassificationUnavailable when the
// reasoner cannot be reached, and *AmbiguousIntentError when no route clears
// the confidence threshold.
func (c *Classifier) Classify(ctx context.Context, req *schema.Request) (*Decision, error) {
	decision, err := c.classify(ctx, req)
	if decision != nil {
		c.record(ctx, req.ID, decision, err)
	}
	return decision, err
}

func (c *Classifier) classify(ctx context.Context, req *schema.Request) (*Decision, error) {
	decision := c.heuristic(req.Text)
	threshold := classifierThreshold(c.config)

	if decision.Route != "" && decision.Confidence >= threshold {
		return decision, nil
	}
	if !c.tieBreakerEnabled() {
		return decision, &AmbiguousIntentError{Decision: decision}
	}

	promptText := buildClassifierPrompt(req.Text, c.config, decision.Candidates)
	out, err := c.reasoner.Complete(ctx, promptText, map[string]string{
		"purpose":    "classify",
		"request_id": req.ID,
	})
	if err != nil {
		decision.Reasons = append(decision.Reasons, fmt.Sprintf("classifier error: %v", err))
		return nil, fmt.Errorf("%w: %w", fault.ErrClassificationUnavailable, err)
	}

	picked, err := parseClassifierResponse(out)
	if err != nil {
		decision.Reasons = append(decision.Reasons, fmt.Sprintf("classifier response invalid: %v", err))
		return decision, &AmbiguousIntentError{Decision: decision}
	}
	if _, ok := c.config.Routes[picked.Route]; !ok {
		decision.Reasons = append(decision.Reasons, fmt.Sprintf("classifier picked unknown route %q", picked.Route))
		return decision, &AmbiguousIntentError{Decision: decision}
	}
	if picked.Confidence < 0 || picked.Confidence > 1 {
		decision.Reasons = append(decision.Reasons, "classifier confidence out of range")
		return decision, &AmbiguousIntentError{Decision: decision}
	}

	decision.Route = picked.Route
	decision.Confidence = picked.Confidence
	decision.UsedLLM = true
	decision.ClassifierAdapter = c.config.ClassifierAdapter
	decision.ClassifierModel = c.config.ClassifierModel
	if picked.Reason != "" {
		decision.Reasons = append(decision.Reasons, picked.Reason)
	}

	if decision.Confidence < threshold {
		return decision, &AmbiguousIntentError{Decision: decision}
	}
	return decision, nil
}

func (c *Classifier) heuristic(text string) *Decision {
	return scoreMatches(c.rules.Score(text))
}

func (c *Classifier) tieBreakerEnabled() bool {
	if c.reasoner == nil || c.config == nil {
		return false
	}
	return c.config.EnableLLMTieBreaker == nil || *c.config.EnableLLMTieBreaker
}

func (c *Classifier) record(ctx context.Context, requestID string, decision *Decision, classifyErr error) {
	c.logger.Debug("classified request",
		"request_id", requestID,
		"route", decision.Route,
		"confidence", decision.Confidence,
		"used_llm", decision.UsedLLM,
		"ambiguous", classifyErr != nil)
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordDecision(ctx, requestID, decision); err != nil {
		c.logger.Warn("failed to record decision", "request_id", requestID, "error", err)
	}
}

type classifierPick struct {
	Route      string  `json:"route"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

func parseClassifierResponse(content string) (*classifierPick, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var pick classifierPick
	if err := json.Unmarshal([]byte(content), &pick); err != nil {
		return nil, err
	}
	if pick.Route == "" {
		return nil, fmt.Errorf("missing route")
	}
	return &pick, nil
}

func buildClassifierPrompt(userPrompt string, cfg *config.RoutingConfig, candidates []Candidate) string {
	var sb strings.Builder
	sb.WriteString("You are the intent classifier of an e-commerce customer service assistant. Choose the best route.\n")
	sb.WriteString("Return ONLY JSON: {\"route\":\"...\",\"confidence\":0-1,\"reason\":\"...\"}.\n\n")
	sb.WriteString("Routes:\n")
	for _, name := range cfg.RouteNames() {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", name, cfg.Routes[name].Description))
	}
	if len(candidates) > 0 {
		sb.WriteString("\nKeyword candidates:\n")
		for _, c := range candidates {
			sb.WriteString(fmt.Sprintf("- %s (score=%d, triggers: %s)\n", c.Route, c.Score, strings.Join(c.Triggers, ", ")))
		}
	}
	sb.WriteString("\nUser message:\n")
	sb.WriteString(userPrompt)
	sb.WriteString("\n")
	return sb.String()
}

func classifierThreshold(cfg *config.RoutingConfig) float64 {
	if cfg == nil || cfg.ClassifierConfidenceThreshold <= 0 {
		return 0.65
	}
	return cfg.ClassifierConfidenceThreshold
}

// HeuristicDecision scores routes using trigger matches.
func HeuristicDecision(prompt string, cfg *config.RoutingConfig) *Decision {
	return scoreMatches(NewRuleSet(cfg).Score(prompt))
}

func scoreMatches(matches map[string][]string) *Decision {
	var candidates []Candidate
	for route, triggers := range matches {
		candidates = append(candidates, Candidate{
			Route:    route,
			Score:    len(triggers),
			Triggers: triggers,
		})
	}

	if len(candidates) == 0 {
		return &Decision{
			Confidence: 0,
			Reasons:    []string{"no triggers matched"},
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score == candidates[j].Score {
			return candidates[i].Route < candidates[j].Route
		}
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) > 3 {
		candidates = candidates[:3]
	}

	topScore := candidates[0].Score
	secondScore := 0
	if len(candidates) > 1 {
		secondScore = candidates[1].Score
	}

	margin := float64(topScore-secondScore) / float64(maxInt(topScore, 1))
	strength := float64(minInt(topScore, 5)) / 5.0
	confidence := 0.75*margin + 0.25*strength
	if topScore >= 2 && secondScore == 0 {
		confidence = maxFloat(confidence, 0.9)
	}
	if topScore >= 3 {
		confidence = minFloat(confidence+0.15, 1.0)
	}

	return &Decision{
		Route:      candidates[0].Route,
		Confidence: confidence,
		Reasons:    []string{fmt.Sprintf("top_score=%d second_score=%d", topScore, secondScore)},
		Candidates: candidates,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
