package router

import (
	"errors"
	"strings"

	"github.com/LeeJc02/ShopMate/pkg/schema"
)

// ErrAmbiguousIntent is returned when no route clears the confidence
// threshold. The engine recovers from it with the default route.
var ErrAmbiguousIntent = errors.New("ambiguous intent")

// Candidate captures a heuristic candidate route.
type Candidate struct {
	Route    string   `json:"route"`
	Score    int      `json:"score"`
	Triggers []string `json:"triggers,omitempty"`
}

// Decision captures routing decision details.
type Decision struct {
	Route             string      `json:"route"`
	Confidence        float64     `json:"confidence"`
	Reasons           []string    `json:"reasons,omitempty"`
	Candidates        []Candidate `json:"candidates,omitempty"`
	UsedLLM           bool        `json:"used_llm"`
	ClassifierAdapter string      `json:"classifier_adapter,omitempty"`
	ClassifierModel   string      `json:"classifier_model,omitempty"`
}

// RouteDecision converts the decision into the value carried by requests.
func (d *Decision) RouteDecision() schema.RouteDecision {
	out := schema.RouteDecision{
		Route:      d.Route,
		Confidence: d.Confidence,
		Rationale:  strings.Join(d.Reasons, "; "),
		UsedLLM:    d.UsedLLM,
	}
	for _, c := range d.Candidates {
		out.Candidates = append(out.Candidates, c.Route)
	}
	return out
}

// AmbiguousIntentError carries the best decision the classifier could make.
type AmbiguousIntentError struct {
	Decision *Decision
}

func (e *AmbiguousIntentError) Error() string {
	if e.Decision == nil || e.Decision.Route == "" {
		return "ambiguous intent: no route matched"
	}
	return "ambiguous intent: best candidate " + e.Decision.Route
}

func (e *AmbiguousIntentError) Unwrap() error {
	return ErrAmbiguousIntent
}
