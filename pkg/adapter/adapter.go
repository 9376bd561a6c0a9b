// Package adapter calls LLM providers on behalf of the classifier and the
// route handlers. Adapters are thin provider clients; Reasoner adds the
// retry, fallback and breaker policy on top.
package adapter

import (
	"context"
)

// Adapter is one LLM provider.
type Adapter interface {
	// Generate completes a single-turn prompt with the given model.
	Generate(ctx context.Context, model string, prompt string) (*Response, error)

	// Name is the key routing config uses to select the adapter.
	Name() string

	// Models lists the models offered by default, preferred first.
	Models() []string
}
