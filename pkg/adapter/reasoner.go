package adapter

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/LeeJc02/ShopMate/pkg/circuit"
)

// Reasoner completes prompts against a primary target with the configured
// retry and fallback policy. An optional breaker stops calling a provider
// that keeps failing.
type Reasoner struct {
	adapters map[string]Adapter
	target   Target
	policy   Policy
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

type ReasonerOption func(*Reasoner)

func WithBreaker(b *circuit.Breaker) ReasonerOption {
	return func(r *Reasoner) {
		r.breaker = b
	}
}

func WithLogger(l *slog.Logger) ReasonerOption {
	return func(r *Reasoner) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewReasoner(adapters map[string]Adapter, target Target, policy Policy, opts ...ReasonerOption) *Reasoner {
	r := &Reasoner{
		adapters: adapters,
		target:   target,
		policy:   policy,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reasoner) Target() Target {
	return r.target
}

// Complete returns the model's text for prompt. meta is attached to log
// lines only.
func (r *Reasoner) Complete(ctx context.Context, prompt string, meta map[string]string) (string, error) {
	var ticket circuit.Ticket
	if r.breaker != nil {
		t, err := r.breaker.Allow()
		if err != nil {
			r.logger.Warn("reasoner short-circuited", "target", r.target.String(), "error", err)
			return "", err
		}
		ticket = t
	}

	resp, reports, err := Call(ctx, r.adapters, r.target, prompt, r.policy)

	attrs := []any{"target", r.target.String(), "attempts", len(reports)}
	for k, v := range meta {
		attrs = append(attrs, k, v)
	}
	if err != nil {
		if r.breaker != nil {
			if errors.Is(err, context.Canceled) {
				r.breaker.Release(ticket)
			} else {
				r.breaker.Record(ticket, false)
			}
		}
		r.logger.Warn("reasoner call failed", append(attrs, "error", err)...)
		return "", err
	}
	if r.breaker != nil {
		r.breaker.Record(ticket, true)
	}

	last := reports[len(reports)-1]
	r.logger.Debug("reasoner call",
		append(attrs, "adapter", last.Adapter, "model", last.Model, "fallback", last.FallbackUsed, "tokens", last.Usage.TotalTokens)...)
	return resp.Content, nil
}
