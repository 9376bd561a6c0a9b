package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/LeeJc02/ShopMate/pkg/config"
)

// Target names an adapter and model to call.
type Target struct {
	Adapter string `json:"adapter"`
	Model   string `json:"model"`
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s", t.Adapter, t.Model)
}

// Policy controls retries and fallbacks for a single logical call.
type Policy struct {
	Retry    config.RetryConfig
	Fallback config.FallbackConfig
}

// PolicyFrom extracts the call policy from routing configuration.
func PolicyFrom(cfg *config.RoutingConfig) Policy {
	if cfg == nil {
		return Policy{Retry: config.RetryConfig{MaxRetries: 2, BaseBackoffMs: 200, MaxBackoffMs: 2000}}
	}
	return Policy{Retry: cfg.Retry, Fallback: cfg.Fallback}
}

// Call invokes the target adapter, retrying transient errors with
// exponential backoff and then walking the fallback chain.
func Call(
	ctx context.Context,
	adapters map[string]Adapter,
	target Target,
	prompt string,
	policy Policy,
) (*Response, []CallReport, error) {
	targets := buildTargets(target, policy)
	var reports []CallReport
	var lastErr error

	for idx, t := range targets {
		adapterImpl, ok := adapters[t.Adapter]
		if !ok || adapterImpl == nil {
			lastErr = fmt.Errorf("adapter %s not found", t.Adapter)
			reports = append(reports, CallReport{Adapter: t.Adapter, Model: t.Model, FallbackUsed: idx > 0, Error: lastErr.Error()})
			continue
		}

		for attempt := 0; attempt <= policy.Retry.MaxRetries; attempt++ {
			resp, err := adapterImpl.Generate(ctx, t.Model, prompt)
			if err == nil {
				reports = append(reports, CallReport{
					Adapter:      t.Adapter,
					Model:        t.Model,
					Usage:        normalizeUsage(resp.Usage),
					Retries:      attempt,
					FallbackUsed: idx > 0,
				})
				return resp, reports, nil
			}

			lastErr = err
			if ctx.Err() != nil {
				return nil, reports, ctx.Err()
			}
			if !IsTransient(err) || attempt == policy.Retry.MaxRetries {
				reports = append(reports, CallReport{
					Adapter:      t.Adapter,
					Model:        t.Model,
					Retries:      attempt,
					FallbackUsed: idx > 0,
					Error:        err.Error(),
				})
				break
			}

			backoff := computeBackoff(policy.Retry.BaseBackoffMs, policy.Retry.MaxBackoffMs, attempt)
			if err := sleepWithContext(ctx, backoff); err != nil {
				return nil, reports, err
			}
		}
	}

	if lastErr == nil {
		lastErr = ErrNoTargets
	}
	return nil, reports, lastErr
}

func buildTargets(target Target, policy Policy) []Target {
	targets := []Target{target}
	if !policy.Fallback.AllowFallback {
		return targets
	}
	for _, entry := range resolveFallbackChain(policy.Fallback, target) {
		targets = append(targets, Target{Adapter: entry.Adapter, Model: entry.Model})
	}
	return targets
}

func resolveFallbackChain(cfg config.FallbackConfig, target Target) []config.RouteTarget {
	if cfg.FallbackChain == nil {
		return nil
	}
	if chain, ok := cfg.FallbackChain[target.String()]; ok {
		return chain
	}
	if chain, ok := cfg.FallbackChain[target.Adapter]; ok {
		return chain
	}
	return nil
}

func computeBackoff(baseMs, maxMs, attempt int) time.Duration {
	backoff := time.Duration(baseMs) * time.Millisecond
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= time.Duration(maxMs)*time.Millisecond {
			return time.Duration(maxMs) * time.Millisecond
		}
	}
	if backoff > time.Duration(maxMs)*time.Millisecond {
		return time.Duration(maxMs) * time.Millisecond
	}
	return backoff
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
