package engine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/LeeJc02/ShopMate/pkg/fault"
	"github.com/LeeJc02/ShopMate/pkg/handler"
	"github.com/LeeJc02/ShopMate/pkg/schema"
	"github.com/LeeJc02/ShopMate/pkg/suspend"
)

// Resume completes a suspended turn with the caller's tool results.
// Resuming again with the same results returns the stored response without
// running the handler; different results are a protocol error.
func (e *Engine) Resume(ctx context.Context, requestID string, results []schema.ToolCallResult) (*schema.Response, error) {
	ctx, span := e.tracer.Start(ctx, "engine.resume",
		trace.WithAttributes(attribute.String("request.id", requestID), attribute.Int("results", len(results))))
	defer span.End()

	for _, r := range results {
		if err := r.Validate(); err != nil {
			err = fault.Wrap(fault.KindProtocolError, errors.Join(fault.ErrProtocol, err), "invalid tool result").WithRequest(requestID)
			span.RecordError(err)
			span.SetStatus(codes.Error, string(fault.KindProtocolError))
			return nil, err
		}
	}

	digest := schema.DigestResults(results)
	v, err, shared := e.resumes.Do(requestID+"|"+digest, func() (any, error) {
		return e.resume(ctx, requestID, digest, results)
	})
	span.SetAttributes(attribute.Bool("shared", shared))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(fault.KindOf(err)))
		return nil, err
	}
	return v.(*schema.Response).Clone(), nil
}

func (e *Engine) resume(ctx context.Context, requestID, digest string, results []schema.ToolCallResult) (*schema.Response, error) {
	started := e.now()
	s, err := e.store.Get(ctx, requestID)
	if err != nil {
		return nil, e.lookupError(requestID, err)
	}
	if s.Status == suspend.StatusCompleted {
		return replay(s, digest)
	}

	req := &s.Request
	t := newTurn(statesFrom(s.Transitions)...)
	fail := func(kind fault.Kind, err error, msg string) error {
		t.to(StateFailed)
		err = fault.Wrap(kind, err, msg).WithRoute(s.Decision.Route).WithRequest(requestID)
		e.record(ctx, req, s.Decision.Route, s.Variant, t, err, started)
		return err
	}

	if err := matchResults(s.Calls, results); err != nil {
		// The suspension is left untouched so the caller can retry.
		return nil, fault.Wrap(fault.KindProtocolError, errors.Join(fault.ErrProtocol, err), "tool results do not match").
			WithRoute(s.Decision.Route).WithRequest(requestID)
	}

	h, err := e.handlers.Resolve(s.Decision.Route, s.Variant)
	if err != nil {
		return nil, fail(fault.KindMisconfiguredRoute, err, "resolve handler")
	}

	t.to(StateSynthesizing)
	resp, err := resumeHandler(ctx, h, req, handler.Suspended{Calls: s.Calls, State: s.HandlerState}, results)
	if err != nil {
		return nil, fail(fault.KindHandlerError, err, h.Name())
	}
	if resp == nil {
		return nil, fail(fault.KindHandlerError, errors.New("handler returned no response"), h.Name())
	}

	t.to(StateCompleted)
	resp = resp.Clone()
	resp.RequestID = requestID
	annotate(resp, s.Decision, s.Variant, t)

	if err := e.store.Complete(ctx, requestID, digest, resp); err != nil {
		if errors.Is(err, suspend.ErrCompleted) {
			current, gerr := e.store.Get(ctx, requestID)
			if gerr != nil {
				return nil, e.lookupError(requestID, gerr)
			}
			return replay(current, digest)
		}
		if errors.Is(err, suspend.ErrExpired) || errors.Is(err, suspend.ErrNotFound) {
			return nil, e.lookupError(requestID, err)
		}
		return nil, fault.Wrap(fault.KindInternal, err, "complete suspension").WithRequest(requestID)
	}

	e.record(ctx, req, s.Decision.Route, s.Variant, t, nil, started)
	return resp, nil
}

func replay(s *suspend.Suspension, digest string) (*schema.Response, error) {
	if s.ResultsDigest != digest || s.Response == nil {
		return nil, fault.Wrap(fault.KindProtocolError, fault.ErrProtocol,
			"turn was already resumed with different results").WithRoute(s.Decision.Route).WithRequest(s.RequestID)
	}
	return s.Response.Clone(), nil
}

// matchResults rejects results for calls that were never issued and
// duplicate results for one call.
func matchResults(calls []schema.ToolCallRequest, results []schema.ToolCallResult) error {
	issued := make(map[string]struct{}, len(calls))
	for _, c := range calls {
		issued[c.CallID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		if _, ok := issued[r.CallID]; !ok {
			return fmt.Errorf("unexpected call_id %s", r.CallID)
		}
		if _, dup := seen[r.CallID]; dup {
			return fmt.Errorf("duplicate result for call_id %s", r.CallID)
		}
		seen[r.CallID] = struct{}{}
	}
	return nil
}

func resumeHandler(ctx context.Context, h handler.Handler, req *schema.Request, s handler.Suspended, results []schema.ToolCallResult) (resp *schema.Response, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = recovered(v)
		}
	}()
	return h.Resume(ctx, req, s, results)
}
