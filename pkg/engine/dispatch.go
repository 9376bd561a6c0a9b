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

// Dispatch runs the handler for an already classified request. In
// passthrough mode a handler asking for tool calls suspends the turn; in
// graph mode the same request fails.
func (e *Engine) Dispatch(ctx context.Context, req *schema.Request, decision schema.RouteDecision, variant string) (*Outcome, error) {
	started := e.now()
	t := newTurn(StateStart, StateClassifying, StateDispatching)

	ctx, span := e.tracer.Start(ctx, "engine.dispatch", trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("route", decision.Route),
		attribute.String("variant", variant),
		attribute.String("mode", string(req.Mode)),
	))
	defer span.End()

	out, err := e.dispatch(ctx, req, decision, variant, t)
	if err != nil {
		t.to(StateFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(fault.KindOf(err)))
	}
	e.record(ctx, req, decision.Route, variant, t, err, started)
	if err != nil {
		return nil, err
	}
	out.Transitions = t.snapshot()
	return out, nil
}

func (e *Engine) dispatch(ctx context.Context, req *schema.Request, decision schema.RouteDecision, variant string, t *turn) (*Outcome, error) {
	fail := func(kind fault.Kind, err error, msg string) error {
		return fault.Wrap(kind, err, msg).WithRoute(decision.Route).WithRequest(req.ID)
	}

	h, err := e.handlers.Resolve(decision.Route, variant)
	if err != nil {
		return nil, fail(fault.KindMisconfiguredRoute, err, "resolve handler")
	}

	t.to(StateExecuting)
	result, err := respond(ctx, h, req)
	if err != nil {
		return nil, fail(fault.KindHandlerError, err, h.Name())
	}

	switch {
	case result.IsFinal():
		t.to(StateSynthesizing)
		t.to(StateCompleted)
		resp := result.Response.Clone()
		resp.RequestID = req.ID
		annotate(resp, decision, variant, t)
		return &Outcome{Response: resp, Decision: decision, Variant: variant}, nil

	case len(result.ToolCalls) == 0:
		return nil, fail(fault.KindHandlerError, errors.New("handler returned neither a response nor tool calls"), h.Name())

	case req.Mode != schema.ModePassthrough:
		return nil, fail(fault.KindToolCallInGraphMode, nil,
			fmt.Sprintf("%s requested %d tool call(s) in %s mode", h.Name(), len(result.ToolCalls), req.Mode))
	}

	if err := checkCallIDs(result.ToolCalls); err != nil {
		return nil, fail(fault.KindHandlerError, err, h.Name())
	}

	t.to(StateAwaitingToolResults)
	now := e.now()
	s := &suspend.Suspension{
		RequestID:    req.ID,
		Request:      *req,
		Decision:     decision,
		Variant:      variant,
		Calls:        result.ToolCalls,
		HandlerState: result.State,
		Transitions:  stateNames(t.states),
		CreatedAt:    now,
		ExpiresAt:    now.Add(e.maxSuspension),
		Status:       suspend.StatusPending,
	}
	if err := e.store.Put(ctx, s); err != nil {
		if errors.Is(err, suspend.ErrExists) {
			return nil, fail(fault.KindProtocolError, fault.ErrProtocol, "request id already has pending tool calls")
		}
		return nil, fail(fault.KindInternal, err, "store suspension")
	}

	return &Outcome{
		Pending: &schema.PendingToolCalls{
			RequestID: req.ID,
			Route:     decision.Route,
			ToolCalls: result.ToolCalls,
			ExpiresAt: s.ExpiresAt,
		},
		Decision: decision,
		Variant:  variant,
	}, nil
}

func respond(ctx context.Context, h handler.Handler, req *schema.Request) (out handler.Outcome, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = recovered(v)
		}
	}()
	return h.Respond(ctx, req, req.Mode)
}

func checkCallIDs(calls []schema.ToolCallRequest) error {
	seen := make(map[string]struct{}, len(calls))
	for _, c := range calls {
		if c.CallID == "" {
			return fmt.Errorf("tool call %s has no call_id", c.ToolName)
		}
		if _, dup := seen[c.CallID]; dup {
			return fmt.Errorf("duplicate call_id %s", c.CallID)
		}
		seen[c.CallID] = struct{}{}
	}
	return nil
}
