// Package engine drives a single conversational turn from classification to
// a final response, suspending passthrough turns until the caller returns
// tool results.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/LeeJc02/ShopMate/pkg/fault"
	"github.com/LeeJc02/ShopMate/pkg/handler"
	"github.com/LeeJc02/ShopMate/pkg/router"
	"github.com/LeeJc02/ShopMate/pkg/schema"
	"github.com/LeeJc02/ShopMate/pkg/suspend"
)

const (
	DefaultMaxSuspension = 5 * time.Minute
	DefaultSweepInterval = 30 * time.Second
)

// Classifier maps a request to a route. *router.Classifier implements it.
type Classifier interface {
	Classify(ctx context.Context, req *schema.Request) (*router.Decision, error)
}

// Resolver finds the handler for a route and variant. *registry.Registry
// implements it.
type Resolver interface {
	Resolve(label, variant string) (handler.Handler, error)
}

// Recorder receives a Record for every settled turn.
type Recorder interface {
	RecordOutcome(ctx context.Context, rec Record) error
}

type Config struct {
	DefaultRoute  string
	MaxSuspension time.Duration
}

type Option func(*Engine)

func WithStore(s suspend.Store) Option {
	return func(e *Engine) {
		e.store = s
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// Engine is safe for concurrent use. It holds no per-request state between
// calls other than what lives in its suspend.Store.
type Engine struct {
	classifier    Classifier
	handlers      Resolver
	store         suspend.Store
	defaultRoute  string
	maxSuspension time.Duration
	now           func() time.Time
	logger        *slog.Logger
	tracer        trace.Tracer
	recorder      Recorder

	resumes singleflight.Group
}

func New(classifier Classifier, handlers Resolver, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		classifier:    classifier,
		handlers:      handlers,
		defaultRoute:  cfg.DefaultRoute,
		maxSuspension: cfg.MaxSuspension,
		now:           time.Now,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:        otel.Tracer("github.com/LeeJc02/ShopMate/pkg/engine"),
	}
	if e.maxSuspension <= 0 {
		e.maxSuspension = DefaultMaxSuspension
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = suspend.NewMemory(suspend.WithClock(e.now))
	}
	return e
}

// Classify runs the classifier once. An ambiguous intent is recovered with
// the default route and reported as a fallback decision.
func (e *Engine) Classify(ctx context.Context, req *schema.Request) (schema.RouteDecision, error) {
	if err := req.Validate(); err != nil {
		return schema.RouteDecision{}, fault.Wrap(fault.KindInvalidRequest, err, "invalid request")
	}

	ctx, span := e.tracer.Start(ctx, "engine.classify",
		trace.WithAttributes(attribute.String("request.id", req.ID)))
	defer span.End()

	decision, err := e.classifier.Classify(ctx, req)
	var ambiguous *router.AmbiguousIntentError
	switch {
	case err == nil:
	case errors.As(err, &ambiguous):
		out := schema.RouteDecision{
			Route:     e.defaultRoute,
			Fallback:  true,
			Rationale: "ambiguous intent",
		}
		if ambiguous.Decision != nil {
			best := ambiguous.Decision.RouteDecision()
			out.Confidence = best.Confidence
			out.UsedLLM = best.UsedLLM
			out.Candidates = best.Candidates
			if best.Route != "" {
				out.Rationale = "ambiguous intent; best candidate " + best.Route
			}
		}
		span.SetAttributes(attribute.String("route", out.Route), attribute.Bool("fallback", true))
		return out, nil
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification unavailable")
		return schema.RouteDecision{}, fault.Wrap(fault.KindClassificationUnavailable, err, "classify").WithRequest(req.ID)
	}

	out := decision.RouteDecision()
	span.SetAttributes(attribute.String("route", out.Route), attribute.Float64("confidence", out.Confidence))
	return out, nil
}

// Submit classifies and dispatches a request without experiment variants.
func (e *Engine) Submit(ctx context.Context, req *schema.Request) (*Outcome, error) {
	decision, err := e.Classify(ctx, req)
	if err != nil {
		e.record(ctx, req, "", "", newTurn(StateStart, StateClassifying, StateFailed), err, e.now())
		return nil, err
	}
	return e.Dispatch(ctx, req, decision, "")
}

// PendingRoute returns the route of a suspended turn.
func (e *Engine) PendingRoute(ctx context.Context, requestID string) (string, error) {
	s, err := e.store.Get(ctx, requestID)
	if err != nil {
		return "", e.lookupError(requestID, err)
	}
	return s.Decision.Route, nil
}

func (e *Engine) lookupError(requestID string, err error) error {
	switch {
	case errors.Is(err, suspend.ErrExpired):
		return fault.Wrap(fault.KindToolCallTimeout, fault.ErrUnknownOrExpiredRequest,
			"tool results arrived after the suspension expired").WithRequest(requestID)
	case errors.Is(err, suspend.ErrNotFound):
		return fault.Wrap(fault.KindUnknownOrExpiredRequest, fault.ErrUnknownOrExpiredRequest,
			"no pending tool calls").WithRequest(requestID)
	default:
		return fault.Wrap(fault.KindInternal, err, "load suspension").WithRequest(requestID)
	}
}

func (e *Engine) record(ctx context.Context, req *schema.Request, route, variant string, t *turn, err error, started time.Time) {
	rec := Record{
		RequestID:   req.ID,
		Route:       route,
		Variant:     variant,
		Mode:        req.Mode,
		Transitions: t.snapshot(),
		Duration:    e.now().Sub(started),
		At:          e.now(),
	}
	if err != nil {
		rec.Kind = fault.KindOf(err)
		rec.Error = err.Error()
		e.logger.Warn("turn failed",
			"request_id", req.ID,
			"route", route,
			"kind", rec.Kind,
			"transitions", t.String(),
			"error", err)
	} else {
		e.logger.Debug("turn settled",
			"request_id", req.ID,
			"route", route,
			"variant", variant,
			"transitions", t.String())
	}
	if e.recorder == nil {
		return
	}
	if rerr := e.recorder.RecordOutcome(ctx, rec); rerr != nil {
		e.logger.Warn("failed to record outcome", "request_id", req.ID, "error", rerr)
	}
}

func annotate(resp *schema.Response, decision schema.RouteDecision, variant string, t *turn) {
	resp.Route = decision.Route
	resp.Variant = variant
	resp.SetTrace(schema.TraceKeyTransitions, t.String())
	resp.SetTrace(schema.TraceKeyConfidence, strconv.FormatFloat(decision.Confidence, 'f', 2, 64))
	if decision.Fallback {
		resp.SetTrace(schema.TraceKeyFallback, "true")
	}
}

func recovered(v any) error {
	if err, ok := v.(error); ok {
		return fmt.Errorf("handler panic: %w", err)
	}
	return fmt.Errorf("handler panic: %v", v)
}
