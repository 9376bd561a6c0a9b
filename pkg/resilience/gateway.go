// Package resilience fronts the engine with per-route circuit breakers, a
// response cache and traffic-split experiments.
package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/LeeJc02/ShopMate/pkg/circuit"
	"github.com/LeeJc02/ShopMate/pkg/engine"
	"github.com/LeeJc02/ShopMate/pkg/fault"
	"github.com/LeeJc02/ShopMate/pkg/schema"
)

// Engine is the part of *engine.Engine the gateway drives.
type Engine interface {
	Classify(ctx context.Context, req *schema.Request) (schema.RouteDecision, error)
	Dispatch(ctx context.Context, req *schema.Request, decision schema.RouteDecision, variant string) (*engine.Outcome, error)
	Resume(ctx context.Context, requestID string, results []schema.ToolCallResult) (*schema.Response, error)
}

type Config struct {
	Breaker         circuit.Config
	CacheDisabled   bool
	CacheTTL        time.Duration
	CacheMaxEntries int
}

type Option func(*Gateway)

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(g *Gateway) {
		if t != nil {
			g.tracer = t
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

func WithSplitter(s *Splitter) Option {
	return func(g *Gateway) {
		g.experiments = s
	}
}

// Gateway is safe for concurrent use.
type Gateway struct {
	engine      Engine
	breakers    *circuit.Set
	cache       *Cache
	experiments *Splitter
	metrics     *Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
}

func NewGateway(eng Engine, cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		engine: eng,
		tracer: otel.Tracer("github.com/LeeJc02/ShopMate/pkg/resilience"),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = NewMetrics(nil)
	}
	if g.experiments == nil {
		g.experiments = NewSplitter(g.now)
	}
	if !cfg.CacheDisabled {
		g.cache = NewCache(cfg.CacheTTL, cfg.CacheMaxEntries, g.now)
	}
	g.breakers = circuit.NewSet(cfg.Breaker,
		circuit.WithClock(g.now),
		circuit.WithTransitionHook(func(name string, from, to circuit.State) {
			g.metrics.observeTransition(name, from, to)
			g.logger.Info("circuit breaker transition", "route", name, "from", from, "to", to)
		}))
	return g
}

// Submit serves one request: classify, check the route's breaker, serve
// from cache, pick a variant, dispatch, then settle the breaker.
func (g *Gateway) Submit(ctx context.Context, req *schema.Request) (*engine.Outcome, error) {
	started := g.now()
	ctx, span := g.tracer.Start(ctx, "gateway.submit", trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("mode", string(req.Mode)),
	))
	defer span.End()

	out, err := g.submit(ctx, req, span, started)
	route := ""
	if out != nil {
		route = out.Decision.Route
	} else if fe, ok := fault.As(err); ok {
		route = fe.Route
	}
	g.metrics.duration.WithLabelValues(route, "submit").Observe(g.now().Sub(started).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(fault.KindOf(err)))
		g.metrics.requests.WithLabelValues(route, string(fault.KindOf(err))).Inc()
		return nil, err
	}
	return out, nil
}

func (g *Gateway) submit(ctx context.Context, req *schema.Request, span trace.Span, started time.Time) (*engine.Outcome, error) {
	decision, err := g.engine.Classify(ctx, req)
	if err != nil {
		return nil, err
	}
	route := decision.Route
	span.SetAttributes(attribute.String("route", route))

	breaker := g.breakers.Get(route)
	ticket, err := breaker.Allow()
	if err != nil {
		return nil, fault.Wrap(fault.KindCircuitOpen, err, "route unavailable").WithRoute(route).WithRequest(req.ID)
	}

	if g.cache != nil && req.Mode == schema.ModeGraph {
		if resp, ok := g.cache.Get(req.Text, route); ok {
			breaker.Release(ticket)
			g.metrics.cache.WithLabelValues(route, "hit").Inc()
			g.metrics.requests.WithLabelValues(route, "cache_hit").Inc()
			resp.RequestID = req.ID
			resp.UsedCache = true
			g.stamp(resp, span, started)
			return &engine.Outcome{Response: resp, Decision: decision, Variant: resp.Variant}, nil
		}
		g.metrics.cache.WithLabelValues(route, "miss").Inc()
	}

	expID, variant, inExperiment := g.experiments.Assign(route, req.StickyKey())
	if inExperiment {
		g.metrics.assignments.WithLabelValues(expID, variant).Inc()
		span.SetAttributes(attribute.String("experiment", expID), attribute.String("variant", variant))
	}

	dispatched := g.now()
	out, err := g.engine.Dispatch(ctx, req, decision, variant)
	if inExperiment {
		g.experiments.Record(expID, variant, g.now().Sub(dispatched), err != nil)
	}

	switch {
	case err == nil:
		breaker.Record(ticket, true)
	case countsAgainstRoute(err):
		breaker.Record(ticket, false)
	default:
		breaker.Release(ticket)
	}
	if err != nil {
		return nil, err
	}

	if out.IsPending() {
		g.metrics.requests.WithLabelValues(route, "tool_calls").Inc()
		return out, nil
	}

	if g.cache != nil && req.Mode == schema.ModeGraph {
		g.cache.Put(req.Text, route, out.Response)
	}
	if inExperiment {
		out.Response.SetTrace(schema.TraceKeyExperiment, expID+":"+variant)
	}
	g.stamp(out.Response, span, started)
	g.metrics.requests.WithLabelValues(route, "response").Inc()
	return out, nil
}

// Resume forwards tool results to the engine.
func (g *Gateway) Resume(ctx context.Context, requestID string, results []schema.ToolCallResult) (*schema.Response, error) {
	started := g.now()
	ctx, span := g.tracer.Start(ctx, "gateway.resume", trace.WithAttributes(attribute.String("request.id", requestID)))
	defer span.End()

	// Labels come from the result; a route lookup would consume an expired
	// suspension.
	resp, err := g.engine.Resume(ctx, requestID, results)
	route := ""
	if resp != nil {
		route = resp.Route
	} else if fe, ok := fault.As(err); ok {
		route = fe.Route
	}
	g.metrics.duration.WithLabelValues(route, "resume").Observe(g.now().Sub(started).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(fault.KindOf(err)))
		g.metrics.requests.WithLabelValues(route, string(fault.KindOf(err))).Inc()
		return nil, err
	}
	span.SetAttributes(attribute.String("route", route))
	g.stamp(resp, span, started)
	g.metrics.requests.WithLabelValues(route, "response").Inc()
	return resp, nil
}

func (g *Gateway) stamp(resp *schema.Response, span trace.Span, started time.Time) {
	if sc := span.SpanContext(); sc.IsValid() {
		resp.SetTrace(schema.TraceKeyTraceID, sc.TraceID().String())
		resp.SetTrace(schema.TraceKeySpanID, sc.SpanID().String())
	}
	resp.SetTrace(schema.TraceKeyDurationMS, strconv.FormatInt(g.now().Sub(started).Milliseconds(), 10))
}

// countsAgainstRoute reports whether a dispatch failure should trip the
// route's breaker.
func countsAgainstRoute(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return fault.IsRouteFailure(fault.KindOf(err))
}
