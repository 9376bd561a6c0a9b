package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeJc02/ShopMate/pkg/config"
	"github.com/LeeJc02/ShopMate/pkg/fault"
	"github.com/LeeJc02/ShopMate/pkg/handler"
	"github.com/LeeJc02/ShopMate/pkg/knowledge"
	"github.com/LeeJc02/ShopMate/pkg/records"
	"github.com/LeeJc02/ShopMate/pkg/registry"
	"github.com/LeeJc02/ShopMate/pkg/router"
	"github.com/LeeJc02/ShopMate/pkg/schema"
	"github.com/LeeJc02/ShopMate/pkg/suspend"
	"github.com/LeeJc02/ShopMate/pkg/tools"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubClassifier struct {
	decision *router.Decision
	err      error
}

func (s stubClassifier) Classify(context.Context, *schema.Request) (*router.Decision, error) {
	return s.decision, s.err
}

type stubHandler struct {
	respond func(ctx context.Context, req *schema.Request, mode schema.Mode) (handler.Outcome, error)
	resume  func(ctx context.Context, req *schema.Request, s handler.Suspended, results []schema.ToolCallResult) (*schema.Response, error)

	responds atomic.Int32
	resumes  atomic.Int32
}

func (h *stubHandler) Name() string { return "stub" }

func (h *stubHandler) Respond(ctx context.Context, req *schema.Request, mode schema.Mode) (handler.Outcome, error) {
	h.responds.Add(1)
	return h.respond(ctx, req, mode)
}

func (h *stubHandler) Resume(ctx context.Context, req *schema.Request, s handler.Suspended, results []schema.ToolCallResult) (*schema.Response, error) {
	h.resumes.Add(1)
	return h.resume(ctx, req, s, results)
}

type resolverFunc func(label, variant string) (handler.Handler, error)

func (f resolverFunc) Resolve(label, variant string) (handler.Handler, error) {
	return f(label, variant)
}

func only(h handler.Handler) Resolver {
	return resolverFunc(func(label, variant string) (handler.Handler, error) {
		if label != "order_query" {
			return nil, fmt.Errorf("%w: %s", fault.ErrUnknownRoute, label)
		}
		return h, nil
	})
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []Record
}

func (m *memoryRecorder) RecordOutcome(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func lookupCall() []schema.ToolCallRequest {
	return []schema.ToolCallRequest{{
		CallID:    "c1",
		ToolName:  "lookup_order",
		Arguments: []schema.Argument{{Name: "id", Value: "123"}},
	}}
}

// toolCallHandler asks for lookup_order and answers with the payload's status.
func toolCallHandler() *stubHandler {
	return &stubHandler{
		respond: func(_ context.Context, req *schema.Request, _ schema.Mode) (handler.Outcome, error) {
			return handler.NeedsToolCall(lookupCall(), json.RawMessage(`{"order_key":"123"}`)), nil
		},
		resume: func(_ context.Context, req *schema.Request, _ handler.Suspended, results []schema.ToolCallResult) (*schema.Response, error) {
			var order struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(results[0].Payload, &order); err != nil {
				return nil, err
			}
			return &schema.Response{RequestID: req.ID, Text: "order is " + order.Status}, nil
		},
	}
}

func orderDecision() stubClassifier {
	return stubClassifier{decision: &router.Decision{Route: "order_query", Confidence: 0.9}}
}

func newTestEngine(t *testing.T, h handler.Handler, opts ...Option) (*Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	e := New(orderDecision(), only(h), Config{DefaultRoute: "chitchat", MaxSuspension: time.Minute}, opts...)
	return e, clock
}

func passthrough(id string) *schema.Request {
	return &schema.Request{ID: id, Text: "Where is my order #123?", Mode: schema.ModePassthrough}
}

func okResult(status string) []schema.ToolCallResult {
	return []schema.ToolCallResult{{
		CallID:  "c1",
		Status:  schema.ToolStatusOK,
		Payload: json.RawMessage(fmt.Sprintf(`{"order_id":"ORD00000123","status":%q}`, status)),
	}}
}

func TestSubmitGraphOrderQuery(t *testing.T) {
	disabled := false
	cfg := config.DefaultRoutingConfig()
	cfg.EnableLLMTieBreaker = &disabled

	reg, err := registry.Build(cfg, registry.Deps{
		Retriever: knowledge.NewStaticSource(knowledge.DefaultDocuments()),
		Records:   records.NewMockStore(),
		Catalog:   tools.NewCatalog(),
	})
	require.NoError(t, err)

	e := New(router.NewClassifier(cfg), reg, Config{DefaultRoute: cfg.DefaultRoute})
	out, err := e.Submit(context.Background(), &schema.Request{ID: "req-1", Text: "Where is my order #123?", Mode: schema.ModeGraph})
	require.NoError(t, err)
	require.False(t, out.IsPending())

	assert.Equal(t, "order_query", out.Response.Route)
	assert.Equal(t, "req-1", out.Response.RequestID)
	assert.Contains(t, out.Response.Text, "shipped")
	assert.Equal(t, StateCompleted, out.State())
	assert.Equal(t, "start>classifying>dispatching>executing>synthesizing>completed",
		out.Response.Trace[schema.TraceKeyTransitions])
}

func TestAmbiguousIntentFallsBackToDefaultRoute(t *testing.T) {
	amb := &router.AmbiguousIntentError{Decision: &router.Decision{Route: "product_query", Confidence: 0.4}}
	e := New(stubClassifier{decision: amb.Decision, err: amb}, only(toolCallHandler()), Config{DefaultRoute: "chitchat"})

	decision, err := e.Classify(context.Background(), &schema.Request{ID: "r1", Text: "hmm", Mode: schema.ModeGraph})
	require.NoError(t, err)
	assert.Equal(t, "chitchat", decision.Route)
	assert.True(t, decision.Fallback)
	assert.InDelta(t, 0.4, decision.Confidence, 1e-9)
	assert.Contains(t, decision.Rationale, "product_query")
}

func TestClassifierFailureIsUnavailable(t *testing.T) {
	cls := stubClassifier{err: fmt.Errorf("%w: upstream down", fault.ErrClassificationUnavailable)}
	rec := &memoryRecorder{}
	e := New(cls, only(toolCallHandler()), Config{DefaultRoute: "chitchat"}, WithRecorder(rec))

	_, err := e.Submit(context.Background(), &schema.Request{ID: "r1", Text: "hi", Mode: schema.ModeGraph})
	require.Error(t, err)
	assert.Equal(t, fault.KindClassificationUnavailable, fault.KindOf(err))
	assert.ErrorIs(t, err, fault.ErrClassificationUnavailable)
	require.Len(t, rec.records, 1)
	assert.Equal(t, []State{StateStart, StateClassifying, StateFailed}, rec.records[0].Transitions)
}

func TestInvalidRequestIsRejected(t *testing.T) {
	e, _ := newTestEngine(t, toolCallHandler())
	_, err := e.Submit(context.Background(), &schema.Request{ID: "r1", Mode: schema.ModeGraph})
	assert.Equal(t, fault.KindInvalidRequest, fault.KindOf(err))
}

func TestUnknownRouteIsMisconfigured(t *testing.T) {
	e, _ := newTestEngine(t, toolCallHandler())
	_, err := e.Dispatch(context.Background(), passthrough("r1"), schema.RouteDecision{Route: "billing"}, "")
	require.Error(t, err)
	assert.Equal(t, fault.KindMisconfiguredRoute, fault.KindOf(err))
	assert.ErrorIs(t, err, fault.ErrUnknownRoute)
}

func TestToolCallInGraphModeFails(t *testing.T) {
	store := suspend.NewMemory()
	h := toolCallHandler()
	e, _ := newTestEngine(t, h, WithStore(store))

	req := passthrough("r1")
	req.Mode = schema.ModeGraph
	_, err := e.Submit(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, fault.KindToolCallInGraphMode, fault.KindOf(err))
	assert.Equal(t, 0, store.Len(), "graph mode must not suspend")
}

func TestHandlerPanicBecomesHandlerError(t *testing.T) {
	h := &stubHandler{respond: func(context.Context, *schema.Request, schema.Mode) (handler.Outcome, error) {
		panic("nil map")
	}}
	e, _ := newTestEngine(t, h)

	_, err := e.Submit(context.Background(), passthrough("r1"))
	require.Error(t, err)
	assert.Equal(t, fault.KindHandlerError, fault.KindOf(err))
	assert.Contains(t, err.Error(), "nil map")
}

func TestEmptyOutcomeIsHandlerError(t *testing.T) {
	h := &stubHandler{respond: func(context.Context, *schema.Request, schema.Mode) (handler.Outcome, error) {
		return handler.Outcome{}, nil
	}}
	e, _ := newTestEngine(t, h)
	_, err := e.Submit(context.Background(), passthrough("r1"))
	assert.Equal(t, fault.KindHandlerError, fault.KindOf(err))
}

func TestPassthroughSuspendsAndResumes(t *testing.T) {
	h := toolCallHandler()
	e, clock := newTestEngine(t, h)
	ctx := context.Background()

	out, err := e.Submit(ctx, passthrough("req-1"))
	require.NoError(t, err)
	require.True(t, out.IsPending())
	assert.Equal(t, StateAwaitingToolResults, out.State())
	assert.Equal(t, "order_query", out.Pending.Route)
	assert.Equal(t, clock.Now().Add(time.Minute), out.Pending.ExpiresAt)
	require.Len(t, out.Pending.ToolCalls, 1)
	assert.Equal(t, "lookup_order", out.Pending.ToolCalls[0].ToolName)

	route, err := e.PendingRoute(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "order_query", route)

	resp, err := e.Resume(ctx, "req-1", okResult("shipped"))
	require.NoError(t, err)
	assert.Equal(t, "order is shipped", resp.Text)
	assert.Equal(t, "order_query", resp.Route)
	assert.Equal(t,
		"start>classifying>dispatching>executing>awaiting_tool_results>synthesizing>completed",
		resp.Trace[schema.TraceKeyTransitions])
}

func TestResumeIsIdempotent(t *testing.T) {
	h := toolCallHandler()
	e, _ := newTestEngine(t, h)
	ctx := context.Background()

	_, err := e.Submit(ctx, passthrough("req-1"))
	require.NoError(t, err)

	first, err := e.Resume(ctx, "req-1", okResult("shipped"))
	require.NoError(t, err)
	second, err := e.Resume(ctx, "req-1", okResult("shipped"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, h.resumes.Load())

	_, err = e.Resume(ctx, "req-1", okResult("cancelled"))
	require.Error(t, err)
	assert.Equal(t, fault.KindProtocolError, fault.KindOf(err))
	assert.ErrorIs(t, err, fault.ErrProtocol)
}

func TestConcurrentResumesRunHandlerOnce(t *testing.T) {
	block := make(chan struct{})
	h := toolCallHandler()
	inner := h.resume
	h.resume = func(ctx context.Context, req *schema.Request, s handler.Suspended, results []schema.ToolCallResult) (*schema.Response, error) {
		<-block
		return inner(ctx, req, s, results)
	}
	e, _ := newTestEngine(t, h)
	ctx := context.Background()
	_, err := e.Submit(ctx, passthrough("req-1"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	texts := make([]string, 8)
	errs := make([]error, 8)
	for i := range texts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := e.Resume(ctx, "req-1", okResult("shipped"))
			errs[i] = err
			if resp != nil {
				texts[i] = resp.Text
			}
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(block)
	wg.Wait()

	for i := range texts {
		require.NoError(t, errs[i])
		assert.Equal(t, "order is shipped", texts[i])
	}
	assert.EqualValues(t, 1, h.resumes.Load())
}

func TestResumeProtocolErrorsKeepSuspension(t *testing.T) {
	h := toolCallHandler()
	e, _ := newTestEngine(t, h)
	ctx := context.Background()
	_, err := e.Submit(ctx, passthrough("req-1"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		results []schema.ToolCallResult
	}{
		{"unknown call id", []schema.ToolCallResult{{CallID: "c9", Status: schema.ToolStatusOK}}},
		{"duplicate call id", append(okResult("shipped"), okResult("shipped")...)},
		{"bad status", []schema.ToolCallResult{{CallID: "c1", Status: "maybe"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Resume(ctx, "req-1", tt.results)
			require.Error(t, err)
			assert.Equal(t, fault.KindProtocolError, fault.KindOf(err))
		})
	}

	resp, err := e.Resume(ctx, "req-1", okResult("shipped"))
	require.NoError(t, err)
	assert.Equal(t, "order is shipped", resp.Text)
}

func TestResumeHandlerErrorLeavesTurnPending(t *testing.T) {
	h := toolCallHandler()
	inner := h.resume
	var failOnce atomic.Bool
	failOnce.Store(true)
	h.resume = func(ctx context.Context, req *schema.Request, s handler.Suspended, results []schema.ToolCallResult) (*schema.Response, error) {
		if failOnce.CompareAndSwap(true, false) {
			return nil, errors.New("synthesis failed")
		}
		return inner(ctx, req, s, results)
	}
	e, _ := newTestEngine(t, h)
	ctx := context.Background()
	_, err := e.Submit(ctx, passthrough("req-1"))
	require.NoError(t, err)

	_, err = e.Resume(ctx, "req-1", okResult("shipped"))
	assert.Equal(t, fault.KindHandlerError, fault.KindOf(err))

	resp, err := e.Resume(ctx, "req-1", okResult("shipped"))
	require.NoError(t, err)
	assert.Equal(t, "order is shipped", resp.Text)
}

func TestResumeAfterExpiryIsTimeout(t *testing.T) {
	e, clock := newTestEngine(t, toolCallHandler())
	ctx := context.Background()
	_, err := e.Submit(ctx, passthrough("req-1"))
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = e.Resume(ctx, "req-1", okResult("shipped"))
	require.Error(t, err)
	assert.Equal(t, fault.KindToolCallTimeout, fault.KindOf(err))
	assert.ErrorIs(t, err, fault.ErrUnknownOrExpiredRequest)

	_, err = e.Resume(ctx, "req-1", okResult("shipped"))
	assert.Equal(t, fault.KindUnknownOrExpiredRequest, fault.KindOf(err))
	assert.ErrorIs(t, err, fault.ErrUnknownOrExpiredRequest)
}

func TestResumeUnknownRequest(t *testing.T) {
	e, _ := newTestEngine(t, toolCallHandler())
	_, err := e.Resume(context.Background(), "nope", okResult("shipped"))
	assert.Equal(t, fault.KindUnknownOrExpiredRequest, fault.KindOf(err))

	_, err = e.PendingRoute(context.Background(), "nope")
	assert.ErrorIs(t, err, fault.ErrUnknownOrExpiredRequest)
}

func TestDuplicatePendingRequestID(t *testing.T) {
	e, _ := newTestEngine(t, toolCallHandler())
	ctx := context.Background()
	_, err := e.Submit(ctx, passthrough("req-1"))
	require.NoError(t, err)

	_, err = e.Submit(ctx, passthrough("req-1"))
	assert.Equal(t, fault.KindProtocolError, fault.KindOf(err))
}

func TestSweepRemovesExpired(t *testing.T) {
	store := suspend.NewMemory()
	e, clock := newTestEngine(t, toolCallHandler(), WithStore(store))
	ctx := context.Background()
	_, err := e.Submit(ctx, passthrough("req-1"))
	require.NoError(t, err)
	_, err = e.Submit(ctx, passthrough("req-2"))
	require.NoError(t, err)

	n, err := e.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(2 * time.Minute)
	n, err = e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, store.Len())
}

func TestRunJanitorStopsOnCancel(t *testing.T) {
	e, _ := newTestEngine(t, toolCallHandler())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.RunJanitor(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestRecorderSeesEveryTurn(t *testing.T) {
	rec := &memoryRecorder{}
	e, _ := newTestEngine(t, toolCallHandler(), WithRecorder(rec))
	ctx := context.Background()

	_, err := e.Submit(ctx, passthrough("req-1"))
	require.NoError(t, err)
	_, err = e.Resume(ctx, "req-1", okResult("shipped"))
	require.NoError(t, err)

	require.Len(t, rec.records, 2)
	assert.Equal(t, StateAwaitingToolResults, rec.records[0].Transitions[len(rec.records[0].Transitions)-1])
	assert.Equal(t, StateCompleted, rec.records[1].Transitions[len(rec.records[1].Transitions)-1])
	assert.Equal(t, "order_query", rec.records[1].Route)
}
