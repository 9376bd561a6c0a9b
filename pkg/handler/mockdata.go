package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/LeeJc02/ShopMate/pkg/records"
	"github.com/LeeJc02/ShopMate/pkg/schema"
	"github.com/LeeJc02/ShopMate/pkg/tools"
)

const lookupCallID = "c1"

var orderKeyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(ORD\d{8})\b`),
	regexp.MustCompile(`#\s*(\d+)`),
	regexp.MustCompile(`(?i)\border\s*(?:no\.?|number|id)?\s*[:#]?\s*(\d+)`),
	regexp.MustCompile(`订单号?\s*[:：]?\s*(\d+)`),
}

// extractOrderKey finds an order reference in text, as written by the
// customer.
func extractOrderKey(text string) string {
	for _, re := range orderKeyPatterns {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			return strings.ToUpper(m[1])
		}
	}
	return ""
}

// MockDataHandler answers order questions from structured records. In
// passthrough mode the caller's backend performs the lookup instead.
type MockDataHandler struct {
	store    records.Store
	reasoner Reasoner
	catalog  *tools.Catalog
	strategy string
	logger   *slog.Logger
}

type mockDataState struct {
	OrderKey string `json:"order_key"`
}

func NewMockDataHandler(strategy string, store records.Store, reasoner Reasoner, catalog *tools.Catalog, logger *slog.Logger) (*MockDataHandler, error) {
	if store == nil {
		return nil, fmt.Errorf("mock data handler: store is required")
	}
	switch strategy {
	case "":
		strategy = StrategyTemplate
	case StrategyTemplate, StrategyLLM:
	default:
		return nil, fmt.Errorf("mock data handler: unknown strategy %q", strategy)
	}
	if catalog == nil {
		catalog = tools.NewCatalog()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MockDataHandler{
		store:    store,
		reasoner: reasoner,
		catalog:  catalog,
		strategy: strategy,
		logger:   logger,
	}, nil
}

func (h *MockDataHandler) Name() string {
	return "mock_data/" + h.strategy
}

func (h *MockDataHandler) Respond(ctx context.Context, req *schema.Request, mode schema.Mode) (Outcome, error) {
	key := extractOrderKey(req.Text)
	if key == "" {
		return h.respondWithoutKey(ctx, req)
	}

	if mode == schema.ModePassthrough {
		call := schema.ToolCallRequest{
			CallID:    lookupCallID,
			ToolName:  tools.LookupOrder,
			Arguments: []schema.Argument{{Name: "id", Value: key}},
		}
		if err := h.catalog.Validate(call); err != nil {
			return Outcome{}, fmt.Errorf("build tool call: %w", err)
		}
		state, err := json.Marshal(mockDataState{OrderKey: key})
		if err != nil {
			return Outcome{}, err
		}
		return NeedsToolCall([]schema.ToolCallRequest{call}, state), nil
	}

	order, err := h.store.Lookup(ctx, key)
	if errors.Is(err, records.ErrNotFound) {
		return Final(newResponse(req, notFoundText(key))), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("lookup order %s: %w", key, err)
	}

	text, err := h.synthesize(ctx, req, order)
	if err != nil {
		return Outcome{}, err
	}
	return Final(newResponse(req, text)), nil
}

// respondWithoutKey lists the customer's orders when the session identifies
// them, and otherwise asks for the order number.
func (h *MockDataHandler) respondWithoutKey(ctx context.Context, req *schema.Request) (Outcome, error) {
	userID, _ := req.SessionContext[schema.SessionKeyUserID].(string)
	if userID == "" {
		return Final(newResponse(req, askForOrderText)), nil
	}

	orders, err := h.store.UserOrders(ctx, userID)
	if err != nil {
		return Outcome{}, fmt.Errorf("list orders for %s: %w", userID, err)
	}
	if len(orders) == 0 {
		return Final(newResponse(req, askForOrderText)), nil
	}

	var sb strings.Builder
	sb.WriteString("Here are your recent orders:\n")
	for _, o := range orders {
		sb.WriteString(fmt.Sprintf("- %s: %s (%s)\n", o.ID, o.Product, statusLabel(o.Status)))
	}
	sb.WriteString("Which one would you like to know more about?")
	return Final(newResponse(req, sb.String())), nil
}

// Resume builds the answer from the caller's lookup_order result.
func (h *MockDataHandler) Resume(ctx context.Context, req *schema.Request, s Suspended, results []schema.ToolCallResult) (*schema.Response, error) {
	var state mockDataState
	if len(s.State) > 0 {
		if err := json.Unmarshal(s.State, &state); err != nil {
			return nil, fmt.Errorf("decode handler state: %w", err)
		}
	}

	result, ok := resultFor(results, lookupCallID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingResult, lookupCallID)
	}

	if result.Status == schema.ToolStatusError {
		return newResponse(req, fmt.Sprintf(
			"Sorry, I couldn't retrieve order %s right now. Please try again later or ask for a human agent.", state.OrderKey)), nil
	}

	payload := bytes.TrimSpace(result.Payload)
	if len(payload) == 0 || payload[0] != '{' {
		return nil, fmt.Errorf("result %s: payload must be a JSON object", lookupCallID)
	}
	var order records.Order
	if err := json.Unmarshal(payload, &order); err != nil {
		return nil, fmt.Errorf("result %s: malformed order: %w", lookupCallID, err)
	}
	if order.ID == "" {
		order.ID = state.OrderKey
	}

	text, err := h.synthesize(ctx, req, &order)
	if err != nil {
		return nil, err
	}
	return newResponse(req, text), nil
}

func (h *MockDataHandler) synthesize(ctx context.Context, req *schema.Request, order *records.Order) (string, error) {
	if h.strategy != StrategyLLM || h.reasoner == nil {
		return renderOrder(order), nil
	}

	text, err := h.reasoner.Complete(ctx, buildOrderPrompt(req.Text, order, req.History()), map[string]string{
		"purpose":    "synthesize",
		"route":      "order",
		"request_id": req.ID,
	})
	if err != nil {
		return "", fmt.Errorf("synthesize order answer: %w", err)
	}
	return strings.TrimSpace(text), nil
}

const askForOrderText = "Could you tell me your order number? It looks like ORD20240001."

func notFoundText(key string) string {
	return fmt.Sprintf("I couldn't find an order with number %s. Please check the number and try again.", key)
}
