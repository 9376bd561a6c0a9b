package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/LeeJc02/ShopMate/pkg/knowledge"
	"github.com/LeeJc02/ShopMate/pkg/schema"
)

// KnowledgeHandler answers from retrieved documents.
type KnowledgeHandler struct {
	route     string
	category  string
	topK      int
	strategy  string
	retriever knowledge.Retriever
	reasoner  Reasoner
	logger    *slog.Logger
}

type KnowledgeConfig struct {
	Route    string
	Category string
	TopK     int
	Strategy string
}

func NewKnowledgeHandler(cfg KnowledgeConfig, retriever knowledge.Retriever, reasoner Reasoner, logger *slog.Logger) (*KnowledgeHandler, error) {
	if retriever == nil {
		return nil, fmt.Errorf("knowledge handler %s: retriever is required", cfg.Route)
	}
	switch cfg.Strategy {
	case "":
		cfg.Strategy = StrategyRAG
	case StrategyRAG, StrategyConcise:
	default:
		return nil, fmt.Errorf("knowledge handler %s: unknown strategy %q", cfg.Route, cfg.Strategy)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &KnowledgeHandler{
		route:     cfg.Route,
		category:  cfg.Category,
		topK:      cfg.TopK,
		strategy:  cfg.Strategy,
		retriever: retriever,
		reasoner:  reasoner,
		logger:    logger,
	}, nil
}

func (h *KnowledgeHandler) Name() string {
	return "knowledge/" + h.strategy
}

// Respond retrieves documents for the route's category and synthesizes an
// answer. Knowledge routes never need the caller's tools.
func (h *KnowledgeHandler) Respond(ctx context.Context, req *schema.Request, _ schema.Mode) (Outcome, error) {
	docs, err := h.retriever.Query(ctx, req.Text, knowledge.RouteContext{
		Route:    h.route,
		Category: h.category,
		TopK:     h.topK,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("retrieve %s documents: %w", h.route, err)
	}
	h.logger.Debug("retrieved documents", "request_id", req.ID, "route", h.route, "count", len(docs))

	if h.reasoner == nil {
		return Final(newResponse(req, summarizeDocs(docs))), nil
	}

	prompt := buildKnowledgePrompt(h.route, h.strategy, req.Text, docs, req.History())
	text, err := h.reasoner.Complete(ctx, prompt, map[string]string{
		"purpose":    "synthesize",
		"route":      h.route,
		"request_id": req.ID,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("synthesize %s answer: %w", h.route, err)
	}
	return Final(newResponse(req, strings.TrimSpace(text))), nil
}

func (h *KnowledgeHandler) Resume(_ context.Context, req *schema.Request, _ Suspended, _ []schema.ToolCallResult) (*schema.Response, error) {
	return nil, fmt.Errorf("knowledge handler %s issued no tool calls for %s", h.route, req.ID)
}

// summarizeDocs answers without a reasoner by quoting the best match.
func summarizeDocs(docs []knowledge.Document) string {
	if len(docs) == 0 {
		return "Sorry, I couldn't find information about that. I can transfer you to a human agent if you like."
	}
	best := docs[0]
	body := strings.TrimSpace(strings.TrimPrefix(best.Content, "## "+best.Title))
	if best.Title == "" {
		return body
	}
	return best.Title + ": " + body
}
