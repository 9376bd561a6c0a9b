package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/LeeJc02/ShopMate/pkg/schema"
)

const greetingText = "Hello! I'm ShopMate. I can help you with products, orders and after-sales service. What can I do for you?"

// ConversationalHandler covers small talk and serves as the default route.
type ConversationalHandler struct {
	reasoner Reasoner
}

// NewConversationalHandler accepts a nil reasoner, in which case every
// message gets the canned greeting.
func NewConversationalHandler(reasoner Reasoner) *ConversationalHandler {
	return &ConversationalHandler{reasoner: reasoner}
}

func (h *ConversationalHandler) Name() string {
	return "conversational"
}

func (h *ConversationalHandler) Respond(ctx context.Context, req *schema.Request, _ schema.Mode) (Outcome, error) {
	if h.reasoner == nil {
		return Final(newResponse(req, greetingText)), nil
	}
	text, err := h.reasoner.Complete(ctx, buildChatPrompt(req.Text, req.History()), map[string]string{
		"purpose":    "chat",
		"request_id": req.ID,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("chat: %w", err)
	}
	return Final(newResponse(req, strings.TrimSpace(text))), nil
}

func (h *ConversationalHandler) Resume(_ context.Context, req *schema.Request, _ Suspended, _ []schema.ToolCallResult) (*schema.Response, error) {
	return nil, fmt.Errorf("conversational handler issued no tool calls for %s", req.ID)
}
