package handler

import (
	"fmt"
	"strings"

	"github.com/LeeJc02/ShopMate/pkg/knowledge"
	"github.com/LeeJc02/ShopMate/pkg/records"
	"github.com/LeeJc02/ShopMate/pkg/schema"
)

const assistantPersona = "You are ShopMate, a professional and friendly e-commerce customer service assistant.\n"

// maxHistory bounds how many earlier turns go into a prompt.
const maxHistory = 10

// buildKnowledgePrompt creates the prompt for a knowledge route.
func buildKnowledgePrompt(route, strategy, question string, docs []knowledge.Document, history []schema.Message) string {
	var sb strings.Builder

	sb.WriteString(assistantPersona)
	sb.WriteString(fmt.Sprintf("You are answering a %s question.\n\n", strings.ReplaceAll(route, "_", " ")))

	if len(docs) == 0 {
		sb.WriteString("No reference material matched this question. Say so and offer to transfer the customer to a human agent.\n\n")
	} else {
		sb.WriteString("Reference material:\n")
		for _, d := range docs {
			sb.WriteString("---\n")
			sb.WriteString(fmt.Sprintf("[%s] %s\n", d.Source, d.Title))
			sb.WriteString(strings.TrimSpace(d.Content))
			sb.WriteString("\n")
		}
		sb.WriteString("---\n\n")
	}

	sb.WriteString("Rules:\n")
	sb.WriteString("- Answer only from the reference material; never invent prices, stock or policy terms.\n")
	sb.WriteString("- Reply in the customer's language.\n")
	if strategy == StrategyConcise {
		sb.WriteString("- Answer in at most three sentences.\n")
	} else {
		sb.WriteString("- Explain the relevant steps when the customer needs to act.\n")
	}

	writeHistory(&sb, history)
	sb.WriteString("\nCustomer: ")
	sb.WriteString(question)
	sb.WriteString("\n")
	return sb.String()
}

// buildOrderPrompt asks the reasoner to phrase order details for the customer.
func buildOrderPrompt(question string, order *records.Order, history []schema.Message) string {
	var sb strings.Builder

	sb.WriteString(assistantPersona)
	sb.WriteString("You handle order and shipping questions.\n\n")
	sb.WriteString("Order information:\n")
	sb.WriteString(formatOrder(order))
	sb.WriteString("\nRules:\n")
	sb.WriteString("- Use only the order information above.\n")
	sb.WriteString("- Reply in the customer's language with a friendly tone.\n")

	writeHistory(&sb, history)
	sb.WriteString("\nCustomer: ")
	sb.WriteString(question)
	sb.WriteString("\n")
	return sb.String()
}

func buildChatPrompt(question string, history []schema.Message) string {
	var sb strings.Builder

	sb.WriteString(assistantPersona)
	sb.WriteString("Make small talk politely. When the customer asks something you cannot answer, ")
	sb.WriteString("mention that you can help with products, orders and after-sales service.\n")

	writeHistory(&sb, history)
	sb.WriteString("\nCustomer: ")
	sb.WriteString(question)
	sb.WriteString("\n")
	return sb.String()
}

func writeHistory(sb *strings.Builder, history []schema.Message) {
	if len(history) == 0 {
		return
	}
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	sb.WriteString("\nConversation so far:\n")
	for _, m := range history {
		role := "Customer"
		if m.Role == "assistant" {
			role = "Assistant"
		}
		sb.WriteString(fmt.Sprintf("%s: %s\n", role, m.Content))
	}
}

var statusLabels = map[string]string{
	records.StatusPendingPayment:   "pending payment",
	records.StatusAwaitingShipment: "awaiting shipment",
	records.StatusShipped:          "shipped",
	records.StatusCompleted:        "completed",
	records.StatusCancelled:        "cancelled",
}

func statusLabel(status string) string {
	if l, ok := statusLabels[status]; ok {
		return l
	}
	return strings.ReplaceAll(status, "_", " ")
}

// formatOrder renders an order as a plain fact sheet.
func formatOrder(o *records.Order) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Order number: %s\n", o.ID))
	if o.Product != "" {
		sb.WriteString(fmt.Sprintf("Product: %s\n", o.Product))
	}
	if o.Price > 0 {
		sb.WriteString(fmt.Sprintf("Amount: ¥%.2f\n", o.Price))
	}
	sb.WriteString(fmt.Sprintf("Status: %s\n", statusLabel(o.Status)))
	if o.CreateTime != "" {
		sb.WriteString(fmt.Sprintf("Placed at: %s\n", o.CreateTime))
	}
	if l := o.Logistics; l != nil {
		sb.WriteString(fmt.Sprintf("Carrier: %s\n", l.Company))
		sb.WriteString(fmt.Sprintf("Tracking number: %s\n", l.TrackingNo))
		sb.WriteString(fmt.Sprintf("Current location: %s\n", l.CurrentLocation))
		sb.WriteString(fmt.Sprintf("Expected delivery: %s\n", l.ExpectedDelivery))
		if len(l.History) > 0 {
			sb.WriteString("Tracking history:\n")
			for _, e := range l.History {
				sb.WriteString(fmt.Sprintf("  - %s | %s | %s\n", e.Time, statusLabel(e.Status), e.Location))
			}
		}
	} else {
		sb.WriteString("Shipping: not shipped yet\n")
	}
	return sb.String()
}

// renderOrder is the deterministic customer-facing answer for an order.
func renderOrder(o *records.Order) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Order %s", o.ID))
	if o.Product != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", o.Product))
	}
	sb.WriteString(fmt.Sprintf(" is %s.", statusLabel(o.Status)))
	if l := o.Logistics; l != nil {
		sb.WriteString(fmt.Sprintf(" It is with %s, tracking number %s", l.Company, l.TrackingNo))
		if l.CurrentLocation != "" {
			sb.WriteString(fmt.Sprintf(", last seen at %s", l.CurrentLocation))
		}
		sb.WriteString(".")
		if l.ExpectedDelivery != "" && o.Status != records.StatusCompleted {
			sb.WriteString(fmt.Sprintf(" Expected delivery: %s.", l.ExpectedDelivery))
		}
	} else if o.Status == records.StatusAwaitingShipment {
		sb.WriteString(" It has not shipped yet; you will get a tracking number once it does.")
	}
	return sb.String()
}
