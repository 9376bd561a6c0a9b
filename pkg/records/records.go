// Package records serves the structured order and customer data the order
// route answers from.
package records

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrNotFound = errors.New("record not found")

// Order statuses.
const (
	StatusPendingPayment   = "pending_payment"
	StatusAwaitingShipment = "awaiting_shipment"
	StatusShipped          = "shipped"
	StatusCompleted        = "completed"
	StatusCancelled        = "cancelled"
)

type TrackingEvent struct {
	Time     string `json:"time"`
	Status   string `json:"status"`
	Location string `json:"location"`
}

type Logistics struct {
	Company          string          `json:"company"`
	TrackingNo       string          `json:"tracking_no"`
	Status           string          `json:"status"`
	CurrentLocation  string          `json:"current_location"`
	ExpectedDelivery string          `json:"expected_delivery"`
	History          []TrackingEvent `json:"history,omitempty"`
}

type Order struct {
	ID         string     `json:"order_id"`
	UserID     string     `json:"user_id"`
	Product    string     `json:"product_name"`
	Price      float64    `json:"price"`
	Status     string     `json:"status"`
	CreateTime string     `json:"create_time"`
	PayTime    string     `json:"pay_time,omitempty"`
	Logistics  *Logistics `json:"logistics,omitempty"`
}

type User struct {
	ID               string `json:"user_id"`
	Nickname         string `json:"nickname"`
	MemberLevel      string `json:"member_level"`
	Points           int    `json:"points"`
	AvailableCoupons int    `json:"available_coupons"`
}

// Store looks up orders and users. Lookups of unknown keys return an error
// wrapping ErrNotFound.
type Store interface {
	Lookup(ctx context.Context, key string) (*Order, error)
	UserOrders(ctx context.Context, userID string) ([]Order, error)
	User(ctx context.Context, userID string) (*User, error)
}

// NormalizeKey canonicalises an order reference. Bare numbers such as "123"
// or "#123" map to the zero-padded "ORD00000123" form.
func NormalizeKey(key string) string {
	k := strings.ToUpper(strings.TrimSpace(key))
	k = strings.TrimPrefix(k, "#")
	if k == "" {
		return ""
	}
	if n, err := strconv.ParseUint(k, 10, 64); err == nil && len(k) <= 8 {
		return fmt.Sprintf("ORD%08d", n)
	}
	return k
}

func notFound(kind, key string) error {
	return fmt.Errorf("%s %s: %w", kind, key, ErrNotFound)
}
