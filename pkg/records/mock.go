package records

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store seeded with demo data.
type MockStore struct {
	mu     sync.RWMutex
	orders map[string]Order
	users  map[string]User
}

// NewMockStore returns a store holding SeedOrders and SeedUsers.
func NewMockStore() *MockStore {
	return NewMockStoreWith(SeedOrders(), SeedUsers())
}

func NewMockStoreWith(orders []Order, users []User) *MockStore {
	s := &MockStore{
		orders: make(map[string]Order, len(orders)),
		users:  make(map[string]User, len(users)),
	}
	for _, o := range orders {
		s.PutOrder(o)
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *MockStore) PutOrder(o Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[NormalizeKey(o.ID)] = o
}

func (s *MockStore) Lookup(ctx context.Context, key string) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[NormalizeKey(key)]
	if !ok {
		return nil, notFound("order", key)
	}
	return &o, nil
}

// UserOrders returns the user's orders, newest first.
func (s *MockStore) UserOrders(ctx context.Context, userID string) ([]Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreateTime > out[j].CreateTime })
	return out, nil
}

func (s *MockStore) User(ctx context.Context, userID string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, notFound("user", userID)
	}
	return &u, nil
}

// SeedOrders returns the demo orders.
func SeedOrders() []Order {
	return []Order{
		{
			ID:         "ORD20240001",
			UserID:     "U10001",
			Product:    "iPhone 15 Pro Max 256GB Black Titanium",
			Price:      9999,
			Status:     StatusShipped,
			CreateTime: "2024-01-20 14:30:00",
			PayTime:    "2024-01-20 14:32:10",
			Logistics: &Logistics{
				Company:          "SF Express",
				TrackingNo:       "SF1234567890",
				Status:           "in_transit",
				CurrentLocation:  "Shenzhen transit center",
				ExpectedDelivery: "2024-01-23",
				History: []TrackingEvent{
					{Time: "2024-01-20 16:00", Status: "picked_up", Location: "Guangzhou"},
					{Time: "2024-01-21 08:00", Status: "in_transit", Location: "Guangzhou transit center"},
					{Time: "2024-01-21 18:00", Status: "in_transit", Location: "Shenzhen transit center"},
				},
			},
		},
		{
			ID:         "ORD20240002",
			UserID:     "U10001",
			Product:    "AirPods Pro 2",
			Price:      1899,
			Status:     StatusAwaitingShipment,
			CreateTime: "2024-01-22 10:15:00",
			PayTime:    "2024-01-22 10:16:02",
		},
		{
			ID:         "ORD20240003",
			UserID:     "U10002",
			Product:    "MacBook Pro 14 M3 Pro",
			Price:      14999,
			Status:     StatusCompleted,
			CreateTime: "2024-01-10 09:00:00",
			PayTime:    "2024-01-10 09:01:45",
			Logistics: &Logistics{
				Company:          "SF Express",
				TrackingNo:       "SF0987654321",
				Status:           "delivered",
				CurrentLocation:  "Chaoyang District, Beijing",
				ExpectedDelivery: "2024-01-12",
				History: []TrackingEvent{
					{Time: "2024-01-10 10:00", Status: "picked_up", Location: "Shanghai"},
					{Time: "2024-01-11 06:00", Status: "in_transit", Location: "Nanjing transit center"},
					{Time: "2024-01-11 20:00", Status: "out_for_delivery", Location: "Chaoyang District, Beijing"},
					{Time: "2024-01-12 10:30", Status: "delivered", Location: "Chaoyang District, Beijing"},
				},
			},
		},
		{
			ID:         "ORD00000123",
			UserID:     "U10002",
			Product:    "Logitech MX Master 3S",
			Price:      699,
			Status:     StatusShipped,
			CreateTime: "2024-01-25 19:42:00",
			PayTime:    "2024-01-25 19:43:30",
			Logistics: &Logistics{
				Company:          "SF Express",
				TrackingNo:       "SF5550001234",
				Status:           "in_transit",
				CurrentLocation:  "Beijing sorting center",
				ExpectedDelivery: "2024-01-27",
				History: []TrackingEvent{
					{Time: "2024-01-26 09:10", Status: "picked_up", Location: "Tianjin"},
					{Time: "2024-01-26 21:00", Status: "in_transit", Location: "Beijing sorting center"},
				},
			},
		},
	}
}

func SeedUsers() []User {
	return []User{
		{ID: "U10001", Nickname: "Alex", MemberLevel: "gold", Points: 3280, AvailableCoupons: 2},
		{ID: "U10002", Nickname: "Sam", MemberLevel: "platinum", Points: 12040, AvailableCoupons: 5},
	}
}
