package router

import (
	"testing"

	"github.com/LeeJc02/ShopMate/pkg/config"
)

func TestRuleSet_Match(t *testing.T) {
	rs := NewRuleSet(config.DefaultRoutingConfig())

	tests := []struct {
		name          string
		prompt        string
		expectedRoute string
		expectedOK    bool
	}{
		{name: "longest trigger wins", prompt: "Where is my order?", expectedRoute: "order_query", expectedOK: true},
		{name: "return policy", prompt: "What is your return policy", expectedRoute: "after_sales", expectedOK: true},
		{name: "price", prompt: "Price of AirPods", expectedRoute: "product_query", expectedOK: true},
		{name: "cjk substring", prompt: "请问这个商品有货吗", expectedRoute: "product_query", expectedOK: true},
		{name: "no match", prompt: "qwerty", expectedOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route, _, ok := rs.Match(tt.prompt)
			if ok != tt.expectedOK {
				t.Fatalf("Match(%q) ok = %v, want %v", tt.prompt, ok, tt.expectedOK)
			}
			if route != tt.expectedRoute {
				t.Errorf("Match(%q) route = %q, want %q", tt.prompt, route, tt.expectedRoute)
			}
		})
	}
}

func TestContainsTrigger(t *testing.T) {
	tests := []struct {
		prompt   string
		trigger  string
		expected bool
	}{
		{"track my order", "order", true},
		{"reorder my order", "order", true},
		{"reorder", "order", false},
		{"hi there", "hi", true},
		{"this is fine", "hi", false},
		{"order#123", "order", true},
		{"订单号是多少", "订单", true},
	}

	for _, tt := range tests {
		if got := containsTrigger(tt.prompt, tt.trigger); got != tt.expected {
			t.Errorf("containsTrigger(%q, %q) = %v, want %v", tt.prompt, tt.trigger, got, tt.expected)
		}
	}
}

func TestRoutesListing(t *testing.T) {
	routes := Routes(config.DefaultRoutingConfig(), config.DefaultAliases())
	if len(routes) != 4 {
		t.Fatalf("expected 4 routes, got %d", len(routes))
	}
	var foundDefault bool
	for _, r := range routes {
		if r.Default {
			foundDefault = true
			if r.Route != "chitchat" {
				t.Fatalf("expected chitchat as default, got %s", r.Route)
			}
		}
		if r.Route == "order_query" && (len(r.Variants) != 1 || r.Variants[0] != "llm") {
			t.Fatalf("expected llm variant on order_query, got %v", r.Variants)
		}
	}
	if !foundDefault {
		t.Fatalf("expected a default route")
	}
}
