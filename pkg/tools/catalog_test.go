package tools

import (
	"errors"
	"strings"
	"testing"

	"github.com/LeeJc02/ShopMate/pkg/schema"
)

func TestNewCatalogRegistersBuiltins(t *testing.T) {
	c := NewCatalog()
	list := c.List()
	if len(list) != 9 {
		t.Fatalf("expected 9 tools, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Name > list[i].Name {
			t.Fatalf("tools not sorted: %s before %s", list[i-1].Name, list[i].Name)
		}
	}
	if _, err := c.Get(LookupOrder); err != nil {
		t.Fatalf("expected lookup_order to be registered: %v", err)
	}
}

func TestGetUnknownTool(t *testing.T) {
	_, err := NewCatalog().Get("launch_rocket")
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	c := NewCatalog()

	tests := []struct {
		name    string
		call    schema.ToolCallRequest
		wantErr string
	}{
		{
			name: "valid lookup",
			call: schema.ToolCallRequest{CallID: "c1", ToolName: LookupOrder, Arguments: []schema.Argument{{Name: "id", Value: "123"}}},
		},
		{
			name:    "missing call id",
			call:    schema.ToolCallRequest{ToolName: LookupOrder, Arguments: []schema.Argument{{Name: "id", Value: "123"}}},
			wantErr: "call_id is required",
		},
		{
			name:    "missing required",
			call:    schema.ToolCallRequest{CallID: "c1", ToolName: LookupOrder},
			wantErr: `missing required argument "id"`,
		},
		{
			name: "bad enum",
			call: schema.ToolCallRequest{CallID: "c1", ToolName: CreateAfterSales, Arguments: []schema.Argument{
				{Name: "order_id", Value: "ORD20240001"},
				{Name: "type", Value: "teleport"},
				{Name: "reason", Value: "broken"},
			}},
			wantErr: `argument "type" must be one of`,
		},
		{
			name:    "unexpected argument",
			call:    schema.ToolCallRequest{CallID: "c1", ToolName: QueryUserInfo, Arguments: []schema.Argument{{Name: "user_id", Value: "u1"}, {Name: "ssn", Value: "x"}}},
			wantErr: `unexpected argument "ssn"`,
		},
		{
			name: "no required params",
			call: schema.ToolCallRequest{CallID: "c9", ToolName: QueryAfterSales},
		},
		{
			name:    "unknown tool",
			call:    schema.ToolCallRequest{CallID: "c1", ToolName: "nope"},
			wantErr: "unknown tool",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Validate(tt.call)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
