// Package tools describes the side-effecting operations a passthrough caller
// may be asked to execute on behalf of a handler.
package tools

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/LeeJc02/ShopMate/pkg/schema"
)

var ErrUnknownTool = errors.New("unknown tool")

type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
)

type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description"`
	Required    bool      `json:"required"`
	Enum        []string  `json:"enum,omitempty"`
}

type Field struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Tool struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"parameters"`
	Returns     []Field `json:"returns"`
}

// Catalog is a read-only set of tool definitions.
type Catalog struct {
	tools map[string]Tool
}

// NewCatalog returns the catalog with the built-in customer service tools
// registered.
func NewCatalog() *Catalog {
	c := &Catalog{
		tools: make(map[string]Tool),
	}
	for _, t := range builtin() {
		c.Register(t)
	}
	return c
}

func (c *Catalog) Register(t Tool) {
	c.tools[t.Name] = t
}

func (c *Catalog) Get(name string) (Tool, error) {
	t, ok := c.tools[name]
	if !ok {
		return Tool{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t, nil
}

// List returns every tool sorted by name.
func (c *Catalog) List() []Tool {
	out := make([]Tool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate checks that call names a known tool, carries every required
// argument and only uses enum values the tool accepts.
func (c *Catalog) Validate(call schema.ToolCallRequest) error {
	if strings.TrimSpace(call.CallID) == "" {
		return fmt.Errorf("tool call %s: call_id is required", call.ToolName)
	}
	t, err := c.Get(call.ToolName)
	if err != nil {
		return err
	}

	var errs []error
	for _, p := range t.Params {
		v, ok := call.Arg(p.Name)
		if !ok || strings.TrimSpace(v) == "" {
			if p.Required {
				errs = append(errs, fmt.Errorf("tool %s: missing required argument %q", t.Name, p.Name))
			}
			continue
		}
		if len(p.Enum) > 0 && !contains(p.Enum, v) {
			errs = append(errs, fmt.Errorf("tool %s: argument %q must be one of %s", t.Name, p.Name, strings.Join(p.Enum, ", ")))
		}
	}
	for _, a := range call.Arguments {
		if !t.hasParam(a.Name) {
			errs = append(errs, fmt.Errorf("tool %s: unexpected argument %q", t.Name, a.Name))
		}
	}
	return errors.Join(errs...)
}

func (t Tool) hasParam(name string) bool {
	for _, p := range t.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
