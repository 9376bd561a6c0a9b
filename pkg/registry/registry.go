// Package registry maps route labels to the handlers that serve them.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/LeeJc02/ShopMate/pkg/config"
	"github.com/LeeJc02/ShopMate/pkg/fault"
	"github.com/LeeJc02/ShopMate/pkg/handler"
	"github.com/LeeJc02/ShopMate/pkg/knowledge"
	"github.com/LeeJc02/ShopMate/pkg/records"
	"github.com/LeeJc02/ShopMate/pkg/tools"
)

// Route is the set of handlers registered for one label.
type Route struct {
	Handler  handler.Handler
	Variants map[string]handler.Handler
}

// Registry is immutable once built and safe for concurrent reads.
type Registry struct {
	routes map[string]Route
}

func New(routes map[string]Route) *Registry {
	r := &Registry{routes: make(map[string]Route, len(routes))}
	for label, route := range routes {
		variants := make(map[string]handler.Handler, len(route.Variants))
		for name, h := range route.Variants {
			variants[name] = h
		}
		r.routes[label] = Route{Handler: route.Handler, Variants: variants}
	}
	return r
}

// Resolve returns the handler for label, preferring the variant's handler
// when one is registered.
func (r *Registry) Resolve(label, variant string) (handler.Handler, error) {
	route, ok := r.routes[label]
	if !ok || route.Handler == nil {
		return nil, fmt.Errorf("%w: %q", fault.ErrUnknownRoute, label)
	}
	if variant != "" {
		if h, ok := route.Variants[variant]; ok {
			return h, nil
		}
	}
	return route.Handler, nil
}

// Labels returns the registered labels in sorted order.
func (r *Registry) Labels() []string {
	labels := make([]string, 0, len(r.routes))
	for label := range r.routes {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Variants returns the variant names registered for label.
func (r *Registry) Variants(label string) []string {
	route := r.routes[label]
	names := make([]string, 0, len(route.Variants))
	for name := range route.Variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate fails if any classifier label or the default route has no handler.
func (r *Registry) Validate(labels []string, defaultRoute string) error {
	var errs []error
	for _, label := range labels {
		if _, err := r.Resolve(label, ""); err != nil {
			errs = append(errs, fmt.Errorf("classifier label %q has no handler", label))
		}
	}
	if _, err := r.Resolve(defaultRoute, ""); err != nil {
		errs = append(errs, fmt.Errorf("default route %q has no handler", defaultRoute))
	}
	return errors.Join(errs...)
}

// ReasonerFunc returns the reasoner a route variant synthesizes with. An
// empty variant selects the route's base configuration.
type ReasonerFunc func(route, variant string) handler.Reasoner

// Deps are the collaborators handlers are built from.
type Deps struct {
	Retriever knowledge.Retriever
	Records   records.Store
	Catalog   *tools.Catalog
	Reasoners ReasonerFunc
	TopK      int
	Logger    *slog.Logger
}

func (d Deps) reasoner(route, variant string) handler.Reasoner {
	if d.Reasoners == nil {
		return nil
	}
	return d.Reasoners(route, variant)
}

// Build creates one handler per configured route and variant.
func Build(cfg *config.RoutingConfig, deps Deps) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("registry: routing config is required")
	}

	routes := make(map[string]Route, len(cfg.Routes))
	var errs []error
	for _, label := range cfg.RouteNames() {
		spec := cfg.Routes[label]
		base, err := buildHandler(label, "", spec, spec.Strategy, deps)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		route := Route{Handler: base, Variants: make(map[string]handler.Handler)}
		for name, v := range spec.Variants {
			strategy := v.Strategy
			if strategy == "" {
				strategy = spec.Strategy
			}
			h, err := buildHandler(label, name, spec, strategy, deps)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			route.Variants[name] = h
		}
		routes[label] = route
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return New(routes), nil
}

func buildHandler(label, variant string, spec config.RouteSpec, strategy string, deps Deps) (handler.Handler, error) {
	reasoner := deps.reasoner(label, variant)
	var (
		h   handler.Handler
		err error
	)
	switch spec.Handler {
	case config.HandlerKnowledge:
		h, err = handler.NewKnowledgeHandler(handler.KnowledgeConfig{
			Route:    label,
			Category: spec.Category,
			TopK:     deps.TopK,
			Strategy: strategy,
		}, deps.Retriever, reasoner, deps.Logger)
	case config.HandlerMockData:
		h, err = handler.NewMockDataHandler(strategy, deps.Records, reasoner, deps.Catalog, deps.Logger)
	case config.HandlerConversational:
		h = handler.NewConversationalHandler(reasoner)
	default:
		err = fmt.Errorf("unknown handler %q", spec.Handler)
	}
	if err != nil {
		if variant != "" {
			return nil, fmt.Errorf("route %s variant %s: %w", label, variant, err)
		}
		return nil, fmt.Errorf("route %s: %w", label, err)
	}
	return h, nil
}
