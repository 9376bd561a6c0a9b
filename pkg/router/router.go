package router

import (
	"sort"

	"github.com/LeeJc02/ShopMate/pkg/config"
)

// RouteInfo describes a configured route for listings.
type RouteInfo struct {
	Route         string
	Description   string
	Handler       string
	Triggers      []string
	Adapter       string
	Model         string // May be alias
	ResolvedModel string // Canonical model name
	Variants      []string
	Default       bool
}

// Routes lists every configured route in label order.
func Routes(cfg *config.RoutingConfig, aliases *config.ModelAliases) []RouteInfo {
	if cfg == nil {
		return nil
	}
	var routes []RouteInfo
	for _, name := range cfg.RouteNames() {
		spec := cfg.Routes[name]
		target := cfg.Target(name, "")
		info := RouteInfo{
			Route:         name,
			Description:   spec.Description,
			Handler:       spec.Handler,
			Triggers:      spec.Triggers,
			Adapter:       target.Adapter,
			Model:         target.Model,
			ResolvedModel: aliases.Resolve(target.Model),
			Default:       name == cfg.DefaultRoute,
		}
		for variant := range spec.Variants {
			info.Variants = append(info.Variants, variant)
		}
		sort.Strings(info.Variants)
		routes = append(routes, info)
	}
	return routes
}
