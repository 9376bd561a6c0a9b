package resilience

import "github.com/LeeJc02/ShopMate/pkg/circuit"

// CircuitState returns the breaker snapshot for route.
func (g *Gateway) CircuitState(route string) circuit.Snapshot {
	return g.breakers.Snapshot(route)
}

// Circuits returns every breaker that has seen traffic.
func (g *Gateway) Circuits() []circuit.Snapshot {
	return g.breakers.All()
}

func (g *Gateway) ResetCircuit(route string) bool {
	return g.breakers.Reset(route)
}

func (g *Gateway) InvalidateRoute(route string) int {
	if g.cache == nil {
		return 0
	}
	return g.cache.InvalidateRoute(route)
}

func (g *Gateway) InvalidateKey(key string) bool {
	if g.cache == nil {
		return false
	}
	return g.cache.InvalidateKey(key)
}

func (g *Gateway) ClearCache() int {
	if g.cache == nil {
		return 0
	}
	return g.cache.Clear()
}

func (g *Gateway) CacheStats() CacheStats {
	if g.cache == nil {
		return CacheStats{}
	}
	return g.cache.Stats()
}

func (g *Gateway) Experiments() []ExperimentSnapshot {
	return g.experiments.Experiments()
}

func (g *Gateway) UpdateSplit(id string, variants []Variant) error {
	return g.experiments.UpdateSplit(id, variants)
}

func (g *Gateway) SetExperimentEnabled(id string, enabled bool) error {
	if enabled {
		return g.experiments.Enable(id)
	}
	return g.experiments.Disable(id)
}
