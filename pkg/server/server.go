// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeeJc02/ShopMate/pkg/circuit"
	"github.com/LeeJc02/ShopMate/pkg/config"
	"github.com/LeeJc02/ShopMate/pkg/engine"
	"github.com/LeeJc02/ShopMate/pkg/knowledge"
	"github.com/LeeJc02/ShopMate/pkg/resilience"
	"github.com/LeeJc02/ShopMate/pkg/schema"
	"github.com/LeeJc02/ShopMate/pkg/tools"
)

// Gateway is what the HTTP layer needs from *resilience.Gateway.
type Gateway interface {
	Submit(ctx context.Context, req *schema.Request) (*engine.Outcome, error)
	Resume(ctx context.Context, requestID string, results []schema.ToolCallResult) (*schema.Response, error)

	CircuitState(route string) circuit.Snapshot
	Circuits() []circuit.Snapshot
	ResetCircuit(route string) bool
	InvalidateRoute(route string) int
	InvalidateKey(key string) bool
	ClearCache() int
	CacheStats() resilience.CacheStats
	Experiments() []resilience.ExperimentSnapshot
	UpdateSplit(id string, variants []resilience.Variant) error
	SetExperimentEnabled(id string, enabled bool) error
}

type Config struct {
	AdminAPIKey string
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64
	RateBurst int
}

type Deps struct {
	Gateway   Gateway
	Catalog   *tools.Catalog
	Retriever knowledge.Retriever
	Routing   *config.RoutingConfig
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
}

type server struct {
	gateway   Gateway
	catalog   *tools.Catalog
	retriever knowledge.Retriever
	routing   *config.RoutingConfig
	logger    *slog.Logger
}

// NewRouter wires every endpoint onto a gin engine.
func NewRouter(cfg Config, deps Deps) *gin.Engine {
	s := &server{
		gateway:   deps.Gateway,
		catalog:   deps.Catalog,
		retriever: deps.Retriever,
		routing:   deps.Routing,
		logger:    deps.Logger,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.catalog == nil {
		s.catalog = tools.NewCatalog()
	}
	if s.routing == nil {
		s.routing = config.DefaultRoutingConfig()
	}

	r := gin.New()
	r.Use(requestIDMiddleware())
	r.Use(accessLog(s.logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	if cfg.RateLimit > 0 {
		v1.Use(rateLimit(newClientLimiter(cfg.RateLimit, cfg.RateBurst)))
	}
	v1.POST("/chat", s.chat)
	v1.POST("/chat/:id/resume", s.resume)
	v1.GET("/tools", s.listTools)
	v1.GET("/tools/:name", s.getTool)
	v1.GET("/knowledge/search", s.searchKnowledge)

	admin := r.Group("/admin")
	admin.Use(adminAuth(cfg.AdminAPIKey))
	admin.GET("/circuits", s.listCircuits)
	admin.GET("/circuits/:route", s.getCircuit)
	admin.POST("/circuits/:route/reset", s.resetCircuit)
	admin.GET("/cache", s.cacheStats)
	admin.DELETE("/cache", s.invalidateCache)
	admin.POST("/cache/clear", s.clearCache)
	admin.GET("/experiments", s.listExperiments)
	admin.PUT("/experiments/:id", s.updateExperiment)

	return r
}
