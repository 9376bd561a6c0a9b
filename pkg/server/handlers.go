package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/LeeJc02/ShopMate/pkg/knowledge"
	"github.com/LeeJc02/ShopMate/pkg/resilience"
	"github.com/LeeJc02/ShopMate/pkg/schema"
	"github.com/LeeJc02/ShopMate/pkg/tools"
)

type responseReply struct {
	Type string `json:"type"`
	*schema.Response
}

type toolCallsReply struct {
	Type string `json:"type"`
	*schema.PendingToolCalls
}

func (s *server) chat(c *gin.Context) {
	var req schema.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		req.ID = c.GetString(ctxRequestID)
	}
	if req.Mode == "" {
		req.Mode = schema.ModeGraph
	}

	out, err := s.gateway.Submit(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set(ctxRoute, out.Decision.Route)
	if out.IsPending() {
		c.JSON(http.StatusOK, toolCallsReply{Type: "tool_calls", PendingToolCalls: out.Pending})
		return
	}
	c.JSON(http.StatusOK, responseReply{Type: "response", Response: out.Response})
}

type resumeBody struct {
	Results []schema.ToolCallResult `json:"results"`
}

func (s *server) resume(c *gin.Context) {
	var body resumeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid JSON body: "+err.Error())
		return
	}
	resp, err := s.gateway.Resume(c.Request.Context(), c.Param("id"), body.Results)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set(ctxRoute, resp.Route)
	c.JSON(http.StatusOK, responseReply{Type: "response", Response: resp})
}

func (s *server) listTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": s.catalog.List()})
}

func (s *server) getTool(c *gin.Context) {
	tool, err := s.catalog.Get(c.Param("name"))
	if errors.Is(err, tools.ErrUnknownTool) {
		abortWith(c, http.StatusNotFound, envelope{Kind: "not_found", Message: err.Error(), Retry: "do_not_retry"})
		return
	}
	c.JSON(http.StatusOK, tool)
}

func (s *server) searchKnowledge(c *gin.Context) {
	if s.retriever == nil {
		abortWith(c, http.StatusNotImplemented, envelope{Kind: "unavailable", Message: "no knowledge backend configured"})
		return
	}
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		badRequest(c, "query parameter q is required")
		return
	}

	rc := knowledge.RouteContext{Route: c.Query("route")}
	if rc.Route != "" {
		spec, ok := s.routing.Routes[rc.Route]
		if !ok {
			badRequest(c, "unknown route "+rc.Route)
			return
		}
		rc.Category = spec.Category
	}
	if k := c.Query("k"); k != "" {
		n, err := strconv.Atoi(k)
		if err != nil || n <= 0 {
			badRequest(c, "k must be a positive integer")
			return
		}
		rc.TopK = n
	}

	docs, err := s.retriever.Query(c.Request.Context(), q, rc)
	if err != nil {
		abortWith(c, http.StatusBadGateway, envelope{Kind: "upstream_error", Message: err.Error(), Retry: "upstream_degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (s *server) listCircuits(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"circuits": s.gateway.Circuits()})
}

func (s *server) getCircuit(c *gin.Context) {
	c.JSON(http.StatusOK, s.gateway.CircuitState(c.Param("route")))
}

func (s *server) resetCircuit(c *gin.Context) {
	route := c.Param("route")
	if !s.gateway.ResetCircuit(route) {
		abortWith(c, http.StatusNotFound, envelope{Kind: "not_found", Message: "no circuit for route " + route, Route: route})
		return
	}
	c.JSON(http.StatusOK, s.gateway.CircuitState(route))
}

func (s *server) cacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.gateway.CacheStats())
}

func (s *server) invalidateCache(c *gin.Context) {
	route, key := c.Query("route"), c.Query("key")
	switch {
	case route != "" && key != "":
		badRequest(c, "pass either route or key, not both")
	case route != "":
		c.JSON(http.StatusOK, gin.H{"removed": s.gateway.InvalidateRoute(route)})
	case key != "":
		removed := 0
		if s.gateway.InvalidateKey(key) {
			removed = 1
		}
		c.JSON(http.StatusOK, gin.H{"removed": removed})
	default:
		badRequest(c, "route or key is required")
	}
}

func (s *server) clearCache(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"removed": s.gateway.ClearCache()})
}

func (s *server) listExperiments(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"experiments": s.gateway.Experiments()})
}

type experimentBody struct {
	Variants []resilience.Variant `json:"variants,omitempty"`
	Enabled  *bool                `json:"enabled,omitempty"`
}

func (s *server) updateExperiment(c *gin.Context) {
	var body experimentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid JSON body: "+err.Error())
		return
	}
	id := c.Param("id")
	if len(body.Variants) == 0 && body.Enabled == nil {
		badRequest(c, "variants or enabled is required")
		return
	}

	if len(body.Variants) > 0 {
		if err := s.gateway.UpdateSplit(id, body.Variants); err != nil {
			experimentError(c, err)
			return
		}
	}
	if body.Enabled != nil {
		if err := s.gateway.SetExperimentEnabled(id, *body.Enabled); err != nil {
			experimentError(c, err)
			return
		}
	}
	for _, exp := range s.gateway.Experiments() {
		if exp.ID == id {
			c.JSON(http.StatusOK, exp)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

func experimentError(c *gin.Context, err error) {
	if errors.Is(err, resilience.ErrUnknownExperiment) {
		abortWith(c, http.StatusNotFound, envelope{Kind: "not_found", Message: err.Error()})
		return
	}
	badRequest(c, err.Error())
}
