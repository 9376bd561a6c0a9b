package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/LeeJc02/ShopMate/pkg/circuit"
	"github.com/LeeJc02/ShopMate/pkg/fault"
)

type envelope struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retry     string `json:"retry,omitempty"`
	Route     string `json:"route,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func abortWith(c *gin.Context, status int, e envelope) {
	if e.RequestID == "" {
		e.RequestID = c.GetString(ctxRequestID)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": e})
}

func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.KindCircuitOpen:
		return http.StatusServiceUnavailable
	case fault.KindUnknownOrExpiredRequest:
		return http.StatusNotFound
	case fault.KindToolCallTimeout:
		return http.StatusRequestTimeout
	case fault.KindProtocolError:
		return http.StatusConflict
	case fault.KindClassificationUnavailable, fault.KindHandlerError:
		return http.StatusBadGateway
	case fault.KindInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	kind := fault.KindOf(err)
	e := envelope{
		Kind:    string(kind),
		Message: err.Error(),
		Retry:   string(fault.RetryClass(kind)),
	}
	if fe, ok := fault.As(err); ok {
		e.Route = fe.Route
		e.RequestID = fe.RequestID
	}
	var cerr *circuit.Error
	if errors.As(err, &cerr) {
		secs := int(math.Ceil(cerr.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
	}
	abortWith(c, statusFor(kind), e)
}

func badRequest(c *gin.Context, msg string) {
	writeError(c, fault.New(fault.KindInvalidRequest, msg))
}
