package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/warden/internal/http/middleware"
	"basegraph.app/warden/internal/ratelimit"
)

type UsageReporter interface {
	Status(ctx context.Context, key string) (ratelimit.CostStatus, error)
}

type UsageHandler struct {
	costs UsageReporter
}

func NewUsageHandler(costs UsageReporter) *UsageHandler {
	return &UsageHandler{costs: costs}
}

// Get reports today's cost budget for ?key=, defaulting to the caller.
func (h *UsageHandler) Get(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		key = middleware.ClientKey(c)
	}

	status, err := h.costs.Status(c.Request.Context(), key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
