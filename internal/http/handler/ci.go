package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"basegraph.app/warden/internal/http/dto"
	"basegraph.app/warden/internal/model"
)

type FailureProcessor interface {
	Process(ctx context.Context, logText string, info model.BuildInfo) (*model.FailureAnalysis, error)
}

type CIHandler struct {
	analyzer FailureProcessor
	timeout  time.Duration
}

func NewCIHandler(analyzer FailureProcessor, timeout time.Duration) *CIHandler {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &CIHandler{analyzer: analyzer, timeout: timeout}
}

// Analyze runs the full failure pipeline on a posted log: classification,
// notification and remediation submission.
func (h *CIHandler) Analyze(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()

	analysis, err := h.analyzer.Process(ctx, req.Log, req.BuildInfo())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}
