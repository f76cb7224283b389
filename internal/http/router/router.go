package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"basegraph.app/warden/internal/http/handler"
	"basegraph.app/warden/internal/http/handler/webhook"
	"basegraph.app/warden/internal/http/middleware"
	"basegraph.app/warden/internal/service"
)

// Rate limit kinds. Rules come from RATE_LIMIT_RULES.
const (
	KindSubmit  = "submit"
	KindResolve = "resolve"
	KindAnalyze = "analyze"
	KindWebhook = "webhook"
)

type RouterConfig struct {
	Secrets        webhook.Secrets
	ResolveTimeout time.Duration
	AnalyzeTimeout time.Duration
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(services.Metrics().Handler()))

	limit := func(kind string) gin.HandlerFunc {
		return middleware.RateLimit(services.Limiter(), kind, services.Rule(kind))
	}

	approvalHandler := handler.NewApprovalHandler(services.Approvals(), cfg.ResolveTimeout)
	ApprovalRouter(router.Group("/approvals"), approvalHandler, limit(KindSubmit), limit(KindResolve))

	actionHandler := handler.NewActionHandler(services.Approvals())
	ActionRouter(router.Group("/github", limit(KindSubmit)), router.Group("/jira", limit(KindSubmit)), actionHandler)

	ciHandler := handler.NewCIHandler(services.Analyzer(), cfg.AnalyzeTimeout)
	router.POST("/ci/analyze", limit(KindAnalyze), ciHandler.Analyze)

	usageHandler := handler.NewUsageHandler(services.Costs())
	router.GET("/usage", usageHandler.Get)

	webhookHandler := webhook.NewHandler(services.Watcher(), cfg.Secrets)
	WebhookRouter(router.Group("/webhook", limit(KindWebhook)), webhookHandler)
}
