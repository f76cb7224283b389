package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/warden/internal/http/handler/webhook"
)

func WebhookRouter(router *gin.RouterGroup, handler *webhook.Handler) {
	router.POST("/github", handler.GitHub)
	router.POST("/gitlab", handler.GitLab)
	router.POST("/circleci", handler.CircleCI)
	router.POST("/jira", handler.Jira)
}
