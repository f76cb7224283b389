package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/warden/internal/http/handler"
)

func ApprovalRouter(router *gin.RouterGroup, handler *handler.ApprovalHandler, submitLimit, resolveLimit gin.HandlerFunc) {
	router.GET("", handler.List)
	router.GET("/:id", handler.Get)
	router.POST("", submitLimit, handler.Submit)
	router.POST("/resolve", resolveLimit, handler.Resolve)
}

func ActionRouter(github, jira *gin.RouterGroup, handler *handler.ActionHandler) {
	github.POST("/pr", handler.GitHubPR)
	github.POST("/comment", handler.GitHubComment)
	github.POST("/issue", handler.GitHubIssue)

	jira.POST("/create", handler.JiraCreate)
	jira.POST("/update", handler.JiraUpdate)
	jira.POST("/comment", handler.JiraComment)
}
