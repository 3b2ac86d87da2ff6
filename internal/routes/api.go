package routes

import (
	"github.com/gin-gonic/gin"

	"ai_receptionist/internal/handlers"
)

// RegisterAPIRoutes 注册来电、留言、反馈与指令接口
func RegisterAPIRoutes(g *gin.RouterGroup, api *handlers.APIHandler) {
	calls := g.Group("/calls")
	calls.GET("/active", api.ListActiveCalls)
	calls.POST("", api.InjectCall)
	calls.POST("/:id/answer", api.AnswerCall)

	g.GET("/messages", api.ListMessages)

	g.GET("/feedback/pending", api.PendingFeedback)
	g.POST("/sessions/:id/feedback", api.DeliverFeedback)

	g.POST("/commands", api.Command)
}
