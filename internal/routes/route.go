// Package routes 注册HTTP控制面路由
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ai_receptionist/internal/handlers"
)

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, api *handlers.APIHandler, hub *handlers.EventHub) {
	r.GET("/health", api.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 注册控制面接口
	RegisterAPIRoutes(r.Group("/api"), api)

	// 注册事件推送
	if hub != nil {
		r.GET("/api/events", hub.HandleWebSocket)
	}
}
