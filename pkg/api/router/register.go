package router

import (
	"github.com/labstack/echo/v4"

	"github.com/hewenyu/service-registry/pkg/api/handler"
)

// RegisterRoutes 配置注册中心API路由
func RegisterRoutes(e *echo.Echo, serviceHandler *handler.ServiceHandler, statsHandler *handler.StatsHandler) {
	// 服务注册与心跳
	e.POST("/register", serviceHandler.RegisterService)
	e.POST("/heartbeat/:name", serviceHandler.Heartbeat)

	// 服务发现
	e.GET("/services", serviceHandler.ListServices)
	e.GET("/services/:name", serviceHandler.GetService)

	// 健康检查与统计
	e.GET("/health", handler.HealthCheck)
	e.GET("/stats", statsHandler.GetStats)
}
