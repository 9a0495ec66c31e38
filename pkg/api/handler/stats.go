package handler

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hewenyu/service-registry/pkg/model"
	"github.com/hewenyu/service-registry/pkg/storage"
)

// CycleCounter 提供已完成的健康探测轮数
type CycleCounter interface {
	Cycles() int64
}

// Stats 注册中心运行统计
type Stats struct {
	ServiceCount  int            `json:"service_count"`
	HealthCounts  map[string]int `json:"health_counts"`
	ProbeCycles   int64          `json:"probe_cycles"`
	Uptime        string         `json:"uptime"`
	ResourceUsage map[string]any `json:"resource_usage"`
	CollectedAt   time.Time      `json:"collected_at"`
}

// StatsHandler 统计信息处理器
type StatsHandler struct {
	storage   storage.ServiceStorage
	counter   CycleCounter
	startTime time.Time
}

// NewStatsHandler 创建统计信息处理器，counter可以为nil
func NewStatsHandler(storage storage.ServiceStorage, counter CycleCounter) *StatsHandler {
	return &StatsHandler{
		storage:   storage,
		counter:   counter,
		startTime: time.Now(),
	}
}

// GetStats 获取注册中心统计信息
func (h *StatsHandler) GetStats(c echo.Context) error {
	services, err := h.storage.List(c.Request().Context(), storage.ListOptions{})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Error: "获取服务列表失败: " + err.Error(),
		})
	}

	counts := map[string]int{
		string(model.HealthStatusUnknown):   0,
		string(model.HealthStatusHealthy):   0,
		string(model.HealthStatusUnhealthy): 0,
	}
	for _, s := range services {
		counts[string(s.Health)]++
	}

	var cycles int64
	if h.counter != nil {
		cycles = h.counter.Cycles()
	}

	return c.JSON(http.StatusOK, Stats{
		ServiceCount:  len(services),
		HealthCounts:  counts,
		ProbeCycles:   cycles,
		Uptime:        time.Since(h.startTime).Truncate(time.Second).String(),
		ResourceUsage: getResourceUsage(),
		CollectedAt:   time.Now(),
	})
}

// getResourceUsage 获取资源使用情况
func getResourceUsage() map[string]any {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return map[string]any{
		"memory_alloc":   formatBytes(memStats.Alloc),
		"memory_sys":     formatBytes(memStats.Sys),
		"num_gc":         memStats.NumGC,
		"num_goroutines": runtime.NumGoroutine(),
	}
}

// formatBytes 将字节数格式化为可读形式
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
