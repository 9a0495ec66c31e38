package model

import "time"

// HealthStatus 表示服务健康状态
type HealthStatus string

const (
	// HealthStatusUnknown 未知状态，仅在首次注册后、任何探测或心跳成功之前出现
	HealthStatusUnknown HealthStatus = "unknown"
	// HealthStatusHealthy 健康状态
	HealthStatusHealthy HealthStatus = "healthy"
	// HealthStatusUnhealthy 不健康状态
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// Valid 判断健康状态取值是否合法
func (h HealthStatus) Valid() bool {
	switch h {
	case HealthStatusUnknown, HealthStatusHealthy, HealthStatusUnhealthy:
		return true
	}
	return false
}

// Service 表示注册中心中的一条服务记录，以服务名为唯一键
type Service struct {
	ID            string            `json:"id"`             // 首次注册时生成，重复注册不变
	Name          string            `json:"name"`           // 服务名称
	Address       string            `json:"url"`            // 服务基础地址，用于路由和探测
	Port          int               `json:"port"`           // 服务端口
	Health        HealthStatus      `json:"health"`         // 服务健康状态
	LastHeartbeat time.Time         `json:"last_heartbeat"` // 最后心跳时间
	Metadata      map[string]string `json:"metadata"`       // 服务元数据
	CreatedAt     time.Time         `json:"created_at"`     // 首次注册时间
}

// Clone 返回记录的深拷贝
func (s *Service) Clone() *Service {
	if s == nil {
		return nil
	}
	c := *s
	if s.Metadata != nil {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// RegisterRequest 服务注册请求
type RegisterRequest struct {
	Name     string            `json:"name" validate:"required"`
	Address  string            `json:"url" validate:"required"`
	Port     int               `json:"port" validate:"required,min=1,max=65535"`
	Metadata map[string]string `json:"metadata"`
}

// RegisterResponse 服务注册响应
type RegisterResponse struct {
	Success bool     `json:"success"`
	Service *Service `json:"service"`
}

// SuccessResponse 通用成功响应
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse 通用错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
