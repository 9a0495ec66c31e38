package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hewenyu/service-registry/pkg/model"
)

// UpsertRequest 描述一次注册写入
type UpsertRequest struct {
	Name     string
	Address  string
	Port     int
	Metadata map[string]string
}

// ListOptions 列表过滤条件，零值表示不过滤
type ListOptions struct {
	// ExcludeHealth 非空时排除该健康状态的记录
	ExcludeHealth model.HealthStatus
}

// PublicListOptions 返回对外发现接口使用的过滤条件：排除不健康的服务
func PublicListOptions() ListOptions {
	return ListOptions{ExcludeHealth: model.HealthStatusUnhealthy}
}

// ServiceStorage 定义服务存储接口
type ServiceStorage interface {
	// Upsert 创建或覆盖服务记录，新记录的健康状态为unknown，已有记录保留健康状态
	Upsert(ctx context.Context, req *UpsertRequest) (*model.Service, error)

	// SetHealth 更新健康状态，touchHeartbeat为true时同时刷新最后心跳时间
	SetHealth(ctx context.Context, name string, health model.HealthStatus, touchHeartbeat bool) (*model.Service, error)

	// Get 获取指定名称的服务记录
	Get(ctx context.Context, name string) (*model.Service, error)

	// List 按注册顺序列出服务记录
	List(ctx context.Context, opts ListOptions) ([]*model.Service, error)

	// Evict 删除最后心跳早于before的记录，返回删除数量
	Evict(ctx context.Context, before time.Time) (int, error)
}

// StorageError 定义存储操作可能返回的错误类型
type StorageError struct {
	Code    int
	Message string
}

// Error 实现error接口
func (e *StorageError) Error() string {
	return e.Message
}

// 定义错误代码
const (
	// ErrNotFound 资源不存在
	ErrNotFound = iota + 1
	// ErrInvalidArgument 参数无效
	ErrInvalidArgument
	// ErrInternal 内部错误
	ErrInternal
)

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) *StorageError {
	return &StorageError{
		Code:    ErrNotFound,
		Message: message,
	}
}

// NewInvalidArgumentError 创建参数无效错误
func NewInvalidArgumentError(message string) *StorageError {
	return &StorageError{
		Code:    ErrInvalidArgument,
		Message: message,
	}
}

// NewInternalError 创建内部错误
func NewInternalError(message string) *StorageError {
	return &StorageError{
		Code:    ErrInternal,
		Message: message,
	}
}

// IsNotFound 判断错误是否为资源不存在
func IsNotFound(err error) bool {
	return hasCode(err, ErrNotFound)
}

// IsInvalidArgument 判断错误是否为参数无效
func IsInvalidArgument(err error) bool {
	return hasCode(err, ErrInvalidArgument)
}

func hasCode(err error, code int) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// ValidateUpsert 校验注册写入的必填字段
func ValidateUpsert(req *UpsertRequest) error {
	if req == nil || req.Name == "" || req.Address == "" || req.Port <= 0 {
		return NewInvalidArgumentError("服务名称、地址和端口不能为空")
	}
	return nil
}

// Later 返回两个时间中较晚的一个，用于保证最后心跳时间单调不减
func Later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
