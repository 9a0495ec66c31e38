package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hewenyu/service-registry/pkg/model"
	"github.com/hewenyu/service-registry/pkg/storage"
)

// ServiceStorage 是基于内存的服务存储实现，按注册顺序保存记录
type ServiceStorage struct {
	mu       sync.RWMutex
	services map[string]*model.Service
	order    []string
	now      func() time.Time
}

// NewServiceStorage 创建新的内存存储
func NewServiceStorage() *ServiceStorage {
	return &ServiceStorage{
		services: make(map[string]*model.Service),
		now:      time.Now,
	}
}

// Upsert 创建或覆盖服务记录
func (s *ServiceStorage) Upsert(ctx context.Context, req *storage.UpsertRequest) (*model.Service, error) {
	if err := storage.ValidateUpsert(req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	service, exists := s.services[req.Name]
	if !exists {
		service = &model.Service{
			ID:        uuid.New().String(),
			Name:      req.Name,
			Health:    model.HealthStatusUnknown,
			CreatedAt: now,
		}
		s.services[req.Name] = service
		s.order = append(s.order, req.Name)
	}

	service.Address = req.Address
	service.Port = req.Port
	service.Metadata = copyMetadata(req.Metadata)
	service.LastHeartbeat = storage.Later(service.LastHeartbeat, now)

	return service.Clone(), nil
}

// SetHealth 更新服务健康状态
func (s *ServiceStorage) SetHealth(ctx context.Context, name string, health model.HealthStatus, touchHeartbeat bool) (*model.Service, error) {
	if name == "" {
		return nil, storage.NewInvalidArgumentError("服务名称不能为空")
	}
	if !health.Valid() {
		return nil, storage.NewInvalidArgumentError("无效的健康状态: " + string(health))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	service, exists := s.services[name]
	if !exists {
		return nil, storage.NewNotFoundError("服务不存在: " + name)
	}

	service.Health = health
	if touchHeartbeat {
		service.LastHeartbeat = storage.Later(service.LastHeartbeat, s.now())
	}

	return service.Clone(), nil
}

// Get 获取服务记录
func (s *ServiceStorage) Get(ctx context.Context, name string) (*model.Service, error) {
	if name == "" {
		return nil, storage.NewInvalidArgumentError("服务名称不能为空")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	service, exists := s.services[name]
	if !exists {
		return nil, storage.NewNotFoundError("服务不存在: " + name)
	}

	return service.Clone(), nil
}

// List 按注册顺序列出服务记录
func (s *ServiceStorage) List(ctx context.Context, opts storage.ListOptions) ([]*model.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	services := make([]*model.Service, 0, len(s.order))
	for _, name := range s.order {
		service := s.services[name]
		if opts.ExcludeHealth != "" && service.Health == opts.ExcludeHealth {
			continue
		}
		services = append(services, service.Clone())
	}

	return services, nil
}

// Evict 清理最后心跳早于before的服务记录
func (s *ServiceStorage) Evict(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	evicted := 0
	for _, name := range s.order {
		if s.services[name].LastHeartbeat.Before(before) {
			delete(s.services, name)
			evicted++
			continue
		}
		kept = append(kept, name)
	}
	s.order = kept

	return evicted, nil
}

func copyMetadata(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
