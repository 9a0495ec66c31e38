package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/hewenyu/service-registry/pkg/model"
	"github.com/hewenyu/service-registry/pkg/storage"
)

// 乐观并发更新的最大重试次数
const maxCASAttempts = 16

// ServiceStorage 实现基于etcd的服务存储
// 同一服务记录的并发写入通过比较ModRevision的事务串行化
type ServiceStorage struct {
	client *Client
	now    func() time.Time
}

// NewServiceStorage 创建etcd服务存储
func NewServiceStorage(client *Client) *ServiceStorage {
	return &ServiceStorage{
		client: client,
		now:    time.Now,
	}
}

// Upsert 创建或覆盖服务记录
func (s *ServiceStorage) Upsert(ctx context.Context, req *storage.UpsertRequest) (*model.Service, error) {
	if err := storage.ValidateUpsert(req); err != nil {
		return nil, err
	}

	return s.update(ctx, req.Name, true, func(service *model.Service, created bool) {
		now := s.now()
		if created {
			service.ID = uuid.New().String()
			service.Name = req.Name
			service.Health = model.HealthStatusUnknown
			service.CreatedAt = now
		}
		service.Address = req.Address
		service.Port = req.Port
		service.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			service.Metadata[k] = v
		}
		service.LastHeartbeat = storage.Later(service.LastHeartbeat, now)
	})
}

// SetHealth 更新服务健康状态
func (s *ServiceStorage) SetHealth(ctx context.Context, name string, health model.HealthStatus, touchHeartbeat bool) (*model.Service, error) {
	if name == "" {
		return nil, storage.NewInvalidArgumentError("服务名称不能为空")
	}
	if !health.Valid() {
		return nil, storage.NewInvalidArgumentError("无效的健康状态: " + string(health))
	}

	return s.update(ctx, name, false, func(service *model.Service, _ bool) {
		service.Health = health
		if touchHeartbeat {
			service.LastHeartbeat = storage.Later(service.LastHeartbeat, s.now())
		}
	})
}

// update 读取-修改-比较写入，冲突时重试
func (s *ServiceStorage) update(ctx context.Context, name string, allowCreate bool, mutate func(service *model.Service, created bool)) (*model.Service, error) {
	key := s.client.GetServiceKey(name)
	cli := s.client.GetClient()

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		opCtx, cancel := s.client.withTimeout(ctx)

		resp, err := cli.Get(opCtx, key)
		if err != nil {
			cancel()
			return nil, storage.NewInternalError(fmt.Sprintf("从etcd读取失败: %v", err))
		}

		service := &model.Service{}
		var cmp clientv3.Cmp
		created := len(resp.Kvs) == 0
		if created {
			if !allowCreate {
				cancel()
				return nil, storage.NewNotFoundError("服务不存在: " + name)
			}
			cmp = clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
		} else {
			if err := json.Unmarshal(resp.Kvs[0].Value, service); err != nil {
				cancel()
				return nil, storage.NewInternalError(fmt.Sprintf("解析服务数据失败: %v", err))
			}
			cmp = clientv3.Compare(clientv3.ModRevision(key), "=", resp.Kvs[0].ModRevision)
		}

		mutate(service, created)

		data, err := json.Marshal(service)
		if err != nil {
			cancel()
			return nil, storage.NewInternalError(fmt.Sprintf("序列化服务数据失败: %v", err))
		}

		txnResp, err := cli.Txn(opCtx).If(cmp).Then(clientv3.OpPut(key, string(data))).Commit()
		cancel()
		if err != nil {
			return nil, storage.NewInternalError(fmt.Sprintf("写入etcd失败: %v", err))
		}
		if txnResp.Succeeded {
			return service, nil
		}
	}

	return nil, storage.NewInternalError("服务记录并发冲突，重试次数已用尽: " + name)
}

// Get 获取服务记录
func (s *ServiceStorage) Get(ctx context.Context, name string) (*model.Service, error) {
	if name == "" {
		return nil, storage.NewInvalidArgumentError("服务名称不能为空")
	}

	opCtx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.GetClient().Get(opCtx, s.client.GetServiceKey(name))
	if err != nil {
		return nil, storage.NewInternalError(fmt.Sprintf("从etcd读取失败: %v", err))
	}
	if len(resp.Kvs) == 0 {
		return nil, storage.NewNotFoundError("服务不存在: " + name)
	}

	var service model.Service
	if err := json.Unmarshal(resp.Kvs[0].Value, &service); err != nil {
		return nil, storage.NewInternalError(fmt.Sprintf("解析服务数据失败: %v", err))
	}

	return &service, nil
}

// List 按创建版本号（即注册顺序）列出服务记录
func (s *ServiceStorage) List(ctx context.Context, opts storage.ListOptions) ([]*model.Service, error) {
	entries, err := s.list(ctx)
	if err != nil {
		return nil, err
	}

	services := make([]*model.Service, 0, len(entries))
	for _, e := range entries {
		if opts.ExcludeHealth != "" && e.service.Health == opts.ExcludeHealth {
			continue
		}
		services = append(services, e.service)
	}

	return services, nil
}

// Evict 清理最后心跳早于before的服务记录
// 删除前比较ModRevision，期间收到心跳的记录不会被删除
func (s *ServiceStorage) Evict(ctx context.Context, before time.Time) (int, error) {
	entries, err := s.list(ctx)
	if err != nil {
		return 0, err
	}

	cli := s.client.GetClient()
	evicted := 0
	for _, e := range entries {
		if !e.service.LastHeartbeat.Before(before) {
			continue
		}

		key := s.client.GetServiceKey(e.service.Name)
		opCtx, cancel := s.client.withTimeout(ctx)
		resp, err := cli.Txn(opCtx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", e.modRevision)).
			Then(clientv3.OpDelete(key)).
			Commit()
		cancel()
		if err != nil {
			return evicted, storage.NewInternalError(fmt.Sprintf("从etcd删除失败: %v", err))
		}
		if resp.Succeeded {
			evicted++
		}
	}

	return evicted, nil
}

type entry struct {
	service     *model.Service
	modRevision int64
}

func (s *ServiceStorage) list(ctx context.Context) ([]entry, error) {
	opCtx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.GetClient().Get(opCtx, s.client.GetServicesPrefix(),
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend))
	if err != nil {
		return nil, storage.NewInternalError(fmt.Sprintf("从etcd获取服务列表失败: %v", err))
	}

	entries := make([]entry, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var service model.Service
		if err := json.Unmarshal(kv.Value, &service); err != nil {
			// 跳过无法解析的数据
			continue
		}
		entries = append(entries, entry{service: &service, modRevision: kv.ModRevision})
	}

	return entries, nil
}
