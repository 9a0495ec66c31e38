package etcd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/model"
	"github.com/hewenyu/service-registry/pkg/storage"
)

// 这些测试需要一个正在运行的etcd实例
// 可以通过docker运行: docker run -d --name etcd-test -p 2379:2379 bitnami/etcd:3.5 --allow-none-authentication

func TestEtcdServiceStorage_Implements_ServiceStorage(t *testing.T) {
	// 编译时检查
	var _ storage.ServiceStorage = (*ServiceStorage)(nil)
}

func TestClient_Keys(t *testing.T) {
	client := newClient(nil, &config.EtcdConfig{Prefix: "/registry-test"})

	assert.Equal(t, "/registry-test/", client.GetServicesPrefix())
	assert.Equal(t, "/registry-test/book-service", client.GetServiceKey("book-service"))
	assert.Equal(t, 5*time.Second, client.requestTimeout)

	defaults := newClient(nil, &config.EtcdConfig{})
	assert.Equal(t, defaultPrefix, defaults.GetServicesPrefix())
}

func TestNewClient_RequiresEndpoints(t *testing.T) {
	_, err := NewClient(&config.EtcdConfig{})
	assert.Error(t, err)
}

// newTestStorage 连接真实etcd，未设置ETCD_ENDPOINTS时跳过
func newTestStorage(t *testing.T) *ServiceStorage {
	t.Helper()

	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("跳过测试，ETCD_ENDPOINTS 未设置")
	}

	prefix := fmt.Sprintf("/service-registry-test/%d/", time.Now().UnixNano())
	client, err := NewClient(&config.EtcdConfig{
		Endpoints:      strings.Split(endpoints, ","),
		DialTimeout:    5 * time.Second,
		RequestTimeout: 5 * time.Second,
		Username:       os.Getenv("ETCD_USERNAME"),
		Password:       os.Getenv("ETCD_PASSWORD"),
		Prefix:         prefix,
	})
	if err != nil {
		t.Skipf("跳过测试，无法连接到etcd: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = client.GetClient().Delete(ctx, prefix, clientv3.WithPrefix())
		client.Close()
	})

	return NewServiceStorage(client)
}

func TestServiceStorage_UpsertAndGet(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	created, err := s.Upsert(ctx, &storage.UpsertRequest{
		Name:     "book-service",
		Address:  "http://book-service:5000",
		Port:     5000,
		Metadata: map[string]string{"version": "1.0.0"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.HealthStatusUnknown, created.Health)

	_, err = s.SetHealth(ctx, "book-service", model.HealthStatusHealthy, true)
	require.NoError(t, err)

	updated, err := s.Upsert(ctx, &storage.UpsertRequest{
		Name:    "book-service",
		Address: "http://book-service-2:5000",
		Port:    5000,
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, model.HealthStatusHealthy, updated.Health)

	got, err := s.Get(ctx, "book-service")
	require.NoError(t, err)
	assert.Equal(t, "http://book-service-2:5000", got.Address)

	_, err = s.Get(ctx, "missing")
	assert.True(t, storage.IsNotFound(err))

	_, err = s.SetHealth(ctx, "missing", model.HealthStatusHealthy, true)
	assert.True(t, storage.IsNotFound(err))
}

func TestServiceStorage_ListOrderAndFilter(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for _, name := range []string{"svc-c", "svc-a", "svc-b"} {
		_, err := s.Upsert(ctx, &storage.UpsertRequest{Name: name, Address: "http://" + name, Port: 80})
		require.NoError(t, err)
	}
	_, err := s.SetHealth(ctx, "svc-a", model.HealthStatusUnhealthy, false)
	require.NoError(t, err)

	all, err := s.List(ctx, storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "svc-c", all[0].Name)
	assert.Equal(t, "svc-a", all[1].Name)
	assert.Equal(t, "svc-b", all[2].Name)

	public, err := s.List(ctx, storage.PublicListOptions())
	require.NoError(t, err)
	assert.Len(t, public, 2)
}

func TestServiceStorage_ConcurrentRegistration(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Upsert(ctx, &storage.UpsertRequest{
				Name:    fmt.Sprintf("service-%d", i),
				Address: fmt.Sprintf("http://service-%d:5000", i),
				Port:    5000,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	all, err := s.List(ctx, storage.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 50)
}

func TestServiceStorage_Evict(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	s.now = func() time.Time { return time.Now().Add(-time.Hour) }
	_, err := s.Upsert(ctx, &storage.UpsertRequest{Name: "stale", Address: "http://stale", Port: 80})
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.Upsert(ctx, &storage.UpsertRequest{Name: "fresh", Address: "http://fresh", Port: 80})
	require.NoError(t, err)

	count, err := s.Evict(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = s.Get(ctx, "stale")
	assert.True(t, storage.IsNotFound(err))
}
