package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/service-registry/internal/registry"
	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/model"
	"github.com/hewenyu/service-registry/pkg/storage/memory"
	sdk "github.com/hewenyu/service-registry/sdk/go"
)

// alwaysHealthy 探测总是成功
type alwaysHealthy struct{}

func (alwaysHealthy) Check(ctx context.Context, address string) error { return nil }

// newBackend 启动一个返回自身名称和请求路径的后端服务
func newBackend(t *testing.T, name string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"backend": name, "path": r.URL.Path})
	}))
	t.Cleanup(server.Close)
	return server
}

func gatewayConfig(registryURL string, fallback map[string]string) *config.Config {
	return &config.Config{
		Client: config.ClientConfig{
			RegistryURL: registryURL,
			Timeout:     time.Second,
		},
		Gateway: config.GatewayConfig{
			Host:          "127.0.0.1",
			LookupTimeout: time.Second,
			Routes: map[string]string{
				"/books":   "book-service",
				"/missing": "nonexistent",
			},
			Fallback: fallback,
		},
	}
}

func get(t *testing.T, url string) (int, map[string]string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]string
	_ = json.Unmarshal(body, &decoded)
	return resp.StatusCode, decoded
}

func TestGateway_DiscoveryFallbackUnavailable(t *testing.T) {
	ctx := context.Background()

	// 注册中心
	registryCfg := &config.Config{Registry: config.RegistryConfig{ProbeInterval: time.Hour, ProbeTimeout: time.Second}}
	reg := registry.NewServerWithStorage(registryCfg, memory.NewServiceStorage(), alwaysHealthy{}, config.NewNopLogger())
	registryServer := httptest.NewServer(reg.Handler())
	defer registryServer.Close()

	dynamic := newBackend(t, "dynamic")
	static := newBackend(t, "static")

	// book-service 注册并通过心跳变为健康
	client, err := sdk.NewClient(&sdk.Config{
		RegistryURL: registryServer.URL,
		ServiceName: "book-service",
		ServiceURL:  dynamic.URL,
		ServicePort: 5000,
	})
	require.NoError(t, err)
	_, err = client.Register(ctx)
	require.NoError(t, err)
	require.NoError(t, client.SendHeartbeat(ctx))

	cfg := gatewayConfig(registryServer.URL, map[string]string{"book-service": static.URL})
	gw, err := NewServer(cfg, &MockLogger{})
	require.NoError(t, err)
	gatewayServer := httptest.NewServer(gw.Handler())
	defer gatewayServer.Close()

	// 注册中心返回健康服务时转发到动态地址
	status, body := get(t, gatewayServer.URL+"/books/1")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "dynamic", body["backend"])
	assert.Equal(t, "/books/1", body["path"])

	// 前缀本身也被路由
	status, body = get(t, gatewayServer.URL+"/books")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/books", body["path"])

	// 不存在的服务返回503
	status, body = get(t, gatewayServer.URL+"/missing/1")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "Service nonexistent not available", body["error"])

	// 注册中心不可用时使用静态映射
	registryServer.Close()
	status, body = get(t, gatewayServer.URL+"/books/1")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "static", body["backend"])
}

func TestGateway_UnhealthyUsesFallback(t *testing.T) {
	ctx := context.Background()

	store := memory.NewServiceStorage()
	registryCfg := &config.Config{Registry: config.RegistryConfig{ProbeInterval: time.Hour}}
	reg := registry.NewServerWithStorage(registryCfg, store, alwaysHealthy{}, config.NewNopLogger())
	registryServer := httptest.NewServer(reg.Handler())
	defer registryServer.Close()

	dynamic := newBackend(t, "dynamic")
	static := newBackend(t, "static")

	client, err := sdk.NewClient(&sdk.Config{
		RegistryURL: registryServer.URL,
		ServiceName: "book-service",
		ServiceURL:  dynamic.URL,
		ServicePort: 5000,
	})
	require.NoError(t, err)

	// 仅注册未心跳：unknown状态不参与路由
	_, err = client.Register(ctx)
	require.NoError(t, err)

	gw, err := NewServer(gatewayConfig(registryServer.URL, map[string]string{"book-service": static.URL}), &MockLogger{})
	require.NoError(t, err)
	gatewayServer := httptest.NewServer(gw.Handler())
	defer gatewayServer.Close()

	_, body := get(t, gatewayServer.URL+"/books")
	assert.Equal(t, "static", body["backend"])

	_, err = store.SetHealth(ctx, "book-service", model.HealthStatusHealthy, true)
	require.NoError(t, err)
	_, body = get(t, gatewayServer.URL+"/books")
	assert.Equal(t, "dynamic", body["backend"])

	_, err = store.SetHealth(ctx, "book-service", model.HealthStatusUnhealthy, false)
	require.NoError(t, err)
	_, body = get(t, gatewayServer.URL+"/books")
	assert.Equal(t, "static", body["backend"])
}

func TestGateway_RegistryServices(t *testing.T) {
	ctx := context.Background()

	store := memory.NewServiceStorage()
	registryCfg := &config.Config{Registry: config.RegistryConfig{ProbeInterval: time.Hour}}
	reg := registry.NewServerWithStorage(registryCfg, store, alwaysHealthy{}, config.NewNopLogger())
	registryServer := httptest.NewServer(reg.Handler())

	gw, err := NewServer(gatewayConfig(registryServer.URL, nil), &MockLogger{})
	require.NoError(t, err)
	gatewayServer := httptest.NewServer(gw.Handler())
	defer gatewayServer.Close()

	client, err := sdk.NewClient(&sdk.Config{
		RegistryURL: registryServer.URL,
		ServiceName: "search-service",
		ServiceURL:  "http://search-service:5000",
		ServicePort: 5000,
	})
	require.NoError(t, err)
	_, err = client.Register(ctx)
	require.NoError(t, err)

	resp, err := http.Get(gatewayServer.URL + "/registry/services")
	require.NoError(t, err)
	var services []*model.Service
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&services))
	resp.Body.Close()
	require.Len(t, services, 1)
	assert.Equal(t, "search-service", services[0].Name)

	registryServer.Close()
	status, body := get(t, gatewayServer.URL+"/registry/services")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Failed to get services from registry", body["error"])
}

func TestGateway_Health(t *testing.T) {
	gw, err := NewServer(gatewayConfig("http://127.0.0.1:1", nil), &MockLogger{})
	require.NoError(t, err)

	status, body := func() (int, map[string]string) {
		ts := httptest.NewServer(gw.Handler())
		defer ts.Close()
		return get(t, ts.URL+"/health")
	}()
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}

func TestGateway_StartShutdown(t *testing.T) {
	gw, err := NewServer(gatewayConfig("http://127.0.0.1:1", nil), &MockLogger{})
	require.NoError(t, err)

	require.NoError(t, gw.Start())
	status, _ := get(t, "http://"+gw.Addr()+"/health")
	assert.Equal(t, http.StatusOK, status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, gw.Shutdown(ctx))
}
