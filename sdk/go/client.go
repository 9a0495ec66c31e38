package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/model"
)

var (
	// ErrUnavailable 注册中心无法访问
	ErrUnavailable = errors.New("注册中心不可用")
	// ErrNotFound 注册中心中不存在该服务
	ErrNotFound = errors.New("服务不存在")
	// ErrInvalidConfig 缺少注册所需的服务名称、地址或端口
	ErrInvalidConfig = errors.New("服务名称、地址和端口不能为空")
)

// Config SDK客户端配置
type Config struct {
	// 注册中心地址，例如 http://localhost:5007
	RegistryURL string
	// 服务名称，仅在注册时需要
	ServiceName string
	// 服务对外的基础地址，例如 http://user-service:5000
	ServiceURL string
	// 服务端口
	ServicePort int
	// 元数据
	Metadata map[string]string
	// 启动后首次注册前的等待时间
	InitialDelay time.Duration
	// 注册失败后的重试间隔
	RetryDelay time.Duration
	// 心跳间隔
	HeartbeatInterval time.Duration
	// 单次请求超时时间
	Timeout time.Duration
	// 日志，为nil时不输出
	Logger config.Logger
}

// ConfigFromSettings 从应用配置构建SDK配置
func ConfigFromSettings(cc config.ClientConfig, logger config.Logger) *Config {
	return &Config{
		RegistryURL:       cc.RegistryURL,
		InitialDelay:      cc.InitialDelay,
		RetryDelay:        cc.RetryDelay,
		HeartbeatInterval: cc.HeartbeatInterval,
		Timeout:           cc.Timeout,
		Logger:            logger,
	}
}

// APIError 注册中心返回的非成功响应
type APIError struct {
	StatusCode int
	Message    string
}

// Error 实现error接口
func (e *APIError) Error() string {
	return fmt.Sprintf("API请求失败: %s (状态码: %d)", e.Message, e.StatusCode)
}

// Client 服务发现客户端，负责注册、心跳和服务查询
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     config.Logger

	registered atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient 创建SDK客户端
func NewClient(cfg *Config) (*Client, error) {
	if cfg.RegistryURL == "" {
		return nil, fmt.Errorf("注册中心地址不能为空")
	}

	// 设置默认值
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = config.NewNopLogger()
	}

	return &Client{
		config:     cfg,
		httpClient: cleanhttp.DefaultPooledClient(),
		logger:     logger,
	}, nil
}

// 构建API地址
func (c *Client) buildURL(path string) string {
	return strings.TrimSuffix(c.config.RegistryURL, "/") + path
}

// doRequest 发送HTTP请求并将成功响应解码到out
func (c *Client) doRequest(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	// 准备请求体
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), bodyReader)
	if err != nil {
		return fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: 读取响应体失败: %v", ErrUnavailable, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var errResp model.ErrorResponse
		message := string(respBody)
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			message = errResp.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("解析响应失败: %w, 响应内容: %s", err, string(respBody))
	}
	return nil
}

// Close 停止注册重试和心跳任务并等待其退出
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}
