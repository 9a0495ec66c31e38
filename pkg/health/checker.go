package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
)

// DefaultHealthPath 参与服务暴露的健康检查路径
const DefaultHealthPath = "/health"

// Checker 对单个服务地址执行一次存活探测，返回nil表示健康
type Checker interface {
	Check(ctx context.Context, address string) error
}

// HTTPChecker 通过 GET {address}/health 探测服务
type HTTPChecker struct {
	client *http.Client
	path   string
}

// NewHTTPChecker 创建HTTP探测器，超时由调用方的context控制
func NewHTTPChecker() *HTTPChecker {
	return &HTTPChecker{
		client: cleanhttp.DefaultPooledClient(),
		path:   DefaultHealthPath,
	}
}

// Check 实现Checker接口，2xx视为健康
func (c *HTTPChecker) Check(ctx context.Context, address string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ProbeURL(address, c.path), nil)
	if err != nil {
		return fmt.Errorf("创建探测请求失败: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("探测请求失败: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("健康检查返回状态码: %d", resp.StatusCode)
	}
	return nil
}

// ProbeURL 拼接探测地址，地址缺少协议时默认使用http
func ProbeURL(address, path string) string {
	base := strings.TrimSuffix(address, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return base + path
}
