package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/pkg/config"
)

// ErrServiceUnavailable 注册中心和静态映射都无法提供服务地址
var ErrServiceUnavailable = errors.New("service not available")

// UnavailableError 指明不可用的服务名称
type UnavailableError struct {
	Service string
}

// Error 实现error接口
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("Service %s not available", e.Service)
}

// Is 使errors.Is(err, ErrServiceUnavailable)成立
func (e *UnavailableError) Is(target error) bool {
	return target == ErrServiceUnavailable
}

// Source 目标地址的来源
type Source string

const (
	// SourceRegistry 地址来自注册中心
	SourceRegistry Source = "registry"
	// SourceFallback 地址来自静态映射
	SourceFallback Source = "fallback"
)

// Resolver 从注册中心查询健康服务的地址，查询失败或服务不健康时返回空字符串
type Resolver interface {
	ResolveHealthyAddress(ctx context.Context, name string) string
}

// Forwarder 将请求转发到目标地址
type Forwarder interface {
	Forward(w http.ResponseWriter, r *http.Request, target string) error
}

// Router 根据服务名称选择转发目标：先查注册中心，再查静态映射
type Router struct {
	resolver      Resolver
	forwarder     Forwarder
	fallback      map[string]string
	lookupTimeout time.Duration
	logger        config.Logger
}

// NewRouter 创建路由器
func NewRouter(resolver Resolver, forwarder Forwarder, fallback map[string]string, lookupTimeout time.Duration, logger config.Logger) *Router {
	if lookupTimeout <= 0 {
		lookupTimeout = 2 * time.Second
	}
	fb := make(map[string]string, len(fallback))
	for name, addr := range fallback {
		fb[name] = addr
	}
	return &Router{
		resolver:      resolver,
		forwarder:     forwarder,
		fallback:      fb,
		lookupTimeout: lookupTimeout,
		logger:        logger,
	}
}

// Resolve 解析服务的转发目标，每次请求都重新查询
func (r *Router) Resolve(ctx context.Context, name string) (string, Source, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	if target := r.resolver.ResolveHealthyAddress(lookupCtx, name); target != "" {
		return target, SourceRegistry, nil
	}

	if target, ok := r.fallback[name]; ok && target != "" {
		return target, SourceFallback, nil
	}

	return "", "", &UnavailableError{Service: name}
}

// Handler 返回转发到指定服务的echo处理函数
func (r *Router) Handler(name string) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		target, source, err := r.Resolve(req.Context(), name)
		if err != nil {
			r.logger.Warn("服务不可用",
				zap.String("service", name),
				zap.String("path", req.URL.Path))
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"error": err.Error(),
			})
		}

		if source == SourceFallback {
			r.logger.Info("服务发现失败，使用静态地址",
				zap.String("service", name),
				zap.String("target", target))
		} else {
			r.logger.Debug("转发请求",
				zap.String("service", name),
				zap.String("target", target))
		}

		if err := r.forwarder.Forward(c.Response(), req, target); err != nil {
			r.logger.Warn("请求转发失败",
				zap.String("service", name),
				zap.String("target", target),
				zap.Error(err))
		}
		return nil
	}
}

// ProxyForwarder 基于httputil.ReverseProxy的转发器
// 保留请求方法、路径、请求头和请求体，Host改写为目标地址
type ProxyForwarder struct {
	transport http.RoundTripper
	logger    config.Logger
}

// NewProxyForwarder 创建转发器
func NewProxyForwarder(logger config.Logger) *ProxyForwarder {
	return &ProxyForwarder{
		transport: cleanhttp.DefaultPooledTransport(),
		logger:    logger,
	}
}

// Forward 实现Forwarder接口，上游不可达时返回502并返回错误
func (f *ProxyForwarder) Forward(w http.ResponseWriter, r *http.Request, target string) error {
	targetURL, err := parseTarget(target)
	if err != nil {
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return err
	}

	var proxyErr error
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(targetURL)
			pr.SetXForwarded()
		},
		Transport: f.transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			proxyErr = err
			http.Error(w, "Bad Gateway", http.StatusBadGateway)
		},
	}

	proxy.ServeHTTP(w, r)
	return proxyErr
}

// parseTarget 解析目标地址，缺少协议时默认使用http
func parseTarget(target string) (*url.URL, error) {
	if !strings.Contains(target, "://") {
		target = "http://" + target
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("无效的目标地址 %q: %w", target, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("无效的目标地址 %q", target)
	}
	return u, nil
}
