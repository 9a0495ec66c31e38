package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/pkg/api"
	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/model"
	sdk "github.com/hewenyu/service-registry/sdk/go"
)

// Registry 网关依赖的注册中心查询能力，由sdk.Client实现
type Registry interface {
	Resolver
	FetchServices(ctx context.Context) ([]*model.Service, error)
}

// Server 基于服务发现的API网关
type Server struct {
	e        *echo.Echo
	cfg      *config.Config
	logger   config.Logger
	registry Registry
	router   *Router
	addr     string
}

// NewServer 根据配置创建网关
func NewServer(cfg *config.Config, logger config.Logger) (*Server, error) {
	client, err := sdk.NewClient(sdk.ConfigFromSettings(cfg.Client, logger))
	if err != nil {
		return nil, fmt.Errorf("创建服务发现客户端失败: %w", err)
	}
	return NewServerWithRegistry(cfg, client, NewProxyForwarder(logger), logger), nil
}

// NewServerWithRegistry 使用给定的注册中心客户端和转发器创建网关
func NewServerWithRegistry(cfg *config.Config, registry Registry, forwarder Forwarder, logger config.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		router:   NewRouter(registry, forwarder, cfg.Gateway.Fallback, cfg.Gateway.LookupTimeout, logger),
	}

	s.e = api.NewEcho(logger)
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	prefixes := make([]string, 0, len(s.cfg.Gateway.Routes))
	for prefix := range s.cfg.Gateway.Routes {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)

	for _, prefix := range prefixes {
		name := s.cfg.Gateway.Routes[prefix]
		path := "/" + strings.Trim(prefix, "/")
		h := s.router.Handler(name)

		// 前缀本身和其下的所有子路径
		s.e.Any(path, h)
		s.e.Any(path+"/*", h)

		s.logger.Debug("注册网关路由", zap.String("prefix", path), zap.String("service", name))
	}

	s.e.GET("/registry/services", s.listServices)
	s.e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})
}

// listServices 透传注册中心的服务列表
func (s *Server) listServices(c echo.Context) error {
	services, err := s.registry.FetchServices(c.Request().Context())
	if err != nil {
		s.logger.Warn("获取服务列表失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to get services from registry",
		})
	}
	return c.JSON(http.StatusOK, services)
}

// Handler 返回HTTP处理器
func (s *Server) Handler() http.Handler {
	return s.e
}

// Router 返回路由器
func (s *Server) Router() *Router {
	return s.router
}

// Addr 返回实际监听地址，Start之前为空
func (s *Server) Addr() string {
	return s.addr
}

// Start 启动网关，端口绑定失败时返回错误
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Gateway.Host, strconv.Itoa(s.cfg.Gateway.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("网关监听失败: %w", err)
	}
	s.e.Listener = ln
	s.addr = ln.Addr().String()

	go func() {
		if err := s.e.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("网关服务异常退出", zap.Error(err))
		}
	}()

	s.logger.Info("API网关已启动",
		zap.String("addr", s.addr),
		zap.String("registry", s.cfg.Client.RegistryURL))
	return nil
}

// Shutdown 关闭网关
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}
