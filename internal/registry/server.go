package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/pkg/api"
	"github.com/hewenyu/service-registry/pkg/api/handler"
	"github.com/hewenyu/service-registry/pkg/api/router"
	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/dns"
	"github.com/hewenyu/service-registry/pkg/health"
	"github.com/hewenyu/service-registry/pkg/storage"
	"github.com/hewenyu/service-registry/pkg/storage/etcd"
	"github.com/hewenyu/service-registry/pkg/storage/memory"
)

// Server 注册中心服务：HTTP API、健康探测、过期清理和可选的DNS视图
type Server struct {
	e          *echo.Echo
	cfg        *config.Config
	logger     config.Logger
	store      storage.ServiceStorage
	etcdClient *etcd.Client
	prober     *health.Prober
	reaper     *health.Reaper
	dnsServer  *dns.Server
	addr       string
}

// NewServer 根据配置创建注册中心服务
func NewServer(cfg *config.Config, logger config.Logger) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logger,
	}

	// 创建存储
	switch cfg.Storage.Backend {
	case "", "memory":
		s.store = memory.NewServiceStorage()
	case "etcd":
		client, err := etcd.NewClient(&cfg.Etcd)
		if err != nil {
			return nil, fmt.Errorf("创建etcd客户端失败: %w", err)
		}
		s.etcdClient = client
		s.store = etcd.NewServiceStorage(client)
	default:
		return nil, fmt.Errorf("不支持的存储后端: %s", cfg.Storage.Backend)
	}

	return s.build(), nil
}

// NewServerWithStorage 使用给定存储创建注册中心服务
func NewServerWithStorage(cfg *config.Config, store storage.ServiceStorage, checker health.Checker, logger config.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
	if checker != nil {
		s.prober = health.NewProber(store, checker, logger, proberOptions(cfg))
	}
	return s.build()
}

func (s *Server) build() *Server {
	if s.prober == nil {
		s.prober = health.NewProber(s.store, health.NewHTTPChecker(), s.logger, proberOptions(s.cfg))
	}
	s.reaper = health.NewReaper(s.store, s.logger, s.cfg.Registry.EvictionTTL, s.cfg.Registry.EvictionInterval)

	if s.cfg.DNS.Port > 0 {
		s.dnsServer = dns.NewServer(s.cfg.Server.Host, s.cfg.DNS, s.store, s.logger)
	}

	s.e = api.NewEcho(s.logger)
	router.RegisterRoutes(s.e,
		handler.NewServiceHandler(s.store, s.logger),
		handler.NewStatsHandler(s.store, s.prober))

	return s
}

func proberOptions(cfg *config.Config) health.Options {
	return health.Options{
		Interval:           cfg.Registry.ProbeInterval,
		Timeout:            cfg.Registry.ProbeTimeout,
		UnhealthyThreshold: cfg.Registry.UnhealthyThreshold,
	}
}

// Handler 返回HTTP处理器
func (s *Server) Handler() http.Handler {
	return s.e
}

// Storage 返回服务存储
func (s *Server) Storage() storage.ServiceStorage {
	return s.store
}

// Prober 返回健康探测器
func (s *Server) Prober() *health.Prober {
	return s.prober
}

// Addr 返回HTTP实际监听地址，Start之前为空
func (s *Server) Addr() string {
	return s.addr
}

// Start 启动服务，端口绑定失败时返回错误
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("注册中心API监听失败: %w", err)
	}
	s.e.Listener = ln
	s.addr = ln.Addr().String()

	if s.dnsServer != nil {
		if err := s.dnsServer.Start(); err != nil {
			ln.Close()
			return err
		}
	}

	s.prober.Start(ctx)
	s.reaper.Start()

	// 以非阻塞方式启动服务
	go func() {
		if err := s.e.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("注册中心API服务异常退出", zap.Error(err))
		}
	}()

	s.logger.Info("注册中心已启动",
		zap.String("addr", s.addr),
		zap.String("storage", s.cfg.Storage.Backend))
	return nil
}

// Shutdown 关闭服务，进行中的健康探测会先完成
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if err := s.e.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("关闭API服务失败: %w", err))
	}

	s.prober.Stop()
	s.reaper.Stop()

	if s.dnsServer != nil {
		if err := s.dnsServer.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	if s.etcdClient != nil {
		if err := s.etcdClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭etcd客户端失败: %w", err))
		}
	}

	return errors.Join(errs...)
}
