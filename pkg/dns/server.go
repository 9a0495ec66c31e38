package dns

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/storage"
)

const startTimeout = 5 * time.Second

// Server 注册中心的只读DNS视图，同时监听UDP和TCP
type Server struct {
	host      string
	port      int
	handler   *Handler
	logger    config.Logger
	udpServer *dns.Server
	tcpServer *dns.Server
	addr      string
}

// NewServer 创建DNS服务器，port为0时监听随机端口
func NewServer(host string, cfg config.DNSConfig, storage storage.ServiceStorage, logger config.Logger) *Server {
	recordManager := NewRecordManager(storage, cfg.Domain, cfg.TTL)

	return &Server{
		host:    host,
		port:    cfg.Port,
		handler: NewHandler(recordManager, logger),
		logger:  logger,
	}
}

// Start 绑定端口并在后台处理请求
func (s *Server) Start() error {
	pc, err := net.ListenPacket("udp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("DNS UDP监听失败: %w", err)
	}

	// TCP与UDP使用同一端口
	addr := pc.LocalAddr().(*net.UDPAddr)
	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(addr.Port)))
	if err != nil {
		pc.Close()
		return fmt.Errorf("DNS TCP监听失败: %w", err)
	}

	started := make(chan struct{}, 2)
	notify := func() { started <- struct{}{} }

	s.addr = pc.LocalAddr().String()
	s.udpServer = &dns.Server{PacketConn: pc, Handler: s.handler, NotifyStartedFunc: notify}
	s.tcpServer = &dns.Server{Listener: ln, Handler: s.handler, NotifyStartedFunc: notify}

	go func() {
		if err := s.udpServer.ActivateAndServe(); err != nil {
			s.logger.Error("DNS UDP服务器异常退出", zap.Error(err))
		}
	}()
	go func() {
		if err := s.tcpServer.ActivateAndServe(); err != nil {
			s.logger.Error("DNS TCP服务器异常退出", zap.Error(err))
		}
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(startTimeout):
			return fmt.Errorf("DNS服务器启动超时")
		}
	}

	s.logger.Info("DNS服务器已启动",
		zap.String("addr", s.addr),
		zap.String("domain", s.handler.recordManager.Domain()))
	return nil
}

// Addr 返回实际监听的地址，Start之前为空
func (s *Server) Addr() string {
	return s.addr
}

// Stop 停止DNS服务器
func (s *Server) Stop() error {
	if s.udpServer == nil {
		return nil
	}

	var firstErr error
	if err := s.udpServer.Shutdown(); err != nil {
		firstErr = fmt.Errorf("关闭DNS UDP服务器失败: %w", err)
	}
	if err := s.tcpServer.Shutdown(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("关闭DNS TCP服务器失败: %w", err)
	}
	return firstErr
}
