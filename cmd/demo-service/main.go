// demo-service 是一个接入注册中心的示例服务：启动后自动注册并发送心跳
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/pkg/api"
	"github.com/hewenyu/service-registry/pkg/config"
	sdk "github.com/hewenyu/service-registry/sdk/go"
)

func main() {
	configFile := flag.String("config", "", "配置文件路径")
	name := flag.String("name", "demo-service", "服务名称")
	port := flag.Int("port", 5000, "监听端口")
	advertise := flag.String("url", "", "注册到注册中心的地址，默认 http://<name>:<port>")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	serviceURL := *advertise
	if serviceURL == "" {
		serviceURL = "http://" + *name + ":" + strconv.Itoa(*port)
	}

	e := api.NewEcho(logger)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy", "service": *name})
	})
	e.GET("/*", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"service": *name,
			"path":    c.Request().URL.Path,
		})
	})

	go func() {
		if err := e.Start(":" + strconv.Itoa(*port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	// 注册中心暂不可用时客户端会在后台持续重试
	clientCfg := sdk.ConfigFromSettings(cfg.Client, logger)
	clientCfg.ServiceName = *name
	clientCfg.ServiceURL = serviceURL
	clientCfg.ServicePort = *port
	clientCfg.Metadata = map[string]string{"version": "1.0.0"}

	client, err := sdk.NewClient(clientCfg)
	if err != nil {
		logger.Fatal("创建服务发现客户端失败", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client.Start(ctx)
	logger.Info("服务已启动",
		zap.String("service", *name),
		zap.String("url", serviceURL),
		zap.String("registry", cfg.Client.RegistryURL))

	<-ctx.Done()
	logger.Info("接收到关闭信号，正在优雅关闭...")

	client.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("关闭服务失败", zap.Error(err))
	}
}
