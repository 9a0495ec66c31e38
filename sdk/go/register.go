package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/pkg/model"
)

// Register 向注册中心发送一次注册请求
func (c *Client) Register(ctx context.Context) (*model.Service, error) {
	if c.config.ServiceName == "" || c.config.ServiceURL == "" || c.config.ServicePort <= 0 {
		return nil, ErrInvalidConfig
	}

	req := model.RegisterRequest{
		Name:     c.config.ServiceName,
		Address:  c.config.ServiceURL,
		Port:     c.config.ServicePort,
		Metadata: c.config.Metadata,
	}

	var resp model.RegisterResponse
	if err := c.doRequest(ctx, http.MethodPost, "/register", req, &resp); err != nil {
		return nil, fmt.Errorf("服务注册失败: %w", err)
	}
	if !resp.Success || resp.Service == nil {
		return nil, fmt.Errorf("服务注册失败: 注册中心返回无效响应")
	}

	c.registered.Store(true)
	return resp.Service, nil
}

// IsRegistered 检查服务是否已注册成功
func (c *Client) IsRegistered() bool {
	return c.registered.Load()
}

// Start 在后台完成注册并维持心跳
// 注册失败时按RetryDelay无限重试，直到成功或ctx被取消，错误只记录日志
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if c.config.InitialDelay > 0 {
			select {
			case <-time.After(c.config.InitialDelay):
			case <-ctx.Done():
				return
			}
		}

		if err := c.registerWithRetry(ctx); err != nil {
			return
		}

		c.runHeartbeat(ctx)
	}()
}

func (c *Client) registerWithRetry(ctx context.Context) error {
	service, err := backoff.Retry(ctx, func() (*model.Service, error) {
		service, err := c.Register(ctx)
		// 配置无效或注册中心返回400时停止重试，其余失败一律重试
		var apiErr *APIError
		if errors.Is(err, ErrInvalidConfig) || (errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest) {
			return nil, backoff.Permanent(err)
		}
		return service, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.config.RetryDelay)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("服务注册失败，稍后重试",
				zap.String("service", c.config.ServiceName),
				zap.Duration("retry_in", next),
				zap.Error(err))
		}),
	)
	if err != nil {
		c.logger.Warn("服务注册已停止",
			zap.String("service", c.config.ServiceName),
			zap.Error(err))
		return err
	}

	c.logger.Info("服务注册成功",
		zap.String("service", service.Name),
		zap.String("id", service.ID),
		zap.String("url", service.Address))
	return nil
}
