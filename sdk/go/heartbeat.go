package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// SendHeartbeat 发送一次心跳
func (c *Client) SendHeartbeat(ctx context.Context) error {
	if c.config.ServiceName == "" {
		return fmt.Errorf("服务名称不能为空")
	}

	path := "/heartbeat/" + url.PathEscape(c.config.ServiceName)
	if err := c.doRequest(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("发送心跳失败: %w", err)
	}
	return nil
}

// runHeartbeat 按固定间隔发送心跳，失败只记录日志
// 注册中心丢失了服务记录（返回404）时重新注册
func (c *Client) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := c.SendHeartbeat(ctx)
			if errors.Is(err, ErrNotFound) {
				c.registered.Store(false)
				c.logger.Warn("注册中心中不存在该服务，重新注册",
					zap.String("service", c.config.ServiceName))
				if err := c.registerWithRetry(ctx); err != nil {
					return
				}
				continue
			}
			if err != nil {
				c.logger.Warn("心跳发送失败，将在下一个周期重试",
					zap.String("service", c.config.ServiceName),
					zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
