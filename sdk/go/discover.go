package sdk

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/pkg/model"
)

// Discover 查询单个服务，任何失败都返回nil
func (c *Client) Discover(ctx context.Context, name string) *model.Service {
	var service model.Service
	if err := c.doRequest(ctx, http.MethodGet, "/services/"+url.PathEscape(name), nil, &service); err != nil {
		c.logger.Debug("服务查询失败", zap.String("service", name), zap.Error(err))
		return nil
	}
	return &service
}

// ResolveHealthyAddress 返回健康服务的地址，服务不存在或状态不是healthy时返回空字符串
func (c *Client) ResolveHealthyAddress(ctx context.Context, name string) string {
	service := c.Discover(ctx, name)
	if service == nil || service.Health != model.HealthStatusHealthy {
		return ""
	}
	return service.Address
}

// FetchServices 获取注册中心对外可见的服务列表
func (c *Client) FetchServices(ctx context.Context) ([]*model.Service, error) {
	var services []*model.Service
	if err := c.doRequest(ctx, http.MethodGet, "/services", nil, &services); err != nil {
		return nil, err
	}
	if services == nil {
		services = []*model.Service{}
	}
	return services, nil
}

// ListServices 获取服务列表，失败时返回空列表
func (c *Client) ListServices(ctx context.Context) []*model.Service {
	services, err := c.FetchServices(ctx)
	if err != nil {
		c.logger.Debug("获取服务列表失败", zap.Error(err))
		return []*model.Service{}
	}
	return services
}
