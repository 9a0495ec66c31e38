package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/model"
	"github.com/hewenyu/service-registry/pkg/storage"
)

// ServiceHandler 处理服务注册、心跳与查询API
type ServiceHandler struct {
	storage storage.ServiceStorage
	logger  config.Logger
}

// NewServiceHandler 创建服务处理器
func NewServiceHandler(storage storage.ServiceStorage, logger config.Logger) *ServiceHandler {
	return &ServiceHandler{
		storage: storage,
		logger:  logger,
	}
}

// RegisterService 注册服务，同名服务重复注册时覆盖地址、端口和元数据
func (h *ServiceHandler) RegisterService(c echo.Context) error {
	var req model.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error: "请求参数无效: " + err.Error(),
		})
	}

	// 参数验证
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error: "参数验证失败: " + err.Error(),
		})
	}

	service, err := h.storage.Upsert(c.Request().Context(), &storage.UpsertRequest{
		Name:     req.Name,
		Address:  req.Address,
		Port:     req.Port,
		Metadata: req.Metadata,
	})
	if err != nil {
		return h.storageError(c, err, "服务注册失败")
	}

	h.logger.Info("服务已注册",
		zap.String("service", service.Name),
		zap.String("url", service.Address),
		zap.Int("port", service.Port))

	return c.JSON(http.StatusOK, model.RegisterResponse{
		Success: true,
		Service: service,
	})
}

// Heartbeat 处理服务心跳，服务不存在时返回404且不会创建记录
func (h *ServiceHandler) Heartbeat(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error: "服务名称不能为空",
		})
	}

	if _, err := h.storage.SetHealth(c.Request().Context(), name, model.HealthStatusHealthy, true); err != nil {
		return h.storageError(c, err, "心跳更新失败")
	}

	return c.JSON(http.StatusOK, model.SuccessResponse{Success: true})
}

// ListServices 列出所有未被判定为不健康的服务
func (h *ServiceHandler) ListServices(c echo.Context) error {
	services, err := h.storage.List(c.Request().Context(), storage.PublicListOptions())
	if err != nil {
		return h.storageError(c, err, "获取服务列表失败")
	}

	return c.JSON(http.StatusOK, services)
}

// GetService 获取单个服务，不按健康状态过滤
func (h *ServiceHandler) GetService(c echo.Context) error {
	service, err := h.storage.Get(c.Request().Context(), c.Param("name"))
	if err != nil {
		return h.storageError(c, err, "获取服务失败")
	}

	return c.JSON(http.StatusOK, service)
}

// storageError 将存储层错误转换为HTTP响应
func (h *ServiceHandler) storageError(c echo.Context, err error, action string) error {
	if se, ok := err.(*storage.StorageError); ok {
		switch se.Code {
		case storage.ErrNotFound:
			return c.JSON(http.StatusNotFound, model.ErrorResponse{
				Error: se.Error(),
			})
		case storage.ErrInvalidArgument:
			return c.JSON(http.StatusBadRequest, model.ErrorResponse{
				Error: se.Error(),
			})
		}
	}

	h.logger.Error(action, zap.Error(err))
	return c.JSON(http.StatusInternalServerError, model.ErrorResponse{
		Error: action + ": " + err.Error(),
	})
}
