package health

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/storage"
)

// Reaper 定期清理长时间未收到心跳的服务记录
type Reaper struct {
	store    storage.ServiceStorage
	logger   config.Logger
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time

	stopChan chan struct{}
	done     chan struct{}
}

// NewReaper 创建记录清理任务，ttl为0时Start不做任何事
func NewReaper(store storage.ServiceStorage, logger config.Logger, ttl, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		store:    store,
		logger:   logger,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
	}
}

// Enabled 是否启用了记录清理
func (r *Reaper) Enabled() bool {
	return r.ttl > 0
}

// Start 启动清理任务
func (r *Reaper) Start() {
	if !r.Enabled() {
		return
	}

	r.stopChan = make(chan struct{})
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := r.RunOnce(context.Background()); err != nil {
					r.logger.Error("清理过期服务失败", zap.Error(err))
				}
			case <-r.stopChan:
				return
			}
		}
	}()

	r.logger.Info("过期服务清理任务已启动",
		zap.Duration("ttl", r.ttl),
		zap.Duration("interval", r.interval))
}

// Stop 停止清理任务
func (r *Reaper) Stop() {
	if r.stopChan == nil {
		return
	}
	close(r.stopChan)
	<-r.done
	r.stopChan = nil
}

// RunOnce 执行一次清理，返回被清理的记录数
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	if !r.Enabled() {
		return 0, nil
	}

	count, err := r.store.Evict(ctx, r.now().Add(-r.ttl))
	if err != nil {
		return count, err
	}
	if count > 0 {
		r.logger.Info("已清理过期服务", zap.Int("count", count))
	}
	return count, nil
}
