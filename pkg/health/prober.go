package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/model"
	"github.com/hewenyu/service-registry/pkg/storage"
)

// Options 探测器配置
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	// UnhealthyThreshold 健康服务连续失败多少次后才标记为不健康，1表示立即翻转
	UnhealthyThreshold int
}

// CycleResult 一轮探测的结果
type CycleResult struct {
	Healthy   []string
	Unhealthy []string
}

// Prober 周期性地并发探测所有已注册服务的健康检查接口
type Prober struct {
	store   storage.ServiceStorage
	checker Checker
	logger  config.Logger
	opts    Options

	mu       sync.Mutex
	failures map[string]int

	cycles atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProber 创建探测器
func NewProber(store storage.ServiceStorage, checker Checker, logger config.Logger, opts Options) *Prober {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.UnhealthyThreshold < 1 {
		opts.UnhealthyThreshold = 1
	}
	if checker == nil {
		checker = NewHTTPChecker()
	}

	return &Prober{
		store:    store,
		checker:  checker,
		logger:   logger,
		opts:     opts,
		failures: make(map[string]int),
	}
}

// Start 启动后台探测循环
func (p *Prober) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)

		ticker := time.NewTicker(p.opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				// 停机不打断进行中的探测
				if _, err := p.RunCycle(context.WithoutCancel(loopCtx)); err != nil {
					p.logger.Error("健康探测失败", zap.Error(err))
				}
			case <-loopCtx.Done():
				return
			}
		}
	}()

	p.logger.Info("健康探测已启动",
		zap.Duration("interval", p.opts.Interval),
		zap.Duration("timeout", p.opts.Timeout),
		zap.Int("unhealthy_threshold", p.opts.UnhealthyThreshold))
}

// Stop 停止探测循环，等待进行中的一轮探测结束
func (p *Prober) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.logger.Info("健康探测已停止")
}

// Cycles 返回已完成的探测轮数
func (p *Prober) Cycles() int64 {
	return p.cycles.Load()
}

// RunCycle 执行一轮探测，单个服务的失败不影响其他服务
func (p *Prober) RunCycle(ctx context.Context) (*CycleResult, error) {
	services, err := p.store.List(ctx, storage.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取服务列表失败: %w", err)
	}

	result := &CycleResult{}
	var resultMu sync.Mutex

	var g errgroup.Group
	for _, service := range services {
		g.Go(func() error {
			health := p.probe(ctx, service)

			resultMu.Lock()
			defer resultMu.Unlock()
			switch health {
			case model.HealthStatusHealthy:
				result.Healthy = append(result.Healthy, service.Name)
			case model.HealthStatusUnhealthy:
				result.Unhealthy = append(result.Unhealthy, service.Name)
			}
			return nil
		})
	}
	_ = g.Wait()

	p.forgetMissing(services)
	p.cycles.Add(1)

	p.logger.Debug("健康探测完成",
		zap.Int("services", len(services)),
		zap.Int("healthy", len(result.Healthy)),
		zap.Int("unhealthy", len(result.Unhealthy)))

	return result, nil
}

// probe 探测单个服务并写回健康状态，返回写入的状态（未写入时返回空）
func (p *Prober) probe(ctx context.Context, service *model.Service) model.HealthStatus {
	probeCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	err := p.checker.Check(probeCtx, service.Address)
	cancel()

	if err == nil {
		p.resetFailures(service.Name)
		return p.write(ctx, service.Name, model.HealthStatusHealthy, true)
	}

	failures := p.recordFailure(service.Name)
	p.logger.Info("服务健康探测失败",
		zap.String("service", service.Name),
		zap.String("address", service.Address),
		zap.Int("consecutive_failures", failures),
		zap.Error(err))

	if service.Health == model.HealthStatusHealthy && failures < p.opts.UnhealthyThreshold {
		return ""
	}
	return p.write(ctx, service.Name, model.HealthStatusUnhealthy, false)
}

func (p *Prober) write(ctx context.Context, name string, health model.HealthStatus, touch bool) model.HealthStatus {
	if _, err := p.store.SetHealth(ctx, name, health, touch); err != nil {
		// 探测期间被清理的服务直接忽略
		if !storage.IsNotFound(err) {
			p.logger.Error("更新服务健康状态失败",
				zap.String("service", name),
				zap.String("health", string(health)),
				zap.Error(err))
		}
		return ""
	}
	return health
}

func (p *Prober) recordFailure(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[name]++
	return p.failures[name]
}

func (p *Prober) resetFailures(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failures, name)
}

// forgetMissing 丢弃已不在注册表中的服务的失败计数
func (p *Prober) forgetMissing(services []*model.Service) {
	present := make(map[string]struct{}, len(services))
	for _, s := range services {
		present[s.Name] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for name := range p.failures {
		if _, ok := present[name]; !ok {
			delete(p.failures, name)
		}
	}
}
