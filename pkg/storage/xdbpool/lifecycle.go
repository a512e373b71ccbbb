package xdbpool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// LifecycleOption 定义 LifecycleManager 可选配置函数类型。
type LifecycleOption func(*lifecycleOptions)

type lifecycleOptions struct {
	logger    *slog.Logger
	sampler   MemorySampler
	footprint uint64
}

// WithLifecycleLogger 设置日志记录器，默认沿用池的日志记录器。
func WithLifecycleLogger(logger *slog.Logger) LifecycleOption {
	return func(o *lifecycleOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMemorySampler 设置资源检查使用的内存采样器。
// 未设置时按 连接数 × 单连接占用 + 固定开销 估算。
func WithMemorySampler(s MemorySampler) LifecycleOption {
	return func(o *lifecycleOptions) {
		o.sampler = s
	}
}

// WithConnectionFootprint 设置估算模式下单个连接的内存占用（字节）。
func WithConnectionFootprint(bytes uint64) LifecycleOption {
	return func(o *lifecycleOptions) {
		if bytes > 0 {
			o.footprint = bytes
		}
	}
}

// LifecycleManager 在后台维护池中连接：验证空闲连接、恢复不健康连接、
// 清理过期连接、汇总健康状况与检查资源占用。
//
// 它不持有任何连接记录，所有状态变化都通过 Pool 完成。
type LifecycleManager struct {
	pool      *Pool
	logger    *slog.Logger
	sampler   MemorySampler
	footprint uint64

	recoveries singleflight.Group
	inflight   sync.WaitGroup
	recoverCtx context.Context
	// recoverCancel 中止进行中的后台恢复。
	recoverCancel context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	loops   *errgroup.Group

	cleanupStats cleanupCounters
	report       atomic.Pointer[HealthReport]

	shutdownOnce sync.Once
	shutdownErr  error
}

type cleanupCounters struct {
	runs      atomic.Int64
	idle      atomic.Int64
	expired   atomic.Int64
	unhealthy atomic.Int64
	refilled  atomic.Int64
	lastRun   atomic.Int64 // UnixNano
}

// CleanupStats 是清理的累计统计。
type CleanupStats struct {
	Runs                        int64
	IdleConnectionsRemoved      int64
	ExpiredConnectionsRemoved   int64
	UnhealthyConnectionsRemoved int64
	Replenished                 int64
	LastRun                     time.Time
}

// HealthReport 是一次健康检查的汇总。
type HealthReport struct {
	Time       time.Time
	Total      int
	Healthy    int
	Unhealthy  int
	AverageAge time.Duration
	MaxAge     time.Duration
	// Failing 是失败次数达到 MaxValidationFailures 的连接 ID，已排序。
	Failing []string
}

// ValidationResult 是一轮空闲验证的结果。
type ValidationResult struct {
	Checked           int
	Passed            int
	Failed            int
	MarkedUnhealthy   int
	RecoveriesStarted int
}

// NewLifecycleManager 创建生命周期管理器。需调用 Start 启动后台循环。
func NewLifecycleManager(p *Pool, opts ...LifecycleOption) (*LifecycleManager, error) {
	if p == nil {
		return nil, ErrNilPool
	}
	o := lifecycleOptions{
		logger:    p.logger,
		footprint: DefaultConnectionFootprint,
	}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LifecycleManager{
		pool:          p,
		logger:        o.logger,
		sampler:       o.sampler,
		footprint:     o.footprint,
		recoverCtx:    ctx,
		recoverCancel: cancel,
	}, nil
}

// Start 启动验证、清理、健康检查与资源检查四个循环。重复调用是空操作。
//
// 各循环每个周期重新读取池配置中的间隔，间隔为 0 时暂停。
// ctx 取消或 Shutdown 时循环退出。
func (m *LifecycleManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.pool.Closed() {
		return ErrPoolClosed
	}
	if m.started {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	m.cancel = cancel
	m.loops = g
	m.started = true

	loops := []struct {
		interval func(Config) time.Duration
		run      func(context.Context)
	}{
		{func(c Config) time.Duration { return c.ValidationInterval }, m.validationCycle},
		{func(c Config) time.Duration { return c.CleanupInterval }, m.cleanupCycle},
		{func(c Config) time.Duration { return c.HealthCheckInterval }, m.healthCycle},
		{func(c Config) time.Duration { return c.ResourceCheckInterval }, m.resourceCycle},
	}
	for _, l := range loops {
		g.Go(func() error {
			tickLoop(gctx, func() time.Duration { return l.interval(m.pool.Config()) }, l.run)
			return nil
		})
	}
	m.logger.Info("xdbpool: lifecycle manager started")
	return nil
}

func (m *LifecycleManager) validationCycle(ctx context.Context) {
	if m.pool.Config().TestWhileIdle {
		m.RunValidation(ctx)
	}
}

func (m *LifecycleManager) cleanupCycle(ctx context.Context) {
	if _, err := m.RunCleanup(ctx); err != nil && ctx.Err() == nil {
		m.logger.Warn("xdbpool: cleanup cycle failed", slog.Any("error", err))
	}
}

func (m *LifecycleManager) healthCycle(ctx context.Context) {
	m.RunHealthCheck(ctx)
}

func (m *LifecycleManager) resourceCycle(ctx context.Context) {
	if _, err := m.RunResourceCheck(ctx); err != nil && ctx.Err() == nil {
		m.logger.Warn("xdbpool: resource check failed", slog.Any("error", err))
	}
}

// RunValidation 逐个取出空闲连接执行验证查询。
//
// 成功的连接恢复健康并放回；失败次数恰好达到 MaxValidationFailures 时发出
// 一次 validation_failed，AutoRecovery 开启时转入后台恢复，
// 否则以不健康状态放回，对获取方不可见，等待清理。
func (m *LifecycleManager) RunValidation(ctx context.Context) ValidationResult {
	p := m.pool
	cfg := p.Config()

	var res ValidationResult
	for _, id := range p.idleIDs() {
		if ctx.Err() != nil {
			break
		}
		rec, ok := p.checkoutIdle(id)
		if !ok {
			continue
		}
		res.Checked++

		err := p.probe(ctx, cfg, rec.conn)
		out, ok := p.recordProbe(rec, err, cfg)
		if !ok {
			continue
		}
		if err == nil {
			res.Passed++
			p.checkin(rec, StateChecked)
			continue
		}

		res.Failed++
		m.logger.Debug("xdbpool: idle validation failed",
			slog.String("conn_id", id),
			slog.Int("failures", out.failures),
			slog.Any("error", err),
		)
		if out.crossed {
			res.MarkedUnhealthy++
			p.emit(EventValidationFailed, id, map[string]any{
				"failures": out.failures,
				"error":    err.Error(),
			})
			if cfg.AutoRecovery && m.startRecovery(rec) {
				res.RecoveriesStarted++
				continue
			}
		}
		p.checkin(rec, StateChecked)
	}
	return res
}

// startRecovery 把验证持有的连接转交给恢复任务，并在受跟踪的 goroutine 中恢复。
// 返回 false 时连接仍由验证持有。
func (m *LifecycleManager) startRecovery(rec *connRecord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || !m.pool.handoffRecovery(rec) {
		return false
	}
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		m.RecoverConnection(m.recoverCtx, rec.id)
	}()
	return true
}

// RunCleanup 执行一次清理并补足连接，发出 cleanup_completed。
func (m *LifecycleManager) RunCleanup(ctx context.Context) (CleanupResult, error) {
	res, err := m.pool.cleanup(ctx)
	m.recordCleanup(res)
	return res, err
}

func (m *LifecycleManager) recordCleanup(res CleanupResult) {
	s := &m.cleanupStats
	s.runs.Add(1)
	s.idle.Add(int64(res.IdleRemoved))
	s.expired.Add(int64(res.ExpiredRemoved))
	s.unhealthy.Add(int64(res.UnhealthyRemoved))
	s.refilled.Add(int64(res.Replenished))
	s.lastRun.Store(time.Now().UnixNano())

	if res.Total() > 0 || res.Replenished > 0 {
		m.logger.Debug("xdbpool: cleanup completed",
			slog.Int("idle", res.IdleRemoved),
			slog.Int("expired", res.ExpiredRemoved),
			slog.Int("unhealthy", res.UnhealthyRemoved),
			slog.Int("replenished", res.Replenished),
		)
	}
	m.pool.emit(EventCleanupCompleted, "", map[string]any{
		"idle_removed":      res.IdleRemoved,
		"expired_removed":   res.ExpiredRemoved,
		"unhealthy_removed": res.UnhealthyRemoved,
		"replenished":       res.Replenished,
	})
}

// CleanupStats 返回清理的累计统计。
func (m *LifecycleManager) CleanupStats() CleanupStats {
	s := &m.cleanupStats
	st := CleanupStats{
		Runs:                        s.runs.Load(),
		IdleConnectionsRemoved:      s.idle.Load(),
		ExpiredConnectionsRemoved:   s.expired.Load(),
		UnhealthyConnectionsRemoved: s.unhealthy.Load(),
		Replenished:                 s.refilled.Load(),
	}
	if ns := s.lastRun.Load(); ns != 0 {
		st.LastRun = time.Unix(0, ns)
	}
	return st
}

// RunHealthCheck 汇总连接健康状况。
// 每个连接在一次连续失败周期内只发出一次 health_check_failed。
func (m *LifecycleManager) RunHealthCheck(_ context.Context) HealthReport {
	report, failing := m.pool.healthScan(m.pool.Config(), time.Now())
	m.report.Store(&report)

	for _, info := range failing {
		m.logger.Warn("xdbpool: connection failing health check",
			slog.String("conn_id", info.ID),
			slog.Int("failures", info.ConsecutiveFailures),
		)
		m.pool.emit(EventHealthCheckFailed, info.ID, map[string]any{
			"failures": info.ConsecutiveFailures,
			"state":    info.State.String(),
		})
	}
	return report
}

// HealthReport 返回最近一次健康检查的结果，尚未检查时返回零值。
func (m *LifecycleManager) HealthReport() HealthReport {
	if r := m.report.Load(); r != nil {
		return *r
	}
	return HealthReport{}
}

// RunResourceCheck 检查内存占用。MemoryThresholdMB 为 0 时不判定超限。
// 超限时发出 resource_threshold_exceeded 并立即执行一次清理。
func (m *LifecycleManager) RunResourceCheck(ctx context.Context) (ResourceReport, error) {
	cfg := m.pool.Config()
	r := ResourceReport{ThresholdMB: cfg.MemoryThresholdMB}

	if m.sampler != nil {
		b, err := m.sampler.SampleMemory(ctx)
		if err != nil {
			return r, err
		}
		r.Bytes, r.Sampled = b, true
	} else {
		metrics := m.pool.Metrics()
		live := uint64(metrics.Total + metrics.Creating) //nolint:gosec // 计数非负
		r.Bytes = live*m.footprint + metricsOverhead
	}

	r.Exceeded = cfg.MemoryThresholdMB > 0 && r.MB() > float64(cfg.MemoryThresholdMB)
	if !r.Exceeded {
		return r, nil
	}

	m.logger.Warn("xdbpool: memory threshold exceeded",
		slog.Float64("memory_mb", r.MB()),
		slog.Int("threshold_mb", cfg.MemoryThresholdMB),
		slog.Bool("sampled", r.Sampled),
	)
	m.pool.emit(EventResourceThresholdExceeded, "", map[string]any{
		"memory_mb":    r.MB(),
		"threshold_mb": cfg.MemoryThresholdMB,
	})
	_, err := m.RunCleanup(ctx)
	return r, err
}

// shutdownPoll 是优雅关闭时检查借出连接的周期。
const shutdownPoll = 20 * time.Millisecond

// Shutdown 停止后台循环并关闭池。幂等，重复调用返回首次结果。
//
// GracefulShutdown 开启时，依次等待进行中的恢复、执行最后一次清理（不补足）、
// 等待借出的连接归还，整体不超过 ShutdownTimeout 与 ctx 的截止时间。
// 无论等待是否完成，最后都会关闭池。
func (m *LifecycleManager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.shutdownErr = m.shutdown(ctx)
	})
	return m.shutdownErr
}

func (m *LifecycleManager) shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	m.stopped = true
	cancel, loops := m.cancel, m.loops
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		_ = loops.Wait() //nolint:errcheck // 循环始终返回 nil
	}

	cfg := m.pool.Config()
	if cfg.GracefulShutdown {
		wctx := ctx
		if cfg.ShutdownTimeout > 0 {
			var wcancel context.CancelFunc
			wctx, wcancel = context.WithTimeout(ctx, cfg.ShutdownTimeout)
			defer wcancel()
		}
		m.drain(wctx, cfg)
	}

	m.recoverCancel()
	err := m.pool.Close()
	m.inflight.Wait()
	m.logger.Info("xdbpool: lifecycle manager stopped")
	return err
}

// drain 是优雅关闭的等待阶段，ctx 到期即放弃。
func (m *LifecycleManager) drain(ctx context.Context, cfg Config) {
	recovered := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(recovered)
	}()
	select {
	case <-recovered:
	case <-ctx.Done():
		m.logger.Warn("xdbpool: shutdown gave up waiting for recoveries")
		return
	}

	res := m.pool.sweep(cfg)
	m.recordCleanup(res)

	ticker := time.NewTicker(shutdownPoll)
	defer ticker.Stop()
	for {
		active := m.pool.Metrics().Active
		if active == 0 {
			return
		}
		select {
		case <-ctx.Done():
			m.logger.Warn("xdbpool: shutdown with connections still in use", slog.Int("active", active))
			return
		case <-ticker.C:
		}
	}
}
