package xdbpool

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xdbkit/internal/storageopt"
)

// Pool 是自适应连接池。
//
// 并发安全。一把 mu 保护记录映射、空闲队列与计数；
// 连接 I/O（创建、关闭、探测、执行）都在锁外进行。
type Pool struct {
	factory Factory
	name    string
	logger  *slog.Logger
	cfg     atomic.Pointer[Config]

	mu         sync.Mutex
	records    map[string]*connRecord
	idle       *list.List // 按归还时间排序，队首为最久未用
	creating   int
	destroying int
	notify     chan struct{} // 归还或释放容量时关闭并替换，用于唤醒等待者
	closed     bool

	peak          int
	connIntegral  float64 // 连接数对时间的积分（连接·秒）
	lastCountAt   time.Time
	lastScaleUp   time.Time
	lastScaleDown time.Time

	scaleMu sync.Mutex

	stats   poolStats
	wait    storageopt.DurationAverage
	queries storageopt.QueryCounter

	tombstones    *tombstones
	breaker       *gobreaker.CircuitBreaker[Connection]
	slow          *storageopt.SlowQueryDetector[SlowQuery]
	slowThreshold time.Duration
	events        *eventRegistry
	inst          *instruments
	tracer        trace.Tracer

	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	loops     errgroup.Group
	bg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

type poolStats struct {
	created            atomic.Int64
	destroyed          atomic.Int64
	validations        atomic.Int64
	validationFailures atomic.Int64
	timeouts           atomic.Int64
	createErrors       atomic.Int64
	scaleUps           atomic.Int64
	scaleDowns         atomic.Int64
	acquisitions       atomic.Int64
	releases           atomic.Int64
}

// New 创建连接池。
//
// 校验配置后并发创建 MinConnections 个连接（失败仅记录日志），并启动伸缩循环。
func New(factory Factory, opts ...Option) (*Pool, error) {
	if factory == nil {
		return nil, ErrNilFactory
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.config.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger.With(slog.String("pool", o.name))
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	p := &Pool{
		factory:     factory,
		name:        o.name,
		logger:      logger,
		records:     make(map[string]*connRecord),
		idle:        list.New(),
		notify:      make(chan struct{}),
		lastCountAt: now,
		tombstones:  newTombstones(o.tombstoneSize, o.tombstoneTTL),
		tracer:      o.tracerProvider.Tracer(instrumentationName),
		startedAt:   now,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),

		slowThreshold: o.slowThreshold,
	}
	cfg := o.config
	p.cfg.Store(&cfg)

	if o.breakerFailures > 0 {
		p.breaker = newCreateBreaker(o.name, o.breakerFailures, o.breakerTimeout, logger)
	}

	var err error
	p.slow, err = storageopt.NewSlowQueryDetector(storageopt.SlowQueryOptions[SlowQuery]{
		Threshold: o.slowThreshold,
		SyncHook:  o.slowHook,
		AsyncHook: o.asyncSlowHook,
		Logger:    logger,
	})
	if err != nil {
		p.abort()
		return nil, fmt.Errorf("xdbpool: create slow query detector: %w", err)
	}
	p.events, err = newEventRegistry(o.eventQueueSize, logger)
	if err != nil {
		p.abort()
		return nil, err
	}
	p.inst, err = newInstruments(o.meterProvider, p)
	if err != nil {
		p.abort()
		return nil, err
	}

	if n := cfg.MinConnections; n > 0 {
		p.mu.Lock()
		p.creating += n
		p.mu.Unlock()
		if created, err := p.spawn(ctx, cfg, n); err != nil {
			logger.Warn("xdbpool: initial fill incomplete",
				slog.Int("created", created),
				slog.Int("want", n),
				slog.Any("error", err),
			)
		}
	}

	p.loops.Go(func() error {
		tickLoop(ctx, func() time.Duration { return p.Config().ScaleInterval }, func(ctx context.Context) {
			if _, err := p.ScalePool(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("xdbpool: scale cycle failed", slog.Any("error", err))
			}
		})
		return nil
	})

	logger.Info("xdbpool: pool started",
		slog.Int("min", cfg.MinConnections),
		slog.Int("max", cfg.MaxConnections),
	)
	return p, nil
}

// abort 释放 New 中途失败前已分配的资源。
func (p *Pool) abort() {
	p.cancel()
	p.tombstones.close()
	p.slow.Close()
	if p.events != nil {
		p.events.close()
	}
}

// Config 返回当前配置的副本。
func (p *Pool) Config() Config {
	return *p.cfg.Load()
}

// UpdateConfiguration 校验并原子替换配置。非法配置不生效。
//
// 已有连接不会立即按新容量裁剪：超出的连接由伸缩与清理循环逐步回收，
// MinConnections 提高后由下一次清理补足。
func (p *Pool) UpdateConfiguration(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPoolClosed
	}
	old := p.cfg.Swap(&cfg)
	p.mu.Lock()
	p.signalLocked()
	p.mu.Unlock()
	p.logger.Info("xdbpool: configuration updated",
		slog.Int("min", cfg.MinConnections),
		slog.Int("max", cfg.MaxConnections),
		slog.Int("old_min", old.MinConnections),
		slog.Int("old_max", old.MaxConnections),
	)
	return nil
}

// Closed 报告池是否已开始关闭。
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close 关闭连接池。幂等，重复调用返回首次关闭的结果。
//
// 进入关闭状态并发出 shutdown_initiated，停止伸缩循环，
// 并发关闭所有连接（包括仍被借出的），最后排空事件队列。
// 之后迟到的 Release 不会再次关闭底层连接。
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.close()
	})
	return p.closeErr
}

func (p *Pool) close() error {
	p.mu.Lock()
	p.closed = true
	recs := make([]*connRecord, 0, len(p.records))
	for _, rec := range p.records {
		recs = append(recs, rec)
	}
	p.emit(EventShutdownInitiated, "", map[string]any{"connections": len(recs)})
	for _, rec := range recs {
		p.detachLocked(rec)
	}
	p.idle.Init()
	close(p.done)
	p.mu.Unlock()

	p.logger.Info("xdbpool: shutting down", slog.Int("connections", len(recs)))

	p.cancel()
	_ = p.loops.Wait() //nolint:errcheck // 循环始终返回 nil

	var g errgroup.Group
	for _, rec := range recs {
		g.Go(func() error {
			return p.closeDetached(rec, ReasonShutdown)
		})
	}
	err := g.Wait()

	p.bg.Wait()
	p.inst.unregister()
	p.slow.Close()
	p.events.close()
	p.tombstones.close()

	if err != nil {
		return fmt.Errorf("xdbpool: close connections: %w", err)
	}
	return nil
}

// signalLocked 唤醒所有等待者。调用方须持有 mu。
func (p *Pool) signalLocked() {
	close(p.notify)
	p.notify = make(chan struct{})
}

// accountLocked 在连接数变化前累计时间积分。调用方须持有 mu。
func (p *Pool) accountLocked(now time.Time) {
	if now.After(p.lastCountAt) {
		p.connIntegral += float64(len(p.records)) * now.Sub(p.lastCountAt).Seconds()
		p.lastCountAt = now
	}
}

// pushIdleLocked 把记录放到空闲队列尾部。调用方须持有 mu。
func (p *Pool) pushIdleLocked(rec *connRecord) {
	rec.state = StateIdle
	rec.idleElem = p.idle.PushBack(rec)
}

// detachLocked 把记录移出映射与空闲队列并标记为销毁中。
// 调用方须持有 mu，并在锁外调用 closeDetached。
func (p *Pool) detachLocked(rec *connRecord) {
	p.accountLocked(time.Now())
	if rec.idleElem != nil {
		p.idle.Remove(rec.idleElem)
		rec.idleElem = nil
	}
	delete(p.records, rec.id)
	rec.state = StateDestroying
	p.destroying++
	p.tombstones.add(rec.id)
	p.signalLocked()
}

// closeDetached 关闭已移出映射的连接。
func (p *Pool) closeDetached(rec *connRecord, reason string) error {
	err := rec.conn.Close()

	p.mu.Lock()
	p.destroying--
	p.mu.Unlock()

	p.stats.destroyed.Add(1)
	p.inst.connectionDestroyed(reason)
	if err != nil {
		p.logger.Warn("xdbpool: close connection failed",
			slog.String("conn_id", rec.id),
			slog.String("reason", reason),
			slog.Any("error", err),
		)
	}
	p.emit(EventConnectionDestroyed, rec.id, map[string]any{"reason": reason})
	return err
}

// destroy 在记录仍属于池且处于 held 状态时移除并关闭它，返回是否执行了销毁。
func (p *Pool) destroy(rec *connRecord, held ConnState, reason string) bool {
	p.mu.Lock()
	if p.records[rec.id] != rec || rec.state != held {
		p.mu.Unlock()
		return false
	}
	p.detachLocked(rec)
	p.mu.Unlock()
	p.closeDetached(rec, reason) //nolint:errcheck // 关闭失败已记录日志
	return true
}

// goBackground 在池关闭前启动受跟踪的后台任务，Close 会等待其结束。
func (p *Pool) goBackground(fn func(ctx context.Context)) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.bg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.bg.Done()
		fn(p.ctx)
	}()
	return true
}

// disabledRecheck 是循环间隔为 0 时重新读取配置的周期。
const disabledRecheck = time.Second

// tickLoop 按 interval() 周期执行 fn，每次执行后重新读取间隔，
// 因此配置更新会在下一个周期生效。间隔为 0 时暂停执行。
func tickLoop(ctx context.Context, interval func() time.Duration, fn func(context.Context)) {
	effective := func(d time.Duration) time.Duration {
		if d <= 0 {
			return disabledRecheck
		}
		return d
	}

	current := interval()
	timer := time.NewTimer(effective(current))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if current > 0 {
			fn(ctx)
		}
		current = interval()
		timer.Reset(effective(current))
	}
}
