package xdbpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/omeyang/xdbkit/internal/storageopt"
)

// acquireStep 是一次加锁扫描的结果。
type acquireStep struct {
	rec     *connRecord   // 选中的连接；TestOnBorrow 时处于 StateChecked
	expired []*connRecord // 已移出映射、待关闭的过期连接
	create  bool          // 已预留一个创建名额
	notify  <-chan struct{}
}

// Acquire 借出一个连接。
//
// 依次：按最久未用顺序扫描空闲连接（过期的销毁跳过，不健康或无效的跳过，
// TestOnBorrow 时先探测）；无可用且未达上限时新建；否则等待归还通知或按
// AcquirePollInterval 轮询，直到 AcquireTimeout（返回 ErrAcquireTimeout）
// 或 ctx 取消（返回 ctx 错误）。超时后不会自动重试。
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	cfg := p.Config()

	rec, err := p.acquire(ctx, cfg, start.Add(cfg.AcquireTimeout))

	waited := time.Since(start)
	p.wait.Add(waited)
	p.inst.acquireObserved(waited, err)
	if err != nil {
		return nil, err
	}
	p.stats.acquisitions.Add(1)
	return &Conn{id: rec.id, conn: rec.conn, pool: p}, nil
}

func (p *Pool) acquire(ctx context.Context, cfg Config, deadline time.Time) (*connRecord, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	ticker := time.NewTicker(cfg.AcquirePollInterval)
	defer ticker.Stop()

	for {
		step, err := p.scan(cfg)
		for _, rec := range step.expired {
			p.closeDetached(rec, ReasonExpired) //nolint:errcheck // 关闭失败已记录日志
		}
		if err != nil {
			return nil, err
		}

		switch {
		case step.rec != nil:
			if !cfg.TestOnBorrow || p.borrowCheck(ctx, cfg, step.rec) {
				return step.rec, nil
			}
			continue
		case step.create:
			return p.create(ctx, cfg, true)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.done:
			return nil, ErrPoolClosed
		case <-timer.C:
			p.stats.timeouts.Add(1)
			return nil, ErrAcquireTimeout
		case <-step.notify:
		case <-ticker.C:
		}
	}
}

// scan 在锁内完成一次空闲扫描，必要时预留创建名额。
func (p *Pool) scan(cfg Config) (acquireStep, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var step acquireStep
	if p.closed {
		return step, ErrPoolClosed
	}

	now := time.Now()
	for e := p.idle.Front(); e != nil; {
		next := e.Next()
		rec := e.Value.(*connRecord) //nolint:errcheck // 空闲队列只存放 *connRecord
		switch {
		case rec.lifetimeExceeded(cfg, now) || rec.idleExceeded(cfg, now):
			p.detachLocked(rec)
			step.expired = append(step.expired, rec)
		case !rec.usable():
		default:
			p.idle.Remove(e)
			rec.idleElem = nil
			if cfg.TestOnBorrow {
				rec.state = StateChecked
			} else {
				rec.markActive(now)
			}
			step.rec = rec
			return step, nil
		}
		e = next
	}

	if p.reserveLocked(cfg, 1) == 1 {
		step.create = true
		return step, nil
	}
	step.notify = p.notify
	return step, nil
}

// borrowCheck 探测借出前的连接，失败时销毁并返回 false。
func (p *Pool) borrowCheck(ctx context.Context, cfg Config, rec *connRecord) bool {
	err := p.probe(ctx, cfg, rec.conn)
	now := time.Now()

	p.mu.Lock()
	if p.records[rec.id] != rec {
		// 探测期间池已关闭
		p.mu.Unlock()
		return false
	}
	p.applyProbeLocked(rec, err, cfg, now)
	if err == nil {
		rec.markActive(now)
		p.mu.Unlock()
		return true
	}
	p.detachLocked(rec)
	p.mu.Unlock()

	p.logger.Debug("xdbpool: borrow validation failed",
		slog.String("conn_id", rec.id),
		slog.Any("error", err),
	)
	p.closeDetached(rec, ReasonValidationFailed) //nolint:errcheck // 关闭失败已记录日志
	return false
}

// Release 归还连接。
//
// 正常情况下连接回到空闲队列尾部并唤醒等待者；超过 MaxLifetime 的连接直接销毁。
// 不在池中的连接会被防御性关闭并返回 ErrUnknownConnection，除非它刚被池关闭过
// （例如 Close 之后归还），此时不会重复关闭。重复归还同一句柄是空操作。
func (p *Pool) Release(c *Conn) error {
	if c == nil || c.pool != p {
		return ErrUnknownConnection
	}
	if !c.released.CompareAndSwap(false, true) {
		return nil
	}
	cfg := p.Config()
	now := time.Now()

	p.mu.Lock()
	rec, ok := p.records[c.id]
	if !ok {
		p.mu.Unlock()
		return p.releaseUnknown(c)
	}
	if rec.state != StateActive {
		p.mu.Unlock()
		p.logger.Error("xdbpool: released connection is not active",
			slog.String("conn_id", c.id),
			slog.String("state", rec.state.String()),
		)
		return ErrUnknownConnection
	}
	p.stats.releases.Add(1)

	if rec.lifetimeExceeded(cfg, now) {
		p.detachLocked(rec)
		p.mu.Unlock()
		p.closeDetached(rec, ReasonMaxLifetime) //nolint:errcheck // 关闭失败已记录日志
		return nil
	}

	rec.lastUsed = now
	p.pushIdleLocked(rec)
	p.signalLocked()
	p.mu.Unlock()

	if cfg.TestOnReturn {
		p.goBackground(func(ctx context.Context) {
			p.returnCheck(ctx, cfg, rec.id)
		})
	}
	return nil
}

// releaseUnknown 处理不在映射中的连接：刚被池关闭的直接忽略，否则防御性关闭。
func (p *Pool) releaseUnknown(c *Conn) error {
	if p.tombstones.contains(c.id) {
		return nil
	}
	p.logger.Warn("xdbpool: releasing unknown connection", slog.String("conn_id", c.id))
	if err := c.conn.Close(); err != nil {
		p.logger.Warn("xdbpool: close unknown connection failed", slog.Any("error", err))
	}
	p.stats.destroyed.Add(1)
	p.emit(EventConnectionDestroyed, c.id, map[string]any{"reason": ReasonUnknown})
	return ErrUnknownConnection
}

// returnCheck 归还后的尽力探测：仅在连接仍空闲时取出探测。
// 归还本身不会撤销，探测失败的连接以 validation_failed 原因销毁。
func (p *Pool) returnCheck(ctx context.Context, cfg Config, id string) {
	rec, ok := p.checkoutIdle(id)
	if !ok {
		return
	}
	err := p.probe(ctx, cfg, rec.conn)
	if _, ok := p.recordProbe(rec, err, cfg); !ok {
		return
	}
	if err == nil {
		p.checkin(rec, StateChecked)
		return
	}
	p.logger.Debug("xdbpool: return validation failed",
		slog.String("conn_id", id),
		slog.Any("error", err),
	)
	p.destroy(rec, StateChecked, ReasonValidationFailed)
}

// SlowQuery 慢查询信息。
type SlowQuery struct {
	ConnID      string
	Query       string
	Fingerprint uint64
	Params      int
	Duration    time.Duration
	Err         error
}

// Execute 借出连接执行查询并保证归还。
//
// Result.Success=false 与连接返回的错误都包装为 ErrQueryFailed；
// opts.Timeout > 0 时作为本次执行的超时。
func (p *Pool) Execute(ctx context.Context, query string, params []any, opts ExecOptions) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := p.startSpan(ctx, query)

	c, err := p.Acquire(ctx)
	if err != nil {
		endSpan(span, err)
		return Result{}, err
	}
	defer func() {
		if rerr := p.Release(c); rerr != nil && !errors.Is(rerr, ErrUnknownConnection) {
			p.logger.Warn("xdbpool: release failed", slog.Any("error", rerr))
		}
	}()

	res, err := p.execOn(ctx, c, query, params, opts)
	endSpan(span, err)
	return res, err
}

// ExecuteAs 执行查询并把 Result.Data 断言为 T。Data 为 nil 时返回零值。
func ExecuteAs[T any](ctx context.Context, p *Pool, query string, params []any, opts ExecOptions) (T, error) {
	var zero T
	res, err := p.Execute(ctx, query, params, opts)
	if err != nil {
		return zero, err
	}
	if res.Data == nil {
		return zero, nil
	}
	v, ok := res.Data.(T)
	if !ok {
		return zero, fmt.Errorf("%w: result data is %T, want %T", ErrQueryFailed, res.Data, zero)
	}
	return v, nil
}

// execOn 在借出的连接上执行并记录统计。
func (p *Pool) execOn(ctx context.Context, c *Conn, query string, params []any, opts ExecOptions) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := c.conn.Execute(ctx, query, params, opts)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		err = fmt.Errorf("%w: %w", ErrQueryFailed, err)
	case !res.Success:
		err = resultError(res)
	}

	p.queries.Observe(elapsed, err != nil)
	p.inst.queryObserved(elapsed, err)
	if err != nil {
		p.noteQueryError(c.id)
	}
	if p.slowThreshold > 0 && elapsed >= p.slowThreshold {
		p.slow.MaybeSlowQuery(ctx, SlowQuery{
			ConnID:      c.id,
			Query:       query,
			Fingerprint: storageopt.Fingerprint(query),
			Params:      len(params),
			Duration:    elapsed,
			Err:         err,
		}, elapsed)
	}
	return res, err
}

func (p *Pool) noteQueryError(id string) {
	p.mu.Lock()
	if rec, ok := p.records[id]; ok {
		rec.errorCount++
	}
	p.mu.Unlock()
}
