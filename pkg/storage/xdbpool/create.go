package xdbpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
)

var errNilConnection = errors.New("factory returned nil connection")

// newCreateBreaker 创建保护 Factory 的熔断器：连续 maxFailures 次失败后熔断。
func newCreateBreaker(name string, maxFailures uint32, timeout time.Duration, logger *slog.Logger) *gobreaker.CircuitBreaker[Connection] {
	return gobreaker.NewCircuitBreaker[Connection](gobreaker.Settings{
		Name:        "xdbpool.create." + name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("xdbpool: create breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
}

// dial 调用 Factory，启用熔断时经由熔断器。
func (p *Pool) dial(ctx context.Context) (Connection, error) {
	call := func() (Connection, error) {
		conn, err := p.factory(ctx)
		if err != nil {
			return nil, err
		}
		if conn == nil {
			return nil, errNilConnection
		}
		return conn, nil
	}
	if p.breaker == nil {
		return call()
	}
	return p.breaker.Execute(call)
}

// create 创建并登记一个连接。调用方须已通过 creating++ 预留名额。
//
// active 为 true 时连接直接以借出状态登记（Acquire 按需创建），
// 否则放入空闲队列并唤醒等待者。
func (p *Pool) create(ctx context.Context, cfg Config, active bool) (*connRecord, error) {
	cctx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
	defer cancel()

	start := time.Now()
	conn, err := p.dial(cctx)
	now := time.Now()

	p.mu.Lock()
	p.creating--
	if err != nil {
		p.signalLocked()
		p.mu.Unlock()

		p.stats.createErrors.Add(1)
		p.inst.createFailed()
		p.logger.Warn("xdbpool: create connection failed",
			slog.Duration("elapsed", now.Sub(start)),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: %w", ErrConnectionCreate, err)
	}
	if p.closed {
		p.signalLocked()
		p.mu.Unlock()
		if cerr := conn.Close(); cerr != nil {
			p.logger.Warn("xdbpool: close connection created during shutdown", slog.Any("error", cerr))
		}
		return nil, ErrPoolClosed
	}

	p.accountLocked(now)
	rec := newRecord(uuid.NewString(), conn, now)
	p.records[rec.id] = rec
	if active {
		rec.markActive(now)
	} else {
		p.pushIdleLocked(rec)
		p.signalLocked()
	}
	if n := len(p.records); n > p.peak {
		p.peak = n
	}
	p.mu.Unlock()

	p.stats.created.Add(1)
	p.inst.connectionCreated()
	p.logger.Debug("xdbpool: connection created",
		slog.String("conn_id", rec.id),
		slog.Duration("elapsed", now.Sub(start)),
	)
	p.emit(EventConnectionCreated, rec.id, map[string]any{"active": active})
	return rec, nil
}

// spawn 并发创建 n 个空闲连接，调用方须已预留 n 个名额。
// 返回成功数与第一个错误。
func (p *Pool) spawn(ctx context.Context, cfg Config, n int) (int, error) {
	var (
		g       errgroup.Group
		created atomic.Int64
	)
	for range n {
		g.Go(func() error {
			if _, err := p.create(ctx, cfg, false); err != nil {
				return err
			}
			created.Add(1)
			return nil
		})
	}
	err := g.Wait()
	return int(created.Load()), err
}

// reserveLocked 在容量内预留至多 n 个创建名额，返回实际预留数。
// 调用方须持有 mu。
func (p *Pool) reserveLocked(cfg Config, n int) int {
	headroom := cfg.MaxConnections - len(p.records) - p.creating
	n = min(n, headroom)
	if n <= 0 {
		return 0
	}
	p.creating += n
	return n
}

// Replenish 补足连接至 MinConnections，返回新建连接数。
func (p *Pool) Replenish(ctx context.Context) (int, error) {
	cfg := p.Config()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrPoolClosed
	}
	n := p.reserveLocked(cfg, cfg.MinConnections-len(p.records)-p.creating)
	p.mu.Unlock()
	if n == 0 {
		return 0, nil
	}
	created, err := p.spawn(ctx, cfg, n)
	if created > 0 {
		p.logger.Debug("xdbpool: replenished", slog.Int("created", created))
	}
	return created, err
}
