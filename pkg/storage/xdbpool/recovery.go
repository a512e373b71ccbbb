package xdbpool

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/avast/retry-go/v5"
)

// recoveryDelay 返回第 n 次（从 1 开始）失败后的等待时间：
// RecoveryDelay × BackoffMultiplier^(n-1)，不超过 MaxRecoveryDelay（为 0 时不封顶）。
func recoveryDelay(cfg Config, n uint) time.Duration {
	if n == 0 {
		n = 1
	}
	d := float64(cfg.RecoveryDelay) * math.Pow(cfg.BackoffMultiplier, float64(n-1))
	if cfg.MaxRecoveryDelay > 0 && d > float64(cfg.MaxRecoveryDelay) {
		return cfg.MaxRecoveryDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// RecoverConnection 尝试恢复不健康的连接，返回是否恢复成功。
//
// 同一连接的并发调用共享一次恢复过程与结果。最多探测 RecoveryAttempts 次，
// 间隔按 recoveryDelay 指数退避。成功后连接重新标记为健康并放回空闲队列，
// 发出 connection_recovered；耗尽后以 recovery_failed 原因销毁。
// 借出中、正被其他任务探测或不存在的连接返回 false。
func (m *LifecycleManager) RecoverConnection(ctx context.Context, id string) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	v, _, _ := m.recoveries.Do(id, func() (any, error) {
		return m.recover(ctx, id), nil
	})
	ok, _ := v.(bool) //nolint:errcheck // recover 只返回 bool
	return ok
}

func (m *LifecycleManager) recover(ctx context.Context, id string) bool {
	p := m.pool
	rec, ok := p.holdForRecovery(id)
	if !ok {
		return false
	}
	cfg := p.Config()
	logger := m.logger.With(slog.String("conn_id", id))

	var (
		attempts int
		gone     bool
	)
	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(uint(cfg.RecoveryAttempts)), //nolint:gosec // Validate 保证为正
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, _ error, _ retry.DelayContext) time.Duration {
			return recoveryDelay(cfg, n)
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug("xdbpool: recovery attempt failed",
				slog.Uint64("attempt", uint64(n)+1),
				slog.Any("error", err),
			)
		}),
	).Do(func() error {
		attempts++
		perr := p.probe(ctx, cfg, rec.conn)
		if _, ok := p.recordProbe(rec, perr, cfg); !ok {
			gone = true
			return retry.Unrecoverable(ErrUnknownConnection)
		}
		return perr
	})

	switch {
	case err == nil:
		if !p.checkin(rec, StateRecovering) {
			return false
		}
		logger.Info("xdbpool: connection recovered", slog.Int("attempts", attempts))
		p.emit(EventConnectionRecovered, id, map[string]any{"attempts": attempts})
		return true
	case gone:
		// 恢复期间池已关闭
		return false
	case ctx.Err() != nil:
		// 调用方放弃，连接以不健康状态放回，由清理回收
		p.checkin(rec, StateRecovering)
		return false
	}

	if p.destroy(rec, StateRecovering, ReasonRecoveryFailed) {
		logger.Warn("xdbpool: connection destroyed",
			slog.Int("attempts", attempts),
			slog.Any("error", fmt.Errorf("%w: %w", ErrRecoveryExhausted, err)),
		)
	}
	return false
}
