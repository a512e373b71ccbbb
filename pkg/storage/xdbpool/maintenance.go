package xdbpool

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/omeyang/xdbkit/internal/storageopt"
)

// 本文件是 Pool 暴露给维护任务（生命周期管理器、归还探测）的记录操作。
// 记录的所有状态变化都在 mu 内完成，维护任务本身不持有记录副本。

// probe 用 ValidationQuery 探测连接，带 ValidationTimeout。
func (p *Pool) probe(ctx context.Context, cfg Config, conn Connection) error {
	pctx, cancel := storageopt.ProbeContext(ctx, cfg.ValidationTimeout)
	defer cancel()

	p.stats.validations.Add(1)
	res, err := conn.Execute(pctx, cfg.ValidationQuery, nil, ExecOptions{Timeout: cfg.ValidationTimeout})
	if err == nil && !res.Success {
		err = resultError(res)
	}
	if err != nil {
		p.stats.validationFailures.Add(1)
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	return nil
}

// probeOutcome 是一次探测对记录的影响。
type probeOutcome struct {
	failures int
	// crossed 表示本次失败恰好达到 MaxValidationFailures。
	crossed bool
}

// applyProbeLocked 把探测结果写入记录。调用方须持有 mu。
func (p *Pool) applyProbeLocked(rec *connRecord, err error, cfg Config, now time.Time) probeOutcome {
	if err == nil {
		rec.consecutiveFailures = 0
		rec.healthy = true
		rec.valid = true
		rec.reported = false
		rec.lastValidated = now
		return probeOutcome{}
	}
	rec.consecutiveFailures++
	rec.errorCount++
	rec.valid = false
	if rec.consecutiveFailures >= cfg.MaxValidationFailures {
		rec.healthy = false
	}
	return probeOutcome{
		failures: rec.consecutiveFailures,
		crossed:  rec.consecutiveFailures == cfg.MaxValidationFailures,
	}
}

// idleIDs 返回当前空闲连接 ID，按最久未用排序。
func (p *Pool) idleIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, p.idle.Len())
	for e := p.idle.Front(); e != nil; e = e.Next() {
		ids = append(ids, e.Value.(*connRecord).id) //nolint:errcheck // 空闲队列只存放 *connRecord
	}
	return ids
}

// checkoutIdle 把空闲连接转为维护持有状态，使其对获取方不可见。
func (p *Pool) checkoutIdle(id string) (*connRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[id]
	if !ok || rec.state != StateIdle {
		return nil, false
	}
	p.idle.Remove(rec.idleElem)
	rec.idleElem = nil
	rec.state = StateChecked
	return rec, true
}

// checkin 把维护持有的连接放回空闲队列。记录已被移除或不再处于 held 状态时返回 false。
//
// 放回队尾而不改变 lastUsed，维护任务不算作使用。
func (p *Pool) checkin(rec *connRecord, held ConnState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.records[rec.id] != rec || rec.state != held {
		return false
	}
	p.pushIdleLocked(rec)
	p.signalLocked()
	return true
}

// recordProbe 在锁内写入探测结果。记录已被移除时 ok 为 false。
func (p *Pool) recordProbe(rec *connRecord, err error, cfg Config) (out probeOutcome, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.records[rec.id] != rec {
		return probeOutcome{}, false
	}
	return p.applyProbeLocked(rec, err, cfg, time.Now()), true
}

// lookup 返回记录与其当前状态。
func (p *Pool) lookup(id string) (*connRecord, ConnState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[id]
	if !ok {
		return nil, 0, false
	}
	return rec, rec.state, true
}

// handoffRecovery 把验证持有的连接转交给恢复任务。
func (p *Pool) handoffRecovery(rec *connRecord) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.records[rec.id] != rec || rec.state != StateChecked {
		return false
	}
	rec.state = StateRecovering
	return true
}

// holdForRecovery 让连接进入恢复持有状态。
// 空闲连接被取出；已转交给恢复的连接原样返回。借出中的连接，
// 以及被借出探测、归还探测或空闲验证持有的连接都不可恢复。
func (p *Pool) holdForRecovery(id string) (*connRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[id]
	if !ok {
		return nil, false
	}
	switch rec.state {
	case StateIdle:
		p.idle.Remove(rec.idleElem)
		rec.idleElem = nil
		rec.state = StateRecovering
		return rec, true
	case StateRecovering:
		return rec, true
	default:
		return nil, false
	}
}

// removalReason 判断清理时的移除原因，空字符串表示保留。
func removalReason(rec *connRecord, cfg Config, now time.Time) string {
	switch {
	case rec.lifetimeExceeded(cfg, now):
		return ReasonMaxLifetime
	case !rec.healthy && rec.consecutiveFailures >= cfg.MaxValidationFailures:
		return ReasonUnhealthy
	case rec.idleExceeded(cfg, now):
		return ReasonIdleTimeout
	default:
		return ""
	}
}

// CleanupResult 是一次清理的结果。
type CleanupResult struct {
	IdleRemoved      int
	ExpiredRemoved   int
	UnhealthyRemoved int
	Replenished      int
}

// Total 返回移除总数。
func (r CleanupResult) Total() int {
	return r.IdleRemoved + r.ExpiredRemoved + r.UnhealthyRemoved
}

// collectRemovals 在锁内挑选待清理的空闲连接并移出映射，至多 CleanupBatchSize 个。
// 空闲超时的移除只在存活连接数高于 MinConnections 时进行。
func (p *Pool) collectRemovals(cfg Config, now time.Time) ([]*connRecord, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		recs    []*connRecord
		reasons []string
	)
	live := len(p.records) + p.creating
	for e := p.idle.Front(); e != nil && len(recs) < cfg.CleanupBatchSize; {
		next := e.Next()
		rec := e.Value.(*connRecord) //nolint:errcheck // 空闲队列只存放 *connRecord
		reason := removalReason(rec, cfg, now)
		if reason == ReasonIdleTimeout && live <= cfg.MinConnections {
			reason = ""
		}
		if reason != "" {
			p.detachLocked(rec)
			live--
			recs = append(recs, rec)
			reasons = append(reasons, reason)
		}
		e = next
	}
	return recs, reasons
}

// sweep 关闭 collectRemovals 挑出的连接并按原因计数，不补足连接。
func (p *Pool) sweep(cfg Config) CleanupResult {
	recs, reasons := p.collectRemovals(cfg, time.Now())

	var res CleanupResult
	for i, rec := range recs {
		p.closeDetached(rec, reasons[i]) //nolint:errcheck // 关闭失败已记录日志
		switch reasons[i] {
		case ReasonIdleTimeout:
			res.IdleRemoved++
		case ReasonMaxLifetime:
			res.ExpiredRemoved++
		case ReasonUnhealthy:
			res.UnhealthyRemoved++
		}
	}
	return res
}

// cleanup 移除过期、空闲超时或不健康的空闲连接，然后补足到 MinConnections。
func (p *Pool) cleanup(ctx context.Context) (CleanupResult, error) {
	res := p.sweep(p.Config())
	n, err := p.Replenish(ctx)
	res.Replenished = n
	return res, err
}

// healthScan 统计连接健康状况。
// 失败次数达到阈值且本轮失败周期内未上报过的连接被标记为已上报并返回。
func (p *Pool) healthScan(cfg Config, now time.Time) (HealthReport, []ConnectionInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := HealthReport{Time: now, Total: len(p.records)}
	var (
		failing  []ConnectionInfo
		totalAge time.Duration
	)
	for _, rec := range p.records {
		age := now.Sub(rec.created)
		totalAge += age
		r.MaxAge = max(r.MaxAge, age)
		if rec.healthy {
			r.Healthy++
		} else {
			r.Unhealthy++
		}
		if rec.consecutiveFailures >= cfg.MaxValidationFailures {
			r.Failing = append(r.Failing, rec.id)
			if !rec.reported {
				rec.reported = true
				failing = append(failing, rec.info(now))
			}
		}
	}
	if r.Total > 0 {
		r.AverageAge = totalAge / time.Duration(r.Total)
	}
	slices.Sort(r.Failing)
	return r, failing
}
