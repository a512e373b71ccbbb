package xdbpool

import (
	"context"
	"log/slog"
	"time"
)

// ScaleAction 伸缩动作。
type ScaleAction string

// 伸缩动作。
const (
	ScaleNone ScaleAction = "none"
	ScaleUp   ScaleAction = "scale_up"
	ScaleDown ScaleAction = "scale_down"
)

// ScaleDecision 是一次伸缩周期的结果。
type ScaleDecision struct {
	Action      ScaleAction
	Utilization float64
	// Before 是决策时的存活连接数（含创建中）。
	Before int
	// Requested 是计划创建或销毁的连接数。
	Requested int
	// Changed 是实际创建或销毁的连接数。
	Changed int
	// Reason 说明未执行动作的原因，如 "cooldown"、"at_max"。
	Reason string
}

// ScalePool 执行一次伸缩判断。伸缩循环按 ScaleInterval 调用它，也可手动调用。
//
// utilization = active / total。先判断扩容：高于 ScaleUpThreshold、未达上限且
// 已过冷却时并发创建 min(ConnectionIncrement, 剩余容量) 个连接；否则判断缩容：
// 低于 ScaleDownThreshold、高于下限且已过冷却时按最久未用顺序销毁至多
// ConnectionIncrement 个空闲连接，不会低于 MinConnections。每个周期至多一个动作。
func (p *Pool) ScalePool(ctx context.Context) (ScaleDecision, error) {
	p.scaleMu.Lock()
	defer p.scaleMu.Unlock()

	cfg := p.Config()
	now := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ScaleDecision{Action: ScaleNone}, ErrPoolClosed
	}

	total := len(p.records)
	active := 0
	for _, rec := range p.records {
		if rec.state == StateActive {
			active++
		}
	}
	live := total + p.creating
	d := ScaleDecision{Action: ScaleNone, Before: live}
	if total > 0 {
		d.Utilization = float64(active) / float64(total)
	}

	switch {
	case d.Utilization > cfg.ScaleUpThreshold:
		switch {
		case live >= cfg.MaxConnections:
			d.Reason = "at_max"
		case !p.lastScaleUp.IsZero() && now.Sub(p.lastScaleUp) < cfg.ScaleUpCooldown:
			d.Reason = "cooldown"
		default:
			d.Action = ScaleUp
			d.Requested = p.reserveLocked(cfg, cfg.ConnectionIncrement)
			p.lastScaleUp = now
		}
	case d.Utilization < cfg.ScaleDownThreshold:
		switch {
		case live <= cfg.MinConnections:
			d.Reason = "at_min"
		case !p.lastScaleDown.IsZero() && now.Sub(p.lastScaleDown) < cfg.ScaleDownCooldown:
			d.Reason = "cooldown"
		default:
			d.Action = ScaleDown
			p.lastScaleDown = now
		}
	default:
		d.Reason = "within_thresholds"
	}

	var victims []*connRecord
	if d.Action == ScaleDown {
		limit := min(cfg.ConnectionIncrement, live-cfg.MinConnections)
		for e := p.idle.Front(); e != nil && len(victims) < limit; {
			next := e.Next()
			rec := e.Value.(*connRecord) //nolint:errcheck // 空闲队列只存放 *connRecord
			p.detachLocked(rec)
			victims = append(victims, rec)
			e = next
		}
		d.Requested = len(victims)
	}
	p.mu.Unlock()

	var err error
	switch d.Action {
	case ScaleUp:
		d.Changed, err = p.spawn(ctx, cfg, d.Requested)
		p.stats.scaleUps.Add(1)
	case ScaleDown:
		for _, rec := range victims {
			p.closeDetached(rec, ReasonScaleDown) //nolint:errcheck // 关闭失败已记录日志
		}
		d.Changed = len(victims)
		p.stats.scaleDowns.Add(1)
	default:
		return d, nil
	}

	p.inst.scaled(d.Action)
	p.logger.Info("xdbpool: scaled",
		slog.String("action", string(d.Action)),
		slog.Float64("utilization", d.Utilization),
		slog.Int("before", d.Before),
		slog.Int("changed", d.Changed),
	)
	return d, err
}
