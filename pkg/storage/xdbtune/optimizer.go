package xdbtune

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/omeyang/xdbkit/pkg/storage/xdbpool"
)

// Outcome 是一次 RecordMetrics 或手动更新的结果。
type Outcome string

// 结果取值。
const (
	// OutcomeCollecting 表示样本不足，未评估。
	OutcomeCollecting Outcome = "collecting"
	// OutcomeWaiting 表示距上次优化未满间隔，未评估。
	OutcomeWaiting Outcome = "waiting"
	// OutcomeNoMatch 表示没有策略触发。
	OutcomeNoMatch Outcome = "no_match"
	// OutcomeUnchanged 表示策略触发但配置未变化（通常受 Limits 约束）。
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeApplied 表示新配置已生效。
	OutcomeApplied Outcome = "applied"
	// OutcomeRejected 表示新配置校验失败或被回调拒绝，原配置保持不变。
	OutcomeRejected Outcome = "rejected"
	// OutcomeManual 表示手动覆盖已生效。
	OutcomeManual Outcome = "manual"
)

// Decision 记录一次评估。
type Decision struct {
	Time       time.Time
	Outcome    Outcome
	Strategies []string
	Averages   Averages
	Patch      Patch
	Before     xdbpool.Config
	After      xdbpool.Config
	Error      string
}

// Applied 报告配置是否发生了变更。
func (d Decision) Applied() bool {
	return d.Outcome == OutcomeApplied || d.Outcome == OutcomeManual
}

// MetricsSource 提供池指标，*xdbpool.Pool 满足该接口。
type MetricsSource interface {
	Metrics() xdbpool.Metrics
}

// ConfigSource 提供当前生效的池配置，*xdbpool.Pool 满足该接口。
type ConfigSource interface {
	Config() xdbpool.Config
}

// Optimizer 根据负载样本调整连接池配置。
//
// 只保存滚动样本窗口与最近一次生效的配置；策略本身无状态。
// 设置了 WithConfigSource 时，每次评估前以来源的当前配置为基准，
// 补丁之外的字段保持其他写入方的修改。所有方法并发安全。
type Optimizer struct {
	opts       options
	strategies []Strategy
	limits     Limits

	mu            sync.Mutex
	cfg           xdbpool.Config
	samples       []Sample
	lastOptimized time.Time
	history       []Decision

	decisions metric.Int64Counter
}

// New 创建 Optimizer。initial 非法时返回包装了 xdbpool.ErrInvalidConfig 的错误。
func New(initial xdbpool.Config, opts ...Option) (*Optimizer, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	limits := Limits{
		MinConnectionsFloor:   initial.MinConnections,
		MaxConnectionsFloor:   initial.MaxConnections,
		MaxConnectionsCeiling: initial.MaxConnections * 2,
	}
	if o.limits != nil {
		limits = *o.limits
	}
	if limits.MaxConnectionsCeiling < limits.MaxConnectionsFloor || limits.MinConnectionsFloor < 0 {
		return nil, fmt.Errorf("%w: limits floor above ceiling", xdbpool.ErrInvalidConfig)
	}

	decisions, err := o.meterProvider.Meter("github.com/omeyang/xdbkit/pkg/storage/xdbtune").
		Int64Counter("xdbtune.decisions",
			metric.WithDescription("Optimizer evaluations by outcome"),
			metric.WithUnit("{decision}"),
		)
	if err != nil {
		return nil, fmt.Errorf("xdbtune: create instrument: %w", err)
	}

	return &Optimizer{
		opts:          o,
		strategies:    ordered(o.strategies),
		limits:        limits,
		cfg:           initial,
		lastOptimized: o.clock(),
		decisions:     decisions,
	}, nil
}

// RecordMetrics 记录一个样本，并在条件满足时执行一次优化。
//
// 距上次优化至少 Interval 且缓冲样本不少于 5 个时，取最近 10 个样本的均值
// 评估全部策略，按顺序合并补丁（后者覆盖前者）后校验并通过 OnUpdate 下发。
// 校验失败或回调出错时返回错误，配置保持不变。
func (o *Optimizer) RecordMetrics(ctx context.Context, s Sample) (Decision, error) {
	if err := s.validate(); err != nil {
		return Decision{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.opts.clock()
	if s.Time.IsZero() {
		s.Time = now
	}
	o.samples = append(o.samples, s)
	o.trimLocked(now)
	o.syncLocked()

	d := Decision{Time: now, Before: o.cfg, After: o.cfg}
	if len(o.samples) < DefaultMinSamples {
		d.Outcome = OutcomeCollecting
		return d, nil
	}
	if now.Sub(o.lastOptimized) < o.opts.interval {
		d.Outcome = OutcomeWaiting
		return d, nil
	}
	o.lastOptimized = now

	d.Averages = average(o.samples[max(len(o.samples)-DefaultAverageOver, 0):])
	for _, st := range o.strategies {
		if !st.Matches(d.Averages) {
			continue
		}
		d.Strategies = append(d.Strategies, st.Name)
		d.Patch = d.Patch.Merge(st.Apply(d.Averages, o.cfg))
	}

	var err error
	switch {
	case len(d.Strategies) == 0:
		d.Outcome = OutcomeNoMatch
	default:
		err = o.commitLocked(ctx, &d, o.clamp(d.Patch.Apply(o.cfg), d.Patch), OutcomeApplied)
	}
	o.recordLocked(ctx, d)
	return d, err
}

// UpdateConfiguration 手动覆盖配置，不受 Limits 约束。
//
// 结果不满足 min <= max 等校验时返回包装了 xdbpool.ErrInvalidConfig 的错误。
func (o *Optimizer) UpdateConfiguration(ctx context.Context, p Patch) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.syncLocked()

	d := Decision{
		Time:   o.opts.clock(),
		Patch:  p,
		Before: o.cfg,
		After:  o.cfg,
	}
	err := o.commitLocked(ctx, &d, p.Apply(o.cfg), OutcomeManual)
	o.recordLocked(ctx, d)
	return err
}

func (o *Optimizer) commitLocked(ctx context.Context, d *Decision, next xdbpool.Config, outcome Outcome) error {
	if next == o.cfg {
		d.Outcome = OutcomeUnchanged
		return nil
	}
	reject := func(err error) error {
		d.Outcome = OutcomeRejected
		d.Error = err.Error()
		o.opts.logger.Warn("xdbtune: configuration rejected",
			slog.Any("fields", d.Patch.Fields()),
			slog.Any("error", err),
		)
		return err
	}
	if err := next.Validate(); err != nil {
		return reject(err)
	}
	if o.opts.onUpdate != nil {
		if err := o.opts.onUpdate(ctx, next); err != nil {
			return reject(fmt.Errorf("%w: %w", ErrUpdateRejected, err))
		}
	}

	o.cfg = next
	d.After = next
	d.Outcome = outcome
	o.opts.logger.Info("xdbtune: configuration updated",
		slog.String("outcome", string(outcome)),
		slog.Any("strategies", d.Strategies),
		slog.Any("fields", d.Patch.Fields()),
		slog.Int("min", next.MinConnections),
		slog.Int("max", next.MaxConnections),
	)
	return nil
}

// syncLocked 从配置来源刷新基准配置。来源的配置非法时沿用缓存。
func (o *Optimizer) syncLocked() {
	if o.opts.source == nil {
		return
	}
	live := o.opts.source.Config()
	if err := live.Validate(); err != nil {
		o.opts.logger.Warn("xdbtune: ignoring invalid live configuration", slog.Any("error", err))
		return
	}
	o.cfg = live
}

// clamp 仅约束补丁涉及的容量字段。
func (o *Optimizer) clamp(cfg xdbpool.Config, p Patch) xdbpool.Config {
	if p.MaxConnections != nil {
		cfg.MaxConnections = min(max(cfg.MaxConnections, o.limits.MaxConnectionsFloor), o.limits.MaxConnectionsCeiling)
	}
	if p.MinConnections != nil {
		cfg.MinConnections = max(cfg.MinConnections, o.limits.MinConnectionsFloor)
	}
	if p.MinConnections != nil || p.MaxConnections != nil {
		cfg.MinConnections = min(cfg.MinConnections, cfg.MaxConnections)
	}
	return cfg
}

func (o *Optimizer) trimLocked(now time.Time) {
	cutoff := now.Add(-o.opts.window)
	o.samples = slices.DeleteFunc(o.samples, func(s Sample) bool {
		return s.Time.Before(cutoff)
	})
	if extra := len(o.samples) - maxBufferedSamples; extra > 0 {
		o.samples = slices.Delete(o.samples, 0, extra)
	}
}

func (o *Optimizer) recordLocked(ctx context.Context, d Decision) {
	o.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(d.Outcome))))
	o.history = append(o.history, d)
	if extra := len(o.history) - o.opts.historySize; extra > 0 {
		o.history = slices.Delete(o.history, 0, extra)
	}
}

// Configuration 返回最近一次生效的配置，设置了配置来源时返回来源的当前配置。
func (o *Optimizer) Configuration() xdbpool.Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.syncLocked()
	return o.cfg
}

// Decisions 返回最近的评估记录，旧的在前。
func (o *Optimizer) Decisions() []Decision {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.history)
}

// Samples 返回窗口内的样本副本。
func (o *Optimizer) Samples() []Sample {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.samples)
}

// Run 每个采样间隔读取一次 source 的指标并调用 RecordMetrics，直到 ctx 结束。
//
// 请求数、错误率与平均响应时间都按两次采样之间的增量计算。
// RecordMetrics 的错误只记录日志。
func (o *Optimizer) Run(ctx context.Context, source MetricsSource) error {
	if source == nil {
		return ErrNilSource
	}
	ticker := time.NewTicker(o.opts.sampleInterval)
	defer ticker.Stop()

	prev := source.Metrics()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cur := source.Metrics()
			if _, err := o.RecordMetrics(ctx, sampleBetween(prev, cur)); err != nil {
				o.opts.logger.Warn("xdbtune: record metrics failed", slog.Any("error", err))
			}
			prev = cur
		}
	}
}

// sampleBetween 把两次快照的差值转换为样本。计数器回退时按 0 处理，
// 区间内没有查询时平均响应时间为 0。
func sampleBetween(prev, cur xdbpool.Metrics) Sample {
	requests := max(cur.TotalQueries-prev.TotalQueries, 0)
	failed := max(cur.FailedQueries-prev.FailedQueries, 0)
	elapsed := max(cur.TotalQueryTime-prev.TotalQueryTime, 0)
	s := Sample{
		ActiveConnections: cur.Active,
		IdleConnections:   cur.Idle,
		TotalRequests:     requests,
	}
	if requests > 0 {
		s.ErrorRate = min(float64(failed)/float64(requests), 1)
		s.AverageResponseTime = elapsed / time.Duration(requests)
	}
	return s
}
