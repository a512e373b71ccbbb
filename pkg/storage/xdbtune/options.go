package xdbtune

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/omeyang/xdbkit/pkg/storage/xdbpool"
)

// 默认值常量。
const (
	DefaultInterval       = 30 * time.Second
	DefaultWindow         = 10 * time.Minute
	DefaultSampleInterval = 5 * time.Second
	DefaultMinSamples     = 5
	DefaultAverageOver    = 10
	defaultHistorySize    = 64
	maxBufferedSamples    = 4096
)

// UpdateFunc 接收新配置；返回错误时新配置作废。
type UpdateFunc func(ctx context.Context, cfg xdbpool.Config) error

// Limits 约束策略产生的容量。手动 UpdateConfiguration 不受约束。
type Limits struct {
	MinConnectionsFloor   int
	MaxConnectionsFloor   int
	MaxConnectionsCeiling int
}

// Option 定义 Optimizer 可选配置函数类型。
type Option func(*options)

type options struct {
	clock          func() time.Time
	logger         *slog.Logger
	meterProvider  metric.MeterProvider
	onUpdate       UpdateFunc
	source         ConfigSource
	strategies     []Strategy
	limits         *Limits
	interval       time.Duration
	window         time.Duration
	sampleInterval time.Duration
	historySize    int
}

func defaultOptions() options {
	return options{
		clock:          time.Now,
		logger:         slog.Default(),
		meterProvider:  otel.GetMeterProvider(),
		strategies:     DefaultStrategies(),
		interval:       DefaultInterval,
		window:         DefaultWindow,
		sampleInterval: DefaultSampleInterval,
		historySize:    defaultHistorySize,
	}
}

// WithClock 设置时钟，测试中用于推进时间。传入 nil 将被忽略。
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger 设置自定义日志记录器。
// 默认使用 slog.Default()。传入 nil 将被忽略。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMeterProvider 设置 MeterProvider，默认 otel.GetMeterProvider()。
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *options) {
		if provider != nil {
			o.meterProvider = provider
		}
	}
}

// OnUpdate 设置配置变更回调，通常为 ApplyTo(pool)，或直接使用 Manage(pool)。
//
// 回调在 Optimizer 内部锁内同步执行，不得回调 Optimizer。
func OnUpdate(fn UpdateFunc) Option {
	return func(o *options) {
		o.onUpdate = fn
	}
}

// WithStrategies 替换策略集合，默认 DefaultStrategies()。
func WithStrategies(strategies ...Strategy) Option {
	return func(o *options) {
		o.strategies = strategies
	}
}

// WithLimits 设置容量边界。
//
// 默认下限为初始配置的 MinConnections、MaxConnections，
// 上限为初始 MaxConnections 的 2 倍。
func WithLimits(l Limits) Option {
	return func(o *options) {
		o.limits = &l
	}
}

// WithInterval 设置两次优化的最小间隔，默认 30s。
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.interval = d
		}
	}
}

// WithWindow 设置样本保留窗口，默认 10 分钟。
func WithWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.window = d
		}
	}
}

// WithSampleInterval 设置 Run 的采样间隔，默认 5s。
func WithSampleInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.sampleInterval = d
		}
	}
}

// WithHistorySize 设置 Decisions 保留条数，默认 64。
func WithHistorySize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.historySize = n
		}
	}
}

// WithConfigSource 设置当前配置的来源，通常与 ApplyTo 传入同一个池。
//
// 未设置时 Optimizer 以自己最近一次下发的配置为基准，
// 会覆盖其他写入方（例如配置热加载）对补丁之外字段的修改。
func WithConfigSource(src ConfigSource) Option {
	return func(o *options) {
		o.source = src
	}
}

// Manage 让 Optimizer 以 pool 的当前配置为基准，并把新配置写回 pool。
// 等价于同时使用 WithConfigSource(pool) 与 OnUpdate(ApplyTo(pool))。
func Manage(pool *xdbpool.Pool) Option {
	return func(o *options) {
		o.source = pool
		o.onUpdate = ApplyTo(pool)
	}
}

// ApplyTo 返回把配置写入 pool 的 UpdateFunc。
func ApplyTo(pool *xdbpool.Pool) UpdateFunc {
	return func(_ context.Context, cfg xdbpool.Config) error {
		return pool.UpdateConfiguration(cfg)
	}
}
