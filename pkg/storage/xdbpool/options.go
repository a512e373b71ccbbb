package xdbpool

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/xdbkit/internal/storageopt"
)

// 默认值常量。
const (
	defaultEventQueueSize = 1024
	defaultTombstoneSize  = 4096
	defaultTombstoneTTL   = 10 * time.Minute
	defaultBreakerTimeout = 5 * time.Second
)

// Option 定义 Pool 可选配置函数类型。
type Option func(*options)

type options struct {
	config         Config
	name           string
	logger         *slog.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	breakerFailures uint32
	breakerTimeout  time.Duration

	slowThreshold time.Duration
	slowHook      storageopt.SlowQueryHook[SlowQuery]
	asyncSlowHook storageopt.AsyncSlowQueryHook[SlowQuery]

	eventQueueSize int
	tombstoneSize  int
	tombstoneTTL   time.Duration
}

func defaultOptions() options {
	return options{
		config:         DefaultConfig(),
		name:           "default",
		logger:         slog.Default(),
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
		breakerTimeout: defaultBreakerTimeout,
		eventQueueSize: defaultEventQueueSize,
		tombstoneSize:  defaultTombstoneSize,
		tombstoneTTL:   defaultTombstoneTTL,
	}
}

// WithConfig 设置初始配置，默认 DefaultConfig()。
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithName 设置池名称，用于日志与指标属性。
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
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

// WithTracerProvider 设置 TracerProvider，默认 otel.GetTracerProvider()。
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(o *options) {
		if provider != nil {
			o.tracerProvider = provider
		}
	}
}

// WithCreateBreaker 为 Factory 启用熔断：连续 maxFailures 次创建失败后熔断，
// openTimeout 后进入半开状态试探。熔断期间创建立即失败，
// 返回包装了 gobreaker.ErrOpenState 的 ErrConnectionCreate。
// maxFailures 为 0 时禁用（默认）。
func WithCreateBreaker(maxFailures uint32, openTimeout time.Duration) Option {
	return func(o *options) {
		o.breakerFailures = maxFailures
		if openTimeout > 0 {
			o.breakerTimeout = openTimeout
		}
	}
}

// WithSlowQueryThreshold 设置慢查询阈值，0 禁用（默认）。
func WithSlowQueryThreshold(d time.Duration) Option {
	return func(o *options) {
		o.slowThreshold = d
	}
}

// WithSlowQueryHook 设置慢查询同步钩子，在 Execute 路径上同步执行。
func WithSlowQueryHook(hook func(ctx context.Context, info SlowQuery)) Option {
	return func(o *options) {
		o.slowHook = hook
	}
}

// WithAsyncSlowQueryHook 设置慢查询异步钩子。
func WithAsyncSlowQueryHook(hook func(info SlowQuery)) Option {
	return func(o *options) {
		o.asyncSlowHook = hook
	}
}

// WithEventQueueSize 设置生命周期事件队列容量，默认 1024。
// 队列满时事件被丢弃并记录告警。
func WithEventQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.eventQueueSize = n
		}
	}
}

// WithTombstones 设置已销毁连接 ID 的记忆容量与时长。
// 在此期间归还已被池关闭的连接不会再次关闭底层连接。
func WithTombstones(size int, ttl time.Duration) Option {
	return func(o *options) {
		if size > 0 {
			o.tombstoneSize = size
		}
		if ttl > 0 {
			o.tombstoneTTL = ttl
		}
	}
}
