package storageopt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/omeyang/xdbkit/internal/eventbus"
)

// SlowQueryHook 慢查询同步回调钩子。
// 在请求路径上同步执行。
//
// 注意：任何耗时操作（如网络 IO、重日志）都会增加请求延迟。
// 如需避免阻塞，请使用 AsyncSlowQueryHook。
type SlowQueryHook[T any] func(ctx context.Context, info T)

// AsyncSlowQueryHook 慢查询异步回调钩子。
// 通过 eventbus 异步执行，不阻塞请求路径。
//
// 注意：此钩子不接收 context 参数，因为异步执行时原始 context 可能已取消。
type AsyncSlowQueryHook[T any] func(info T)

// SlowQueryOptions 慢查询检测配置。
type SlowQueryOptions[T any] struct {
	// Threshold 慢查询阈值。
	// 为 0 时禁用慢查询检测。
	Threshold time.Duration

	// SyncHook 同步回调钩子。
	SyncHook SlowQueryHook[T]

	// AsyncHook 异步回调钩子。
	// 当 AsyncHook 和 SyncHook 同时设置时，两者都会被调用。
	AsyncHook AsyncSlowQueryHook[T]

	// AsyncWorkers 异步 worker 数量，默认为 2。
	AsyncWorkers int

	// AsyncQueueSize 异步任务队列大小，默认为 1000。
	// 当队列满时，新任务将被丢弃。
	AsyncQueueSize int

	// Logger 日志记录器，默认 slog.Default()。
	Logger *slog.Logger
}

// 默认值常量。
const (
	DefaultAsyncWorkers   = 2
	DefaultAsyncQueueSize = 1000
)

// SlowQueryDetector 慢查询检测器。
// 封装了同步/异步钩子的调用逻辑。
type SlowQueryDetector[T any] struct {
	options SlowQueryOptions[T]
	bus     *eventbus.Bus[T]
	counter SlowQueryCounter
	mu      sync.RWMutex
	closed  bool
}

// NewSlowQueryDetector 创建慢查询检测器。
//
// 当 AsyncHook 不为 nil 时，会立即创建 eventbus；参数非法时返回错误。
func NewSlowQueryDetector[T any](opts SlowQueryOptions[T]) (*SlowQueryDetector[T], error) {
	if opts.AsyncWorkers <= 0 {
		opts.AsyncWorkers = DefaultAsyncWorkers
	}
	if opts.AsyncQueueSize <= 0 {
		opts.AsyncQueueSize = DefaultAsyncQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	d := &SlowQueryDetector[T]{
		options: opts,
	}

	if opts.AsyncHook != nil {
		bus, err := eventbus.New(
			func(info T) { opts.AsyncHook(info) },
			eventbus.WithWorkers(opts.AsyncWorkers),
			eventbus.WithQueueSize(opts.AsyncQueueSize),
			eventbus.WithLogger(opts.Logger),
			eventbus.WithName("slow_query"),
		)
		if err != nil {
			return nil, fmt.Errorf("storageopt: create async bus: %w", err)
		}
		d.bus = bus
	}

	return d, nil
}

// MaybeSlowQuery 检测并可能触发慢查询钩子。
// 返回是否判定为慢查询（duration >= Threshold）。
// nil 接收者视为禁用。
func (d *SlowQueryDetector[T]) MaybeSlowQuery(ctx context.Context, info T, duration time.Duration) bool {
	if d == nil || d.options.Threshold <= 0 || duration < d.options.Threshold {
		return false
	}
	d.counter.Inc()

	if d.options.SyncHook != nil {
		d.options.SyncHook(ctx, info)
	}

	d.mu.RLock()
	if !d.closed && d.bus != nil {
		d.bus.Publish(info)
	}
	d.mu.RUnlock()

	return true
}

// Count 返回累计慢查询次数。
func (d *SlowQueryDetector[T]) Count() int64 {
	if d == nil {
		return 0
	}
	return d.counter.Count()
}

// Close 关闭检测器，等待已提交的异步钩子执行完毕。幂等。
//
// 设计决策: bus 引用在锁内取出后立即释放锁，bus.Close() 在锁外执行，
// 避免排空期间阻塞并发的 MaybeSlowQuery。
func (d *SlowQueryDetector[T]) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	bus := d.bus
	d.bus = nil
	d.mu.Unlock()

	if bus != nil {
		bus.Close()
	}
}
