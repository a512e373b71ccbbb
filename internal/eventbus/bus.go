package eventbus

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

var (
	// ErrNilHandler 表示 handler 参数为 nil。
	ErrNilHandler = errors.New("eventbus: handler cannot be nil")

	// ErrInvalidWorkers 表示 worker 数量无效。
	ErrInvalidWorkers = errors.New("eventbus: invalid worker count")

	// ErrInvalidQueueSize 表示队列大小无效。
	ErrInvalidQueueSize = errors.New("eventbus: invalid queue size")
)

const (
	// DefaultWorkers 默认 worker 数量。
	DefaultWorkers = 1

	// DefaultQueueSize 默认队列容量。
	DefaultQueueSize = 1024

	maxWorkers   = 1 << 10
	maxQueueSize = 1 << 20
)

// Option 定义 Bus 可选配置函数类型。
type Option func(*options)

type options struct {
	workers   int
	queueSize int
	logger    *slog.Logger
	name      string
}

// WithWorkers 设置 worker 数量，默认 1。
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithQueueSize 设置队列容量，默认 1024。
func WithQueueSize(n int) Option {
	return func(o *options) {
		o.queueSize = n
	}
}

// WithLogger 设置日志记录器。传入 nil 将被忽略。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithName 设置名称，用于区分日志来源。
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// Bus 是有界队列的异步分发器。
type Bus[T any] struct {
	handler func(T)
	queue   chan T
	logger  *slog.Logger
	wg      sync.WaitGroup

	// mu 保护 closed 与 queue 的关闭：Publish 持读锁发送，Close 持写锁关闭，
	// 因此不会出现向已关闭 channel 发送。
	mu     sync.RWMutex
	closed bool

	published atomic.Int64
	dropped   atomic.Int64
}

// New 创建并启动 Bus。
func New[T any](handler func(T), opts ...Option) (*Bus[T], error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	o := options{
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 || o.workers > maxWorkers {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWorkers, o.workers)
	}
	if o.queueSize < 1 || o.queueSize > maxQueueSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQueueSize, o.queueSize)
	}

	logger := o.logger
	if o.name != "" {
		logger = logger.With(slog.String("bus", o.name))
	}

	b := &Bus[T]{
		handler: handler,
		queue:   make(chan T, o.queueSize),
		logger:  logger,
	}
	for range o.workers {
		b.wg.Add(1)
		go b.worker()
	}
	return b, nil
}

// worker 只从 queue 读取直到 channel 关闭，保证 Close 时处理完剩余事件。
func (b *Bus[T]) worker() {
	defer b.wg.Done()
	for v := range b.queue {
		b.dispatch(v)
	}
}

func (b *Bus[T]) dispatch(v T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("eventbus: handler panic recovered",
				slog.Any("panic", r),
				slog.String("type", fmt.Sprintf("%T", v)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	b.handler(v)
}

// Publish 非阻塞地投递事件。
// 已关闭或队列满时返回 false，队列满会记录告警。
func (b *Bus[T]) Publish(v T) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.queue <- v:
		b.published.Add(1)
		return true
	default:
		b.dropped.Add(1)
		b.logger.Warn("eventbus: queue full, event dropped",
			slog.String("type", fmt.Sprintf("%T", v)),
		)
		return false
	}
}

// Close 拒绝新的事件，等待队列排空后返回。幂等。
func (b *Bus[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	b.wg.Wait()
}

// Published 返回成功入队的事件数。
func (b *Bus[T]) Published() int64 {
	return b.published.Load()
}

// Dropped 返回因队列满被丢弃的事件数。
func (b *Bus[T]) Dropped() int64 {
	return b.dropped.Load()
}

// Pending 返回队列中等待处理的事件数。
func (b *Bus[T]) Pending() int {
	return len(b.queue)
}
