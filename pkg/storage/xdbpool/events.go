package xdbpool

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/omeyang/xdbkit/internal/eventbus"
)

// EventType 生命周期事件类型。
type EventType string

// 生命周期事件类型。
const (
	EventConnectionCreated         EventType = "connection_created"
	EventConnectionDestroyed       EventType = "connection_destroyed"
	EventValidationFailed          EventType = "validation_failed"
	EventConnectionRecovered       EventType = "connection_recovered"
	EventCleanupCompleted          EventType = "cleanup_completed"
	EventHealthCheckFailed         EventType = "health_check_failed"
	EventResourceThresholdExceeded EventType = "resource_threshold_exceeded"
	EventShutdownInitiated         EventType = "shutdown_initiated"
)

// 连接销毁原因，出现在 connection_destroyed 事件的 Details["reason"] 中。
const (
	ReasonExpired          = "expired"
	ReasonIdleTimeout      = "idle_timeout"
	ReasonMaxLifetime      = "max_lifetime"
	ReasonValidationFailed = "validation_failed"
	ReasonUnhealthy        = "unhealthy"
	ReasonRecoveryFailed   = "recovery_failed"
	ReasonScaleDown        = "scale_down"
	ReasonShutdown         = "shutdown"
	ReasonUnknown          = "unknown_connection"
)

// Event 生命周期事件。ConnID 对池级事件为空。
type Event struct {
	Type    EventType
	ConnID  string
	Time    time.Time
	Details map[string]any
}

// Listener 事件监听器，在事件 worker 中异步调用。
// 监听器 panic 会被恢复并记录，不影响其他监听器。
type Listener func(Event)

// eventRegistry 管理监听器并通过 eventbus 异步分发。
type eventRegistry struct {
	bus    *eventbus.Bus[Event]
	logger *slog.Logger

	mu     sync.RWMutex
	nextID uint64
	byType map[EventType]map[uint64]Listener
	all    map[uint64]Listener
}

func newEventRegistry(queueSize int, logger *slog.Logger) (*eventRegistry, error) {
	r := &eventRegistry{
		logger: logger,
		byType: make(map[EventType]map[uint64]Listener),
		all:    make(map[uint64]Listener),
	}
	bus, err := eventbus.New(r.dispatch,
		eventbus.WithQueueSize(queueSize),
		eventbus.WithLogger(logger),
		eventbus.WithName("lifecycle"),
	)
	if err != nil {
		return nil, fmt.Errorf("xdbpool: create event bus: %w", err)
	}
	r.bus = bus
	return r, nil
}

func (r *eventRegistry) subscribe(typ EventType, l Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	if r.byType[typ] == nil {
		r.byType[typ] = make(map[uint64]Listener)
	}
	r.byType[typ][id] = l
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.byType[typ], id)
	}
}

func (r *eventRegistry) subscribeAll(l Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.all[id] = l
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.all, id)
	}
}

func (r *eventRegistry) publish(ev Event) {
	if !r.bus.Publish(ev) {
		r.logger.Debug("xdbpool: event not delivered",
			slog.String("event", string(ev.Type)),
			slog.String("conn_id", ev.ConnID),
		)
	}
}

// dispatch 按订阅顺序调用监听器快照。
func (r *eventRegistry) dispatch(ev Event) {
	r.mu.RLock()
	ids := slices.Sorted(maps.Keys(r.byType[ev.Type]))
	listeners := make([]Listener, 0, len(ids)+len(r.all))
	for _, id := range ids {
		listeners = append(listeners, r.byType[ev.Type][id])
	}
	for _, id := range slices.Sorted(maps.Keys(r.all)) {
		listeners = append(listeners, r.all[id])
	}
	r.mu.RUnlock()

	for _, l := range listeners {
		r.call(l, ev)
	}
}

func (r *eventRegistry) call(l Listener, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("xdbpool: event listener panic recovered",
				slog.String("event", string(ev.Type)),
				slog.Any("panic", p),
			)
		}
	}()
	l(ev)
}

func (r *eventRegistry) close() {
	r.bus.Close()
}

// Subscribe 订阅指定类型的事件，返回取消订阅函数。
func (p *Pool) Subscribe(typ EventType, l Listener) (unsubscribe func()) {
	if l == nil {
		return func() {}
	}
	return p.events.subscribe(typ, l)
}

// SubscribeAll 订阅所有事件，返回取消订阅函数。
func (p *Pool) SubscribeAll(l Listener) (unsubscribe func()) {
	if l == nil {
		return func() {}
	}
	return p.events.subscribeAll(l)
}

// emit 非阻塞地发出事件。
func (p *Pool) emit(typ EventType, connID string, details map[string]any) {
	p.events.publish(Event{
		Type:    typ,
		ConnID:  connID,
		Time:    time.Now(),
		Details: details,
	})
}
