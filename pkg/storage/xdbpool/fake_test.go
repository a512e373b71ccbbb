package xdbpool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	errDial       = errors.New("dial refused")
	errConnClosed = errors.New("connection closed")
)

// fakeDB 是内存中的假数据库，记录它创建的所有连接。
type fakeDB struct {
	mu    sync.Mutex
	conns []*fakeConn

	dials          atomic.Int64
	validations    atomic.Int64
	failCreate     atomic.Bool
	failValidation atomic.Bool
	failQuery      atomic.Bool
	execDelay      atomic.Int64 // ns
	validateDelay  atomic.Int64 // ns

	// gate 非 nil 时验证查询阻塞到 gate 关闭。
	gate chan struct{}
}

func (db *fakeDB) factory(ctx context.Context) (Connection, error) {
	db.dials.Add(1)
	if db.failCreate.Load() {
		return nil, errDial
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &fakeConn{db: db}
	db.mu.Lock()
	c.seq = len(db.conns)
	db.conns = append(db.conns, c)
	db.mu.Unlock()
	return c, nil
}

func (db *fakeDB) all() []*fakeConn {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]*fakeConn(nil), db.conns...)
}

// requireClosedOnce 断言所有连接都恰好被关闭一次。
func (db *fakeDB) requireClosedOnce(t *testing.T) {
	t.Helper()
	for _, c := range db.all() {
		require.Equal(t, int32(1), c.closes.Load(), "connection %d", c.seq)
	}
}

type fakeConn struct {
	db     *fakeDB
	seq    int
	closes atomic.Int32
	execs  atomic.Int64
}

func (c *fakeConn) Execute(ctx context.Context, query string, _ []any, _ ExecOptions) (Result, error) {
	if c.closes.Load() > 0 {
		return Result{}, errConnClosed
	}
	c.execs.Add(1)
	if query == DefaultValidationQuery {
		c.db.validations.Add(1)
		if d := time.Duration(c.db.validateDelay.Load()); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}
		if c.db.gate != nil {
			select {
			case <-c.db.gate:
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}
		if c.db.failValidation.Load() {
			return Result{Success: false, Error: "validation refused"}, nil
		}
		return Result{Success: true}, nil
	}
	if d := time.Duration(c.db.execDelay.Load()); d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if c.db.failQuery.Load() {
		return Result{Success: false, Error: "syntax error"}, nil
	}
	return Result{Success: true, Data: query}, nil
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig 返回关闭所有后台循环、时间参数缩短的配置。
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinConnections = 0
	cfg.MaxConnections = 5
	cfg.AcquireTimeout = time.Second
	cfg.AcquirePollInterval = 10 * time.Millisecond
	cfg.ConnectionTimeout = time.Second
	cfg.ValidationTimeout = time.Second
	cfg.ScaleInterval = 0
	cfg.ScaleUpCooldown = 0
	cfg.ScaleDownCooldown = 0
	cfg.ValidationInterval = 0
	cfg.CleanupInterval = 0
	cfg.HealthCheckInterval = 0
	cfg.ResourceCheckInterval = 0
	cfg.RecoveryDelay = 5 * time.Millisecond
	cfg.MaxRecoveryDelay = 20 * time.Millisecond
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func newTestPool(t *testing.T, db *fakeDB, cfg Config, opts ...Option) *Pool {
	t.Helper()
	base := []Option{WithConfig(cfg), WithLogger(discardLogger())}
	p, err := New(db.factory, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func newTestManager(t *testing.T, p *Pool, opts ...LifecycleOption) *LifecycleManager {
	t.Helper()
	m, err := NewLifecycleManager(p, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

// eventLog 收集事件供断言。
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func recordEvents(p *Pool) *eventLog {
	l := &eventLog{}
	p.SubscribeAll(func(ev Event) {
		l.mu.Lock()
		l.events = append(l.events, ev)
		l.mu.Unlock()
	})
	return l
}

func (l *eventLog) of(typ EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) count(typ EventType) int {
	return len(l.of(typ))
}

// destroyedWith 返回指定原因的 connection_destroyed 事件数。
func (l *eventLog) destroyedWith(reason string) int {
	n := 0
	for _, ev := range l.of(EventConnectionDestroyed) {
		if ev.Details["reason"] == reason {
			n++
		}
	}
	return n
}

// failValidationTimes 让唯一的空闲连接连续验证失败 n 次。
func failValidationTimes(t *testing.T, m *LifecycleManager, db *fakeDB, n int) {
	t.Helper()
	db.failValidation.Store(true)
	for range n {
		res := m.RunValidation(context.Background())
		require.Equal(t, 1, res.Checked)
	}
}
