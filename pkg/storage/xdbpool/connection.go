package xdbpool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// ExecOptions 单次执行的选项。
type ExecOptions struct {
	// Timeout 执行超时，0 表示不额外限制。
	Timeout time.Duration
	// Retries 交由底层驱动解释的重试次数，池本身不重试。
	Retries int
}

// Result 是底层连接的执行结果。
// Success=false 由池归类为 ErrQueryFailed。
type Result struct {
	Success bool
	Data    any
	Error   string
}

//go:generate mockgen -source=connection.go -destination=mock_connection_test.go -package=xdbpool

// Connection 是池管理的底层连接能力。
//
// 实现需保证 Execute 与 Close 可在不同 goroutine 调用；
// 池保证同一时刻最多一个调用方持有连接执行查询。
type Connection interface {
	Execute(ctx context.Context, query string, params []any, opts ExecOptions) (Result, error)
	Close() error
}

// Factory 创建一个新的底层连接，ctx 携带 ConnectionTimeout。
type Factory func(ctx context.Context) (Connection, error)

// Conn 是从池中借出的连接句柄。
//
// 用完后必须调用 Release（或 Pool.Release）归还；重复归还是安全的空操作。
type Conn struct {
	id       string
	conn     Connection
	pool     *Pool
	released atomic.Bool
}

// ID 返回连接标识。
func (c *Conn) ID() string {
	return c.id
}

// Raw 返回底层连接。归还后不应再使用。
func (c *Conn) Raw() Connection {
	return c.conn
}

// Execute 在该连接上执行查询，统计计入所属池。
func (c *Conn) Execute(ctx context.Context, query string, params []any, opts ExecOptions) (Result, error) {
	if c.released.Load() {
		return Result{}, ErrUnknownConnection
	}
	return c.pool.execOn(ctx, c, query, params, opts)
}

// Release 归还连接。
func (c *Conn) Release() error {
	return c.pool.Release(c)
}

// ConnState 连接状态。
type ConnState int

// 连接状态。只有 StateIdle 与 StateActive 对获取方可见。
const (
	StateCreating ConnState = iota
	StateIdle
	StateActive
	// StateChecked 表示连接被借出或归还前后的探测、空闲验证临时持有。
	StateChecked
	// StateRecovering 表示连接由恢复任务独占持有。
	StateRecovering
	StateDestroying
)

// String 实现 fmt.Stringer。
func (s ConnState) String() string {
	switch s {
	case StateCreating:
		return "creating"
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateChecked:
		return "checked"
	case StateRecovering:
		return "recovering"
	case StateDestroying:
		return "destroying"
	default:
		return "unknown"
	}
}

// ConnectionInfo 是连接记录的只读快照。
type ConnectionInfo struct {
	ID                  string
	State               ConnState
	Created             time.Time
	LastUsed            time.Time
	LastValidated       time.Time
	Usage               int64
	ErrorCount          int64
	ConsecutiveFailures int
	Healthy             bool
	Valid               bool
	Age                 time.Duration
	IdleFor             time.Duration
}

// resultError 把 Success=false 的结果转换为错误。
func resultError(res Result) error {
	msg := res.Error
	if msg == "" {
		msg = "unsuccessful result"
	}
	return fmt.Errorf("%w: %s", ErrQueryFailed, msg)
}
