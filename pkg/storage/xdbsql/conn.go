package xdbsql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/avast/retry-go/v5"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/omeyang/xdbkit/pkg/storage/xdbpool"
)

// ExecResult 是非查询语句的执行结果。
type ExecResult struct {
	RowsAffected int64 `json:"rows_affected"`
	// LastInsertID 驱动不支持时为 0。
	LastInsertID int64 `json:"last_insert_id"`
}

// Conn 是独占一个物理连接的 xdbpool.Connection。
type Conn struct {
	conn *sqlx.Conn
	opts options

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ xdbpool.Connection = (*Conn)(nil)

// Execute 执行 SQL。
//
// 返回行的语句（SELECT、WITH、SHOW 等，或带 RETURNING）结果为 []map[string]any，
// []byte 列转换为 string；其余语句结果为 ExecResult。占位符按驱动改写（? 转 $1 等）。
//
// SQL 层面的错误以 Success=false 返回；连接失效与 ctx 取消以 error 返回。
// opts.Retries > 0 时对死锁、锁等待超时等可重试错误按指数退避重试。
func (c *Conn) Execute(ctx context.Context, query string, params []any, opts xdbpool.ExecOptions) (xdbpool.Result, error) {
	if c.closed.Load() {
		return xdbpool.Result{}, ErrClosed
	}
	query = c.conn.Rebind(query)

	var data any
	attempt := func() error {
		var err error
		if returnsRows(query) {
			data, err = c.query(ctx, query, params)
		} else {
			data, err = c.exec(ctx, query, params)
		}
		return err
	}

	err := retry.New(
		retry.Attempts(uint(max(opts.Retries, 0))+1),
		retry.Context(ctx),
		retry.Delay(c.opts.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			c.opts.logger.Debug("xdbsql: retrying statement",
				slog.Uint64("attempt", uint64(n)+1),
				slog.Any("error", err),
			)
		}),
	).Do(attempt)

	switch {
	case err == nil:
		return xdbpool.Result{Success: true, Data: data}, nil
	case ctx.Err() != nil:
		return xdbpool.Result{}, ctx.Err()
	case connectionLost(err):
		return xdbpool.Result{}, err
	default:
		return xdbpool.Result{Success: false, Error: err.Error()}, nil
	}
}

func (c *Conn) query(ctx context.Context, query string, params []any) ([]map[string]any, error) {
	rows, err := c.conn.QueryxContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []map[string]any{}
	for rows.Next() {
		if c.opts.maxRows > 0 && len(out) >= c.opts.maxRows {
			return nil, fmt.Errorf("%w: limit %d", ErrTooManyRows, c.opts.maxRows)
		}
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (c *Conn) exec(ctx context.Context, query string, params []any) (ExecResult, error) {
	res, err := c.conn.ExecContext(ctx, query, params...)
	if err != nil {
		return ExecResult{}, err
	}
	var r ExecResult
	if n, err := res.RowsAffected(); err == nil {
		r.RowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		r.LastInsertID = id
	}
	return r, nil
}

// Close 丢弃物理连接而非归还给 database/sql 的空闲池。重复调用返回首次结果。
func (c *Conn) Close() error {
	c.closed.Store(true)
	c.closeOnce.Do(func() {
		c.closeErr = discard(c.conn)
	})
	return c.closeErr
}

// discard 通过 Raw 返回 driver.ErrBadConn，使 database/sql 关闭该物理连接。
// 连接已因驱动错误被 database/sql 关闭时视为成功。
func discard(c *sqlx.Conn) error {
	err := c.Raw(func(any) error { return driver.ErrBadConn })
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return err
}

// rowKeywords 是返回结果集的语句首关键字。
var rowKeywords = []string{"SELECT", "WITH", "SHOW", "DESCRIBE", "DESC", "EXPLAIN", "PRAGMA", "VALUES", "TABLE"}

// returnsRows 按首关键字判断语句是否返回结果集，跳过前导空白、注释与括号。
func returnsRows(query string) bool {
	q := strings.TrimSpace(query)
	for {
		switch {
		case strings.HasPrefix(q, "--"):
			if i := strings.IndexByte(q, '\n'); i >= 0 {
				q = strings.TrimSpace(q[i+1:])
				continue
			}
			return false
		case strings.HasPrefix(q, "/*"):
			if i := strings.Index(q, "*/"); i >= 0 {
				q = strings.TrimSpace(q[i+2:])
				continue
			}
			return false
		case strings.HasPrefix(q, "("):
			q = strings.TrimSpace(q[1:])
			continue
		}
		break
	}

	word := q
	if i := strings.IndexFunc(q, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '('
	}); i >= 0 {
		word = q[:i]
	}
	for _, kw := range rowKeywords {
		if strings.EqualFold(word, kw) {
			return true
		}
	}
	return strings.Contains(strings.ToUpper(q), " RETURNING ")
}

// MySQL 可重试错误码。
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// retryable 报告错误是否为锁冲突类的瞬时错误。
func retryable(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDeadlock || me.Number == mysqlLockWaitTimeout
	}
	// SQLite 的 SQLITE_BUSY / SQLITE_LOCKED
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// connectionLost 报告错误是否意味着物理连接不可再用。
func connectionLost(err error) bool {
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn)
}
