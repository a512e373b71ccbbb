package xdbsql

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/omeyang/xdbkit/pkg/storage/xdbpool"
)

// DB 把 *sqlx.DB 适配为 xdbpool 的连接来源。
//
// 每个 xdbpool 连接独占一个物理连接（*sqlx.Conn），
// 容量由 xdbpool 管理，database/sql 自身的空闲池不参与复用。
type DB struct {
	db   *sqlx.DB
	opts options
}

// New 包装已打开的 *sqlx.DB。
func New(db *sqlx.DB, opts ...Option) (*DB, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &DB{db: db, opts: o}, nil
}

// Open 打开数据库并执行一次 Ping。driverName 对应的驱动需已注册。
func Open(ctx context.Context, driverName, dsn string, opts ...Option) (*DB, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("xdbsql: open %s: %w", driverName, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("xdbsql: ping %s: %w", driverName, err)
	}
	return New(db, opts...)
}

// Client 返回底层 *sqlx.DB。
func (d *DB) Client() *sqlx.DB {
	return d.db
}

// Factory 返回 xdbpool.Factory，每次调用占用一个新的物理连接。
func (d *DB) Factory() xdbpool.Factory {
	return func(ctx context.Context) (xdbpool.Connection, error) {
		c, err := d.db.Connx(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.PingContext(ctx); err != nil {
			_ = discard(c)
			return nil, err
		}
		return &Conn{conn: c, opts: d.opts}, nil
	}
}

// Close 关闭底层 *sqlx.DB。应在连接池关闭之后调用。
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		d.opts.logger.Warn("xdbsql: close failed", slog.Any("error", err))
		return err
	}
	return nil
}
