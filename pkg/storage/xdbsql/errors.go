package xdbsql

import "errors"

var (
	// ErrNilDB 表示传入的 *sqlx.DB 为 nil。
	ErrNilDB = errors.New("xdbsql: nil db")

	// ErrClosed 表示连接已关闭。
	ErrClosed = errors.New("xdbsql: connection closed")

	// ErrTooManyRows 表示结果行数超过 WithMaxRows 限制。
	ErrTooManyRows = errors.New("xdbsql: too many rows")
)
