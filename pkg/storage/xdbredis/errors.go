package xdbredis

import "errors"

var (
	// ErrNilClient 表示传入的 *redis.Client 为 nil。
	ErrNilClient = errors.New("xdbredis: nil client")

	// ErrEmptyCommand 表示命令与参数均为空。
	ErrEmptyCommand = errors.New("xdbredis: empty command")

	// ErrClosed 表示连接已关闭。
	ErrClosed = errors.New("xdbredis: connection closed")
)
