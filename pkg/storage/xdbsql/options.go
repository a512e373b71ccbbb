package xdbsql

import (
	"log/slog"
	"time"
)

const (
	defaultRetryDelay = 50 * time.Millisecond
	defaultMaxRows    = 10000
)

// Option 定义 DB 可选配置函数类型。
type Option func(*options)

type options struct {
	logger     *slog.Logger
	retryDelay time.Duration
	maxRows    int
}

func defaultOptions() options {
	return options{
		logger:     slog.Default(),
		retryDelay: defaultRetryDelay,
		maxRows:    defaultMaxRows,
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

// WithRetryDelay 设置可重试错误的首次重试间隔，之后指数退避。默认 50ms。
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retryDelay = d
		}
	}
}

// WithMaxRows 限制单次查询收集的行数，超出时返回 ErrTooManyRows。
// 默认 10000，0 表示不限制。
func WithMaxRows(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRows = n
		}
	}
}
