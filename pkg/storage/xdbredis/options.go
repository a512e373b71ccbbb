package xdbredis

import (
	"log/slog"
	"time"
)

const defaultRetryDelay = 20 * time.Millisecond

// Option 定义 Client 可选配置函数类型。
type Option func(*options)

type options struct {
	logger     *slog.Logger
	retryDelay time.Duration
}

func defaultOptions() options {
	return options{
		logger:     slog.Default(),
		retryDelay: defaultRetryDelay,
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

// WithRetryDelay 设置瞬时错误（LOADING、BUSY、TRYAGAIN 等）的首次重试间隔。默认 20ms。
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retryDelay = d
		}
	}
}
