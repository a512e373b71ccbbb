package xdbconf

import (
	"log/slog"
	"time"

	"github.com/omeyang/xdbkit/pkg/storage/xdbpool"
)

// DefaultDebounce 是 Watcher 的默认防抖时间。
const DefaultDebounce = 100 * time.Millisecond

type options struct {
	base     *xdbpool.Config
	key      string
	strict   bool
	debounce time.Duration
	logger   *slog.Logger
}

// Option 配置加载与监视行为。
type Option func(*options)

func defaultOptions() options {
	return options{
		strict:   true,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
	}
}

// WithKey 指定连接池配置在文件中的路径，如 "database.pool"。
// 默认为空，即整个文件就是连接池配置。
func WithKey(key string) Option {
	return func(o *options) {
		o.key = key
	}
}

// WithBase 指定文件未覆盖字段的取值，默认 xdbpool.DefaultConfig()。
func WithBase(cfg xdbpool.Config) Option {
	return func(o *options) {
		o.base = &cfg
	}
}

// WithStrict 控制是否拒绝未知键，默认拒绝。
func WithStrict(strict bool) Option {
	return func(o *options) {
		o.strict = strict
	}
}

// WithDebounce 设置 Watcher 的防抖时间，<= 0 时忽略。
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithLogger 设置日志记录器，nil 时忽略。
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
