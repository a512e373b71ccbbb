package xdbredis

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"

	"github.com/omeyang/xdbkit/pkg/storage/xdbpool"
)

// Conn 是固定使用一个 go-redis 连接的 xdbpool.Connection。
//
// Close 把连接交还 go-redis 客户端的连接池，物理连接的回收由客户端的
// ConnMaxIdleTime 等选项决定。
type Conn struct {
	conn *redis.Conn
	opts options

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ xdbpool.Connection = (*Conn)(nil)

// Execute 执行一条 Redis 命令。
//
// query 按空白切分为命令与字面参数，params 依次追加，
// 含空白的值应放在 params 中："SET user:1" + []any{"Alice Smith"}。
// 结果为 go-redis 的原始回复；键不存在（redis.Nil）视为成功，Data 为 nil。
// 服务端错误以 Success=false 返回；网络错误与 ctx 取消以 error 返回。
// opts.Retries > 0 时对 LOADING、BUSY、TRYAGAIN 等瞬时错误重试。
func (c *Conn) Execute(ctx context.Context, query string, params []any, opts xdbpool.ExecOptions) (xdbpool.Result, error) {
	if c.closed.Load() {
		return xdbpool.Result{}, ErrClosed
	}
	args := commandArgs(query, params)
	if len(args) == 0 {
		return xdbpool.Result{Success: false, Error: ErrEmptyCommand.Error()}, nil
	}

	var data any
	err := retry.New(
		retry.Attempts(uint(max(opts.Retries, 0))+1),
		retry.Context(ctx),
		retry.Delay(c.opts.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(transient),
		retry.OnRetry(func(n uint, err error) {
			c.opts.logger.Debug("xdbredis: retrying command",
				slog.Uint64("attempt", uint64(n)+1),
				slog.Any("error", err),
			)
		}),
	).Do(func() error {
		v, err := c.conn.Do(ctx, args...).Result()
		if errors.Is(err, redis.Nil) {
			data = nil
			return nil
		}
		data = v
		return err
	})

	var rerr redis.Error
	switch {
	case err == nil:
		return xdbpool.Result{Success: true, Data: data}, nil
	case ctx.Err() != nil:
		return xdbpool.Result{}, ctx.Err()
	case errors.As(err, &rerr):
		return xdbpool.Result{Success: false, Error: err.Error()}, nil
	default:
		return xdbpool.Result{}, err
	}
}

// Close 交还连接。重复调用返回首次结果。
func (c *Conn) Close() error {
	c.closed.Store(true)
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func commandArgs(query string, params []any) []any {
	fields := strings.Fields(query)
	args := make([]any, 0, len(fields)+len(params))
	for _, f := range fields {
		args = append(args, f)
	}
	return append(args, params...)
}

// transient 报告服务端错误是否为可重试的瞬时状态。
func transient(err error) bool {
	return redis.IsLoadingError(err) ||
		redis.IsTryAgainError(err) ||
		redis.IsClusterDownError(err) ||
		redis.IsMasterDownError(err) ||
		redis.HasErrorPrefix(err, "BUSY ")
}
