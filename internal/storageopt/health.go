package storageopt

import (
	"context"
	"time"
)

// 探测相关常量。
const (
	// DefaultProbeTimeout 默认探测超时时间。
	DefaultProbeTimeout = 3 * time.Second
)

// ProbeContext 创建带探测超时的 context。
// nil ctx 归一化为 context.Background()；timeout <= 0 时返回原始 context 和空的 cancel 函数。
//
// 使用示例：
//
//	ctx, cancel := storageopt.ProbeContext(ctx, cfg.ValidationTimeout)
//	defer cancel()
func ProbeContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
