package xdbpool

import "errors"

var (
	// ErrAcquireTimeout 表示在 AcquireTimeout 内没有可用连接。
	ErrAcquireTimeout = errors.New("xdbpool: acquire timeout")

	// ErrConnectionCreate 表示创建底层连接失败，包装 Factory 返回的原因。
	ErrConnectionCreate = errors.New("xdbpool: create connection failed")

	// ErrValidationFailed 表示验证查询失败或超时。
	// 仅在内部记录，不会返回给查询调用方。
	ErrValidationFailed = errors.New("xdbpool: validation failed")

	// ErrRecoveryExhausted 表示恢复重试次数耗尽。
	ErrRecoveryExhausted = errors.New("xdbpool: recovery attempts exhausted")

	// ErrPoolClosed 表示连接池已开始关闭。
	ErrPoolClosed = errors.New("xdbpool: pool closed")

	// ErrInvalidConfig 表示配置非法，原配置保持不变。
	ErrInvalidConfig = errors.New("xdbpool: invalid config")

	// ErrQueryFailed 表示连接返回 Success=false 或执行出错。
	ErrQueryFailed = errors.New("xdbpool: query failed")

	// ErrNilFactory 表示 Factory 为 nil。
	ErrNilFactory = errors.New("xdbpool: nil factory")

	// ErrNilPool 表示 Pool 参数为 nil。
	ErrNilPool = errors.New("xdbpool: nil pool")

	// ErrUnknownConnection 表示连接不属于当前池或已被移除。
	ErrUnknownConnection = errors.New("xdbpool: unknown connection")
)
