package xdbtune

import "errors"

var (
	// ErrInvalidSample 表示样本包含负值或比例越界。
	ErrInvalidSample = errors.New("xdbtune: invalid sample")

	// ErrUpdateRejected 表示 OnUpdate 回调拒绝了新配置，Optimizer 保持原配置。
	ErrUpdateRejected = errors.New("xdbtune: configuration update rejected")

	// ErrNilSource 表示 Run 的指标来源为 nil。
	ErrNilSource = errors.New("xdbtune: nil metrics source")
)
