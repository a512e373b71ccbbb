package xdbtune

import (
	"time"

	"github.com/omeyang/xdbkit/pkg/storage/xdbpool"
)

// Patch 是部分配置：nil 字段表示不修改。
type Patch struct {
	MinConnections        *int           `json:"min_connections,omitempty"`
	MaxConnections        *int           `json:"max_connections,omitempty"`
	ConnectionIncrement   *int           `json:"connection_increment,omitempty"`
	AcquireTimeout        *time.Duration `json:"acquire_timeout,omitempty"`
	IdleTimeout           *time.Duration `json:"idle_timeout,omitempty"`
	ValidationInterval    *time.Duration `json:"validation_interval,omitempty"`
	ScaleUpThreshold      *float64       `json:"scale_up_threshold,omitempty"`
	ScaleDownThreshold    *float64       `json:"scale_down_threshold,omitempty"`
	MaxValidationFailures *int           `json:"max_validation_failures,omitempty"`
	TestOnBorrow          *bool          `json:"test_on_borrow,omitempty"`
}

// Set 返回 v 的指针，用于构造 Patch。
func Set[T any](v T) *T {
	return &v
}

// Merge 返回合并结果，other 中的非 nil 字段覆盖 p。
func (p Patch) Merge(other Patch) Patch {
	override(&p.MinConnections, other.MinConnections)
	override(&p.MaxConnections, other.MaxConnections)
	override(&p.ConnectionIncrement, other.ConnectionIncrement)
	override(&p.AcquireTimeout, other.AcquireTimeout)
	override(&p.IdleTimeout, other.IdleTimeout)
	override(&p.ValidationInterval, other.ValidationInterval)
	override(&p.ScaleUpThreshold, other.ScaleUpThreshold)
	override(&p.ScaleDownThreshold, other.ScaleDownThreshold)
	override(&p.MaxValidationFailures, other.MaxValidationFailures)
	override(&p.TestOnBorrow, other.TestOnBorrow)
	return p
}

func override[T any](dst **T, src *T) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

// Apply 把补丁写入 cfg 的副本。
func (p Patch) Apply(cfg xdbpool.Config) xdbpool.Config {
	assign(&cfg.MinConnections, p.MinConnections)
	assign(&cfg.MaxConnections, p.MaxConnections)
	assign(&cfg.ConnectionIncrement, p.ConnectionIncrement)
	assign(&cfg.AcquireTimeout, p.AcquireTimeout)
	assign(&cfg.IdleTimeout, p.IdleTimeout)
	assign(&cfg.ValidationInterval, p.ValidationInterval)
	assign(&cfg.ScaleUpThreshold, p.ScaleUpThreshold)
	assign(&cfg.ScaleDownThreshold, p.ScaleDownThreshold)
	assign(&cfg.MaxValidationFailures, p.MaxValidationFailures)
	assign(&cfg.TestOnBorrow, p.TestOnBorrow)
	return cfg
}

func assign[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Empty 报告补丁是否不修改任何字段。
func (p Patch) Empty() bool {
	return len(p.Fields()) == 0
}

// Fields 返回补丁涉及的配置键，顺序固定。
func (p Patch) Fields() []string {
	var fields []string
	add := func(set bool, name string) {
		if set {
			fields = append(fields, name)
		}
	}
	add(p.MinConnections != nil, "min_connections")
	add(p.MaxConnections != nil, "max_connections")
	add(p.ConnectionIncrement != nil, "connection_increment")
	add(p.AcquireTimeout != nil, "acquire_timeout")
	add(p.IdleTimeout != nil, "idle_timeout")
	add(p.ValidationInterval != nil, "validation_interval")
	add(p.ScaleUpThreshold != nil, "scale_up_threshold")
	add(p.ScaleDownThreshold != nil, "scale_down_threshold")
	add(p.MaxValidationFailures != nil, "max_validation_failures")
	add(p.TestOnBorrow != nil, "test_on_borrow")
	return fields
}
