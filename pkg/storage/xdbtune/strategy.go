package xdbtune

import (
	"slices"
	"time"

	"github.com/omeyang/xdbkit/pkg/storage/xdbpool"
)

// Metric 是策略条件可引用的指标。
type Metric string

// 可用指标。
const (
	MetricActiveConnections      Metric = "active_connections"
	MetricIdleConnections        Metric = "idle_connections"
	MetricTotalRequests          Metric = "total_requests"
	MetricAverageResponseTime    Metric = "average_response_time_ms"
	MetricErrorRate              Metric = "error_rate"
	MetricActiveConnectionsRatio Metric = "active_connections_ratio"
)

// Comparison 比较方式。
type Comparison string

// 比较方式。
const (
	GreaterOrEqual Comparison = ">="
	Greater        Comparison = ">"
	LessOrEqual    Comparison = "<="
	Less           Comparison = "<"
)

// Condition 是单个阈值条件。
type Condition struct {
	Metric     Metric
	Comparison Comparison
	Value      float64
}

// Holds 报告条件在 a 上是否成立。未知比较方式视为不成立。
func (c Condition) Holds(a Averages) bool {
	v := a.Value(c.Metric)
	switch c.Comparison {
	case GreaterOrEqual:
		return v >= c.Value
	case Greater:
		return v > c.Value
	case LessOrEqual:
		return v <= c.Value
	case Less:
		return v < c.Value
	}
	return false
}

// Strategy 是阈值触发的调优规则。
//
// Apply 必须是纯函数：只依据均值与当前配置计算补丁。
type Strategy struct {
	Name string
	// ErrorMitigation 为 true 的策略排在其他策略之前执行，
	// 其补丁因此可被后续策略覆盖。
	ErrorMitigation bool
	// Conditions 须全部成立才触发；为空时不触发。
	Conditions []Condition
	Apply      func(a Averages, cfg xdbpool.Config) Patch
}

// Matches 报告策略是否在 a 上触发。
func (s Strategy) Matches(a Averages) bool {
	if len(s.Conditions) == 0 || s.Apply == nil {
		return false
	}
	for _, c := range s.Conditions {
		if !c.Holds(a) {
			return false
		}
	}
	return true
}

// ordered 返回执行顺序：错误缓解策略在前，其余保持声明顺序。
func ordered(strategies []Strategy) []Strategy {
	out := slices.Clone(strategies)
	slices.SortStableFunc(out, func(a, b Strategy) int {
		switch {
		case a.ErrorMitigation == b.ErrorMitigation:
			return 0
		case a.ErrorMitigation:
			return -1
		default:
			return 1
		}
	})
	return out
}

// 内置策略名。
const (
	StrategyHighErrorRate   = "high_error_rate"
	StrategyHighLatency     = "high_latency"
	StrategyHighUtilization = "high_utilization"
	StrategyLowUtilization  = "low_utilization"
)

// 内置策略阈值与边界。
const (
	HighErrorRateThreshold   = 0.05
	HighLatencyThreshold     = 500 * time.Millisecond
	HighUtilizationThreshold = 0.8
	LowUtilizationThreshold  = 0.2
	minValidationInterval    = 5 * time.Second
	maxAcquireTimeout        = 30 * time.Second
	minIdleTimeout           = 30 * time.Second
	minScaleUpThreshold      = 0.5
	scaleUpThresholdStep     = 0.1
)

// DefaultStrategies 返回内置策略，错误缓解策略在前。
func DefaultStrategies() []Strategy {
	return []Strategy{
		HighErrorRate(),
		HighLatency(),
		HighUtilization(),
		LowUtilization(),
	}
}

// HighErrorRate 在错误率 >= 5% 时收紧验证：借出前验证、
// 验证间隔减半（不低于 5s）、失败阈值减一（不低于 1）。
func HighErrorRate() Strategy {
	return Strategy{
		Name:            StrategyHighErrorRate,
		ErrorMitigation: true,
		Conditions: []Condition{
			{Metric: MetricErrorRate, Comparison: GreaterOrEqual, Value: HighErrorRateThreshold},
		},
		Apply: func(_ Averages, cfg xdbpool.Config) Patch {
			p := Patch{
				TestOnBorrow:          Set(true),
				MaxValidationFailures: Set(max(cfg.MaxValidationFailures-1, 1)),
			}
			if cfg.ValidationInterval > 0 {
				p.ValidationInterval = Set(max(cfg.ValidationInterval/2, minValidationInterval))
			}
			return p
		},
	}
}

// HighLatency 在平均响应时间 >= 500ms 时放宽容量与获取超时。
func HighLatency() Strategy {
	return Strategy{
		Name: StrategyHighLatency,
		Conditions: []Condition{
			{
				Metric:     MetricAverageResponseTime,
				Comparison: GreaterOrEqual,
				Value:      float64(HighLatencyThreshold / time.Millisecond),
			},
		},
		Apply: func(_ Averages, cfg xdbpool.Config) Patch {
			return Patch{
				MaxConnections: Set(cfg.MaxConnections + cfg.ConnectionIncrement),
				AcquireTimeout: Set(min(cfg.AcquireTimeout*3/2, maxAcquireTimeout)),
			}
		},
	}
}

// HighUtilization 在活跃占比 >= 0.8 时提高容量下限与上限，
// 并降低扩容阈值使伸缩循环更早扩容。
func HighUtilization() Strategy {
	return Strategy{
		Name: StrategyHighUtilization,
		Conditions: []Condition{
			{Metric: MetricActiveConnectionsRatio, Comparison: GreaterOrEqual, Value: HighUtilizationThreshold},
		},
		Apply: func(_ Averages, cfg xdbpool.Config) Patch {
			up := max(cfg.ScaleUpThreshold-scaleUpThresholdStep, minScaleUpThreshold, cfg.ScaleDownThreshold)
			return Patch{
				MinConnections:   Set(min(cfg.MinConnections+cfg.ConnectionIncrement, cfg.MaxConnections)),
				MaxConnections:   Set(cfg.MaxConnections + cfg.ConnectionIncrement),
				ScaleUpThreshold: Set(min(up, cfg.ScaleUpThreshold)),
			}
		},
	}
}

// LowUtilization 在存在空闲连接且活跃占比 <= 0.2 时收缩容量并缩短空闲超时。
func LowUtilization() Strategy {
	return Strategy{
		Name: StrategyLowUtilization,
		Conditions: []Condition{
			{Metric: MetricActiveConnectionsRatio, Comparison: LessOrEqual, Value: LowUtilizationThreshold},
			{Metric: MetricIdleConnections, Comparison: Greater, Value: 0},
		},
		Apply: func(_ Averages, cfg xdbpool.Config) Patch {
			p := Patch{
				MinConnections: Set(max(cfg.MinConnections-cfg.ConnectionIncrement, 0)),
				MaxConnections: Set(max(cfg.MaxConnections-cfg.ConnectionIncrement, 1)),
			}
			if cfg.IdleTimeout > 0 {
				p.IdleTimeout = Set(max(cfg.IdleTimeout/2, min(cfg.IdleTimeout, minIdleTimeout)))
			}
			return p
		},
	}
}
