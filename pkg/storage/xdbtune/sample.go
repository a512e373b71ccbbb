package xdbtune

import (
	"fmt"
	"time"
)

// Sample 是一次负载采样。
type Sample struct {
	// Time 为零时由 RecordMetrics 填充为当前时间。
	Time                time.Time
	ActiveConnections   int
	IdleConnections     int
	TotalRequests       int64
	AverageResponseTime time.Duration
	// ErrorRate 取值 [0,1]。
	ErrorRate float64
}

func (s Sample) validate() error {
	switch {
	case s.ActiveConnections < 0, s.IdleConnections < 0:
		return fmt.Errorf("%w: negative connection count", ErrInvalidSample)
	case s.TotalRequests < 0:
		return fmt.Errorf("%w: negative request count", ErrInvalidSample)
	case s.AverageResponseTime < 0:
		return fmt.Errorf("%w: negative response time", ErrInvalidSample)
	case s.ErrorRate < 0 || s.ErrorRate > 1:
		return fmt.Errorf("%w: error rate %v out of [0,1]", ErrInvalidSample, s.ErrorRate)
	}
	return nil
}

// Averages 是最近若干样本的平均值，策略据此判断与计算补丁。
type Averages struct {
	Samples             int
	ActiveConnections   float64
	IdleConnections     float64
	TotalRequests       float64
	AverageResponseTime time.Duration
	ErrorRate           float64
	// ActiveConnectionsRatio = Active / (Active + Idle)，无连接时为 0。
	ActiveConnectionsRatio float64
}

// Value 返回指标值。AverageResponseTime 以毫秒计。
func (a Averages) Value(m Metric) float64 {
	switch m {
	case MetricActiveConnections:
		return a.ActiveConnections
	case MetricIdleConnections:
		return a.IdleConnections
	case MetricTotalRequests:
		return a.TotalRequests
	case MetricAverageResponseTime:
		return float64(a.AverageResponseTime) / float64(time.Millisecond)
	case MetricErrorRate:
		return a.ErrorRate
	case MetricActiveConnectionsRatio:
		return a.ActiveConnectionsRatio
	}
	return 0
}

// average 计算样本均值，samples 为空时返回零值。
func average(samples []Sample) Averages {
	n := len(samples)
	if n == 0 {
		return Averages{}
	}
	var (
		active, idle, requests, errRate float64
		rt                              time.Duration
	)
	for _, s := range samples {
		active += float64(s.ActiveConnections)
		idle += float64(s.IdleConnections)
		requests += float64(s.TotalRequests)
		errRate += s.ErrorRate
		rt += s.AverageResponseTime
	}
	fn := float64(n)
	a := Averages{
		Samples:             n,
		ActiveConnections:   active / fn,
		IdleConnections:     idle / fn,
		TotalRequests:       requests / fn,
		AverageResponseTime: rt / time.Duration(n),
		ErrorRate:           errRate / fn,
	}
	if total := a.ActiveConnections + a.IdleConnections; total > 0 {
		a.ActiveConnectionsRatio = a.ActiveConnections / total
	}
	return a
}
