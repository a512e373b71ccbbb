package xdbpool

import (
	"slices"
	"strings"
	"time"
)

// Health 池整体健康度。
type Health string

// 池整体健康度。
const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// Metrics 是池状态快照，每次调用时从当前状态重新计算。
//
// Total = Active + Idle；Creating 与 Destroying 不计入 Total。
// TotalQueryTime 与 TotalQueries 都是累计值，两次快照相减可得区间内的平均耗时。
type Metrics struct {
	Total  int
	Active int
	// Idle 包含被探测或恢复任务临时持有的空闲连接。
	Idle int
	// Checked 是 Idle 中被临时持有、暂不可借出的数量。
	Checked    int
	Creating   int
	Destroying int
	Unhealthy  int

	AverageAcquireWait time.Duration
	AverageQueryTime   time.Duration
	TotalQueryTime     time.Duration
	TotalQueries       int64
	FailedQueries      int64
	SlowQueries        int64

	Created            int64
	Destroyed          int64
	Validations        int64
	ValidationFailures int64
	Timeouts           int64
	CreateErrors       int64

	ScaleUps      int64
	ScaleDowns    int64
	LastScaleUp   time.Time
	LastScaleDown time.Time

	OverallHealth Health
}

// Utilization 返回 Active / Total，Total 为 0 时返回 0。
func (m Metrics) Utilization() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Active) / float64(m.Total)
}

// ErrorRate 返回失败查询占比。
func (m Metrics) ErrorRate() float64 {
	if m.TotalQueries == 0 {
		return 0
	}
	return float64(m.FailedQueries) / float64(m.TotalQueries)
}

// Metrics 返回当前指标快照。
func (p *Pool) Metrics() Metrics {
	cfg := p.Config()

	p.mu.Lock()
	m := Metrics{
		Total:         len(p.records),
		Creating:      p.creating,
		Destroying:    p.destroying,
		LastScaleUp:   p.lastScaleUp,
		LastScaleDown: p.lastScaleDown,
	}
	for _, rec := range p.records {
		switch rec.state {
		case StateActive:
			m.Active++
		case StateIdle:
			m.Idle++
		case StateChecked, StateRecovering:
			m.Idle++
			m.Checked++
		}
		if !rec.healthy {
			m.Unhealthy++
		}
	}
	p.mu.Unlock()

	m.AverageAcquireWait = p.wait.Average()
	m.AverageQueryTime = p.queries.Average()
	m.TotalQueryTime = p.queries.Total()
	m.TotalQueries = p.queries.QueryCount()
	m.FailedQueries = p.queries.QueryErrors()
	m.SlowQueries = p.slow.Count()
	m.Created = p.stats.created.Load()
	m.Destroyed = p.stats.destroyed.Load()
	m.Validations = p.stats.validations.Load()
	m.ValidationFailures = p.stats.validationFailures.Load()
	m.Timeouts = p.stats.timeouts.Load()
	m.CreateErrors = p.stats.createErrors.Load()
	m.ScaleUps = p.stats.scaleUps.Load()
	m.ScaleDowns = p.stats.scaleDowns.Load()
	m.OverallHealth = overallHealth(m, cfg)
	return m
}

// overallHealth 判定规则：
//   - 无连接且 MinConnections > 0，或超过一半连接不健康：unhealthy
//   - 存在不健康连接，或已满载且无空闲：degraded
//   - 其余：healthy
func overallHealth(m Metrics, cfg Config) Health {
	switch {
	case m.Total == 0 && cfg.MinConnections > 0:
		return HealthUnhealthy
	case m.Total > 0 && m.Unhealthy*2 > m.Total:
		return HealthUnhealthy
	case m.Unhealthy > 0:
		return HealthDegraded
	case m.Total >= cfg.MaxConnections && m.Idle == m.Checked:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

// Statistics 是池的累计统计。
type Statistics struct {
	StartedAt          time.Time
	Uptime             time.Duration
	CurrentConnections int
	PeakConnections    int
	// AverageConnections 是连接数对运行时间的加权平均。
	AverageConnections float64
	Acquisitions       int64
	Releases           int64
	Timeouts           int64
}

// Statistics 返回累计统计快照。
func (p *Pool) Statistics() Statistics {
	now := time.Now()

	p.mu.Lock()
	p.accountLocked(now)
	s := Statistics{
		StartedAt:          p.startedAt,
		Uptime:             now.Sub(p.startedAt),
		CurrentConnections: len(p.records),
		PeakConnections:    p.peak,
	}
	if secs := s.Uptime.Seconds(); secs > 0 {
		s.AverageConnections = p.connIntegral / secs
	}
	p.mu.Unlock()

	s.Acquisitions = p.stats.acquisitions.Load()
	s.Releases = p.stats.releases.Load()
	s.Timeouts = p.stats.timeouts.Load()
	return s
}

// Connections 返回所有连接记录的快照，按创建时间排序。
func (p *Pool) Connections() []ConnectionInfo {
	now := time.Now()

	p.mu.Lock()
	infos := make([]ConnectionInfo, 0, len(p.records))
	for _, rec := range p.records {
		infos = append(infos, rec.info(now))
	}
	p.mu.Unlock()

	slices.SortFunc(infos, func(a, b ConnectionInfo) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return infos
}
