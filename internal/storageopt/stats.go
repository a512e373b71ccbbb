package storageopt

import (
	"sync/atomic"
	"time"
)

// =============================================================================
// 通用统计计数器
// =============================================================================

// SlowQueryCounter 慢查询计数器。
type SlowQueryCounter struct {
	count atomic.Int64
}

// Inc 增加慢查询计数。
func (s *SlowQueryCounter) Inc() {
	s.count.Add(1)
}

// Count 返回慢查询计数。
func (s *SlowQueryCounter) Count() int64 {
	return s.count.Load()
}

// QueryCounter 查询计数器。
// 除次数与错误数外还累计耗时，用于计算平均查询时间。
type QueryCounter struct {
	queryCount  atomic.Int64
	queryErrors atomic.Int64
	totalNanos  atomic.Int64
}

// Observe 记录一次查询。
func (q *QueryCounter) Observe(d time.Duration, failed bool) {
	q.queryCount.Add(1)
	q.totalNanos.Add(int64(d))
	if failed {
		q.queryErrors.Add(1)
	}
}

// QueryCount 返回查询计数。
func (q *QueryCounter) QueryCount() int64 {
	return q.queryCount.Load()
}

// QueryErrors 返回查询错误计数。
func (q *QueryCounter) QueryErrors() int64 {
	return q.queryErrors.Load()
}

// Total 返回累计查询耗时。
func (q *QueryCounter) Total() time.Duration {
	return time.Duration(q.totalNanos.Load())
}

// Average 返回平均查询耗时，无查询时为 0。
func (q *QueryCounter) Average() time.Duration {
	n := q.queryCount.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(q.totalNanos.Load() / n)
}

// DurationAverage 是并发安全的耗时均值累加器。
type DurationAverage struct {
	count      atomic.Int64
	totalNanos atomic.Int64
}

// Add 记录一个样本。
func (a *DurationAverage) Add(d time.Duration) {
	a.count.Add(1)
	a.totalNanos.Add(int64(d))
}

// Count 返回样本数。
func (a *DurationAverage) Count() int64 {
	return a.count.Load()
}

// Average 返回均值，无样本时为 0。
func (a *DurationAverage) Average() time.Duration {
	n := a.count.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(a.totalNanos.Load() / n)
}
