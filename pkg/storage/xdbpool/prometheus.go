package xdbpool

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector 以 Prometheus 格式导出池指标，每次采集时读取 Metrics 快照。
type Collector struct {
	pool *Pool

	connections        *prometheus.Desc
	acquireWait        *prometheus.Desc
	queryTime          *prometheus.Desc
	queries            *prometheus.Desc
	failedQueries      *prometheus.Desc
	slowQueries        *prometheus.Desc
	created            *prometheus.Desc
	destroyed          *prometheus.Desc
	timeouts           *prometheus.Desc
	createErrors       *prometheus.Desc
	validations        *prometheus.Desc
	validationFailures *prometheus.Desc
	scaleEvents        *prometheus.Desc
	health             *prometheus.Desc
	peak               *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector 创建 Prometheus Collector。namespace 为空时使用 "xdbpool"。
func NewCollector(p *Pool, namespace string) *Collector {
	if namespace == "" {
		namespace = "xdbpool"
	}
	constLabels := prometheus.Labels{"pool": p.name}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, constLabels)
	}
	return &Collector{
		pool:               p,
		connections:        desc("connections", "Connections by state.", "state"),
		acquireWait:        desc("acquire_wait_seconds_avg", "Average time spent waiting in Acquire."),
		queryTime:          desc("query_seconds_avg", "Average query execution time."),
		queries:            desc("queries_total", "Queries executed."),
		failedQueries:      desc("queries_failed_total", "Queries that failed."),
		slowQueries:        desc("queries_slow_total", "Queries over the slow query threshold."),
		created:            desc("connections_created_total", "Connections created."),
		destroyed:          desc("connections_destroyed_total", "Connections destroyed."),
		timeouts:           desc("acquire_timeouts_total", "Acquire calls that timed out."),
		createErrors:       desc("create_errors_total", "Connection creation failures."),
		validations:        desc("validations_total", "Validation probes run."),
		validationFailures: desc("validation_failures_total", "Validation probes that failed."),
		scaleEvents:        desc("scale_events_total", "Scale actions taken.", "action"),
		health:             desc("health", "Overall pool health, 1 for the current status.", "status"),
		peak:               desc("connections_peak", "Peak number of connections."),
	}
}

// Describe 实现 prometheus.Collector。
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.connections, c.acquireWait, c.queryTime, c.queries, c.failedQueries,
		c.slowQueries, c.created, c.destroyed, c.timeouts, c.createErrors,
		c.validations, c.validationFailures, c.scaleEvents, c.health, c.peak,
	} {
		ch <- d
	}
}

// Collect 实现 prometheus.Collector。
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.pool.Metrics()
	s := c.pool.Statistics()

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	gauge(c.connections, float64(m.Idle-m.Checked), StateIdle.String())
	gauge(c.connections, float64(m.Active), StateActive.String())
	gauge(c.connections, float64(m.Checked), StateChecked.String())
	gauge(c.connections, float64(m.Creating), StateCreating.String())
	gauge(c.connections, float64(m.Destroying), StateDestroying.String())
	gauge(c.acquireWait, m.AverageAcquireWait.Seconds())
	gauge(c.queryTime, m.AverageQueryTime.Seconds())
	gauge(c.peak, float64(s.PeakConnections))

	counter(c.queries, m.TotalQueries)
	counter(c.failedQueries, m.FailedQueries)
	counter(c.slowQueries, m.SlowQueries)
	counter(c.created, m.Created)
	counter(c.destroyed, m.Destroyed)
	counter(c.timeouts, m.Timeouts)
	counter(c.createErrors, m.CreateErrors)
	counter(c.validations, m.Validations)
	counter(c.validationFailures, m.ValidationFailures)
	counter(c.scaleEvents, m.ScaleUps, string(ScaleUp))
	counter(c.scaleEvents, m.ScaleDowns, string(ScaleDown))

	for _, h := range []Health{HealthHealthy, HealthDegraded, HealthUnhealthy} {
		v := 0.0
		if m.OverallHealth == h {
			v = 1
		}
		gauge(c.health, v, string(h))
	}
}
