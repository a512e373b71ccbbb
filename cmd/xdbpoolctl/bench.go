package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/omeyang/xdbkit/pkg/config/xdbconf"
	"github.com/omeyang/xdbkit/pkg/storage/xdbpool"
	"github.com/omeyang/xdbkit/pkg/storage/xdbredis"
	"github.com/omeyang/xdbkit/pkg/storage/xdbsql"
	"github.com/omeyang/xdbkit/pkg/storage/xdbtune"
)

const driverRedis = "redis"

type benchOptions struct {
	Driver           string
	DSN              string
	Query            string
	ConfigPath       string
	Watch            bool
	Duration         time.Duration
	Concurrency      int
	Retries          int
	Optimize         bool
	OptimizeInterval time.Duration
	SampleInterval   time.Duration
	SlowQuery        time.Duration
	MetricsAddr      string
	Output           string
}

func (o *benchOptions) validate() error {
	switch {
	case o.Driver == "":
		return usagef("--driver is required")
	case o.Duration <= 0:
		return usagef("--duration must be > 0")
	case o.Concurrency < 1:
		return usagef("--concurrency must be >= 1")
	case o.Retries < 0:
		return usagef("--retries must be >= 0")
	case o.Watch && o.ConfigPath == "":
		return usagef("--watch requires --config")
	case o.Output != "text" && o.Output != "yaml":
		return usagef("invalid --output %q", o.Output)
	}
	if o.Query == "" {
		o.Query = "SELECT 1"
		if o.Driver == driverRedis {
			o.Query = xdbredis.ValidationQuery
		}
	}
	return nil
}

// benchReport 是一次压测的汇总。
type benchReport struct {
	Driver      string        `yaml:"driver"`
	Query       string        `yaml:"query"`
	Duration    time.Duration `yaml:"duration"`
	Concurrency int           `yaml:"concurrency"`
	Requests    int64         `yaml:"requests"`
	Failures    int64         `yaml:"failures"`
	Throughput  float64       `yaml:"throughput_per_second"`

	Pool       poolSummary `yaml:"pool"`
	Decisions  []string    `yaml:"decisions,omitempty"`
	FinalMin   int         `yaml:"final_min_connections"`
	FinalMax   int         `yaml:"final_max_connections"`
	Health     string      `yaml:"health"`
	CleanedUp  int64       `yaml:"cleaned_up"`
	ScaleUps   int64       `yaml:"scale_ups"`
	ScaleDowns int64       `yaml:"scale_downs"`
}

type poolSummary struct {
	Total              int           `yaml:"total"`
	Active             int           `yaml:"active"`
	Idle               int           `yaml:"idle"`
	PeakConnections    int           `yaml:"peak_connections"`
	AverageConnections float64       `yaml:"average_connections"`
	Created            int64         `yaml:"created"`
	Destroyed          int64         `yaml:"destroyed"`
	Acquisitions       int64         `yaml:"acquisitions"`
	Timeouts           int64         `yaml:"timeouts"`
	SlowQueries        int64         `yaml:"slow_queries"`
	AverageAcquireWait time.Duration `yaml:"average_acquire_wait"`
	AverageQueryTime   time.Duration `yaml:"average_query_time"`
}

// runBench 建立连接池与生命周期管理器，按 o 施加负载直到 Duration 到期或 ctx 取消。
func runBench(ctx context.Context, o benchOptions, logger *slog.Logger) (*benchReport, error) {
	// redis 不支持 SELECT 1，文件未指定 validation_query 时用 PING。
	base := xdbpool.DefaultConfig()
	if o.Driver == driverRedis {
		base.ValidationQuery = xdbredis.ValidationQuery
	}
	cfg := base
	if o.ConfigPath != "" {
		var err error
		if cfg, err = xdbconf.Load(o.ConfigPath, xdbconf.WithBase(base)); err != nil {
			return nil, err
		}
	}

	factory, closeBackend, err := openBackend(ctx, o, logger)
	if err != nil {
		return nil, err
	}
	defer closeBackend()

	pool, err := xdbpool.New(factory,
		xdbpool.WithName("bench"),
		xdbpool.WithConfig(cfg),
		xdbpool.WithLogger(logger),
		xdbpool.WithSlowQueryThreshold(o.SlowQuery),
	)
	if err != nil {
		return nil, err
	}

	lopts := []xdbpool.LifecycleOption{}
	if sampler, err := xdbpool.NewProcessMemorySampler(); err == nil {
		lopts = append(lopts, xdbpool.WithMemorySampler(sampler))
	} else {
		logger.Warn("process memory sampling unavailable, estimating", slog.Any("error", err))
	}
	lm, err := xdbpool.NewLifecycleManager(pool, lopts...)
	if err != nil {
		return nil, errors.Join(err, pool.Close())
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := lm.Shutdown(sctx); err != nil {
			logger.Warn("shutdown", slog.Any("error", err))
		}
	}()
	if err := lm.Start(ctx); err != nil {
		return nil, err
	}

	if o.Watch {
		w, err := xdbconf.WatchPool(o.ConfigPath, pool, xdbconf.WithBase(base), xdbconf.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		defer func() { _ = w.Stop() }()
	}

	if o.MetricsAddr != "" {
		stop, err := serveMetrics(o.MetricsAddr, pool, logger)
		if err != nil {
			return nil, err
		}
		defer stop()
	}

	runCtx, cancel := context.WithTimeout(ctx, o.Duration)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	var opt *xdbtune.Optimizer
	if o.Optimize {
		opt, err = xdbtune.New(cfg,
			xdbtune.WithLogger(logger),
			xdbtune.WithInterval(o.OptimizeInterval),
			xdbtune.WithSampleInterval(o.SampleInterval),
			xdbtune.Manage(pool),
		)
		if err != nil {
			return nil, err
		}
		g.Go(func() error { return opt.Run(gctx, pool) })
	}

	var requests, failures atomic.Int64
	start := time.Now()
	for range o.Concurrency {
		g.Go(func() error {
			for gctx.Err() == nil {
				_, err := pool.Execute(gctx, o.Query, nil, xdbpool.ExecOptions{Retries: o.Retries})
				if gctx.Err() != nil {
					return nil
				}
				requests.Add(1)
				if err != nil {
					failures.Add(1)
					logger.Debug("execute failed", slog.Any("error", err))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	r := &benchReport{
		Driver:      o.Driver,
		Query:       o.Query,
		Duration:    elapsed.Round(time.Millisecond),
		Concurrency: o.Concurrency,
		Requests:    requests.Load(),
		Failures:    failures.Load(),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		r.Throughput = float64(r.Requests) / secs
	}
	m, s := pool.Metrics(), pool.Statistics()
	r.Pool = poolSummary{
		Total:              m.Total,
		Active:             m.Active,
		Idle:               m.Idle,
		PeakConnections:    s.PeakConnections,
		AverageConnections: s.AverageConnections,
		Created:            m.Created,
		Destroyed:          m.Destroyed,
		Acquisitions:       s.Acquisitions,
		Timeouts:           s.Timeouts,
		SlowQueries:        m.SlowQueries,
		AverageAcquireWait: m.AverageAcquireWait,
		AverageQueryTime:   m.AverageQueryTime,
	}
	final := pool.Config()
	r.FinalMin, r.FinalMax = final.MinConnections, final.MaxConnections
	r.Health = string(m.OverallHealth)
	cs := lm.CleanupStats()
	r.CleanedUp = cs.IdleConnectionsRemoved + cs.ExpiredConnectionsRemoved + cs.UnhealthyConnectionsRemoved
	r.ScaleUps, r.ScaleDowns = m.ScaleUps, m.ScaleDowns
	if opt != nil {
		for _, d := range opt.Decisions() {
			if d.Applied() {
				r.Decisions = append(r.Decisions, fmt.Sprintf("%s %v min=%d max=%d",
					d.Time.Format(time.TimeOnly), d.Strategies, d.After.MinConnections, d.After.MaxConnections))
			}
		}
	}
	return r, nil
}

// openBackend 按 driver 创建连接工厂，返回的函数关闭后端客户端。
func openBackend(ctx context.Context, o benchOptions, logger *slog.Logger) (xdbpool.Factory, func(), error) {
	if o.Driver == driverRedis {
		client, err := xdbredis.Open(ctx, o.DSN, xdbredis.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return client.Factory(), func() { _ = client.Close() }, nil
	}

	db, err := xdbsql.Open(ctx, o.Driver, o.DSN, xdbsql.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	// 连接由 xdbpool 管理，database/sql 不保留空闲连接。
	db.Client().SetMaxIdleConns(0)
	return db.Factory(), func() { _ = db.Close() }, nil
}

// serveMetrics 在 addr 上暴露 pool 的 Prometheus 指标，返回关闭函数。
func serveMetrics(addr string, pool *xdbpool.Pool, logger *slog.Logger) (func(), error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(xdbpool.NewCollector(pool, "xdbpoolctl")); err != nil {
		return nil, fmt.Errorf("register collector: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", slog.Any("error", err))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-done
	}, nil
}

func (r *benchReport) write(w io.Writer, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	rows := []struct {
		k string
		v any
	}{
		{"driver", r.Driver},
		{"query", r.Query},
		{"duration", r.Duration},
		{"concurrency", r.Concurrency},
		{"requests", r.Requests},
		{"failures", r.Failures},
		{"throughput", fmt.Sprintf("%.1f/s", r.Throughput)},
		{"connections", fmt.Sprintf("total=%d active=%d idle=%d peak=%d avg=%.1f",
			r.Pool.Total, r.Pool.Active, r.Pool.Idle, r.Pool.PeakConnections, r.Pool.AverageConnections)},
		{"created/destroyed", fmt.Sprintf("%d/%d", r.Pool.Created, r.Pool.Destroyed)},
		{"acquisitions", r.Pool.Acquisitions},
		{"timeouts", r.Pool.Timeouts},
		{"slow queries", r.Pool.SlowQueries},
		{"avg acquire wait", r.Pool.AverageAcquireWait},
		{"avg query time", r.Pool.AverageQueryTime},
		{"scale up/down", fmt.Sprintf("%d/%d", r.ScaleUps, r.ScaleDowns)},
		{"cleaned up", r.CleanedUp},
		{"final min/max", fmt.Sprintf("%d/%d", r.FinalMin, r.FinalMax)},
		{"health", r.Health},
	}
	for _, row := range rows {
		_, _ = fmt.Fprintf(tw, "%s\t%v\n", row.k, row.v)
	}
	for _, d := range r.Decisions {
		_, _ = fmt.Fprintf(tw, "decision\t%s\n", d)
	}
	return tw.Flush()
}
