package xdbpool

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/xdbkit/internal/storageopt"
)

const (
	instrumentationName = "github.com/omeyang/xdbkit/xdbpool"

	metricConnections      = "xdbpool.connections"
	metricAcquireDuration  = "xdbpool.acquire.duration"
	metricAcquireTimeouts  = "xdbpool.acquire.timeouts"
	metricQueryDuration    = "xdbpool.query.duration"
	metricQueryErrors      = "xdbpool.query.errors"
	metricCreated          = "xdbpool.connections.created"
	metricDestroyed        = "xdbpool.connections.destroyed"
	metricCreateErrors     = "xdbpool.connections.create_errors"
	metricScaleEvents      = "xdbpool.scale.events"
	spanExecute            = "xdbpool.Execute"
	attrPool               = "db.pool.name"
	attrState              = "state"
	attrReason             = "reason"
	attrAction             = "action"
	attrQueryFingerprint   = "db.query.fingerprint"
	attrConnectionsCurrent = "db.pool.connections"
)

// instruments 持有池的 OTel 指标。
type instruments struct {
	pool metric.MeasurementOption

	acquireDuration metric.Float64Histogram
	acquireTimeouts metric.Int64Counter
	queryDuration   metric.Float64Histogram
	queryErrors     metric.Int64Counter
	created         metric.Int64Counter
	destroyed       metric.Int64Counter
	createErrors    metric.Int64Counter
	scaleEvents     metric.Int64Counter

	registration metric.Registration
}

func newInstruments(provider metric.MeterProvider, p *Pool) (*instruments, error) {
	meter := provider.Meter(instrumentationName)
	poolAttr := attribute.String(attrPool, p.name)
	i := &instruments{pool: metric.WithAttributes(poolAttr)}

	var err error
	if i.acquireDuration, err = meter.Float64Histogram(metricAcquireDuration,
		metric.WithDescription("time spent waiting for a connection"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, instrumentErr(metricAcquireDuration, err)
	}
	if i.acquireTimeouts, err = meter.Int64Counter(metricAcquireTimeouts,
		metric.WithDescription("acquire calls that timed out"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, instrumentErr(metricAcquireTimeouts, err)
	}
	if i.queryDuration, err = meter.Float64Histogram(metricQueryDuration,
		metric.WithDescription("query execution time"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, instrumentErr(metricQueryDuration, err)
	}
	if i.queryErrors, err = meter.Int64Counter(metricQueryErrors,
		metric.WithDescription("failed queries"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, instrumentErr(metricQueryErrors, err)
	}
	if i.created, err = meter.Int64Counter(metricCreated,
		metric.WithDescription("connections created"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, instrumentErr(metricCreated, err)
	}
	if i.destroyed, err = meter.Int64Counter(metricDestroyed,
		metric.WithDescription("connections destroyed"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, instrumentErr(metricDestroyed, err)
	}
	if i.createErrors, err = meter.Int64Counter(metricCreateErrors,
		metric.WithDescription("connection creation failures"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, instrumentErr(metricCreateErrors, err)
	}
	if i.scaleEvents, err = meter.Int64Counter(metricScaleEvents,
		metric.WithDescription("scale up and scale down actions"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, instrumentErr(metricScaleEvents, err)
	}

	gauge, err := meter.Int64ObservableGauge(metricConnections,
		metric.WithDescription("connections by state"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, instrumentErr(metricConnections, err)
	}
	i.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		m := p.Metrics()
		for state, n := range map[string]int{
			StateIdle.String():       m.Idle - m.Checked,
			StateActive.String():     m.Active,
			StateChecked.String():    m.Checked,
			StateCreating.String():   m.Creating,
			StateDestroying.String(): m.Destroying,
		} {
			o.ObserveInt64(gauge, int64(n), metric.WithAttributes(poolAttr, attribute.String(attrState, state)))
		}
		return nil
	}, gauge)
	if err != nil {
		return nil, fmt.Errorf("xdbpool: register metric callback: %w", err)
	}
	return i, nil
}

func instrumentErr(name string, err error) error {
	return fmt.Errorf("xdbpool: create instrument %s: %w", name, err)
}

func (i *instruments) unregister() {
	if i == nil || i.registration == nil {
		return
	}
	_ = i.registration.Unregister() //nolint:errcheck // 关闭路径，忽略注销错误
}

func (i *instruments) acquireObserved(d time.Duration, err error) {
	if i == nil {
		return
	}
	ctx := context.Background()
	i.acquireDuration.Record(ctx, d.Seconds(), i.pool)
	if errors.Is(err, ErrAcquireTimeout) {
		i.acquireTimeouts.Add(ctx, 1, i.pool)
	}
}

func (i *instruments) queryObserved(d time.Duration, err error) {
	if i == nil {
		return
	}
	ctx := context.Background()
	i.queryDuration.Record(ctx, d.Seconds(), i.pool)
	if err != nil {
		i.queryErrors.Add(ctx, 1, i.pool)
	}
}

func (i *instruments) connectionCreated() {
	if i == nil {
		return
	}
	i.created.Add(context.Background(), 1, i.pool)
}

func (i *instruments) connectionDestroyed(reason string) {
	if i == nil {
		return
	}
	i.destroyed.Add(context.Background(), 1, i.pool, metric.WithAttributes(attribute.String(attrReason, reason)))
}

func (i *instruments) createFailed() {
	if i == nil {
		return
	}
	i.createErrors.Add(context.Background(), 1, i.pool)
}

func (i *instruments) scaled(action ScaleAction) {
	if i == nil {
		return
	}
	i.scaleEvents.Add(context.Background(), 1, i.pool, metric.WithAttributes(attribute.String(attrAction, string(action))))
}

// startSpan 为 Execute 创建客户端 span，只记录语句指纹，不记录原文。
func (p *Pool) startSpan(ctx context.Context, query string) (context.Context, trace.Span) {
	p.mu.Lock()
	current := len(p.records)
	p.mu.Unlock()
	return p.tracer.Start(ctx, spanExecute,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(attrPool, p.name),
			attribute.String(attrQueryFingerprint, strconv.FormatUint(storageopt.Fingerprint(query), 16)),
			attribute.Int(attrConnectionsCurrent, current),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
