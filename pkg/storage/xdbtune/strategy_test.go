package xdbtune

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xdbkit/pkg/storage/xdbpool"
)

func TestCondition_Holds(t *testing.T) {
	a := Averages{
		ActiveConnections:      8,
		IdleConnections:        2,
		AverageResponseTime:    500 * time.Millisecond,
		ErrorRate:              0.05,
		ActiveConnectionsRatio: 0.8,
	}
	tests := []struct {
		name string
		c    Condition
		want bool
	}{
		{"ge equal", Condition{MetricErrorRate, GreaterOrEqual, 0.05}, true},
		{"gt equal", Condition{MetricErrorRate, Greater, 0.05}, false},
		{"le below", Condition{MetricIdleConnections, LessOrEqual, 3}, true},
		{"lt equal", Condition{MetricActiveConnections, Less, 8}, false},
		{"response time in ms", Condition{MetricAverageResponseTime, GreaterOrEqual, 500}, true},
		{"ratio", Condition{MetricActiveConnectionsRatio, GreaterOrEqual, 0.8}, true},
		{"unknown comparison", Condition{MetricErrorRate, "==", 0.05}, false},
		{"unknown metric reads zero", Condition{"bogus", LessOrEqual, 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.Holds(a))
		})
	}
}

func TestStrategy_Matches(t *testing.T) {
	apply := func(Averages, xdbpool.Config) Patch { return Patch{} }
	a := Averages{ErrorRate: 0.1, ActiveConnectionsRatio: 0.5}

	assert.False(t, Strategy{Name: "empty", Apply: apply}.Matches(a))
	assert.False(t, Strategy{
		Name:       "no apply",
		Conditions: []Condition{{MetricErrorRate, GreaterOrEqual, 0}},
	}.Matches(a))
	assert.True(t, Strategy{
		Name: "all hold",
		Conditions: []Condition{
			{MetricErrorRate, GreaterOrEqual, 0.05},
			{MetricActiveConnectionsRatio, Less, 0.8},
		},
		Apply: apply,
	}.Matches(a))
	assert.False(t, Strategy{
		Name: "one fails",
		Conditions: []Condition{
			{MetricErrorRate, GreaterOrEqual, 0.05},
			{MetricActiveConnectionsRatio, GreaterOrEqual, 0.8},
		},
		Apply: apply,
	}.Matches(a))
}

func TestOrdered_ErrorMitigationFirst(t *testing.T) {
	in := []Strategy{
		{Name: "a"},
		{Name: "b", ErrorMitigation: true},
		{Name: "c"},
		{Name: "d", ErrorMitigation: true},
	}
	var names []string
	for _, s := range ordered(in) {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, names)
	assert.Equal(t, "a", in[0].Name, "input must not be reordered")
}

func TestDefaultStrategies(t *testing.T) {
	var names []string
	for _, s := range DefaultStrategies() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		StrategyHighErrorRate, StrategyHighLatency, StrategyHighUtilization, StrategyLowUtilization,
	}, names)
	assert.True(t, DefaultStrategies()[0].ErrorMitigation)
}

func TestHighErrorRate(t *testing.T) {
	s := HighErrorRate()
	assert.False(t, s.Matches(Averages{ErrorRate: 0.049}))
	require.True(t, s.Matches(Averages{ErrorRate: 0.05}))

	cfg := xdbpool.DefaultConfig()
	p := s.Apply(Averages{}, cfg)
	assert.Equal(t, true, *p.TestOnBorrow)
	assert.Equal(t, cfg.MaxValidationFailures-1, *p.MaxValidationFailures)
	assert.Equal(t, cfg.ValidationInterval/2, *p.ValidationInterval)

	cfg.MaxValidationFailures = 1
	cfg.ValidationInterval = 6 * time.Second
	p = s.Apply(Averages{}, cfg)
	assert.Equal(t, 1, *p.MaxValidationFailures)
	assert.Equal(t, 5*time.Second, *p.ValidationInterval)

	cfg.ValidationInterval = 0
	assert.Nil(t, s.Apply(Averages{}, cfg).ValidationInterval, "disabled loop stays disabled")
}

func TestHighLatency(t *testing.T) {
	s := HighLatency()
	assert.False(t, s.Matches(Averages{AverageResponseTime: 499 * time.Millisecond}))
	require.True(t, s.Matches(Averages{AverageResponseTime: 500 * time.Millisecond}))

	cfg := xdbpool.DefaultConfig()
	p := s.Apply(Averages{}, cfg)
	assert.Equal(t, cfg.MaxConnections+cfg.ConnectionIncrement, *p.MaxConnections)
	assert.Equal(t, cfg.AcquireTimeout*3/2, *p.AcquireTimeout)

	cfg.AcquireTimeout = 25 * time.Second
	assert.Equal(t, 30*time.Second, *s.Apply(Averages{}, cfg).AcquireTimeout)
}

func TestHighUtilization(t *testing.T) {
	s := HighUtilization()
	assert.False(t, s.Matches(Averages{ActiveConnectionsRatio: 0.79}))
	require.True(t, s.Matches(Averages{ActiveConnectionsRatio: 0.9}))

	cfg := xdbpool.DefaultConfig()
	cfg.MinConnections = 2
	cfg.MaxConnections = 5
	cfg.ConnectionIncrement = 2
	cfg.ScaleUpThreshold = 0.8
	p := s.Apply(Averages{}, cfg)
	assert.Equal(t, 4, *p.MinConnections)
	assert.Equal(t, 7, *p.MaxConnections)
	assert.InDelta(t, 0.7, *p.ScaleUpThreshold, 1e-9)

	cfg.MinConnections = 4
	cfg.ScaleUpThreshold = 0.5
	p = s.Apply(Averages{}, cfg)
	assert.Equal(t, 5, *p.MinConnections, "min bounded by current max")
	assert.InDelta(t, 0.5, *p.ScaleUpThreshold, 1e-9)
	assert.NoError(t, p.Apply(cfg).Validate())
}

func TestLowUtilization(t *testing.T) {
	s := LowUtilization()
	assert.False(t, s.Matches(Averages{ActiveConnectionsRatio: 0.1}), "no idle connections")
	assert.False(t, s.Matches(Averages{ActiveConnectionsRatio: 0.3, IdleConnections: 3}))
	require.True(t, s.Matches(Averages{ActiveConnectionsRatio: 0.2, IdleConnections: 4}))

	cfg := xdbpool.DefaultConfig()
	p := s.Apply(Averages{}, cfg)
	assert.Equal(t, 0, *p.MinConnections)
	assert.Equal(t, cfg.MaxConnections-cfg.ConnectionIncrement, *p.MaxConnections)
	assert.Equal(t, cfg.IdleTimeout/2, *p.IdleTimeout)

	cfg.IdleTimeout = 40 * time.Second
	assert.Equal(t, 30*time.Second, *s.Apply(Averages{}, cfg).IdleTimeout)
	cfg.IdleTimeout = 10 * time.Second
	assert.Equal(t, 10*time.Second, *s.Apply(Averages{}, cfg).IdleTimeout)
	cfg.IdleTimeout = 0
	assert.Nil(t, s.Apply(Averages{}, cfg).IdleTimeout)
}

func TestPatch_MergeApplyFields(t *testing.T) {
	first := Patch{MinConnections: Set(3), MaxConnections: Set(8)}
	second := Patch{MaxConnections: Set(9), TestOnBorrow: Set(true)}

	merged := first.Merge(second)
	assert.Equal(t, 3, *merged.MinConnections)
	assert.Equal(t, 9, *merged.MaxConnections)
	assert.True(t, *merged.TestOnBorrow)
	assert.Equal(t, 8, *first.MaxConnections, "merge must not mutate the receiver")
	assert.Equal(t, []string{"min_connections", "max_connections", "test_on_borrow"}, merged.Fields())

	cfg := merged.Apply(xdbpool.DefaultConfig())
	assert.Equal(t, 3, cfg.MinConnections)
	assert.Equal(t, 9, cfg.MaxConnections)
	assert.True(t, cfg.TestOnBorrow)
	assert.Equal(t, xdbpool.DefaultAcquireTimeout, cfg.AcquireTimeout)

	assert.True(t, Patch{}.Empty())
	assert.False(t, merged.Empty())
}
