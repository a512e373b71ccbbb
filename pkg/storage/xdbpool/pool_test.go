package xdbpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestNew_NilFactory(t *testing.T) {
	p, err := New(nil)
	assert.Nil(t, p)
	assert.ErrorIs(t, err, ErrNilFactory)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MinConnections = 10
	cfg.MaxConnections = 2
	p, err := New((&fakeDB{}).factory, WithConfig(cfg), WithLogger(discardLogger()))
	assert.Nil(t, p)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNew_FillsMinConnections(t *testing.T) {
	db := &fakeDB{}
	cfg := testConfig()
	cfg.MinConnections = 3
	p := newTestPool(t, db, cfg)

	m := p.Metrics()
	assert.Equal(t, 3, m.Total)
	assert.Equal(t, 3, m.Idle)
	assert.Equal(t, 0, m.Active)
	assert.Equal(t, int64(3), m.Created)
	assert.Len(t, db.all(), 3)
}

func TestNew_InitialFillFailureKeepsRunning(t *testing.T) {
	db := &fakeDB{}
	db.failCreate.Store(true)
	cfg := testConfig()
	cfg.MinConnections = 2
	p := newTestPool(t, db, cfg)

	m := p.Metrics()
	assert.Equal(t, 0, m.Total)
	assert.Equal(t, int64(2), m.CreateErrors)
	assert.Equal(t, HealthUnhealthy, m.OverallHealth)

	db.failCreate.Store(false)
	n, err := p.Replenish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, p.Metrics().Idle)
}

func TestAcquireRelease_Basic(t *testing.T) {
	db := &fakeDB{}
	p := newTestPool(t, db, testConfig())

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID())
	assert.NotNil(t, c.Raw())
	assert.Equal(t, 1, p.Metrics().Active)

	require.NoError(t, c.Release())
	m := p.Metrics()
	assert.Equal(t, 0, m.Active)
	assert.Equal(t, 1, m.Idle)

	s := p.Statistics()
	assert.Equal(t, int64(1), s.Acquisitions)
	assert.Equal(t, int64(1), s.Releases)
}

func TestAcquire_ReusesLeastRecentlyReleased(t *testing.T) {
	db := &fakeDB{}
	p := newTestPool(t, db, testConfig())
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Release())
	require.NoError(t, b.Release())

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID(), c.ID())
	require.NoError(t, c.Release())
	assert.Len(t, db.all(), 2)
}

func TestAcquire_SkipsUnhealthyConnections(t *testing.T) {
	db := &fakeDB{}
	cfg := testConfig()
	cfg.MinConnections = 2
	cfg.MaxConnections = 2
	p := newTestPool(t, db, cfg)

	ids := p.idleIDs()
	require.Len(t, ids, 2)
	p.mu.Lock()
	p.records[ids[0]].healthy = false
	p.records[ids[0]].valid = false
	p.mu.Unlock()

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ids[1], c.ID())

	// 唯一健康的连接已借出，池已满，不健康的连接不会被借出
	cfg.AcquireTimeout = 50 * time.Millisecond
	require.NoError(t, p.UpdateConfiguration(cfg))
	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrAcquireTimeout)
	require.NoError(t, c.Release())
}

func TestAcquire_ConcurrentUpToMax(t *testing.T) {
	const n = 5
	db := &fakeDB{}
	cfg := testConfig()
	cfg.MinConnections = 0
	cfg.MaxConnections = n
	cfg.AcquireTimeout = 200 * time.Millisecond
	p := newTestPool(t, db, cfg)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		conns []*Conn
		errs  atomic.Int32
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Acquire(context.Background())
			if err != nil {
				errs.Add(1)
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Zero(t, errs.Load())
	m := p.Metrics()
	assert.Equal(t, n, m.Total)
	assert.Equal(t, n, m.Active)
	assert.Zero(t, m.Timeouts)

	_, err := p.Acquire(context.Background())
	require.ErrorIs(t, err, ErrAcquireTimeout)
	assert.Equal(t, int64(1), p.Metrics().Timeouts)

	for _, c := range conns {
		require.NoError(t, c.Release())
	}
	assert.Equal(t, n, p.Metrics().Idle)
}

// 池已满且唯一连接被占用时，第二次获取在 AcquireTimeout 左右超时。
func TestAcquire_TimeoutWhenExhausted(t *testing.T) {
	db := &fakeDB{}
	cfg := testConfig()
	cfg.MaxConnections = 1
	cfg.AcquireTimeout = 200 * time.Millisecond
	p := newTestPool(t, db, cfg)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(context.Background())
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrAcquireTimeout)
	assert.GreaterOrEqual(t, elapsed, 190*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond)
	require.NoError(t, held.Release())
}

func TestAcquire_WaiterWokenByRelease(t *testing.T) {
	db := &fakeDB{}
	cfg := testConfig()
	cfg.MaxConnections = 1
	cfg.AcquirePollInterval = time.Second
	p := newTestPool(t, db, cfg)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	got := make(chan *Conn, 1)
	go func() {
		c, err := p.Acquire(context.Background())
		if err == nil {
			got <- c
		}
		close(got)
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, held.Release())

	select {
	case c, ok := <-got:
		require.True(t, ok)
		assert.Equal(t, held.ID(), c.ID())
		require.NoError(t, c.Release())
	case <-time.After(500 * time.Millisecond):
		t.Fatal("waiter was not woken by release")
	}
}

func TestAcquire_ContextCanceled(t *testing.T) {
	db := &fakeDB{}
	cfg := testConfig()
	cfg.MaxConnections = 1
	p := newTestPool(t, db, cfg)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrAcquireTimeout)
	require.NoError(t, held.Release())
}

func TestAcquire_ClosedPool(t *testing.T) {
	p := newTestPool(t, &fakeDB{}, testConfig())
	require.NoError(t, p.Close())

	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
	_, err = p.Execute(context.Background(), "SELECT 1", nil, ExecOptions{})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestAcquire_WaiterReleasedOnClose(t *testing.T) {
	db := &fakeDB{}
	cfg := testConfig()
	cfg.MaxConnections = 1
	cfg.AcquireTimeout = 5 * time.Second
	p := newTestPool(t, db, cfg)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errc <- err
	}()
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, p.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter not released on close")
	}
	assert.NoError(t, held.Release())
}

func TestAcquire_CreateFailure(t *testing.T) {
	db := &fakeDB{}
	db.failCreate.Store(true)
	p := newTestPool(t, db, testConfig())

	_, err := p.Acquire(context.Background())
	require.ErrorIs(t, err, ErrConnectionCreate)
	assert.ErrorIs(t, err, errDial)
	m := p.Metrics()
	assert.Equal(t, int64(1), m.CreateErrors)
	assert.Zero(t, m.Total)
	assert.Zero(t, m.Creating)
}

func TestAcquire_TestOnBorrowReplacesFailingConnection(t *testing.T) {
	db := &fakeDB{}
	cfg := testConfig()
	cfg.MinConnections = 1
	cfg.TestOnBorrow = true
	p := newTestPool(t, db, cfg)
	events := recordEvents(p)
	original := p.idleIDs()[0]

	db.failValidation.Store(true)
	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, original, c.ID())
	require.NoError(t, c.Release())

	require.NoError(t, p.Close())
	assert.Equal(t, 1, events.destroyedWith(ReasonValidationFailed))
	m := p.Metrics()
	assert.Equal(t, int64(1), m.ValidationFailures)
}

func TestAcquire_TestOnBorrowPasses(t *testing.T) {
	db := &fakeDB{}
	cfg := testConfig()
	cfg.MinConnections = 1
	cfg.TestOnBorrow = true
	p := newTestPool(t, db, cfg)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), db.validations.Load())
	assert.Equal(t, StateActive, p.Connections()[0].State)
	require.NoError(t, c.Release())
}

func TestAcquire_DestroysExpiredIdle(t *testing.T) {
	db := &fakeDB{}
	cfg := testConfig()
	cfg.MinConnections = 1
	cfg.MaxLifetime = 20 * time.Millisecond
	p := newTestPool(t, db, cfg)
	original := p.idleIDs()[0]

	time.Sleep(30 * time.Millisecond)
	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, original, c.ID())
	assert.Equal(t, int32(1), db.all()[0].closes.Load())
	require.NoError(t, c.Release())
}

func TestRelease_Twice(t *testing.T) {
	p := newTestPool(t, &fakeDB{}, testConfig())
	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Release())
	require.NoError(t, c.Release())
	assert.Equal(t, int64(1), p.Statistics().Releases)
	assert.Equal(t, 1, p.Metrics().Idle)

	_, err = c.Execute(context.Background(), "SELECT 2", nil, ExecOptions{})
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestRelease_NilAndForeignHandles(t *testing.T) {
	p1 := newTestPool(t, &fakeDB{}, testConfig())
	p2 := newTestPool(t, &fakeDB{}, testConfig())

	assert.ErrorIs(t, p1.Release(nil), ErrUnknownConnection)

	c, err := p2.Acquire(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, p1.Release(c), ErrUnknownConnection)
	require.NoError(t, c.Release())
}

func TestRelease_UnknownConnectionIsClosed(t *testing.T) {
	p := newTestPool(t, &fakeDB{}, testConfig())
	events := recordEvents(p)
	stray := &fakeConn{db: &fakeDB{}}

	err := p.Release(&Conn{id: "stray", conn: stray, pool: p})
	require.ErrorIs(t, err, ErrUnknownConnection)
	assert.Equal(t, int32(1), stray.closes.Load())

	require.NoError(t, p.Close())
	assert.Equal(t, 1, events.destroyedWith(ReasonUnknown))
}

func TestRelease_AfterCloseDoesNotDoubleClose(t *testing.T) {
	db := &fakeDB{}
	cfg := testConfig()
	cfg.MinConnections = 2
	p := newTestPool(t, db, cfg)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Close())

	assert.NoError(t, c.Release())
	db.requireClosedOnce(t)
}

func TestRelease_PastMaxLifetimeDestroys(t *testing.T) {
	db := &fakeDB{}
	cfg := testConfig()
	cfg.MaxLifetime = 20 * time.Millisecond
	p := newTestPool(t, db, cfg)
	events := recordEvents(p)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, c.Release())

	assert.Zero(t, p.Metrics().Total)
	assert.Equal(t, int32(1), db.all()[0].closes.Load())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, events.destroyedWith(ReasonMaxLifetime))
}

func TestRelease_TestOnReturnPasses(t *testing.T) {
	db := &fakeDB{}
	cfg := testConfig()
	cfg.TestOnReturn = true
	p := newTestPool(t, db, cfg)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Release())

	require.Eventually(t, func() bool {
		infos := p.Connections()
		return db.validations.Load() == 1 && len(infos) == 1 && infos[0].State == StateIdle
	}, time.Second, 5*time.Millisecond)
	assert.True(t, p.Connections()[0].Valid)
}

// 归还后探测失败的连接被销毁，不会以无效状态滞留在空闲队列中占用名额。
func TestRelease_TestOnReturnFailureDestroys(t *testing.T) {
	db := &fakeDB{}
	cfg := testConfig()
	cfg.MaxConnections = 1
	cfg.TestOnReturn = true
	cfg.TestWhileIdle = false
	p := newTestPool(t, db, cfg)
	events := recordEvents(p)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	first := c.ID()
	db.failValidation.Store(true)
	require.NoError(t, c.Release())

	require.Eventually(t, func() bool {
		return db.all()[0].closes.Load() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, p.Metrics().Total)

	db.failValidation.Store(false)
	c, err = p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, c.ID())
	require.NoError(t, c.Release())

	require.NoError(t, p.Close())
	assert.Equal(t, 1, events.destroyedWith(ReasonValidationFailed))
}

func TestClose_Idempotent(t *testing.T) {
	db := &fakeDB{}
	cfg := testConfig()
	cfg.MinConnections = 3
	p := newTestPool(t, db, cfg)
	events := recordEvents(p)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, p.Closed())

	db.requireClosedOnce(t)
	assert.Equal(t, 1, events.count(EventShutdownInitiated))
	assert.Equal(t, 3, events.destroyedWith(ReasonShutdown))
	assert.ErrorIs(t, p.UpdateConfiguration(cfg), ErrPoolClosed)
	_, err := p.Replenish(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestClose_ReportsConnectionCloseError(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := NewMockConnection(ctrl)
	closeErr := errors.New("socket already gone")
	conn.EXPECT().Close().Return(closeErr).Times(1)

	cfg := testConfig()
	cfg.MinConnections = 1
	p, err := New(func(context.Context) (Connection, error) { return conn, nil },
		WithConfig(cfg), WithLogger(discardLogger()))
	require.NoError(t, err)

	err = p.Close()
	require.ErrorIs(t, err, closeErr)
	assert.Equal(t, err, p.Close())
}

func TestNew_NilConnectionFromFactory(t *testing.T) {
	p, err := New(func(context.Context) (Connection, error) { return nil, nil },
		WithConfig(testConfig()), WithLogger(discardLogger()))
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrConnectionCreate)
}

func TestExecute(t *testing.T) {
	db := &fakeDB{}
	p := newTestPool(t, db, testConfig())
	ctx := context.Background()

	res, err := p.Execute(ctx, "SELECT name FROM users", []any{1}, ExecOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "SELECT name FROM users", res.Data)

	db.failQuery.Store(true)
	res, err = p.Execute(ctx, "SELEC oops", nil, ExecOptions{})
	require.ErrorIs(t, err, ErrQueryFailed)
	assert.Contains(t, err.Error(), "syntax error")
	assert.False(t, res.Success)

	m := p.Metrics()
	assert.Equal(t, int64(2), m.TotalQueries)
	assert.Equal(t, int64(1), m.FailedQueries)
	assert.InDelta(t, 0.5, m.ErrorRate(), 1e-9)
	assert.GreaterOrEqual(t, m.TotalQueryTime, m.AverageQueryTime)
	assert.Equal(t, 1, m.Idle)
	assert.Equal(t, int64(1), p.Connections()[0].ErrorCount)
}

func TestExecute_Timeout(t *testing.T) {
	db := &fakeDB{}
	db.execDelay.Store(int64(time.Second))
	p := newTestPool(t, db, testConfig())

	_, err := p.Execute(context.Background(), "SELECT sleep(1)", nil, ExecOptions{Timeout: 20 * time.Millisecond})
	require.ErrorIs(t, err, ErrQueryFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, p.Metrics().Idle)
}

func TestExecuteAs(t *testing.T) {
	p := newTestPool(t, &fakeDB{}, testConfig())
	ctx := context.Background()

	s, err := ExecuteAs[string](ctx, p, "SELECT 'x'", nil, ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 'x'", s)

	_, err = ExecuteAs[int](ctx, p, "SELECT 'x'", nil, ExecOptions{})
	require.ErrorIs(t, err, ErrQueryFailed)
	assert.Contains(t, err.Error(), "want int")
}

func TestExecute_SlowQueryHooks(t *testing.T) {
	db := &fakeDB{}
	db.execDelay.Store(int64(15 * time.Millisecond))

	var (
		mu     sync.Mutex
		hooked []SlowQuery
	)
	async := make(chan SlowQuery, 1)
	p := newTestPool(t, db, testConfig(),
		WithSlowQueryThreshold(10*time.Millisecond),
		WithSlowQueryHook(func(_ context.Context, q SlowQuery) {
			mu.Lock()
			hooked = append(hooked, q)
			mu.Unlock()
		}),
		WithAsyncSlowQueryHook(func(q SlowQuery) { async <- q }),
	)

	_, err := p.Execute(context.Background(), "SELECT  *  FROM big", []any{1, 2}, ExecOptions{})
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, hooked, 1)
	q := hooked[0]
	mu.Unlock()
	assert.Equal(t, "SELECT  *  FROM big", q.Query)
	assert.Equal(t, 2, q.Params)
	assert.GreaterOrEqual(t, q.Duration, 10*time.Millisecond)
	assert.NotZero(t, q.Fingerprint)

	select {
	case aq := <-async:
		assert.Equal(t, q.Fingerprint, aq.Fingerprint)
	case <-time.After(time.Second):
		t.Fatal("async slow query hook not called")
	}
	assert.Equal(t, int64(1), p.Metrics().SlowQueries)

	db.execDelay.Store(0)
	_, err = p.Execute(context.Background(), "SELECT 1", nil, ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Metrics().SlowQueries)
}

func TestUpdateConfiguration(t *testing.T) {
	p := newTestPool(t, &fakeDB{}, testConfig())

	bad := p.Config()
	bad.MinConnections = 100
	require.ErrorIs(t, p.UpdateConfiguration(bad), ErrInvalidConfig)
	assert.Equal(t, 0, p.Config().MinConnections)

	good := p.Config()
	good.MaxConnections = 8
	good.MinConnections = 2
	require.NoError(t, p.UpdateConfiguration(good))
	assert.Equal(t, 8, p.Config().MaxConnections)

	n, err := p.Replenish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCreateBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	db := &fakeDB{}
	db.failCreate.Store(true)
	p := newTestPool(t, db, testConfig(), WithCreateBreaker(2, time.Minute))
	ctx := context.Background()

	for range 2 {
		_, err := p.Acquire(ctx)
		require.ErrorIs(t, err, errDial)
	}
	_, err := p.Acquire(ctx)
	require.ErrorIs(t, err, ErrConnectionCreate)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int64(2), db.dials.Load())
}

// 并发借还与空闲验证过程中始终满足 active + idle == total <= max。
func TestPool_InvariantUnderLoad(t *testing.T) {
	db := &fakeDB{}
	cfg := testConfig()
	cfg.MinConnections = 1
	cfg.MaxConnections = 4
	cfg.AcquireTimeout = 2 * time.Second
	cfg.TestOnBorrow = true
	cfg.TestOnReturn = true
	p := newTestPool(t, db, cfg)
	m := newTestManager(t, p)

	stop := make(chan struct{})
	var violations atomic.Int32
	var checker sync.WaitGroup
	checker.Add(1)
	go func() {
		defer checker.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			mt := p.Metrics()
			if mt.Active+mt.Idle != mt.Total || mt.Total > cfg.MaxConnections {
				violations.Add(1)
			}
			time.Sleep(time.Millisecond)
		}
	}()
	checker.Add(1)
	go func() {
		defer checker.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			m.RunValidation(context.Background())
			time.Sleep(time.Millisecond)
		}
	}()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				c, err := p.Acquire(context.Background())
				if err != nil {
					continue
				}
				time.Sleep(time.Millisecond)
				_ = c.Release()
			}
		}()
	}
	wg.Wait()
	close(stop)
	checker.Wait()

	assert.Zero(t, violations.Load())
	assert.LessOrEqual(t, p.Statistics().PeakConnections, cfg.MaxConnections)
	assert.Zero(t, p.Metrics().Active)
	assert.LessOrEqual(t, len(db.all()), cfg.MaxConnections)
}

func TestTickLoop_DisabledAndReconfigured(t *testing.T) {
	var (
		interval atomic.Int64
		calls    atomic.Int32
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tickLoop(ctx, func() time.Duration { return time.Duration(interval.Load()) }, func(context.Context) {
			calls.Add(1)
		})
	}()

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, calls.Load())

	cancel()
	<-done

	interval.Store(int64(5 * time.Millisecond))
	ctx, cancel = context.WithCancel(context.Background())
	done = make(chan struct{})
	go func() {
		defer close(done)
		tickLoop(ctx, func() time.Duration { return time.Duration(interval.Load()) }, func(context.Context) {
			calls.Add(1)
		})
	}()
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done
}
