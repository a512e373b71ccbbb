package eventbus

import (
	"bytes"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNew_Validation(t *testing.T) {
	_, err := New[int](nil)
	assert.ErrorIs(t, err, ErrNilHandler)

	_, err = New(func(int) {}, WithWorkers(0))
	assert.ErrorIs(t, err, ErrInvalidWorkers)

	_, err = New(func(int) {}, WithQueueSize(-1))
	assert.ErrorIs(t, err, ErrInvalidQueueSize)
}

func TestBus_DeliversInOrderWithSingleWorker(t *testing.T) {
	var (
		mu  sync.Mutex
		got []int
	)
	bus, err := New(func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	require.NoError(t, err)

	for i := range 5 {
		assert.True(t, bus.Publish(i))
	}
	bus.Close()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.Equal(t, int64(5), bus.Published())
	assert.Zero(t, bus.Dropped())
}

func TestBus_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	var handled atomic.Int32

	bus, err := New(func(int) {
		<-release
		handled.Add(1)
	}, WithQueueSize(1))
	require.NoError(t, err)

	// 第一个事件被 worker 取走并阻塞，第二个占满队列
	require.True(t, bus.Publish(1))
	require.Eventually(t, func() bool { return bus.Pending() == 0 }, time.Second, time.Millisecond)
	require.True(t, bus.Publish(2))

	assert.False(t, bus.Publish(3))
	assert.Equal(t, int64(1), bus.Dropped())

	close(release)
	bus.Close()
	assert.Equal(t, int32(2), handled.Load())
}

func TestBus_PanicRecovered(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var handled atomic.Int32
	bus, err := New(func(v int) {
		if v == 0 {
			panic("boom")
		}
		handled.Add(1)
	}, WithLogger(logger), WithName("test"))
	require.NoError(t, err)

	bus.Publish(0)
	bus.Publish(1)
	bus.Close()

	assert.Equal(t, int32(1), handled.Load())
	assert.Contains(t, buf.String(), "handler panic recovered")
	assert.Contains(t, buf.String(), "bus=test")
}

func TestBus_CloseIdempotent(t *testing.T) {
	bus, err := New(func(int) {}, WithWorkers(4))
	require.NoError(t, err)

	bus.Close()
	bus.Close()
	assert.False(t, bus.Publish(1))
}

func TestBus_ConcurrentPublishAndClose(t *testing.T) {
	bus, err := New(func(int) {}, WithQueueSize(16))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				bus.Publish(i*100 + j)
			}
		}()
	}
	bus.Close()
	wg.Wait()

	assert.False(t, bus.Publish(-1))
}
