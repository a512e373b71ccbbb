package xdbpool

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 上游 expirable.LRU 的 done 字段变化时 stopCleanupGoroutine 会静默失效，
// 这里确保升级 golang-lru 时能及时发现。
func TestTombstones_UpstreamDoneField(t *testing.T) {
	lru := expirable.NewLRU[string, struct{}](1, nil, time.Minute)
	require.True(t, stopCleanupGoroutine(lru))
}

func TestStopCleanupGoroutine_Invalid(t *testing.T) {
	assert.False(t, stopCleanupGoroutine(nil))
	assert.False(t, stopCleanupGoroutine(struct{}{}))
	var lru *expirable.LRU[string, int]
	assert.False(t, stopCleanupGoroutine(lru))
	assert.False(t, stopCleanupGoroutine(&struct{ done int }{}))
}

func TestTombstones(t *testing.T) {
	ts := newTombstones(2, time.Minute)
	defer ts.close()

	ts.add("a")
	ts.add("b")
	assert.True(t, ts.contains("a"))
	assert.True(t, ts.contains("b"))
	assert.False(t, ts.contains("c"))

	ts.add("c")
	assert.False(t, ts.contains("a"), "oldest entry evicted beyond capacity")
	assert.True(t, ts.contains("c"))
}

func TestTombstones_Expire(t *testing.T) {
	ts := newTombstones(8, 20*time.Millisecond)
	defer ts.close()

	ts.add("a")
	require.True(t, ts.contains("a"))
	require.Eventually(t, func() bool { return !ts.contains("a") }, time.Second, 5*time.Millisecond)
}

func TestTombstones_QueryableAfterClose(t *testing.T) {
	ts := newTombstones(8, time.Minute)
	ts.add("a")
	ts.close()
	assert.True(t, ts.contains("a"))
}

func TestWithTombstones_ShortMemory(t *testing.T) {
	db := &fakeDB{}
	cfg := testConfig()
	cfg.MaxLifetime = 10 * time.Millisecond
	p := newTestPool(t, db, cfg, WithTombstones(1, 20*time.Millisecond))

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	b, err := p.Acquire(context.Background())
	require.NoError(t, err)
	time.Sleep(15 * time.Millisecond)
	require.NoError(t, a.Release())
	require.NoError(t, b.Release())

	// 容量为 1，a 的记录已被 b 挤出，重复关闭的保护失效时按未知连接处理
	stale := &Conn{id: a.ID(), conn: a.Raw(), pool: p}
	assert.ErrorIs(t, p.Release(stale), ErrUnknownConnection)
	fresh := &Conn{id: b.ID(), conn: b.Raw(), pool: p}
	assert.NoError(t, p.Release(fresh))
}
