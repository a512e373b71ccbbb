package xdbconf

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xdbkit/pkg/storage/xdbpool"
)

type reload struct {
	cfg xdbpool.Config
	err error
}

func collect(ch chan<- reload) Callback {
	return func(cfg xdbpool.Config, err error) {
		ch <- reload{cfg: cfg, err: err}
	}
}

func next(t *testing.T, ch <-chan reload) reload {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no reload within 5s")
		return reload{}
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pool.yaml", "max_connections: 5\n")

	ch := make(chan reload, 8)
	w, err := Watch(path, collect(ch), WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	w.Start()
	defer func() { assert.NoError(t, w.Stop()) }()
	assert.Equal(t, 5, w.Current().MaxConnections)

	writeFile(t, dir, "pool.yaml", "max_connections: 9\n")
	r := next(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, 9, r.cfg.MaxConnections)
	assert.Equal(t, 9, w.Current().MaxConnections)
}

func TestWatch_InvalidContentKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pool.yaml", "max_connections: 5\n")

	ch := make(chan reload, 8)
	w, err := Watch(path, collect(ch), WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	w.Start()
	defer func() { assert.NoError(t, w.Stop()) }()

	writeFile(t, dir, "pool.yaml", "min_connections: 8\nmax_connections: 2\n")
	r := next(t, ch)
	require.ErrorIs(t, r.err, xdbpool.ErrInvalidConfig)
	assert.Equal(t, 5, r.cfg.MaxConnections)
	assert.Equal(t, 5, w.Current().MaxConnections)
}

func TestWatch_AtomicRename(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pool.yaml", "max_connections: 5\n")

	ch := make(chan reload, 8)
	w, err := Watch(path, collect(ch), WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	w.Start()
	defer func() { assert.NoError(t, w.Stop()) }()

	tmp := writeFile(t, dir, ".pool.yaml.tmp", "max_connections: 12\n")
	require.NoError(t, os.Rename(tmp, path))
	r := next(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, 12, r.cfg.MaxConnections)
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pool.yaml", "max_connections: 5\n")

	ch := make(chan reload, 8)
	w, err := Watch(path, collect(ch), WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	w.Start()
	defer func() { assert.NoError(t, w.Stop()) }()

	writeFile(t, dir, "other.yaml", "max_connections: 7\n")
	select {
	case r := <-ch:
		t.Fatalf("unexpected reload: %+v", r)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatch_InitialErrors(t *testing.T) {
	_, err := Watch("", nil)
	assert.ErrorIs(t, err, ErrEmptyPath)

	path := writeFile(t, t.TempDir(), "pool.yaml", "max_connections: 0\n")
	_, err = Watch(path, nil)
	assert.ErrorIs(t, err, xdbpool.ErrInvalidConfig)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	path := writeFile(t, t.TempDir(), "pool.yaml", "")
	w, err := Watch(path, nil)
	require.NoError(t, err)
	w.Start()
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	w.Start()
}

func TestWatchPool_PushesIntoPool(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pool.yaml", "min_connections: 1\nmax_connections: 4\nscale_interval: 0s\n")

	pool, err := xdbpool.New(func(context.Context) (xdbpool.Connection, error) {
		return nopConn{}, nil
	}, xdbpool.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	defer func() { _ = pool.Close() }()

	w, err := WatchPool(path, pool,
		WithDebounce(20*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	defer func() { assert.NoError(t, w.Stop()) }()
	assert.Equal(t, 4, pool.Config().MaxConnections)

	writeFile(t, dir, "pool.yaml", "min_connections: 2\nmax_connections: 6\nscale_interval: 0s\n")
	require.Eventually(t, func() bool {
		return pool.Config().MaxConnections == 6
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, pool.Config().MinConnections)

	writeFile(t, dir, "pool.yaml", "max_connections: -1\n")
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 6, pool.Config().MaxConnections, "invalid file leaves the pool untouched")
}

func TestWatch_DirectoryMissing(t *testing.T) {
	_, err := Watch(filepath.Join(t.TempDir(), "nope", "pool.yaml"), nil)
	assert.ErrorIs(t, err, ErrLoadFailed)
}

type nopConn struct{}

func (nopConn) Execute(context.Context, string, []any, xdbpool.ExecOptions) (xdbpool.Result, error) {
	return xdbpool.Result{Success: true}, nil
}

func (nopConn) Close() error { return nil }
