package xdbconf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/omeyang/xdbkit/pkg/storage/xdbpool"
)

// Callback 在配置文件变化后调用。
// err 非 nil 时 cfg 为最近一次成功加载的配置。
type Callback func(cfg xdbpool.Config, err error)

// Watcher 监视配置文件并在内容变化时重新加载。
//
// 监视的是文件所在目录，编辑器先删后建或 rename 覆盖都能感知。
// 短时间内的多次事件合并为一次加载；加载结果与当前配置相同时不回调。
type Watcher struct {
	path     string
	opts     options
	callback Callback
	watcher  *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	current xdbpool.Config
	timer   *time.Timer
	started bool
	stopped bool

	reloadMu sync.Mutex
}

// Watch 加载 path 并创建 Watcher。初始配置非法时返回错误。
// 返回的 Watcher 需调用 Start 开始监视，Stop 结束。
func Watch(path string, callback Callback, opts ...Option) (*Watcher, error) {
	cfg, err := Load(path, opts...)
	if err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("xdbconf: create watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		return nil, errors.Join(
			fmt.Errorf("xdbconf: watch directory %s: %w", dir, err),
			fsw.Close(),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:     path,
		opts:     o,
		callback: callback,
		watcher:  fsw,
		ctx:      ctx,
		cancel:   cancel,
		current:  cfg,
	}, nil
}

// WatchPool 监视配置文件，并把每次变化推送给 pool.UpdateConfiguration。
// 启动前先用文件内容更新一次 pool。Watcher 已启动，调用方负责 Stop。
func WatchPool(path string, pool *xdbpool.Pool, opts ...Option) (*Watcher, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With(slog.String("path", path))

	w, err := Watch(path, func(cfg xdbpool.Config, err error) {
		if err != nil {
			logger.Warn("xdbconf: reload failed, keeping previous config", slog.Any("error", err))
			return
		}
		if err := pool.UpdateConfiguration(cfg); err != nil {
			logger.Warn("xdbconf: pool rejected config", slog.Any("error", err))
			return
		}
		logger.Info("xdbconf: pool config reloaded",
			slog.Int("min", cfg.MinConnections),
			slog.Int("max", cfg.MaxConnections),
		)
	}, opts...)
	if err != nil {
		return nil, err
	}
	if err := pool.UpdateConfiguration(w.Current()); err != nil {
		return nil, errors.Join(err, w.Stop())
	}
	w.Start()
	return w, nil
}

// Current 返回最近一次成功加载的配置。
func (w *Watcher) Current() xdbpool.Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Start 在后台开始监视。重复调用或 Stop 之后调用无效果。
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run()
	}()
}

// Stop 停止监视并等待进行中的加载结束。可重复调用。
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()

	w.reloadMu.Lock()
	w.reloadMu.Unlock() //nolint:staticcheck // 等待进行中的 reload
	return err
}

func (w *Watcher) run() {
	filename := filepath.Base(w.path)
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != filename {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.notify(w.Current(), fmt.Errorf("xdbconf: watch error: %w", err))
		}
	}
}

// schedule 重置防抖定时器。
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.opts.debounce, w.reload)
}

func (w *Watcher) reload() {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	if w.ctx.Err() != nil {
		return
	}

	cfg, err := Load(w.path, withOptions(w.opts))
	w.mu.Lock()
	if err != nil {
		cfg = w.current
	} else if cfg == w.current {
		w.mu.Unlock()
		return
	} else {
		w.current = cfg
	}
	w.mu.Unlock()
	w.notify(cfg, err)
}

func (w *Watcher) notify(cfg xdbpool.Config, err error) {
	if w.callback != nil {
		w.callback(cfg, err)
	}
}

func withOptions(o options) Option {
	return func(dst *options) {
		*dst = o
	}
}
