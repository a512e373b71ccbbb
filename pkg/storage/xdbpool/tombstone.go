package xdbpool

import (
	"reflect"
	"time"
	"unsafe"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// tombstones 记住最近由池关闭的连接 ID，
// 使迟到的 Release 能区分"已被池关闭"与"来历不明"。
type tombstones struct {
	lru *expirable.LRU[string, struct{}]
}

func newTombstones(size int, ttl time.Duration) *tombstones {
	return &tombstones{lru: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func (t *tombstones) add(id string) {
	t.lru.Add(id, struct{}{})
}

// contains 使用 Peek 而非 Contains：上游 Contains 不检查过期。
func (t *tombstones) contains(id string) bool {
	_, ok := t.lru.Peek(id)
	return ok
}

// close 停止后台清理；已有条目仍可查询，过期判断由 Peek 惰性完成。
func (t *tombstones) close() {
	stopCleanupGoroutine(t.lru)
}

// stopCleanupGoroutine 停止 expirable.LRU 内部的清理 goroutine。
//
// golang-lru/v2@v2.0.7 在 TTL > 0 时启动后台清理 goroutine 且未提供公开的关闭方法，
// 这里通过 reflect + unsafe 关闭内部 done 通道。上游结构变化时降级为无操作，
// 由 TestTombstones_UpstreamDoneField 捕获。
func stopCleanupGoroutine(lru any) (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			stopped = false
		}
	}()

	v := reflect.ValueOf(lru)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return false
	}
	done := v.Elem().FieldByName("done")
	if !done.IsValid() || done.IsNil() || done.Type() != reflect.TypeOf(make(chan struct{})) {
		return false
	}
	ch := *(*chan struct{})(unsafe.Pointer(done.UnsafeAddr())) //nolint:gosec // 有意访问上游未导出字段
	close(ch)
	return true
}
