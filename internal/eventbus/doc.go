// Package eventbus 提供有界队列的异步分发器。
//
// Bus 是一个轻量级的泛型分发器，用于把事件从热路径上移走：
//   - Publish 永不阻塞，队列满时丢弃并记录告警
//   - 固定数量的 worker 顺序消费队列
//   - handler panic 被恢复并记录日志，不影响后续事件
//   - Close 幂等，会处理完队列中剩余事件后返回
//
// 本包是 internal 包，供 xdbpool 的生命周期事件和 storageopt 的
// 慢查询异步钩子共用。
//
// # 注意事项
//
//   - Close 不可在 handler 内调用，否则会死锁
//   - 单 worker 时事件按发布顺序投递；多 worker 时不保证顺序
package eventbus
