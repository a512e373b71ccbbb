// Package storageopt 提供 storage 子包共享的工具函数。
//
// 本包是 internal 包，仅供 pkg/storage 下的子包（xdbpool、xdbsql、xdbredis）使用。
// 外部用户不应直接导入此包。
//
// 依赖策略: 本包作为 storage 族的共享内核（shared kernel），
// 依赖低层 internal/eventbus 承载异步钩子。
//
// 主要功能：
//   - 探测超时 context（ProbeContext）
//   - 统计计数器（QueryCounter、SlowQueryCounter）
//   - 查询指纹（Fingerprint，基于 xxhash）
//   - 慢查询检测器（支持同步/异步钩子）
package storageopt
