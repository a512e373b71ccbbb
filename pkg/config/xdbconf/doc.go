// Package xdbconf 从 YAML/JSON 文件加载 xdbpool.Config，并支持热更新。
//
// 文件中出现的键覆盖 xdbpool.DefaultConfig 的对应字段，时长使用 "30s" 这类字符串：
//
//	min_connections: 4
//	max_connections: 20
//	acquire_timeout: 3s
//	idle_timeout: 5m
//
// 默认拒绝未知键，拼写错误不会被静默忽略（WithStrict(false) 关闭）。
// 配置嵌套在更大的文件中时用 WithKey 指定路径。
//
// WatchPool 监视文件并把变化推送给 Pool.UpdateConfiguration；
// 非法的新内容只记录日志，连接池保持原配置。
package xdbconf
