// Package storage 提供数据库连接管理相关的子包。
//
// 子包列表：
//   - xdbpool: 自适应连接池与生命周期管理器
//   - xdbtune: 按负载样本调整连接池配置的优化器
//   - xdbsql: database/sql（sqlx）连接适配器
//   - xdbredis: go-redis 连接适配器
//
// 设计原则：
//   - 连接池只依赖 Connection 接口，后端通过适配器接入
//   - 内置可观测性（指标、追踪、事件）
//   - 配置可在运行时整体替换
package storage
