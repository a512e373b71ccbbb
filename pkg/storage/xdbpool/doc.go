// Package xdbpool 提供自适应数据库连接池。
//
// 由两部分组成：
//   - Pool：借出与归还连接、按利用率伸缩、记录指标，并发出生命周期事件。
//   - LifecycleManager：后台验证空闲连接、恢复不健康连接、清理过期连接、
//     汇总健康状况与检查资源占用。
//
// 底层连接通过 Connection 接口与 Factory 注入，池本身不依赖具体驱动；
// xdbsql 与 xdbredis 提供 database/sql 与 Redis 的适配。
//
// 基本用法：
//
//	pool, err := xdbpool.New(factory, xdbpool.WithConfig(cfg))
//	if err != nil {
//	    return err
//	}
//	lm, err := xdbpool.NewLifecycleManager(pool)
//	if err != nil {
//	    return err
//	}
//	if err := lm.Start(ctx); err != nil {
//	    return err
//	}
//	defer lm.Shutdown(context.Background())
//
//	res, err := pool.Execute(ctx, "SELECT 1", nil, xdbpool.ExecOptions{})
//
// # 连接状态
//
// 每个连接只有一条记录，由 Pool 在一把互斥锁下维护。状态流转为
// creating → idle ⇄ active，维护任务（验证、恢复）期间为 checked，
// 销毁时为 destroying。只有 idle 连接会被借出；不健康或无效的连接
// 留在空闲队列中但被跳过，由清理回收。
//
// # 事件
//
// 事件通过有界队列异步分发给监听器，队列满时丢弃并记录告警，
// 不会阻塞池操作。Close 会排空队列后再返回。
//
// # 可观测性
//
// Pool 通过 OTel MeterProvider 记录指标、TracerProvider 为 Execute 创建 span；
// NewCollector 以 Prometheus 格式导出 Metrics 快照。
package xdbpool
