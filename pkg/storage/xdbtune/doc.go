// Package xdbtune 根据负载样本自适应调整 xdbpool 的配置。
//
// Optimizer 保存最近 10 分钟的样本。每次 RecordMetrics 时，若距上次优化
// 已满 30s 且至少有 5 个样本，则对最近 10 个样本取均值并评估全部策略：
//
//	o, err := xdbtune.New(pool.Config(), xdbtune.Manage(pool))
//	if err != nil {
//		return err
//	}
//	go o.Run(ctx, pool) // 每 5s 从池指标采样
//
// # 策略
//
// Strategy 由若干阈值条件与一个纯函数组成，条件全部成立时产生部分配置 Patch。
// 错误缓解策略先执行，其余按声明顺序；补丁从左到右合并，后者覆盖前者。
// 内置策略见 DefaultStrategies：
//
//   - high_error_rate：错误率 >= 5%，收紧借出验证
//   - high_latency：平均响应 >= 500ms，提高上限与获取超时
//   - high_utilization：活跃占比 >= 0.8，提高下限与上限并提前扩容
//   - low_utilization：活跃占比 <= 0.2，回收容量并缩短空闲超时
//
// 策略产生的容量受 Limits 约束；UpdateConfiguration 的手动覆盖不受约束，
// 但同样要求 min <= max。新配置校验失败或 OnUpdate 返回错误时保持原配置。
package xdbtune
