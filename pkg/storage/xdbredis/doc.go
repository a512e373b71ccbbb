// Package xdbredis 把 go-redis 客户端适配为 xdbpool.Connection。
//
// 命令以空白分隔的字符串加参数列表表示：
//
//	client, err := xdbredis.Open(ctx, "redis://localhost:6379/0")
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	cfg := xdbpool.DefaultConfig()
//	cfg.ValidationQuery = xdbredis.ValidationQuery
//	pool, err := xdbpool.New(client.Factory(), xdbpool.WithConfig(cfg))
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	name, err := xdbpool.ExecuteAs[string](ctx, pool, "HGET user:42", []any{"name"}, xdbpool.ExecOptions{})
//
// 键不存在（redis.Nil）视为成功，结果为 nil。
package xdbredis
