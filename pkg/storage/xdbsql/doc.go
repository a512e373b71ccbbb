// Package xdbsql 把 database/sql（经 sqlx）适配为 xdbpool.Connection。
//
// 每个池连接独占一个物理连接，关闭时直接丢弃，容量完全由 xdbpool 控制：
//
//	db, err := xdbsql.Open(ctx, "mysql", dsn)
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	pool, err := xdbpool.New(db.Factory(), xdbpool.WithConfig(cfg))
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	rows, err := xdbpool.ExecuteAs[[]map[string]any](ctx, pool,
//		"SELECT id, name FROM users WHERE id = ?", []any{42}, xdbpool.ExecOptions{})
//
// 查询语句返回 []map[string]any，其余语句返回 ExecResult。
// 驱动需由调用方注册（例如 import _ "github.com/go-sql-driver/mysql"）。
package xdbsql
