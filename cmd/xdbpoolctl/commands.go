package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xdbkit/pkg/config/xdbconf"
	"github.com/omeyang/xdbkit/pkg/storage/xdbpool"
)

func (a *app) configCommand() *cli.Command {
	keyFlag := &cli.StringFlag{
		Name:  "key",
		Usage: "连接池配置在文件中的路径，如 database.pool",
	}
	return &cli.Command{
		Name:  "config",
		Usage: "连接池配置文件工具",
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "校验配置文件",
				ArgsUsage: "<file>...",
				Flags: []cli.Flag{
					keyFlag,
					&cli.BoolFlag{
						Name:  "allow-unknown",
						Usage: "忽略未知键",
					},
				},
				Action: func(_ context.Context, cmd *cli.Command) error {
					return a.cmdValidate(cmd.Args().Slice(), cmd.String("key"), !cmd.Bool("allow-unknown"))
				},
			},
			{
				Name:      "dump",
				Usage:     "输出合并默认值后的完整配置，不指定文件时输出默认配置",
				ArgsUsage: "[file]",
				Flags: []cli.Flag{
					keyFlag,
					&cli.StringFlag{
						Name:  "format",
						Usage: "输出格式 (yaml|json)",
						Value: string(xdbconf.FormatYAML),
					},
				},
				Action: func(_ context.Context, cmd *cli.Command) error {
					return a.cmdDump(cmd.Args().First(), cmd.String("key"), cmd.String("format"))
				},
			},
		},
	}
}

func (a *app) cmdValidate(paths []string, key string, strict bool) error {
	if len(paths) == 0 {
		return usagef("config validate requires at least one file")
	}
	failed := 0
	for _, path := range paths {
		cfg, err := xdbconf.Load(path, xdbconf.WithKey(key), xdbconf.WithStrict(strict))
		if err != nil {
			failed++
			_, _ = fmt.Fprintf(a.stdout, "FAIL %s: %v\n", path, err)
			continue
		}
		_, _ = fmt.Fprintf(a.stdout, "OK   %s (min=%d max=%d)\n", path, cfg.MinConnections, cfg.MaxConnections)
	}
	if failed > 0 {
		return &exitError{code: 1}
	}
	return nil
}

func (a *app) cmdDump(path, key, format string) error {
	f := xdbconf.Format(format)
	if f != xdbconf.FormatYAML && f != xdbconf.FormatJSON {
		return usagef("invalid --format %q", format)
	}
	cfg := xdbpool.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = xdbconf.Load(path, xdbconf.WithKey(key)); err != nil {
			return err
		}
	}
	data, err := xdbconf.Marshal(cfg, f, key)
	if err != nil {
		return err
	}
	_, err = a.stdout.Write(data)
	return err
}

func (a *app) benchCommand() *cli.Command {
	return &cli.Command{
		Name:  "bench",
		Usage: "对数据库施加并发负载并输出连接池指标",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "driver",
				Usage: "后端：database/sql 驱动名（sqlite3、mysql）或 redis",
				Value: "sqlite3",
			},
			&cli.StringFlag{
				Name:  "dsn",
				Usage: "数据源；redis 使用 redis:// URL",
				Value: "file::memory:?cache=shared",
			},
			&cli.StringFlag{
				Name:  "query",
				Usage: "每次执行的语句，默认 SELECT 1（redis 为 PING）",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "连接池配置文件",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "监视 --config 文件并热更新连接池",
			},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "压测时长",
				Value: 10 * time.Second,
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "并发 worker 数",
				Value: 8,
			},
			&cli.IntFlag{
				Name:  "retries",
				Usage: "每次执行的重试次数",
			},
			&cli.BoolFlag{
				Name:  "optimize",
				Usage: "运行自适应优化器",
			},
			&cli.DurationFlag{
				Name:  "optimize-interval",
				Usage: "优化器两次评估的最小间隔",
				Value: 5 * time.Second,
			},
			&cli.DurationFlag{
				Name:  "sample-interval",
				Usage: "优化器采样间隔",
				Value: time.Second,
			},
			&cli.DurationFlag{
				Name:  "slow-query",
				Usage: "慢查询阈值，0 关闭",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "在该地址暴露 Prometheus /metrics",
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "报告格式 (text|yaml)",
				Value: "text",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			o := benchOptions{
				Driver:           cmd.String("driver"),
				DSN:              cmd.String("dsn"),
				Query:            cmd.String("query"),
				ConfigPath:       cmd.String("config"),
				Watch:            cmd.Bool("watch"),
				Duration:         cmd.Duration("duration"),
				Concurrency:      cmd.Int("concurrency"),
				Retries:          cmd.Int("retries"),
				Optimize:         cmd.Bool("optimize"),
				OptimizeInterval: cmd.Duration("optimize-interval"),
				SampleInterval:   cmd.Duration("sample-interval"),
				SlowQuery:        cmd.Duration("slow-query"),
				MetricsAddr:      cmd.String("metrics-addr"),
				Output:           cmd.String("output"),
			}
			if err := o.validate(); err != nil {
				return err
			}
			report, err := runBench(ctx, o, a.log())
			if err != nil {
				return err
			}
			return report.write(a.stdout, o.Output)
		},
	}
}
