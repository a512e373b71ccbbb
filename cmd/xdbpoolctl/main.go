// xdbpoolctl 是 xdbpool 连接池的命令行工具。
//
// 用法:
//
//	xdbpoolctl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	--log-level    日志级别 debug|info|warn|error (默认: info)
//	--log-format   日志格式 text|json (默认: text)
//	--log-file     日志写入文件并按大小轮转，默认写 stderr
//
// 命令:
//
//	config validate <file>...   校验连接池配置文件
//	config dump [file]          输出合并默认值后的完整配置
//	bench                       对数据库施加并发负载并输出池指标
//
// 退出码:
//
//	0: 成功
//	1: 执行失败或配置非法
//	2: 参数错误
//
// 示例:
//
//	xdbpoolctl config validate pool.yaml
//	xdbpoolctl config dump --format json pool.yaml
//	xdbpoolctl bench --driver sqlite3 --dsn 'file::memory:?cache=shared' --duration 30s
//	xdbpoolctl bench --driver redis --dsn redis://localhost:6379/0 --optimize --metrics-addr :9102
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	// database/sql 驱动
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/urfave/cli/v3"
)

// 版本信息，通过 -ldflags "-X main.Version=..." 注入。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func createApp(stdout, stderr io.Writer) *cli.Command {
	a := &app{stdout: stdout, stderr: stderr}
	return &cli.Command{
		Name:      "xdbpoolctl",
		Usage:     "xdbpool 连接池命令行工具",
		Version:   fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "日志级别 (debug|info|warn|error)",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "日志格式 (text|json)",
				Value: "text",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "日志文件路径，按大小轮转",
			},
		},
		Before: a.before,
		After:  a.after,
		Commands: []*cli.Command{
			a.configCommand(),
			a.benchCommand(),
		},
		// 退出码由 run 统一映射，不让 urfave/cli 直接 os.Exit。
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				_, _ = fmt.Fprintln(stderr, err)
			}
		},
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := createApp(stdout, stderr).Run(ctx, args); err != nil {
		return exitCode(err, stderr)
	}
	return 0
}

func exitCode(err error, stderr io.Writer) int {
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		_, _ = fmt.Fprintf(stderr, "参数错误: %v\n", usageErr)
		return 2
	}
	if _, ok := err.(cli.ExitCoder); ok || isCLIUsageError(err) {
		return 2
	}
	_, _ = fmt.Fprintf(stderr, "错误: %v\n", err)
	return 1
}

// exitError 表示命令已输出结果，只需设置非零退出码。
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// usageError 表示参数错误，退出码 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

// isCLIUsageError 识别 urfave/cli 的参数解析错误。
func isCLIUsageError(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{"flag provided but not defined", "invalid value", "Required flag", "Required flags"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}
