package main

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 日志文件轮转参数。
const (
	logMaxSizeMB  = 100
	logMaxBackups = 7
	logMaxAgeDays = 30
)

// app 持有各命令共享的输出与日志。
type app struct {
	stdout io.Writer
	stderr io.Writer

	logger  *slog.Logger
	logFile io.Closer
}

func (a *app) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	logger, closer, err := newLogger(a.stderr, cmd.String("log-level"), cmd.String("log-format"), cmd.String("log-file"))
	if err != nil {
		return ctx, err
	}
	a.logger, a.logFile = logger, closer
	return ctx, nil
}

func (a *app) after(context.Context, *cli.Command) error {
	if a.logFile != nil {
		return a.logFile.Close()
	}
	return nil
}

// log 返回日志记录器；Before 未执行时（如 --help）返回丢弃输出的记录器。
func (a *app) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return a.logger
}

// newLogger 按参数构建日志记录器。file 非空时写入 lumberjack 轮转文件，
// 返回的 io.Closer 需在退出前关闭。
func newLogger(w io.Writer, level, format, file string) (*slog.Logger, io.Closer, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, usagef("invalid --log-level %q", level)
	}

	var closer io.Closer
	if file != "" {
		lj := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
			Compress:   true,
		}
		w, closer = lj, lj
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "text", "":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		if closer != nil {
			_ = closer.Close()
		}
		return nil, nil, usagef("invalid --log-format %q", format)
	}
	return slog.New(h).With(slog.String("app", "xdbpoolctl")), closer, nil
}
