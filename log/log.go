package log

import (
	"io"

	"github.com/hatlonely/dynschema/log/logger"
)

type Logger = logger.Logger

var defaultLogger logger.Logger

func init() {
	slog, err := logger.NewSLogWithOptions(&logger.SLogOptions{
		Level:  "info",
		Format: "text",
	})
	if err != nil {
		panic("failed to initialize default logger: " + err.Error())
	}
	defaultLogger = slog
}

// Default 返回进程默认日志器，输出到 stderr
func Default() Logger {
	return defaultLogger
}

// Discard 返回丢弃所有输出的日志器
func Discard() Logger {
	l, _ := logger.NewSLogWithWriter(io.Discard, &logger.SLogOptions{Level: "error"})
	return l
}

// NewLoggerWithOptions 创建日志器，options 为 nil 时返回默认日志器
func NewLoggerWithOptions(options *logger.SLogOptions) (Logger, error) {
	if options == nil {
		return Default(), nil
	}
	return logger.NewSLogWithOptions(options)
}
