// Package logging holds the process wide structured logger.
package logging

import (
	"io"
	"os"

	"github.com/paularlott/logger"
	logslog "github.com/paularlott/logger/slog"
)

var defaultLogger logger.Logger

func init() {
	defaultLogger = New("info", "console", os.Stdout)
}

// New builds a structured logger writing to w.
func New(level, format string, w io.Writer) logger.Logger {
	return logslog.New(logslog.Config{
		Level:  level,
		Format: format,
		Writer: w,
	})
}

// Configure replaces the process wide logger.
func Configure(level, format string) {
	defaultLogger = New(level, format, os.Stdout)
}

// SetOutput redirects the process wide logger, keeping level and format.
func SetOutput(level, format string, w io.Writer) {
	defaultLogger = New(level, format, w)
}

// Default returns the process wide logger.
func Default() logger.Logger {
	return defaultLogger
}

func Info(msg string, keysAndValues ...any) {
	defaultLogger.Info(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...any) {
	defaultLogger.Warn(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...any) {
	defaultLogger.Error(msg, keysAndValues...)
}

func Debug(msg string, keysAndValues ...any) {
	defaultLogger.Debug(msg, keysAndValues...)
}
