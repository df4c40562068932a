// Package console provides the stderr logging backend.
package console

import (
	"os"

	"github.com/charmbracelet/log"
)

// ConsoleLogger is a logger.Backend that renders to stderr through
// charmbracelet/log.
type ConsoleLogger struct {
	lg *log.Logger
}

// ConsoleLoggerParams configures a ConsoleLogger.
type ConsoleLoggerParams struct {
	Debug bool
}

// NewConsoleLogger creates a console logger. When Debug is set, DEBUG level
// messages are emitted as well.
func NewConsoleLogger(params ConsoleLoggerParams) *ConsoleLogger {
	opts := log.Options{
		ReportTimestamp: true,
		Level:           log.InfoLevel,
	}
	if params.Debug {
		opts.Level = log.DebugLevel
	}
	return &ConsoleLogger{lg: log.NewWithOptions(os.Stderr, opts)}
}

// Each method forwards to the underlying charm logger at the matching
// level. Log maps to Print, which always emits regardless of level.

func (c *ConsoleLogger) Log(message string, keyvals ...any) {
	c.lg.Print(message, keyvals...)
}

func (c *ConsoleLogger) Debug(message string, keyvals ...any) {
	c.lg.Debug(message, keyvals...)
}

func (c *ConsoleLogger) Info(message string, keyvals ...any) {
	c.lg.Info(message, keyvals...)
}

func (c *ConsoleLogger) Warn(message string, keyvals ...any) {
	c.lg.Warn(message, keyvals...)
}

func (c *ConsoleLogger) Error(message string, keyvals ...any) {
	c.lg.Error(message, keyvals...)
}

// Fatal exits the process after writing, via the charm logger.
func (c *ConsoleLogger) Fatal(message string, keyvals ...any) {
	c.lg.Fatal(message, keyvals...)
}
