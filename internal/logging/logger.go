// Package logging provides structured logging for Faida Offline Core.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// global logger instance
	global *logrus.Logger
	once   sync.Once
)

// Init initializes the global logger with JSON output at the given level.
func Init(out io.Writer, level logrus.Level) {
	once.Do(func() {
		global = logrus.New()
		global.SetOutput(out)
		global.SetFormatter(&logrus.JSONFormatter{})
		global.SetLevel(level)
	})
}

// Get returns the global logger instance.
func Get() *logrus.Logger {
	if global == nil {
		Init(os.Stdout, logrus.InfoLevel)
	}
	return global
}

// Fields is re-exported so callers don't import logrus directly.
type Fields = logrus.Fields

// Convenience functions using the global logger

func Debug(message string, fields ...Fields) {
	entry(fields...).Debug(message)
}

func Info(message string, fields ...Fields) {
	entry(fields...).Info(message)
}

func Warn(message string, fields ...Fields) {
	entry(fields...).Warn(message)
}

func Error(message string, err error, fields ...Fields) {
	e := entry(fields...)
	if err != nil {
		e = e.WithError(err)
	}
	e.Error(message)
}

// entry merges optional field maps into a single log entry.
func entry(fields ...Fields) *logrus.Entry {
	e := logrus.NewEntry(Get())
	for _, f := range fields {
		e = e.WithFields(f)
	}
	return e
}
