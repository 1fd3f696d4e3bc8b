package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	sugar *zap.SugaredLogger
)

func init() {
	Init(os.Getenv("LOG_LEVEL"), os.Getenv("ENVIRONMENT"))
}

// Init rebuilds the process logger. level is one of debug, info, warn, error;
// anything else falls back to info. environment "development" switches to the
// console encoder.
func Init(level, environment string) {
	var lvl zapcore.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn", "warning":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if environment == "development" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: falling back to nop logger: %v\n", err)
		base = zap.NewNop()
	}

	mu.Lock()
	sugar = base.Sugar()
	mu.Unlock()
}

// SetLogger replaces the process logger, mostly for tests.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	sugar = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
	mu.Unlock()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func Info(format string, v ...interface{}) {
	current().Infof(format, v...)
}

func Error(format string, v ...interface{}) {
	current().Errorf(format, v...)
}

func Debug(format string, v ...interface{}) {
	current().Debugf(format, v...)
}

func Warn(format string, v ...interface{}) {
	current().Warnf(format, v...)
}

// Sync flushes buffered log entries.
func Sync() {
	_ = current().Sync()
}
