package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.RWMutex
	base = zap.NewNop()

	serviceName = "default"
)

// Init builds the process logger. level is a zap level name ("debug", "info", ...).
func Init(level, service string) error {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return fmt.Errorf("parse log level %q: %w", level, err)
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("build zap logger: %w", err)
	}

	SetServiceName(service)
	Set(l)
	return nil
}

// InitNop silences logging (tests).
func InitNop() { Set(zap.NewNop()) }

// Set replaces the underlying zap logger.
func Set(l *zap.Logger) {
	mu.Lock()
	base = l
	mu.Unlock()
}

func SetServiceName(newName string) string {
	mu.Lock()
	defer mu.Unlock()
	oldName := serviceName
	if newName != "" {
		serviceName = newName
	}
	return oldName
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With(zap.String("service", serviceName))
}

// Named returns a sugared logger for one component.
func Named(component string) *zap.SugaredLogger {
	return current().WithOptions(zap.AddCallerSkip(-1)).Named(component).Sugar()
}

func Sync() { _ = current().Sync() }

func Debug(format string, args ...interface{}) {
	current().Debug(fmt.Sprintf(format, args...))
}

func Info(format string, args ...interface{}) {
	current().Info(fmt.Sprintf(format, args...))
}

func Warn(format string, args ...interface{}) {
	current().Warn(fmt.Sprintf(format, args...))
}

func Error(format string, args ...interface{}) {
	current().Error(fmt.Sprintf(format, args...))
}

func Fatal(format string, args ...interface{}) {
	current().Fatal(fmt.Sprintf(format, args...))
}
