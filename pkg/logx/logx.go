// Package logx provides component-scoped logging for kubepilot, backed by zap.
package logx

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap logger with a component name so every line carries
// the subsystem it came from (engine, gateway, capindex, ...).
type Logger struct {
	component string
	zl        *zap.SugaredLogger
}

var (
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	root   *zap.Logger
	rootMu sync.RWMutex
)

func init() {
	if debug := os.Getenv("KUBEPILOT_DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		level.SetLevel(zapcore.DebugLevel)
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	root = zap.New(core)
}

// SetDebug toggles debug-level output at runtime.
func SetDebug(enabled bool) {
	if enabled {
		level.SetLevel(zapcore.DebugLevel)
	} else {
		level.SetLevel(zapcore.InfoLevel)
	}
}

// IsDebugEnabled reports whether debug-level output is active.
func IsDebugEnabled() bool {
	return level.Enabled(zapcore.DebugLevel)
}

// SetOutput replaces the logging core, directing output to w. Used by tests
// and by the CLI when writing to a log file instead of stderr.
func SetOutput(w zapcore.WriteSyncer) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), w, level)
	rootMu.Lock()
	root = zap.New(core)
	rootMu.Unlock()
}

// NewLogger returns a logger scoped to the given component name.
func NewLogger(component string) *Logger {
	rootMu.RLock()
	defer rootMu.RUnlock()
	return &Logger{
		component: component,
		zl:        root.Named(component).Sugar(),
	}
}

// WithComponent returns a copy of the logger scoped to a different component.
func (l *Logger) WithComponent(component string) *Logger {
	return NewLogger(component)
}

// Component returns the component name this logger is scoped to.
func (l *Logger) Component() string {
	return l.component
}

func (l *Logger) Debug(format string, args ...any) {
	l.zl.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.zl.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.zl.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.zl.Errorf(format, args...)
}

// Sync flushes buffered log entries. Call before process exit.
func Sync() {
	rootMu.RLock()
	defer rootMu.RUnlock()
	_ = root.Sync()
}

// Package-level helpers for code without a component logger in hand.

var defaultLogger = &defaultHolder{}

type defaultHolder struct {
	once sync.Once
	l    *Logger
}

func (h *defaultHolder) get() *Logger {
	h.once.Do(func() { h.l = NewLogger("kubepilot") })
	return h.l
}

func Debugf(format string, args ...any) {
	defaultLogger.get().Debug(format, args...)
}

func Infof(format string, args ...any) {
	defaultLogger.get().Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.get().Warn(format, args...)
}

// Errorf logs and returns the formatted error.
// Use this when you need both logging and error returning:
//
//	err := logx.Errorf("setup failed: %w", err)
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.get().Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err.Error() and returns fmt.Errorf("%s: %w", msg, err).
// Returns nil when err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.get().Error("%s", wrapped.Error())
	return wrapped
}
