// Package logging provides the structured LoggerInterface used across the
// client channel, server session, and protocol codecs, backed by
// go.uber.org/zap.
package logging

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel mirrors the teacher's level enum so call sites read the same way;
// it maps onto zapcore.Level under the hood.
type LogLevel int

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelNone
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelTrace, LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel + 1 // above Fatal: nothing emits
	}
}

// LoggerInterface is the logging contract every package depends on, never
// on *zap.Logger directly, so tests can substitute NoopLogger.
type LoggerInterface interface {
	Trace(ctx context.Context, format string, args ...interface{})
	Debug(ctx context.Context, format string, args ...interface{})
	Info(ctx context.Context, format string, args ...interface{})
	Warn(ctx context.Context, format string, args ...interface{})
	Error(ctx context.Context, format string, args ...interface{})
	WithFields(fields map[string]interface{}) LoggerInterface
	GetLevel() LogLevel
	SetLevel(level LogLevel)
	// Hexdump logs a hexdump of data; callers gate this on a DecodeLevel,
	// not on log level.
	Hexdump(ctx context.Context, data []byte)
}

// Logger is a LoggerInterface backed by a zap.SugaredLogger. level is kept
// alongside the zap core via an AtomicLevel so SetLevel can change verbosity
// at runtime without rebuilding the logger.
type Logger struct {
	sugar  *zap.SugaredLogger
	atom   zap.AtomicLevel
	level  LogLevel
	fields map[string]interface{}
}

// Option configures a Logger.
type Option func(*loggerConfig)

type loggerConfig struct {
	level  LogLevel
	fields map[string]interface{}
}

// WithLevel sets the initial log level.
func WithLevel(level LogLevel) Option {
	return func(c *loggerConfig) { c.level = level }
}

// WithFields attaches structured fields that will annotate every entry.
func WithFields(fields map[string]interface{}) Option {
	return func(c *loggerConfig) {
		if c.fields == nil {
			c.fields = make(map[string]interface{}, len(fields))
		}
		for k, v := range fields {
			c.fields[k] = v
		}
	}
}

// NewLogger builds a Logger writing JSON lines to stderr.
func NewLogger(options ...Option) *Logger {
	cfg := &loggerConfig{level: LevelInfo}
	for _, opt := range options {
		opt(cfg)
	}

	atom := zap.NewAtomicLevelAt(cfg.level.zapLevel())
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.Lock(os.Stderr), atom)
	base := zap.New(core)

	return &Logger{
		sugar:  base.Sugar(),
		atom:   atom,
		level:  cfg.level,
		fields: cfg.fields,
	}
}

func (l *Logger) sugarWithFields() *zap.SugaredLogger {
	if len(l.fields) == 0 {
		return l.sugar
	}
	args := make([]interface{}, 0, len(l.fields)*2)
	for k, v := range l.fields {
		args = append(args, k, v)
	}
	return l.sugar.With(args...)
}

func (l *Logger) Trace(ctx context.Context, format string, args ...interface{}) {
	l.sugarWithFields().Debugf(format, args...)
}

func (l *Logger) Debug(ctx context.Context, format string, args ...interface{}) {
	l.sugarWithFields().Debugf(format, args...)
}

func (l *Logger) Info(ctx context.Context, format string, args ...interface{}) {
	l.sugarWithFields().Infof(format, args...)
}

func (l *Logger) Warn(ctx context.Context, format string, args ...interface{}) {
	l.sugarWithFields().Warnf(format, args...)
}

func (l *Logger) Error(ctx context.Context, format string, args ...interface{}) {
	l.sugarWithFields().Errorf(format, args...)
}

// WithFields returns a new Logger sharing the same underlying core but with
// fields merged on top.
func (l *Logger) WithFields(fields map[string]interface{}) LoggerInterface {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{sugar: l.sugar, atom: l.atom, level: l.level, fields: merged}
}

func (l *Logger) GetLevel() LogLevel { return l.level }

func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.atom.SetLevel(level.zapLevel())
}

// Hexdump renders data as an offset/hex table at debug level.
func (l *Logger) Hexdump(ctx context.Context, data []byte) {
	if l.level > LevelDebug {
		return
	}
	var out string
	for i := 0; i < len(data); i += 16 {
		out += fmt.Sprintf("%08x ", i)
		for j := 0; j < 16 && i+j < len(data); j++ {
			out += fmt.Sprintf("%02x ", data[i+j])
		}
		out += "\n"
	}
	l.sugarWithFields().Debug(out)
}
