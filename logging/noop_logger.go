package logging

import "context"

// NoopLogger discards everything; useful in tests and in library embeddings
// that supply their own logging elsewhere.
type NoopLogger struct{}

func NewNoopLogger() *NoopLogger { return &NoopLogger{} }

func (l *NoopLogger) Trace(ctx context.Context, format string, args ...interface{}) {}
func (l *NoopLogger) Debug(ctx context.Context, format string, args ...interface{}) {}
func (l *NoopLogger) Info(ctx context.Context, format string, args ...interface{})  {}
func (l *NoopLogger) Warn(ctx context.Context, format string, args ...interface{})  {}
func (l *NoopLogger) Error(ctx context.Context, format string, args ...interface{}) {}
func (l *NoopLogger) Hexdump(ctx context.Context, data []byte)                     {}

func (l *NoopLogger) WithFields(fields map[string]interface{}) LoggerInterface { return l }
func (l *NoopLogger) GetLevel() LogLevel                                       { return LevelNone }
func (l *NoopLogger) SetLevel(level LogLevel)                                  {}
