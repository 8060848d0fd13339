package logger

import (
	"context"
	"go.uber.org/zap"
)

type key string

const (
	// KeyForLogger is used to store Logger in a context.Context
	KeyForLogger key = "logger"
	// KeyForRequestID is used to store the ID of the current request in a context.Context
	KeyForRequestID key = "request_id"
	// KeyForCorrelationID is used to store the correlation ID that 5xx responses
	// expose for support lookup instead of upstream error details
	KeyForCorrelationID key = "correlation_id"
)

// Logger is a type that stores a pointer on zap.Logger
//
// Supposed to be stored in context.Context
type Logger struct {
	l *zap.Logger
}

// NewLogger creates a new Logger, might return an error because of zap
func NewLogger() (*Logger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	return &Logger{l: logger}, nil
}

// New creates a new context.Context with a new logger placed in it
func New(ctx context.Context) (context.Context, error) {
	loggerStruct, err := NewLogger()
	if err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, KeyForLogger, loggerStruct)
	return ctx, nil
}

// WithRequestID returns a context carrying the given request ID so that all
// log lines of one request can be grouped
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, KeyForRequestID, requestID)
}

// WithCorrelationID returns a context carrying the given correlation ID
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, KeyForCorrelationID, correlationID)
}

// CorrelationIDFromCtx returns the correlation ID stored in ctx, if any
func CorrelationIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(KeyForCorrelationID).(string); ok {
		return v
	}
	return ""
}

// GetLoggerFromCtx gets Logger from given ctx if present, else nil
func GetLoggerFromCtx(ctx context.Context) *Logger {
	l, _ := ctx.Value(KeyForLogger).(*Logger)
	return l
}

// TryAppendIDsFromContext appends fields with the request ID and correlation ID
// of the current request if they are in given context
func TryAppendIDsFromContext(ctx context.Context, fields []zap.Field) []zap.Field {
	if v, ok := ctx.Value(KeyForRequestID).(string); ok {
		fields = append(fields, zap.String(string(KeyForRequestID), v))
	}
	if v, ok := ctx.Value(KeyForCorrelationID).(string); ok {
		fields = append(fields, zap.String(string(KeyForCorrelationID), v))
	}
	return fields
}

// GetOrCreateLoggerFromCtx is a safe version of GetLoggerFromCtx that creates a new logger if no logger is in ctx
func GetOrCreateLoggerFromCtx(ctx context.Context) *Logger {
	logger := GetLoggerFromCtx(ctx)
	if logger == nil {
		logger, _ = NewLogger()
	}
	return logger
}

// Debug makes a debug level message
func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	fields = TryAppendIDsFromContext(ctx, fields)
	l.l.Debug(msg, fields...)
}

// Info makes an info level message
func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	fields = TryAppendIDsFromContext(ctx, fields)
	l.l.Info(msg, fields...)
}

// Warn makes a warn level message
func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	fields = TryAppendIDsFromContext(ctx, fields)
	l.l.Warn(msg, fields...)
}

// Error makes an error level message
func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	fields = TryAppendIDsFromContext(ctx, fields)
	l.l.Error(msg, fields...)
}

// Fatal makes a fatal level message
func (l *Logger) Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	fields = TryAppendIDsFromContext(ctx, fields)
	l.l.Fatal(msg, fields...)
}
