package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const (
	peerIDKey     ctxKey = "peer_id"
	remoteAddrKey ctxKey = "remote_addr"
	traceIDKey    ctxKey = "trace_id"
)

// WithPeer stores the peer identity on ctx for later log enrichment.
func WithPeer(ctx context.Context, peerID, remoteAddr string) context.Context {
	ctx = context.WithValue(ctx, peerIDKey, peerID)
	return context.WithValue(ctx, remoteAddrKey, remoteAddr)
}

// WithTraceID stores a trace id on ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// ContextLogger provides context-aware logging
type ContextLogger struct {
	logger *zap.Logger
}

// NewContextLogger creates a new context logger
func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{
		logger: logger,
	}
}

// WithContext adds context fields to logger
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}

	for _, key := range []ctxKey{peerIDKey, remoteAddrKey, traceIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}

	if len(fields) == 0 {
		return cl.logger
	}

	return cl.logger.With(fields...)
}

// Sugar returns a sugared logger carrying the context fields.
func (cl *ContextLogger) Sugar(ctx context.Context) *zap.SugaredLogger {
	return cl.WithContext(ctx).Sugar()
}

// WithError adds error to logger
func (cl *ContextLogger) WithError(err error) *zap.Logger {
	return cl.logger.With(zap.Error(err))
}
