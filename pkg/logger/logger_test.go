package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Levels(t *testing.T) {
	l := New("debug")
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l = New("warn", "console")
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	l = New("not-a-level")
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestContextLogger_WithContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithPeer(context.Background(), "peer-1", "10.0.0.1:5000")
	ctx = WithTraceID(ctx, "abc")
	cl.Sugar(ctx).Infow("peer connected")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "peer-1", fields["peer_id"])
	assert.Equal(t, "10.0.0.1:5000", fields["remote_addr"])
	assert.Equal(t, "abc", fields["trace_id"])
}

func TestContextLogger_EmptyContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	cl.WithContext(context.Background()).Info("plain")

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].ContextMap())
}
