package services

import (
	"context"
	"errors"
	"testing"

	"midirelay/internal/core/domain"
	"midirelay/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLifecycle() (*LifecycleService, ports.PeerRegistry) {
	reg := NewPeerRegistry()
	return NewLifecycleService(reg, nil, zap.NewNop().Sugar()), reg
}

func TestLifecycle_AcceptOpensAndRegisters(t *testing.T) {
	l, reg := newTestLifecycle()
	conn := newFakeConn("a")

	require.NoError(t, l.Accept(context.Background(), conn))

	assert.Equal(t, domain.PeerStateOpen, conn.State())
	assert.Equal(t, 1, reg.Count())
}

func TestLifecycle_AcceptDuplicateIsReported(t *testing.T) {
	l, reg := newTestLifecycle()
	require.NoError(t, l.Accept(context.Background(), newFakeConn("a")))

	err := l.Accept(context.Background(), newFakeConn("a"))

	assert.ErrorIs(t, err, domain.ErrDuplicatePeer)
	assert.Equal(t, 1, reg.Count())
}

func TestLifecycle_OpenHookSkipsDuplicates(t *testing.T) {
	l, _ := newTestLifecycle()

	var opened []domain.PeerID
	l.OnOpen(func(id domain.PeerID) { opened = append(opened, id) })

	require.NoError(t, l.Accept(context.Background(), newFakeConn("a")))
	require.Error(t, l.Accept(context.Background(), newFakeConn("a")))
	require.NoError(t, l.Accept(context.Background(), newFakeConn("b")))

	assert.Equal(t, []domain.PeerID{"a", "b"}, opened)
}

func TestLifecycle_CloseIsIdempotent(t *testing.T) {
	l, reg := newTestLifecycle()
	conn := newFakeConn("a")
	require.NoError(t, l.Accept(context.Background(), conn))

	var hookCalls int
	l.OnClose(func(id domain.PeerID) {
		assert.Equal(t, domain.PeerID("a"), id)
		hookCalls++
	})

	l.Close(context.Background(), "a", domain.CloseReasonClient)
	l.Fail(context.Background(), "a", errors.New("read: connection reset"))
	l.Close(context.Background(), "a", domain.CloseReasonClient)

	assert.Equal(t, 0, reg.Count())
	assert.Equal(t, 1, conn.closeCount())
	assert.Equal(t, 1, hookCalls)
	assert.Equal(t, domain.PeerStateClosed, conn.State())
}

func TestLifecycle_FailRemovesOnlyThatPeer(t *testing.T) {
	l, reg := newTestLifecycle()
	a, b := newFakeConn("a"), newFakeConn("b")
	require.NoError(t, l.Accept(context.Background(), a))
	require.NoError(t, l.Accept(context.Background(), b))

	l.Fail(context.Background(), "a", errors.New("unexpected EOF"))

	assert.Equal(t, []domain.PeerID{"b"}, reg.IDs())
	assert.Equal(t, domain.PeerStateOpen, b.State())
	assert.Equal(t, 0, b.closeCount())
}

func TestLifecycle_Shutdown(t *testing.T) {
	l, reg := newTestLifecycle()
	conns := []*fakeConn{newFakeConn("a"), newFakeConn("b"), newFakeConn("c")}
	for _, c := range conns {
		require.NoError(t, l.Accept(context.Background(), c))
	}

	l.Shutdown(context.Background())

	assert.Equal(t, 0, reg.Count())
	for _, c := range conns {
		assert.Equal(t, 1, c.closeCount())
	}
}

// removalObserver records each peer's state at the moment it leaves the registry.
type removalObserver struct {
	ports.PeerRegistry
	statesAtRemoval map[domain.PeerID]domain.PeerState
}

func (r *removalObserver) Remove(id domain.PeerID) (ports.PeerConn, bool) {
	if conn, ok := r.PeerRegistry.Get(id); ok {
		r.statesAtRemoval[id] = conn.State()
	}
	return r.PeerRegistry.Remove(id)
}

func TestLifecycle_PeerStopsSendingBeforeRemoval(t *testing.T) {
	reg := &removalObserver{PeerRegistry: NewPeerRegistry(), statesAtRemoval: map[domain.PeerID]domain.PeerState{}}
	l := NewLifecycleService(reg, nil, zap.NewNop().Sugar())
	conn := newFakeConn("a")
	require.NoError(t, l.Accept(context.Background(), conn))

	l.Close(context.Background(), "a", domain.CloseReasonClient)

	assert.Equal(t, domain.PeerStateClosing, reg.statesAtRemoval["a"])
	assert.Equal(t, domain.PeerStateClosed, conn.State())
}
