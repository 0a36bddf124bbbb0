package services

import (
	"context"
	"sync"

	"midirelay/internal/core/domain"

	"github.com/stretchr/testify/mock"
)

// fakeConn records frames instead of writing them to a socket.
type fakeConn struct {
	id      domain.PeerID
	mu      sync.Mutex
	state   domain.PeerState
	frames  []domain.Frame
	sendErr error
	closes  int
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: domain.PeerID(id), state: domain.PeerStateAccepted}
}

func (c *fakeConn) ID() domain.PeerID { return c.id }

func (c *fakeConn) Peer() domain.Peer {
	return domain.Peer{ID: c.id, RemoteAddr: "127.0.0.1:1"}
}

func (c *fakeConn) State() domain.PeerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConn) MarkOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = domain.PeerStateOpen
}

func (c *fakeConn) MarkClosing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.PeerStateClosed {
		c.state = domain.PeerStateClosing
	}
}

func (c *fakeConn) Send(frame domain.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.state = domain.PeerStateClosed
	return nil
}

func (c *fakeConn) setState(s domain.PeerState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *fakeConn) setSendErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *fakeConn) received() []domain.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type MockClusterPublisher struct {
	mock.Mock
}

func (m *MockClusterPublisher) PublishFrame(ctx context.Context, frame domain.Frame) error {
	args := m.Called(ctx, frame)
	return args.Error(0)
}
