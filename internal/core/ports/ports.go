package ports

import (
	"context"
	"time"

	"midirelay/internal/core/domain"
)

// PeerConn is the outbound side of one accepted connection.
type PeerConn interface {
	ID() domain.PeerID
	Peer() domain.Peer
	State() domain.PeerState
	// MarkOpen moves an accepted connection to OPEN.
	MarkOpen()
	// MarkClosing stops further Sends ahead of Close.
	MarkClosing()
	// Send queues the frame for delivery. It must not block on the network.
	Send(frame domain.Frame) error
	// Close tears the transport down. Safe to call more than once.
	Close() error
}

type PeerRegistry interface {
	Add(conn PeerConn) error
	// Remove is idempotent; ok is false when id was not registered.
	Remove(id domain.PeerID) (conn PeerConn, ok bool)
	Get(id domain.PeerID) (PeerConn, bool)
	SnapshotExcluding(id domain.PeerID) []PeerConn
	IDs() []domain.PeerID
	Count() int
}

type Relay interface {
	// HandleInbound classifies a frame received from a local peer and fans it out.
	HandleInbound(ctx context.Context, frame domain.Frame) error
	// Deliver fans out a frame relayed by another instance to every local peer.
	Deliver(ctx context.Context, frame domain.Frame)
}

type Lifecycle interface {
	Accept(ctx context.Context, conn PeerConn) error
	Close(ctx context.Context, id domain.PeerID, reason domain.CloseReason)
	Fail(ctx context.Context, id domain.PeerID, err error)
	Evict(ctx context.Context, id domain.PeerID, err error)
}

// ClusterPublisher forwards locally received frames to other relay instances.
type ClusterPublisher interface {
	PublishFrame(ctx context.Context, frame domain.Frame) error
}

type RelayMetrics interface {
	RecordPeerConnected()
	RecordPeerDisconnected(reason domain.CloseReason)
	RecordFrameReceived(encoding domain.Encoding)
	RecordFrameDropped(reason string)
	RecordFanOut(encoding domain.Encoding, size, delivered, failed int, duration time.Duration)
	RecordClusterFrame(direction string)
}
