package domain

import "time"

type PeerID string

// PeerState is the liveness of a peer connection.
type PeerState int32

const (
	PeerStateAccepted PeerState = iota
	PeerStateOpen
	PeerStateClosing
	PeerStateClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerStateAccepted:
		return "accepted"
	case PeerStateOpen:
		return "open"
	case PeerStateClosing:
		return "closing"
	case PeerStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Peer struct {
	ID          PeerID
	RemoteAddr  string
	UserAgent   string
	ConnectedAt time.Time
}

type CloseReason string

const (
	CloseReasonClient       CloseReason = "client_closed"
	CloseReasonTransport    CloseReason = "transport_error"
	CloseReasonSendFailures CloseReason = "send_failures"
	CloseReasonShutdown     CloseReason = "shutdown"
)
