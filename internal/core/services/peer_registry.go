package services

import (
	"fmt"
	"sync"

	"midirelay/internal/core/domain"
	"midirelay/internal/core/ports"
)

// peerRegistry is the set of open connections. Every read hands out a copy,
// so callers may iterate while other goroutines add or remove peers.
type peerRegistry struct {
	peers map[domain.PeerID]ports.PeerConn
	mu    sync.RWMutex
}

func NewPeerRegistry() ports.PeerRegistry {
	return &peerRegistry{
		peers: make(map[domain.PeerID]ports.PeerConn),
	}
}

func (r *peerRegistry) Add(conn ports.PeerConn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peers[conn.ID()]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicatePeer, conn.ID())
	}

	r.peers[conn.ID()] = conn
	return nil
}

func (r *peerRegistry) Remove(id domain.PeerID) (ports.PeerConn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.peers[id]
	if !exists {
		return nil, false
	}

	delete(r.peers, id)
	return conn, true
}

func (r *peerRegistry) Get(id domain.PeerID) (ports.PeerConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.peers[id]
	return conn, exists
}

func (r *peerRegistry) SnapshotExcluding(id domain.PeerID) []ports.PeerConn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]ports.PeerConn, 0, len(r.peers))
	for peerID, conn := range r.peers {
		if peerID != id {
			snapshot = append(snapshot, conn)
		}
	}
	return snapshot
}

func (r *peerRegistry) IDs() []domain.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]domain.PeerID, 0, len(r.peers))
	for peerID := range r.peers {
		ids = append(ids, peerID)
	}
	return ids
}

func (r *peerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
