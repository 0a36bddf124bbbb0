package services

import (
	"context"
	"sync"

	"midirelay/internal/core/domain"
	"midirelay/internal/core/ports"
	apperrors "midirelay/pkg/errors"

	"go.uber.org/zap"
)

// LifecycleService keeps the registry consistent with transport events.
// Every exit path funnels into Close, which is idempotent.
type LifecycleService struct {
	registry ports.PeerRegistry
	metrics  ports.RelayMetrics
	logger   *zap.SugaredLogger

	hooksMu sync.RWMutex
	onOpen  []func(domain.PeerID)
	onClose []func(domain.PeerID)
}

func NewLifecycleService(registry ports.PeerRegistry, metrics ports.RelayMetrics, logger *zap.SugaredLogger) *LifecycleService {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &LifecycleService{
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}
}

// OnOpen registers fn to run for every peer that becomes OPEN.
func (l *LifecycleService) OnOpen(fn func(domain.PeerID)) {
	l.hooksMu.Lock()
	defer l.hooksMu.Unlock()
	l.onOpen = append(l.onOpen, fn)
}

// OnClose registers fn to run once for every peer that leaves the registry.
func (l *LifecycleService) OnClose(fn func(domain.PeerID)) {
	l.hooksMu.Lock()
	defer l.hooksMu.Unlock()
	l.onClose = append(l.onClose, fn)
}

// Accept makes conn OPEN and eligible as a broadcast source and target.
func (l *LifecycleService) Accept(ctx context.Context, conn ports.PeerConn) error {
	conn.MarkOpen()

	if err := l.registry.Add(conn); err != nil {
		// Identities are UUIDs; a duplicate means a bug upstream.
		l.logger.Errorw("registry invariant violated, ignoring peer",
			"peer_id", conn.ID(),
			"error", err,
		)
		return err
	}

	l.hooksMu.RLock()
	hooks := l.onOpen
	l.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(conn.ID())
	}

	l.metrics.RecordPeerConnected()
	l.logger.Infow("peer connected",
		"peer_id", conn.ID(),
		"remote_addr", conn.Peer().RemoteAddr,
		"peers", l.registry.Count(),
	)
	return nil
}

func (l *LifecycleService) Close(ctx context.Context, id domain.PeerID, reason domain.CloseReason) {
	// Fan-outs holding an older snapshot must see the peer leave before
	// it disappears from the registry.
	if conn, ok := l.registry.Get(id); ok {
		conn.MarkClosing()
	}

	conn, removed := l.registry.Remove(id)
	if !removed {
		l.logger.Debugw("peer already removed", "peer_id", id, "reason", reason)
		return
	}

	if err := conn.Close(); err != nil {
		l.logger.Debugw("error closing peer transport", "peer_id", id, "error", err)
	}

	l.hooksMu.RLock()
	hooks := l.onClose
	l.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(id)
	}

	l.metrics.RecordPeerDisconnected(reason)
	l.logger.Infow("peer disconnected",
		"peer_id", id,
		"reason", reason,
		"peers", l.registry.Count(),
	)
}

// Fail handles a transport error. The error stays with this peer.
func (l *LifecycleService) Fail(ctx context.Context, id domain.PeerID, err error) {
	l.logger.Warnw("peer transport error",
		"peer_id", id,
		"code", apperrors.ErrCodeTransportError,
		"error", err,
	)
	l.Close(ctx, id, domain.CloseReasonTransport)
}

// Evict drops a peer that keeps failing to accept forwarded frames.
func (l *LifecycleService) Evict(ctx context.Context, id domain.PeerID, err error) {
	l.logger.Warnw("evicting peer after repeated send failures",
		"peer_id", id,
		"code", apperrors.CodeOf(err),
		"error", err,
	)
	l.Close(ctx, id, domain.CloseReasonSendFailures)
}

// Shutdown closes every registered peer.
func (l *LifecycleService) Shutdown(ctx context.Context) {
	for _, id := range l.registry.IDs() {
		l.Close(ctx, id, domain.CloseReasonShutdown)
	}
}
