package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"midirelay/internal/core/domain"
	"midirelay/internal/core/ports"
	"midirelay/internal/core/services"
	apperrors "midirelay/pkg/errors"
	rlog "midirelay/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ServerConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendQueueSize  int
	MaxMessageSize int64
	AllowedOrigins []string

	// Per-connection inbound limit. Zero MessagesPerSecond disables it.
	MessagesPerSecond float64
	Burst             int
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendQueueSize:  256,
		MaxMessageSize: 64 * 1024,
		AllowedOrigins: []string{"*"},
	}
}

// WebSocketServer accepts relay connections. Each connection gets one
// reader (the handler goroutine) and one writer goroutine.
type WebSocketServer struct {
	registry  ports.PeerRegistry
	lifecycle ports.Lifecycle
	relay     ports.Relay
	metrics   ports.RelayMetrics

	cfg      ServerConfig
	upgrader websocket.Upgrader

	logger    *zap.SugaredLogger
	ctxLogger *rlog.ContextLogger
}

func NewWebSocketServer(
	registry ports.PeerRegistry,
	lifecycle ports.Lifecycle,
	relay ports.Relay,
	metrics ports.RelayMetrics,
	cfg ServerConfig,
	logger *zap.Logger,
) *WebSocketServer {
	if metrics == nil {
		metrics = services.NopMetrics{}
	}
	s := &WebSocketServer{
		registry:  registry,
		lifecycle: lifecycle,
		relay:     relay,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger.Sugar(),
		ctxLogger: rlog.NewContextLogger(logger),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	s.logger.Warnw("rejecting websocket origin",
		"origin", origin,
		"code", apperrors.ErrCodeForbidden,
	)
	return false
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	peer := newWSPeer(conn, domain.Peer{
		ID:          domain.PeerID(uuid.NewString()),
		RemoteAddr:  r.RemoteAddr,
		UserAgent:   r.UserAgent(),
		ConnectedAt: time.Now(),
	}, s.cfg.SendQueueSize)

	// Detached from r.Context(): only the connection itself ends a peer.
	ctx := rlog.WithPeer(context.Background(), string(peer.ID()), r.RemoteAddr)
	log := s.ctxLogger.Sugar(ctx)

	if err := s.lifecycle.Accept(ctx, peer); err != nil {
		peer.Close()
		return
	}

	go peer.writePump(s.cfg.PingInterval, s.cfg.WriteTimeout, func(err error) {
		s.lifecycle.Fail(ctx, peer.ID(), apperrors.NewTransportError(peer.ID(), err))
	})

	s.readPump(ctx, peer, log)
}

func (s *WebSocketServer) readPump(ctx context.Context, peer *wsPeer, log *zap.SugaredLogger) {
	conn := peer.conn
	conn.SetReadLimit(s.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	var limiter *rate.Limiter
	if s.cfg.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst)
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			s.handleReadError(ctx, peer, log, err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		if limiter != nil && !limiter.Allow() {
			s.metrics.RecordFrameDropped(string(apperrors.ErrCodeRateLimit))
			log.Debugw("inbound frame over rate limit, dropping", "size", len(data))
			continue
		}

		var encoding domain.Encoding
		switch messageType {
		case websocket.TextMessage:
			encoding = domain.EncodingText
		case websocket.BinaryMessage:
			encoding = domain.EncodingBinary
		default:
			continue
		}

		// Errors are logged by the relay and only affect this one frame.
		_ = s.relay.HandleInbound(ctx, domain.Frame{
			Origin:   peer.ID(),
			Encoding: encoding,
			Data:     data,
		})
	}
}

func (s *WebSocketServer) handleReadError(ctx context.Context, peer *wsPeer, log *zap.SugaredLogger, err error) {
	// We closed it ourselves (eviction, write failure or shutdown).
	if state := peer.State(); state == domain.PeerStateClosing || state == domain.PeerStateClosed {
		s.lifecycle.Close(ctx, peer.ID(), domain.CloseReasonTransport)
		return
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		log.Debugw("peer closed connection", "error", err)
		s.lifecycle.Close(ctx, peer.ID(), domain.CloseReasonClient)
		return
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		log.Warnw("peer exceeded max message size", "limit", s.cfg.MaxMessageSize)
	}
	s.lifecycle.Fail(ctx, peer.ID(), apperrors.NewTransportError(peer.ID(), err))
}

func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": s.registry.Count(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *WebSocketServer) GetConnectedPeers() []domain.PeerID {
	return s.registry.IDs()
}

func (s *WebSocketServer) IsPeerConnected(peerID domain.PeerID) bool {
	_, exists := s.registry.Get(peerID)
	return exists
}
