package http

import (
	"context"
	"net/http"
	"time"

	"midirelay/internal/core/domain"
	"midirelay/internal/core/ports"
	"midirelay/internal/infrastructure/monitoring"
	apperrors "midirelay/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ClusterPresence reports peers connected to other relay instances.
type ClusterPresence interface {
	InstanceID() string
	RemotePeers() map[string][]domain.PeerID
}

type RelayHandler struct {
	registry ports.PeerRegistry
	health   *monitoring.HealthChecker
	cluster  ClusterPresence
}

// NewRelayHandler builds the read-only HTTP surface. cluster may be nil.
func NewRelayHandler(registry ports.PeerRegistry, health *monitoring.HealthChecker, cluster ClusterPresence) *RelayHandler {
	return &RelayHandler{
		registry: registry,
		health:   health,
		cluster:  cluster,
	}
}

func (h *RelayHandler) SetupRoutes(router gin.IRouter) {
	router.GET("/ready", h.Ready)
	router.GET("/peers", h.ListPeers)
	router.GET("/peers/:id", h.GetPeer)
}

func (h *RelayHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := h.health.CheckAll(ctx)
	if status.Status != "healthy" {
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *RelayHandler) ListPeers(c *gin.Context) {
	response := gin.H{
		"local": h.registry.IDs(),
		"count": h.registry.Count(),
	}
	if h.cluster != nil {
		response["instance_id"] = h.cluster.InstanceID()
		response["remote"] = h.cluster.RemotePeers()
	}
	c.JSON(http.StatusOK, response)
}

func (h *RelayHandler) GetPeer(c *gin.Context) {
	id := domain.PeerID(c.Param("id"))

	conn, ok := h.registry.Get(id)
	if !ok {
		c.Error(apperrors.NewPeerNotFound(id))
		return
	}

	peer := conn.Peer()
	c.JSON(http.StatusOK, gin.H{
		"id":           peer.ID,
		"remote_addr":  peer.RemoteAddr,
		"user_agent":   peer.UserAgent,
		"connected_at": peer.ConnectedAt,
		"state":        conn.State().String(),
	})
}
