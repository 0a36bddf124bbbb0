package main

import (
	"net/http"

	"midirelay/internal/core/ports"
	httphandlers "midirelay/internal/handlers/http"
	"midirelay/internal/infrastructure/distributed"
	"midirelay/internal/infrastructure/middleware"
	"midirelay/internal/infrastructure/monitoring"
	"midirelay/internal/infrastructure/signal"
	"midirelay/pkg/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type routerDeps struct {
	cfg      *config.Config
	registry ports.PeerRegistry
	ws       *signal.WebSocketServer
	health   *monitoring.HealthChecker
	cluster  *distributed.ClusterBridge // nil when clustering is off
	metrics  http.Handler               // nil when prometheus is off
	logger   *zap.SugaredLogger
}

func newRouter(d routerDeps) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(d.logger),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(d.logger),
	)

	// Browser clients connect to the page origin root; /ws is kept for tools.
	upgrade := []gin.HandlerFunc{
		middleware.NewConnectionRateLimitMiddleware(d.cfg),
		gin.WrapF(d.ws.HandleWebSocket),
	}
	router.GET("/", upgrade...)
	router.GET("/ws", upgrade...)

	router.GET("/health", gin.WrapF(d.ws.HealthCheck))

	var presence httphandlers.ClusterPresence
	if d.cluster != nil {
		presence = d.cluster
	}
	httphandlers.NewRelayHandler(d.registry, d.health, presence).SetupRoutes(router)

	if d.metrics != nil {
		router.GET("/metrics", gin.WrapH(d.metrics))
	}

	return router
}
