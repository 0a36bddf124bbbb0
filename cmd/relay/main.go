package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"midirelay/internal/core/ports"
	"midirelay/internal/core/services"
	"midirelay/internal/infrastructure/distributed"
	"midirelay/internal/infrastructure/monitoring"
	wssignal "midirelay/internal/infrastructure/signal"
	"midirelay/pkg/config"
	apperrors "midirelay/pkg/errors"
	"midirelay/pkg/logger"
	"midirelay/pkg/retry"
	"midirelay/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// redisStartup bounds how long startup waits for Redis before serving
// locally while the cluster bridge keeps retrying.
var redisStartup = retry.DefaultConfig()

// loadConfig returns the first usable config file, or defaults plus
// environment. Files that exist but cannot be used are reported in problems.
func loadConfig() (cfg *config.Config, path string, problems []error) {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/midirelay/config.yaml",
		"config.yaml",
	}
	if env := os.Getenv("MIDIRELAY_CONFIG"); env != "" {
		configPaths = []string{env}
	}

	for _, p := range configPaths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		loaded, err := config.Load(p)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		return loaded, p, problems
	}

	// No usable file; defaults plus environment.
	cfg, err := config.Load("")
	if err != nil {
		problems = append(problems, err)
		return config.DefaultConfig(), "", problems
	}
	return cfg, "", problems
}

func main() {
	cfg, path, problems := loadConfig()

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	for _, err := range problems {
		log.Warnw("ignoring unusable config", "error", err)
	}
	if path != "" {
		log.Infow("loaded config", "path", path)
	} else {
		log.Infow("no config file loaded, using defaults and environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zapLogger, nil); err != nil {
		log.Fatalw("relay stopped", "code", apperrors.CodeOf(err), "error", err)
	}
	log.Info("relay stopped")
}

// run serves until ctx is done. onListen, when set, receives the bound
// address once the listener is up.
func run(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger, onListen func(net.Addr)) error {
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "midirelay",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Warnw("tracing disabled", "error", err)
		tp, _ = tracing.Init(tracing.Config{})
	}

	var metrics *monitoring.PrometheusCollector
	var metricsHandler http.Handler
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
		metricsHandler = promhttp.Handler()
	}

	registry := services.NewPeerRegistry()
	lifecycle := services.NewLifecycleService(registry, metricsOrNil(metrics), log)
	relay := services.NewRelayService(registry, lifecycle, metricsOrNil(metrics), services.RelayConfig{
		MaxSendFailures: cfg.Relay.MaxSendFailures,
	}, log)

	ws := wssignal.NewWebSocketServer(registry, lifecycle, relay, metricsOrNil(metrics), wssignal.ServerConfig{
		PingInterval:      cfg.Relay.PingInterval,
		PongTimeout:       cfg.Relay.PongTimeout,
		WriteTimeout:      cfg.Relay.WriteTimeout,
		SendQueueSize:     cfg.Relay.SendQueueSize,
		MaxMessageSize:    cfg.Relay.MaxMessageSizeBytes,
		AllowedOrigins:    cfg.Relay.AllowedOrigins,
		MessagesPerSecond: messagesPerSecond(cfg),
		Burst:             cfg.RateLimiting.Burst,
	}, zapLogger)

	health := monitoring.NewHealthChecker()

	var cluster *distributed.ClusterBridge
	if cfg.Redis.Enabled {
		client := distributed.NewRedisClient(cfg.Redis)
		defer client.Close()

		// Redis being down only costs cross-instance relaying; the bridge
		// reconnects on its own once the server answers.
		if err := distributed.WaitForRedis(ctx, client, redisStartup, log); err != nil {
			log.Warnw("starting without Redis, cluster bridge will keep retrying",
				"address", cfg.Redis.Address,
				"error", err,
			)
		}

		cluster = distributed.NewClusterBridge(client, cfg.Redis.Channel, relay, metricsOrNil(metrics), log)
		cluster.SetHeartbeatInterval(cfg.Redis.HeartbeatInterval)
		relay.SetClusterPublisher(cluster)
		lifecycle.OnOpen(cluster.PeerJoined)
		lifecycle.OnClose(cluster.PeerLeft)
		health.AddRedisCheck(client, 2*time.Second)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Handler: newRouter(routerDeps{
			cfg:      cfg,
			registry: registry,
			ws:       ws,
			health:   health,
			cluster:  cluster,
			metrics:  metricsHandler,
			logger:   log,
		}),
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout is left unset: it would cap the lifetime of hijacked
		// relay connections. Frame writes carry their own deadline.
	}

	// Bind before announcing readiness so a taken port fails fast.
	ln, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		return apperrors.NewListenBindFailure(cfg.Server.Address, err)
	}
	if onListen != nil {
		onListen(ln.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infow("midirelay listening", "address", ln.Addr().String(), "clustered", cluster != nil)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cluster != nil {
		g.Go(func() error { return cluster.RunPublisher(gctx) })
		g.Go(func() error { return cluster.Subscribe(gctx) })
		g.Go(func() error { return cluster.RunHeartbeat(gctx, registry.IDs) })
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down relay")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("error during server shutdown", "error", err)
			srv.Close()
		}
		// Hijacked relay connections are not tracked by the http.Server.
		lifecycle.Shutdown(shutdownCtx)
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("error shutting down tracer", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// metricsOrNil avoids handing services a typed nil interface.
func metricsOrNil(m *monitoring.PrometheusCollector) ports.RelayMetrics {
	if m == nil {
		return nil
	}
	return m
}

func messagesPerSecond(cfg *config.Config) float64 {
	if !cfg.RateLimiting.Enabled {
		return 0
	}
	return cfg.RateLimiting.MessagesPerSecond
}
