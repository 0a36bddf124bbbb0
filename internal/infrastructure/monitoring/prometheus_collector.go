package monitoring

import (
	"time"

	"midirelay/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	peersConnected   prometheus.Gauge
	connectionsTotal prometheus.Counter
	disconnects      *prometheus.CounterVec

	framesReceived  *prometheus.CounterVec
	framesDropped   *prometheus.CounterVec
	framesForwarded *prometheus.CounterVec
	bytesForwarded  prometheus.Counter
	sendFailures    prometheus.Counter
	clusterFrames   *prometheus.CounterVec

	fanOutDuration prometheus.Histogram
	fanOutTargets  prometheus.Histogram
}

// NewPrometheusCollector registers relay metrics on reg. Passing nil uses the
// default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		peersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "midirelay_peers_connected",
			Help: "Number of currently connected peers",
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "midirelay_connections_total",
			Help: "Total number of accepted WebSocket connections",
		}),

		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "midirelay_disconnects_total",
			Help: "Total number of closed connections by reason",
		}, []string{"reason"}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "midirelay_frames_received_total",
			Help: "Frames received from local peers by encoding",
		}, []string{"encoding"}),

		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "midirelay_frames_dropped_total",
			Help: "Inbound frames dropped before fan-out by reason",
		}, []string{"reason"}),

		framesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "midirelay_frames_forwarded_total",
			Help: "Frames queued to target peers by encoding",
		}, []string{"encoding"}),

		bytesForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "midirelay_forwarded_bytes_total",
			Help: "Total bytes queued to target peers",
		}),

		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "midirelay_send_failures_total",
			Help: "Per-target forwarding failures",
		}),

		clusterFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "midirelay_cluster_frames_total",
			Help: "Frames exchanged with other relay instances by direction",
		}, []string{"direction"}),

		fanOutDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "midirelay_fanout_duration_seconds",
			Help:    "Time spent queueing one frame to all targets",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),

		fanOutTargets: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "midirelay_fanout_targets",
			Help:    "Number of targets per fan-out",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
	}
}

func (p *PrometheusCollector) RecordPeerConnected() {
	p.peersConnected.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) RecordPeerDisconnected(reason domain.CloseReason) {
	p.peersConnected.Dec()
	p.disconnects.WithLabelValues(string(reason)).Inc()
}

func (p *PrometheusCollector) RecordFrameReceived(encoding domain.Encoding) {
	p.framesReceived.WithLabelValues(string(encoding)).Inc()
}

func (p *PrometheusCollector) RecordFrameDropped(reason string) {
	p.framesDropped.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordFanOut(encoding domain.Encoding, size, delivered, failed int, duration time.Duration) {
	p.framesForwarded.WithLabelValues(string(encoding)).Add(float64(delivered))
	p.bytesForwarded.Add(float64(size * delivered))
	p.sendFailures.Add(float64(failed))
	p.fanOutTargets.Observe(float64(delivered + failed))
	p.fanOutDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordClusterFrame(direction string) {
	p.clusterFrames.WithLabelValues(direction).Inc()
}
