package monitoring

import (
	"testing"
	"time"

	"midirelay/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusCollector_PeerGauge(t *testing.T) {
	c := NewPrometheusCollector(prometheus.NewRegistry())

	c.RecordPeerConnected()
	c.RecordPeerConnected()
	c.RecordPeerDisconnected(domain.CloseReasonClient)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.peersConnected))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.connectionsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.disconnects.WithLabelValues(string(domain.CloseReasonClient))))
}

func TestPrometheusCollector_FanOut(t *testing.T) {
	c := NewPrometheusCollector(prometheus.NewRegistry())

	c.RecordFrameReceived(domain.EncodingText)
	c.RecordFanOut(domain.EncodingText, 38, 2, 1, time.Microsecond)
	c.RecordFrameDropped("MALFORMED_ENVELOPE")

	assert.Equal(t, float64(1), testutil.ToFloat64(c.framesReceived.WithLabelValues(string(domain.EncodingText))))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.framesForwarded.WithLabelValues(string(domain.EncodingText))))
	assert.Equal(t, float64(76), testutil.ToFloat64(c.bytesForwarded))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.sendFailures))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.framesDropped.WithLabelValues("MALFORMED_ENVELOPE")))
}

func TestPrometheusCollector_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewPrometheusCollector(prometheus.NewRegistry())
		NewPrometheusCollector(prometheus.NewRegistry())
	})
}
