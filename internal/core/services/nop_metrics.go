package services

import (
	"time"

	"midirelay/internal/core/domain"
)

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) RecordPeerConnected() {}
func (NopMetrics) RecordPeerDisconnected(domain.CloseReason) {}
func (NopMetrics) RecordFrameReceived(domain.Encoding) {}
func (NopMetrics) RecordFrameDropped(string) {}
func (NopMetrics) RecordClusterFrame(string) {}
func (NopMetrics) RecordFanOut(domain.Encoding, int, int, int, time.Duration) {}
