package services

import (
	"context"
	"sync"
	"time"

	"midirelay/internal/core/domain"
	"midirelay/internal/core/ports"
	"midirelay/internal/infrastructure/framing"
	apperrors "midirelay/pkg/errors"
	"midirelay/pkg/tracing"

	"go.uber.org/zap"
)

// FanOutResult is the per-target outcome of one broadcast.
type FanOutResult struct {
	Delivered []domain.PeerID
	Skipped   []domain.PeerID
	Failed    map[domain.PeerID]error
}

// Targets is the number of peers the snapshot contained.
func (r FanOutResult) Targets() int {
	return len(r.Delivered) + len(r.Skipped) + len(r.Failed)
}

type RelayConfig struct {
	// MaxSendFailures is the number of consecutive failed sends after
	// which a target is evicted.
	MaxSendFailures int
}

// RelayService forwards every accepted frame to all other registered peers,
// byte for byte, with the encoding it arrived in.
type RelayService struct {
	registry  ports.PeerRegistry
	lifecycle ports.Lifecycle
	metrics   ports.RelayMetrics
	cluster   ports.ClusterPublisher
	logger    *zap.SugaredLogger
	cfg       RelayConfig

	failuresMu sync.Mutex
	failures   map[domain.PeerID]int
}

func NewRelayService(
	registry ports.PeerRegistry,
	lifecycle *LifecycleService,
	metrics ports.RelayMetrics,
	cfg RelayConfig,
	logger *zap.SugaredLogger,
) *RelayService {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if cfg.MaxSendFailures <= 0 {
		cfg.MaxSendFailures = 1
	}

	r := &RelayService{
		registry:  registry,
		lifecycle: lifecycle,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		failures:  make(map[domain.PeerID]int),
	}
	lifecycle.OnClose(r.forget)
	return r
}

// SetClusterPublisher enables forwarding of local frames to other instances.
func (r *RelayService) SetClusterPublisher(cluster ports.ClusterPublisher) {
	r.cluster = cluster
}

func (r *RelayService) HandleInbound(ctx context.Context, frame domain.Frame) error {
	r.metrics.RecordFrameReceived(frame.Encoding)

	env, err := framing.Decode(frame.Encoding, frame.Data)
	if err != nil {
		code := apperrors.CodeOf(err)
		r.metrics.RecordFrameDropped(string(code))
		r.logger.Warnw("dropping inbound frame",
			"peer_id", frame.Origin,
			"code", code,
			"size", len(frame.Data),
			"error", err,
		)
		return err
	}

	r.logger.Debugw("relaying frame",
		"peer_id", frame.Origin,
		"frame", framing.Describe(env),
	)

	r.Broadcast(ctx, frame)

	if r.cluster != nil {
		if err := r.cluster.PublishFrame(ctx, frame); err != nil {
			r.logger.Warnw("cluster publish failed", "peer_id", frame.Origin, "error", err)
		}
	}
	return nil
}

func (r *RelayService) Deliver(ctx context.Context, frame domain.Frame) {
	r.metrics.RecordClusterFrame("in")
	r.Broadcast(ctx, frame)
}

// Broadcast queues frame on every registered peer except its origin. A
// failing target never stops delivery to the others; failures are counted
// and persistent offenders are evicted in the background.
func (r *RelayService) Broadcast(ctx context.Context, frame domain.Frame) FanOutResult {
	ctx, span := tracing.TraceFanOut(ctx, string(frame.Origin), string(frame.Encoding), len(frame.Data))
	defer span.End()

	start := time.Now()
	result := FanOutResult{}

	for _, target := range r.registry.SnapshotExcluding(frame.Origin) {
		// The snapshot may be stale; peers that began closing are skipped.
		if target.State() != domain.PeerStateOpen {
			result.Skipped = append(result.Skipped, target.ID())
			continue
		}

		if err := target.Send(frame); err != nil {
			if result.Failed == nil {
				result.Failed = make(map[domain.PeerID]error)
			}
			result.Failed[target.ID()] = apperrors.NewSendFailure(target.ID(), err)
			continue
		}
		result.Delivered = append(result.Delivered, target.ID())
	}

	r.metrics.RecordFanOut(frame.Encoding, len(frame.Data), len(result.Delivered), len(result.Failed), time.Since(start))
	span.SetAttributes(
		tracing.TargetsKey.Int(result.Targets()),
		tracing.DeliveredKey.Int(len(result.Delivered)),
		tracing.FailedKey.Int(len(result.Failed)),
	)

	r.settle(ctx, result)
	return result
}

func (r *RelayService) settle(ctx context.Context, result FanOutResult) {
	var evict []domain.PeerID

	r.failuresMu.Lock()
	for _, id := range result.Delivered {
		delete(r.failures, id)
	}
	for id := range result.Failed {
		// Peers that left mid-broadcast already had their counter forgotten.
		if _, ok := r.registry.Get(id); !ok {
			delete(r.failures, id)
			continue
		}
		r.failures[id]++
		if r.failures[id] >= r.cfg.MaxSendFailures {
			delete(r.failures, id)
			evict = append(evict, id)
		}
	}
	r.failuresMu.Unlock()

	for id, err := range result.Failed {
		tracing.RecordError(ctx, err)
		r.logger.Warnw("send failure",
			"peer_id", id,
			"code", apperrors.ErrCodeSendFailure,
			"error", err,
		)
	}

	for _, id := range evict {
		go r.lifecycle.Evict(context.Background(), id, result.Failed[id])
	}
}

func (r *RelayService) forget(id domain.PeerID) {
	r.failuresMu.Lock()
	delete(r.failures, id)
	r.failuresMu.Unlock()
}
