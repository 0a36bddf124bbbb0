package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"midirelay/internal/core/domain"
	"midirelay/internal/core/ports"
	"midirelay/internal/core/services"
	"midirelay/pkg/circuitbreaker"
	"midirelay/pkg/retry"
	"midirelay/pkg/tracing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType represents the type of a cluster event
type EventType string

const (
	EventFrame      EventType = "relay.frame"
	EventPeerJoined EventType = "peer.joined"
	EventPeerLeft   EventType = "peer.left"

	// EventHeartbeat carries the sender's full peer list.
	EventHeartbeat EventType = "instance.heartbeat"
)

// Event is what relay instances exchange over the shared channel.
type Event struct {
	Type       EventType       `json:"type"`
	InstanceID string          `json:"instance_id"`
	Timestamp  time.Time       `json:"timestamp"`
	PeerID     domain.PeerID   `json:"peer_id,omitempty"`
	Encoding   domain.Encoding `json:"encoding,omitempty"`
	Data       []byte          `json:"data,omitempty"`
	Peers      []domain.PeerID `json:"peers,omitempty"`
}

var ErrClusterBacklog = errors.New("cluster publish backlog full")

const (
	defaultOutboxSize        = 1024
	defaultHeartbeatInterval = 10 * time.Second
	missedBeatsBeforeExpiry  = 3
)

var resubscribeBackoff = retry.Config{
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     30 * time.Second,
	Multiplier:   2,
	Jitter:       true,
}

type remoteInstance struct {
	peers    map[domain.PeerID]struct{}
	lastSeen time.Time
}

// ClusterBridge links the local relay with relays on other instances through
// a Redis pub/sub channel. Local fan-out never waits on it.
type ClusterBridge struct {
	client     *redis.Client
	channel    string
	instanceID string
	relay      ports.Relay
	metrics    ports.RelayMetrics
	logger     *zap.SugaredLogger

	outbox      chan *Event
	breaker     *circuitbreaker.CircuitBreaker
	resubscribe retry.Config

	heartbeat   time.Duration
	presenceTTL time.Duration

	// wake asks the heartbeat loop to announce now, so a new instance
	// learns existing peers without waiting a full interval.
	wake chan struct{}
	now  func() time.Time

	presenceMu sync.Mutex
	remote     map[string]*remoteInstance
}

func NewClusterBridge(
	client *redis.Client,
	channel string,
	relay ports.Relay,
	metrics ports.RelayMetrics,
	logger *zap.SugaredLogger,
) *ClusterBridge {
	if metrics == nil {
		metrics = services.NopMetrics{}
	}
	b := &ClusterBridge{
		client:      client,
		channel:     channel,
		instanceID:  uuid.NewString(),
		relay:       relay,
		metrics:     metrics,
		logger:      logger,
		outbox:      make(chan *Event, defaultOutboxSize),
		breaker:     circuitbreaker.New(circuitbreaker.DefaultConfig()),
		resubscribe: resubscribeBackoff,
		wake:        make(chan struct{}, 1),
		now:         time.Now,
		remote:      make(map[string]*remoteInstance),
	}
	b.SetHeartbeatInterval(defaultHeartbeatInterval)
	// While Redis is down, events are dropped at once instead of each
	// waiting out a dial timeout in the outbox.
	b.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("cluster publish circuit changed", "from", from, "to", to)
	})
	return b
}

func (b *ClusterBridge) InstanceID() string {
	return b.instanceID
}

// SetHeartbeatInterval must be called before RunHeartbeat and Subscribe start.
func (b *ClusterBridge) SetHeartbeatInterval(interval time.Duration) {
	b.heartbeat = interval
	b.presenceTTL = missedBeatsBeforeExpiry * interval
}

// PublishFrame queues a locally received frame for the other instances.
func (b *ClusterBridge) PublishFrame(ctx context.Context, frame domain.Frame) error {
	return b.enqueue(&Event{
		Type:     EventFrame,
		PeerID:   frame.Origin,
		Encoding: frame.Encoding,
		Data:     frame.Data,
	})
}

// PeerJoined and PeerLeft are lifecycle hooks announcing local presence.
func (b *ClusterBridge) PeerJoined(id domain.PeerID) {
	if err := b.enqueue(&Event{Type: EventPeerJoined, PeerID: id}); err != nil {
		b.logger.Debugw("presence event dropped", "peer_id", id, "error", err)
	}
}

func (b *ClusterBridge) PeerLeft(id domain.PeerID) {
	if err := b.enqueue(&Event{Type: EventPeerLeft, PeerID: id}); err != nil {
		b.logger.Debugw("presence event dropped", "peer_id", id, "error", err)
	}
}

func (b *ClusterBridge) enqueue(event *Event) error {
	event.InstanceID = b.instanceID
	event.Timestamp = time.Now()

	select {
	case b.outbox <- event:
		return nil
	default:
		b.metrics.RecordClusterFrame("dropped")
		return ErrClusterBacklog
	}
}

// RunPublisher drains the outbox until ctx is done.
func (b *ClusterBridge) RunPublisher(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-b.outbox:
			if err := b.publish(ctx, event); err != nil {
				b.logger.Warnw("cluster publish failed",
					"type", event.Type,
					"peer_id", event.PeerID,
					"error", err,
				)
			}
		}
	}
}

func (b *ClusterBridge) publish(ctx context.Context, event *Event) error {
	ctx, span := tracing.TraceClusterPublish(ctx, string(event.PeerID))
	defer span.End()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	err = b.breaker.Execute(ctx, func(ctx context.Context) error {
		return b.client.Publish(ctx, b.channel, data).Err()
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		b.metrics.RecordClusterFrame("dropped")
		return err
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	if event.Type == EventFrame {
		b.metrics.RecordClusterFrame("out")
	}
	return nil
}

// RunHeartbeat announces the local peer list every heartbeat interval
// until ctx is done.
func (b *ClusterBridge) RunHeartbeat(ctx context.Context, localPeers func() []domain.PeerID) error {
	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		if err := b.enqueue(&Event{Type: EventHeartbeat, Peers: localPeers()}); err != nil {
			b.logger.Debugw("heartbeat dropped", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-b.wake:
		}
	}
}

// Subscribe delivers events published by other instances until ctx is done.
// A lost or refused subscription is retried with backoff; the local relay
// keeps serving meanwhile, so Subscribe only ever returns nil.
func (b *ClusterBridge) Subscribe(ctx context.Context) error {
	attempt := 0
	for {
		subscribed, err := b.subscribeOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			attempt = 0
		}
		attempt++

		delay := retry.Backoff(b.resubscribe, attempt)
		b.logger.Warnw("cluster subscription unavailable, retrying",
			"channel", b.channel,
			"attempt", attempt,
			"retry_in", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (b *ClusterBridge) subscribeOnce(ctx context.Context) (bool, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// Wait for the subscription confirmation so a refused connection
	// surfaces here.
	if _, err := pubsub.Receive(ctx); err != nil {
		return false, fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	b.logger.Infow("cluster bridge subscribed",
		"channel", b.channel,
		"instance_id", b.instanceID,
	)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case msg, ok := <-ch:
			if !ok {
				return true, errors.New("subscription channel closed")
			}
			b.handleMessage(ctx, msg.Payload)
		}
	}
}

func (b *ClusterBridge) handleMessage(ctx context.Context, payload string) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		b.logger.Warnw("failed to unmarshal cluster event", "error", err, "size", len(payload))
		return
	}

	// Skip events from this instance
	if event.InstanceID == b.instanceID {
		return
	}

	switch event.Type {
	case EventFrame:
		b.relay.Deliver(ctx, domain.Frame{
			Encoding: event.Encoding,
			Data:     event.Data,
		})
	case EventPeerJoined, EventPeerLeft, EventHeartbeat:
		if b.observePresence(&event) {
			b.wakeHeartbeat()
		}
	default:
		b.logger.Debugw("ignoring cluster event", "type", event.Type, "instance_id", event.InstanceID)
	}
}

// observePresence applies a presence event and reports whether it came from
// an instance this bridge had not heard from.
func (b *ClusterBridge) observePresence(event *Event) bool {
	b.presenceMu.Lock()
	defer b.presenceMu.Unlock()

	now := b.now()
	b.expireLocked(now)

	inst, known := b.remote[event.InstanceID]
	if !known {
		inst = &remoteInstance{peers: make(map[domain.PeerID]struct{})}
		b.remote[event.InstanceID] = inst
	}
	inst.lastSeen = now

	switch event.Type {
	case EventPeerJoined:
		inst.peers[event.PeerID] = struct{}{}
	case EventPeerLeft:
		delete(inst.peers, event.PeerID)
	case EventHeartbeat:
		inst.peers = make(map[domain.PeerID]struct{}, len(event.Peers))
		for _, id := range event.Peers {
			inst.peers[id] = struct{}{}
		}
	}
	return !known
}

func (b *ClusterBridge) wakeHeartbeat() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// expireLocked forgets instances that missed too many heartbeats.
func (b *ClusterBridge) expireLocked(now time.Time) {
	if b.presenceTTL <= 0 {
		return
	}
	for instance, inst := range b.remote {
		if now.Sub(inst.lastSeen) > b.presenceTTL {
			delete(b.remote, instance)
			b.logger.Infow("remote instance expired", "instance_id", instance, "last_seen", inst.lastSeen)
		}
	}
}

// RemotePeers lists peers announced by other live instances, keyed by
// instance id. Instances with no peers are left out.
func (b *ClusterBridge) RemotePeers() map[string][]domain.PeerID {
	b.presenceMu.Lock()
	defer b.presenceMu.Unlock()

	b.expireLocked(b.now())

	out := make(map[string][]domain.PeerID, len(b.remote))
	for instance, inst := range b.remote {
		if len(inst.peers) == 0 {
			continue
		}
		ids := make([]domain.PeerID, 0, len(inst.peers))
		for id := range inst.peers {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out[instance] = ids
	}
	return out
}
