// Package peerlink implements the broker-to-broker overlay: subscription
// summary announcement, notification routing back to the home broker,
// heartbeat-driven peer liveness tracking, and duplicate suppression.
//
// The mesh rides a single NATS connection shared by every broker: a
// pub/sub bus gives a full-duplex, non-blocking link between every pair
// of brokers without point-to-point sockets. Each broker gets its own
// subject for inbound notifications, so "forward to home broker" falls
// out of NATS subject routing instead of bespoke addressing;
// subscription summaries and heartbeats are broadcast on shared subjects
// every broker listens to. Connection health handlers
// (ConnectHandler/DisconnectErrHandler/ReconnectHandler/ErrorHandler)
// track the bus link as a single DISCONNECTED/CONNECTING/UP/DOWN/CLOSED
// state machine (a bus disconnect moves UP to DOWN, a reconnect back to
// UP), while per-peer UP/DOWN liveness is derived from heartbeat
// recency: a peer is marked DOWN after missing several consecutive
// broadcast intervals.
package peerlink

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"eventbroker/internal/metrics"
	"eventbroker/internal/model"
	"eventbroker/internal/wire"
)

// LinkState is the overlay bus connection's own lifecycle: DISCONNECTED
// -> CONNECTING -> UP <-> DOWN -> CLOSED.
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkUp
	LinkDown
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkConnecting:
		return "CONNECTING"
	case LinkUp:
		return "UP"
	case LinkDown:
		return "DOWN"
	case LinkClosed:
		return "CLOSED"
	default:
		return "DISCONNECTED"
	}
}

// Subjects builds the overlay's NATS subject names, generalized from
// market-data channels to broker overlay channels.
type Subjects struct{}

func (Subjects) SubscriptionSummaries() string { return "eventbroker.overlay.subscriptions" }
func (Subjects) Unsubscribe() string           { return "eventbroker.overlay.unsubscribe" }
func (Subjects) Heartbeats() string            { return "eventbroker.overlay.heartbeats" }
func (Subjects) NotificationsFor(brokerID string) string {
	return fmt.Sprintf("eventbroker.overlay.notifications.%s", brokerID)
}

var SubjectBuilder = Subjects{}

// Config configures the overlay connection.
type Config struct {
	URL                 string
	BrokerID            string
	HeartbeatInterval    time.Duration
	HeartbeatMissThresh  int
	BackoffMax          time.Duration
	DedupCacheSize      int
}

// PeerLink owns the broker's NATS connection and tracks remote peers'
// liveness from their heartbeats.
type PeerLink struct {
	cfg     Config
	conn    *nats.Conn
	log     zerolog.Logger
	metrics *metrics.Registry

	mu         sync.Mutex
	state      LinkState
	peers      map[string]*peerInfo
	dedup      *lru.Cache[string, struct{}]

	onSubscription func(model.SubscriptionSummary)
	onUnsubscribe  func(subscriptionID string)
	onNotification func(model.Notification)

	closeCh chan struct{}
}

type peerInfo struct {
	lastHeartbeat time.Time
	state         LinkState
}

// New dials the overlay bus and wires connection-event handlers. It does
// not yet subscribe to anything; call Start after registering handlers
// with OnSubscriptionSummary/OnUnsubscribe/OnNotification.
func New(cfg Config, reg *metrics.Registry, log zerolog.Logger) (*PeerLink, error) {
	if cfg.HeartbeatMissThresh < 1 {
		cfg.HeartbeatMissThresh = 3
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.DedupCacheSize <= 0 {
		cfg.DedupCacheSize = 10000
	}

	dedup, err := lru.New[string, struct{}](cfg.DedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("peerlink: create dedup cache: %w", err)
	}

	p := &PeerLink{
		cfg:     cfg,
		log:     log.With().Str("component", "peerlink").Logger(),
		metrics: reg,
		peers:   make(map[string]*peerInfo),
		dedup:   dedup,
		closeCh: make(chan struct{}),
		state:   LinkConnecting,
	}

	opts := []nats.Option{
		nats.Name(fmt.Sprintf("eventbroker-%s", cfg.BrokerID)),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.ConnectHandler(p.connectHandler),
		nats.DisconnectErrHandler(p.disconnectHandler),
		nats.ReconnectHandler(p.reconnectHandler),
		nats.ClosedHandler(p.closedHandler),
		nats.ErrorHandler(p.errorHandler),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("peerlink: connect to overlay bus %s: %w", cfg.URL, err)
	}
	p.conn = conn
	p.setState(LinkUp)
	return p, nil
}

func (p *PeerLink) connectHandler(conn *nats.Conn) {
	p.log.Info().Str("url", conn.ConnectedUrl()).Msg("connected to overlay bus")
	p.setState(LinkUp)
}

func (p *PeerLink) disconnectHandler(conn *nats.Conn, err error) {
	if err != nil {
		p.log.Warn().Err(err).Msg("disconnected from overlay bus")
	} else {
		p.log.Info().Msg("disconnected from overlay bus")
	}
	p.setState(LinkDown)
}

func (p *PeerLink) reconnectHandler(conn *nats.Conn) {
	p.log.Info().Str("url", conn.ConnectedUrl()).Msg("reconnected to overlay bus")
	p.setState(LinkUp)
}

func (p *PeerLink) closedHandler(conn *nats.Conn) {
	p.log.Info().Msg("overlay bus connection closed")
	p.setState(LinkClosed)
}

func (p *PeerLink) errorHandler(conn *nats.Conn, sub *nats.Subscription, err error) {
	p.log.Error().Err(err).Msg("overlay bus error")
}

func (p *PeerLink) setState(s LinkState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// State reports the overlay bus link's current lifecycle state.
func (p *PeerLink) State() LinkState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// OnSubscriptionSummary registers the handler invoked when a peer
// announces a subscription. Must be called before Start.
func (p *PeerLink) OnSubscriptionSummary(fn func(model.SubscriptionSummary)) { p.onSubscription = fn }

// OnUnsubscribe registers the handler invoked when a peer announces an
// unsubscribe. Must be called before Start.
func (p *PeerLink) OnUnsubscribe(fn func(subscriptionID string)) { p.onUnsubscribe = fn }

// OnNotification registers the handler invoked when a notification
// destined for this broker arrives from a peer that matched it locally.
// Must be called before Start.
func (p *PeerLink) OnNotification(fn func(model.Notification)) { p.onNotification = fn }

// Start subscribes to the overlay subjects and begins the heartbeat
// loop. Returns an error if any subscription fails.
func (p *PeerLink) Start() error {
	if _, err := p.conn.Subscribe(SubjectBuilder.SubscriptionSummaries(), p.handleSubscriptionSummary); err != nil {
		return fmt.Errorf("peerlink: subscribe subscriptions: %w", err)
	}
	if _, err := p.conn.Subscribe(SubjectBuilder.Unsubscribe(), p.handleUnsubscribe); err != nil {
		return fmt.Errorf("peerlink: subscribe unsubscribe: %w", err)
	}
	if _, err := p.conn.Subscribe(SubjectBuilder.Heartbeats(), p.handleHeartbeat); err != nil {
		return fmt.Errorf("peerlink: subscribe heartbeats: %w", err)
	}
	if _, err := p.conn.Subscribe(SubjectBuilder.NotificationsFor(p.cfg.BrokerID), p.handleNotification); err != nil {
		return fmt.Errorf("peerlink: subscribe notifications: %w", err)
	}

	go p.heartbeatLoop()
	go p.livenessLoop()
	return nil
}

func (p *PeerLink) handleSubscriptionSummary(msg *nats.Msg) {
	env, err := wire.DecodeBrokerMessage(msg.Data)
	if err != nil || env.Subscription == nil {
		p.log.Error().Err(err).Msg("failed to decode subscription summary")
		return
	}
	if env.HomeBrokerID == p.cfg.BrokerID {
		return // our own announcement, looped back by the bus
	}
	if !p.markSeen(env.MessageID) {
		return
	}
	if p.onSubscription != nil {
		p.onSubscription(model.SubscriptionSummary{
			SubscriptionID: env.Subscription.SubscriptionID,
			HomeBrokerID:   env.HomeBrokerID,
			Subscription:   *env.Subscription,
		})
	}
}

func (p *PeerLink) handleUnsubscribe(msg *nats.Msg) {
	env, err := wire.DecodeBrokerMessage(msg.Data)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to decode unsubscribe announcement")
		return
	}
	if !p.markSeen(env.MessageID) {
		return
	}
	if p.onUnsubscribe != nil && env.Subscription != nil {
		p.onUnsubscribe(env.Subscription.SubscriptionID)
	}
}

func (p *PeerLink) handleHeartbeat(msg *nats.Msg) {
	env, err := wire.DecodeBrokerMessage(msg.Data)
	if err != nil || env.Heartbeat == nil {
		p.log.Error().Err(err).Msg("failed to decode heartbeat")
		return
	}
	if env.Heartbeat.BrokerID == p.cfg.BrokerID {
		return
	}

	p.mu.Lock()
	info, ok := p.peers[env.Heartbeat.BrokerID]
	if !ok {
		info = &peerInfo{}
		p.peers[env.Heartbeat.BrokerID] = info
	}
	info.lastHeartbeat = time.Now()
	wasDown := info.state == LinkDown
	if env.Heartbeat.Status == model.StatusShutdown {
		info.state = LinkClosed
	} else {
		info.state = LinkUp
	}
	nowUp := info.state == LinkUp
	p.mu.Unlock()

	if wasDown && nowUp {
		p.log.Info().Str("peer", env.Heartbeat.BrokerID).Msg("peer back UP")
	}
}

func (p *PeerLink) handleNotification(msg *nats.Msg) {
	env, err := wire.DecodeBrokerMessage(msg.Data)
	if err != nil || env.Notification == nil {
		p.log.Error().Err(err).Msg("failed to decode routed notification")
		return
	}
	if !p.markSeen(env.MessageID) {
		return
	}
	if p.onNotification != nil {
		p.onNotification(*env.Notification)
	}
}

// markSeen returns true the first time message_id is observed and false
// on every replay within the dedup window.
func (p *PeerLink) markSeen(messageID string) bool {
	if messageID == "" {
		return true
	}
	if _, ok := p.dedup.Get(messageID); ok {
		if p.metrics != nil {
			p.metrics.DuplicatesSuppressed.Inc()
		}
		return false
	}
	p.dedup.Add(messageID, struct{}{})
	return true
}

// AnnounceSubscription broadcasts a subscription summary to every peer.
func (p *PeerLink) AnnounceSubscription(summary model.SubscriptionSummary, messageID string) error {
	env := wire.BrokerMessage{
		MessageID:    messageID,
		Timestamp:    time.Now().UnixMilli(),
		Type:         wire.MessageTypeSubscription,
		Subscription: &summary.Subscription,
		HomeBrokerID: summary.HomeBrokerID,
	}
	return p.publish(SubjectBuilder.SubscriptionSummaries(), env)
}

// AnnounceUnsubscribe broadcasts an unsubscribe to every peer.
func (p *PeerLink) AnnounceUnsubscribe(subscriptionID, messageID string) error {
	env := wire.BrokerMessage{
		MessageID: messageID,
		Timestamp: time.Now().UnixMilli(),
		Type:      wire.MessageTypeSubscription,
		Subscription: &model.Subscription{
			SubscriptionID: subscriptionID,
			Kind:           model.KindSimple,
			Conditions:     []model.FilterCondition{{FieldName: "category", Operator: model.OpEQ, Value: ""}},
		},
	}
	return p.publish(SubjectBuilder.Unsubscribe(), env)
}

// RouteNotification sends a notification produced by a locally-matched
// remote subscription back to its home broker.
func (p *PeerLink) RouteNotification(n model.Notification, homeBrokerID, messageID string) error {
	env := wire.BrokerMessage{
		MessageID:    messageID,
		Timestamp:    time.Now().UnixMilli(),
		Type:         wire.MessageTypeNotification,
		Notification: &n,
	}
	return p.publish(SubjectBuilder.NotificationsFor(homeBrokerID), env)
}

func (p *PeerLink) publish(subject string, env wire.BrokerMessage) error {
	payload, err := wire.EncodeBrokerMessage(env)
	if err != nil {
		return fmt.Errorf("peerlink: encode message: %w", err)
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("peerlink: publish to %s: %w", subject, err)
	}
	return nil
}

func (p *PeerLink) heartbeatLoop() {
	interval := p.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sendHeartbeat(model.StatusUp, 0, 0)
		case <-p.closeCh:
			return
		}
	}
}

// sendHeartbeat publishes this broker's own heartbeat with the given
// snapshot counters.
func (p *PeerLink) sendHeartbeat(status model.PeerStatus, activeSubscriptions, processedEvents int64) {
	hb := model.Heartbeat{
		BrokerID:            p.cfg.BrokerID,
		Status:              status,
		ActiveSubscriptions: activeSubscriptions,
		ProcessedEvents:     processedEvents,
	}
	env := wire.BrokerMessage{
		Timestamp: time.Now().UnixMilli(),
		Type:      wire.MessageTypeHeartbeat,
		Heartbeat: &hb,
	}
	if err := p.publish(SubjectBuilder.Heartbeats(), env); err != nil {
		p.log.Error().Err(err).Msg("failed to send heartbeat")
	}
}

// livenessLoop marks a peer DOWN once it has missed
// HeartbeatMissThresh consecutive heartbeat intervals.
func (p *PeerLink) livenessLoop() {
	interval := p.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := interval * time.Duration(p.cfg.HeartbeatMissThresh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			p.mu.Lock()
			for id, info := range p.peers {
				if info.state == LinkUp && now.Sub(info.lastHeartbeat) > timeout {
					info.state = LinkDown
					p.log.Warn().Str("peer", id).Msg("peer marked DOWN: missed heartbeats")
				}
			}
			p.mu.Unlock()
		case <-p.closeCh:
			return
		}
	}
}

// PeerStates returns a snapshot of every known peer's liveness state.
func (p *PeerLink) PeerStates() map[string]LinkState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]LinkState, len(p.peers))
	for id, info := range p.peers {
		out[id] = info.state
	}
	return out
}

// Shutdown sends a final SHUTDOWN heartbeat and closes the overlay
// connection.
func (p *PeerLink) Shutdown() {
	p.sendHeartbeat(model.StatusShutdown, 0, 0)
	close(p.closeCh)
	p.setState(LinkClosed)
	p.conn.Close()
}
