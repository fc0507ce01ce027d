// Package broker implements the broker node: three framed-TCP endpoints
// (publisher ingress, subscriber egress, management) plus the peer
// overlay, tying together the matcher, window manager, and wire codec.
//
// Shutdown is cancel-then-drain: cancelling the root context stops every
// accept loop and worker, listeners and the HTTP server close, and
// Shutdown waits on a sync.WaitGroup up to a configured deadline before
// giving up on a clean drain.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"eventbroker/internal/config"
	"eventbroker/internal/matcher"
	"eventbroker/internal/metrics"
	"eventbroker/internal/model"
	"eventbroker/internal/peerlink"
)

// Matcher is the subset of matcher.Matcher/matcher.Sharded the broker
// depends on, so either the single-task or sharded implementation can be
// selected by MatcherShards at startup.
type Matcher interface {
	Register(model.Subscription) error
	Unregister(subscriptionID string)
	Match(model.Event) []model.Notification
}

// peerOverlay is the subset of peerlink.PeerLink the broker depends on.
// Narrowing it to an interface lets peer-forwarding behavior be exercised
// with a test double instead of a live NATS connection.
type peerOverlay interface {
	OnSubscriptionSummary(func(model.SubscriptionSummary))
	OnUnsubscribe(func(string))
	OnNotification(func(model.Notification))
	Start() error
	Shutdown()
	State() peerlink.LinkState
	PeerStates() map[string]peerlink.LinkState
	AnnounceSubscription(summary model.SubscriptionSummary, messageID string) error
	AnnounceUnsubscribe(subscriptionID, messageID string) error
	RouteNotification(n model.Notification, homeBrokerID, messageID string) error
}

// Server is one broker node.
type Server struct {
	cfg *config.BrokerConfig
	log zerolog.Logger

	matcher Matcher
	metrics *metrics.Registry
	system  *metrics.SystemSampler
	peers   peerOverlay

	ingressListener  net.Listener
	egressListener   net.Listener
	managementListener net.Listener
	httpServer       *http.Server

	ingressQueue chan model.Event

	egress *egressRegistry

	mu          sync.RWMutex
	homeBrokers map[string]string // subscription_id -> owning broker_id
	subs        map[string]model.Subscription

	processedEvents int64
	procMu          sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer wires up a broker node from cfg without starting any
// listeners yet.
func NewServer(cfg *config.BrokerConfig, log zerolog.Logger) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	var m Matcher
	if cfg.MatcherShards > 0 {
		m = matcher.NewSharded(cfg.MatcherShards, log)
	} else {
		m = matcher.New(log)
	}

	reg := metrics.NewRegistry()

	peers, err := peerlink.New(peerlink.Config{
		URL:                 cfg.OverlayURL,
		BrokerID:            cfg.BrokerID,
		HeartbeatInterval:   cfg.HeartbeatInterval,
		HeartbeatMissThresh: cfg.HeartbeatMissThresh,
		BackoffMax:          cfg.PeerBackoffMax,
		DedupCacheSize:      cfg.DedupCacheSize,
	}, reg, log)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("broker: create peer link: %w", err)
	}

	s := &Server{
		cfg:         cfg,
		log:         log.With().Str("broker_id", cfg.BrokerID).Logger(),
		matcher:     m,
		metrics:     reg,
		system:      metrics.NewSystemSampler(),
		peers:       peers,
		ingressQueue: make(chan model.Event, cfg.IngressQueueSize),
		egress:      newEgressRegistry(cfg.EgressQueueSize, reg),
		homeBrokers: make(map[string]string),
		subs:        make(map[string]model.Subscription),
		ctx:         ctx,
		cancel:      cancel,
	}

	s.peers.OnSubscriptionSummary(s.handlePeerSubscriptionSummary)
	s.peers.OnUnsubscribe(s.handlePeerUnsubscribe)
	s.peers.OnNotification(s.handlePeerNotification)

	s.setupHTTP()
	return s, nil
}

func (s *Server) setupHTTP() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.Handle("/metrics", s.metrics.Handler())

	s.httpServer = &http.Server{
		Addr:         s.cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// ServerStats is the statistics record returned by /stats.
type ServerStats struct {
	BrokerID            string               `json:"broker_id"`
	ActiveSubscriptions int                  `json:"active_subscriptions"`
	ActiveSubscribers   int                  `json:"active_subscribers"`
	ProcessedEvents     int64                `json:"processed_events"`
	IngressQueueDepth   int                  `json:"ingress_queue_depth"`
	Peers               map[string]string    `json:"peers"`
	System              metrics.SystemStats  `json:"system"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     "healthy",
		"broker_id":  s.cfg.BrokerID,
		"link_state": s.peers.State().String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	activeSubs := len(s.subs)
	s.mu.RUnlock()

	states := s.peers.PeerStates()
	peerStates := make(map[string]string, len(states))
	var up, down int
	for id, st := range states {
		peerStates[id] = st.String()
		if st == peerlink.LinkUp {
			up++
		} else {
			down++
		}
	}
	s.metrics.PeersUp.Set(float64(up))
	s.metrics.PeersDown.Set(float64(down))

	s.procMu.Lock()
	processed := s.processedEvents
	s.procMu.Unlock()

	stats := ServerStats{
		BrokerID:            s.cfg.BrokerID,
		ActiveSubscriptions: activeSubs,
		ActiveSubscribers:   s.egress.count(),
		ProcessedEvents:     processed,
		IngressQueueDepth:   len(s.ingressQueue),
		Peers:               peerStates,
		System:              s.system.Sample(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

// Start opens all three listeners, starts the overlay, and blocks serving
// until ctx is cancelled by Shutdown.
func (s *Server) Start() error {
	var err error
	s.ingressListener, err = net.Listen("tcp", s.cfg.PublisherAddr)
	if err != nil {
		return fmt.Errorf("broker: listen publisher ingress %s: %w", s.cfg.PublisherAddr, err)
	}
	s.egressListener, err = net.Listen("tcp", s.cfg.SubscriberAddr)
	if err != nil {
		return fmt.Errorf("broker: listen subscriber egress %s: %w", s.cfg.SubscriberAddr, err)
	}
	s.managementListener, err = net.Listen("tcp", s.cfg.ManagementAddr)
	if err != nil {
		return fmt.Errorf("broker: listen management %s: %w", s.cfg.ManagementAddr, err)
	}

	if err := s.peers.Start(); err != nil {
		return fmt.Errorf("broker: start peer link: %w", err)
	}

	s.wg.Add(4)
	go func() { defer s.wg.Done(); s.runIngressAcceptLoop() }()
	go func() { defer s.wg.Done(); s.runEgressAcceptLoop() }()
	go func() { defer s.wg.Done(); s.runManagementAcceptLoop() }()
	go func() { defer s.wg.Done(); s.runIngressWorker() }()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info().Str("addr", s.httpServer.Addr).Msg("management HTTP listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.log.Info().
		Str("publisher_addr", s.cfg.PublisherAddr).
		Str("subscriber_addr", s.cfg.SubscriberAddr).
		Str("management_addr", s.cfg.ManagementAddr).
		Msg("broker node started")

	<-s.ctx.Done()
	return nil
}

// Shutdown cancels all background work, closes listeners and subscriber
// queues, sends a final SHUTDOWN heartbeat, and waits up to
// ShutdownDrainTimeout for goroutines to exit. Events still in the
// ingress queue are not matched, and notifications still queued for
// subscribers are not written out.
func (s *Server) Shutdown() {
	s.log.Info().Msg("shutting down broker node")
	s.cancel()

	_ = s.ingressListener.Close()
	_ = s.egressListener.Close()
	_ = s.managementListener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownDrainTimeout)
	defer cancel()
	_ = s.httpServer.Shutdown(ctx)

	s.egress.closeAll()
	s.peers.Shutdown()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info().Msg("broker shutdown complete")
	case <-ctx.Done():
		s.log.Warn().Msg("broker shutdown drain deadline exceeded")
	}
}

func (s *Server) newMessageID() string {
	return uuid.NewString()
}
