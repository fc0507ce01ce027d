package broker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventbroker/internal/config"
	"eventbroker/internal/matcher"
	"eventbroker/internal/metrics"
	"eventbroker/internal/model"
	"eventbroker/internal/peerlink"
)

// testMetrics is shared by every test in this package: metrics.NewRegistry
// registers on Prometheus's default registerer and panics if called twice.
var testMetrics = metrics.NewRegistry()

func TestSubscriberQueue_DropsOldestOnOverflow(t *testing.T) {
	reg := testMetrics
	q := &subscriberQueue{subscriberID: "sub-1", ch: make(chan model.Notification, 2)}

	q.push(model.Notification{NotificationID: "n1"}, reg)
	q.push(model.Notification{NotificationID: "n2"}, reg)
	q.push(model.Notification{NotificationID: "n3"}, reg)

	require.Len(t, q.ch, 2)
	first := <-q.ch
	second := <-q.ch
	assert.Equal(t, "n2", first.NotificationID)
	assert.Equal(t, "n3", second.NotificationID)
}

func TestEgressRegistry_RegisterUnregisterCount(t *testing.T) {
	reg := newEgressRegistry(4, testMetrics)

	q1 := reg.register("sub-1")
	reg.register("sub-2")
	assert.Equal(t, 2, reg.count())

	reg.unregister("sub-1", q1)
	assert.Equal(t, 1, reg.count())

	_, stillOpen := <-q1.ch
	assert.False(t, stillOpen)
}

func TestEgressRegistry_EnqueueDeliversToRegisteredSubscriber(t *testing.T) {
	reg := newEgressRegistry(4, testMetrics)
	q := reg.register("sub-1")

	reg.enqueue(model.Notification{SubscriberID: "sub-1", NotificationID: "n1"})
	reg.enqueue(model.Notification{SubscriberID: "unknown-sub", NotificationID: "n2"})

	require.Len(t, q.ch, 1)
	got := <-q.ch
	assert.Equal(t, "n1", got.NotificationID)
}

func TestEgressRegistry_CloseAllClearsQueues(t *testing.T) {
	reg := newEgressRegistry(4, testMetrics)
	reg.register("sub-1")
	reg.register("sub-2")
	reg.closeAll()
	assert.Equal(t, 0, reg.count())
}

// fakePeerOverlay records routed notifications and announced subscriptions
// in place of a live NATS connection, so deliver()'s home-broker routing
// can be exercised without a real peer mesh.
type fakePeerOverlay struct {
	mu        sync.Mutex
	routed    []model.Notification
	routedTo  []string
	announced []model.SubscriptionSummary
	states    map[string]peerlink.LinkState

	onSubscription func(model.SubscriptionSummary)
	onUnsubscribe  func(string)
	onNotification func(model.Notification)
}

func (f *fakePeerOverlay) OnSubscriptionSummary(fn func(model.SubscriptionSummary)) { f.onSubscription = fn }
func (f *fakePeerOverlay) OnUnsubscribe(fn func(string))                           { f.onUnsubscribe = fn }
func (f *fakePeerOverlay) OnNotification(fn func(model.Notification))             { f.onNotification = fn }
func (f *fakePeerOverlay) Start() error                                           { return nil }
func (f *fakePeerOverlay) Shutdown()                                              {}
func (f *fakePeerOverlay) State() peerlink.LinkState                              { return peerlink.LinkUp }
func (f *fakePeerOverlay) PeerStates() map[string]peerlink.LinkState              { return f.states }

func (f *fakePeerOverlay) AnnounceSubscription(summary model.SubscriptionSummary, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announced = append(f.announced, summary)
	return nil
}

func (f *fakePeerOverlay) AnnounceUnsubscribe(string, string) error { return nil }

func (f *fakePeerOverlay) RouteNotification(n model.Notification, homeBrokerID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routed = append(f.routed, n)
	f.routedTo = append(f.routedTo, homeBrokerID)
	return nil
}

func newTestServer(brokerID string) (*Server, *fakePeerOverlay) {
	peers := &fakePeerOverlay{}
	reg := testMetrics
	s := &Server{
		cfg:         &config.BrokerConfig{BrokerID: brokerID},
		log:         zerolog.Nop(),
		matcher:     matcher.New(zerolog.Nop()),
		metrics:     reg,
		system:      metrics.NewSystemSampler(),
		peers:       peers,
		egress:      newEgressRegistry(4, reg),
		homeBrokers: make(map[string]string),
		subs:        make(map[string]model.Subscription),
	}
	return s, peers
}

// A subscription whose home broker is remote must have its matched
// notifications routed over the overlay, not delivered to the local
// egress registry.
func TestDeliver_RoutesToRemoteHomeBroker(t *testing.T) {
	s, peers := newTestServer("broker-1")

	sub := model.Subscription{
		SubscriptionID: "sub-remote",
		SubscriberID:   "subscriber-x",
		Kind:           model.KindSimple,
		Conditions:     []model.FilterCondition{{FieldName: "category", Operator: model.OpEQ, Value: "Electronics"}},
	}
	s.handlePeerSubscriptionSummary(model.SubscriptionSummary{
		SubscriptionID: sub.SubscriptionID,
		HomeBrokerID:   "broker-2",
		Subscription:   sub,
	})

	ev := model.NewPurchaseEvent("evt-1", 1000, model.Purchase{Category: "Electronics", Price: 10})
	notifications := s.matcher.Match(ev)
	require.Len(t, notifications, 1)

	s.deliver(notifications[0])

	peers.mu.Lock()
	defer peers.mu.Unlock()
	require.Len(t, peers.routed, 1)
	assert.Equal(t, "sub-remote", peers.routed[0].SubscriptionID)
	assert.Equal(t, "broker-2", peers.routedTo[0])
	assert.Equal(t, 0, s.egress.count())
}

// A locally-owned subscription's notification is delivered straight to
// the local egress registry instead of being routed over the overlay.
func TestDeliver_LocalHomeBrokerDeliversLocally(t *testing.T) {
	s, peers := newTestServer("broker-1")
	q := s.egress.register("subscriber-x")

	sub := model.Subscription{
		SubscriptionID: "sub-local",
		SubscriberID:   "subscriber-x",
		Kind:           model.KindSimple,
		Conditions:     []model.FilterCondition{{FieldName: "category", Operator: model.OpEQ, Value: "Electronics"}},
	}
	require.NoError(t, s.matcher.Register(sub))
	s.homeBrokers[sub.SubscriptionID] = "broker-1"

	ev := model.NewPurchaseEvent("evt-1", 1000, model.Purchase{Category: "Electronics", Price: 10})
	notifications := s.matcher.Match(ev)
	require.Len(t, notifications, 1)

	s.deliver(notifications[0])

	require.Len(t, q.ch, 1)
	peers.mu.Lock()
	assert.Empty(t, peers.routed)
	peers.mu.Unlock()
}

// handlePeerNotification (received because we are the home broker) goes
// straight to the local egress registry.
func TestHandlePeerNotification_DeliversLocally(t *testing.T) {
	s, _ := newTestServer("broker-2")
	q := s.egress.register("subscriber-x")

	s.handlePeerNotification(model.Notification{SubscriberID: "subscriber-x", NotificationID: "n1"})

	require.Len(t, q.ch, 1)
	assert.Equal(t, "n1", (<-q.ch).NotificationID)
}

// handleStats tallies PeerStates() into the peers_up/peers_down gauges on
// every call, rather than leaving them permanently at zero.
func TestHandleStats_TalliesPeerGauges(t *testing.T) {
	s, peers := newTestServer("broker-1")
	peers.states = map[string]peerlink.LinkState{
		"broker-2": peerlink.LinkUp,
		"broker-3": peerlink.LinkDown,
		"broker-4": peerlink.LinkUp,
	}

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.handleStats(rec, req)

	assert.Equal(t, float64(2), testutil.ToFloat64(s.metrics.PeersUp))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.PeersDown))

	var stats ServerStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, "UP", stats.Peers["broker-2"])
	assert.Equal(t, "DOWN", stats.Peers["broker-3"])
}
