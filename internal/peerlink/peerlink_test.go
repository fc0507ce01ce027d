package peerlink

import (
	"testing"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventbroker/internal/metrics"
)

func newTestLink(t *testing.T) *PeerLink {
	t.Helper()
	dedup, err := lru.New[string, struct{}](16)
	require.NoError(t, err)
	return &PeerLink{
		cfg:     Config{BrokerID: "broker-1", HeartbeatMissThresh: 3, HeartbeatInterval: 10 * time.Millisecond},
		log:     zerolog.Nop(),
		peers:   make(map[string]*peerInfo),
		dedup:   dedup,
		closeCh: make(chan struct{}),
		state:   LinkUp,
	}
}

func TestSubjectBuilder(t *testing.T) {
	s := SubjectBuilder
	assert.Equal(t, "eventbroker.overlay.subscriptions", s.SubscriptionSummaries())
	assert.Equal(t, "eventbroker.overlay.unsubscribe", s.Unsubscribe())
	assert.Equal(t, "eventbroker.overlay.heartbeats", s.Heartbeats())
	assert.Equal(t, "eventbroker.overlay.notifications.broker-2", s.NotificationsFor("broker-2"))
}

func TestLinkStateString(t *testing.T) {
	assert.Equal(t, "DISCONNECTED", LinkDisconnected.String())
	assert.Equal(t, "CONNECTING", LinkConnecting.String())
	assert.Equal(t, "UP", LinkUp.String())
	assert.Equal(t, "DOWN", LinkDown.String())
	assert.Equal(t, "CLOSED", LinkClosed.String())
}

func TestMarkSeen_FirstTimeTrueThenFalse(t *testing.T) {
	p := newTestLink(t)
	assert.True(t, p.markSeen("msg-1"))
	assert.False(t, p.markSeen("msg-1"))
	assert.True(t, p.markSeen("msg-2"))
}

func TestMarkSeen_EmptyMessageIDAlwaysPasses(t *testing.T) {
	p := newTestLink(t)
	assert.True(t, p.markSeen(""))
	assert.True(t, p.markSeen(""))
}

func TestMarkSeen_IncrementsDuplicatesSuppressed(t *testing.T) {
	p := newTestLink(t)
	p.metrics = metrics.NewRegistry()

	assert.True(t, p.markSeen("dup-1"))
	assert.False(t, p.markSeen("dup-1"))
	assert.False(t, p.markSeen("dup-1"))

	assert.Equal(t, float64(2), testutil.ToFloat64(p.metrics.DuplicatesSuppressed))
}

func TestLivenessDetection_PeerMarkedDownAfterMissedHeartbeats(t *testing.T) {
	p := newTestLink(t)
	p.mu.Lock()
	p.peers["broker-2"] = &peerInfo{lastHeartbeat: time.Now().Add(-1 * time.Hour), state: LinkUp}
	p.mu.Unlock()

	// Run the real liveness loop for a few 10ms ticks, then stop it.
	go p.livenessLoop()
	time.Sleep(50 * time.Millisecond)
	close(p.closeCh)

	states := p.PeerStates()
	assert.Equal(t, LinkDown, states["broker-2"])
}

func TestPeerStates_ReflectsRecentHeartbeat(t *testing.T) {
	p := newTestLink(t)
	p.mu.Lock()
	p.peers["broker-2"] = &peerInfo{lastHeartbeat: time.Now(), state: LinkUp}
	p.mu.Unlock()

	states := p.PeerStates()
	require.Contains(t, states, "broker-2")
	assert.Equal(t, LinkUp, states["broker-2"])
}
