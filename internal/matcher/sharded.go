package matcher

import (
	"hash/fnv"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"eventbroker/internal/model"
)

// registerCmd/unregisterCmd/matchCmd are the channel-relayed commands a
// shard goroutine processes.
type registerCmd struct {
	sub  model.Subscription
	done chan error
}

type unregisterCmd struct {
	subscriptionID string
	done           chan struct{}
}

type matchCmd struct {
	event model.Event
	done  chan []model.Notification
}

// shard owns one Matcher and serves it from a single goroutine, so every
// subscription assigned to this shard has a single writer for its window
// state regardless of how many ingress connections feed it concurrently.
type shard struct {
	id         int
	matcher    *Matcher
	register   chan registerCmd
	unregister chan unregisterCmd
	match      chan matchCmd
	done       chan struct{}
}

func newShard(id int, log zerolog.Logger) *shard {
	return &shard{
		id:         id,
		matcher:    New(log),
		register:   make(chan registerCmd),
		unregister: make(chan unregisterCmd),
		match:      make(chan matchCmd, 256),
		done:       make(chan struct{}),
	}
}

func (s *shard) run() {
	for {
		select {
		case cmd := <-s.register:
			cmd.done <- s.matcher.Register(cmd.sub)
		case cmd := <-s.unregister:
			s.matcher.Unregister(cmd.subscriptionID)
			close(cmd.done)
		case cmd := <-s.match:
			cmd.done <- s.matcher.Match(cmd.event)
		case <-s.done:
			return
		}
	}
}

// Sharded fans subscriptions out across several single-writer shards,
// assigned by an FNV-32a hash of subscription_id modulo the shard count.
// Every event is
// matched against every shard, since any shard may own a subscription
// interested in the event's category; this trades broadcast fan-out for
// per-shard isolation of window state.
type Sharded struct {
	shards []*shard
	mu     sync.RWMutex // guards subIDToShard
	subIDToShard map[string]int
}

// NewSharded creates a Sharded matcher with numShards worker shards. A
// non-positive numShards defaults to 2 per CPU.
func NewSharded(numShards int, log zerolog.Logger) *Sharded {
	if numShards <= 0 {
		numShards = runtime.NumCPU() * 2
	}
	m := &Sharded{
		shards:       make([]*shard, numShards),
		subIDToShard: make(map[string]int),
	}
	for i := range m.shards {
		m.shards[i] = newShard(i, log)
		go m.shards[i].run()
	}
	return m
}

func (m *Sharded) shardFor(subscriptionID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subscriptionID))
	return int(h.Sum32()) % len(m.shards)
}

// Register assigns sub to its hash-determined shard and registers it there.
func (m *Sharded) Register(sub model.Subscription) error {
	shardID := m.shardFor(sub.SubscriptionID)
	done := make(chan error, 1)
	m.shards[shardID].register <- registerCmd{sub: sub, done: done}
	err := <-done
	if err == nil {
		m.mu.Lock()
		m.subIDToShard[sub.SubscriptionID] = shardID
		m.mu.Unlock()
	}
	return err
}

// Unregister removes a subscription from its owning shard.
func (m *Sharded) Unregister(subscriptionID string) {
	m.mu.RLock()
	shardID, ok := m.subIDToShard[subscriptionID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	done := make(chan struct{})
	m.shards[shardID].unregister <- unregisterCmd{subscriptionID: subscriptionID, done: done}
	<-done

	m.mu.Lock()
	delete(m.subIDToShard, subscriptionID)
	m.mu.Unlock()
}

// Match fans ev out to every shard and merges the resulting
// notifications. Per-shard order is preserved; across shards, results
// are concatenated in shard order, which is stable but not meaningful
// across shards (registration order is only defined within one shard).
func (m *Sharded) Match(ev model.Event) []model.Notification {
	results := make([]chan []model.Notification, len(m.shards))
	for i, sh := range m.shards {
		done := make(chan []model.Notification, 1)
		sh.match <- matchCmd{event: ev, done: done}
		results[i] = done
	}

	var all []model.Notification
	for _, done := range results {
		all = append(all, <-done...)
	}
	return all
}

// Shutdown stops every shard goroutine.
func (m *Sharded) Shutdown() {
	for _, sh := range m.shards {
		close(sh.done)
	}
}
