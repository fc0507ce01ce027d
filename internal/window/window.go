// Package window implements the tumbling aggregate windows behind
// COMPLEX subscriptions. A window is a fixed-capacity slot buffer per
// (subscription_id, category, field_name); it closes — producing an
// aggregate and clearing — the instant it fills to window_size
// observations.
//
// Window state is single-writer: the matcher observes values on its own
// goroutine (or, in sharded mode, on the shard goroutine owning the
// subscription), so this buffer needs no atomics — it's a plain slot
// array with head/count and wraparound.
package window

import (
	"fmt"

	"eventbroker/internal/model"
)

// ring is a fixed-capacity slot buffer with wraparound, adapted from the
// broadcast ring buffer shape but simplified for single-writer use.
type ring struct {
	slots []float64
	next  int // index to write next
	count int // number of valid slots filled since last close
}

func newRing(capacity int) *ring {
	return &ring{slots: make([]float64, capacity)}
}

// push appends v, reporting whether the ring is now full.
func (r *ring) push(v float64) bool {
	r.slots[r.next] = v
	r.next = (r.next + 1) % len(r.slots)
	r.count++
	return r.count >= len(r.slots)
}

// drain returns the up-to-`count` most recent values in insertion order
// and resets the ring for the next tumble.
func (r *ring) drain() []float64 {
	n := r.count
	if n > len(r.slots) {
		n = len(r.slots)
	}
	out := make([]float64, n)
	start := (r.next - n + len(r.slots)) % len(r.slots)
	for i := 0; i < n; i++ {
		out[i] = r.slots[(start+i)%len(r.slots)]
	}
	r.next = 0
	r.count = 0
	return out
}

type windowKey struct {
	subscriptionID string
	category       string
	fieldName      string
}

// Manager holds one ring per (subscription_id, category, field_name)
// triple currently being observed. It is not safe for concurrent use by
// multiple goroutines — callers (the matcher) own the synchronization,
// maintaining a single writer per window.
type Manager struct {
	windows map[windowKey]*ring
	sizes   map[string]int32 // subscription_id -> configured window_size
	aggs    map[string]model.AggregationType
}

// NewManager creates an empty window manager.
func NewManager() *Manager {
	return &Manager{
		windows: make(map[windowKey]*ring),
		sizes:   make(map[string]int32),
		aggs:    make(map[string]model.AggregationType),
	}
}

// Register records the window configuration for a COMPLEX subscription
// so later Observe calls know its capacity and aggregation function.
func (m *Manager) Register(subscriptionID string, cfg model.WindowConfig) error {
	if cfg.WindowSize < 1 {
		return fmt.Errorf("window: subscription %s: window_size must be >= 1, got %d", subscriptionID, cfg.WindowSize)
	}
	switch cfg.AggregationType {
	case model.AggAvg, model.AggMax, model.AggMin, model.AggSum, model.AggCount:
	default:
		return fmt.Errorf("window: subscription %s: unknown aggregation %q", subscriptionID, cfg.AggregationType)
	}
	m.sizes[subscriptionID] = cfg.WindowSize
	m.aggs[subscriptionID] = cfg.AggregationType
	return nil
}

// Unregister drops all window state for a subscription (on unsubscribe).
func (m *Manager) Unregister(subscriptionID string) {
	delete(m.sizes, subscriptionID)
	delete(m.aggs, subscriptionID)
	for k := range m.windows {
		if k.subscriptionID == subscriptionID {
			delete(m.windows, k)
		}
	}
}

// Observe records one numeric observation for (subscriptionID, category,
// fieldName). It reports closed=true exactly when this observation fills
// the window, along with the computed aggregate; the window is cleared
// immediately after closing (tumbling, not sliding).
func (m *Manager) Observe(subscriptionID, category, fieldName string, value float64) (closed bool, aggregate float64, err error) {
	size, ok := m.sizes[subscriptionID]
	if !ok {
		return false, 0, fmt.Errorf("window: subscription %s not registered", subscriptionID)
	}
	key := windowKey{subscriptionID: subscriptionID, category: category, fieldName: fieldName}
	r, ok := m.windows[key]
	if !ok {
		r = newRing(int(size))
		m.windows[key] = r
	}
	full := r.push(value)
	if !full {
		return false, 0, nil
	}
	values := r.drain()
	agg := m.aggs[subscriptionID]
	return true, compute(agg, values), nil
}

func compute(agg model.AggregationType, values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	switch agg {
	case model.AggCount:
		return float64(len(values))
	case model.AggSum:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum
	case model.AggAvg:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	case model.AggMax:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max
	case model.AggMin:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min
	default:
		return 0
	}
}
