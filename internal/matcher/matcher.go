// Package matcher implements subscription registration and per-event
// matching: partitioning subscriptions by category for fast candidate
// lookup, evaluating conjunctive filter conditions with a closed
// operator dispatch, and driving the window manager for COMPLEX
// subscriptions' aggregate conditions.
package matcher

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"eventbroker/internal/model"
	"eventbroker/internal/window"
)

const wildcardCategory = ""

// entry is a registered subscription plus its registration sequence
// number, used to break ties so notifications are emitted in
// registration order when multiple subscriptions match the same event.
type entry struct {
	sub Subscription
	seq uint64
}

// Subscription is an alias of model.Subscription, the registration-time
// record the matcher keeps; its SubscriberID is copied into every
// notification so callers don't need a second lookup to deliver it.
type Subscription = model.Subscription

// Matcher evaluates events against the currently registered
// subscriptions and returns notifications for every one that matches.
// It is the default single-task implementation; for higher throughput,
// NewSharded provides a hash-sharded variant that keeps the
// single-writer-per-subscription invariant while running several
// matcher goroutines.
type Matcher struct {
	mu sync.Mutex

	byCategory map[string][]*entry // category -> subs with an EQ category condition
	wildcard   []*entry            // subs with no category EQ condition
	bySubID    map[string]*entry

	windows *window.Manager
	nextSeq uint64

	log zerolog.Logger
}

// New creates an empty Matcher.
func New(log zerolog.Logger) *Matcher {
	return &Matcher{
		byCategory: make(map[string][]*entry),
		bySubID:    make(map[string]*entry),
		windows:    window.NewManager(),
		log:        log.With().Str("component", "matcher").Logger(),
	}
}

// Register validates and adds a subscription. Returns an error
// (registration is rejected, never crashes the broker) if the
// subscription is malformed.
func (m *Matcher) Register(sub model.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bySubID[sub.SubscriptionID]; exists {
		return fmt.Errorf("matcher: subscription %s already registered", sub.SubscriptionID)
	}

	if sub.Kind == model.KindComplex {
		if err := m.windows.Register(sub.SubscriptionID, *sub.WindowConfig); err != nil {
			return err
		}
	}

	m.nextSeq++
	e := &entry{sub: sub, seq: m.nextSeq}
	m.bySubID[sub.SubscriptionID] = e

	if cat, ok := sub.CategoryEquality(); ok {
		m.byCategory[cat] = append(m.byCategory[cat], e)
	} else {
		m.wildcard = append(m.wildcard, e)
	}
	return nil
}

// Unregister removes a subscription and its window state. A no-op if
// the subscription id is unknown.
func (m *Matcher) Unregister(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.bySubID[subscriptionID]
	if !ok {
		return
	}
	delete(m.bySubID, subscriptionID)
	m.windows.Unregister(subscriptionID)

	if cat, ok := e.sub.CategoryEquality(); ok {
		m.byCategory[cat] = removeEntry(m.byCategory[cat], subscriptionID)
	} else {
		m.wildcard = removeEntry(m.wildcard, subscriptionID)
	}
}

func removeEntry(list []*entry, subscriptionID string) []*entry {
	out := list[:0]
	for _, e := range list {
		if e.sub.SubscriptionID != subscriptionID {
			out = append(out, e)
		}
	}
	return out
}

// Match evaluates ev against every candidate subscription (same
// category, plus wildcard subscriptions with no category condition) and
// returns a notification per subscription that matches, in registration
// order.
func (m *Matcher) Match(ev model.Event) []model.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	category, _ := ev.Category()

	candidates := make([]*entry, 0, len(m.wildcard))
	candidates = append(candidates, m.byCategory[category]...)
	candidates = append(candidates, m.wildcard...)
	sortBySeq(candidates)

	var notifications []model.Notification
	for _, e := range candidates {
		n, matched := m.evaluate(e.sub, ev)
		if matched {
			notifications = append(notifications, n)
		}
	}
	return notifications
}

func sortBySeq(entries []*entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].seq < entries[j-1].seq; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// evaluate runs one subscription's conditions against ev. Non-windowed
// conditions are checked first (cheap, short-circuiting); only if all of
// those pass does a COMPLEX subscription touch the window manager.
func (m *Matcher) evaluate(sub model.Subscription, ev model.Event) (model.Notification, bool) {
	for _, c := range sub.Conditions {
		if c.IsWindowed {
			continue
		}
		if !evalCondition(ev, c) {
			return model.Notification{}, false
		}
	}

	if sub.Kind == model.KindSimple {
		return model.Notification{
			NotificationID: uuid.NewString(),
			SubscriptionID: sub.SubscriptionID,
			SubscriberID:   sub.SubscriberID,
			Timestamp:      ev.Timestamp,
			Simple:         &model.SimpleNotification{MatchedEvent: ev},
		}, true
	}

	return m.evaluateComplex(sub, ev)
}

// evaluateComplex observes every windowed condition on sub unconditionally,
// one tick each, before deciding whether to emit. Each windowed field keeps
// its own ring buffer (internal/window.Manager) and must advance on every
// tick regardless of whether a sibling field closed, errored, or was absent
// from this event variant: an early return mid-loop would starve later
// windowed fields of observations, skewing their effective window_size
// cadence. A notification is only considered once every windowed field has
// both closed in this same tick and satisfied its operator.
func (m *Matcher) evaluateComplex(sub model.Subscription, ev model.Event) (model.Notification, bool) {
	category, _ := ev.Category()

	type closedWindow struct {
		cond      model.FilterCondition
		aggregate float64
	}
	var closedWindows []closedWindow
	windowedCount := 0
	allClosed := true

	for _, c := range sub.Conditions {
		if !c.IsWindowed {
			continue
		}
		windowedCount++

		value, ok := model.NumericField(ev, c.FieldName)
		if !ok {
			// Field absent on this event variant: no observation for this
			// field this tick, but every other windowed field still gets
			// observed below.
			allClosed = false
			continue
		}
		closed, aggregate, err := m.windows.Observe(sub.SubscriptionID, category, c.FieldName, value)
		if err != nil {
			m.log.Error().Err(err).Str("subscription_id", sub.SubscriptionID).Msg("window observe failed")
			allClosed = false
			continue
		}
		if !closed {
			allClosed = false
			continue
		}
		closedWindows = append(closedWindows, closedWindow{cond: c, aggregate: aggregate})
	}

	// Every windowed field must close in this same observe tick and every
	// one of their aggregates must satisfy its operator.
	if windowedCount == 0 || !allClosed {
		return model.Notification{}, false
	}
	for _, cw := range closedWindows {
		if !compareNumeric(cw.aggregate, cw.cond.Operator, cw.cond.Value) {
			return model.Notification{}, false
		}
	}

	last := closedWindows[len(closedWindows)-1]
	return model.Notification{
		NotificationID: uuid.NewString(),
		SubscriptionID: sub.SubscriptionID,
		SubscriberID:   sub.SubscriberID,
		Timestamp:      ev.Timestamp,
		Complex: &model.ComplexNotification{
			Category:        category,
			FieldName:       last.cond.FieldName,
			AggregatedValue: last.aggregate,
			WindowSize:      sub.WindowConfig.WindowSize,
			ConditionMet:    true,
		},
	}, true
}

func evalCondition(ev model.Event, c model.FilterCondition) bool {
	kind, ok := model.FieldKindOf(ev.Type, c.FieldName)
	if !ok {
		return false
	}
	switch kind {
	case model.FieldKindString:
		actual, ok := model.StringField(ev, c.FieldName)
		if !ok {
			return false
		}
		return compareString(actual, c.Operator, c.Value)
	case model.FieldKindNumeric:
		actual, ok := model.NumericField(ev, c.FieldName)
		if !ok {
			return false
		}
		return compareNumeric(actual, c.Operator, c.Value)
	default:
		return false
	}
}

// compareString supports only EQ/NE, per the closed-operator rule that
// string fields never take ordering comparisons.
func compareString(actual string, op model.ComparisonOperator, expected string) bool {
	switch op {
	case model.OpEQ:
		return actual == expected
	case model.OpNE:
		return actual != expected
	default:
		return false
	}
}

// compareNumeric coerces expected to float64; a coercion failure fails
// the condition, never the event.
func compareNumeric(actual float64, op model.ComparisonOperator, expected string) bool {
	want, err := strconv.ParseFloat(expected, 64)
	if err != nil {
		return false
	}
	switch op {
	case model.OpEQ:
		return actual == want
	case model.OpNE:
		return actual != want
	case model.OpGT:
		return actual > want
	case model.OpGE:
		return actual >= want
	case model.OpLT:
		return actual < want
	case model.OpLE:
		return actual <= want
	default:
		return false
	}
}
