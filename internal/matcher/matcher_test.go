package matcher

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventbroker/internal/model"
)

func newTestMatcher() *Matcher {
	return New(zerolog.Nop())
}

func purchase(category string, price float64) model.Event {
	return model.NewPurchaseEvent("evt", 1000, model.Purchase{Category: category, Price: price})
}

func TestMatch_SimpleEqualityMatch(t *testing.T) {
	m := newTestMatcher()
	require.NoError(t, m.Register(model.Subscription{
		SubscriptionID: "s1",
		SubscriberID:   "sub-1",
		Kind:           model.KindSimple,
		Conditions:     []model.FilterCondition{{FieldName: "category", Operator: model.OpEQ, Value: "Electronics"}},
	}))

	notifications := m.Match(purchase("Electronics", 99.0))
	require.Len(t, notifications, 1)
	assert.Equal(t, "s1", notifications[0].SubscriptionID)
	assert.NotNil(t, notifications[0].Simple)

	notifications = m.Match(purchase("Books", 20.0))
	assert.Empty(t, notifications)
}

func TestMatch_RangeMatch(t *testing.T) {
	m := newTestMatcher()
	require.NoError(t, m.Register(model.Subscription{
		SubscriptionID: "s2",
		SubscriberID:   "sub-1",
		Kind:           model.KindSimple,
		Conditions: []model.FilterCondition{
			{FieldName: "price", Operator: model.OpGT, Value: "50"},
			{FieldName: "category", Operator: model.OpEQ, Value: "Electronics"},
		},
	}))

	assert.Empty(t, m.Match(purchase("Electronics", 49.99)))
	assert.Len(t, m.Match(purchase("Electronics", 50.01)), 1)

	view := model.NewProductViewEvent("evt2", 1000, model.ProductView{Category: "Electronics"})
	assert.Empty(t, m.Match(view))
}

func TestMatch_TumblingAverageWindow(t *testing.T) {
	m := newTestMatcher()
	require.NoError(t, m.Register(model.Subscription{
		SubscriptionID: "s3",
		SubscriberID:   "sub-1",
		Kind:           model.KindComplex,
		Conditions: []model.FilterCondition{
			{FieldName: "category", Operator: model.OpEQ, Value: "Electronics"},
			{FieldName: "rating", Operator: model.OpGT, Value: "4.0", IsWindowed: true},
		},
		WindowConfig: &model.WindowConfig{WindowSize: 3, AggregationType: model.AggAvg},
	}))

	rating := func(r float64) model.Event {
		return model.NewUserRatingEvent("evt", 1000, model.UserRating{Category: "Electronics", Rating: r})
	}

	assert.Empty(t, m.Match(rating(3.0)))
	assert.Empty(t, m.Match(rating(5.0)))

	notifications := m.Match(rating(5.0))
	require.Len(t, notifications, 1)
	require.NotNil(t, notifications[0].Complex)
	assert.InDelta(t, 13.0/3.0, notifications[0].Complex.AggregatedValue, 1e-9)
	assert.True(t, notifications[0].Complex.ConditionMet)

	// Fourth event starts a new window; no close yet.
	assert.Empty(t, m.Match(rating(4.0)))
}

// Each windowed field has its own ring buffer and must keep accumulating
// on every tick, independent of whether a sibling windowed field has
// already closed on that same tick. Before the fix, a condition earlier
// in sub.Conditions returning "not yet closed" (or "field absent") short
// circuited the loop, starving every later windowed field of that tick's
// observation and silently stretching its effective cadence.
func TestMatch_MultipleWindowedFieldsAdvanceIndependently(t *testing.T) {
	m := newTestMatcher()
	require.NoError(t, m.Register(model.Subscription{
		SubscriptionID: "s6",
		SubscriberID:   "sub-1",
		Kind:           model.KindComplex,
		Conditions: []model.FilterCondition{
			{FieldName: "category", Operator: model.OpEQ, Value: "Electronics"},
			{FieldName: "price", Operator: model.OpGT, Value: "0", IsWindowed: true},
			{FieldName: "quantity", Operator: model.OpGT, Value: "0", IsWindowed: true},
		},
		WindowConfig: &model.WindowConfig{WindowSize: 2, AggregationType: model.AggSum},
	}))

	buy := func(price float64, qty int32) model.Event {
		return model.NewPurchaseEvent("evt", 1000, model.Purchase{Category: "Electronics", Price: price, Quantity: qty})
	}

	assert.Empty(t, m.Match(buy(10, 1)))
	n := m.Match(buy(20, 1))
	require.Len(t, n, 1)
	require.NotNil(t, n[0].Complex)

	// Both windows (size 2) close again on the very next tick: if an
	// earlier windowed field's non-closure had suppressed quantity's
	// Observe call, this second pair would never close together.
	assert.Empty(t, m.Match(buy(5, 1)))
	n2 := m.Match(buy(5, 1))
	require.Len(t, n2, 1)
}

func TestMatch_CategoryWildcardSub(t *testing.T) {
	m := newTestMatcher()
	require.NoError(t, m.Register(model.Subscription{
		SubscriptionID: "s4",
		SubscriberID:   "sub-1",
		Kind:           model.KindSimple,
		Conditions:     []model.FilterCondition{{FieldName: "price", Operator: model.OpGT, Value: "1000"}},
	}))

	n1 := m.Match(purchase("Electronics", 1200))
	require.Len(t, n1, 1)
	n2 := m.Match(purchase("Automotive", 1500))
	require.Len(t, n2, 1)
	n3 := m.Match(purchase("Books", 20))
	assert.Empty(t, n3)
}

func TestMatch_Unsubscribe(t *testing.T) {
	m := newTestMatcher()
	sub := model.Subscription{
		SubscriptionID: "s5",
		SubscriberID:   "sub-1",
		Kind:           model.KindSimple,
		Conditions:     []model.FilterCondition{{FieldName: "category", Operator: model.OpEQ, Value: "Electronics"}},
	}
	require.NoError(t, m.Register(sub))

	ev := purchase("Electronics", 10)
	require.Len(t, m.Match(ev), 1)

	m.Unregister("s5")
	assert.Empty(t, m.Match(ev))
}

func TestRegister_RejectsInvalidSubscription(t *testing.T) {
	m := newTestMatcher()
	err := m.Register(model.Subscription{SubscriptionID: "bad", SubscriberID: "sub-1"})
	assert.Error(t, err)

	err = m.Register(model.Subscription{
		SubscriptionID: "bad2",
		SubscriberID:   "sub-1",
		Kind:           model.KindComplex,
		Conditions:     []model.FilterCondition{{FieldName: "rating", Operator: model.OpGT, Value: "4.0", IsWindowed: true}},
	})
	assert.Error(t, err, "COMPLEX subscription missing window_config must be rejected")
}

func TestRegister_DuplicateSubscriptionIDRejected(t *testing.T) {
	m := newTestMatcher()
	sub := model.Subscription{
		SubscriptionID: "dup",
		SubscriberID:   "sub-1",
		Kind:           model.KindSimple,
		Conditions:     []model.FilterCondition{{FieldName: "category", Operator: model.OpEQ, Value: "Electronics"}},
	}
	require.NoError(t, m.Register(sub))
	assert.Error(t, m.Register(sub))
}

func TestMatch_RegistrationOrderTieBreak(t *testing.T) {
	m := newTestMatcher()
	require.NoError(t, m.Register(model.Subscription{
		SubscriptionID: "first",
		SubscriberID:   "sub-1",
		Kind:           model.KindSimple,
		Conditions:     []model.FilterCondition{{FieldName: "category", Operator: model.OpEQ, Value: "Electronics"}},
	}))
	require.NoError(t, m.Register(model.Subscription{
		SubscriptionID: "second",
		SubscriberID:   "sub-2",
		Kind:           model.KindSimple,
		Conditions:     []model.FilterCondition{{FieldName: "category", Operator: model.OpEQ, Value: "Electronics"}},
	}))

	notifications := m.Match(purchase("Electronics", 10))
	require.Len(t, notifications, 2)
	assert.Equal(t, "first", notifications[0].SubscriptionID)
	assert.Equal(t, "second", notifications[1].SubscriptionID)
}
