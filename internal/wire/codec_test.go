package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventbroker/internal/model"
)

func sampleEvent() model.Event {
	return model.NewPurchaseEvent("evt-1", 1700000000000, model.Purchase{
		UserID:      "user-42",
		ProductID:   "prod-7",
		Category:    "electronics",
		Price:       199.99,
		Quantity:    2,
		WarehouseID: "wh-east",
	})
}

func sampleSubscription() model.Subscription {
	return model.Subscription{
		SubscriptionID: "sub-1",
		SubscriberID:   "subscriber-1",
		Kind:           model.KindComplex,
		Conditions: []model.FilterCondition{
			{FieldName: "category", Operator: model.OpEQ, Value: "electronics"},
			{FieldName: "price", Operator: model.OpGT, Value: "100", IsWindowed: true},
		},
		WindowConfig: &model.WindowConfig{WindowSize: 10, AggregationType: model.AggAvg},
	}
}

func TestBrokerMessageRoundTrip_Event(t *testing.T) {
	msg := BrokerMessage{
		MessageID: "msg-1",
		Timestamp: 1700000000000,
		Type:      MessageTypeEvent,
		Event:     ptrEvent(sampleEvent()),
	}

	encoded, err := EncodeBrokerMessage(msg)
	require.NoError(t, err)

	decoded, err := DecodeBrokerMessage(encoded)
	require.NoError(t, err)

	assert.Equal(t, msg.MessageID, decoded.MessageID)
	assert.Equal(t, msg.Timestamp, decoded.Timestamp)
	assert.Equal(t, msg.Type, decoded.Type)
	require.NotNil(t, decoded.Event)
	require.NotNil(t, decoded.Event.Purchase)
	assert.Equal(t, *msg.Event.Purchase, *decoded.Event.Purchase)
}

func TestBrokerMessageRoundTrip_Subscription(t *testing.T) {
	sub := sampleSubscription()
	msg := BrokerMessage{
		MessageID:    "msg-2",
		Timestamp:    1700000000001,
		Type:         MessageTypeSubscription,
		Subscription: &sub,
		HomeBrokerID: "broker-a",
	}

	encoded, err := EncodeBrokerMessage(msg)
	require.NoError(t, err)

	decoded, err := DecodeBrokerMessage(encoded)
	require.NoError(t, err)

	require.NotNil(t, decoded.Subscription)
	assert.Equal(t, sub.SubscriptionID, decoded.Subscription.SubscriptionID)
	assert.Equal(t, sub.Kind, decoded.Subscription.Kind)
	require.Len(t, decoded.Subscription.Conditions, 2)
	assert.Equal(t, sub.Conditions[0], decoded.Subscription.Conditions[0])
	assert.Equal(t, sub.Conditions[1], decoded.Subscription.Conditions[1])
	require.NotNil(t, decoded.Subscription.WindowConfig)
	assert.Equal(t, *sub.WindowConfig, *decoded.Subscription.WindowConfig)
	assert.Equal(t, "broker-a", decoded.HomeBrokerID)
}

func TestBrokerMessageRoundTrip_Notification(t *testing.T) {
	notif := model.Notification{
		NotificationID: "notif-1",
		SubscriptionID: "sub-1",
		SubscriberID:   "subscriber-1",
		Timestamp:      1700000000002,
		Simple:         &model.SimpleNotification{MatchedEvent: sampleEvent()},
	}
	msg := BrokerMessage{
		MessageID:    "msg-3",
		Timestamp:    1700000000002,
		Type:         MessageTypeNotification,
		Notification: &notif,
	}

	encoded, err := EncodeBrokerMessage(msg)
	require.NoError(t, err)

	decoded, err := DecodeBrokerMessage(encoded)
	require.NoError(t, err)

	require.NotNil(t, decoded.Notification)
	require.NotNil(t, decoded.Notification.Simple)
	assert.Equal(t, notif.Simple.MatchedEvent.EventID, decoded.Notification.Simple.MatchedEvent.EventID)

	complexNotif := model.Notification{
		NotificationID: "notif-2",
		SubscriptionID: "sub-2",
		SubscriberID:   "subscriber-2",
		Timestamp:      1700000000003,
		Complex: &model.ComplexNotification{
			Category:        "electronics",
			FieldName:       "price",
			AggregatedValue: 142.5,
			WindowSize:      10,
			ConditionMet:    true,
		},
	}
	msg2 := BrokerMessage{
		MessageID:    "msg-4",
		Timestamp:    1700000000003,
		Type:         MessageTypeNotification,
		Notification: &complexNotif,
	}
	encoded2, err := EncodeBrokerMessage(msg2)
	require.NoError(t, err)
	decoded2, err := DecodeBrokerMessage(encoded2)
	require.NoError(t, err)
	require.NotNil(t, decoded2.Notification.Complex)
	assert.Equal(t, *complexNotif.Complex, *decoded2.Notification.Complex)
}

func TestBrokerMessageRoundTrip_Heartbeat(t *testing.T) {
	hb := model.Heartbeat{
		BrokerID:            "broker-a",
		Status:              model.StatusUp,
		ActiveSubscriptions: 12,
		ProcessedEvents:     9000,
	}
	msg := BrokerMessage{
		MessageID: "msg-5",
		Timestamp: 1700000000004,
		Type:      MessageTypeHeartbeat,
		Heartbeat: &hb,
	}

	encoded, err := EncodeBrokerMessage(msg)
	require.NoError(t, err)
	decoded, err := DecodeBrokerMessage(encoded)
	require.NoError(t, err)
	require.NotNil(t, decoded.Heartbeat)
	assert.Equal(t, hb, *decoded.Heartbeat)
}

func TestDecodeBrokerMessage_UnknownFieldTolerance(t *testing.T) {
	hb := model.Heartbeat{BrokerID: "broker-a", Status: model.StatusUp}
	msg := BrokerMessage{MessageID: "msg-6", Type: MessageTypeHeartbeat, Heartbeat: &hb}
	encoded, err := EncodeBrokerMessage(msg)
	require.NoError(t, err)

	// Append a fabricated unknown field (number 99, varint) before decoding;
	// DecodeBrokerMessage must skip it rather than fail.
	encoded = append(encoded, 0x98, 0x06, 0x01)

	decoded, err := DecodeBrokerMessage(encoded)
	require.NoError(t, err)
	assert.Equal(t, "broker-a", decoded.Heartbeat.BrokerID)
}

func TestDecodeBrokerMessage_TruncatedFrameFails(t *testing.T) {
	hb := model.Heartbeat{BrokerID: "broker-a"}
	msg := BrokerMessage{MessageID: "msg-7", Type: MessageTypeHeartbeat, Heartbeat: &hb}
	encoded, err := EncodeBrokerMessage(msg)
	require.NoError(t, err)

	_, err = DecodeBrokerMessage(encoded[:len(encoded)-1])
	assert.Error(t, err)
}

func TestFrameRoundTrip(t *testing.T) {
	hb := model.Heartbeat{BrokerID: "broker-b", Status: model.StatusShutdown}
	msg := BrokerMessage{MessageID: "msg-8", Type: MessageTypeHeartbeat, Heartbeat: &hb}

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, msg))

	decoded, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.NotNil(t, decoded.Heartbeat)
	assert.Equal(t, model.StatusShutdown, decoded.Heartbeat.Status)
}

func ptrEvent(e model.Event) *model.Event { return &e }
