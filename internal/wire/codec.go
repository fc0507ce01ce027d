// Package wire implements the broker's binary wire protocol: a
// field-tagged, varint-length-prefixed encoding built on the protobuf
// wire primitives (protowire), without requiring
// generated .pb.go stubs for a schema we were handed as field numbers
// rather than a .proto file. Unknown fields are skipped on decode so
// minor-version messages stay forward compatible; decoding errors never
// panic, they return an error for the caller to count and drop.
package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"eventbroker/internal/model"
)

// MessageType is the BrokerMessage envelope's type tag.
type MessageType int32

const (
	MessageTypeEvent MessageType = iota
	MessageTypeSubscription
	MessageTypeNotification
	MessageTypeHeartbeat
)

// BrokerMessage is the envelope every exchange uses. Exactly one of the
// oneof-style payload fields is populated, selected by Type.
//
// Field numbers (must stay stable across versions):
//
//	1=message_id 2=timestamp 3=type 4=event 5=subscription
//	6=notification 7=heartbeat 8=home_broker_id (additive: peer overlay
//	tags a forwarded SubscriptionSummary's home broker without requiring
//	a new oneof variant)
type BrokerMessage struct {
	MessageID    string
	Timestamp    int64
	Type         MessageType
	Event        *model.Event
	Subscription *model.Subscription
	Notification *model.Notification
	Heartbeat    *model.Heartbeat
	HomeBrokerID string // only meaningful when Type == MessageTypeSubscription, forwarded between peers
}

const (
	fnBrokerMsgID           protowire.Number = 1
	fnBrokerMsgTimestamp    protowire.Number = 2
	fnBrokerMsgType         protowire.Number = 3
	fnBrokerMsgEvent        protowire.Number = 4
	fnBrokerMsgSubscription protowire.Number = 5
	fnBrokerMsgNotification protowire.Number = 6
	fnBrokerMsgHeartbeat    protowire.Number = 7
	fnBrokerMsgHomeBroker   protowire.Number = 8
)

// EncodeBrokerMessage serializes msg to its binary wire form. Encoding
// never fails for a well-formed BrokerMessage; it returns an error when
// Type is unknown or the payload that Type selects (or a nested event or
// notification payload) is nil.
func EncodeBrokerMessage(msg BrokerMessage) ([]byte, error) {
	var b []byte
	b = appendStringField(b, fnBrokerMsgID, msg.MessageID)
	b = appendInt64Field(b, fnBrokerMsgTimestamp, msg.Timestamp)
	b = appendVarintField(b, fnBrokerMsgType, uint64(msg.Type))

	switch msg.Type {
	case MessageTypeEvent:
		if msg.Event == nil {
			return nil, fmt.Errorf("wire: BrokerMessage type=EVENT but Event is nil")
		}
		sub, err := encodeEvent(*msg.Event)
		if err != nil {
			return nil, err
		}
		b = appendMessageField(b, fnBrokerMsgEvent, sub)
	case MessageTypeSubscription:
		if msg.Subscription == nil {
			return nil, fmt.Errorf("wire: BrokerMessage type=SUBSCRIPTION but Subscription is nil")
		}
		sub := encodeSubscription(*msg.Subscription)
		b = appendMessageField(b, fnBrokerMsgSubscription, sub)
		if msg.HomeBrokerID != "" {
			b = appendStringField(b, fnBrokerMsgHomeBroker, msg.HomeBrokerID)
		}
	case MessageTypeNotification:
		if msg.Notification == nil {
			return nil, fmt.Errorf("wire: BrokerMessage type=NOTIFICATION but Notification is nil")
		}
		sub, err := encodeNotification(*msg.Notification)
		if err != nil {
			return nil, err
		}
		b = appendMessageField(b, fnBrokerMsgNotification, sub)
	case MessageTypeHeartbeat:
		if msg.Heartbeat == nil {
			return nil, fmt.Errorf("wire: BrokerMessage type=HEARTBEAT but Heartbeat is nil")
		}
		sub := encodeHeartbeat(*msg.Heartbeat)
		b = appendMessageField(b, fnBrokerMsgHeartbeat, sub)
	default:
		return nil, fmt.Errorf("wire: unknown BrokerMessage type %d", msg.Type)
	}
	return b, nil
}

// DecodeBrokerMessage parses a binary wire message. Malformed input
// returns an error; the caller (broker ingress/peer link) increments
// decode_errors and drops the message rather than propagating the error
// further.
func DecodeBrokerMessage(data []byte) (BrokerMessage, error) {
	var msg BrokerMessage
	var eventBytes, subBytes, notifBytes, heartbeatBytes []byte
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return BrokerMessage{}, fmt.Errorf("wire: BrokerMessage: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fnBrokerMsgID:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return BrokerMessage{}, fmt.Errorf("wire: BrokerMessage.message_id: %w", protowire.ParseError(m))
			}
			msg.MessageID = v
			b = b[m:]
		case fnBrokerMsgTimestamp:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return BrokerMessage{}, fmt.Errorf("wire: BrokerMessage.timestamp: %w", protowire.ParseError(m))
			}
			msg.Timestamp = int64(v)
			b = b[m:]
		case fnBrokerMsgType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return BrokerMessage{}, fmt.Errorf("wire: BrokerMessage.type: %w", protowire.ParseError(m))
			}
			msg.Type = MessageType(v)
			b = b[m:]
		case fnBrokerMsgEvent:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return BrokerMessage{}, fmt.Errorf("wire: BrokerMessage.event: %w", protowire.ParseError(m))
			}
			eventBytes = v
			b = b[m:]
		case fnBrokerMsgSubscription:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return BrokerMessage{}, fmt.Errorf("wire: BrokerMessage.subscription: %w", protowire.ParseError(m))
			}
			subBytes = v
			b = b[m:]
		case fnBrokerMsgNotification:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return BrokerMessage{}, fmt.Errorf("wire: BrokerMessage.notification: %w", protowire.ParseError(m))
			}
			notifBytes = v
			b = b[m:]
		case fnBrokerMsgHeartbeat:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return BrokerMessage{}, fmt.Errorf("wire: BrokerMessage.heartbeat: %w", protowire.ParseError(m))
			}
			heartbeatBytes = v
			b = b[m:]
		case fnBrokerMsgHomeBroker:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return BrokerMessage{}, fmt.Errorf("wire: BrokerMessage.home_broker_id: %w", protowire.ParseError(m))
			}
			msg.HomeBrokerID = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return BrokerMessage{}, fmt.Errorf("wire: BrokerMessage: bad unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}

	switch msg.Type {
	case MessageTypeEvent:
		if eventBytes == nil {
			return BrokerMessage{}, fmt.Errorf("wire: BrokerMessage type=EVENT missing event payload")
		}
		ev, err := decodeEvent(eventBytes)
		if err != nil {
			return BrokerMessage{}, err
		}
		msg.Event = &ev
	case MessageTypeSubscription:
		if subBytes == nil {
			return BrokerMessage{}, fmt.Errorf("wire: BrokerMessage type=SUBSCRIPTION missing subscription payload")
		}
		sub, err := decodeSubscription(subBytes)
		if err != nil {
			return BrokerMessage{}, err
		}
		msg.Subscription = &sub
	case MessageTypeNotification:
		if notifBytes == nil {
			return BrokerMessage{}, fmt.Errorf("wire: BrokerMessage type=NOTIFICATION missing notification payload")
		}
		n, err := decodeNotification(notifBytes)
		if err != nil {
			return BrokerMessage{}, err
		}
		msg.Notification = &n
	case MessageTypeHeartbeat:
		if heartbeatBytes == nil {
			return BrokerMessage{}, fmt.Errorf("wire: BrokerMessage type=HEARTBEAT missing heartbeat payload")
		}
		hb, err := decodeHeartbeat(heartbeatBytes)
		if err != nil {
			return BrokerMessage{}, err
		}
		msg.Heartbeat = &hb
	default:
		return BrokerMessage{}, fmt.Errorf("wire: unknown BrokerMessage type %d", msg.Type)
	}
	return msg, nil
}

// --- low-level append helpers ---

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendInt64Field(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendDoubleField(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendMessageField(b []byte, num protowire.Number, sub []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, sub)
}

func fixed64ToFloat64(v uint64) float64 {
	return math.Float64frombits(v)
}
