package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"eventbroker/internal/model"
)

// Heartbeat field numbers: 1=broker_id 2=status 3=active_subscriptions
// 4=processed_events
const (
	fnHBBrokerID    protowire.Number = 1
	fnHBStatus      protowire.Number = 2
	fnHBActiveSubs  protowire.Number = 3
	fnHBProcessed   protowire.Number = 4
)

func encodeHeartbeat(h model.Heartbeat) []byte {
	var b []byte
	b = appendStringField(b, fnHBBrokerID, h.BrokerID)
	b = appendVarintField(b, fnHBStatus, uint64(h.Status))
	b = appendInt64Field(b, fnHBActiveSubs, h.ActiveSubscriptions)
	b = appendInt64Field(b, fnHBProcessed, h.ProcessedEvents)
	return b
}

func decodeHeartbeat(data []byte) (model.Heartbeat, error) {
	var h model.Heartbeat
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.Heartbeat{}, fmt.Errorf("wire: Heartbeat: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fnHBBrokerID:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.Heartbeat{}, fmt.Errorf("wire: Heartbeat.broker_id: %w", protowire.ParseError(m))
			}
			h.BrokerID = v
			b = b[m:]
		case fnHBStatus:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return model.Heartbeat{}, fmt.Errorf("wire: Heartbeat.status: %w", protowire.ParseError(m))
			}
			h.Status = model.PeerStatus(v)
			b = b[m:]
		case fnHBActiveSubs:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return model.Heartbeat{}, fmt.Errorf("wire: Heartbeat.active_subscriptions: %w", protowire.ParseError(m))
			}
			h.ActiveSubscriptions = int64(v)
			b = b[m:]
		case fnHBProcessed:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return model.Heartbeat{}, fmt.Errorf("wire: Heartbeat.processed_events: %w", protowire.ParseError(m))
			}
			h.ProcessedEvents = int64(v)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return model.Heartbeat{}, fmt.Errorf("wire: Heartbeat: bad unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return h, nil
}

// EncodeSubscriptionSummary / DecodeSubscriptionSummary are a standalone
// encoding of a SubscriptionSummary. The peer overlay does not use them:
// its announcements travel inside a BrokerMessage of type SUBSCRIPTION
// with HomeBrokerID set rather than as their own oneof variant (see
// BrokerMessage field 8 in codec.go).
//
// Field numbers: 1=subscription_id 2=home_broker_id 3=subscription
const (
	fnSummarySubID    protowire.Number = 1
	fnSummaryHomeNode protowire.Number = 2
	fnSummarySub      protowire.Number = 3
)

func EncodeSubscriptionSummary(s model.SubscriptionSummary) []byte {
	var b []byte
	b = appendStringField(b, fnSummarySubID, s.SubscriptionID)
	b = appendStringField(b, fnSummaryHomeNode, s.HomeBrokerID)
	b = appendMessageField(b, fnSummarySub, encodeSubscription(s.Subscription))
	return b
}

func DecodeSubscriptionSummary(data []byte) (model.SubscriptionSummary, error) {
	var s model.SubscriptionSummary
	var subBytes []byte
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.SubscriptionSummary{}, fmt.Errorf("wire: SubscriptionSummary: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fnSummarySubID:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.SubscriptionSummary{}, fmt.Errorf("wire: SubscriptionSummary.subscription_id: %w", protowire.ParseError(m))
			}
			s.SubscriptionID = v
			b = b[m:]
		case fnSummaryHomeNode:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.SubscriptionSummary{}, fmt.Errorf("wire: SubscriptionSummary.home_broker_id: %w", protowire.ParseError(m))
			}
			s.HomeBrokerID = v
			b = b[m:]
		case fnSummarySub:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return model.SubscriptionSummary{}, fmt.Errorf("wire: SubscriptionSummary.subscription: %w", protowire.ParseError(m))
			}
			subBytes = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return model.SubscriptionSummary{}, fmt.Errorf("wire: SubscriptionSummary: bad unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	if subBytes != nil {
		sub, err := decodeSubscription(subBytes)
		if err != nil {
			return model.SubscriptionSummary{}, err
		}
		s.Subscription = sub
	}
	return s, nil
}
