package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"eventbroker/internal/model"
)

// Notification field numbers: 1=notification_id 2=subscription_id
// 3=subscriber_id 4=timestamp 5=simple 6=complex
const (
	fnNotifID           protowire.Number = 1
	fnNotifSubID        protowire.Number = 2
	fnNotifSubscriberID protowire.Number = 3
	fnNotifTimestamp    protowire.Number = 4
	fnNotifSimple       protowire.Number = 5
	fnNotifComplex      protowire.Number = 6
)

// SimpleNotification field numbers: 1=matched_event
const fnSimpleMatchedEvent protowire.Number = 1

// ComplexNotification field numbers: 1=category 2=field_name
// 3=aggregated_value 4=window_size 5=condition_met
const (
	fnComplexCategory    protowire.Number = 1
	fnComplexFieldName   protowire.Number = 2
	fnComplexAggValue    protowire.Number = 3
	fnComplexWindowSize  protowire.Number = 4
	fnComplexConditionOK protowire.Number = 5
)

func encodeNotification(n model.Notification) ([]byte, error) {
	var b []byte
	b = appendStringField(b, fnNotifID, n.NotificationID)
	b = appendStringField(b, fnNotifSubID, n.SubscriptionID)
	b = appendStringField(b, fnNotifSubscriberID, n.SubscriberID)
	b = appendInt64Field(b, fnNotifTimestamp, n.Timestamp)

	switch {
	case n.Simple != nil:
		sub, err := encodeSimpleNotification(*n.Simple)
		if err != nil {
			return nil, err
		}
		b = appendMessageField(b, fnNotifSimple, sub)
	case n.Complex != nil:
		b = appendMessageField(b, fnNotifComplex, encodeComplexNotification(*n.Complex))
	default:
		return nil, fmt.Errorf("wire: Notification %s has neither Simple nor Complex set", n.NotificationID)
	}
	return b, nil
}

func decodeNotification(data []byte) (model.Notification, error) {
	var n model.Notification
	var simpleBytes, complexBytes []byte
	b := data
	for len(b) > 0 {
		num, typ, m0 := protowire.ConsumeTag(b)
		if m0 < 0 {
			return model.Notification{}, fmt.Errorf("wire: Notification: bad tag: %w", protowire.ParseError(m0))
		}
		b = b[m0:]
		switch num {
		case fnNotifID:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.Notification{}, fmt.Errorf("wire: Notification.notification_id: %w", protowire.ParseError(m))
			}
			n.NotificationID = v
			b = b[m:]
		case fnNotifSubID:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.Notification{}, fmt.Errorf("wire: Notification.subscription_id: %w", protowire.ParseError(m))
			}
			n.SubscriptionID = v
			b = b[m:]
		case fnNotifSubscriberID:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.Notification{}, fmt.Errorf("wire: Notification.subscriber_id: %w", protowire.ParseError(m))
			}
			n.SubscriberID = v
			b = b[m:]
		case fnNotifTimestamp:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return model.Notification{}, fmt.Errorf("wire: Notification.timestamp: %w", protowire.ParseError(m))
			}
			n.Timestamp = int64(v)
			b = b[m:]
		case fnNotifSimple:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return model.Notification{}, fmt.Errorf("wire: Notification.simple: %w", protowire.ParseError(m))
			}
			simpleBytes = v
			b = b[m:]
		case fnNotifComplex:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return model.Notification{}, fmt.Errorf("wire: Notification.complex: %w", protowire.ParseError(m))
			}
			complexBytes = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return model.Notification{}, fmt.Errorf("wire: Notification: bad unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}

	switch {
	case simpleBytes != nil:
		s, err := decodeSimpleNotification(simpleBytes)
		if err != nil {
			return model.Notification{}, err
		}
		n.Simple = &s
	case complexBytes != nil:
		c, err := decodeComplexNotification(complexBytes)
		if err != nil {
			return model.Notification{}, err
		}
		n.Complex = &c
	default:
		return model.Notification{}, fmt.Errorf("wire: Notification %s has neither simple nor complex payload", n.NotificationID)
	}
	return n, nil
}

func encodeSimpleNotification(s model.SimpleNotification) ([]byte, error) {
	ev, err := encodeEvent(s.MatchedEvent)
	if err != nil {
		return nil, err
	}
	var b []byte
	b = appendMessageField(b, fnSimpleMatchedEvent, ev)
	return b, nil
}

func decodeSimpleNotification(data []byte) (model.SimpleNotification, error) {
	var s model.SimpleNotification
	var eventBytes []byte
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.SimpleNotification{}, fmt.Errorf("wire: SimpleNotification: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fnSimpleMatchedEvent:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return model.SimpleNotification{}, fmt.Errorf("wire: SimpleNotification.matched_event: %w", protowire.ParseError(m))
			}
			eventBytes = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return model.SimpleNotification{}, fmt.Errorf("wire: SimpleNotification: bad unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	if eventBytes == nil {
		return model.SimpleNotification{}, fmt.Errorf("wire: SimpleNotification missing matched_event")
	}
	ev, err := decodeEvent(eventBytes)
	if err != nil {
		return model.SimpleNotification{}, err
	}
	s.MatchedEvent = ev
	return s, nil
}

func encodeComplexNotification(c model.ComplexNotification) []byte {
	var b []byte
	b = appendStringField(b, fnComplexCategory, c.Category)
	b = appendStringField(b, fnComplexFieldName, c.FieldName)
	b = appendDoubleField(b, fnComplexAggValue, c.AggregatedValue)
	b = appendVarintField(b, fnComplexWindowSize, uint64(c.WindowSize))
	b = appendBoolField(b, fnComplexConditionOK, c.ConditionMet)
	return b
}

func decodeComplexNotification(data []byte) (model.ComplexNotification, error) {
	var c model.ComplexNotification
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.ComplexNotification{}, fmt.Errorf("wire: ComplexNotification: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fnComplexCategory:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.ComplexNotification{}, fmt.Errorf("wire: ComplexNotification.category: %w", protowire.ParseError(m))
			}
			c.Category = v
			b = b[m:]
		case fnComplexFieldName:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.ComplexNotification{}, fmt.Errorf("wire: ComplexNotification.field_name: %w", protowire.ParseError(m))
			}
			c.FieldName = v
			b = b[m:]
		case fnComplexAggValue:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return model.ComplexNotification{}, fmt.Errorf("wire: ComplexNotification.aggregated_value: %w", protowire.ParseError(m))
			}
			c.AggregatedValue = fixed64ToFloat64(v)
			b = b[m:]
		case fnComplexWindowSize:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return model.ComplexNotification{}, fmt.Errorf("wire: ComplexNotification.window_size: %w", protowire.ParseError(m))
			}
			c.WindowSize = int32(v)
			b = b[m:]
		case fnComplexConditionOK:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return model.ComplexNotification{}, fmt.Errorf("wire: ComplexNotification.condition_met: %w", protowire.ParseError(m))
			}
			c.ConditionMet = v != 0
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return model.ComplexNotification{}, fmt.Errorf("wire: ComplexNotification: bad unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return c, nil
}
