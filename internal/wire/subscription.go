package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"eventbroker/internal/model"
)

// Subscription field numbers: 1=subscription_id 2=subscriber_id 3=kind
// 4=conditions (repeated) 5=window_config
const (
	fnSubID         protowire.Number = 1
	fnSubSubscriber protowire.Number = 2
	fnSubKind       protowire.Number = 3
	fnSubConditions protowire.Number = 4
	fnSubWindow     protowire.Number = 5
)

// FilterCondition field numbers: 1=field_name 2=operator 3=value
// 4=is_windowed
const (
	fnCondField     protowire.Number = 1
	fnCondOperator  protowire.Number = 2
	fnCondValue     protowire.Number = 3
	fnCondIsWindow  protowire.Number = 4
)

// WindowConfig field numbers: 1=window_size 2=aggregation_type
const (
	fnWinSize protowire.Number = 1
	fnWinAgg  protowire.Number = 2
)

func encodeSubscription(s model.Subscription) []byte {
	var b []byte
	b = appendStringField(b, fnSubID, s.SubscriptionID)
	b = appendStringField(b, fnSubSubscriber, s.SubscriberID)
	b = appendVarintField(b, fnSubKind, uint64(s.Kind))
	for _, c := range s.Conditions {
		b = appendMessageField(b, fnSubConditions, encodeFilterCondition(c))
	}
	if s.WindowConfig != nil {
		b = appendMessageField(b, fnSubWindow, encodeWindowConfig(*s.WindowConfig))
	}
	return b
}

func decodeSubscription(data []byte) (model.Subscription, error) {
	var s model.Subscription
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.Subscription{}, fmt.Errorf("wire: Subscription: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fnSubID:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.Subscription{}, fmt.Errorf("wire: Subscription.subscription_id: %w", protowire.ParseError(m))
			}
			s.SubscriptionID = v
			b = b[m:]
		case fnSubSubscriber:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.Subscription{}, fmt.Errorf("wire: Subscription.subscriber_id: %w", protowire.ParseError(m))
			}
			s.SubscriberID = v
			b = b[m:]
		case fnSubKind:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return model.Subscription{}, fmt.Errorf("wire: Subscription.kind: %w", protowire.ParseError(m))
			}
			s.Kind = model.SubscriptionKind(v)
			b = b[m:]
		case fnSubConditions:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return model.Subscription{}, fmt.Errorf("wire: Subscription.conditions: %w", protowire.ParseError(m))
			}
			c, err := decodeFilterCondition(v)
			if err != nil {
				return model.Subscription{}, err
			}
			s.Conditions = append(s.Conditions, c)
			b = b[m:]
		case fnSubWindow:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return model.Subscription{}, fmt.Errorf("wire: Subscription.window_config: %w", protowire.ParseError(m))
			}
			w, err := decodeWindowConfig(v)
			if err != nil {
				return model.Subscription{}, err
			}
			s.WindowConfig = &w
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return model.Subscription{}, fmt.Errorf("wire: Subscription: bad unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return s, nil
}

func encodeFilterCondition(c model.FilterCondition) []byte {
	var b []byte
	b = appendStringField(b, fnCondField, c.FieldName)
	b = appendVarintField(b, fnCondOperator, uint64(c.Operator))
	b = appendStringField(b, fnCondValue, c.Value)
	b = appendBoolField(b, fnCondIsWindow, c.IsWindowed)
	return b
}

func decodeFilterCondition(data []byte) (model.FilterCondition, error) {
	var c model.FilterCondition
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.FilterCondition{}, fmt.Errorf("wire: FilterCondition: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fnCondField:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.FilterCondition{}, fmt.Errorf("wire: FilterCondition.field_name: %w", protowire.ParseError(m))
			}
			c.FieldName = v
			b = b[m:]
		case fnCondOperator:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return model.FilterCondition{}, fmt.Errorf("wire: FilterCondition.operator: %w", protowire.ParseError(m))
			}
			c.Operator = model.ComparisonOperator(v)
			b = b[m:]
		case fnCondValue:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.FilterCondition{}, fmt.Errorf("wire: FilterCondition.value: %w", protowire.ParseError(m))
			}
			c.Value = v
			b = b[m:]
		case fnCondIsWindow:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return model.FilterCondition{}, fmt.Errorf("wire: FilterCondition.is_windowed: %w", protowire.ParseError(m))
			}
			c.IsWindowed = v != 0
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return model.FilterCondition{}, fmt.Errorf("wire: FilterCondition: bad unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return c, nil
}

func encodeWindowConfig(w model.WindowConfig) []byte {
	var b []byte
	b = appendVarintField(b, fnWinSize, uint64(w.WindowSize))
	b = appendStringField(b, fnWinAgg, string(w.AggregationType))
	return b
}

func decodeWindowConfig(data []byte) (model.WindowConfig, error) {
	var w model.WindowConfig
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.WindowConfig{}, fmt.Errorf("wire: WindowConfig: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fnWinSize:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return model.WindowConfig{}, fmt.Errorf("wire: WindowConfig.window_size: %w", protowire.ParseError(m))
			}
			w.WindowSize = int32(v)
			b = b[m:]
		case fnWinAgg:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.WindowConfig{}, fmt.Errorf("wire: WindowConfig.aggregation_type: %w", protowire.ParseError(m))
			}
			w.AggregationType = model.AggregationType(v)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return model.WindowConfig{}, fmt.Errorf("wire: WindowConfig: bad unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return w, nil
}
