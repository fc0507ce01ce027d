package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"eventbroker/internal/model"
)

// Event field numbers: 1=event_id 2=timestamp 3=event_type
// 4=purchase 5=product_view 6=inventory_update 7=user_rating
const (
	fnEventID              protowire.Number = 1
	fnEventTimestamp       protowire.Number = 2
	fnEventType            protowire.Number = 3
	fnEventPurchase        protowire.Number = 4
	fnEventProductView     protowire.Number = 5
	fnEventInventoryUpdate protowire.Number = 6
	fnEventUserRating      protowire.Number = 7
)

func encodeEvent(e model.Event) ([]byte, error) {
	var b []byte
	b = appendStringField(b, fnEventID, e.EventID)
	b = appendInt64Field(b, fnEventTimestamp, e.Timestamp)
	b = appendVarintField(b, fnEventType, uint64(e.Type))

	switch e.Type {
	case model.EventTypePurchase:
		if e.Purchase == nil {
			return nil, fmt.Errorf("wire: Event type=PURCHASE but Purchase is nil")
		}
		b = appendMessageField(b, fnEventPurchase, encodePurchase(*e.Purchase))
	case model.EventTypeProductView:
		if e.ProductView == nil {
			return nil, fmt.Errorf("wire: Event type=PRODUCT_VIEW but ProductView is nil")
		}
		b = appendMessageField(b, fnEventProductView, encodeProductView(*e.ProductView))
	case model.EventTypeInventoryUpdate:
		if e.InventoryUpdate == nil {
			return nil, fmt.Errorf("wire: Event type=INVENTORY_UPDATE but InventoryUpdate is nil")
		}
		b = appendMessageField(b, fnEventInventoryUpdate, encodeInventoryUpdate(*e.InventoryUpdate))
	case model.EventTypeUserRating:
		if e.UserRating == nil {
			return nil, fmt.Errorf("wire: Event type=USER_RATING but UserRating is nil")
		}
		b = appendMessageField(b, fnEventUserRating, encodeUserRating(*e.UserRating))
	default:
		return nil, fmt.Errorf("wire: unknown event type %d", e.Type)
	}
	return b, nil
}

func decodeEvent(data []byte) (model.Event, error) {
	var e model.Event
	var purchaseBytes, viewBytes, invBytes, ratingBytes []byte
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.Event{}, fmt.Errorf("wire: Event: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fnEventID:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.Event{}, fmt.Errorf("wire: Event.event_id: %w", protowire.ParseError(m))
			}
			e.EventID = v
			b = b[m:]
		case fnEventTimestamp:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return model.Event{}, fmt.Errorf("wire: Event.timestamp: %w", protowire.ParseError(m))
			}
			e.Timestamp = int64(v)
			b = b[m:]
		case fnEventType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return model.Event{}, fmt.Errorf("wire: Event.event_type: %w", protowire.ParseError(m))
			}
			e.Type = model.EventType(v)
			b = b[m:]
		case fnEventPurchase:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return model.Event{}, fmt.Errorf("wire: Event.purchase: %w", protowire.ParseError(m))
			}
			purchaseBytes = v
			b = b[m:]
		case fnEventProductView:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return model.Event{}, fmt.Errorf("wire: Event.product_view: %w", protowire.ParseError(m))
			}
			viewBytes = v
			b = b[m:]
		case fnEventInventoryUpdate:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return model.Event{}, fmt.Errorf("wire: Event.inventory_update: %w", protowire.ParseError(m))
			}
			invBytes = v
			b = b[m:]
		case fnEventUserRating:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return model.Event{}, fmt.Errorf("wire: Event.user_rating: %w", protowire.ParseError(m))
			}
			ratingBytes = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return model.Event{}, fmt.Errorf("wire: Event: bad unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}

	switch e.Type {
	case model.EventTypePurchase:
		if purchaseBytes == nil {
			return model.Event{}, fmt.Errorf("wire: Event type=PURCHASE missing purchase payload")
		}
		p, err := decodePurchase(purchaseBytes)
		if err != nil {
			return model.Event{}, err
		}
		e.Purchase = &p
	case model.EventTypeProductView:
		if viewBytes == nil {
			return model.Event{}, fmt.Errorf("wire: Event type=PRODUCT_VIEW missing product_view payload")
		}
		p, err := decodeProductView(viewBytes)
		if err != nil {
			return model.Event{}, err
		}
		e.ProductView = &p
	case model.EventTypeInventoryUpdate:
		if invBytes == nil {
			return model.Event{}, fmt.Errorf("wire: Event type=INVENTORY_UPDATE missing inventory_update payload")
		}
		p, err := decodeInventoryUpdate(invBytes)
		if err != nil {
			return model.Event{}, err
		}
		e.InventoryUpdate = &p
	case model.EventTypeUserRating:
		if ratingBytes == nil {
			return model.Event{}, fmt.Errorf("wire: Event type=USER_RATING missing user_rating payload")
		}
		p, err := decodeUserRating(ratingBytes)
		if err != nil {
			return model.Event{}, err
		}
		e.UserRating = &p
	default:
		return model.Event{}, fmt.Errorf("wire: unknown event type %d", e.Type)
	}
	return e, nil
}

// Purchase field numbers: 1=user_id 2=product_id 3=category 4=price
// 5=quantity 6=warehouse_id
const (
	fnPurchaseUserID      protowire.Number = 1
	fnPurchaseProductID   protowire.Number = 2
	fnPurchaseCategory    protowire.Number = 3
	fnPurchasePrice       protowire.Number = 4
	fnPurchaseQuantity    protowire.Number = 5
	fnPurchaseWarehouseID protowire.Number = 6
)

func encodePurchase(p model.Purchase) []byte {
	var b []byte
	b = appendStringField(b, fnPurchaseUserID, p.UserID)
	b = appendStringField(b, fnPurchaseProductID, p.ProductID)
	b = appendStringField(b, fnPurchaseCategory, p.Category)
	b = appendDoubleField(b, fnPurchasePrice, p.Price)
	b = appendVarintField(b, fnPurchaseQuantity, uint64(p.Quantity))
	b = appendStringField(b, fnPurchaseWarehouseID, p.WarehouseID)
	return b
}

func decodePurchase(data []byte) (model.Purchase, error) {
	var p model.Purchase
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.Purchase{}, fmt.Errorf("wire: Purchase: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fnPurchaseUserID:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.Purchase{}, fmt.Errorf("wire: Purchase.user_id: %w", protowire.ParseError(m))
			}
			p.UserID = v
			b = b[m:]
		case fnPurchaseProductID:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.Purchase{}, fmt.Errorf("wire: Purchase.product_id: %w", protowire.ParseError(m))
			}
			p.ProductID = v
			b = b[m:]
		case fnPurchaseCategory:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.Purchase{}, fmt.Errorf("wire: Purchase.category: %w", protowire.ParseError(m))
			}
			p.Category = v
			b = b[m:]
		case fnPurchasePrice:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return model.Purchase{}, fmt.Errorf("wire: Purchase.price: %w", protowire.ParseError(m))
			}
			p.Price = fixed64ToFloat64(v)
			b = b[m:]
		case fnPurchaseQuantity:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return model.Purchase{}, fmt.Errorf("wire: Purchase.quantity: %w", protowire.ParseError(m))
			}
			p.Quantity = int32(v)
			b = b[m:]
		case fnPurchaseWarehouseID:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.Purchase{}, fmt.Errorf("wire: Purchase.warehouse_id: %w", protowire.ParseError(m))
			}
			p.WarehouseID = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return model.Purchase{}, fmt.Errorf("wire: Purchase: bad unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return p, nil
}

// ProductView field numbers: 1=user_id 2=product_id 3=category
// 4=view_duration 5=source
const (
	fnViewUserID       protowire.Number = 1
	fnViewProductID    protowire.Number = 2
	fnViewCategory     protowire.Number = 3
	fnViewViewDuration protowire.Number = 4
	fnViewSource       protowire.Number = 5
)

func encodeProductView(p model.ProductView) []byte {
	var b []byte
	b = appendStringField(b, fnViewUserID, p.UserID)
	b = appendStringField(b, fnViewProductID, p.ProductID)
	b = appendStringField(b, fnViewCategory, p.Category)
	b = appendVarintField(b, fnViewViewDuration, uint64(p.ViewDuration))
	b = appendStringField(b, fnViewSource, p.Source)
	return b
}

func decodeProductView(data []byte) (model.ProductView, error) {
	var p model.ProductView
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.ProductView{}, fmt.Errorf("wire: ProductView: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fnViewUserID:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.ProductView{}, fmt.Errorf("wire: ProductView.user_id: %w", protowire.ParseError(m))
			}
			p.UserID = v
			b = b[m:]
		case fnViewProductID:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.ProductView{}, fmt.Errorf("wire: ProductView.product_id: %w", protowire.ParseError(m))
			}
			p.ProductID = v
			b = b[m:]
		case fnViewCategory:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.ProductView{}, fmt.Errorf("wire: ProductView.category: %w", protowire.ParseError(m))
			}
			p.Category = v
			b = b[m:]
		case fnViewViewDuration:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return model.ProductView{}, fmt.Errorf("wire: ProductView.view_duration: %w", protowire.ParseError(m))
			}
			p.ViewDuration = int32(v)
			b = b[m:]
		case fnViewSource:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.ProductView{}, fmt.Errorf("wire: ProductView.source: %w", protowire.ParseError(m))
			}
			p.Source = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return model.ProductView{}, fmt.Errorf("wire: ProductView: bad unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return p, nil
}

// InventoryUpdate field numbers: 1=product_id 2=category 3=stock_level
// 4=warehouse_id 5=operation
const (
	fnInvProductID   protowire.Number = 1
	fnInvCategory    protowire.Number = 2
	fnInvStockLevel  protowire.Number = 3
	fnInvWarehouseID protowire.Number = 4
	fnInvOperation   protowire.Number = 5
)

func encodeInventoryUpdate(p model.InventoryUpdate) []byte {
	var b []byte
	b = appendStringField(b, fnInvProductID, p.ProductID)
	b = appendStringField(b, fnInvCategory, p.Category)
	b = appendVarintField(b, fnInvStockLevel, uint64(p.StockLevel))
	b = appendStringField(b, fnInvWarehouseID, p.WarehouseID)
	b = appendStringField(b, fnInvOperation, p.Operation)
	return b
}

func decodeInventoryUpdate(data []byte) (model.InventoryUpdate, error) {
	var p model.InventoryUpdate
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.InventoryUpdate{}, fmt.Errorf("wire: InventoryUpdate: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fnInvProductID:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.InventoryUpdate{}, fmt.Errorf("wire: InventoryUpdate.product_id: %w", protowire.ParseError(m))
			}
			p.ProductID = v
			b = b[m:]
		case fnInvCategory:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.InventoryUpdate{}, fmt.Errorf("wire: InventoryUpdate.category: %w", protowire.ParseError(m))
			}
			p.Category = v
			b = b[m:]
		case fnInvStockLevel:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return model.InventoryUpdate{}, fmt.Errorf("wire: InventoryUpdate.stock_level: %w", protowire.ParseError(m))
			}
			p.StockLevel = int32(v)
			b = b[m:]
		case fnInvWarehouseID:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.InventoryUpdate{}, fmt.Errorf("wire: InventoryUpdate.warehouse_id: %w", protowire.ParseError(m))
			}
			p.WarehouseID = v
			b = b[m:]
		case fnInvOperation:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.InventoryUpdate{}, fmt.Errorf("wire: InventoryUpdate.operation: %w", protowire.ParseError(m))
			}
			p.Operation = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return model.InventoryUpdate{}, fmt.Errorf("wire: InventoryUpdate: bad unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return p, nil
}

// UserRating field numbers: 1=user_id 2=product_id 3=category 4=rating
// 5=review_text
const (
	fnRatingUserID     protowire.Number = 1
	fnRatingProductID  protowire.Number = 2
	fnRatingCategory   protowire.Number = 3
	fnRatingRating     protowire.Number = 4
	fnRatingReviewText protowire.Number = 5
)

func encodeUserRating(p model.UserRating) []byte {
	var b []byte
	b = appendStringField(b, fnRatingUserID, p.UserID)
	b = appendStringField(b, fnRatingProductID, p.ProductID)
	b = appendStringField(b, fnRatingCategory, p.Category)
	b = appendDoubleField(b, fnRatingRating, p.Rating)
	b = appendStringField(b, fnRatingReviewText, p.ReviewText)
	return b
}

func decodeUserRating(data []byte) (model.UserRating, error) {
	var p model.UserRating
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.UserRating{}, fmt.Errorf("wire: UserRating: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fnRatingUserID:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.UserRating{}, fmt.Errorf("wire: UserRating.user_id: %w", protowire.ParseError(m))
			}
			p.UserID = v
			b = b[m:]
		case fnRatingProductID:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.UserRating{}, fmt.Errorf("wire: UserRating.product_id: %w", protowire.ParseError(m))
			}
			p.ProductID = v
			b = b[m:]
		case fnRatingCategory:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.UserRating{}, fmt.Errorf("wire: UserRating.category: %w", protowire.ParseError(m))
			}
			p.Category = v
			b = b[m:]
		case fnRatingRating:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return model.UserRating{}, fmt.Errorf("wire: UserRating.rating: %w", protowire.ParseError(m))
			}
			p.Rating = fixed64ToFloat64(v)
			b = b[m:]
		case fnRatingReviewText:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return model.UserRating{}, fmt.Errorf("wire: UserRating.review_text: %w", protowire.ParseError(m))
			}
			p.ReviewText = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return model.UserRating{}, fmt.Errorf("wire: UserRating: bad unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return p, nil
}
