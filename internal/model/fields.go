package model

// FieldKind is the declared type of a field as seen by the matcher's
// operator dispatch: string fields only support EQ/NE, numeric fields
// support the full six-operator set.
type FieldKind int

const (
	FieldKindString FieldKind = iota
	FieldKindNumeric
)

// fieldAccessor extracts a field's value from an event. String fields
// return (value, true); numeric fields return the value pre-coerced to
// float64, true. ok=false means the field does not exist on this event's
// variant (never on the type — the registry is closed per variant).
type fieldAccessor struct {
	kind       FieldKind
	stringFn   func(Event) (string, bool)
	numericFn  func(Event) (float64, bool)
}

// fieldRegistry is the closed (variant, field_name) -> accessor map the
// matcher uses instead of dynamic/reflective field lookup. Unknown names
// simply aren't present, which callers treat as "condition is false",
// never as an error: field coercion/absence never fails the event.
var fieldRegistry = map[EventType]map[string]fieldAccessor{
	EventTypePurchase: {
		"user_id":      {kind: FieldKindString, stringFn: func(e Event) (string, bool) { return e.Purchase.UserID, e.Purchase != nil }},
		"product_id":   {kind: FieldKindString, stringFn: func(e Event) (string, bool) { return e.Purchase.ProductID, e.Purchase != nil }},
		"category":     {kind: FieldKindString, stringFn: func(e Event) (string, bool) { return e.Purchase.Category, e.Purchase != nil }},
		"warehouse_id": {kind: FieldKindString, stringFn: func(e Event) (string, bool) { return e.Purchase.WarehouseID, e.Purchase != nil }},
		"price":        {kind: FieldKindNumeric, numericFn: func(e Event) (float64, bool) { return e.Purchase.Price, e.Purchase != nil }},
		"quantity":     {kind: FieldKindNumeric, numericFn: func(e Event) (float64, bool) { return float64(e.Purchase.Quantity), e.Purchase != nil }},
	},
	EventTypeProductView: {
		"user_id":       {kind: FieldKindString, stringFn: func(e Event) (string, bool) { return e.ProductView.UserID, e.ProductView != nil }},
		"product_id":    {kind: FieldKindString, stringFn: func(e Event) (string, bool) { return e.ProductView.ProductID, e.ProductView != nil }},
		"category":      {kind: FieldKindString, stringFn: func(e Event) (string, bool) { return e.ProductView.Category, e.ProductView != nil }},
		"source":        {kind: FieldKindString, stringFn: func(e Event) (string, bool) { return e.ProductView.Source, e.ProductView != nil }},
		"view_duration": {kind: FieldKindNumeric, numericFn: func(e Event) (float64, bool) { return float64(e.ProductView.ViewDuration), e.ProductView != nil }},
	},
	EventTypeInventoryUpdate: {
		"product_id":   {kind: FieldKindString, stringFn: func(e Event) (string, bool) { return e.InventoryUpdate.ProductID, e.InventoryUpdate != nil }},
		"category":     {kind: FieldKindString, stringFn: func(e Event) (string, bool) { return e.InventoryUpdate.Category, e.InventoryUpdate != nil }},
		"warehouse_id": {kind: FieldKindString, stringFn: func(e Event) (string, bool) { return e.InventoryUpdate.WarehouseID, e.InventoryUpdate != nil }},
		"operation":    {kind: FieldKindString, stringFn: func(e Event) (string, bool) { return e.InventoryUpdate.Operation, e.InventoryUpdate != nil }},
		"stock_level":  {kind: FieldKindNumeric, numericFn: func(e Event) (float64, bool) { return float64(e.InventoryUpdate.StockLevel), e.InventoryUpdate != nil }},
	},
	EventTypeUserRating: {
		"user_id":     {kind: FieldKindString, stringFn: func(e Event) (string, bool) { return e.UserRating.UserID, e.UserRating != nil }},
		"product_id":  {kind: FieldKindString, stringFn: func(e Event) (string, bool) { return e.UserRating.ProductID, e.UserRating != nil }},
		"category":    {kind: FieldKindString, stringFn: func(e Event) (string, bool) { return e.UserRating.Category, e.UserRating != nil }},
		"review_text": {kind: FieldKindString, stringFn: func(e Event) (string, bool) { return e.UserRating.ReviewText, e.UserRating != nil }},
		"rating":      {kind: FieldKindNumeric, numericFn: func(e Event) (float64, bool) { return e.UserRating.Rating, e.UserRating != nil }},
	},
}

// FieldKindOf reports the declared kind of a field for a given event
// type, and whether the field exists on that variant at all.
func FieldKindOf(t EventType, field string) (FieldKind, bool) {
	variant, ok := fieldRegistry[t]
	if !ok {
		return 0, false
	}
	acc, ok := variant[field]
	if !ok {
		return 0, false
	}
	return acc.kind, true
}

// StringField extracts a string-kind field. ok is false if the field
// doesn't exist on this event's variant or isn't string-kind.
func StringField(e Event, field string) (string, bool) {
	variant, ok := fieldRegistry[e.Type]
	if !ok {
		return "", false
	}
	acc, ok := variant[field]
	if !ok || acc.kind != FieldKindString {
		return "", false
	}
	return acc.stringFn(e)
}

// NumericField extracts a numeric-kind field as float64. ok is false if
// the field doesn't exist on this event's variant or isn't numeric-kind.
func NumericField(e Event, field string) (float64, bool) {
	variant, ok := fieldRegistry[e.Type]
	if !ok {
		return 0, false
	}
	acc, ok := variant[field]
	if !ok || acc.kind != FieldKindNumeric {
		return 0, false
	}
	return acc.numericFn(e)
}
