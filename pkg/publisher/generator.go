package publisher

import (
	"fmt"
	"math/rand"

	"eventbroker/internal/model"
)

// RandomGenerator is the default pluggable Generator: it draws a random
// event variant, category, and field values each call, giving subscriber
// tests a realistic mix without requiring a fixture file.
type RandomGenerator struct {
	Categories   []string
	Warehouses   []string
	ProductCount int
	UserCount    int
}

// NewRandomGenerator returns a generator with a reasonable default
// category/warehouse/product/user universe.
func NewRandomGenerator() *RandomGenerator {
	return &RandomGenerator{
		Categories:   []string{"electronics", "apparel", "home", "books", "toys"},
		Warehouses:   []string{"wh-east", "wh-west", "wh-central"},
		ProductCount: 200,
		UserCount:    500,
	}
}

func (g *RandomGenerator) category() string   { return g.Categories[rand.Intn(len(g.Categories))] }
func (g *RandomGenerator) warehouse() string  { return g.Warehouses[rand.Intn(len(g.Warehouses))] }
func (g *RandomGenerator) productID() string  { return fmt.Sprintf("prod-%d", rand.Intn(g.ProductCount)) }
func (g *RandomGenerator) userID() string     { return fmt.Sprintf("user-%d", rand.Intn(g.UserCount)) }

// Next produces a random event, uniformly across the four variants.
func (g *RandomGenerator) Next() model.Event {
	switch rand.Intn(4) {
	case 0:
		return model.NewPurchaseEvent("", 0, model.Purchase{
			UserID:      g.userID(),
			ProductID:   g.productID(),
			Category:    g.category(),
			Price:       roundCents(rand.Float64() * 500),
			Quantity:    int32(1 + rand.Intn(5)),
			WarehouseID: g.warehouse(),
		})
	case 1:
		return model.NewProductViewEvent("", 0, model.ProductView{
			UserID:       g.userID(),
			ProductID:    g.productID(),
			Category:     g.category(),
			ViewDuration: int32(1 + rand.Intn(300)),
			Source:       []string{"search", "recommendation", "direct"}[rand.Intn(3)],
		})
	case 2:
		return model.NewInventoryUpdateEvent("", 0, model.InventoryUpdate{
			ProductID:   g.productID(),
			Category:    g.category(),
			StockLevel:  int32(rand.Intn(1000)),
			WarehouseID: g.warehouse(),
			Operation:   []string{"restock", "sale", "adjustment"}[rand.Intn(3)],
		})
	default:
		return model.NewUserRatingEvent("", 0, model.UserRating{
			UserID:     g.userID(),
			ProductID:  g.productID(),
			Category:   g.category(),
			Rating:     float64(1 + rand.Intn(5)),
			ReviewText: "",
		})
	}
}

func roundCents(v float64) float64 {
	return float64(int64(v*100)) / 100
}
