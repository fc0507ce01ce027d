package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventbroker/internal/model"
)

func TestRandomGenerator_ProducesValidCategorizedEvents(t *testing.T) {
	g := NewRandomGenerator()
	seenTypes := make(map[model.EventType]bool)

	for i := 0; i < 200; i++ {
		ev := g.Next()
		cat, ok := ev.Category()
		require.True(t, ok)
		assert.Contains(t, g.Categories, cat)
		seenTypes[ev.Type] = true
	}

	assert.True(t, seenTypes[model.EventTypePurchase])
	assert.True(t, seenTypes[model.EventTypeProductView])
	assert.True(t, seenTypes[model.EventTypeInventoryUpdate])
	assert.True(t, seenTypes[model.EventTypeUserRating])
}

func TestMaxBurst_AtLeastOne(t *testing.T) {
	assert.Equal(t, 1, maxBurst(0.5))
	assert.Equal(t, 10, maxBurst(10))
}
