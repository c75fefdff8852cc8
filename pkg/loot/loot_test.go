package loot_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-loot-relay/pkg/loot"
)

func TestTopItem(t *testing.T) {
	t.Run("Picks highest stack value", func(t *testing.T) {
		items := []loot.Item{
			{Name: "Rune scimitar", Quantity: 1, PriceEach: 100},
			{Name: "Bones", Quantity: 3, PriceEach: 50},
		}

		top := loot.TopItem(items)
		require.NotNil(t, top)
		assert.Equal(t, "Bones", top.Name)
		assert.Equal(t, int64(150), top.TotalValue())
	})

	t.Run("Ties go to first occurrence", func(t *testing.T) {
		items := []loot.Item{
			{Name: "First", Quantity: 1, PriceEach: 150},
			{Name: "Second", Quantity: 3, PriceEach: 50},
		}

		top := loot.TopItem(items)
		require.NotNil(t, top)
		assert.Equal(t, "First", top.Name)
	})

	t.Run("Empty input yields nil", func(t *testing.T) {
		assert.Nil(t, loot.TopItem(nil))
		assert.Nil(t, loot.TopItem([]loot.Item{}))
	})

	t.Run("Missing fields get client defaults", func(t *testing.T) {
		items := []loot.Item{
			{Name: "", Quantity: 0, PriceEach: -5},
		}

		top := loot.TopItem(items)
		require.NotNil(t, top)
		assert.Equal(t, "Unknown", top.Name)
		assert.Equal(t, int64(1), top.Quantity)
		assert.Equal(t, int64(0), top.TotalValue())
	})
}

func TestNewDropMessage(t *testing.T) {
	at := time.Date(2026, 8, 29, 15, 4, 5, 0, time.UTC)
	item := loot.Item{Name: "Dragon bones", Quantity: 4, PriceEach: 2600}

	t.Run("With source", func(t *testing.T) {
		msg := loot.NewDropMessage(item, "Vorkath", at, "osrs_notifications")

		assert.Equal(t, "OSRS Drop!", msg.Title)
		assert.Equal(t, "4x Dragon bones (10,400 gp) from Vorkath at 15:04:05", msg.Body)
		assert.Equal(t, "osrs_notifications", msg.ChannelID)
	})

	t.Run("Without source", func(t *testing.T) {
		msg := loot.NewDropMessage(item, "", at, "osrs_notifications")
		assert.Equal(t, "4x Dragon bones (10,400 gp) at 15:04:05", msg.Body)
	})

	t.Run("Large values are digit grouped", func(t *testing.T) {
		rich := loot.Item{Name: "Twisted bow", Quantity: 1, PriceEach: 1_234_567_890}
		msg := loot.NewDropMessage(rich, "", at, "c")
		assert.Contains(t, msg.Body, "1,234,567,890 gp")
	})
}
