package services

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jaredcannon/device-metrics-hub/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolMailbox(t *testing.T) {
	t.Run("Poll is read-once and normalized", func(t *testing.T) {
		m := NewSymbolMailbox()
		_, err := m.Set("aapl")
		require.NoError(t, err)

		symbol, ok := m.Poll()
		assert.True(t, ok)
		assert.Equal(t, "AAPL", symbol)

		symbol, ok = m.Poll()
		assert.False(t, ok)
		assert.Empty(t, symbol)
	})

	t.Run("Last write wins", func(t *testing.T) {
		m := NewSymbolMailbox()
		_, err := m.Set("AAPL")
		require.NoError(t, err)
		_, err = m.Set("MSFT")
		require.NoError(t, err)

		symbol, ok := m.Poll()
		assert.True(t, ok)
		assert.Equal(t, "MSFT", symbol)

		_, ok = m.Poll()
		assert.False(t, ok)
	})

	t.Run("Invalid symbol leaves pending value untouched", func(t *testing.T) {
		m := NewSymbolMailbox()
		_, err := m.Set("AAPL")
		require.NoError(t, err)

		_, err = m.Set("  ")
		assert.ErrorIs(t, err, models.ErrValidation)
		_, err = m.Set("AA PL")
		assert.ErrorIs(t, err, models.ErrValidation)

		symbol, ok := m.Peek()
		assert.True(t, ok)
		assert.Equal(t, "AAPL", symbol)
	})

	t.Run("Peek does not drain", func(t *testing.T) {
		m := NewSymbolMailbox()
		_, ok := m.Peek()
		assert.False(t, ok)
		assert.Nil(t, m.Pending().Symbol)

		_, err := m.Set("goog")
		require.NoError(t, err)
		symbol, ok := m.Peek()
		assert.True(t, ok)
		assert.Equal(t, "GOOG", symbol)

		pending := m.Pending()
		require.NotNil(t, pending.Symbol)
		assert.Equal(t, "GOOG", *pending.Symbol)
		assert.NotNil(t, pending.SetAt)

		symbol, ok = m.Poll()
		assert.True(t, ok)
		assert.Equal(t, "GOOG", symbol)
	})

	t.Run("Concurrent polls deliver to exactly one caller", func(t *testing.T) {
		m := NewSymbolMailbox()
		_, err := m.Set("AAPL")
		require.NoError(t, err)

		var delivered int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok := m.Poll(); ok {
					atomic.AddInt32(&delivered, 1)
				}
			}()
		}
		wg.Wait()
		assert.EqualValues(t, 1, delivered)
	})

	t.Run("Broadcasts set and delivery", func(t *testing.T) {
		m := NewSymbolMailbox()
		rec := &recorder{}
		m.SetBroadcastFunc(rec.broadcast)

		_, err := m.Set("AAPL")
		require.NoError(t, err)
		m.Poll()
		m.Poll()
		assert.Equal(t, []string{"mailbox/symbol_set", "mailbox/symbol_delivered"}, rec.Events())
	})
}
