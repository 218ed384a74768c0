package stream

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBuffer() *Buffer {
	o := defaultOptions()
	b := &Buffer{
		orderDepth:   o.orderHistoryDepth,
		idleEvictTTL: o.idleEvictTTL,
		now:          time.Now,
		entries:      make(map[bufferKey]*bufferEntry),
		stopCh:       make(chan struct{}),
	}
	// no janitor: eviction is driven explicitly by the tests
	return b
}

func storedTick(symbol string, price int64) Frame {
	return Frame{Type: FrameTick, Tick: &Tick{
		Symbol:    symbol,
		LastPrice: decimal.NewFromInt(price),
	}}
}

func TestBufferKeepsLastTick(t *testing.T) {
	b := testBuffer()
	b.store(storedTick("AKBNK", 10))
	b.store(storedTick("AKBNK", 11))
	b.store(storedTick("THYAO", 300))

	tick, ok := b.LastTick("AKBNK")
	require.True(t, ok)
	assert.Equal(t, "11", tick.LastPrice.String())

	tick, ok = b.LastTick("THYAO")
	require.True(t, ok)
	assert.Equal(t, "300", tick.LastPrice.String())

	_, ok = b.LastTick("GARAN")
	assert.False(t, ok)
}

func TestBufferKeepsOrderHistory(t *testing.T) {
	b := testBuffer()
	b.orderDepth = 3

	for i := 1; i <= 5; i++ {
		b.store(Frame{Type: FrameOrderStatus, Order: &OrderUpdate{
			Symbol:  "AKBNK",
			TradeID: fmt.Sprintf("t%d", i),
		}})
	}

	updates := b.RecentOrderUpdates("AKBNK")
	require.Len(t, updates, 3)
	// ring keeps the newest entries, oldest first
	assert.Equal(t, "t3", updates[0].TradeID)
	assert.Equal(t, "t5", updates[2].TradeID)
}

func TestBufferEvictsIdleUnreferencedEntries(t *testing.T) {
	b := testBuffer()
	b.idleEvictTTL = time.Minute

	now := time.Now()
	b.now = func() time.Time { return now }

	b.store(storedTick("AKBNK", 10))
	b.store(storedTick("THYAO", 20))
	b.retain(ChannelTick, "THYAO")

	now = now.Add(2 * time.Minute)
	b.evictIdle()

	// unreferenced and unread past the TTL
	_, ok := b.LastTick("AKBNK")
	assert.False(t, ok)
	// still referenced by a subscription
	_, ok = b.LastTick("THYAO")
	assert.True(t, ok)
}

func TestBufferReadResetsIdleClock(t *testing.T) {
	b := testBuffer()
	b.idleEvictTTL = time.Minute

	now := time.Now()
	b.now = func() time.Time { return now }

	b.store(storedTick("AKBNK", 10))

	now = now.Add(45 * time.Second)
	_, ok := b.LastTick("AKBNK")
	require.True(t, ok)

	now = now.Add(45 * time.Second)
	b.evictIdle()

	// the read 45s ago keeps the entry alive
	_, ok = b.LastTick("AKBNK")
	assert.True(t, ok)
}

func TestBufferReleaseMakesEntryEvictable(t *testing.T) {
	b := testBuffer()
	b.idleEvictTTL = time.Minute

	now := time.Now()
	b.now = func() time.Time { return now }

	b.retain(ChannelTick, "AKBNK")
	b.store(storedTick("AKBNK", 10))
	b.release(ChannelTick, "AKBNK")

	now = now.Add(2 * time.Minute)
	b.evictIdle()

	_, ok := b.LastTick("AKBNK")
	assert.False(t, ok)
}

func TestBufferAllSubscriptionPinsNothing(t *testing.T) {
	b := testBuffer()
	b.retain(ChannelTick, SymbolAll)
	assert.Empty(t, b.entries)
}
