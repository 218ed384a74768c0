package stream

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDropOldestPolicyForMarketData(t *testing.T) {
	assert.Equal(t, dropOldest, policyFor(ChannelTick))
	assert.Equal(t, dropOldest, policyFor(ChannelDepth))
	assert.Equal(t, blockWithTimeout, policyFor(ChannelOrderStatus))
}

func TestConsumerDropsOldestOnOverflow(t *testing.T) {
	received := make(chan Frame, 8)
	cs := newConsumer(1, ChannelTick, "AKBNK", func(f Frame) { received <- f }, 2, time.Second)

	// fill the queue before the dispatch goroutine runs
	for i := int64(1); i <= 4; i++ {
		cs.enqueue(Frame{Type: FrameTick, Tick: &Tick{Symbol: "AKBNK", LastPrice: decimal.NewFromInt(i)}})
	}
	go cs.run()
	defer cs.close(nil)

	// the two oldest ticks were displaced
	f := <-received
	assert.Equal(t, "3", f.Tick.LastPrice.String())
	f = <-received
	assert.Equal(t, "4", f.Tick.LastPrice.String())
	select {
	case f = <-received:
		t.Fatalf("unexpected frame %v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowOrderConsumerIsDisconnected(t *testing.T) {
	var disconnected *consumer
	var disconnectErr error

	block := make(chan struct{})
	cs := newConsumer(1, ChannelOrderStatus, "AKBNK", func(Frame) { <-block }, 1, 20*time.Millisecond)
	cs.onDisconnect = func(c *consumer, err error) {
		disconnected = c
		disconnectErr = err
	}
	go cs.run()
	defer close(block)

	frame := Frame{Type: FrameOrderStatus, Order: &OrderUpdate{Symbol: "AKBNK"}}
	cs.enqueue(frame) // handler picks this up and blocks
	cs.enqueue(frame) // fills the queue
	cs.enqueue(frame) // must block, time out, and kill the consumer

	select {
	case <-cs.Done():
	case <-time.After(time.Second):
		t.Fatal("slow consumer was not disconnected")
	}
	require.Same(t, cs, disconnected)
	assert.ErrorIs(t, disconnectErr, ErrSlowConsumer)
	assert.ErrorIs(t, cs.Err(), ErrSlowConsumer)
}

func TestConsumerErrNilAfterPlainClose(t *testing.T) {
	cs := newConsumer(1, ChannelTick, "AKBNK", func(Frame) {}, 1, time.Second)
	go cs.run()
	assert.NoError(t, cs.Err())
	cs.close(nil)
	<-cs.Done()
	assert.NoError(t, cs.Err())
}

func TestEnqueueAfterCloseIsNoop(t *testing.T) {
	cs := newConsumer(1, ChannelTick, "AKBNK", func(Frame) {}, 1, time.Second)
	cs.close(nil)
	cs.enqueue(Frame{Type: FrameTick, Tick: &Tick{Symbol: "AKBNK"}})
	assert.Empty(t, cs.queue)
}
