package stream

import (
	"sync"
	"time"
)

// Handler receives the frames of one subscription. It runs on the
// subscription's own dispatch goroutine, so a slow handler delays only
// its own queue.
type Handler func(Frame)

// overflowPolicy decides what happens when a consumer queue is full.
type overflowPolicy uint8

const (
	// dropOldest discards the oldest queued frame to make room. Market
	// data is time-valued, a newer tick supersedes a stale one.
	dropOldest overflowPolicy = iota
	// blockWithTimeout waits for the consumer up to blockTimeout and
	// disconnects it when the wait expires. Order events must never be
	// dropped silently.
	blockWithTimeout
)

func policyFor(ch Channel) overflowPolicy {
	if ch == ChannelOrderStatus {
		return blockWithTimeout
	}
	return dropOldest
}

// consumer is one registered subscription: a handler behind a bounded
// queue drained by a dedicated goroutine, so frames of one (channel,
// symbol) reach the handler in enqueue order.
type consumer struct {
	id      uint64
	channel Channel
	symbol  string
	handler Handler

	queue        chan Frame
	policy       overflowPolicy
	blockTimeout time.Duration

	// err records why the consumer was disconnected, nil on normal
	// unsubscribe. Set before done is closed.
	err      error
	done     chan struct{}
	doneOnce sync.Once

	// onDisconnect detaches the consumer from the multiplexer when the
	// dispatch side kills it (slow consumer).
	onDisconnect func(*consumer, error)
}

func newConsumer(id uint64, ch Channel, symbol string, handler Handler, queueSize int, blockTimeout time.Duration) *consumer {
	return &consumer{
		id:           id,
		channel:      ch,
		symbol:       symbol,
		handler:      handler,
		queue:        make(chan Frame, queueSize),
		policy:       policyFor(ch),
		blockTimeout: blockTimeout,
		done:         make(chan struct{}),
	}
}

// run drains the queue until the consumer is closed. Frames already
// queued when close happens are dropped; delivery is at-least-once
// across reconnects, not exactly-once across shutdown.
func (cs *consumer) run() {
	for {
		select {
		case <-cs.done:
			return
		case f := <-cs.queue:
			select {
			case <-cs.done:
				return
			default:
			}
			cs.handler(f)
		}
	}
}

// enqueue hands a frame to the consumer without ever blocking the
// dispatch path beyond the configured policy.
func (cs *consumer) enqueue(f Frame) {
	select {
	case <-cs.done:
		return
	default:
	}

	select {
	case cs.queue <- f:
		return
	default:
	}

	// queue full
	switch cs.policy {
	case dropOldest:
		select {
		case <-cs.queue:
		default:
		}
		select {
		case cs.queue <- f:
		case <-cs.done:
		default:
			// racing enqueuers refilled the queue, drop the frame
		}
	case blockWithTimeout:
		t := time.NewTimer(cs.blockTimeout)
		defer t.Stop()
		select {
		case cs.queue <- f:
		case <-cs.done:
		case <-t.C:
			if cs.onDisconnect != nil {
				cs.onDisconnect(cs, ErrSlowConsumer)
			}
			cs.close(ErrSlowConsumer)
		}
	}
}

// close stops the dispatch goroutine. Idempotent.
func (cs *consumer) close(err error) {
	cs.doneOnce.Do(func() {
		cs.err = err
		close(cs.done)
	})
}

// Done is closed when the consumer stops receiving frames, either by
// Unsubscribe or because it was disconnected as a slow consumer.
func (cs *consumer) Done() <-chan struct{} { return cs.done }

// Err reports why the consumer stopped; nil after a plain unsubscribe.
func (cs *consumer) Err() error {
	select {
	case <-cs.done:
		return cs.err
	default:
		return nil
	}
}
