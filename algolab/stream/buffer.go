package stream

import (
	"sync"
	"time"
)

type bufferKey struct {
	channel Channel
	symbol  string
}

// bufferEntry is a fixed-capacity ring of the most recent frames of
// one (channel, symbol) pair.
type bufferEntry struct {
	frames []Frame
	head   int
	count  int

	// refs counts live subscriptions on the key. Entries with refs > 0
	// are never evicted.
	refs     int
	lastUsed time.Time
}

func (e *bufferEntry) push(f Frame, now time.Time) {
	if e.count < len(e.frames) {
		e.frames[(e.head+e.count)%len(e.frames)] = f
		e.count++
	} else {
		e.frames[e.head] = f
		e.head = (e.head + 1) % len(e.frames)
	}
	e.lastUsed = now
}

// all returns the buffered frames oldest first.
func (e *bufferEntry) all() []Frame {
	out := make([]Frame, e.count)
	for i := 0; i < e.count; i++ {
		out[i] = e.frames[(e.head+i)%len(e.frames)]
	}
	return out
}

// Buffer keeps the last frames per (channel, symbol) so pull-style
// consumers (snapshot endpoints, health probes) can read the current
// state without holding a subscription. Tick and depth keep only the
// last value, order status keeps a short history.
type Buffer struct {
	orderDepth   int
	idleEvictTTL time.Duration
	now          func() time.Time

	mu      sync.Mutex
	entries map[bufferKey]*bufferEntry

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newBuffer(o *options) *Buffer {
	b := &Buffer{
		orderDepth:   o.orderHistoryDepth,
		idleEvictTTL: o.idleEvictTTL,
		now:          time.Now,
		entries:      make(map[bufferKey]*bufferEntry),
		stopCh:       make(chan struct{}),
	}
	go b.janitor()
	return b
}

func (b *Buffer) capacityFor(ch Channel) int {
	if ch == ChannelOrderStatus {
		return b.orderDepth
	}
	return 1
}

// store records a decoded data frame. Control frames are ignored.
func (b *Buffer) store(f Frame) {
	ch, symbol, ok := f.key()
	if !ok {
		return
	}
	key := bufferKey{channel: ch, symbol: symbol}

	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entries[key]
	if e == nil {
		e = &bufferEntry{frames: make([]Frame, b.capacityFor(ch))}
		b.entries[key] = e
	}
	e.push(f, b.now())
}

// retain pins the key against eviction while a subscription lives on
// it. A subscription on ALL pins nothing: concrete keys keep their own
// read-driven lifetime.
func (b *Buffer) retain(ch Channel, symbol string) {
	if symbol == SymbolAll {
		return
	}
	key := bufferKey{channel: ch, symbol: symbol}

	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entries[key]
	if e == nil {
		e = &bufferEntry{frames: make([]Frame, b.capacityFor(ch))}
		b.entries[key] = e
	}
	e.refs++
	e.lastUsed = b.now()
}

func (b *Buffer) release(ch Channel, symbol string) {
	if symbol == SymbolAll {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if e := b.entries[bufferKey{channel: ch, symbol: symbol}]; e != nil && e.refs > 0 {
		e.refs--
	}
}

// LastTick returns the most recent tick seen for symbol.
func (b *Buffer) LastTick(symbol string) (Tick, bool) {
	f, ok := b.last(ChannelTick, symbol)
	if !ok || f.Tick == nil {
		return Tick{}, false
	}
	return *f.Tick, true
}

// LastDepth returns the most recent order book state seen for symbol.
func (b *Buffer) LastDepth(symbol string) (Depth, bool) {
	f, ok := b.last(ChannelDepth, symbol)
	if !ok || f.Depth == nil {
		return Depth{}, false
	}
	return *f.Depth, true
}

// RecentOrderUpdates returns the buffered order events for symbol,
// oldest first.
func (b *Buffer) RecentOrderUpdates(symbol string) []OrderUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entries[bufferKey{channel: ChannelOrderStatus, symbol: symbol}]
	if e == nil {
		return nil
	}
	e.lastUsed = b.now()
	frames := e.all()
	updates := make([]OrderUpdate, 0, len(frames))
	for _, f := range frames {
		if f.Order != nil {
			updates = append(updates, *f.Order)
		}
	}
	return updates
}

func (b *Buffer) last(ch Channel, symbol string) (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entries[bufferKey{channel: ch, symbol: symbol}]
	if e == nil || e.count == 0 {
		return Frame{}, false
	}
	e.lastUsed = b.now()
	return e.frames[(e.head+e.count-1)%len(e.frames)], true
}

// janitor evicts keys that lost their last subscription and have not
// been read for idleEvictTTL.
func (b *Buffer) janitor() {
	t := time.NewTicker(b.idleEvictTTL / 2)
	defer t.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-t.C:
			b.evictIdle()
		}
	}
}

func (b *Buffer) evictIdle() {
	cutoff := b.now().Add(-b.idleEvictTTL)
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, e := range b.entries {
		if e.refs == 0 && e.lastUsed.Before(cutoff) {
			delete(b.entries, key)
		}
	}
}

// stop terminates the janitor goroutine. Idempotent.
func (b *Buffer) stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
}
