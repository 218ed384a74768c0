package stream

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// channelOrder fixes the emission order of merged frames when several
// channels are rehydrated at once.
var channelOrder = []Channel{ChannelTick, ChannelDepth, ChannelOrderStatus}

// Subscription is a live registration of one handler on one (channel,
// symbol) pair. It stays valid until Unsubscribe or until the client
// disconnects the consumer for being too slow.
type Subscription struct {
	mux *muxer
	cs  *consumer
}

// Channel returns the subscribed channel.
func (s *Subscription) Channel() Channel { return s.cs.channel }

// Symbol returns the subscribed symbol, possibly SymbolAll.
func (s *Subscription) Symbol() string { return s.cs.symbol }

// Done is closed once the subscription stops delivering frames.
func (s *Subscription) Done() <-chan struct{} { return s.cs.Done() }

// Err reports why the subscription ended; nil after a plain
// Unsubscribe, ErrSlowConsumer after a forced disconnect.
func (s *Subscription) Err() error { return s.cs.Err() }

// muxer tracks the union of all consumer subscriptions per channel and
// keeps the server-side set equal to it. The server replaces its whole
// per-channel set on every subscribe frame, so each emitted frame
// carries the complete desired set.
type muxer struct {
	logger Logger

	// send hands a marshaled frame to the connection writer.
	send func(msg []byte) error
	// hash returns the session hash stamped into every frame.
	hash func() string

	queueSize    int
	blockTimeout time.Duration
	maxSymbols   int
	buffer       *Buffer

	mu sync.Mutex
	// symbol refcounts per channel: the bookkept union. ALL is kept in
	// here like any symbol so removing it restores the concrete set.
	sets map[Channel]map[string]int
	// consumer lists keyed by (channel, symbol)
	consumers map[Channel]map[string][]*consumer
	nextID    uint64
}

func newMuxer(o *options, buffer *Buffer, send func([]byte) error, hash func() string) *muxer {
	return &muxer{
		logger:       o.logger,
		send:         send,
		hash:         hash,
		queueSize:    o.consumerQueueSize,
		blockTimeout: o.blockTimeout,
		maxSymbols:   o.maxSymbolsPerSet,
		buffer:       buffer,
		sets:         make(map[Channel]map[string]int),
		consumers:    make(map[Channel]map[string][]*consumer),
	}
}

// subscribe registers handler on (ch, symbol) and reissues the merged
// frame when the wire-visible set changed.
func (m *muxer) subscribe(ch Channel, symbol string, handler Handler) (*Subscription, error) {
	if !ch.valid() {
		return nil, ErrInvalidChannel
	}
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, ErrInvalidSymbol
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	m.mu.Lock()
	m.nextID++
	cs := newConsumer(m.nextID, ch, symbol, handler, m.queueSize, m.blockTimeout)
	cs.onDisconnect = m.dropSlowConsumer

	if m.consumers[ch] == nil {
		m.consumers[ch] = make(map[string][]*consumer)
	}
	m.consumers[ch][symbol] = append(m.consumers[ch][symbol], cs)

	before := m.wireSymbolsLocked(ch)
	if m.sets[ch] == nil {
		m.sets[ch] = make(map[string]int)
	}
	m.sets[ch][symbol]++
	after := m.wireSymbolsLocked(ch)
	frame := m.frameIfChangedLocked(ch, before, after)
	m.mu.Unlock()

	if m.buffer != nil {
		m.buffer.retain(ch, symbol)
	}
	go cs.run()

	if frame != nil {
		if err := m.send(frame); err != nil {
			m.logger.Warnf("algolab stream: subscribe frame not sent, will go out on reconnect: %v", err)
		}
	}
	return &Subscription{mux: m, cs: cs}, nil
}

// unsubscribe removes the subscription and reissues the merged frame
// when the wire-visible set shrank. Unsubscribing twice returns
// ErrSubscriptionClosed.
func (m *muxer) unsubscribe(s *Subscription) error {
	if s == nil || s.mux != m {
		return ErrSubscriptionClosed
	}
	frame, err := m.remove(s.cs)
	if err != nil {
		return err
	}
	s.cs.close(nil)
	if frame != nil {
		if err := m.send(frame); err != nil {
			m.logger.Warnf("algolab stream: unsubscribe frame not sent, will go out on reconnect: %v", err)
		}
	}
	return nil
}

// dropSlowConsumer is invoked from a dispatch path when a blocking
// enqueue timed out. The consumer is detached like an unsubscribe; the
// caller closes it with ErrSlowConsumer.
func (m *muxer) dropSlowConsumer(cs *consumer, err error) {
	m.logger.Errorf("algolab stream: disconnecting consumer %d on %s/%s: %v", cs.id, cs.channel, cs.symbol, err)
	frame, rerr := m.remove(cs)
	if rerr != nil {
		return
	}
	if frame != nil {
		if serr := m.send(frame); serr != nil {
			m.logger.Warnf("algolab stream: unsubscribe frame not sent, will go out on reconnect: %v", serr)
		}
	}
}

// remove detaches cs from the handler lists and the symbol union,
// returning the merged frame to emit when the wire set changed.
func (m *muxer) remove(cs *consumer) ([]byte, error) {
	m.mu.Lock()
	defer func() {
		m.mu.Unlock()
		if m.buffer != nil {
			m.buffer.release(cs.channel, cs.symbol)
		}
	}()

	list := m.consumers[cs.channel][cs.symbol]
	idx := -1
	for i, other := range list {
		if other == cs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrSubscriptionClosed
	}
	list = append(list[:idx], list[idx+1:]...)
	if len(list) == 0 {
		delete(m.consumers[cs.channel], cs.symbol)
	} else {
		m.consumers[cs.channel][cs.symbol] = list
	}

	before := m.wireSymbolsLocked(cs.channel)
	if set := m.sets[cs.channel]; set != nil {
		set[cs.symbol]--
		if set[cs.symbol] <= 0 {
			delete(set, cs.symbol)
		}
	}
	after := m.wireSymbolsLocked(cs.channel)
	return m.frameIfChangedLocked(cs.channel, before, after), nil
}

// wireSymbolsLocked is the set as the server should see it: sorted,
// collapsed to ALL when ALL is subscribed or when the union exceeds
// the per-frame cap. An empty union yields an empty (non-nil) slice,
// which on the wire clears the channel.
func (m *muxer) wireSymbolsLocked(ch Channel) []string {
	set := m.sets[ch]
	if _, ok := set[SymbolAll]; ok {
		return []string{SymbolAll}
	}
	if len(set) > m.maxSymbols {
		// every frame replaces the whole server-side set, so chunking
		// would keep only the last chunk alive. Fall back to ALL and let
		// client-side dispatch filter.
		return []string{SymbolAll}
	}
	symbols := make([]string, 0, len(set))
	for sym := range set {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

func equalSymbols(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// frameIfChangedLocked marshals the merged frame for ch when the wire
// set moved from before to after, nil otherwise.
func (m *muxer) frameIfChangedLocked(ch Channel, before, after []string) []byte {
	if equalSymbols(before, after) {
		return nil
	}
	return marshalSubscribe(m.hash(), ch, after)
}

func marshalHeartbeat(hash string) []byte {
	data, err := json.Marshal(heartbeatMessage{Type: "H", Token: hash})
	if err != nil {
		return nil
	}
	return data
}

func marshalSubscribe(hash string, ch Channel, symbols []string) []byte {
	if symbols == nil {
		symbols = []string{}
	}
	data, err := json.Marshal(subscribeMessage{
		Token:   hash,
		Type:    ch,
		Symbols: symbols,
	})
	if err != nil {
		// subscribeMessage contains only strings, this cannot happen
		panic(err)
	}
	return data
}

// snapshot returns the merged frame of every channel with at least one
// live consumer, in fixed channel order. The client replays these
// right after (re)connecting, before any inbound application frame is
// dispatched.
func (m *muxer) snapshot() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var frames [][]byte
	for _, ch := range channelOrder {
		if len(m.sets[ch]) == 0 {
			continue
		}
		frames = append(frames, marshalSubscribe(m.hash(), ch, m.wireSymbolsLocked(ch)))
	}
	return frames
}

// closeAll stops every consumer with err. Called once when the client
// terminates.
func (m *muxer) closeAll(err error) {
	m.mu.Lock()
	var all []*consumer
	for _, bySymbol := range m.consumers {
		for _, list := range bySymbol {
			all = append(all, list...)
		}
	}
	m.consumers = make(map[Channel]map[string][]*consumer)
	m.sets = make(map[Channel]map[string]int)
	m.mu.Unlock()

	for _, cs := range all {
		cs.close(err)
	}
}

// dispatch fans a decoded frame out to the consumers of its (channel,
// symbol) pair and of (channel, ALL). Consumer queues decouple slow
// handlers from this path; the lock is never held across an enqueue.
func (m *muxer) dispatch(f Frame) {
	ch, symbol, ok := f.key()
	if !ok {
		return
	}

	m.mu.Lock()
	bySymbol := m.consumers[ch]
	targets := make([]*consumer, 0, len(bySymbol[symbol])+len(bySymbol[SymbolAll]))
	targets = append(targets, bySymbol[symbol]...)
	if symbol != SymbolAll {
		targets = append(targets, bySymbol[SymbolAll]...)
	}
	m.mu.Unlock()

	for _, cs := range targets {
		cs.enqueue(f)
	}
}
