package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erdoganonur/bist-trading-platform-sub003/algolab"
	"github.com/erdoganonur/bist-trading-platform-sub003/internal/backoff"
)

// streamPath is the websocket endpoint. The Checker header is computed
// over this exact string.
const streamPath = "/ws"

// SessionSource supplies the session hash stamped into the handshake
// headers and every subscribe frame, and receives connectivity
// updates. *algolab.Coordinator implements it.
type SessionSource interface {
	Hash() string
	MarkStreamConnected(connected bool)
}

// EventType classifies stream lifecycle events.
type EventType uint8

const (
	// EventConnected fires after every successful connection setup,
	// including reconnects, once the subscription state is back on the
	// wire.
	EventConnected EventType = iota + 1
	// EventDisconnected fires when an established connection is lost.
	EventDisconnected
)

// Event is one observable stream lifecycle transition.
type Event struct {
	Type EventType
	// Attempt is the connection attempt that produced the event,
	// starting at 1.
	Attempt int
	Err     error
	At      time.Time
}

// Client maintains the single duplex connection to the vendor stream
// endpoint: signed handshake, heartbeat, reconnect with exponential
// backoff, and resubscription. Consumers attach through Subscribe and
// receive decoded frames on their own dispatch goroutines.
//
// Connect must be called exactly once; the connection is then kept
// alive until ctx is canceled or the configured reconnect limit is
// exhausted. A terminated client cannot be reused.
type Client struct {
	opts    options
	session SessionSource

	mux    *muxer
	buffer *Buffer

	connectOnce    sync.Once
	connectCalled  atomic.Bool
	terminatedChan chan error
	events         chan Event

	conn conn
	in   chan []byte
	out  chan []byte

	authFailed atomic.Bool
}

// NewClient returns a stream client bound to session. Nothing connects
// until Connect is called.
func NewClient(session SessionSource, opts ...Option) *Client {
	o := defaultOptions()
	o.apply(opts...)

	c := &Client{
		opts:           *o,
		session:        session,
		terminatedChan: make(chan error, 1),
		events:         make(chan Event, 16),
		out:            make(chan []byte, 64),
	}
	c.buffer = newBuffer(o)
	c.mux = newMuxer(o, c.buffer, c.enqueueControl, session.Hash)
	return c
}

// Connect establishes the connection and keeps reestablishing it on
// failure until ctx is canceled or the reconnect limit is reached. It
// blocks until the first connection attempt succeeded or failed for
// good. Should only be called once.
func (c *Client) Connect(ctx context.Context) error {
	err := ErrConnectCalledMultipleTimes
	c.connectOnce.Do(func() {
		initialResultCh := make(chan error)
		go c.maintainConnection(ctx, initialResultCh)
		err = <-initialResultCh
		if err != nil {
			c.terminatedChan <- err
			close(c.terminatedChan)
		}
		c.connectCalled.Store(true)
	})
	return err
}

// Terminated returns a channel that receives the terminal error (nil
// on user-initiated shutdown) and is then closed.
func (c *Client) Terminated() <-chan error {
	return c.terminatedChan
}

// Events returns the stream lifecycle events. The channel is never
// closed; events are dropped rather than blocking the connection loop
// when the receiver falls behind.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Buffer exposes the last-value store fed by this client.
func (c *Client) Buffer() *Buffer {
	return c.buffer
}

// Subscribe registers handler for frames of (ch, symbol) and brings
// the server-side subscription set in line. It never blocks beyond
// handing the merged frame to the connection writer.
func (c *Client) Subscribe(ch Channel, symbol string, handler Handler) (*Subscription, error) {
	if !c.connectCalled.Load() {
		return nil, ErrNotConnected
	}
	return c.mux.subscribe(ch, symbol, handler)
}

// Unsubscribe removes the subscription and shrinks the server-side set
// when it held the last reference to its symbol.
func (c *Client) Unsubscribe(s *Subscription) error {
	return c.mux.unsubscribe(s)
}

// enqueueTimeout bounds how long a subscribe frame may wait for a slot
// in the command queue. A healthy writer drains the queue well within
// it; a queue still full after this long means the connection is dead
// and the reconnect replay will carry the state instead.
var enqueueTimeout = 3 * time.Second

// enqueue hands an outbound frame to the connection writer. It never
// blocks; heartbeats use it, and a dropped heartbeat is made up for by
// the next tick.
func (c *Client) enqueue(msg []byte) error {
	select {
	case c.out <- msg:
		return nil
	default:
		return ErrNotConnected
	}
}

// enqueueControl hands a subscribe frame to the connection writer,
// waiting up to enqueueTimeout for a slot when the queue is full. Every
// subscribe frame replaces the whole server-side set, so one may not be
// dropped while the connection stays up.
func (c *Client) enqueueControl(msg []byte) error {
	select {
	case c.out <- msg:
		return nil
	default:
	}
	timer := time.NewTimer(enqueueTimeout)
	defer timer.Stop()
	select {
	case c.out <- msg:
		return nil
	case <-timer.C:
		return ErrNotConnected
	}
}

func (c *Client) emit(ev Event) {
	ev.At = time.Now()
	select {
	case c.events <- ev:
	default:
	}
}

func (c *Client) constructURL() (url.URL, error) {
	ub, err := url.Parse(c.opts.baseURL)
	if err != nil {
		return url.URL{}, err
	}
	scheme := "wss"
	switch ub.Scheme {
	case "http", "ws":
		scheme = "ws"
	}
	return url.URL{Scheme: scheme, Host: ub.Host, Path: ub.Path + streamPath}, nil
}

// handshakeHeader builds the signed header triple for the websocket
// upgrade, same contract as the REST side.
func (c *Client) handshakeHeader() http.Header {
	header := http.Header{}
	header.Set("APIKEY", c.opts.apiKey)
	if hash := c.session.Hash(); hash != "" {
		header.Set("Authorization", hash)
	}
	header.Set("Checker", algolab.Checker(c.opts.apiKey, c.opts.hostname, streamPath))
	return header
}

// maintainConnection dials, initializes and babysits the connection,
// redialing with jittered exponential backoff on every loss that is
// not a user shutdown. The first attempt's outcome goes to
// initialResultCh.
func (c *Client) maintainConnection(ctx context.Context, initialResultCh chan<- error) {
	var connError error
	failedAttemptsInARow := 0
	attempt := 0
	connectedAtLeastOnce := false

	defer func() {
		c.mux.closeAll(ErrTerminated)
		c.buffer.stop()
		if connectedAtLeastOnce {
			close(c.terminatedChan)
		}
	}()

	sendError := func(err error) {
		if !connectedAtLeastOnce {
			initialResultCh <- err
		} else {
			c.terminatedChan <- err
		}
	}

	u, err := c.constructURL()
	if err != nil {
		sendError(fmt.Errorf("invalid stream url: %w", err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			if !connectedAtLeastOnce {
				c.opts.logger.Warnf("algolab stream: canceled before connection could be established, last error: %v", connError)
				initialResultCh <- fmt.Errorf("canceled before connection could be established, last error: %w", connError)
			} else {
				c.terminatedChan <- nil
			}
			return
		default:
		}

		if c.opts.reconnectLimit != 0 && failedAttemptsInARow >= c.opts.reconnectLimit {
			c.opts.logger.Errorf("algolab stream: reconnect limit reached, last error: %v", connError)
			sendError(fmt.Errorf("reconnect limit reached, last error: %w", connError))
			return
		}
		if failedAttemptsInARow > 0 {
			delay := backoff.Delay(failedAttemptsInARow-1,
				c.opts.reconnectInitial, c.opts.reconnectMultiplier, c.opts.reconnectMax, 0.2)
			if err := backoff.Sleep(ctx, delay); err != nil {
				continue
			}
		}
		failedAttemptsInARow++
		attempt++
		c.opts.logger.Infof("algolab stream: connecting to %s, attempt %d", u.String(), attempt)

		conn, err := c.opts.connCreator(ctx, u, c.handshakeHeader())
		if err != nil {
			connError = err
			if errors.Is(err, ErrAuthRejected) {
				c.opts.logger.Errorf("algolab stream: %v", err)
				sendError(err)
				return
			}
			c.opts.logger.Warnf("algolab stream: failed to connect: %v", err)
			continue
		}
		c.conn = conn

		if err := c.initialize(ctx); err != nil {
			connError = err
			c.conn.close()
			c.opts.logger.Warnf("algolab stream: connection setup failed: %v", err)
			continue
		}

		c.opts.logger.Infof("algolab stream: connected, subscription state restored")
		connError = nil
		failedAttemptsInARow = 0
		c.session.MarkStreamConnected(true)
		c.emit(Event{Type: EventConnected, Attempt: attempt})
		if !connectedAtLeastOnce {
			initialResultCh <- nil
			connectedAtLeastOnce = true
		}

		c.in = make(chan []byte, c.opts.bufferSize)
		wg := sync.WaitGroup{}
		wg.Add(c.opts.processorCount + 3)
		closeCh := make(chan struct{})
		for i := 0; i < c.opts.processorCount; i++ {
			go c.frameProcessor(ctx, &wg)
		}
		go c.connPinger(ctx, &wg, closeCh)
		go c.connReader(ctx, &wg, closeCh)
		go c.connWriter(ctx, &wg, closeCh)
		wg.Wait()

		c.session.MarkStreamConnected(false)
		if ctx.Err() != nil {
			c.opts.logger.Infof("algolab stream: disconnected")
		} else {
			c.opts.logger.Warnf("algolab stream: connection lost")
			c.emit(Event{Type: EventDisconnected, Attempt: attempt, Err: connError})
		}
		if c.authFailed.Load() {
			sendError(ErrAuthRejected)
			return
		}
	}
}

// initialize puts the subscription state on the wire within the
// bounded silence window after the connection opened. With no live
// subscription the configured placeholder goes out instead, unless
// placeholders are disabled, in which case the server is allowed to
// close the idle connection and the reconnect loop takes over.
func (c *Client) initialize(ctx context.Context) error {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()

	// Frames queued while disconnected describe a superseded state;
	// the snapshot below carries the current one.
	for {
		select {
		case <-c.out:
			continue
		default:
		}
		break
	}

	frames := c.mux.snapshot()
	if len(frames) == 0 {
		if c.opts.placeholderDisabled {
			return nil
		}
		frames = [][]byte{marshalSubscribe(c.session.Hash(), c.opts.placeholderChannel, c.opts.placeholderSymbols)}
	}
	for _, frame := range frames {
		if err := c.conn.writeMessage(ctxWithTimeout, frame); err != nil {
			return fmt.Errorf("replay subscriptions: %w", err)
		}
	}
	return nil
}

var newHeartbeatTicker = func(d time.Duration) ticker {
	return &timeTicker{ticker: time.NewTicker(d)}
}

// connPinger keeps the connection alive: a transport-level ping plus
// the vendor heartbeat frame every heartbeatInterval.
func (c *Client) connPinger(ctx context.Context, wg *sync.WaitGroup, closeCh <-chan struct{}) {
	heartbeat := newHeartbeatTicker(c.opts.heartbeatInterval)
	defer func() {
		heartbeat.Stop()
		c.conn.close()
		wg.Done()
	}()

	for {
		select {
		case <-closeCh:
			return
		case <-ctx.Done():
			return
		case <-heartbeat.C():
			if err := c.conn.ping(ctx); err != nil {
				if ctx.Err() == nil {
					c.opts.logger.Errorf("algolab stream: ping failed: %v", err)
				}
				return
			}
			if msg := marshalHeartbeat(c.session.Hash()); msg != nil {
				if err := c.enqueue(msg); err != nil {
					c.opts.logger.Warnf("algolab stream: heartbeat frame dropped: %v", err)
				}
			}
		}
	}
}

// connReader reads raw messages into c.in. It owns closing closeCh
// (terminating writer and pinger) and c.in (terminating processors).
func (c *Client) connReader(ctx context.Context, wg *sync.WaitGroup, closeCh chan<- struct{}) {
	defer func() {
		close(closeCh)
		c.conn.close()
		close(c.in)
		wg.Done()
	}()

	for {
		msg, err := c.conn.readMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.opts.logger.Errorf("algolab stream: reading from conn failed: %v", err)
			}
			return
		}
		c.in <- msg
	}
}

// connWriter drains the outbound command queue onto the connection,
// preserving submission order.
func (c *Client) connWriter(ctx context.Context, wg *sync.WaitGroup, closeCh <-chan struct{}) {
	defer func() {
		c.conn.close()
		wg.Done()
	}()

	for {
		select {
		case <-closeCh:
			return
		case <-ctx.Done():
			return
		case msg := <-c.out:
			if err := c.conn.writeMessage(ctx, msg); err != nil {
				if ctx.Err() == nil {
					c.opts.logger.Errorf("algolab stream: writing to conn failed: %v", err)
				}
				return
			}
		}
	}
}

// frameProcessor decodes raw messages and feeds the buffer and the
// multiplexer. With the default single processor, frames reach
// consumers in network receipt order.
func (c *Client) frameProcessor(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.in:
			if !ok {
				return
			}
			c.handleMessage(msg)
		}
	}
}

func (c *Client) handleMessage(msg []byte) {
	frame, err := decodeFrame(msg)
	if err != nil {
		c.opts.logger.Errorf("algolab stream: %v", err)
		return
	}
	frame.Received = time.Now()

	switch frame.Type {
	case FrameHeartbeat, FrameAuthOK:
		return
	case FrameAuthFail:
		// in-band credential rejection: no reconnect can fix it
		c.opts.logger.Errorf("algolab stream: server rejected credentials: %s", frame.Message)
		c.authFailed.Store(true)
		c.conn.close()
		return
	case FrameError:
		c.opts.logger.Errorf("algolab stream: server error %d: %s", frame.Code, frame.Message)
		return
	}

	c.buffer.store(frame)
	c.mux.dispatch(frame)
}

