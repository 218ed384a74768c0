package stream

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"
)

var errClose = errors.New("closed")

type mockConn struct {
	pingCh    chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once
	readCh    chan []byte
	writeCh   chan []byte

	header http.Header
}

var _ conn = (*mockConn)(nil)

func newMockConn() *mockConn {
	return &mockConn{
		pingCh:  make(chan struct{}, 10),
		closeCh: make(chan struct{}),
		readCh:  make(chan []byte, 10),
		writeCh: make(chan []byte, 10),
	}
}

func (c *mockConn) close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
	})
	return nil
}

func (c *mockConn) ping(_ context.Context) error {
	select {
	case <-c.closeCh:
		return errClose
	default:
	}
	c.pingCh <- struct{}{}
	return nil
}

func (c *mockConn) readMessage(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-c.readCh:
		return data, nil
	case <-c.closeCh:
		return nil, errClose
	}
}

func (c *mockConn) writeMessage(_ context.Context, data []byte) error {
	select {
	case <-c.closeCh:
		return errClose
	default:
	}
	c.writeCh <- data
	return nil
}

// nextWrite returns the next frame the client put on the wire.
func (c *mockConn) nextWrite(timeout time.Duration) ([]byte, bool) {
	select {
	case data := <-c.writeCh:
		return data, true
	case <-time.After(timeout):
		return nil, false
	}
}

// connSequence hands out successive mock connections, one per dial, to
// exercise the reconnect path.
type connSequence struct {
	mu    sync.Mutex
	conns []*mockConn
	dials int
}

func newConnSequence(conns ...*mockConn) *connSequence {
	return &connSequence{conns: conns}
}

func (s *connSequence) creator() connCreator {
	return func(_ context.Context, _ url.URL, header http.Header) (conn, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.dials >= len(s.conns) {
			return nil, errClose
		}
		c := s.conns[s.dials]
		c.header = header
		s.dials++
		return c, nil
	}
}

// fakeSession is a SessionSource for tests.
type fakeSession struct {
	mu        sync.Mutex
	hash      string
	connected bool
}

func (s *fakeSession) Hash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hash
}

func (s *fakeSession) MarkStreamConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

func (s *fakeSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// fakeTicker fires only when the test says so.
type fakeTicker struct {
	c chan time.Time
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{c: make(chan time.Time, 1)}
}

func (t *fakeTicker) Stop()               {}
func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Tick()               { t.c <- time.Now() }
