package stream

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// conn represents a websocket connection between the server and the client
type conn interface {
	// close closes the websocket connection
	close() error
	// ping sends a ping to the server
	ping(ctx context.Context) error
	// readMessage blocks until it reads a single message
	readMessage(ctx context.Context) (data []byte, err error)
	// writeMessage writes a single message
	writeMessage(ctx context.Context, data []byte) error
}

// connCreator dials u with the signed handshake headers.
type connCreator func(ctx context.Context, u url.URL, header http.Header) (conn, error)

var (
	writeWait   = 5 * time.Second  // Time allowed to write a message to the peer
	connectWait = 10 * time.Second // Time allowed for the websocket handshake
	// initializeTimeout bounds the window between the connection being
	// established and the subscription state being on the wire. Servers
	// may close connections that stay silent longer.
	initializeTimeout = 2 * time.Second
)
