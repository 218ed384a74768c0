package stream

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"nhooyr.io/websocket"
)

var pongWait = 5 * time.Second // Time allowed to read the next pong message from the peer

type nhooyrWebsocketConn struct {
	conn    *websocket.Conn
	msgType websocket.MessageType
}

// newNhooyrWebsocketConn dials u with the signed handshake headers. A
// 401 or 403 on the upgrade means the session hash was refused, which
// no amount of retrying fixes.
func newNhooyrWebsocketConn(ctx context.Context, u url.URL, header http.Header) (conn, error) {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, connectWait)
	defer cancel()

	conn, resp, err := websocket.Dial(ctxWithTimeout, u.String(), &websocket.DialOptions{
		CompressionMode: websocket.CompressionContextTakeover,
		HTTPHeader:      header,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ErrAuthRejected
		}
		return nil, err
	}
	conn.SetReadLimit(1 << 20)

	return &nhooyrWebsocketConn{
		conn:    conn,
		msgType: websocket.MessageText,
	}, nil
}

// close closes the websocket connection
func (c *nhooyrWebsocketConn) close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// ping sends a ping to the server
func (c *nhooyrWebsocketConn) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, pongWait)
	defer cancel()

	return c.conn.Ping(pingCtx)
}

// readMessage blocks until it reads a single message
func (c *nhooyrWebsocketConn) readMessage(ctx context.Context) (data []byte, err error) {
	_, data, err = c.conn.Read(ctx)
	return data, err
}

// writeMessage writes a single message
func (c *nhooyrWebsocketConn) writeMessage(ctx context.Context, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	return c.conn.Write(writeCtx, c.msgType, data)
}
