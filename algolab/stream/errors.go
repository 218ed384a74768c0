package stream

import "errors"

var (
	// ErrConnectCalledMultipleTimes is returned when Connect has been
	// called multiple times on a single client.
	ErrConnectCalledMultipleTimes = errors.New("tried to call Connect multiple times")

	// ErrTerminated is returned when the client has terminated and can
	// not be used anymore.
	ErrTerminated = errors.New("client has terminated")

	// ErrNotConnected is returned by Send when no connection is
	// established.
	ErrNotConnected = errors.New("no active connection")

	// ErrAuthRejected is returned when the server refuses the signed
	// handshake headers. Retrying with the same session is pointless.
	ErrAuthRejected = errors.New("server rejected stream credentials")

	// ErrInvalidChannel is returned when subscribing to an unknown
	// channel.
	ErrInvalidChannel = errors.New("invalid channel")

	// ErrInvalidSymbol is returned when subscribing to an empty symbol.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrNilHandler is returned when subscribing without a handler.
	ErrNilHandler = errors.New("handler must not be nil")

	// ErrSubscriptionClosed is returned when unsubscribing a
	// subscription that is already gone.
	ErrSubscriptionClosed = errors.New("subscription already closed")

	// ErrSlowConsumer closes an order status subscription whose handler
	// stalled past the configured block timeout. Dropping order events
	// silently is never an option.
	ErrSlowConsumer = errors.New("consumer too slow, disconnected")

	// ErrMalformedFrame is returned when an incoming message violates
	// the frame contract.
	ErrMalformedFrame = errors.New("malformed frame")
)
