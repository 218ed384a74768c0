// Package broker exposes the uniform trading contract the rest of the
// platform consumes. It composes the AlgoLab REST client, the stream
// client and the order state tracker behind one facade so upstream
// services never touch vendor specifics.
package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/erdoganonur/bist-trading-platform-sub003/algolab"
	"github.com/erdoganonur/bist-trading-platform-sub003/algolab/stream"
)

// Adapter is the broker-facing contract. The facade is the production
// implementation; tests substitute fakes.
type Adapter interface {
	// Authenticate establishes a session, resuming a persisted one when
	// still valid and driving the two-step SMS login otherwise.
	Authenticate(ctx context.Context, creds Credentials) (*algolab.Session, error)
	// SendOrder submits a new order. A missing ClientOrderID is
	// assigned by the adapter.
	SendOrder(ctx context.Context, order Order) (*OrderAck, error)
	// ModifyOrder updates price and/or quantity of a resting order.
	ModifyOrder(ctx context.Context, req ModifyRequest) (*OrderAck, error)
	// CancelOrder cancels the order identified by clientOrderID. A
	// second cancel of an already cancelled order is answered locally
	// without touching the wire.
	CancelOrder(ctx context.Context, clientOrderID string) (algolab.OrderStatus, error)
	// GetMarketDataSnapshot returns the current quote, served from the
	// stream buffer when live data is present and from REST otherwise.
	GetMarketDataSnapshot(ctx context.Context, symbol string) (*Snapshot, error)
	// GetPositions returns the current portfolio rows.
	GetPositions(ctx context.Context) ([]algolab.Position, error)
	// Subscribe attaches handler to (ch, symbol) market data or order
	// events. Order status deliveries are validated for monotonicity
	// before they reach the handler.
	Subscribe(ch stream.Channel, symbol string, handler stream.Handler) (*stream.Subscription, error)
	// Unsubscribe detaches a subscription obtained from Subscribe.
	Unsubscribe(sub *stream.Subscription) error
	// StreamEvents surfaces connect and disconnect cycles of the
	// underlying stream.
	StreamEvents() <-chan stream.Event
	// Close shuts the adapter down in order: refuse new work, stop the
	// stream, drain consumers within the grace period, persist the
	// session.
	Close(ctx context.Context) error
}

// Credentials drive the interactive login. SMSCode is invoked after
// the password step succeeded and must return the code the vendor sent
// to the registered phone.
type Credentials struct {
	Username string
	Password string
	SMSCode  func(ctx context.Context) (string, error)
}

// Order is the adapter-level order entry request.
type Order struct {
	// ClientOrderID is the caller-owned idempotency key. Left empty, a
	// ULID is assigned and returned in the ack.
	ClientOrderID string
	Symbol        string
	Side          algolab.OrderSide
	Type          algolab.OrderType
	Quantity      decimal.Decimal
	// Price is required for limit orders and must be nil for market
	// orders.
	Price       *decimal.Decimal
	TimeInForce algolab.TimeInForce
	SubAccount  string
}

// ModifyRequest updates a resting order identified by its client order
// id.
type ModifyRequest struct {
	ClientOrderID string
	Price         *decimal.Decimal
	Quantity      *decimal.Decimal
}

// OrderAck is the adapter's acceptance response.
type OrderAck struct {
	ClientOrderID string
	BrokerOrderID string
	Status        algolab.OrderStatus
}

// Snapshot is a point-in-time quote. Live reports whether it came from
// the stream buffer rather than a REST round trip.
type Snapshot struct {
	Symbol    string
	Last      decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Volume    decimal.Decimal
	Timestamp time.Time
	Live      bool
}
