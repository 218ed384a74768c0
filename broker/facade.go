package broker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/erdoganonur/bist-trading-platform-sub003/algolab"
	"github.com/erdoganonur/bist-trading-platform-sub003/algolab/stream"
)

// Facade is the production Adapter. It is wired explicitly from its
// collaborators, runs until Close, and holds no global state beyond
// the session file owned by the coordinator.
type Facade struct {
	rest    *algolab.Client
	stream  *stream.Client
	tracker *orderTracker
	logger  algolab.Logger

	closed       atomic.Bool
	cancelStream context.CancelFunc
	orderFeed    *stream.Subscription
}

var _ Adapter = (*Facade)(nil)

// New wires a facade from the REST client and the stream client bound
// to the same session coordinator.
func New(rest *algolab.Client, sc *stream.Client, logger algolab.Logger) *Facade {
	if logger == nil {
		logger = algolab.DefaultLogger()
	}
	return &Facade{
		rest:    rest,
		stream:  sc,
		tracker: newOrderTracker(),
		logger:  logger,
	}
}

// Run connects the stream and attaches the internal order feed that
// keeps the tracker current. It blocks until the first connection
// attempt resolved.
func (f *Facade) Run(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	f.cancelStream = cancel

	go func() {
		<-ctx.Done()
		cancel()
	}()

	if err := f.stream.Connect(streamCtx); err != nil {
		cancel()
		return err
	}

	// every order event flows through the shared tracker so cancel
	// dedup and status queries see the latest state
	sub, err := f.stream.Subscribe(stream.ChannelOrderStatus, stream.SymbolAll, func(fr stream.Frame) {
		if fr.Order == nil {
			return
		}
		if _, err := f.tracker.observe(fr.Order); err != nil {
			f.logger.Errorf("broker: %v", err)
		}
	})
	if err != nil {
		cancel()
		return err
	}
	f.orderFeed = sub
	return nil
}

// Authenticate resumes the persisted session when one is still valid,
// otherwise drives the two-step SMS login.
func (f *Facade) Authenticate(ctx context.Context, creds Credentials) (*algolab.Session, error) {
	if f.closed.Load() {
		return nil, errClosed()
	}
	auth := f.rest.Auth()

	if s := auth.Session(); s.Valid(time.Now()) {
		return s, nil
	}

	if creds.SMSCode == nil {
		return nil, &algolab.Error{Kind: algolab.KindFatal, Message: "credentials carry no SMS code callback"}
	}
	if _, err := auth.BeginLogin(ctx, creds.Username, creds.Password); err != nil {
		return nil, err
	}
	code, err := creds.SMSCode(ctx)
	if err != nil {
		return nil, &algolab.Error{Kind: algolab.KindAuth, Message: "sms code not obtained"}
	}
	return auth.CompleteLogin(ctx, "", code)
}

// SendOrder submits a new order, assigning a ULID client order id when
// the caller did not bring one. The ack is recorded so later order
// events and cancels resolve against it.
func (f *Facade) SendOrder(ctx context.Context, order Order) (*OrderAck, error) {
	if f.closed.Load() {
		return nil, errClosed()
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = ulid.Make().String()
	}

	result, err := f.rest.SendOrder(ctx, algolab.SendOrderRequest{
		Symbol:        order.Symbol,
		Side:          order.Side,
		Type:          order.Type,
		Quantity:      order.Quantity,
		Price:         order.Price,
		TimeInForce:   order.TimeInForce,
		ClientOrderID: order.ClientOrderID,
		SubAccount:    order.SubAccount,
	})
	if err != nil {
		return nil, err
	}

	status := result.Status
	if status == "" {
		status = algolab.OrderSubmitted
	}
	f.tracker.record(order.ClientOrderID, result.BrokerOrderID, status, order.Quantity)
	return &OrderAck{
		ClientOrderID: order.ClientOrderID,
		BrokerOrderID: result.BrokerOrderID,
		Status:        status,
	}, nil
}

// ModifyOrder updates a resting order tracked under its client order
// id.
func (f *Facade) ModifyOrder(ctx context.Context, req ModifyRequest) (*OrderAck, error) {
	if f.closed.Load() {
		return nil, errClosed()
	}
	state, ok := f.tracker.lookup(req.ClientOrderID)
	if !ok {
		return nil, &algolab.Error{Kind: algolab.KindBusiness, Message: "unknown order " + req.ClientOrderID}
	}
	if state.status.Terminal() {
		return nil, &algolab.Error{Kind: algolab.KindBusiness, Message: "order " + req.ClientOrderID + " already " + string(state.status)}
	}

	result, err := f.rest.ModifyOrder(ctx, algolab.ModifyOrderRequest{
		BrokerOrderID: state.brokerOrderID,
		Price:         req.Price,
		Quantity:      req.Quantity,
	})
	if err != nil {
		return nil, err
	}
	if result.Status != "" {
		f.tracker.setStatus(req.ClientOrderID, result.Status)
	}
	return &OrderAck{
		ClientOrderID: req.ClientOrderID,
		BrokerOrderID: state.brokerOrderID,
		Status:        f.currentStatus(req.ClientOrderID, state.status),
	}, nil
}

// CancelOrder cancels the order. A repeated cancel of an order that is
// already cancelled, or whose cancel is already on the wire, succeeds
// locally without a second wire call.
func (f *Facade) CancelOrder(ctx context.Context, clientOrderID string) (algolab.OrderStatus, error) {
	if f.closed.Load() {
		return "", errClosed()
	}
	state, ok := f.tracker.lookup(clientOrderID)
	if !ok {
		return "", &algolab.Error{Kind: algolab.KindBusiness, Message: "unknown order " + clientOrderID}
	}
	if state.status == algolab.OrderCancelled {
		return algolab.OrderCancelled, nil
	}
	if state.status.Terminal() {
		return "", &algolab.Error{Kind: algolab.KindBusiness, Message: "order " + clientOrderID + " already " + string(state.status)}
	}
	if !f.tracker.markCancelSent(clientOrderID) {
		// a cancel is already in flight
		return f.currentStatus(clientOrderID, state.status), nil
	}

	result, err := f.rest.DeleteOrder(ctx, algolab.DeleteOrderRequest{BrokerOrderID: state.brokerOrderID})
	if err != nil {
		// the cancel never reached the broker, let a retry through
		f.tracker.clearCancelSent(clientOrderID)
		return "", err
	}
	status := result.Status
	if status == "" {
		status = algolab.OrderCancelled
	}
	f.tracker.setStatus(clientOrderID, status)
	return status, nil
}

func (f *Facade) currentStatus(clientOrderID string, fallback algolab.OrderStatus) algolab.OrderStatus {
	if s, ok := f.tracker.lookup(clientOrderID); ok {
		return s.status
	}
	return fallback
}

// GetMarketDataSnapshot serves the quote from the stream buffer when a
// live tick is present and falls back to a REST round trip.
func (f *Facade) GetMarketDataSnapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	if f.closed.Load() {
		return nil, errClosed()
	}
	if tick, ok := f.stream.Buffer().LastTick(symbol); ok {
		return &Snapshot{
			Symbol:    tick.Symbol,
			Last:      tick.LastPrice,
			Bid:       tick.BidPrice,
			Ask:       tick.AskPrice,
			Volume:    tick.TotalVolume,
			Timestamp: tick.Timestamp,
			Live:      true,
		}, nil
	}

	info, err := f.rest.GetEquityInfo(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Symbol:    info.Symbol,
		Last:      info.Last,
		Bid:       info.Bid,
		Ask:       info.Ask,
		Volume:    info.TotalVolume,
		Timestamp: info.Timestamp,
	}, nil
}

// GetPositions returns the current portfolio rows.
func (f *Facade) GetPositions(ctx context.Context) ([]algolab.Position, error) {
	if f.closed.Load() {
		return nil, errClosed()
	}
	return f.rest.InstantPosition(ctx, "")
}

// Subscribe attaches handler to the stream. Order status handlers are
// wrapped in a per-subscription monotonicity guard: a regression is
// logged as a protocol violation and withheld from the handler.
func (f *Facade) Subscribe(ch stream.Channel, symbol string, handler stream.Handler) (*stream.Subscription, error) {
	if f.closed.Load() {
		return nil, errClosed()
	}
	if ch == stream.ChannelOrderStatus && handler != nil {
		guard := newOrderTracker()
		inner := handler
		handler = func(fr stream.Frame) {
			if fr.Order != nil {
				if _, err := guard.observe(fr.Order); err != nil {
					f.logger.Errorf("broker: withholding order update: %v", err)
					return
				}
			}
			inner(fr)
		}
	}
	return f.stream.Subscribe(ch, symbol, handler)
}

// Unsubscribe detaches a subscription obtained from Subscribe.
func (f *Facade) Unsubscribe(sub *stream.Subscription) error {
	return f.stream.Unsubscribe(sub)
}

// StreamEvents surfaces stream connect/disconnect cycles.
func (f *Facade) StreamEvents() <-chan stream.Event {
	return f.stream.Events()
}

// Close shuts the facade down: new work is refused immediately, the
// stream is canceled, consumer queues get until ctx's deadline to
// drain, and the session is persisted. Close is idempotent.
func (f *Facade) Close(ctx context.Context) error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	f.logger.Infof("broker: shutting down")

	if f.cancelStream != nil {
		f.cancelStream()
		select {
		case <-f.stream.Terminated():
		case <-ctx.Done():
			f.logger.Warnf("broker: stream did not terminate within the grace period")
		}
	}

	auth := f.rest.Auth()
	if s := auth.Session(); s.Valid(time.Now()) {
		if err := auth.Store().Save(s); err != nil {
			f.logger.Errorf("broker: persisting session on shutdown failed: %v", err)
			return err
		}
	}
	return nil
}

func errClosed() error {
	return &algolab.Error{Kind: algolab.KindFatal, Message: "adapter is closed"}
}
