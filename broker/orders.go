package broker

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/erdoganonur/bist-trading-platform-sub003/algolab"
	"github.com/erdoganonur/bist-trading-platform-sub003/algolab/stream"
)

// statusRank orders the non-terminal lifecycle states. Terminal states
// share the highest rank; once an order is terminal, any different
// status is a regression.
var statusRank = map[algolab.OrderStatus]int{
	algolab.OrderPending:         0,
	algolab.OrderSubmitted:       1,
	algolab.OrderPartiallyFilled: 2,
	algolab.OrderFilled:          3,
	algolab.OrderCancelled:       3,
	algolab.OrderRejected:        3,
	algolab.OrderExpired:         3,
}

type orderState struct {
	brokerOrderID string
	status        algolab.OrderStatus
	filledQty     decimal.Decimal
	quantity      decimal.Decimal
	cancelSent    bool
}

// orderTracker keeps the last observed state per client order id and
// enforces that the lifecycle only ever moves forward. Exact
// duplicates are tolerated: the stream delivers at least once across
// reconnects.
type orderTracker struct {
	mu     sync.Mutex
	orders map[string]*orderState
}

func newOrderTracker() *orderTracker {
	return &orderTracker{orders: make(map[string]*orderState)}
}

// record registers a freshly acked order.
func (t *orderTracker) record(clientOrderID, brokerOrderID string, status algolab.OrderStatus, quantity decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.orders[clientOrderID] = &orderState{
		brokerOrderID: brokerOrderID,
		status:        status,
		quantity:      quantity,
	}
}

// observe validates one stream update against the recorded state and
// advances it. Acceptable updates, exact duplicates included, return
// (true, nil). Regressions return a KindProtocol error and must not be
// delivered.
func (t *orderTracker) observe(u *stream.OrderUpdate) (bool, error) {
	id := u.ClientOrderID
	if id == "" {
		id = u.BrokerOrderID
	}
	if id == "" {
		return false, &algolab.Error{
			Kind:    algolab.KindProtocol,
			Message: "order update without any order id",
		}
	}

	newRank, known := statusRank[u.Status]
	if !known {
		return false, &algolab.Error{
			Kind:    algolab.KindProtocol,
			Message: fmt.Sprintf("order %s: unknown status %q", id, u.Status),
		}
	}
	if !u.Quantity.IsZero() && u.FilledQty.GreaterThan(u.Quantity) {
		return false, &algolab.Error{
			Kind:    algolab.KindProtocol,
			Message: fmt.Sprintf("order %s: filled %s exceeds quantity %s", id, u.FilledQty, u.Quantity),
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.orders[id]
	if !ok {
		t.orders[id] = &orderState{
			brokerOrderID: u.BrokerOrderID,
			status:        u.Status,
			filledQty:     u.FilledQty,
			quantity:      u.Quantity,
		}
		return true, nil
	}

	if cur.status == u.Status && cur.filledQty.Equal(u.FilledQty) {
		// duplicate receipt, at-least-once delivery after reconnect
		return true, nil
	}

	curRank := statusRank[cur.status]
	switch {
	case cur.status.Terminal():
		return false, regression(id, cur.status, u.Status)
	case newRank < curRank:
		return false, regression(id, cur.status, u.Status)
	case u.FilledQty.LessThan(cur.filledQty):
		return false, &algolab.Error{
			Kind:    algolab.KindProtocol,
			Message: fmt.Sprintf("order %s: filled quantity regressed from %s to %s", id, cur.filledQty, u.FilledQty),
		}
	}

	cur.status = u.Status
	cur.filledQty = u.FilledQty
	if u.BrokerOrderID != "" {
		cur.brokerOrderID = u.BrokerOrderID
	}
	if !u.Quantity.IsZero() {
		cur.quantity = u.Quantity
	}
	return true, nil
}

func regression(id string, from, to algolab.OrderStatus) error {
	return &algolab.Error{
		Kind:    algolab.KindProtocol,
		Message: fmt.Sprintf("order %s: status regressed from %s to %s", id, from, to),
	}
}

// lookup returns a copy of the tracked state.
func (t *orderTracker) lookup(clientOrderID string) (orderState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.orders[clientOrderID]
	if !ok {
		return orderState{}, false
	}
	return *s, true
}

// markCancelSent flags that a cancel for clientOrderID is on the wire.
// It returns false when one was already sent, so a duplicate cancel
// never produces a second wire call.
func (t *orderTracker) markCancelSent(clientOrderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.orders[clientOrderID]
	if !ok {
		return false
	}
	if s.cancelSent {
		return false
	}
	s.cancelSent = true
	return true
}

// clearCancelSent rolls the cancel flag back after the wire call
// failed, so a later cancel attempt reaches the broker again.
func (t *orderTracker) clearCancelSent(clientOrderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.orders[clientOrderID]; ok {
		s.cancelSent = false
	}
}

// setStatus force-updates the tracked status from a REST response.
func (t *orderTracker) setStatus(clientOrderID string, status algolab.OrderStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.orders[clientOrderID]; ok {
		if statusRank[status] >= statusRank[s.status] && !s.status.Terminal() {
			s.status = status
		}
	}
}
