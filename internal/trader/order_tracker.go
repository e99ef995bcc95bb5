// Package trader glues the market-metrics engine, strategy multiplexer,
// and paper broker together: the order tracker and position tracker hold
// accounting state, and Trader orchestrates the per-update decision loop.
package trader

import (
	"sync"

	"github.com/shopspring/decimal"

	"cryptotrader/pkg/types"
)

// OrderTracker is an inventory of pending orders keyed by client ID, with
// derived aggregate pending position and pending cost. All mutations are
// local and synchronous.
type OrderTracker struct {
	mu     sync.RWMutex
	orders map[string]types.PendingOrder
}

// NewOrderTracker constructs an empty OrderTracker.
func NewOrderTracker() *OrderTracker {
	return &OrderTracker{orders: make(map[string]types.PendingOrder)}
}

// Add records a new pending order.
func (t *OrderTracker) Add(order types.PendingOrder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.orders[order.ClientID] = order
}

// Remove drops an order by client ID (no-op if absent).
func (t *OrderTracker) Remove(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.orders, clientID)
}

// Get returns the tracked order for clientID, if any.
func (t *OrderTracker) Get(clientID string) (types.PendingOrder, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.orders[clientID]
	return o, ok
}

// Len reports how many orders are tracked.
func (t *OrderTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.orders)
}

// PendingPosition returns the signed sum of volume and the signed sum of
// volume*price across all tracked orders.
func (t *OrderTracker) PendingPosition() (position, cost decimal.Decimal) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	position = decimal.Zero
	cost = decimal.Zero
	for _, o := range t.orders {
		signed := o.Volume
		signedCost := o.Volume.Mul(o.Price)
		if o.Side == types.Sell {
			signed = signed.Neg()
			signedCost = signedCost.Neg()
		}
		position = position.Add(signed)
		cost = cost.Add(signedCost)
	}
	return position, cost
}
