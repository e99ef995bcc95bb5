// Package broker implements a paper broker: a simulated matching engine
// that fills at most one active order against the latest book snapshot,
// honoring GTD expiry and emitting fill/cancel events.
package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptotrader/pkg/types"
)

// Domain errors returned at the broker's submission boundary.
var (
	ErrExistingOrder       = errors.New("broker: an order is already active")
	ErrInsufficientFunds   = errors.New("broker: insufficient cash for buy")
	ErrInsufficientProduct = errors.New("broker: insufficient position for sell")
)

// sideLevels is a price->size snapshot of one book side, held by the broker
// for matching. Keyed identically to market.Book's internal representation.
type sideLevels map[string]decimal.Decimal

// Broker is a single-instrument paper broker. It holds at most one active
// order at a time, matched against the most recent book snapshot supplied
// via UpdateBook.
//
// Locking follows a fixed acquisition order everywhere the two are held
// together: the active-order lock (orderMu) outer, the book lock (bookMu)
// inner. The 1Hz check loop and the book-update path both follow this
// order, so the two can never deadlock against each other.
type Broker struct {
	product string
	logger  *slog.Logger

	bookMu sync.Mutex
	bids   sideLevels
	asks   sideLevels

	orderMu sync.Mutex
	active  *types.PendingOrder

	cashMu       sync.Mutex
	cash         decimal.Decimal
	position     decimal.Decimal
	currentPrice decimal.Decimal

	onFilled    func(types.PendingOrder)
	onCancelled func(types.PendingOrder)
}

// New constructs a Broker seeded with starting cash.
func New(product string, cash decimal.Decimal, logger *slog.Logger) *Broker {
	return &Broker{
		product: product,
		logger:  logger,
		bids:    make(sideLevels),
		asks:    make(sideLevels),
		cash:    cash,
	}
}

// OnFilled registers the callback invoked when an order reaches FILLED.
func (b *Broker) OnFilled(f func(types.PendingOrder)) { b.onFilled = f }

// OnCancelled registers the callback invoked when an order reaches CANCELLED.
func (b *Broker) OnCancelled(f func(types.PendingOrder)) { b.onCancelled = f }

// Cash returns the current cash balance.
func (b *Broker) Cash() decimal.Decimal {
	b.cashMu.Lock()
	defer b.cashMu.Unlock()
	return b.cash
}

// Position returns the current signed position.
func (b *Broker) Position() decimal.Decimal {
	b.cashMu.Lock()
	defer b.cashMu.Unlock()
	return b.position
}

// HasActiveOrder reports whether an order is currently held.
func (b *Broker) HasActiveOrder() bool {
	b.orderMu.Lock()
	defer b.orderMu.Unlock()
	return b.active != nil
}

// UpdatePrice records the latest trade print, used as the fill price for
// market orders.
func (b *Broker) UpdatePrice(price decimal.Decimal) {
	b.cashMu.Lock()
	b.currentPrice = price
	b.cashMu.Unlock()
}

// UpdateBook replaces the broker's matching snapshot and re-runs the
// matching pass (and GTD check) against it if an order is active. Takes
// the order lock, then the book lock — the fixed acquisition order.
func (b *Broker) UpdateBook(bids, asks map[string]decimal.Decimal) {
	b.orderMu.Lock()
	defer b.orderMu.Unlock()

	b.bookMu.Lock()
	b.bids = bids
	b.asks = asks
	b.bookMu.Unlock()

	if b.active == nil {
		return
	}
	if b.active.Status == types.OrderFilled {
		return
	}
	if !b.expireIfDue(b.active) {
		b.bookMu.Lock()
		b.tryFill(b.active)
		b.bookMu.Unlock()
	}
	b.settleIfTerminal()
}

// CheckCurrentOrder is the 1Hz order-check loop tick: expires the active
// order if its GTD has passed, otherwise re-matches it against the last
// known book snapshot. Takes the order lock, then the book lock — same
// fixed order as UpdateBook.
func (b *Broker) CheckCurrentOrder() {
	b.orderMu.Lock()
	defer b.orderMu.Unlock()

	if b.active == nil {
		return
	}

	if !b.expireIfDue(b.active) {
		b.bookMu.Lock()
		b.tryFill(b.active)
		b.bookMu.Unlock()
	}
	b.settleIfTerminal()
}

// Run drives the 1Hz order-check loop until stop is closed.
func (b *Broker) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.CheckCurrentOrder()
		}
	}
}

// expireIfDue transitions order to CANCELLED if its GTD has passed.
// Caller must hold orderMu. Returns true if it cancelled; settlement is
// left to settleIfTerminal.
func (b *Broker) expireIfDue(order *types.PendingOrder) bool {
	if order.TimeoutAt == nil || order.TimeoutAt.After(time.Now()) {
		return false
	}
	if order.Status == types.OrderFilled || order.Status == types.OrderCancelled {
		return false
	}
	order.Status = types.OrderCancelled
	b.logger.Info("order cancelled due to timeout", "client_id", order.ClientID)
	return true
}

// settleIfTerminal applies cash/position effects and emits the terminal
// event when the active order has reached FILLED or CANCELLED, then
// clears the active slot. Caller must hold orderMu.
func (b *Broker) settleIfTerminal() {
	order := b.active
	if order == nil {
		return
	}
	switch order.Status {
	case types.OrderFilled:
		b.settle(*order)
		b.logger.Info("order filled", "client_id", order.ClientID, "avg_price", order.AvgFilledPrice)
		if b.onFilled != nil {
			b.onFilled(*order)
		}
		b.active = nil
	case types.OrderCancelled:
		b.settle(*order)
		b.logger.Info("order cancelled", "client_id", order.ClientID)
		if b.onCancelled != nil {
			b.onCancelled(*order)
		}
		b.active = nil
	}
}

// settle applies the terminal order's realized fill to cash/position.
func (b *Broker) settle(order types.PendingOrder) {
	b.cashMu.Lock()
	defer b.cashMu.Unlock()
	signedFilled := order.SignedFilled()
	b.position = b.position.Add(signedFilled)
	b.cash = b.cash.Sub(signedFilled.Mul(order.AvgFilledPrice))
}

// tryFill walks the opposite book side, sorted favorably for the taker,
// filling while the level price is within the limit. Caller must hold
// orderMu and bookMu.
func (b *Broker) tryFill(order *types.PendingOrder) {
	if order.Status != types.OrderOpen {
		return
	}

	var levels sideLevels
	if order.Side == types.Buy {
		levels = b.asks
	} else {
		levels = b.bids
	}
	if len(levels) == 0 {
		return
	}

	prices := make([]decimal.Decimal, 0, len(levels))
	for k := range levels {
		p, err := decimal.NewFromString(k)
		if err != nil {
			continue
		}
		prices = append(prices, p)
	}
	if order.Side == types.Buy {
		sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })
	} else {
		sort.Slice(prices, func(i, j int) bool { return prices[i].GreaterThan(prices[j]) })
	}

	for _, p := range prices {
		if order.Side == types.Buy && p.GreaterThan(order.Price) {
			return
		}
		if order.Side == types.Sell && p.LessThan(order.Price) {
			return
		}

		size := levels[p.String()]
		remaining := order.Volume.Sub(order.FilledSize)
		delta := decimal.Min(remaining, size)

		totalFilled := order.FilledSize.Add(delta)
		if totalFilled.IsZero() {
			continue
		}
		order.AvgFilledPrice = order.AvgFilledPrice.Mul(order.FilledSize).Add(p.Mul(delta)).Div(totalFilled)
		order.FilledSize = totalFilled

		if order.FilledSize.GreaterThanOrEqual(order.Volume) {
			order.Status = types.OrderFilled
			return
		}
	}
}

// CreateMarketOrder fills immediately at the current price. signedVolume's
// sign selects the side: positive is BUY, negative is SELL.
func (b *Broker) CreateMarketOrder(clientID string, signedVolume decimal.Decimal, confidence float64) (types.PendingOrder, error) {
	b.orderMu.Lock()
	defer b.orderMu.Unlock()

	if b.active != nil {
		return types.PendingOrder{}, fmt.Errorf("%w: %s", ErrExistingOrder, b.active.ClientID)
	}

	side := types.Sell
	if signedVolume.IsPositive() {
		side = types.Buy
	}
	volume := signedVolume.Abs()

	b.cashMu.Lock()
	price := b.currentPrice
	cash := b.cash
	position := b.position
	b.cashMu.Unlock()

	if side == types.Buy && volume.Mul(price).GreaterThan(cash) {
		return types.PendingOrder{}, fmt.Errorf("%w: need %s have %s", ErrInsufficientFunds, volume.Mul(price), cash)
	}
	if side == types.Sell && volume.GreaterThan(position) {
		return types.PendingOrder{}, fmt.Errorf("%w: need %s have %s", ErrInsufficientProduct, volume, position)
	}

	order := types.PendingOrder{
		ClientID:       clientID,
		Side:           side,
		Kind:           types.OrderKindMarket,
		Volume:         volume,
		Price:          price,
		Status:         types.OrderFilled,
		FilledSize:     volume,
		AvgFilledPrice: price,
		Confidence:     confidence,
		CreatedAt:      time.Now(),
	}
	b.active = &order
	b.settleIfTerminal()
	return order, nil
}

// CreateLimitOrder submits a GTD limit order and immediately runs a
// matching pass against the current book snapshot.
func (b *Broker) CreateLimitOrder(clientID string, signedVolume, limitPrice decimal.Decimal, confidence float64, timeoutSec int) (types.PendingOrder, error) {
	b.orderMu.Lock()
	defer b.orderMu.Unlock()

	if b.active != nil {
		return types.PendingOrder{}, fmt.Errorf("%w: %s", ErrExistingOrder, b.active.ClientID)
	}

	side := types.Sell
	if signedVolume.IsPositive() {
		side = types.Buy
	}
	volume := signedVolume.Abs()

	b.cashMu.Lock()
	cash := b.cash
	position := b.position
	b.cashMu.Unlock()

	if side == types.Buy && volume.Mul(limitPrice).GreaterThan(cash) {
		return types.PendingOrder{}, fmt.Errorf("%w: need %s have %s", ErrInsufficientFunds, volume.Mul(limitPrice), cash)
	}
	if side == types.Sell && volume.GreaterThan(position) {
		return types.PendingOrder{}, fmt.Errorf("%w: need %s have %s", ErrInsufficientProduct, volume, position)
	}

	timeoutAt := time.Now().Add(time.Duration(timeoutSec) * time.Second)
	order := types.PendingOrder{
		ClientID:   clientID,
		Side:       side,
		Kind:       types.OrderKindLimit,
		Volume:     volume,
		Price:      limitPrice,
		Status:     types.OrderOpen,
		TimeoutAt:  &timeoutAt,
		Confidence: confidence,
		CreatedAt:  time.Now(),
	}
	b.active = &order

	b.bookMu.Lock()
	b.tryFill(&order)
	b.bookMu.Unlock()
	b.settleIfTerminal()

	return order, nil
}

// CancelCurrentOrder cancels the active order unconditionally (no-op if
// none is active), settling any partial fill.
func (b *Broker) CancelCurrentOrder() {
	b.orderMu.Lock()
	defer b.orderMu.Unlock()
	if b.active == nil {
		return
	}
	if b.active.Status == types.OrderFilled {
		return
	}
	b.active.Status = types.OrderCancelled
	b.settleIfTerminal()
}
