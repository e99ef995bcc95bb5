package trader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"cryptotrader/internal/broker"
	"cryptotrader/internal/config"
	"cryptotrader/internal/eventbus"
	"cryptotrader/internal/strategy"
	"cryptotrader/pkg/types"
)

// limitTimeoutSec is the GTD window given to every submitted limit order.
const limitTimeoutSec = 10

// Trader orchestrates the per-update decision loop: it combines the latest
// order-book and price metrics, consults the strategy mux and then the
// take-profit/stop-loss checks, sizes the resulting action against current
// position and pending orders, and submits (or cancels) orders on the
// broker accordingly.
type Trader struct {
	product string
	broker  *broker.Broker
	cfg     *config.Store
	logger  *slog.Logger

	orders    *OrderTracker
	positions *PositionTracker
	mux       *strategy.Mux

	mu               sync.Mutex
	latestOrder      types.OrderMetrics
	latestPrice      types.PriceMetrics
	haveOrderMetrics bool
	havePriceMetrics bool

	seq atomic.Uint64
}

// New constructs a Trader for product, wired to the given broker, config
// store, trackers, and strategy mux.
func New(product string, b *broker.Broker, cfg *config.Store, orders *OrderTracker, positions *PositionTracker, mux *strategy.Mux, logger *slog.Logger) *Trader {
	return &Trader{
		product:   product,
		broker:    b,
		cfg:       cfg,
		logger:    logger,
		orders:    orders,
		positions: positions,
		mux:       mux,
	}
}

// RegisterHandlers subscribes the trader's event handlers on bus. Call once
// during engine wiring.
func (tr *Trader) RegisterHandlers(bus *eventbus.Bus) {
	bus.Subscribe("trader", types.KindPriceUpdate, tr.handlePriceUpdate)
	bus.Subscribe("trader", types.KindOrderBookUpdate, tr.handleOrderBookUpdate)
	bus.Subscribe("trader", types.KindOrderFilled, tr.handleOrderFilled)
	bus.Subscribe("trader", types.KindOrderCancelled, tr.handleOrderCancelled)
}

func (tr *Trader) handlePriceUpdate(ctx context.Context, payload any) {
	price, ok := payload.(types.PriceMetrics)
	if !ok {
		return
	}
	tr.mu.Lock()
	tr.latestPrice = price
	tr.havePriceMetrics = true
	order, haveOrder := tr.latestOrder, tr.haveOrderMetrics
	tr.mu.Unlock()

	if !haveOrder {
		return
	}
	tr.handleUpdate(order, price)
}

func (tr *Trader) handleOrderBookUpdate(ctx context.Context, payload any) {
	order, ok := payload.(types.OrderMetrics)
	if !ok {
		return
	}
	tr.mu.Lock()
	tr.latestOrder = order
	tr.haveOrderMetrics = true
	price, havePrice := tr.latestPrice, tr.havePriceMetrics
	tr.mu.Unlock()

	if !havePrice {
		return
	}
	tr.handleUpdate(order, price)
}

func (tr *Trader) handleOrderFilled(ctx context.Context, payload any) {
	order, ok := payload.(types.PendingOrder)
	if !ok {
		return
	}
	tr.positions.HandleOrderFilled(order)
	tr.orders.Remove(order.ClientID)
}

func (tr *Trader) handleOrderCancelled(ctx context.Context, payload any) {
	order, ok := payload.(types.PendingOrder)
	if !ok {
		return
	}
	if order.FilledSize.IsPositive() {
		tr.positions.HandleOrderFilled(order)
	}
	tr.orders.Remove(order.ClientID)
}

// checkAction runs the strategy mux and, if it returns no action, falls
// back to take-profit then stop-loss. A strategy action always wins
// outright. closeOut reports whether the returned action is a take-profit
// or stop-loss exit, which handleUpdate routes through ClosePositionDelta
// instead of the strategy's generic sizing.
func (tr *Trader) checkAction(cfg config.Snapshot, order types.OrderMetrics, price types.PriceMetrics) (action int, confidence float64, limitPrice decimal.Decimal, closeOut bool) {
	if price.Price.IsZero() {
		return 0, 0, decimal.Zero, false
	}

	action, confidence, limitPrice, err := tr.mux.Evaluate(cfg, order, price)
	if err != nil {
		tr.logger.Error("strategy evaluation failed", "error", err)
		return 0, 0, decimal.Zero, false
	}
	if action != 0 {
		return action, confidence, limitPrice, false
	}

	if hit, target := tr.positions.CheckTakeProfit(confidence, order.Spread, price.Price, cfg.TakeProfitMultiplier, cfg.TakeProfitSensitivity); hit {
		tr.logger.Info("take profit triggered", "target", target)
		return -1, 1, target, true
	}

	if hit, exit := tr.positions.CheckStopLoss(price.Price, price.LongMA, cfg.StopLossPercentage, cfg.StopLossOffset); hit {
		tr.logger.Info("stop loss triggered", "exit_price", exit)
		return -1, 1, exit, true
	}

	return 0, 0, decimal.Zero, false
}

// handleUpdate is the per-tick decision loop shared by price and
// order-book updates: skip while an order is already in flight, derive an
// action, size it against current + pending position, then submit or
// cancel on the broker.
func (tr *Trader) handleUpdate(order types.OrderMetrics, price types.PriceMetrics) {
	if pending, _ := tr.orders.PendingPosition(); !pending.IsZero() {
		return
	}

	cfg := tr.cfg.Get()
	action, confidence, limitPrice, closeOut := tr.checkAction(cfg, order, price)
	if action == 0 {
		return
	}

	var (
		delta  decimal.Decimal
		cancel bool
	)
	if closeOut {
		delta = tr.positions.ClosePositionDelta()
	} else {
		delta, cancel = tr.positions.GetPositionDelta(limitPrice, action, confidence)
	}
	if cancel {
		tr.broker.CancelCurrentOrder()
		return
	}
	if delta.IsZero() {
		return
	}

	tr.submit(cfg, delta, limitPrice, confidence)
}

// submit places the sized order on the broker per cfg.OrderType, tracking
// it on success and handling the broker's domain errors defensively: an
// in-flight order is a benign race (skip), insufficient funds/product
// cancels the (now-stale) active order, anything else is logged.
func (tr *Trader) submit(cfg config.Snapshot, delta, limitPrice decimal.Decimal, confidence float64) {
	clientID := fmt.Sprintf("%s-%d", tr.product, tr.seq.Add(1))

	var (
		pending types.PendingOrder
		err     error
	)
	if cfg.OrderType == "market" {
		pending, err = tr.broker.CreateMarketOrder(clientID, delta, confidence)
	} else {
		pending, err = tr.broker.CreateLimitOrder(clientID, delta, limitPrice, confidence, limitTimeoutSec)
	}

	switch {
	case err == nil:
		tr.orders.Add(pending)
	case errors.Is(err, broker.ErrExistingOrder):
		tr.logger.Info("order submission skipped, order already active", "error", err)
	case errors.Is(err, broker.ErrInsufficientFunds), errors.Is(err, broker.ErrInsufficientProduct):
		tr.logger.Error("order submission rejected", "error", err)
		tr.broker.CancelCurrentOrder()
	default:
		tr.logger.Error("order submission failed", "error", err, "position", tr.positions.Position())
	}
}
