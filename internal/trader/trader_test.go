package trader

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cryptotrader/internal/broker"
	"cryptotrader/internal/config"
	"cryptotrader/internal/eventbus"
	"cryptotrader/internal/strategy"
	"cryptotrader/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTrader(t *testing.T, cashStr string) (*Trader, *broker.Broker, *config.Store) {
	t.Helper()
	b := broker.New("BTC-USD", decimal.RequireFromString(cashStr), testLogger())
	store := config.NewStore("/nonexistent", testLogger())
	orders := NewOrderTracker()
	positions := NewPositionTracker(decimal.RequireFromString(cashStr), decimal.NewFromFloat(0.01), orders)
	mux := strategy.NewMux()
	mux.Register("order_imbalance", strategy.OrderImbalance{})
	mux.Register("moving_average", strategy.MovingAverage{})

	tr := New("BTC-USD", b, store, orders, positions, mux, testLogger())
	return tr, b, store
}

func TestTraderSkipsWhileOrderPending(t *testing.T) {
	t.Parallel()
	tr, _, _ := newTestTrader(t, "100000")
	tr.orders.Add(types.PendingOrder{ClientID: "x", Side: types.Buy, Volume: decimal.NewFromInt(1), Price: decimal.NewFromInt(100)})

	order := types.OrderMetrics{Imbalance: 0.9, Spread: decimal.NewFromInt(1)}
	price := types.PriceMetrics{Price: decimal.NewFromInt(100)}

	tr.handleUpdate(order, price)

	if tr.broker.HasActiveOrder() {
		t.Fatal("trader submitted an order while one was already pending")
	}
}

func TestTraderSubmitsLimitOrderOnConfirmedSignal(t *testing.T) {
	t.Parallel()
	tr, b, store := newTestTrader(t, "100000")

	snap := store.Get()
	snap.Strategy = "order_imbalance"
	snap.OrderType = "limit"
	snap.ImbalanceThreshold = 0.3
	snap.SpreadThreshold = 0.5
	snap.MinConfidenceForAction = 0.1
	snap.MinSignalsForBuyAction = 1
	overrideSnapshot(store, snap)

	b.UpdateBook(map[string]decimal.Decimal{}, map[string]decimal.Decimal{"101": decimal.NewFromInt(1000)})

	order := types.OrderMetrics{Imbalance: 0.9, Spread: decimal.NewFromInt(1)}
	price := types.PriceMetrics{Price: decimal.NewFromInt(100)}

	tr.handleUpdate(order, price)

	if tr.orders.Len() != 1 {
		t.Fatalf("orders tracked = %d, want 1", tr.orders.Len())
	}
	if !b.HasActiveOrder() {
		t.Fatal("expected broker to hold an active order")
	}
}

// Scenario 7: a held long (0.01 @ avg 10000) with a take-profit target of
// 10060 crossed by the current price must produce a SELL of exactly the
// held position at the take-profit price, not a buy.
func TestTraderClosesPositionOnTakeProfitScenario7(t *testing.T) {
	t.Parallel()
	tr, b, store := newTestTrader(t, "10000")

	b.UpdatePrice(dec("10000"))
	seedBuy, err := b.CreateMarketOrder("seed-buy", dec("0.01"), 1)
	if err != nil {
		t.Fatalf("seed buy: %v", err)
	}
	tr.handleOrderFilled(context.Background(), seedBuy)

	snap := store.Get()
	snap.Strategy = "order_imbalance"
	snap.TakeProfitMultiplier = 100
	overrideSnapshot(store, snap)

	order := types.OrderMetrics{Imbalance: 0.4, Spread: dec("1")}
	price := types.PriceMetrics{Price: dec("10061")}

	tr.handleUpdate(order, price)

	if tr.orders.Len() != 1 {
		t.Fatalf("orders tracked = %d, want 1 (take-profit exit order)", tr.orders.Len())
	}
	exit, ok := tr.orders.Get("BTC-USD-1")
	if !ok {
		t.Fatal("expected the take-profit exit order to be tracked")
	}
	if exit.Side != types.Sell {
		t.Errorf("side = %v, want Sell (take-profit must close, not add to, the long)", exit.Side)
	}
	if !exit.Volume.Equal(dec("0.01")) {
		t.Errorf("volume = %v, want 0.01 (the entire held position)", exit.Volume)
	}
	if !exit.Price.Equal(dec("10060")) {
		t.Errorf("price = %v, want 10060 (the take-profit target)", exit.Price)
	}
}

// A stop-loss trigger must also close the held position directly rather
// than being blocked by GetPositionDelta's opposing-reversal guard, which
// exists precisely to hand reversal off to this path.
func TestTraderClosesPositionOnStopLossTrigger(t *testing.T) {
	t.Parallel()
	tr, b, _ := newTestTrader(t, "10000")

	b.UpdatePrice(dec("100"))
	seedBuy, err := b.CreateMarketOrder("seed-buy", dec("1"), 1)
	if err != nil {
		t.Fatalf("seed buy: %v", err)
	}
	tr.handleOrderFilled(context.Background(), seedBuy)

	order := types.OrderMetrics{Imbalance: 0, Spread: dec("1")}
	price := types.PriceMetrics{Price: dec("98"), LongMA: dec("100")}

	tr.handleUpdate(order, price)

	if tr.orders.Len() != 1 {
		t.Fatalf("orders tracked = %d, want 1 (stop-loss exit order)", tr.orders.Len())
	}
	exit, ok := tr.orders.Get("BTC-USD-1")
	if !ok {
		t.Fatal("expected the stop-loss exit order to be tracked")
	}
	if exit.Side != types.Sell {
		t.Errorf("side = %v, want Sell", exit.Side)
	}
	if !exit.Volume.Equal(dec("1")) {
		t.Errorf("volume = %v, want 1 (the entire held position)", exit.Volume)
	}
	want := dec("98").Mul(dec("0.99"))
	if !exit.Price.Equal(want) {
		t.Errorf("price = %v, want %v (the discounted stop-loss exit price)", exit.Price, want)
	}
}

func TestTraderHandlesOrderFilledEvent(t *testing.T) {
	t.Parallel()
	tr, _, _ := newTestTrader(t, "100000")
	filled := types.PendingOrder{
		ClientID:       "c1",
		Side:           types.Buy,
		Volume:         decimal.NewFromInt(1),
		FilledSize:     decimal.NewFromInt(1),
		AvgFilledPrice: decimal.NewFromInt(100),
		Confidence:     0.8,
	}
	tr.orders.Add(filled)

	tr.handleOrderFilled(context.Background(), filled)

	if tr.orders.Len() != 0 {
		t.Fatalf("orders tracked after fill = %d, want 0", tr.orders.Len())
	}
	if !tr.positions.Position().Equal(decimal.NewFromInt(1)) {
		t.Fatalf("position after fill = %v, want 1", tr.positions.Position())
	}
}

func TestTraderHandlesOrderCancelledEventWithPartialFill(t *testing.T) {
	t.Parallel()
	tr, _, _ := newTestTrader(t, "100000")
	cancelled := types.PendingOrder{
		ClientID:       "c2",
		Side:           types.Buy,
		Volume:         decimal.NewFromInt(2),
		FilledSize:     decimal.NewFromFloat(0.5),
		AvgFilledPrice: decimal.NewFromInt(100),
		Confidence:     0.8,
	}
	tr.orders.Add(cancelled)

	tr.handleOrderCancelled(context.Background(), cancelled)

	if tr.orders.Len() != 0 {
		t.Fatalf("orders tracked after cancel = %d, want 0", tr.orders.Len())
	}
	if !tr.positions.Position().Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("position after partial-fill cancel = %v, want 0.5", tr.positions.Position())
	}
}

func TestTraderIgnoresZeroPriceTick(t *testing.T) {
	t.Parallel()
	tr, _, _ := newTestTrader(t, "100000")
	order := types.OrderMetrics{Imbalance: 0.9, Spread: decimal.NewFromInt(1)}
	price := types.PriceMetrics{Price: decimal.Zero}

	tr.handleUpdate(order, price)

	if tr.broker.HasActiveOrder() {
		t.Fatal("trader must never act on a zero price tick")
	}
}

func TestTraderRegisterHandlersReceivesEvents(t *testing.T) {
	t.Parallel()
	tr, _, store := newTestTrader(t, "100000")
	snap := store.Get()
	snap.Strategy = "order_imbalance"
	snap.ImbalanceThreshold = 0.3
	snap.SpreadThreshold = 0.5
	snap.MinConfidenceForAction = 0.1
	snap.MinSignalsForBuyAction = 1
	overrideSnapshot(store, snap)

	bus := eventbus.New(testLogger())
	tr.RegisterHandlers(bus)

	ctx, cancel := context.WithCancel(context.Background())
	go bus.Run(ctx)

	bus.Publish(types.KindOrderBookUpdate, types.OrderMetrics{Imbalance: 0.9, Spread: decimal.NewFromInt(1)})
	bus.Publish(types.KindPriceUpdate, types.PriceMetrics{Price: decimal.NewFromInt(100)})

	time.Sleep(50 * time.Millisecond)
	cancel()
	bus.Wait()
}

// overrideSnapshot swaps store's current snapshot directly for test setup,
// bypassing the file-backed reload path.
func overrideSnapshot(store *config.Store, snap config.Snapshot) {
	store.TestSetSnapshot(snap)
}
