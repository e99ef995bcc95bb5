// Package market maintains the live L2 order book and derives the metrics
// the trader consumes: filtered buy/sell pressure, imbalance, spread, best
// bid/ask, plus the price engine's moving averages and ATR.
package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptotrader/pkg/types"
)

// Book maintains bid/ask price->size maps for one product and emits
// OrderMetrics whenever an update leaves both sides non-empty with nonzero
// total filtered notional.
type Book struct {
	tickSize decimal.Decimal

	thresholdsMu           sync.RWMutex
	priceDistanceThreshold decimal.Decimal
	orderSizeThreshold     decimal.Decimal

	bidsMu sync.RWMutex
	bids   map[string]decimal.Decimal // price (string key) -> size

	asksMu sync.RWMutex
	asks   map[string]decimal.Decimal

	bestMu  sync.RWMutex
	bestBid decimal.Decimal
	bestAsk decimal.Decimal
	haveBid bool
	haveAsk bool
}

// NewBook constructs an empty book for an instrument with the given tick
// size. Filter thresholds default to the config reference values and can
// be refreshed from the live config snapshot via SetThresholds.
func NewBook(tickSize decimal.Decimal) *Book {
	return &Book{
		tickSize:               tickSize,
		priceDistanceThreshold: decimal.NewFromInt(10000),
		orderSizeThreshold:     decimal.NewFromFloat(0.95),
		bids:                   make(map[string]decimal.Decimal),
		asks:                   make(map[string]decimal.Decimal),
	}
}

// SetThresholds updates the filtered-pressure thresholds from the latest
// config snapshot.
func (b *Book) SetThresholds(priceDistanceThreshold, orderSizeThreshold decimal.Decimal) {
	b.thresholdsMu.Lock()
	defer b.thresholdsMu.Unlock()
	b.priceDistanceThreshold = priceDistanceThreshold
	b.orderSizeThreshold = orderSizeThreshold
}

// Apply applies a single L2 level update: new_size=0 deletes the level,
// otherwise the level is set to new_size (full replacement, not a delta).
// It returns the freshly computed OrderMetrics and whether they should be
// emitted (false when either side is empty or filtered notional sums to 0).
func (b *Book) Apply(side types.BookSide, price, newSize decimal.Decimal) (types.OrderMetrics, bool) {
	key := price.String()

	switch side {
	case types.SideBid:
		b.bidsMu.Lock()
		if newSize.IsZero() {
			delete(b.bids, key)
		} else {
			b.bids[key] = newSize
		}
		b.bidsMu.Unlock()
	case types.SideOffer:
		b.asksMu.Lock()
		if newSize.IsZero() {
			delete(b.asks, key)
		} else {
			b.asks[key] = newSize
		}
		b.asksMu.Unlock()
	}

	b.recomputeBest()
	return b.metrics()
}

// recomputeBest recomputes best bid (max) and best ask (min) from scratch.
// Called after every mutation. Near-mid books are small, so a full scan is
// cheap relative to a network tick.
func (b *Book) recomputeBest() {
	b.bidsMu.RLock()
	var bestBid decimal.Decimal
	haveBid := false
	for k := range b.bids {
		p, err := decimal.NewFromString(k)
		if err != nil {
			continue
		}
		if !haveBid || p.GreaterThan(bestBid) {
			bestBid = p
			haveBid = true
		}
	}
	b.bidsMu.RUnlock()

	b.asksMu.RLock()
	var bestAsk decimal.Decimal
	haveAsk := false
	for k := range b.asks {
		p, err := decimal.NewFromString(k)
		if err != nil {
			continue
		}
		if !haveAsk || p.LessThan(bestAsk) {
			bestAsk = p
			haveAsk = true
		}
	}
	b.asksMu.RUnlock()

	b.bestMu.Lock()
	b.bestBid, b.haveBid = bestBid, haveBid
	b.bestAsk, b.haveAsk = bestAsk, haveAsk
	b.bestMu.Unlock()
}

// BestBidAsk returns the current best bid/ask. ok is false if either side
// is currently empty.
func (b *Book) BestBidAsk() (bid, ask decimal.Decimal, ok bool) {
	b.bestMu.RLock()
	defer b.bestMu.RUnlock()
	return b.bestBid, b.bestAsk, b.haveBid && b.haveAsk
}

// Mid returns (best_ask+best_bid)/2, or zero with ok=false if either side
// is empty.
func (b *Book) Mid() (mid decimal.Decimal, ok bool) {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// metrics computes filtered buy/sell notional, imbalance and spread from
// the current book state. Levels are filtered by both tick-distance from
// mid and an upper bound on size (excluding likely spoof walls).
func (b *Book) metrics() (types.OrderMetrics, bool) {
	mid, midOK := b.Mid()
	bid, ask, bbOK := b.BestBidAsk()
	if !midOK && !bbOK {
		return types.OrderMetrics{}, false
	}

	b.thresholdsMu.RLock()
	priceDistanceThreshold := b.priceDistanceThreshold
	orderSizeThreshold := b.orderSizeThreshold
	b.thresholdsMu.RUnlock()

	buyNotional := b.filteredNotional(&b.bidsMu, b.bids, mid, priceDistanceThreshold, orderSizeThreshold)
	sellNotional := b.filteredNotional(&b.asksMu, b.asks, mid, priceDistanceThreshold, orderSizeThreshold)

	sum := buyNotional.Add(sellNotional)
	if sum.IsZero() {
		return types.OrderMetrics{}, false
	}

	imbalance, _ := buyNotional.Sub(sellNotional).Div(sum).Float64()

	var spread decimal.Decimal
	if bbOK {
		spread = ask.Sub(bid)
	}

	return types.OrderMetrics{
		BuyVolume:  buyNotional,
		SellVolume: sellNotional,
		Imbalance:  imbalance,
		Spread:     spread,
		BestBid:    bid,
		BestAsk:    ask,
		Timestamp:  time.Now(),
	}, true
}

func (b *Book) filteredNotional(mu *sync.RWMutex, levels map[string]decimal.Decimal, mid, priceDistanceThreshold, orderSizeThreshold decimal.Decimal) decimal.Decimal {
	mu.RLock()
	defer mu.RUnlock()

	total := decimal.Zero
	if b.tickSize.IsZero() {
		return total
	}
	for priceStr, size := range levels {
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			continue
		}
		tickDistance := price.Sub(mid).Abs().Div(b.tickSize)
		if tickDistance.GreaterThan(priceDistanceThreshold) {
			continue
		}
		if size.GreaterThan(orderSizeThreshold) {
			continue
		}
		total = total.Add(price.Mul(size))
	}
	return total
}
