package trader

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"cryptotrader/pkg/types"
)

// confidenceDebounceThreshold is the minimum change in confidence required
// before the take-profit target is recomputed.
const confidenceDebounceThreshold = 0.2

// lotSize is the flooring granularity applied to computed position deltas.
var lotSize = decimal.NewFromFloat(0.00000001)

// PositionTracker holds realized inventory, cash, and average entry price,
// and derives target position, position delta, and dynamic take-profit /
// stop-loss levels.
type PositionTracker struct {
	tickSize     decimal.Decimal
	orderTracker *OrderTracker

	mu              sync.Mutex
	cash            decimal.Decimal
	position        decimal.Decimal
	positionCost    decimal.Decimal
	avgPrice        decimal.Decimal
	entryConfidence float64
	takeProfit      decimal.Decimal
	takeProfitSet   bool
}

// NewPositionTracker constructs a PositionTracker seeded with starting cash.
func NewPositionTracker(cash, tickSize decimal.Decimal, orderTracker *OrderTracker) *PositionTracker {
	return &PositionTracker{
		cash:         cash,
		tickSize:     tickSize,
		orderTracker: orderTracker,
	}
}

// Snapshot returns the current position state.
func (p *PositionTracker) Snapshot() types.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	return types.Position{
		Cash:            p.cash,
		Quantity:        p.position,
		PositionCost:    p.positionCost,
		AvgPrice:        p.avgPrice,
		EntryConfidence: p.entryConfidence,
		TakeProfit:      p.takeProfit,
		TakeProfitSet:   p.takeProfitSet,
	}
}

// Position returns the current signed position.
func (p *PositionTracker) Position() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// HandleOrderFilled applies a terminal fill's cash/position effect,
// recomputes avg_price (zeroing it alongside position_cost once flat), and
// updates entry_confidence: set from the order on BUY, reset to 0 on SELL.
func (p *PositionTracker) HandleOrderFilled(order types.PendingOrder) {
	p.mu.Lock()
	defer p.mu.Unlock()

	volume := order.FilledSize
	price := order.AvgFilledPrice
	cost := volume.Mul(price)

	if order.Side == types.Sell {
		cost = cost.Neg()
	}
	signedVolume := volume
	if order.Side == types.Sell {
		signedVolume = signedVolume.Neg()
	}

	p.cash = p.cash.Sub(cost)
	p.position = p.position.Add(signedVolume)
	p.positionCost = p.positionCost.Add(cost)

	if order.Side == types.Buy {
		p.entryConfidence = order.Confidence
	} else {
		p.entryConfidence = 0
	}

	if p.position.IsPositive() {
		p.avgPrice = p.positionCost.Div(p.position)
	} else {
		p.avgPrice = decimal.Zero
		p.positionCost = decimal.Zero
		p.takeProfitSet = false
	}
}

// CalculateTargetPosition mirrors the source's deliberately long-only
// sizing: an action of -1 while flat or already short targets zero (no
// short-selling is initiated here; reversal of a long is owned by
// take-profit/stop-loss, not the strategy path).
func (p *PositionTracker) CalculateTargetPosition(price decimal.Decimal, action int, confidence float64) decimal.Decimal {
	p.mu.Lock()
	position := p.position
	cash := p.cash
	p.mu.Unlock()

	if action < 0 && !position.IsPositive() {
		return decimal.Zero
	}
	if price.IsZero() {
		return decimal.Zero
	}
	maxPosition := cash.Div(price)
	return maxPosition.Mul(decimal.NewFromFloat(confidence)).Mul(decimal.NewFromInt(int64(action)))
}

// GetPositionDelta computes the volume to submit and whether the caller
// should instead cancel the in-flight order first.
func (p *PositionTracker) GetPositionDelta(price decimal.Decimal, action int, confidence float64) (delta decimal.Decimal, cancel bool) {
	pendingPosition, _ := p.orderTracker.PendingPosition()

	if pendingPosition.IsPositive() && action < 0 {
		return decimal.Zero, true
	}
	if pendingPosition.IsNegative() && action > 0 {
		return decimal.Zero, true
	}

	p.mu.Lock()
	position := p.position
	p.mu.Unlock()

	if (position.IsPositive() && action < 0) || (position.IsNegative() && action > 0) {
		// opposite-side reversal is owned by take-profit/stop-loss, not the strategy
		return decimal.Zero, false
	}

	target := p.CalculateTargetPosition(price, action, confidence)
	rawDelta := target.Sub(position).Sub(pendingPosition)

	floored := floorToLot(rawDelta)
	if floored.Abs().Mul(price).LessThan(p.tickSize) {
		return decimal.Zero, false
	}
	return floored, false
}

// ClosePositionDelta returns the signed order volume that fully closes the
// current held position (sell the entire long). Take-profit and stop-loss
// both exit through this path rather than through GetPositionDelta: the
// opposing-reversal guard there exists precisely because reversing a long
// is owned by take-profit/stop-loss, not the strategy's generic sizing.
func (p *PositionTracker) ClosePositionDelta() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position.Neg()
}

// floorToLot floors v to the nearest lotSize using exact decimal division,
// never round-tripping through float64 — a float quotient can land just
// under an integer boundary (e.g. 3e-8/1e-8 as float64 division) and
// truncate an extra lot.
func floorToLot(v decimal.Decimal) decimal.Decimal {
	return v.Div(lotSize).Floor().Mul(lotSize)
}

// calculateTakeProfit scales the take-profit offset from spread by
// confidence: higher confidence narrows the target (faster exit).
func calculateTakeProfit(entryPrice decimal.Decimal, long bool, spread decimal.Decimal, confidence, tpMultiplier, tpSensitivity float64) decimal.Decimal {
	multiplier := tpMultiplier * (1 - (math.Abs(confidence) * tpSensitivity))
	offset := spread.Mul(decimal.NewFromFloat(multiplier))
	if long {
		return entryPrice.Add(offset)
	}
	return entryPrice.Sub(offset)
}

// UpdateTakeProfit recomputes the take-profit target only when confidence
// has moved by at least confidenceDebounceThreshold since entry — the
// debounce that prevents the target from chattering every tick.
func (p *PositionTracker) UpdateTakeProfit(currentConfidence float64, currentSpread decimal.Decimal, tpMultiplier, tpSensitivity float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.position.IsPositive() {
		p.takeProfitSet = false
		return
	}

	confidenceChange := math.Abs(currentConfidence - p.entryConfidence)
	if roundTo(confidenceChange, 5) < confidenceDebounceThreshold {
		return
	}

	p.takeProfit = calculateTakeProfit(p.avgPrice, true, currentSpread, currentConfidence, tpMultiplier, tpSensitivity)
	p.takeProfitSet = true
}

// CheckTakeProfit reports whether the current price has crossed the
// take-profit target for a held long position. target is the current
// take-profit level whenever one is set, hit or not; zero otherwise.
func (p *PositionTracker) CheckTakeProfit(currentConfidence float64, currentSpread, price decimal.Decimal, tpMultiplier, tpSensitivity float64) (hit bool, target decimal.Decimal) {
	if currentConfidence == 0 {
		return false, decimal.Zero
	}
	p.UpdateTakeProfit(currentConfidence, currentSpread, tpMultiplier, tpSensitivity)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.takeProfitSet {
		return false, decimal.Zero
	}
	if p.position.IsPositive() && price.GreaterThanOrEqual(p.takeProfit) {
		return true, p.takeProfit
	}
	return false, p.takeProfit
}

// CheckStopLoss reports whether price has fallen through the dynamic
// stop-loss level derived from the long moving average, returning the
// discounted exit price to submit if so.
func (p *PositionTracker) CheckStopLoss(price, longMA decimal.Decimal, stopLossPercentage, stopLossOffset float64) (hit bool, exitPrice decimal.Decimal) {
	stop := longMA.Mul(decimal.NewFromFloat(1 - stopLossPercentage))

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.position.IsPositive() && price.LessThanOrEqual(stop) {
		return true, price.Mul(decimal.NewFromFloat(1 - stopLossOffset))
	}
	return false, decimal.Zero
}

func roundTo(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
