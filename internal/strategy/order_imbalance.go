package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"cryptotrader/internal/config"
	"cryptotrader/pkg/types"
)

// OrderImbalance trades the filtered buy/sell pressure imbalance when the
// spread is tight enough to be worth crossing.
type OrderImbalance struct{}

// Evaluate implements Strategy.
func (OrderImbalance) Evaluate(cfg config.Snapshot, order types.OrderMetrics, price types.PriceMetrics) Signal {
	if price.Price.IsZero() {
		return Signal{}
	}

	imbalance := order.Imbalance
	spread := order.Spread
	spreadPct, _ := spread.Abs().Div(price.Price).Float64()

	var action int
	var confidence float64
	switch {
	case imbalance >= cfg.ImbalanceThreshold && spreadPct <= cfg.SpreadThreshold:
		action = 1
		confidence = math.Min(1.0, imbalance*2)
	case imbalance <= -cfg.ImbalanceThreshold && spreadPct <= cfg.SpreadThreshold:
		action = -1
		confidence = math.Min(1.0, math.Abs(imbalance)*2)
	default:
		action, confidence = 0, 0
	}

	target := spread.
		Mul(decimal.NewFromInt(int64(action))).
		Mul(decimal.NewFromFloat(confidence)).
		Mul(decimal.NewFromFloat(cfg.OrderPriceMultiplier))

	return Signal{Action: action, Confidence: confidence, TargetPrice: target}
}
