package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"cryptotrader/internal/config"
	"cryptotrader/pkg/types"
)

// MovingAverage trades the crossover of the short- and long-horizon moving
// averages, sizing confidence from how sharply they diverge and target
// distance from ATR.
type MovingAverage struct{}

// Evaluate implements Strategy.
func (MovingAverage) Evaluate(cfg config.Snapshot, _ types.OrderMetrics, price types.PriceMetrics) Signal {
	if price.LongMA.IsZero() {
		return Signal{}
	}

	slope, _ := price.ShortMA.Sub(price.LongMA).Div(price.LongMA).Float64()
	confidence := roundTo2(math.Abs(math.Tanh(slope * cfg.MovingAverageSensitivity)))

	targetDistance := price.ATR.Mul(decimal.NewFromFloat(1 + confidence*cfg.OrderPriceMultiplier)).Abs()

	switch {
	case price.ShortMA.GreaterThan(price.LongMA):
		return Signal{Action: 1, Confidence: confidence, TargetPrice: price.Price.Add(targetDistance)}
	case price.ShortMA.LessThan(price.LongMA):
		return Signal{Action: -1, Confidence: confidence, TargetPrice: price.Price.Sub(targetDistance)}
	default:
		return Signal{}
	}
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}
