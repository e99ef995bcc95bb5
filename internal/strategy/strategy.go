// Package strategy implements the pluggable strategy contract, two
// concrete strategies (order-imbalance and moving-average), and the
// multiplexer that debounces raw signals into a confirmed trading action.
package strategy

import (
	"github.com/shopspring/decimal"

	"cryptotrader/internal/config"
	"cryptotrader/pkg/types"
)

// Signal is the result of evaluating a strategy against current metrics:
// Action in {-1,0,+1}, Confidence in [0,1], TargetPrice the strategy's
// proposed limit price.
type Signal struct {
	Action      int
	Confidence  float64
	TargetPrice decimal.Decimal
}

// Strategy evaluates the current market state and proposes a signal.
type Strategy interface {
	Evaluate(cfg config.Snapshot, order types.OrderMetrics, price types.PriceMetrics) Signal
}
