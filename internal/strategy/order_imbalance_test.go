package strategy

import (
	"testing"

	"github.com/shopspring/decimal"

	"cryptotrader/internal/config"
	"cryptotrader/pkg/types"
)

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Scenario 5 (order_price_multiplier set explicitly, as the source scenario
// requires a multiplier other than the config default to reach target=16).
func TestOrderImbalanceScenario(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.ImbalanceThreshold = 0.3
	cfg.SpreadThreshold = 0.04
	cfg.OrderPriceMultiplier = 5

	order := types.OrderMetrics{Imbalance: 0.4, Spread: dec("4")}
	price := types.PriceMetrics{Price: dec("100")}

	signal := OrderImbalance{}.Evaluate(cfg, order, price)
	if signal.Action != 1 {
		t.Errorf("action = %d, want 1", signal.Action)
	}
	if signal.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", signal.Confidence)
	}
	if !signal.TargetPrice.Equal(dec("16")) {
		t.Errorf("target = %v, want 16", signal.TargetPrice)
	}
}

func TestOrderImbalanceNoSignalWhenSpreadTooWide(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.ImbalanceThreshold = 0.3
	cfg.SpreadThreshold = 0.01

	order := types.OrderMetrics{Imbalance: 0.9, Spread: dec("10")}
	price := types.PriceMetrics{Price: dec("100")}

	signal := OrderImbalance{}.Evaluate(cfg, order, price)
	if signal.Action != 0 || signal.Confidence != 0 {
		t.Errorf("got %+v, want zero signal (spread too wide)", signal)
	}
}

func TestOrderImbalanceSymmetricSellSide(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.ImbalanceThreshold = 0.3
	cfg.SpreadThreshold = 0.04

	order := types.OrderMetrics{Imbalance: -0.4, Spread: dec("4")}
	price := types.PriceMetrics{Price: dec("100")}

	signal := OrderImbalance{}.Evaluate(cfg, order, price)
	if signal.Action != -1 {
		t.Errorf("action = %d, want -1", signal.Action)
	}
	if signal.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", signal.Confidence)
	}
}
