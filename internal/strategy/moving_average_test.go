package strategy

import (
	"testing"

	"cryptotrader/internal/config"
	"cryptotrader/pkg/types"
)

func TestMovingAverageBuySignalOnShortAboveLong(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.MovingAverageSensitivity = 5000

	price := types.PriceMetrics{
		Price:   dec("100"),
		ShortMA: dec("101"),
		LongMA:  dec("100"),
		ATR:     dec("1"),
	}

	signal := MovingAverage{}.Evaluate(cfg, types.OrderMetrics{}, price)
	if signal.Action != 1 {
		t.Errorf("action = %d, want 1", signal.Action)
	}
	if signal.Confidence <= 0 {
		t.Errorf("confidence = %v, want > 0", signal.Confidence)
	}
	if !signal.TargetPrice.GreaterThan(price.Price) {
		t.Errorf("target = %v, want > price for a buy signal", signal.TargetPrice)
	}
}

func TestMovingAverageSellSignalOnShortBelowLong(t *testing.T) {
	t.Parallel()
	cfg := config.Default()

	price := types.PriceMetrics{
		Price:   dec("100"),
		ShortMA: dec("99"),
		LongMA:  dec("100"),
		ATR:     dec("1"),
	}

	signal := MovingAverage{}.Evaluate(cfg, types.OrderMetrics{}, price)
	if signal.Action != -1 {
		t.Errorf("action = %d, want -1", signal.Action)
	}
	if !signal.TargetPrice.LessThan(price.Price) {
		t.Errorf("target = %v, want < price for a sell signal", signal.TargetPrice)
	}
}

func TestMovingAverageNoSignalWhenLongMAUnset(t *testing.T) {
	t.Parallel()
	cfg := config.Default()

	signal := MovingAverage{}.Evaluate(cfg, types.OrderMetrics{}, types.PriceMetrics{})
	if signal.Action != 0 || signal.Confidence != 0 {
		t.Errorf("got %+v, want zero signal before the long MA warms up", signal)
	}
}
