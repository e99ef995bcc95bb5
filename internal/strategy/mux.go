package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"cryptotrader/internal/config"
	"cryptotrader/pkg/types"
)

// ErrStrategyNotFound is returned when config.Strategy names a strategy
// that was never registered — a fatal configuration error.
type ErrStrategyNotFound struct{ Name string }

func (e ErrStrategyNotFound) Error() string {
	return fmt.Sprintf("strategy: %q not found in registered strategies", e.Name)
}

// Mux selects the configured strategy, evaluates it, and debounces its raw
// signal into a confirmed action: +1 only after min_signals_for_buy_action
// consecutive +1s, -1 after min_signals_for_sell_action consecutive -1s.
type Mux struct {
	strategies map[string]Strategy

	currAction  int
	actionCount int
}

// NewMux constructs an empty Mux. Register strategies with Register.
func NewMux() *Mux {
	return &Mux{strategies: make(map[string]Strategy)}
}

// Register adds a named strategy.
func (m *Mux) Register(name string, s Strategy) {
	m.strategies[name] = s
}

// update feeds a raw action into the debounce counter: repeating the
// current action increments the streak, anything else resets it to 1.
func (m *Mux) update(action int) {
	if action == m.currAction {
		m.actionCount++
	} else {
		m.currAction = action
		m.actionCount = 1
	}
}

// checkSignal converts the current debounce streak into a confirmed action.
func (m *Mux) checkSignal(cfg config.Snapshot) int {
	switch {
	case m.currAction == 1 && m.actionCount >= cfg.MinSignalsForBuyAction:
		return 1
	case m.currAction == -1 && m.actionCount >= cfg.MinSignalsForSellAction:
		return -1
	default:
		return 0
	}
}

// Evaluate runs the configured strategy and returns the debounced action,
// the strategy's raw confidence, and its target price. Confidence below
// min_confidence_for_action is treated as action=0 and resets the debounce
// streak.
func (m *Mux) Evaluate(cfg config.Snapshot, order types.OrderMetrics, price types.PriceMetrics) (action int, confidence float64, targetPrice decimal.Decimal, err error) {
	s, ok := m.strategies[cfg.Strategy]
	if !ok {
		return 0, 0, decimal.Zero, ErrStrategyNotFound{Name: cfg.Strategy}
	}

	signal := s.Evaluate(cfg, order, price)

	if signal.Confidence < cfg.MinConfidenceForAction {
		m.update(0)
		return 0, signal.Confidence, decimal.Zero, nil
	}

	m.update(signal.Action)
	return m.checkSignal(cfg), signal.Confidence, signal.TargetPrice, nil
}
