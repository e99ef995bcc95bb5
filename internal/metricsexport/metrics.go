// Package metricsexport exposes the engine's live state as Prometheus
// gauges, one set per product label. Gauge names and groupings mirror
// original_source/autotrade/metrics/prometheus.py one-for-one so a reader
// already familiar with that exporter recognizes every series here.
package metricsexport

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every gauge and summary the engine reports, labeled by
// product so a single binary could in principle serve more than one
// instrument without colliding series.
type Metrics struct {
	reg *prometheus.Registry

	BuyOrders       *prometheus.GaugeVec
	SellOrders      *prometheus.GaugeVec
	OrderImbalance  *prometheus.GaugeVec
	Spread          *prometheus.GaugeVec
	MarketPrice     *prometheus.GaugeVec
	MarketPriceLong *prometheus.GaugeVec
	MarketPriceShort *prometheus.GaugeVec
	AverageTrueRange *prometheus.GaugeVec
	LimitPrice      *prometheus.GaugeVec

	OrderUpdateLag   *prometheus.GaugeVec
	OrderQueueLag    *prometheus.GaugeVec
	OrderQueueDepth  *prometheus.GaugeVec
	PriceUpdateLag   *prometheus.GaugeVec
	PriceQueueLag    *prometheus.GaugeVec
	PriceQueueDepth  *prometheus.GaugeVec

	Confidence      *prometheus.GaugeVec
	CashBalance     *prometheus.GaugeVec
	Position        *prometheus.GaugeVec
	AveragePrice    *prometheus.GaugeVec
	PendingPosition *prometheus.GaugeVec

	FilledOrders    *prometheus.SummaryVec
	CancelledOrders *prometheus.SummaryVec

	TakeProfit    *prometheus.GaugeVec
	TakeProfitHit *prometheus.GaugeVec
	StopLoss      *prometheus.GaugeVec
	StopLossHit   *prometheus.GaugeVec

	ActionPrice  *prometheus.GaugeVec
	ActionVolume *prometheus.GaugeVec
	ActionValue  *prometheus.GaugeVec

	ReceivedMessages *prometheus.SummaryVec
}

// New builds a Metrics set registered against a private registry, so tests
// can construct more than one instance without colliding with the default
// global registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	product := []string{"product"}
	channel := []string{"product", "channel"}

	return &Metrics{
		reg: reg,

		BuyOrders:      f.NewGaugeVec(prometheus.GaugeOpts{Name: "buy_orders", Help: "total value of buy orders at a given point in time"}, product),
		SellOrders:     f.NewGaugeVec(prometheus.GaugeOpts{Name: "sell_orders", Help: "total value of sell orders at a given point in time"}, product),
		OrderImbalance: f.NewGaugeVec(prometheus.GaugeOpts{Name: "order_imbalance", Help: "difference between buy and sell orders"}, product),
		Spread:         f.NewGaugeVec(prometheus.GaugeOpts{Name: "spread", Help: "difference between highest buy and lowest sell orders"}, product),

		MarketPrice:      f.NewGaugeVec(prometheus.GaugeOpts{Name: "market_price", Help: "market price at a given point in time"}, product),
		MarketPriceLong:  f.NewGaugeVec(prometheus.GaugeOpts{Name: "market_price_long_moving_average", Help: "moving average of market price at a given point in time"}, product),
		MarketPriceShort: f.NewGaugeVec(prometheus.GaugeOpts{Name: "market_price_short_moving_average", Help: "moving average of market price at a given point in time"}, product),
		AverageTrueRange: f.NewGaugeVec(prometheus.GaugeOpts{Name: "average_true_range", Help: "average true range of market price at a given point in time"}, product),
		LimitPrice:       f.NewGaugeVec(prometheus.GaugeOpts{Name: "limit_price", Help: "limit price at a given point in time"}, product),

		OrderUpdateLag:  f.NewGaugeVec(prometheus.GaugeOpts{Name: "order_update_lag", Help: "lag between orders value and true value"}, product),
		OrderQueueLag:   f.NewGaugeVec(prometheus.GaugeOpts{Name: "order_queue_lag", Help: "time order update spent in the queue"}, product),
		OrderQueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{Name: "order_queue_depth", Help: "number of items in the order update queue"}, product),
		PriceUpdateLag:  f.NewGaugeVec(prometheus.GaugeOpts{Name: "price_update_lag", Help: "lag between price value and true value"}, product),
		PriceQueueLag:   f.NewGaugeVec(prometheus.GaugeOpts{Name: "price_queue_lag", Help: "time price update spent in the queue"}, product),
		PriceQueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{Name: "price_queue_depth", Help: "number of items in the price update queue"}, product),

		Confidence:      f.NewGaugeVec(prometheus.GaugeOpts{Name: "confidence", Help: "confidence in the current action"}, product),
		CashBalance:     f.NewGaugeVec(prometheus.GaugeOpts{Name: "cash_balance", Help: "cash balance at a given point in time"}, product),
		Position:        f.NewGaugeVec(prometheus.GaugeOpts{Name: "position", Help: "position at a given point in time"}, product),
		AveragePrice:    f.NewGaugeVec(prometheus.GaugeOpts{Name: "average_price", Help: "average price of product at a given point in time"}, product),
		PendingPosition: f.NewGaugeVec(prometheus.GaugeOpts{Name: "pending_position", Help: "pending position at a given point in time"}, product),

		FilledOrders:    f.NewSummaryVec(prometheus.SummaryOpts{Name: "filled_orders", Help: "summary of filled orders"}, product),
		CancelledOrders: f.NewSummaryVec(prometheus.SummaryOpts{Name: "cancelled_orders", Help: "summary of cancelled orders"}, product),

		TakeProfit:    f.NewGaugeVec(prometheus.GaugeOpts{Name: "take_profit", Help: "take profit value at a given point in time"}, product),
		TakeProfitHit: f.NewGaugeVec(prometheus.GaugeOpts{Name: "take_profit_hit", Help: "whether take profit was hit at a given point in time"}, product),
		StopLoss:      f.NewGaugeVec(prometheus.GaugeOpts{Name: "stop_losses", Help: "stop losses value at a given point in time"}, product),
		StopLossHit:   f.NewGaugeVec(prometheus.GaugeOpts{Name: "stop_losses_hit", Help: "whether stop losses were hit at a given point in time"}, product),

		ActionPrice:  f.NewGaugeVec(prometheus.GaugeOpts{Name: "action_price", Help: "price at which the action was taken"}, product),
		ActionVolume: f.NewGaugeVec(prometheus.GaugeOpts{Name: "action_volume", Help: "volume of the action taken"}, product),
		ActionValue:  f.NewGaugeVec(prometheus.GaugeOpts{Name: "action_value", Help: "value of the action taken"}, product),

		ReceivedMessages: f.NewSummaryVec(prometheus.SummaryOpts{Name: "received_messages", Help: "summary of websocket messages received"}, channel),
	}
}

// Handler returns the HTTP handler serving this Metrics set in the
// Prometheus exposition format, for mounting under /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
