// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — order, position,
// and market-metrics shapes plus the feed/backtest wire formats. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderStatus is the lifecycle state of a PendingOrder.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "OPEN"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// OrderKind distinguishes market orders (fill-immediately) from GTD limit orders.
type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
)

// BookSide identifies which side of the book an L2 update applies to.
type BookSide string

const (
	SideBid  BookSide = "bid"
	SideOffer BookSide = "offer"
)

// ————————————————————————————————————————————————————————————————————————
// Orders and positions
// ————————————————————————————————————————————————————————————————————————

// PendingOrder is a single order held by the paper broker, from submission
// through its terminal transition. Only one is active in the broker at a time.
type PendingOrder struct {
	ClientID       string          `json:"client_id"`
	ExchangeID     string          `json:"exchange_id"`
	Side           Side            `json:"side"`
	Kind           OrderKind       `json:"kind"`
	Volume         decimal.Decimal `json:"volume"`            // always positive magnitude
	Price          decimal.Decimal `json:"price"`              // limit price; for market orders, the fill price
	Status         OrderStatus     `json:"status"`
	TimeoutAt      *time.Time      `json:"timeout_at,omitempty"`
	FilledSize     decimal.Decimal `json:"filled_size"`
	AvgFilledPrice decimal.Decimal `json:"avg_filled_price"`
	Confidence     float64         `json:"confidence"` // [0,1]
	CreatedAt      time.Time       `json:"created_at"`
}

// SignedVolume returns Volume with the sign of Side applied (+BUY, -SELL).
func (o PendingOrder) SignedVolume() decimal.Decimal {
	if o.Side == Sell {
		return o.Volume.Neg()
	}
	return o.Volume
}

// SignedFilled returns FilledSize with the sign of Side applied.
func (o PendingOrder) SignedFilled() decimal.Decimal {
	if o.Side == Sell {
		return o.FilledSize.Neg()
	}
	return o.FilledSize
}

// Position is the realized inventory and cash state for the traded product.
type Position struct {
	Cash             decimal.Decimal `json:"cash"`
	Quantity         decimal.Decimal `json:"position"` // signed
	PositionCost     decimal.Decimal `json:"position_cost"`
	AvgPrice         decimal.Decimal `json:"avg_price"`
	EntryConfidence  float64         `json:"entry_confidence"`
	TakeProfit       decimal.Decimal `json:"take_profit"` // meaningful only when TakeProfitSet
	TakeProfitSet    bool            `json:"take_profit_set"`
}

// ————————————————————————————————————————————————————————————————————————
// Market metrics
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is one price→size entry of an L2 book side.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderMetrics is emitted by the book engine after every L2 update that
// leaves both sides non-empty with nonzero total filtered notional.
type OrderMetrics struct {
	BuyVolume  decimal.Decimal `json:"buy_volume"`
	SellVolume decimal.Decimal `json:"sell_volume"`
	Imbalance  float64         `json:"imbalance"` // (buy-sell)/(buy+sell), in [-1,1]
	Spread     decimal.Decimal `json:"spread"`
	BestBid    decimal.Decimal `json:"best_bid"`
	BestAsk    decimal.Decimal `json:"best_ask"`
	Timestamp  time.Time       `json:"timestamp"`
}

// PriceMetrics is emitted by the price engine after every trade print.
type PriceMetrics struct {
	Price     decimal.Decimal `json:"price"`
	LongMA    decimal.Decimal `json:"long_ma"`
	ShortMA   decimal.Decimal `json:"short_ma"`
	ATR       decimal.Decimal `json:"atr"`
	Timestamp time.Time       `json:"timestamp"`
}

// ————————————————————————————————————————————————————————————————————————
// Event bus payloads
// ————————————————————————————————————————————————————————————————————————

// EventKind is the typed discriminant for the event bus.
type EventKind string

const (
	KindOrderUpdate     EventKind = "OrderUpdate"
	KindOrderBookUpdate EventKind = "OrderBookUpdate"
	KindPriceUpdate     EventKind = "PriceUpdate"
	KindOrderFilled     EventKind = "OrderFilled"
	KindOrderCancelled  EventKind = "OrderCancelled"
)

// ————————————————————————————————————————————————————————————————————————
// Live feed wire formats (JSON over WebSocket)
// ————————————————————————————————————————————————————————————————————————

// L2Update is a single level change within an l2_data event.
type L2Update struct {
	Side        string `json:"side"` // "bid" or "offer"
	PriceLevel  string `json:"price_level"`
	NewQuantity string `json:"new_quantity"`
}

// L2Event is one event within an l2_data channel message.
type L2Event struct {
	Type    string     `json:"type"` // "snapshot" or "update"
	Updates []L2Update `json:"updates"`
}

// L2Message is the top-level l2_data channel message.
type L2Message struct {
	Channel   string    `json:"channel"`
	Timestamp string    `json:"timestamp"`
	Events    []L2Event `json:"events"`
}

// TickerPrint is a single trade print within a ticker event.
type TickerPrint struct {
	Price string `json:"price"`
}

// TickerEvent is one event within a ticker channel message.
type TickerEvent struct {
	Tickers []TickerPrint `json:"tickers"`
}

// TickerMessage is the top-level ticker channel message.
type TickerMessage struct {
	Channel   string        `json:"channel"`
	Timestamp string        `json:"timestamp"`
	Events    []TickerEvent `json:"events"`
}

// ————————————————————————————————————————————————————————————————————————
// Backtest CSV row formats
// ————————————————————————————————————————————————————————————————————————

// MarketPriceRow is one row of a market_price_<unix>.csv backtest file.
type MarketPriceRow struct {
	Time  time.Time
	Value decimal.Decimal
}

// OrderRow is one row of an orders_<unix>.csv (or order_buys/order_sells) backtest file.
type OrderRow struct {
	Time   time.Time
	Price  decimal.Decimal
	Volume decimal.Decimal
	Side   Side
}
