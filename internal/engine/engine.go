// Package engine is the central orchestrator of the trading system.
//
// It wires together every subsystem:
//
//  1. A feed provider (live WebSocket or CSV backtest replay) delivers raw
//     channel-message bytes.
//  2. The engine decodes l2_data/ticker messages, applies them to the
//     order-book/price engines and to the broker's matching snapshot, and
//     publishes the resulting metrics on the event bus.
//  3. The trader consumes those events, evaluates the strategy mux, and
//     submits/cancels orders on the paper broker.
//  4. The config store, exporter manager, and metrics exposition run
//     alongside as independent background loops.
//
// Lifecycle: New() → Start() → [runs until the context is cancelled] → Stop().
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptotrader/internal/broker"
	"cryptotrader/internal/config"
	"cryptotrader/internal/eventbus"
	"cryptotrader/internal/exporter"
	"cryptotrader/internal/feed"
	"cryptotrader/internal/market"
	"cryptotrader/internal/metricsexport"
	"cryptotrader/internal/strategy"
	"cryptotrader/internal/trader"
	"cryptotrader/pkg/types"
)

// defaultTickSize is the minimum price increment for a USD-quoted spot
// instrument (spec glossary: "0.01 for USD/GBP quote").
var defaultTickSize = decimal.NewFromFloat(0.01)

// defaultStartingCash seeds the paper broker — this system keeps no
// transactional durability, so every restart begins from this balance.
var defaultStartingCash = decimal.NewFromInt(10_000)

// exportBatchSize is the batch-then-flush limit used by the CSV archive
// sink, kept small so on-disk files appear promptly in normal use.
const exportBatchSize = 1000

// Config collects everything the engine needs beyond the hot-reloadable
// strategy snapshot: identity of the traded product, where to persist
// things, and which feed provider to run.
type Config struct {
	Product        string
	ConfigPath     string
	ExportDir      string // empty disables the exporter manager
	MetricsAddr    string // empty disables the metrics HTTP server
	BacktestDir    string // non-empty selects BacktestFeed over LiveFeed
	WSURL          string
	RealTimeFactor float64
	ReplayInterval time.Duration
}

// Engine owns the lifecycle of every background goroutine in the system.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	cfgStore *config.Store
	bus      *eventbus.Bus
	book     *market.Book
	prices   *market.PriceEngine
	brk      *broker.Broker
	trd      *trader.Trader
	metrics  *metricsexport.Metrics
	exports  *exporter.Manager
	feedImpl feed.Provider

	rawMu   sync.Mutex
	rawBids map[string]decimal.Decimal
	rawAsks map[string]decimal.Decimal

	metricsSrv *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs and wires the engine's components. It does not start any
// background loops — call Start for that.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	logger = logger.With("component", "engine")

	cfgStore := config.NewStore(cfg.ConfigPath, logger)
	bus := eventbus.New(logger)
	book := market.NewBook(defaultTickSize)
	prices := market.NewPriceEngine()
	brk := broker.New(cfg.Product, defaultStartingCash, logger)

	orders := trader.NewOrderTracker()
	positions := trader.NewPositionTracker(defaultStartingCash, defaultTickSize, orders)

	mux := strategy.NewMux()
	mux.Register("moving_average", strategy.MovingAverage{})
	mux.Register("order_imbalance", strategy.OrderImbalance{})

	trd := trader.New(cfg.Product, brk, cfgStore, orders, positions, mux, logger)

	metrics := metricsexport.New()

	exports := exporter.NewManager(cfg.ExportDir != "", logger)
	if cfg.ExportDir != "" {
		for _, name := range []string{"market_price", "orders"} {
			exp, err := exporter.New(name, cfg.ExportDir, exportBatchSize)
			if err != nil {
				return nil, fmt.Errorf("create exporter for %s: %w", name, err)
			}
			exports.Register(name, exp)
		}
	}

	var feedImpl feed.Provider
	if cfg.BacktestDir != "" {
		interval := cfg.ReplayInterval
		if interval <= 0 {
			interval = time.Second
		}
		factor := cfg.RealTimeFactor
		if factor <= 0 {
			factor = 1
		}
		feedImpl = feed.NewBacktestFeed(cfg.BacktestDir, time.Time{}, interval, factor, logger)
	} else {
		feedImpl = feed.NewLiveFeed(cfg.WSURL, cfg.Product, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:      cfg,
		logger:   logger,
		cfgStore: cfgStore,
		bus:      bus,
		book:     book,
		prices:   prices,
		brk:      brk,
		trd:      trd,
		metrics:  metrics,
		exports:  exports,
		feedImpl: feedImpl,
		rawBids:  make(map[string]decimal.Decimal),
		rawAsks:  make(map[string]decimal.Decimal),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start launches every background goroutine: the config reloader, event
// bus, broker check loop, feed provider, trader handlers, metrics server,
// and exporter manager.
func (e *Engine) Start() error {
	e.trd.RegisterHandlers(e.bus)

	e.brk.OnFilled(func(o types.PendingOrder) { e.bus.Publish(types.KindOrderFilled, o) })
	e.brk.OnCancelled(func(o types.PendingOrder) { e.bus.Publish(types.KindOrderCancelled, o) })

	e.runInBackground(func() { e.cfgStore.Run(e.ctx) })
	e.runInBackground(func() { e.bus.Run(e.ctx) })

	stop := make(chan struct{})
	e.runInBackground(func() { e.brk.Run(stop) })
	e.runInBackground(func() {
		<-e.ctx.Done()
		close(stop)
	})

	e.runInBackground(func() {
		if err := e.feedImpl.Run(e.ctx, e.handleMessage); err != nil && e.ctx.Err() == nil {
			e.logger.Error("feed provider stopped", "error", err)
		}
	})

	if e.cfg.MetricsAddr != "" {
		e.metricsSrv = &http.Server{Addr: e.cfg.MetricsAddr, Handler: e.metrics.Handler()}
		e.runInBackground(func() {
			if err := e.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				e.logger.Error("metrics server failed", "error", err)
			}
		})
	}

	e.runInBackground(func() { e.exports.Run(e.ctx) })

	e.logger.Info("engine started", "product", e.cfg.Product, "backtest", e.cfg.BacktestDir != "")
	return nil
}

func (e *Engine) runInBackground(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// Stop cancels every background loop and waits for a clean shutdown.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()

	if e.metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.metricsSrv.Shutdown(shutdownCtx); err != nil {
			e.logger.Error("metrics server shutdown failed", "error", err)
		}
		shutdownCancel()
	}

	e.wg.Wait()
	e.bus.Wait()
	e.logger.Info("shutdown complete")
}

// handleMessage decodes one raw feed envelope (l2_data, ticker, or an
// unrecognized/heartbeats message, which is a silent no-op) and updates
// the book, price engine, broker snapshot, metrics, and exporter archive.
func (e *Engine) handleMessage(data []byte) {
	var probe struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		e.logger.Warn("malformed feed message", "error", err)
		return
	}

	e.metrics.ReceivedMessages.WithLabelValues(e.cfg.Product, probe.Channel).Observe(1)

	switch probe.Channel {
	case "l2_data":
		e.handleL2Message(data)
	case "ticker":
		e.handleTickerMessage(data)
	default:
		// heartbeats and anything else are intentionally ignored.
	}
}

func (e *Engine) handleL2Message(data []byte) {
	var msg types.L2Message
	if err := json.Unmarshal(data, &msg); err != nil {
		e.logger.Warn("malformed l2_data message", "error", err)
		return
	}

	for _, evt := range msg.Events {
		if evt.Type == "snapshot" {
			e.rawMu.Lock()
			e.rawBids = make(map[string]decimal.Decimal)
			e.rawAsks = make(map[string]decimal.Decimal)
			e.rawMu.Unlock()
		}
		for _, u := range evt.Updates {
			e.applyLevelUpdate(u)
		}
	}

	e.rawMu.Lock()
	bidsCopy := cloneLevels(e.rawBids)
	asksCopy := cloneLevels(e.rawAsks)
	e.rawMu.Unlock()
	e.brk.UpdateBook(bidsCopy, asksCopy)
}

func (e *Engine) applyLevelUpdate(u types.L2Update) {
	price, err := decimal.NewFromString(u.PriceLevel)
	if err != nil {
		e.logger.Warn("malformed l2_data price level", "price_level", u.PriceLevel, "error", err)
		return
	}
	size, err := decimal.NewFromString(u.NewQuantity)
	if err != nil {
		e.logger.Warn("malformed l2_data quantity", "new_quantity", u.NewQuantity, "error", err)
		return
	}

	side := types.SideBid
	if u.Side == "offer" {
		side = types.SideOffer
	}

	snap := e.cfgStore.Get()
	e.book.SetThresholds(decimal.NewFromFloat(snap.PriceDistanceThreshold), decimal.NewFromFloat(snap.OrderSizeThreshold))

	e.rawMu.Lock()
	levels := e.rawBids
	if side == types.SideOffer {
		levels = e.rawAsks
	}
	if size.IsZero() {
		delete(levels, price.String())
	} else {
		levels[price.String()] = size
	}
	e.rawMu.Unlock()

	metrics, ok := e.book.Apply(side, price, size)
	if !ok {
		return
	}

	e.bus.Publish(types.KindOrderBookUpdate, metrics)
	e.bus.Publish(types.KindOrderUpdate, metrics)
	e.exports.Observe("orders", metrics.Spread.String(), metrics.Timestamp)

	e.metrics.BuyOrders.WithLabelValues(e.cfg.Product).Set(mustFloat(metrics.BuyVolume))
	e.metrics.SellOrders.WithLabelValues(e.cfg.Product).Set(mustFloat(metrics.SellVolume))
	e.metrics.OrderImbalance.WithLabelValues(e.cfg.Product).Set(metrics.Imbalance)
	e.metrics.Spread.WithLabelValues(e.cfg.Product).Set(mustFloat(metrics.Spread))
}

func (e *Engine) handleTickerMessage(data []byte) {
	var msg types.TickerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		e.logger.Warn("malformed ticker message", "error", err)
		return
	}

	for _, evt := range msg.Events {
		for _, tick := range evt.Tickers {
			price, err := decimal.NewFromString(tick.Price)
			if err != nil {
				e.logger.Warn("malformed ticker price", "price", tick.Price, "error", err)
				continue
			}

			metrics, err := e.prices.OnTrade(price, time.Now())
			if err != nil {
				e.logger.Warn("price engine rejected tick", "error", err)
				continue
			}

			e.brk.UpdatePrice(price)
			e.bus.Publish(types.KindPriceUpdate, metrics)
			e.exports.Observe("market_price", price.String(), metrics.Timestamp)

			e.metrics.MarketPrice.WithLabelValues(e.cfg.Product).Set(mustFloat(metrics.Price))
			e.metrics.MarketPriceLong.WithLabelValues(e.cfg.Product).Set(mustFloat(metrics.LongMA))
			e.metrics.MarketPriceShort.WithLabelValues(e.cfg.Product).Set(mustFloat(metrics.ShortMA))
			e.metrics.AverageTrueRange.WithLabelValues(e.cfg.Product).Set(mustFloat(metrics.ATR))

			e.metrics.CashBalance.WithLabelValues(e.cfg.Product).Set(mustFloat(e.brk.Cash()))
			e.metrics.Position.WithLabelValues(e.cfg.Product).Set(mustFloat(e.brk.Position()))
		}
	}
}

func cloneLevels(src map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
