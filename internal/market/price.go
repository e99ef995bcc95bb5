package market

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptotrader/internal/timebuffer"
	"cryptotrader/pkg/types"
)

const (
	longBufferCapacity = 1_000_000
	longBufferMaxAge   = 600 * time.Second
	shortBufferCapacity = 1_000
	shortBufferMaxAge   = 60 * time.Second
	atrWindow           = 14
)

// PriceEngine maintains the last trade price, short/long moving averages,
// and ATR (max-min over the last atrWindow prints).
type PriceEngine struct {
	long  *timebuffer.Buffer
	short *timebuffer.Buffer
	atr   *timebuffer.Ring

	mu    sync.RWMutex
	price decimal.Decimal
}

// NewPriceEngine constructs a PriceEngine with the buffer sizes from the
// metrics engine design: long (1e6 samples / 600s), short (1e3 / 60s), and
// a K=14 ring for ATR.
func NewPriceEngine() *PriceEngine {
	return &PriceEngine{
		long:  timebuffer.New(longBufferCapacity, longBufferMaxAge),
		short: timebuffer.New(shortBufferCapacity, shortBufferMaxAge),
		atr:   timebuffer.NewRing(atrWindow),
	}
}

// OnTrade pushes a trade print into all three buffers and returns the
// resulting PriceMetrics. Zero and negative prices are rejected.
func (p *PriceEngine) OnTrade(price decimal.Decimal, t time.Time) (types.PriceMetrics, error) {
	if price.IsNegative() || price.IsZero() {
		return types.PriceMetrics{}, fmt.Errorf("price engine: rejected non-positive price %s", price)
	}

	p.long.Push(price, t)
	p.short.Push(price, t)
	p.atr.Push(price)

	p.mu.Lock()
	p.price = price
	p.mu.Unlock()

	var atr decimal.Decimal
	if p.atr.Full() {
		atr = p.atr.Range()
	}

	return types.PriceMetrics{
		Price:     price,
		LongMA:    p.long.Mean(),
		ShortMA:   p.short.Mean(),
		ATR:       atr,
		Timestamp: t,
	}, nil
}

// LatestPrice returns the most recent trade price, zero if none yet.
func (p *PriceEngine) LatestPrice() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.price
}
