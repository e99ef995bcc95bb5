// Package timebuffer implements a fixed-capacity, age-bounded ring buffer
// used by the price engine to maintain O(1) amortized moving averages.
package timebuffer

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type sample struct {
	value decimal.Decimal
	at    time.Time
}

// Buffer is a ring of (value, timestamp) samples. It evicts by both capacity
// and maximum age, and maintains a running sum so mean() stays O(1) amortized.
//
// Safe for concurrent use: every method takes the buffer's own mutex.
type Buffer struct {
	mu       sync.Mutex
	samples  []sample
	head     int // index of oldest live sample
	count    int
	capacity int
	maxAge   time.Duration
	total    decimal.Decimal
}

// New returns a Buffer with the given capacity and maximum sample age.
func New(capacity int, maxAge time.Duration) *Buffer {
	return &Buffer{
		samples:  make([]sample, capacity),
		capacity: capacity,
		maxAge:   maxAge,
		total:    decimal.Zero,
	}
}

// Push appends value at time t, evicting by capacity (overwriting the
// oldest slot) and then by age (dropping anything older than t-maxAge).
// Push never fails.
func (b *Buffer) Push(value decimal.Decimal, t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tail := (b.head + b.count) % b.capacity
	if b.count == b.capacity {
		// buffer full: overwrite the oldest slot, evict its value first.
		b.total = b.total.Sub(b.samples[b.head].value)
		b.head = (b.head + 1) % b.capacity
		b.count--
	}
	b.samples[tail] = sample{value: value, at: t}
	b.total = b.total.Add(value)
	b.count++

	cutoff := t.Add(-b.maxAge)
	for b.count > 0 && b.samples[b.head].at.Before(cutoff) {
		b.total = b.total.Sub(b.samples[b.head].value)
		b.head = (b.head + 1) % b.capacity
		b.count--
	}
}

// Mean returns the arithmetic mean of live samples, or zero if empty.
// A zero mean on a cold buffer lets callers treat it as "no signal" rather
// than special-casing an error.
func (b *Buffer) Mean() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return decimal.Zero
	}
	return b.total.Div(decimal.NewFromInt(int64(b.count)))
}

// Len returns the number of live samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Ring is a fixed-capacity ring of the last K decimal values with no age
// eviction, used for ATR (max-min over the last K price observations).
type Ring struct {
	mu     sync.Mutex
	values []decimal.Decimal
	next   int
	filled bool
	k      int
}

// NewRing returns a Ring holding the last k values.
func NewRing(k int) *Ring {
	return &Ring{values: make([]decimal.Decimal, k), k: k}
}

// Push appends value, overwriting the oldest entry once full.
func (r *Ring) Push(value decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[r.next] = value
	r.next = (r.next + 1) % r.k
	if r.next == 0 {
		r.filled = true
	}
}

// Range returns max-min over the live values, or zero if the ring has not
// yet been filled to capacity.
func (r *Ring) Range() decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.filled {
		return decimal.Zero
	}
	n := r.k
	max, min := r.values[0], r.values[0]
	for i := 1; i < n; i++ {
		if r.values[i].GreaterThan(max) {
			max = r.values[i]
		}
		if r.values[i].LessThan(min) {
			min = r.values[i]
		}
	}
	return max.Sub(min)
}

// Full reports whether the ring has accumulated k samples.
func (r *Ring) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filled
}
