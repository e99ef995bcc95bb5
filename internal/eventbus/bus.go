// Package eventbus implements a typed publish/subscribe bus with bounded
// queues and asynchronous fanout, used to decouple the metrics engine and
// paper broker from the trader that consumes their output.
//
// Each event kind is drained by its own dedicated worker goroutine so that
// FIFO ordering is preserved within a kind for a single consumer, while
// different kinds make progress concurrently and never head-of-line block
// each other.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cryptotrader/pkg/types"
)

// defaultCapacity matches the ~400k bound observed in the source
// implementation's event queue.
const defaultCapacity = 400_000

// shutdownGrace bounds how long Run keeps dispatching already-buffered
// events once the engine signals shutdown.
const shutdownGrace = 5 * time.Second

// Handler processes a single event payload. Handlers are expected to be
// short-running; anything that blocks should self-suspend (e.g. via a
// buffered channel) to avoid starving other subscribers of the same kind.
type Handler func(ctx context.Context, payload any)

type envelope struct {
	kind    types.EventKind
	payload any
}

// Bus is a bounded, typed event dispatcher.
type Bus struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[types.EventKind]map[string]Handler // kind -> id -> handler
	queues      map[types.EventKind]chan envelope

	capacity int
	wg       sync.WaitGroup
}

// New constructs a Bus with the default queue capacity per kind.
func New(logger *slog.Logger) *Bus {
	return NewWithCapacity(logger, defaultCapacity)
}

// NewWithCapacity constructs a Bus whose per-kind queues hold up to
// capacity entries before publish starts dropping the newest event.
func NewWithCapacity(logger *slog.Logger, capacity int) *Bus {
	return &Bus{
		logger:      logger,
		subscribers: make(map[types.EventKind]map[string]Handler),
		queues:      make(map[types.EventKind]chan envelope),
		capacity:    capacity,
	}
}

func (b *Bus) queueFor(kind types.EventKind) chan envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[kind]
	if !ok {
		q = make(chan envelope, b.capacity)
		b.queues[kind] = q
	}
	return q
}

// Subscribe registers handler under id for the given kind. Subscribing
// again under the same id replaces the previous handler (idempotent on id).
func (b *Bus) Subscribe(id string, kind types.EventKind, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[kind] == nil {
		b.subscribers[kind] = make(map[string]Handler)
	}
	b.subscribers[kind][id] = handler
	if _, ok := b.queues[kind]; !ok {
		b.queues[kind] = make(chan envelope, b.capacity)
	}
}

// Publish enqueues payload under kind without blocking. If the kind's queue
// is full, the newest event is dropped and a warning is logged — this keeps
// the pipeline's memory bounded under a feed storm.
func (b *Bus) Publish(kind types.EventKind, payload any) {
	q := b.queueFor(kind)
	select {
	case q <- envelope{kind: kind, payload: payload}:
	default:
		b.logger.Warn("event bus queue full, dropping newest event", "kind", kind)
	}
}

// Run drains, each on its own goroutine, the queue of every kind that has a
// subscriber or a published event when Run starts; a kind first seen after
// that is not drained. Each event goes to all of its kind's subscribers
// concurrently; subscribers are kept in a map, so they are started in no
// particular order, not in registration order. Run blocks until ctx is
// cancelled, then keeps dispatching already-buffered events for up to
// shutdownGrace before returning.
func (b *Bus) Run(ctx context.Context) {
	b.mu.RLock()
	kinds := make([]types.EventKind, 0, len(b.queues))
	for k := range b.queues {
		kinds = append(kinds, k)
	}
	b.mu.RUnlock()

	var workers sync.WaitGroup
	for _, kind := range kinds {
		workers.Add(1)
		go b.drainKind(ctx, kind, &workers)
	}
	workers.Wait()
}

func (b *Bus) drainKind(ctx context.Context, kind types.EventKind, workers *sync.WaitGroup) {
	defer workers.Done()
	q := b.queueFor(kind)
	for {
		select {
		case <-ctx.Done():
			b.drainRemaining(kind, q)
			return
		case ev := <-q:
			b.dispatch(ctx, ev)
		}
	}
}

// drainRemaining gives in-flight handlers a bounded grace period to finish
// dispatching whatever is already buffered, then stops.
func (b *Bus) drainRemaining(kind types.EventKind, q chan envelope) {
	deadline := time.Now().Add(shutdownGrace)
	for time.Now().Before(deadline) {
		select {
		case ev := <-q:
			b.dispatch(context.Background(), ev)
		default:
			return
		}
	}
}

// dispatch fans an event out to every subscriber of its kind concurrently,
// then waits for all of them to finish before the owning kind-worker moves
// on to the next event. That wait is what preserves FIFO ordering within a
// kind for any single subscriber, even though subscribers of the same event
// run in parallel with each other.
func (b *Bus) dispatch(ctx context.Context, ev envelope) {
	b.mu.RLock()
	handlers := b.subscribers[ev.kind]
	snapshot := make([]Handler, 0, len(handlers))
	for _, h := range handlers {
		snapshot = append(snapshot, h)
	}
	b.mu.RUnlock()

	var fanout sync.WaitGroup
	for _, h := range snapshot {
		fanout.Add(1)
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			defer fanout.Done()
			h(ctx, ev.payload)
		}(h)
	}
	fanout.Wait()
}

// Wait blocks until all dispatched handler goroutines have returned.
// Intended for use in tests and for a clean shutdown after Run returns.
func (b *Bus) Wait() {
	b.wg.Wait()
}
