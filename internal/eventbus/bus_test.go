package eventbus

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"cryptotrader/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishSubscribeOrderPreserved(t *testing.T) {
	t.Parallel()
	b := New(discardLogger())

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	b.Subscribe("consumer", types.KindPriceUpdate, func(_ context.Context, payload any) {
		mu.Lock()
		got = append(got, payload.(int))
		if len(got) == 5 {
			close(done)
		}
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	for i := 0; i < 5; i++ {
		b.Publish(types.KindPriceUpdate, i)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for events")
	}
	cancel()
	b.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Errorf("got[%d] = %d, want %d (ordering within kind broken)", i, v, i)
		}
	}
}

func TestSubscribeReplacesHandler(t *testing.T) {
	t.Parallel()
	b := New(discardLogger())

	called := make(chan string, 2)
	b.Subscribe("id1", types.KindOrderUpdate, func(_ context.Context, _ any) {
		called <- "first"
	})
	b.Subscribe("id1", types.KindOrderUpdate, func(_ context.Context, _ any) {
		called <- "second"
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	b.Publish(types.KindOrderUpdate, nil)

	select {
	case got := <-called:
		if got != "second" {
			t.Errorf("handler invoked = %q, want %q (replace on re-subscribe)", got, "second")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handler")
	}
}

func TestPublishDropsNewestWhenFull(t *testing.T) {
	t.Parallel()
	b := NewWithCapacity(discardLogger(), 1)
	// No subscriber, no Run — queue never drains, so the second publish
	// must be dropped rather than block.
	b.Publish(types.KindOrderFilled, 1)
	done := make(chan struct{})
	go func() {
		b.Publish(types.KindOrderFilled, 2)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked instead of dropping newest on a full queue")
	}
}
