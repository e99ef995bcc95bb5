// Package feed implements the market-data providers that sit outside the
// core decision loop: a live WebSocket feed and a CSV-backed replay
// provider for backtesting, which are interchangeable behind Provider, and
// a REST client that fetches a one-shot book snapshot (SnapshotClient is
// not a Provider). All three speak the same wire shapes described by the
// l2_data/ticker channel messages.
package feed

import "context"

// Provider streams raw channel-message bytes (one l2_data, ticker, or
// heartbeats envelope per call) to onMessage until ctx is cancelled or a
// fatal error occurs. Malformed messages are the caller's concern — a
// Provider only delivers bytes, it never parses them.
type Provider interface {
	Run(ctx context.Context, onMessage func(data []byte)) error
}
