package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval     = 30 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

// subscribeMsg is the wire shape expected by the live feed's subscribe
// handshake: one product, three channels.
type subscribeMsg struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// LiveFeed is a single-product WebSocket feed subscribing l2_data, ticker,
// and heartbeats. It auto-reconnects with exponential backoff (1s..30s)
// and re-subscribes on every reconnect; a 90s read deadline (three ping
// intervals) detects a silently dead connection.
type LiveFeed struct {
	url     string
	product string
	logger  *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewLiveFeed constructs a LiveFeed for product against wsURL.
func NewLiveFeed(wsURL, product string, logger *slog.Logger) *LiveFeed {
	return &LiveFeed{
		url:     wsURL,
		product: product,
		logger:  logger.With("component", "live_feed"),
	}
}

// Run connects and maintains the WebSocket connection with auto-reconnect,
// delivering every inbound message to onMessage. Blocks until ctx is
// cancelled.
func (f *LiveFeed) Run(ctx context.Context, onMessage func(data []byte)) error {
	backoff := time.Second
	for {
		err := f.connectAndRead(ctx, onMessage)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("live feed disconnected, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (f *LiveFeed) connectAndRead(ctx context.Context, onMessage func(data []byte)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	sub := subscribeMsg{
		Type:       "subscribe",
		ProductIDs: []string{f.product},
		Channels:   []string{"level2", "ticker", "heartbeats"},
	}
	if err := f.writeJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Info("live feed connected", "product", f.product)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		onMessage(msg)
	}
}

func (f *LiveFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.PingMessage, nil); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *LiveFeed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *LiveFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}

// Close closes the underlying connection, if any.
func (f *LiveFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}
