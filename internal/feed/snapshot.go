package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"cryptotrader/pkg/types"
)

// bookResponse is the exchange's level-2 book snapshot shape: each entry
// is a [price, size] pair, as strings, best level first.
type bookResponse struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

// SnapshotClient fetches a one-shot REST book snapshot to seed the book
// before the live WebSocket feed's first update arrives. Requests are
// rate-limited by a token bucket (burst 150, 15 per second).
type SnapshotClient struct {
	http   *resty.Client
	rl     *TokenBucket
	logger *slog.Logger
}

// NewSnapshotClient constructs a SnapshotClient against baseURL.
func NewSnapshotClient(baseURL string, logger *slog.Logger) *SnapshotClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &SnapshotClient{
		http:   httpClient,
		rl:     NewTokenBucket(150, 15),
		logger: logger.With("component", "snapshot_client"),
	}
}

// FetchSnapshot fetches the current book for product and returns it as an
// l2_data snapshot message, ready to feed directly into the book engine
// the same way a live "snapshot" event would be.
func (c *SnapshotClient) FetchSnapshot(ctx context.Context, product string) (types.L2Message, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return types.L2Message{}, err
	}

	var result bookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("product", product).
		SetQueryParam("level", "2").
		SetResult(&result).
		Get("/products/{product}/book")
	if err != nil {
		return types.L2Message{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.L2Message{}, fmt.Errorf("fetch snapshot: status %d: %s", resp.StatusCode(), resp.String())
	}

	updates := make([]types.L2Update, 0, len(result.Bids)+len(result.Asks))
	for _, lvl := range result.Bids {
		updates = append(updates, types.L2Update{Side: "bid", PriceLevel: lvl[0], NewQuantity: lvl[1]})
	}
	for _, lvl := range result.Asks {
		updates = append(updates, types.L2Update{Side: "offer", PriceLevel: lvl[0], NewQuantity: lvl[1]})
	}

	return types.L2Message{
		Channel:   "l2_data",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Events:    []types.L2Event{{Type: "snapshot", Updates: updates}},
	}, nil
}
