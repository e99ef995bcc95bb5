package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLiveFeedSubscribesAndDeliversMessages(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	var gotSub subscribeMsg
	subReceived := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := json.Unmarshal(raw, &gotSub); err == nil {
			close(subReceived)
		}

		conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"ticker"}`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	u, err := url.Parse(wsURL)
	if err != nil {
		t.Fatal(err)
	}

	f := NewLiveFeed(u.String(), "BTC-USD", testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	received := make(chan []byte, 1)
	go f.Run(ctx, func(data []byte) {
		select {
		case received <- data:
		default:
		}
	})

	select {
	case <-subReceived:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("server never received subscribe message")
	}
	if gotSub.Type != "subscribe" || len(gotSub.ProductIDs) != 1 || gotSub.ProductIDs[0] != "BTC-USD" {
		t.Errorf("subscribe message = %+v, want type=subscribe product=BTC-USD", gotSub)
	}

	select {
	case data := <-received:
		if string(data) != `{"channel":"ticker"}` {
			t.Errorf("delivered message = %q", data)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("never received the server's message")
	}
}
