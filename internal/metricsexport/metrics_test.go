package metricsexport

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsExposesSetValues(t *testing.T) {
	t.Parallel()
	m := New()

	m.CashBalance.WithLabelValues("BTC-USD").Set(1000)
	m.Position.WithLabelValues("BTC-USD").Set(0.5)
	m.TakeProfitHit.WithLabelValues("BTC-USD").Set(1)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body := new(strings.Builder)
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		body.Write(buf[:n])
		if err != nil {
			break
		}
	}

	out := body.String()
	for _, want := range []string{
		`cash_balance{product="BTC-USD"} 1000`,
		`position{product="BTC-USD"} 0.5`,
		`take_profit_hit{product="BTC-USD"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected metrics output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestMetricsReceivedMessagesTracksChannelLabel(t *testing.T) {
	t.Parallel()
	m := New()

	m.ReceivedMessages.WithLabelValues("BTC-USD", "ticker").Observe(1)
	m.ReceivedMessages.WithLabelValues("BTC-USD", "l2_data").Observe(1)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 8192)
	n, _ := resp.Body.Read(buf)
	out := string(buf[:n])

	if !strings.Contains(out, `received_messages_count{channel="ticker",product="BTC-USD"} 1`) {
		t.Errorf("expected ticker channel series, got:\n%s", out)
	}
	if !strings.Contains(out, `received_messages_count{channel="l2_data",product="BTC-USD"} 1`) {
		t.Errorf("expected l2_data channel series, got:\n%s", out)
	}
}
