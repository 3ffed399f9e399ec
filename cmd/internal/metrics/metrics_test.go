package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.SessionCreated()
	m.RoomCreated()
	m.RoomsPruned(3)
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.Join("joined")
	m.MessageSent()
	m.MessageRejected(ReasonRateLimit)
	m.HistoryFailure()
	m.FanoutDropped()

	if m.Registry() != nil {
		t.Fatalf("nil metrics must expose a nil registry")
	}
}

func TestCounters(t *testing.T) {
	t.Parallel()

	m := New()
	m.RoomsPruned(2)
	m.RoomsPruned(0)
	m.MessageRejected(ReasonTooLong)
	m.MessageRejected(ReasonTooLong)

	if got := testutil.ToFloat64(m.roomsPruned); got != 2 {
		t.Fatalf("rooms pruned=%v want 2", got)
	}
	if got := testutil.ToFloat64(m.messagesRejected.WithLabelValues(ReasonTooLong)); got != 2 {
		t.Fatalf("rejected too_long=%v want 2", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	t.Parallel()

	m := New()
	m.MessageSent()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), "nearby_ws_messages_sent_total 1") {
		t.Fatalf("expected sent counter in exposition output")
	}
}
