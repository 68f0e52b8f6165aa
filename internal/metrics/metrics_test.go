package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetConnectionStateIsExclusive(t *testing.T) {
	SetConnectionState("connecting")
	SetConnectionState("open")

	for _, s := range connectionStates {
		want := 0.0
		if s == "open" {
			want = 1
		}
		if got := testutil.ToFloat64(connectionState.WithLabelValues(s)); got != want {
			t.Errorf("state %s = %v, want %v", s, got, want)
		}
	}
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(outboundSends.WithLabelValues("failed"))
	OutboundSend(false)
	if got := testutil.ToFloat64(outboundSends.WithLabelValues("failed")); got != before+1 {
		t.Errorf("failed sends = %v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(relayedMessages.WithLabelValues("replied"))
	Relayed("replied")
	if got := testutil.ToFloat64(relayedMessages.WithLabelValues("replied")); got != before+1 {
		t.Errorf("replied = %v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(droppedEvents.WithLabelValues("relay."))
	EventDropped("relay.")
	if got := testutil.ToFloat64(droppedEvents.WithLabelValues("relay.")); got != before+1 {
		t.Errorf("dropped relay events = %v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(reconnectAttempts)
	ReconnectScheduled()
	if got := testutil.ToFloat64(reconnectAttempts); got != before+1 {
		t.Errorf("reconnects = %v, want %v", got, before+1)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveWebhook(10 * time.Millisecond)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{"wpprelay_connection_state", "wpprelay_webhook_request_duration_seconds"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
