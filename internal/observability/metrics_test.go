package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCountOutboundAndTurns(t *testing.T) {
	m := NewMetrics("test_obs_" + time.Now().Format("150405") + "_" + time.Now().Format("000000000"))

	m.ObserveOutboundMessage("text_chunk", "queued")
	m.ObserveOutboundMessage("text_chunk", "queued")
	m.TurnOutcomes.WithLabelValues("completed").Inc()

	if got := testutil.ToFloat64(m.OutboundMessages.WithLabelValues("text_chunk", "queued")); got != 2 {
		t.Fatalf("outbound text_chunk queued = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TurnOutcomes.WithLabelValues("completed")); got != 1 {
		t.Fatalf("turns completed = %v, want 1", got)
	}
}
