package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func TestRecordSession(t *testing.T) {
	m := newTestMetrics()

	m.RecordSessionStart()
	if got := testutil.ToFloat64(m.SessionsActive); got != 1 {
		t.Fatalf("expected 1 active session, got %v", got)
	}

	m.RecordSessionEnd("closed", 12)
	if got := testutil.ToFloat64(m.SessionsActive); got != 0 {
		t.Errorf("expected 0 active sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsClosed.WithLabelValues("closed")); got != 1 {
		t.Errorf("expected 1 closed session, got %v", got)
	}
}

func TestRecordInterpret(t *testing.T) {
	m := newTestMetrics()

	m.RecordInterpret(nil, 0.2)
	m.RecordInterpret(errors.New("boom"), 0.3)

	if got := testutil.ToFloat64(m.InterpretErrors); got != 1 {
		t.Errorf("expected 1 interpret error, got %v", got)
	}
}

func TestRecordKafkaPublish(t *testing.T) {
	m := newTestMetrics()

	m.RecordKafkaPublish("turns", "turn", nil, 0.01)
	m.RecordKafkaPublish("turns", "turn", errors.New("broker down"), 0.01)

	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("turns", "turn")); got != 2 {
		t.Errorf("expected 2 publishes, got %v", got)
	}
	if got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("turns", "turn")); got != 1 {
		t.Errorf("expected 1 publish error, got %v", got)
	}
}

func TestRecordBackendRequest(t *testing.T) {
	m := newTestMetrics()

	m.RecordBackendRequest("predict", nil)
	m.RecordBackendRequest("predict", errors.New("timeout"))

	if got := testutil.ToFloat64(m.BackendRequests.WithLabelValues("predict", "ok")); got != 1 {
		t.Errorf("expected 1 ok request, got %v", got)
	}
	if got := testutil.ToFloat64(m.BackendRequests.WithLabelValues("predict", "error")); got != 1 {
		t.Errorf("expected 1 failed request, got %v", got)
	}
}
