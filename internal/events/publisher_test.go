package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"

	"screening-session-service/internal/models"
	"screening-session-service/internal/observability/metrics"
	"screening-session-service/internal/schema"
	"screening-session-service/internal/service/session"
)

// fakeWriter captures messages instead of talking to a broker.
type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func newTestPublisher() (*Publisher, *fakeWriter, *fakeWriter, *metrics.Metrics) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	turns, results := &fakeWriter{}, &fakeWriter{}
	return &Publisher{
		writerTurns:   turns,
		writerResults: results,
		principal:     "svc-test",
		topicTurns:    "test.turns",
		topicResults:  "test.results",
		enabled:       true,
		metrics:       m,
		validator:     schema.New(),
	}, turns, results, m
}

func validTurnEvent() models.TurnEvent {
	return models.TurnEvent{
		EventType: models.EventTypeTurn,
		SessionID: "s1",
		Timestamp: 1700000000000,
		TurnID:    "t-1",
		Kind:      string(models.TurnUtterance),
		Role:      string(models.RoleUser),
		Text:      "hello",
	}
}

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg, metrics.NewMetrics(prometheus.NewRegistry()))
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.Enabled() {
				t.Error("expected publisher to be disabled")
			}
			if p.writerTurns != nil || p.writerResults != nil {
				t.Error("expected nil writers when disabled")
			}
		})
	}
}

func TestNew_EnabledCreatesWriters(t *testing.T) {
	p := New(&Config{
		Enabled:      true,
		Brokers:      []string{"localhost:9092"},
		TopicTurns:   "test.turns",
		TopicResults: "test.results",
		Principal:    "test-principal",
	}, metrics.NewMetrics(prometheus.NewRegistry()))
	defer p.Close()

	turns, ok := p.writerTurns.(*kafka.Writer)
	if !ok || turns.Topic != "test.turns" {
		t.Errorf("expected turns writer on test.turns, got %+v", p.writerTurns)
	}
	results, ok := p.writerResults.(*kafka.Writer)
	if !ok || results.Topic != "test.results" {
		t.Errorf("expected results writer on test.results, got %+v", p.writerResults)
	}
	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
}

func TestPublisher_PublishTurn_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false, TopicTurns: "test.turns"}, metrics.NewMetrics(prometheus.NewRegistry()))

	if err := p.PublishTurn(context.Background(), "s1", validTurnEvent()); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_PublishTurn_WritesMessage(t *testing.T) {
	p, turns, results, m := newTestPublisher()

	if err := p.PublishTurn(context.Background(), "s1", validTurnEvent()); err != nil {
		t.Fatalf("PublishTurn: %v", err)
	}

	if len(turns.msgs) != 1 || len(results.msgs) != 0 {
		t.Fatalf("expected one turn message, got %d turns / %d results", len(turns.msgs), len(results.msgs))
	}
	msg := turns.msgs[0]
	if string(msg.Key) != "s1" {
		t.Errorf("expected key s1, got %q", msg.Key)
	}
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["eventType"] != models.EventTypeTurn || headers["principal"] != "svc-test" {
		t.Errorf("unexpected headers %v", headers)
	}
	var decoded models.TurnEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.Text != "hello" || decoded.TurnID != "t-1" {
		t.Errorf("unexpected payload %+v", decoded)
	}
	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("test.turns", models.EventTypeTurn)); got != 1 {
		t.Errorf("expected 1 publish recorded, got %v", got)
	}
}

func TestPublisher_RejectsInvalidEvent(t *testing.T) {
	p, turns, _, m := newTestPublisher()

	ev := validTurnEvent()
	ev.TurnID = ""
	err := p.PublishTurn(context.Background(), "s1", ev)
	if !errors.Is(err, schema.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if len(turns.msgs) != 0 {
		t.Error("invalid event must not be written")
	}
	if got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("test.turns", models.EventTypeTurn)); got != 1 {
		t.Errorf("expected 1 publish error, got %v", got)
	}
}

func TestPublisher_WriteFailure(t *testing.T) {
	p, turns, _, m := newTestPublisher()
	turns.err = errors.New("broker unreachable")

	if err := p.PublishTurn(context.Background(), "s1", validTurnEvent()); err == nil {
		t.Fatal("expected write error")
	}
	if got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("test.turns", models.EventTypeTurn)); got != 1 {
		t.Errorf("expected 1 publish error, got %v", got)
	}
}

func TestPublisher_Close(t *testing.T) {
	p, turns, results, _ := newTestPublisher()
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !turns.closed || !results.closed {
		t.Error("expected both writers closed")
	}

	if err := (&Publisher{}).Close(); err != nil {
		t.Errorf("expected no error closing publisher with nil writers, got %v", err)
	}
}

func TestSessionObserver_PublishesTurnsAndResult(t *testing.T) {
	p, turns, results, _ := newTestPublisher()
	sid := ""
	obs := NewSessionObserver(p, func() string { return sid }, session.Identity{OwnerID: "dr", SubjectID: "p1"})
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	obs.TurnAppended(models.Turn{ID: "t-1", Kind: models.TurnUtterance, Role: models.RoleUser, Text: "hello", At: at})
	sid = "s1"
	obs.InterimUpdated(&models.Turn{ID: "t-2", Kind: models.TurnInterim, Role: models.RoleUser, Text: "[...] I", At: at})
	obs.InterimUpdated(nil)
	obs.AffectUpdated(models.AffectSnapshot{Label: "Sad", Confidence: 70})
	obs.SessionClosed(models.CloseOutcome{SessionID: "s1", Message: "done", Result: &models.FinalResult{Score: 9, Band: "Mild"}})

	if len(turns.msgs) != 2 {
		t.Fatalf("expected 2 turn messages, got %d", len(turns.msgs))
	}
	if string(turns.msgs[0].Key) != "p1" {
		t.Errorf("expected subject key before a session exists, got %q", turns.msgs[0].Key)
	}
	if string(turns.msgs[1].Key) != "s1" {
		t.Errorf("expected session key, got %q", turns.msgs[1].Key)
	}

	if len(results.msgs) != 1 {
		t.Fatalf("expected 1 result message, got %d", len(results.msgs))
	}
	var ev models.SessionClosedEvent
	json.Unmarshal(results.msgs[0].Value, &ev)
	if ev.SessionID != "s1" || ev.OwnerID != "dr" || *ev.TotalScore != 9 || ev.SeverityBand != "Mild" || ev.AffectLabel != "Sad" {
		t.Errorf("unexpected result event %+v", ev)
	}
}

func TestSessionObserver_NoSessionPublishesNoResult(t *testing.T) {
	p, _, results, _ := newTestPublisher()
	obs := NewSessionObserver(p, func() string { return "" }, session.Identity{})

	obs.SessionClosed(models.CloseOutcome{})
	if len(results.msgs) != 0 {
		t.Errorf("expected no result without a session, got %d", len(results.msgs))
	}
}
