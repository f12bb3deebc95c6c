package mock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"screening-session-service/internal/service/stt"
)

// testCallback implements stt.Callback for testing
type testCallback struct {
	mu     sync.Mutex
	events []stt.Event
	errors []error
	ended  chan struct{}
}

func newTestCallback() *testCallback {
	return &testCallback{ended: make(chan struct{}, 1)}
}

func (c *testCallback) OnEvent(ev stt.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *testCallback) OnError(err error) {
	c.mu.Lock()
	c.errors = append(c.errors, err)
	c.mu.Unlock()
	c.ended <- struct{}{}
}

func (c *testCallback) OnEnd() {
	c.ended <- struct{}{}
}

func (c *testCallback) getEvents() []stt.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]stt.Event{}, c.events...)
}

func waitEnded(t *testing.T, c *testCallback) {
	t.Helper()
	select {
	case <-c.ended:
	case <-time.After(2 * time.Second):
		t.Fatal("expected script to end")
	}
}

func TestAdapter_PlaysScriptWithGrowingResults(t *testing.T) {
	script := []Step{
		{Interim: "I feel"},
		{Final: "I feel"},
		{Interim: "sad"},
		{Final: "sad today", Confidence: 0.8},
	}
	adapter := New(script, clockwork.NewFakeClock())
	cb := newTestCallback()

	if err := adapter.Start(context.Background(), cb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitEnded(t, cb)

	events := cb.getEvents()
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}

	last := events[3]
	if last.ResultIndex != 1 || len(last.Results) != 2 {
		t.Errorf("expected rolling index 1 over 2 results, got index=%d results=%d", last.ResultIndex, len(last.Results))
	}
	interim, final := last.Split()
	if interim != "" || final != "sad today" {
		t.Errorf("unexpected split: interim=%q final=%q", interim, final)
	}
	if last.Results[1].Confidence != 0.8 {
		t.Errorf("expected confidence 0.8, got %f", last.Results[1].Confidence)
	}
	if events[1].Results[0].Confidence != defaultConfidence {
		t.Errorf("expected default confidence, got %f", events[1].Results[0].Confidence)
	}
}

func TestAdapter_WaitsOnClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	adapter := New([]Step{{After: time.Second, Final: "hello"}}, clock)
	cb := newTestCallback()
	adapter.Start(context.Background(), cb)

	clock.BlockUntil(1)
	if n := len(cb.getEvents()); n != 0 {
		t.Fatalf("expected no events before the clock advances, got %d", n)
	}

	clock.Advance(time.Second)
	waitEnded(t, cb)

	if n := len(cb.getEvents()); n != 1 {
		t.Errorf("expected 1 event, got %d", n)
	}
}

func TestAdapter_FailStep(t *testing.T) {
	adapter := New([]Step{{Fail: "network"}, {Final: "never"}}, clockwork.NewFakeClock())
	cb := newTestCallback()
	adapter.Start(context.Background(), cb)
	waitEnded(t, cb)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(cb.errors))
	}
	if len(cb.events) != 0 {
		t.Errorf("expected no events after failure, got %d", len(cb.events))
	}
}

func TestAdapter_StopEndsPlayback(t *testing.T) {
	clock := clockwork.NewFakeClock()
	adapter := New([]Step{{After: time.Minute, Final: "late"}}, clock)
	cb := newTestCallback()
	adapter.Start(context.Background(), cb)
	clock.BlockUntil(1)

	if err := adapter.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitEnded(t, cb)

	select {
	case <-adapter.Done():
	case <-time.After(time.Second):
		t.Fatal("expected Done to close")
	}
	if n := len(cb.getEvents()); n != 0 {
		t.Errorf("expected no events after stop, got %d", n)
	}
}

func TestAdapter_Stop_Idempotent(t *testing.T) {
	adapter := New(DefaultScript, clockwork.NewFakeClock())
	adapter.Stop()
	if err := adapter.Stop(); err != nil {
		t.Fatalf("unexpected error on second stop: %v", err)
	}
	if err := adapter.Start(context.Background(), newTestCallback()); err == nil {
		t.Error("expected Start after Stop to fail")
	}
}

func TestDefaultScript(t *testing.T) {
	finals := 0
	for i, step := range DefaultScript {
		if step.Final != "" {
			finals++
			if step.Confidence <= 0 || step.Confidence > 1 {
				t.Errorf("step %d has invalid confidence %f", i, step.Confidence)
			}
		}
	}
	if finals == 0 {
		t.Error("expected default script to contain final fragments")
	}
}
