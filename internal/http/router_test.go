package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"screening-session-service/internal/models"
	"screening-session-service/internal/service/capture"
	"screening-session-service/internal/service/coordinator"
)

// fakeConversation scripts coordinator answers.
type fakeConversation struct {
	mu        sync.Mutex
	view      coordinator.View
	submitted []string
	submitErr error
	micOn     bool
	micErr    error
	stops     int
	stopErr   error
	outcome   models.CloseOutcome
	camera    capture.Status
	cameraErr error
	selected  string
}

func (f *fakeConversation) View() coordinator.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeConversation) Submit(ctx context.Context, text string) (models.Utterance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return models.Utterance{}, f.submitErr
	}
	f.submitted = append(f.submitted, text)
	return models.Utterance{ID: "conv-utt-1", Seq: 1, Text: text, Source: "typed"}, nil
}

func (f *fakeConversation) ToggleMic(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.micErr != nil {
		return false, f.micErr
	}
	f.micOn = !f.micOn
	return f.micOn, nil
}

func (f *fakeConversation) Stop(ctx context.Context) (models.CloseOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.outcome, f.stopErr
}

func (f *fakeConversation) SetCameraEnabled(ctx context.Context, enabled bool) (capture.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.camera.Enabled = enabled
	return f.camera, f.cameraErr
}

func (f *fakeConversation) SelectCamera(ctx context.Context, deviceID string) (capture.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = deviceID
	f.camera.DeviceID = deviceID
	return f.camera, f.cameraErr
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	ready := false
	r := NewRouter(&fakeConversation{}, nil, func() bool { return ready })

	if rec := do(t, r, http.MethodGet, "/v1/liveness", ""); rec.Code != http.StatusOK {
		t.Errorf("liveness: expected 200, got %d", rec.Code)
	}
	if rec := do(t, r, http.MethodGet, "/v1/readiness", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readiness before ready: expected 503, got %d", rec.Code)
	}
	ready = true
	if rec := do(t, r, http.MethodGet, "/v1/readiness", ""); rec.Code != http.StatusOK {
		t.Errorf("readiness: expected 200, got %d", rec.Code)
	}
}

func TestGetSession(t *testing.T) {
	conv := &fakeConversation{view: coordinator.View{
		State:     "ACTIVE",
		SessionID: "s1",
		Turns:     []models.Turn{{ID: "t1", Kind: models.TurnUtterance, Role: models.RoleUser, Text: "hello"}},
	}}
	rec := do(t, NewRouter(conv, nil, nil), http.MethodGet, "/v1/session", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var v coordinator.View
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.SessionID != "s1" || len(v.Turns) != 1 || v.Turns[0].Text != "hello" {
		t.Errorf("unexpected view %+v", v)
	}
}

func TestSubmit(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
	}{
		{"accepted", `{"text":"I slept badly"}`, nil, http.StatusAccepted},
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"empty text", `{"text":""}`, coordinator.ErrEmptyText, http.StatusBadRequest},
		{"stopped", `{"text":"late"}`, coordinator.ErrStopped, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := &fakeConversation{submitErr: tt.err}
			rec := do(t, NewRouter(conv, nil, nil), http.MethodPost, "/v1/session/messages", tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d (%s)", tt.wantCode, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestToggleMic(t *testing.T) {
	conv := &fakeConversation{}
	r := NewRouter(conv, nil, nil)

	rec := do(t, r, http.MethodPost, "/v1/session/mic", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"micOn":true`) {
		t.Errorf("expected mic on, got %d %s", rec.Code, rec.Body.String())
	}

	conv.micErr = coordinator.ErrMicUnavailable
	if rec := do(t, r, http.MethodPost, "/v1/session/mic", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without mic, got %d", rec.Code)
	}
}

func TestStop(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"first stop", nil, http.StatusOK},
		{"already stopped", coordinator.ErrStopped, http.StatusOK},
		{"in flight", coordinator.ErrAlreadyStopping, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := &fakeConversation{
				stopErr: tt.err,
				outcome: models.CloseOutcome{SessionID: "s1", Result: &models.FinalResult{Score: 5, Band: "Mild"}},
			}
			rec := do(t, NewRouter(conv, nil, nil), http.MethodPost, "/v1/session/stop", "")
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if tt.wantCode == http.StatusOK {
				var out models.CloseOutcome
				json.NewDecoder(rec.Body).Decode(&out)
				if out.Result == nil || out.Result.Band != "Mild" {
					t.Errorf("unexpected outcome %+v", out)
				}
			}
		})
	}
}

func TestCamera(t *testing.T) {
	t.Run("absent", func(t *testing.T) {
		rec := do(t, NewRouter(&fakeConversation{}, nil, nil), http.MethodGet, "/v1/camera", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("get", func(t *testing.T) {
		status := capture.Status{StateStr: "RUNNING", Enabled: true, DeviceID: "cam0"}
		conv := &fakeConversation{view: coordinator.View{Camera: &status}}
		rec := do(t, NewRouter(conv, nil, nil), http.MethodGet, "/v1/camera", "")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"deviceId":"cam0"`) {
			t.Errorf("unexpected response %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("select and enable", func(t *testing.T) {
		conv := &fakeConversation{}
		rec := do(t, NewRouter(conv, nil, nil), http.MethodPut, "/v1/camera", `{"deviceId":"cam1","enabled":true}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if conv.selected != "cam1" || !conv.camera.Enabled {
			t.Errorf("expected cam1 enabled, got %+v", conv.camera)
		}
	})

	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
	}{
		{"empty body", `{}`, nil, http.StatusBadRequest},
		{"no devices", `{"enabled":true}`, capture.ErrNoDevices, http.StatusServiceUnavailable},
		{"unknown device", `{"deviceId":"x"}`, capture.ErrUnknownDevice, http.StatusBadRequest},
		{"stopped", `{"enabled":false}`, coordinator.ErrStopped, http.StatusConflict},
		{"no camera", `{"enabled":true}`, coordinator.ErrCameraUnavailable, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := &fakeConversation{cameraErr: tt.err}
			rec := do(t, NewRouter(conv, nil, nil), http.MethodPut, "/v1/camera", tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d (%s)", tt.wantCode, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestStream_SnapshotThenUpdates(t *testing.T) {
	conv := &fakeConversation{view: coordinator.View{State: "ACTIVE", SessionID: "s1"}}
	hub := NewHub(conv.View)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(NewRouter(conv, hub, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/session/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first StreamMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Type != MessageSnapshot || first.View == nil || first.View.SessionID != "s1" {
		t.Fatalf("expected snapshot first, got %+v", first)
	}

	deadline := time.Now().Add(time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	hub.TurnAppended(models.Turn{ID: "t1", Kind: models.TurnResponse, Role: models.RoleSystem, Text: "How is your appetite?"})
	hub.StateChanged(coordinator.StateStopped)

	var turn, state StreamMessage
	if err := conn.ReadJSON(&turn); err != nil {
		t.Fatalf("read turn: %v", err)
	}
	if turn.Type != MessageTurn || turn.Turn == nil || turn.Turn.Text != "How is your appetite?" {
		t.Errorf("unexpected turn message %+v", turn)
	}
	if err := conn.ReadJSON(&state); err != nil {
		t.Fatalf("read state: %v", err)
	}
	if state.Type != MessageState || state.State != "STOPPED" {
		t.Errorf("unexpected state message %+v", state)
	}
}

func TestStream_UpdateDuringSnapshotIsDelivered(t *testing.T) {
	conv := &fakeConversation{view: coordinator.View{State: "ACTIVE"}}
	var hub *Hub
	hub = NewHub(func() coordinator.View {
		// The coordinator moves on while the new client is being set up.
		hub.TurnAppended(models.Turn{ID: "t9", Kind: models.TurnUtterance, Role: models.RoleUser, Text: "I sleep badly"})
		return conv.View()
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for !hub.running.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	srv := httptest.NewServer(NewRouter(conv, hub, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/session/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first, next StreamMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Type != MessageSnapshot {
		t.Fatalf("expected snapshot first, got %+v", first)
	}
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read turn: %v", err)
	}
	if next.Type != MessageTurn || next.Turn == nil || next.Turn.ID != "t9" {
		t.Errorf("expected the concurrent turn, got %+v", next)
	}
}

func TestHub_PublishOnlyWhileRunning(t *testing.T) {
	hub := NewHub(func() coordinator.View { return coordinator.View{} })

	hub.StateChanged(coordinator.StateActive)
	if n := len(hub.broadcast); n != 0 {
		t.Fatalf("expected nothing queued before Run, got %d", n)
	}

	hub.running.Store(true)
	hub.StateChanged(coordinator.StateActive)
	if n := len(hub.broadcast); n != 1 {
		t.Errorf("expected update queued with no clients connected, got %d", n)
	}
}

func TestStream_UnavailableWithoutHub(t *testing.T) {
	rec := do(t, NewRouter(&fakeConversation{}, nil, nil), http.MethodGet, "/v1/session/stream", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected no stream route, got %d", rec.Code)
	}
}
