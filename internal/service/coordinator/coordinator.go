package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"screening-session-service/internal/models"
	"screening-session-service/internal/observability/logging"
	"screening-session-service/internal/observability/metrics"
	"screening-session-service/internal/service/capture"
	"screening-session-service/internal/service/session"
	"screening-session-service/internal/service/stt"
	"screening-session-service/internal/service/transcript"
)

// Texts of the system turns added by the coordinator.
const (
	InterpretErrorText   = "Error: Unable to contact backend."
	CloseErrorText       = "Error stopping conversation."
	SpeechErrorText      = "Error: Speech recognition stopped unexpectedly."
	MicUnavailableText   = "Speech recognition is not available."
	CameraUnavailableFmt = "Camera unavailable: %s"
	UnsentOneText        = "1 message was not sent."
	UnsentManyFmt        = "%d messages were not sent."
)

// Close outcome labels used in metrics.
const (
	outcomeClosed    = "closed"
	outcomeFailed    = "failed"
	outcomeNoSession = "no_session"
)

// SessionClient sends utterances and closes the server-side session.
type SessionClient interface {
	Interpret(ctx context.Context, text string) (session.Reply, error)
	Close(ctx context.Context, affect *models.AffectSnapshot) (models.CloseOutcome, error)
	SessionID() string
}

// Camera is the affect capture capability.
type Camera interface {
	Start(ctx context.Context) (*capture.Handle, error)
	SetEnabled(ctx context.Context, enabled bool) error
	SelectDevice(ctx context.Context, deviceID string) error
	Snapshot() (models.AffectSnapshot, bool)
	Status() capture.Status
	Shutdown()
}

// Options configures a Coordinator. A nil Speech or Camera disables that
// capability.
type Options struct {
	Session SessionClient
	Speech  stt.Factory
	Camera  Camera

	// Delay is the debounce pause that ends a spoken utterance.
	Delay    time.Duration
	Clock    clockwork.Clock
	IDPrefix string

	Metrics *metrics.Metrics
}

// View is a point-in-time picture of the conversation.
type View struct {
	State        string                 `json:"state"`
	SessionID    string                 `json:"sessionId,omitempty"`
	Turns        []models.Turn          `json:"turns"`
	Draft        string                 `json:"draft,omitempty"`
	MicOn        bool                   `json:"micOn"`
	MicAvailable bool                   `json:"micAvailable"`
	Camera       *capture.Status        `json:"camera,omitempty"`
	Affect       *models.AffectSnapshot `json:"affect,omitempty"`
	Outcome      *models.CloseOutcome   `json:"outcome,omitempty"`
}

// Coordinator owns one conversation from first input to close.
//
// Lock order: the transcript buffer calls back into the coordinator while
// holding its own lock, so the coordinator never calls the buffer, the camera
// or the speech adapter while holding c.mu.
type Coordinator struct {
	session SessionClient
	speech  stt.Factory
	camera  Camera
	clock   clockwork.Clock
	metrics *metrics.Metrics
	buffer  *transcript.Buffer
	logger  zerolog.Logger

	utterances *fifo[models.Utterance]
	notes      *fifo[notification]
	done       chan struct{}

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int

	mu         sync.Mutex
	state      State
	log        turnLog
	baseCtx    context.Context
	started    bool
	workerDone chan struct{}
	activeAt   time.Time
	mic        stt.Adapter
	micGen     uint64
	micNoticed bool
	outcome    *models.CloseOutcome
}

// New creates a Coordinator in IDLE. Call Start to launch the interpretation
// worker and the camera.
func New(opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	if opts.IDPrefix == "" {
		opts.IDPrefix = "conv"
	}

	c := &Coordinator{
		session:    opts.Session,
		speech:     opts.Speech,
		camera:     opts.Camera,
		clock:      opts.Clock,
		metrics:    opts.Metrics,
		logger:     logging.WithComponent("coordinator"),
		utterances: newFIFO[models.Utterance](),
		notes:      newFIFO[notification](),
		done:       make(chan struct{}),
		observers:  make(map[int]Observer),
		state:      StateIdle,
		baseCtx:    context.Background(),
	}
	c.buffer = transcript.New(transcript.Options{
		Delay:       opts.Delay,
		Clock:       opts.Clock,
		IDs:         transcript.NewIDGenerator(opts.IDPrefix),
		OnInterim:   c.handleInterim,
		OnUtterance: c.handleUtterance,
		Metrics:     opts.Metrics,
	})

	go c.dispatch()
	return c
}

var _ stt.Callback = (*Coordinator)(nil)

// Start launches the interpretation worker and starts capture when the camera
// is enabled. Camera unavailability is reported as a notice turn, not an error.
// ctx bounds the worker, speech recognition and capture.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.AcceptsInput() {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.baseCtx = ctx
	c.workerDone = make(chan struct{})
	c.mu.Unlock()

	go c.work(ctx)

	if c.camera != nil {
		if _, err := c.camera.Start(ctx); err != nil && !errors.Is(err, capture.ErrDisabled) {
			c.noticeCamera(c.camera.Status())
		}
	}

	c.logger.Info().
		Bool("micAvailable", c.speech != nil).
		Bool("cameraAvailable", c.camera != nil).
		Msg("Conversation coordinator started")
	return nil
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the server-side session identifier, if one was allocated.
func (c *Coordinator) SessionID() string {
	return c.session.SessionID()
}

// Done is closed once the conversation is STOPPED and every observer
// notification has been delivered.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Subscribe registers o for updates and returns a function that removes it.
func (c *Coordinator) Subscribe(o Observer) func() {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = o
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

// Submit sends typed text through the same path as spoken utterances.
func (c *Coordinator) Submit(ctx context.Context, text string) (models.Utterance, error) {
	if strings.TrimSpace(text) == "" {
		return models.Utterance{}, ErrEmptyText
	}

	c.mu.Lock()
	if !c.state.AcceptsInput() {
		c.mu.Unlock()
		return models.Utterance{}, ErrStopped
	}
	c.activateLocked()
	c.mu.Unlock()

	u, ok := c.buffer.SubmitTyped(text)
	if !ok {
		return models.Utterance{}, ErrStopped
	}
	return u, nil
}

// ToggleMic starts continuous recognition if it is off and stops it if it is
// on. It returns whether the mic is on afterwards.
func (c *Coordinator) ToggleMic(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if !c.state.AcceptsInput() {
		c.mu.Unlock()
		return false, ErrStopped
	}
	if c.speech == nil {
		if !c.micNoticed {
			c.micNoticed = true
			c.appendLocked(newTurn(models.TurnNotice, models.RoleSystem, MicUnavailableText, "", c.now()))
		}
		c.mu.Unlock()
		return false, ErrMicUnavailable
	}
	if c.mic != nil {
		mic := c.detachMicLocked()
		c.mu.Unlock()
		mic.Stop()
		c.logger.Info().Str("provider", mic.Name()).Msg("Microphone off")
		return false, nil
	}
	c.activateLocked()
	c.micGen++
	gen := c.micGen
	runCtx := c.baseCtx
	c.mu.Unlock()

	adapter, err := c.speech(ctx)
	if err != nil {
		c.metrics.RecordSTTError("unknown", "create")
		return false, fmt.Errorf("create speech adapter: %w", err)
	}
	if err := adapter.Start(runCtx, &micCallback{c: c, gen: gen}); err != nil {
		adapter.Stop()
		c.metrics.RecordSTTError(adapter.Name(), "start")
		return false, fmt.Errorf("start speech recognition: %w", err)
	}

	c.mu.Lock()
	switch {
	case !c.state.AcceptsInput():
		c.mu.Unlock()
		adapter.Stop()
		return false, ErrStopped
	case c.micGen != gen:
		// Ended or replaced before it could be recorded.
		c.mu.Unlock()
		adapter.Stop()
		return false, nil
	}
	c.mic = adapter
	c.mu.Unlock()

	c.logger.Info().Str("provider", adapter.Name()).Msg("Microphone on")
	return true, nil
}

// detachMicLocked forgets the current adapter so its late callbacks are
// ignored. The caller stops the returned adapter after unlocking.
func (c *Coordinator) detachMicLocked() stt.Adapter {
	mic := c.mic
	c.mic = nil
	c.micGen++
	if c.log.clearInterim() {
		c.notes.push(notification{kind: noteInterim})
	}
	return mic
}

// OnEvent implements stt.Callback.
func (c *Coordinator) OnEvent(ev stt.Event) {
	c.buffer.HandleEvent(ev)
}

// OnError implements stt.Callback. The mic is turned off and an error turn is
// shown; pending speech stays in the buffer.
func (c *Coordinator) OnError(err error) {
	c.mu.Lock()
	mic := c.detachMicLocked()
	if c.state.AcceptsInput() {
		c.appendLocked(newTurn(models.TurnError, models.RoleSystem, SpeechErrorText, "", c.now()))
	}
	c.mu.Unlock()

	provider := "unknown"
	if mic != nil {
		provider = mic.Name()
		mic.Stop()
	}
	c.metrics.RecordSTTError(provider, "stream")
	c.logger.Warn().Err(err).Str("provider", provider).Msg("Speech recognition failed")
}

// OnEnd implements stt.Callback.
func (c *Coordinator) OnEnd() {
	c.mu.Lock()
	mic := c.detachMicLocked()
	c.mu.Unlock()

	if mic != nil {
		mic.Stop()
		c.logger.Info().Str("provider", mic.Name()).Msg("Speech recognition ended")
	}
}

// micCallback drops callbacks from adapters that were replaced or stopped.
type micCallback struct {
	c   *Coordinator
	gen uint64
}

func (m *micCallback) current() bool {
	m.c.mu.Lock()
	defer m.c.mu.Unlock()
	return m.c.micGen == m.gen
}

func (m *micCallback) OnEvent(ev stt.Event) {
	if m.current() {
		m.c.OnEvent(ev)
	}
}

func (m *micCallback) OnError(err error) {
	if m.current() {
		m.c.OnError(err)
	}
}

func (m *micCallback) OnEnd() {
	if m.current() {
		m.c.OnEnd()
	}
}

// SetCameraEnabled turns affect capture on or off. It never touches the
// transcript or the session.
func (c *Coordinator) SetCameraEnabled(ctx context.Context, enabled bool) (capture.Status, error) {
	if c.camera == nil {
		return capture.Status{}, ErrCameraUnavailable
	}
	if !c.State().AcceptsInput() {
		return c.camera.Status(), ErrStopped
	}

	err := c.camera.SetEnabled(ctx, enabled)
	return c.cameraResult(err)
}

// SelectCamera switches the capture device.
func (c *Coordinator) SelectCamera(ctx context.Context, deviceID string) (capture.Status, error) {
	if c.camera == nil {
		return capture.Status{}, ErrCameraUnavailable
	}
	if !c.State().AcceptsInput() {
		return c.camera.Status(), ErrStopped
	}

	err := c.camera.SelectDevice(ctx, deviceID)
	return c.cameraResult(err)
}

func (c *Coordinator) cameraResult(err error) (capture.Status, error) {
	status := c.camera.Status()
	switch {
	case err == nil:
		return status, nil
	case errors.Is(err, capture.ErrShutdown):
		return status, ErrStopped
	case errors.Is(err, capture.ErrNoDevices):
		c.noticeCamera(status)
	}
	return status, err
}

func (c *Coordinator) noticeCamera(status capture.Status) {
	reason := status.Reason
	if reason == "" {
		reason = capture.ErrNoDevices.Error()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.AcceptsInput() {
		c.appendLocked(newTurn(models.TurnNotice, models.RoleSystem, fmt.Sprintf(CameraUnavailableFmt, reason), "", c.now()))
	}
	c.logger.Warn().Str("reason", reason).Msg("Camera unavailable")
}

// HandleAffect forwards an accepted affect reading to observers. The reading
// itself is owned by the camera.
func (c *Coordinator) HandleAffect(snap models.AffectSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.IsTerminal() {
		return
	}
	c.notes.push(notification{kind: noteAffect, affect: snap})
}

// View returns the current conversation picture.
func (c *Coordinator) View() View {
	c.mu.Lock()
	v := View{
		State:        c.state.String(),
		Turns:        c.log.snapshot(),
		Draft:        c.log.draft,
		MicOn:        c.mic != nil,
		MicAvailable: c.speech != nil,
	}
	if c.outcome != nil {
		out := *c.outcome
		v.Outcome = &out
	}
	c.mu.Unlock()

	v.SessionID = c.session.SessionID()
	if c.camera != nil {
		status := c.camera.Status()
		v.Camera = &status
		if snap, ok := c.camera.Snapshot(); ok {
			v.Affect = &snap
		}
	}
	return v
}

// Stop ends the conversation. Input is refused from the first call on, pending
// speech is discarded, the mic and the camera are torn down, and the session
// is closed once. A failed close is reported as an error turn and in the
// outcome; it is not retried. Later calls return ErrAlreadyStopping or
// ErrStopped without any network call.
func (c *Coordinator) Stop(ctx context.Context) (models.CloseOutcome, error) {
	c.mu.Lock()
	switch c.state {
	case StateStopping:
		c.mu.Unlock()
		return models.CloseOutcome{}, ErrAlreadyStopping
	case StateStopped:
		out := *c.outcome
		c.mu.Unlock()
		return out, ErrStopped
	}
	c.setStateLocked(StateStopping)
	mic := c.detachMicLocked()
	started := c.started
	workerDone := c.workerDone
	c.mu.Unlock()

	if discarded := c.buffer.Stop(); discarded != "" {
		c.logger.Debug().Str("discarded", discarded).Msg("Pending speech dropped by stop")
	}
	if mic != nil {
		mic.Stop()
	}
	if c.camera != nil {
		c.camera.Shutdown()
	}
	dropped := c.utterances.close(true)
	c.metrics.SetQueueDepth(0)

	// The in-flight interpretation, if any, completes and is displayed before
	// the session is closed. It is bounded by the client timeout, not by ctx:
	// a session allocated by that reply must still be closed.
	if started {
		<-workerDone
	}

	if len(dropped) > 0 {
		c.logger.Info().Int("dropped", len(dropped)).Msg("Queued utterances dropped by stop")
		c.mu.Lock()
		c.appendLocked(newTurn(models.TurnNotice, models.RoleSystem, unsentText(len(dropped)), "", c.now()))
		c.mu.Unlock()
	}

	var affect *models.AffectSnapshot
	if c.camera != nil {
		if snap, ok := c.camera.Snapshot(); ok {
			affect = &snap
		}
	}

	outcome, err := c.session.Close(context.WithoutCancel(ctx), affect)
	label := outcomeClosed

	c.mu.Lock()
	switch {
	case errors.Is(err, session.ErrNoSession):
		label = outcomeNoSession
		c.logger.Info().Msg("Stopped before a session was allocated, nothing to close")
	case err != nil:
		label = outcomeFailed
		c.appendLocked(newTurn(models.TurnError, models.RoleSystem, CloseErrorText, "", c.now()))
		c.logger.Error().Err(err).Str("sessionId", outcome.SessionID).Msg("Failed to close session")
	default:
		if outcome.Message != "" {
			c.appendLocked(newTurn(models.TurnResponse, models.RoleSystem, outcome.Message, "", c.now()))
		}
		ev := c.logger.Info().Str("sessionId", outcome.SessionID)
		if outcome.Result != nil {
			ev = ev.Int("score", outcome.Result.Score).Str("band", outcome.Result.Band)
		}
		ev.Msg("Session closed")
	}
	c.outcome = &outcome
	activeAt := c.activeAt
	c.setStateLocked(StateStopped)
	c.notes.push(notification{kind: noteClosed, outcome: outcome})
	c.mu.Unlock()

	c.notes.close(false)
	if !activeAt.IsZero() {
		c.metrics.RecordSessionEnd(label, c.clock.Since(activeAt).Seconds())
	}
	return outcome, nil
}

func unsentText(n int) string {
	if n == 1 {
		return UnsentOneText
	}
	return fmt.Sprintf(UnsentManyFmt, n)
}

// handleUtterance is the buffer's OnUtterance hook. It runs under the buffer
// lock, in finalization order.
func (c *Coordinator) handleUtterance(u models.Utterance) {
	c.mu.Lock()
	if !c.state.AcceptsInput() {
		c.mu.Unlock()
		return
	}
	c.activateLocked()
	c.appendLocked(newTurn(models.TurnUtterance, models.RoleUser, u.Text, u.ID, u.At))
	c.mu.Unlock()

	if c.utterances.push(u) {
		c.metrics.SetQueueDepth(c.utterances.len())
	}
}

func (c *Coordinator) handleInterim(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.AcceptsInput() {
		return
	}
	t := c.log.setInterim(text, c.now())
	c.notes.push(notification{kind: noteInterim, interim: &t})
}

// work sends utterances to the session one at a time, in order.
func (c *Coordinator) work(ctx context.Context) {
	defer close(c.workerDone)
	for {
		u, ok := c.utterances.pop(ctx)
		if !ok {
			return
		}
		c.metrics.SetQueueDepth(c.utterances.len())
		c.interpret(ctx, u)
	}
}

func (c *Coordinator) interpret(ctx context.Context, u models.Utterance) {
	log := logging.WithUtterance(c.logger, u.ID, u.Seq)

	start := c.clock.Now()
	reply, err := c.session.Interpret(ctx, u.Text)
	c.metrics.RecordInterpret(err, c.clock.Since(start).Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.IsTerminal() {
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("Interpretation failed")
		c.appendLocked(newTurn(models.TurnError, models.RoleSystem, InterpretErrorText, u.ID, c.now()))
		return
	}
	log.Debug().Str("sessionId", reply.SessionID).Msg("Utterance interpreted")
	c.appendLocked(newTurn(models.TurnResponse, models.RoleSystem, reply.Message, u.ID, c.now()))
}

func (c *Coordinator) activateLocked() {
	if c.state != StateIdle {
		return
	}
	c.setStateLocked(StateActive)
	c.activeAt = c.clock.Now()
	c.metrics.RecordSessionStart()
}

func (c *Coordinator) setStateLocked(to State) {
	if !canTransition(c.state, to) {
		c.logger.Warn().
			Str("from", c.state.String()).
			Str("to", to.String()).
			Msg("Ignoring invalid state transition")
		return
	}
	c.logger.Debug().
		Str("from", c.state.String()).
		Str("to", to.String()).
		Msg("Conversation state change")
	c.state = to
	c.notes.push(notification{kind: noteState, state: to})
}

func (c *Coordinator) appendLocked(t models.Turn) {
	if t.Kind == models.TurnUtterance && c.log.interim != nil {
		c.notes.push(notification{kind: noteInterim})
	}
	c.log.append(t)
	c.notes.push(notification{kind: noteTurn, turn: t})
}

// dispatch delivers notifications to observers until the conversation stops.
func (c *Coordinator) dispatch() {
	defer close(c.done)
	for {
		n, ok := c.notes.pop(context.Background())
		if !ok {
			return
		}
		c.obsMu.RLock()
		observers := make([]Observer, 0, len(c.observers))
		for _, o := range c.observers {
			observers = append(observers, o)
		}
		c.obsMu.RUnlock()

		for _, o := range observers {
			n.deliver(o)
		}
	}
}

func (c *Coordinator) now() time.Time {
	return c.clock.Now().UTC()
}
