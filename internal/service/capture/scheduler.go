// Package capture samples camera frames on a fixed period and submits them
// for affect inference, independently of the speech pipeline.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"screening-session-service/internal/models"
	"screening-session-service/internal/observability/logging"
	"screening-session-service/internal/observability/metrics"
)

// DefaultInterval is the capture period.
const DefaultInterval = 2 * time.Second

var (
	ErrNoDevices = errors.New("no camera devices available")
	ErrDisabled  = errors.New("camera disabled")
	ErrShutdown  = errors.New("capture scheduler shut down")

	// ErrUnknownDevice is returned by SelectDevice for an id not in the last enumeration.
	ErrUnknownDevice = errors.New("unknown camera")
)

// State is the camera state reported to the coordinator.
type State int

const (
	StateDisabled State = iota
	StateRunning
	// StateUnavailable is reported when enumeration fails or finds no devices.
	StateUnavailable
	// StateStopped is terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "DISABLED"
	case StateRunning:
		return "RUNNING"
	case StateUnavailable:
		return "UNAVAILABLE"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State    State    `json:"-"`
	StateStr string   `json:"state"`
	Reason   string   `json:"reason,omitempty"`
	Enabled  bool     `json:"enabled"`
	DeviceID string   `json:"deviceId,omitempty"`
	Devices  []Device `json:"devices,omitempty"`
}

// Inferrer submits an encoded frame for affect inference.
type Inferrer interface {
	InferAffect(ctx context.Context, jpeg []byte) (models.AffectSnapshot, error)
}

// Options configures a Scheduler.
type Options struct {
	Interval       time.Duration
	RequestTimeout time.Duration
	MaxFrameWidth  int
	JPEGQuality    int
	Enabled        bool
	Clock          clockwork.Clock
	Source         Source
	Inferrer       Inferrer
	Metrics        *metrics.Metrics

	// OnAffect receives every accepted snapshot.
	OnAffect func(models.AffectSnapshot)
}

// Handle controls one running capture loop.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop cancels the loop and waits for it to exit. In-flight inference calls
// are cancelled and their results discarded. Idempotent.
func (h *Handle) Stop() {
	h.once.Do(h.cancel)
	<-h.done
}

// Done is closed when the loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Scheduler owns the capture loop and the latest affect snapshot.
type Scheduler struct {
	interval time.Duration
	timeout  time.Duration
	maxWidth int
	quality  int
	clock    clockwork.Clock
	source   Source
	inferrer Inferrer
	metrics  *metrics.Metrics
	onAffect func(models.AffectSnapshot)
	logger   zerolog.Logger

	ticks atomic.Uint64

	mu       sync.Mutex
	enabled  bool
	deviceID string
	devices  []Device
	state    State
	reason   string
	handle   *Handle
	snapshot *models.AffectSnapshot
}

// New creates a Scheduler. Nothing runs until Start.
func New(opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = opts.Interval * 5
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	if opts.OnAffect == nil {
		opts.OnAffect = func(models.AffectSnapshot) {}
	}
	return &Scheduler{
		interval: opts.Interval,
		timeout:  opts.RequestTimeout,
		maxWidth: opts.MaxFrameWidth,
		quality:  opts.JPEGQuality,
		clock:    opts.Clock,
		source:   opts.Source,
		inferrer: opts.Inferrer,
		metrics:  opts.Metrics,
		onAffect: opts.OnAffect,
		logger:   logging.WithComponent("capture"),
		enabled:  opts.Enabled,
		state:    StateDisabled,
	}
}

// Start enumerates devices and, if the camera is enabled and a device exists,
// starts exactly one capture loop. With zero devices the scheduler reports
// StateUnavailable and returns ErrNoDevices.
func (s *Scheduler) Start(ctx context.Context) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Scheduler) startLocked(ctx context.Context) (*Handle, error) {
	if s.state == StateStopped {
		return nil, ErrShutdown
	}
	if !s.enabled {
		s.stopLoopLocked()
		s.setStateLocked(StateDisabled, "")
		return nil, ErrDisabled
	}
	if s.handle != nil {
		return s.handle, nil
	}

	if s.source == nil {
		s.setStateLocked(StateUnavailable, "no camera source configured")
		return nil, ErrNoDevices
	}
	devices, err := s.source.Devices(ctx)
	if err != nil {
		s.devices = nil
		s.setStateLocked(StateUnavailable, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrNoDevices, err)
	}
	s.devices = devices
	if len(devices) == 0 {
		s.setStateLocked(StateUnavailable, "no video sources found")
		return nil, ErrNoDevices
	}

	if !hasDevice(devices, s.deviceID) {
		s.deviceID = devices[0].ID
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	ticker := s.clock.NewTicker(s.interval)
	s.handle = h
	s.setStateLocked(StateRunning, "")
	s.metrics.CaptureRunning.Inc()

	go s.run(loopCtx, ticker, s.deviceID, h)

	s.logger.Info().
		Str("deviceId", s.deviceID).
		Dur("interval", s.interval).
		Msg("Capture loop started")
	return h, nil
}

func hasDevice(devices []Device, id string) bool {
	for _, d := range devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (s *Scheduler) setStateLocked(state State, reason string) {
	if state != s.state || reason != s.reason {
		s.logger.Debug().
			Str("from", s.state.String()).
			Str("to", state.String()).
			Str("reason", reason).
			Msg("Camera state change")
	}
	s.state = state
	s.reason = reason
}

// stopLoopLocked stops the current loop, if any. The loop goroutine never
// takes s.mu, so waiting for it here cannot deadlock.
func (s *Scheduler) stopLoopLocked() {
	if s.handle == nil {
		return
	}
	s.handle.Stop()
	s.handle = nil
}

func (s *Scheduler) run(ctx context.Context, ticker clockwork.Ticker, deviceID string, h *Handle) {
	defer close(h.done)
	defer ticker.Stop()
	defer s.metrics.CaptureRunning.Dec()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.metrics.RecordCaptureTick()
			go s.tick(ctx, deviceID, s.ticks.Add(1))
		}
	}
}

// tick grabs, encodes and submits one frame. Failures are swallowed.
func (s *Scheduler) tick(ctx context.Context, deviceID string, n uint64) {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	log := s.logger.With().Uint64("tick", n).Str("deviceId", deviceID).Logger()

	frame, err := s.source.Frame(reqCtx, deviceID)
	if err != nil {
		s.metrics.RecordCaptureError("frame")
		log.Debug().Err(err).Msg("Frame grab failed, skipping tick")
		return
	}

	data, err := EncodeJPEG(frame, s.maxWidth, s.quality)
	if err != nil {
		s.metrics.RecordCaptureError("encode")
		log.Debug().Err(err).Msg("Frame encode failed, skipping tick")
		return
	}

	if reqCtx.Err() != nil || s.inferrer == nil {
		return
	}

	start := s.clock.Now()
	snap, err := s.inferrer.InferAffect(reqCtx, data)
	s.metrics.RecordAffect(s.clock.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordCaptureError("infer")
		log.Debug().Err(err).Msg("Affect inference failed, skipping tick")
		return
	}

	snap.Tick = n
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = s.clock.Now().UTC()
	}

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.snapshot = &snap
	s.mu.Unlock()

	s.onAffect(snap)
}

// SetEnabled turns capture on or off. Enabling restarts enumeration; disabling
// stops the loop without touching anything else.
func (s *Scheduler) SetEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		return ErrShutdown
	}
	s.enabled = enabled
	if !enabled {
		s.stopLoopLocked()
		s.setStateLocked(StateDisabled, "")
		return nil
	}
	_, err := s.startLocked(ctx)
	return err
}

// SelectDevice switches the capture device, restarting the loop if running.
func (s *Scheduler) SelectDevice(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		return ErrShutdown
	}
	if len(s.devices) > 0 && !hasDevice(s.devices, deviceID) {
		return fmt.Errorf("%w %q", ErrUnknownDevice, deviceID)
	}
	if deviceID == s.deviceID && s.handle != nil {
		return nil
	}
	s.deviceID = deviceID
	if !s.enabled {
		return nil
	}

	s.stopLoopLocked()
	_, err := s.startLocked(ctx)
	return err
}

// Snapshot returns the latest affect reading, if any.
func (s *Scheduler) Snapshot() (models.AffectSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return models.AffectSnapshot{}, false
	}
	return *s.snapshot, true
}

// Status returns the current camera status.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:    s.state,
		StateStr: s.state.String(),
		Reason:   s.reason,
		Enabled:  s.enabled,
		DeviceID: s.deviceID,
		Devices:  append([]Device(nil), s.devices...),
	}
}

// Running reports whether a capture loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

// Shutdown stops the loop permanently. Idempotent.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		return
	}
	s.stopLoopLocked()
	s.setStateLocked(StateStopped, "")
	s.logger.Info().Msg("Capture scheduler shut down")
}
