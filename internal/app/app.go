package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	grpcapi "screening-session-service/internal/api/grpc"
	"screening-session-service/internal/clients"
	"screening-session-service/internal/config"
	"screening-session-service/internal/events"
	apihttp "screening-session-service/internal/http"
	"screening-session-service/internal/models"
	"screening-session-service/internal/observability/logging"
	"screening-session-service/internal/observability/metrics"
	"screening-session-service/internal/service/capture"
	"screening-session-service/internal/service/coordinator"
	"screening-session-service/internal/service/session"
	"screening-session-service/internal/service/stt"
	"screening-session-service/internal/service/stt/google"
	"screening-session-service/internal/service/stt/mock"
)

// Speech providers accepted by STT_PROVIDER.
const (
	ProviderMock   = "mock"
	ProviderGoogle = "google"
	ProviderNone   = "none"
)

// Options overrides collaborators chosen from configuration.
type Options struct {
	// Speech replaces the configured provider. Use with SpeechSet to disable the mic.
	Speech    stt.Factory
	SpeechSet bool

	// Source replaces the directory-backed camera.
	Source capture.Source

	Clock   clockwork.Clock
	Metrics *metrics.Metrics
	Output  io.Writer
}

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Metrics     *metrics.Metrics
	Session     *session.Client
	Camera      *capture.Scheduler
	Coordinator *coordinator.Coordinator
	Publisher   *events.Publisher
	Hub         *apihttp.Hub
	Health      *grpcapi.Server

	unsubscribe []func()
	ready       atomic.Bool
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Config, opts Options) (*Application, error) {
	a := &Application{
		Cfg: cfg,
	}
	a.setupLogger(opts.Output)

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	a.Metrics = opts.Metrics

	speech := opts.Speech
	if !opts.SpeechSet {
		var err error
		speech, err = SpeechFactory(cfg.STT, opts.Clock)
		if err != nil {
			return nil, err
		}
	}

	transport := clients.NewHTTP(cfg.Conversation.RequestTimeout, a.Metrics)
	identity := session.Identity{
		OwnerID:   cfg.Identity.OwnerID,
		SubjectID: cfg.Identity.SubjectID,
		Subject: session.Subject{
			Name:   cfg.Identity.SubjectName,
			Age:    cfg.Identity.SubjectAge,
			Gender: cfg.Identity.SubjectGender,
		},
	}
	a.Session = session.New(clients.NewConversation(transport, cfg.Conversation.InterpretURL), session.Options{
		Identity:     identity,
		RequireOwner: cfg.Identity.RequireOwner,
	})

	// The capture loop only ticks after Coordinator.Start, so the closure
	// always sees the coordinator.
	var coord *coordinator.Coordinator
	source := opts.Source
	if source == nil && cfg.Capture.FramesDir != "" {
		source = capture.NewDirSource(cfg.Capture.FramesDir)
	}
	if source != nil {
		a.Camera = capture.New(capture.Options{
			Interval:       cfg.Capture.Interval,
			RequestTimeout: cfg.Conversation.RequestTimeout,
			MaxFrameWidth:  cfg.Capture.MaxFrameWidth,
			Enabled:        cfg.Capture.Enabled,
			Clock:          opts.Clock,
			Source:         source,
			Inferrer:       clients.NewAffect(transport, cfg.Capture.AffectURL),
			Metrics:        a.Metrics,
			OnAffect: func(snap models.AffectSnapshot) {
				coord.HandleAffect(snap)
			},
		})
	}

	copts := coordinator.Options{
		Session: a.Session,
		Speech:  speech,
		Delay:   cfg.Conversation.DebounceDelay,
		Clock:   opts.Clock,
		Metrics: a.Metrics,
	}
	if a.Camera != nil {
		copts.Camera = a.Camera
	}
	coord = coordinator.New(copts)
	a.Coordinator = coord

	a.Publisher = events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicTurns:   cfg.Kafka.TopicTurns,
		TopicResults: cfg.Kafka.TopicResults,
		Principal:    cfg.Kafka.Principal,
	}, a.Metrics)
	a.Hub = apihttp.NewHub(coord.View)
	a.Health = grpcapi.New()

	a.unsubscribe = append(a.unsubscribe,
		coord.Subscribe(events.NewSessionObserver(a.Publisher, coord.SessionID, identity)),
		coord.Subscribe(a.Hub),
		coord.Subscribe(a.Health),
	)

	appLogger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Bool("micAvailable", speech != nil).
		Bool("cameraAvailable", a.Camera != nil).
		Bool("kafkaEnabled", a.Publisher.Enabled()).
		Msg("Screening session application created")
	return a, nil
}

// SpeechFactory returns the speech source for cfg.Provider. ProviderNone
// returns a nil factory, which leaves the mic unavailable.
func SpeechFactory(cfg config.STTConfig, clock clockwork.Clock) (stt.Factory, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderMock, "":
		return mock.Factory(mock.DefaultScript, clock), nil
	case ProviderNone:
		return nil, nil
	case ProviderGoogle:
		if cfg.AudioInput == "" {
			return nil, errors.New("google stt: STT_AUDIO_INPUT is required")
		}
		gcfg := google.DefaultConfig()
		gcfg.LanguageCode = cfg.LanguageCode
		gcfg.SampleRateHz = cfg.SampleRateHz
		gcfg.InterimResults = cfg.InterimResults
		gcfg.AudioEncoding = cfg.AudioEncoding
		audio := func() (io.ReadCloser, error) {
			r, _, err := google.OpenWAV(cfg.AudioInput)
			return r, err
		}
		return func(ctx context.Context) (stt.Adapter, error) {
			return google.New(ctx, gcfg, audio)
		}, nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.Provider)
	}
}

// setupLogger configures zerolog for the service. ZEROLOG_LOG_LEVEL overrides
// the configured level and ENV=dev selects the console writer.
func (a *Application) setupLogger(out io.Writer) {
	lcfg := logging.DefaultConfig()
	if a.Cfg.Observability.LogLevel != "" {
		lcfg.Level = strings.ToLower(a.Cfg.Observability.LogLevel)
	}
	if a.Cfg.Observability.LogFormat != "" {
		lcfg.Format = a.Cfg.Observability.LogFormat
	}
	if envLevel := os.Getenv("ZEROLOG_LOG_LEVEL"); envLevel != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(envLevel)); err == nil {
			lcfg.Level = strings.ToLower(envLevel)
		}
	}
	if os.Getenv("ENV") == "dev" {
		lcfg.Format = "console"
	}

	logging.Init(lcfg, out)
	a.Logger = logging.WithComponent("application")

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", os.Getenv("ENV")).
		Msg("Logger setup completed")
}

// Start launches the coordinator. ctx bounds the conversation's background work.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	if err := a.Coordinator.Start(ctx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}
	a.ready.Store(true)

	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Screening session service starting")
	return nil
}

// Ready reports whether the conversation accepts input.
func (a *Application) Ready() bool {
	return a.ready.Load() && a.Coordinator.State().AcceptsInput()
}

// Shutdown closes the conversation if it is still open, waits for observers
// to drain and releases the publisher. The close call itself is not bounded
// by ctx.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Msg("Screening session service shutting down")
	a.ready.Store(false)

	_, err := a.Coordinator.Stop(ctx)
	if err != nil && !errors.Is(err, coordinator.ErrStopped) && !errors.Is(err, coordinator.ErrAlreadyStopping) {
		shutdownLogger.Warn().Err(err).Msg("Stopping conversation failed")
	}

	var waitErr error
	select {
	case <-a.Coordinator.Done():
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	for _, unsubscribe := range a.unsubscribe {
		unsubscribe()
	}
	if err := a.Publisher.Close(); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Closing publisher failed")
	}
	return waitErr
}
