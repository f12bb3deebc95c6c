// Package google provides a Google Cloud Speech-to-Text streaming adapter.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"

	"screening-session-service/internal/observability/logging"
	"screening-session-service/internal/service/stt"
)

// Config holds Google STT configuration.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string // LINEAR16, MULAW, FLAC, ...

	// ChunkSize bytes are sent every ChunkInterval to pace file input at real time.
	ChunkSize     int
	ChunkInterval time.Duration
}

// DefaultConfig returns the default configuration for 8kHz telephony audio.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   8000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
		ChunkSize:      1600,
		ChunkInterval:  100 * time.Millisecond,
	}
}

// AudioOpener returns a fresh raw audio stream for one recognition session.
type AudioOpener func() (io.ReadCloser, error)

// recognizeStream is the subset of the bidi stream the adapter uses.
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

type streamOpener func(ctx context.Context) (recognizeStream, error)

var errAdapterStopped = errors.New("google stt: adapter stopped")

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	cfg    Config
	client *speech.Client
	open   streamOpener
	audio  AudioOpener
	logger zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	stopped bool
}

// New creates a Google STT adapter that streams audio from the given opener.
// Requires GOOGLE_APPLICATION_CREDENTIALS to be set.
func New(ctx context.Context, cfg Config, audio AudioOpener) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	a := newAdapter(cfg, audio, func(ctx context.Context) (recognizeStream, error) {
		return c.StreamingRecognize(ctx)
	})
	a.client = c
	return a, nil
}

func newAdapter(cfg Config, audio AudioOpener, open streamOpener) *Adapter {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = def.ChunkInterval
	}
	return &Adapter{
		cfg:    cfg,
		open:   open,
		audio:  audio,
		logger: logging.WithComponent("stt-google"),
	}
}

// Name implements stt.Adapter.
func (a *Adapter) Name() string { return "google" }

// Start opens the recognition stream, sends the streaming config, then pumps
// audio and delivers results to cb in background goroutines.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return errAdapterStopped
	}
	if a.started {
		return errors.New("google stt: already started")
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := a.open(streamCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("open streaming recognize: %w", err)
	}

	if err := stream.Send(a.configRequest()); err != nil {
		cancel()
		return fmt.Errorf("send streaming config: %w", err)
	}

	audio, err := a.audio()
	if err != nil {
		cancel()
		return fmt.Errorf("open audio input: %w", err)
	}

	a.cancel = cancel
	a.started = true

	go a.pump(streamCtx, stream, audio)
	go a.listen(streamCtx, stream, cb)
	return nil
}

func (a *Adapter) configRequest() *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   parseAudioEncoding(a.cfg.AudioEncoding),
					SampleRateHertz:            int32(a.cfg.SampleRateHz),
					LanguageCode:               a.cfg.LanguageCode,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: a.cfg.InterimResults,
			},
		},
	}
}

// pump streams audio chunks at real-time pace until EOF or cancellation.
func (a *Adapter) pump(ctx context.Context, stream recognizeStream, audio io.ReadCloser) {
	defer audio.Close()

	ticker := time.NewTicker(a.cfg.ChunkInterval)
	defer ticker.Stop()

	buf := make([]byte, a.cfg.ChunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			sendErr := stream.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
					AudioContent: buf[:n],
				},
			})
			if sendErr != nil {
				a.logger.Debug().Err(sendErr).Msg("Audio send failed, stopping pump")
				return
			}
		}
		if err == io.EOF {
			stream.CloseSend()
			return
		}
		if err != nil {
			a.logger.Warn().Err(err).Msg("Audio read failed")
			stream.CloseSend()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// listen receives responses and converts them to stt events.
func (a *Adapter) listen(ctx context.Context, stream recognizeStream, cb stt.Callback) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				cb.OnEnd()
				return
			}
			cb.OnError(err)
			return
		}

		if st := resp.GetError(); st != nil && st.GetCode() != 0 {
			cb.OnError(fmt.Errorf("recognition error %d: %s", st.GetCode(), st.GetMessage()))
			return
		}

		if ev, ok := toEvent(resp); ok && ctx.Err() == nil {
			cb.OnEvent(ev)
		}
	}
}

func toEvent(resp *speechpb.StreamingRecognizeResponse) (stt.Event, bool) {
	var ev stt.Event
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		ev.Results = append(ev.Results, stt.Result{
			Text:       alt.GetTranscript(),
			IsFinal:    r.GetIsFinal(),
			Confidence: float64(alt.GetConfidence()),
		})
	}
	return ev, len(ev.Results) > 0
}

// Stop cancels the stream and closes the client.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return nil
	}
	a.stopped = true
	if a.cancel != nil {
		a.cancel()
	}
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// parseAudioEncoding maps an encoding name to the Speech API enum, falling back to LINEAR16.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
