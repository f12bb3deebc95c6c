// Package transcript turns speech-recognition events into debounced utterances.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"screening-session-service/internal/models"
	"screening-session-service/internal/observability/logging"
	"screening-session-service/internal/observability/metrics"
	"screening-session-service/internal/service/stt"
)

// DefaultDelay is the pause after the last final fragment that ends an utterance.
const DefaultDelay = 1500 * time.Millisecond

const (
	SourceVoice = "voice"
	SourceTyped = "typed"
)

// Options configures a Buffer.
type Options struct {
	Delay time.Duration
	Clock clockwork.Clock
	IDs   *IDGenerator

	// OnInterim receives the latest provisional text.
	OnInterim func(text string)
	// OnUtterance receives every finalized utterance in order. It is called
	// with the buffer lock held and must not call back into the Buffer.
	OnUtterance func(u models.Utterance)

	Metrics *metrics.Metrics
}

// Buffer accumulates final fragments and emits one utterance per pause.
//
// A single-slot timer is restarted on every final fragment. Each restart bumps
// a generation counter so a timer that already fired concurrently with a
// restart or a stop is ignored.
type Buffer struct {
	delay       time.Duration
	clock       clockwork.Clock
	ids         *IDGenerator
	onInterim   func(string)
	onUtterance func(models.Utterance)
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	mu        sync.Mutex
	pending   strings.Builder
	fragments int
	timer     clockwork.Timer
	gen       uint64
	stopped   bool
}

// New creates a Buffer.
func New(opts Options) *Buffer {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.IDs == nil {
		opts.IDs = NewIDGenerator("conv")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	if opts.OnInterim == nil {
		opts.OnInterim = func(string) {}
	}
	if opts.OnUtterance == nil {
		opts.OnUtterance = func(models.Utterance) {}
	}
	return &Buffer{
		delay:       opts.Delay,
		clock:       opts.Clock,
		ids:         opts.IDs,
		onInterim:   opts.OnInterim,
		onUtterance: opts.OnUtterance,
		metrics:     opts.Metrics,
		logger:      logging.WithComponent("transcript"),
	}
}

// HandleEvent applies one recognition event: interim text replaces the
// provisional display, final text is appended and restarts the timer.
func (b *Buffer) HandleEvent(ev stt.Event) {
	interim, final := ev.Split()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}

	if interim != "" {
		b.metrics.RecordInterimTranscript()
		b.onInterim(interim)
	}

	if final != "" {
		b.metrics.RecordFinalTranscript()
		b.pending.WriteString(final)
		b.pending.WriteString(" ")
		b.fragments++
		b.restartLocked()
	}
}

func (b *Buffer) restartLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	gen := b.gen
	b.timer = b.clock.AfterFunc(b.delay, func() { b.fire(gen) })
}

func (b *Buffer) fire(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped || gen != b.gen {
		return
	}
	b.timer = nil

	text := strings.TrimSpace(b.pending.String())
	fragments := b.fragments
	b.pending.Reset()
	b.fragments = 0
	if text == "" {
		return
	}

	u := b.emitLocked(text, SourceVoice)
	b.logger.Debug().
		Str("utteranceId", u.ID).
		Int("fragments", fragments).
		Msg("Utterance finalized after pause")
}

// SubmitTyped emits text as an utterance immediately, sharing the sequence
// with spoken utterances. Pending spoken fragments are left untouched.
// It reports false if the text is blank or the buffer is stopped.
func (b *Buffer) SubmitTyped(text string) (models.Utterance, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Utterance{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return models.Utterance{}, false
	}
	return b.emitLocked(text, SourceTyped), true
}

func (b *Buffer) emitLocked(text, source string) models.Utterance {
	seq, id := b.ids.Next()
	u := models.Utterance{
		ID:     id,
		Seq:    seq,
		Text:   text,
		Origin: models.RoleUser,
		Source: source,
		At:     b.clock.Now().UTC(),
	}
	b.metrics.RecordUtterance(source)
	b.onUtterance(u)
	return u
}

// Pending returns the accumulated, not yet finalized text.
func (b *Buffer) Pending() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.pending.String())
}

// Stop tears the buffer down. A pending timer is cancelled and its text is
// discarded, not flushed. Returns the discarded text. Idempotent.
func (b *Buffer) Stop() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return ""
	}
	b.stopped = true
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}

	discarded := strings.TrimSpace(b.pending.String())
	b.pending.Reset()
	b.fragments = 0
	if discarded != "" {
		b.logger.Info().Str("discarded", discarded).Msg("Pending speech discarded on stop")
	}
	return discarded
}
