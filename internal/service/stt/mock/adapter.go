// Package mock provides a scripted speech source for running without cloud
// credentials. Each utterance is played as progressive interim results
// followed by final fragments, mimicking a browser-style recognizer whose
// result list grows as fragments are finalized.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"screening-session-service/internal/service/stt"
)

// Step is one scripted recognizer emission. Exactly one of Interim, Final or
// Fail is expected to be set.
type Step struct {
	After      time.Duration `yaml:"after"`
	Interim    string        `yaml:"interim,omitempty"`
	Final      string        `yaml:"final,omitempty"`
	Confidence float64       `yaml:"confidence,omitempty"`
	Fail       string        `yaml:"fail,omitempty"`
}

// DefaultScript simulates a subject answering two screening questions with a
// pause between answers.
var DefaultScript = []Step{
	{After: 300 * time.Millisecond, Interim: "I have"},
	{After: 300 * time.Millisecond, Interim: "I have been feeling"},
	{After: 300 * time.Millisecond, Final: "I have been feeling", Confidence: 0.93},
	{After: 400 * time.Millisecond, Interim: "down most"},
	{After: 300 * time.Millisecond, Final: "down most days", Confidence: 0.91},
	{After: 3 * time.Second, Interim: "I don't"},
	{After: 300 * time.Millisecond, Final: "I don't sleep well anymore", Confidence: 0.95},
	{After: 3 * time.Second},
}

const defaultConfidence = 0.9

// Adapter implements stt.Adapter by replaying a script on a clock.
type Adapter struct {
	script []Step
	clock  clockwork.Clock

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	stopped bool
	done    chan struct{}
}

// New creates a mock adapter playing script on clock. A nil clock uses real time.
func New(script []Step, clock clockwork.Clock) *Adapter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Adapter{
		script: script,
		clock:  clock,
		done:   make(chan struct{}),
	}
}

// Name implements stt.Adapter.
func (a *Adapter) Name() string { return "mock" }

// Start begins playing the script.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return errors.New("mock stt: adapter stopped")
	}
	if a.started {
		return errors.New("mock stt: already started")
	}
	a.started = true

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go a.play(runCtx, cb)
	return nil
}

func (a *Adapter) play(ctx context.Context, cb stt.Callback) {
	defer close(a.done)

	var finals []stt.Result
	for _, step := range a.script {
		if step.After > 0 {
			select {
			case <-ctx.Done():
				cb.OnEnd()
				return
			case <-a.clock.After(step.After):
			}
		}
		if ctx.Err() != nil {
			cb.OnEnd()
			return
		}

		if step.Fail != "" {
			cb.OnError(errors.New(step.Fail))
			return
		}

		ev := stt.Event{ResultIndex: len(finals)}
		ev.Results = append(ev.Results, finals...)
		switch {
		case step.Final != "":
			conf := step.Confidence
			if conf == 0 {
				conf = defaultConfidence
			}
			r := stt.Result{Text: step.Final, IsFinal: true, Confidence: conf}
			ev.Results = append(ev.Results, r)
			finals = append(finals, r)
		case step.Interim != "":
			ev.Results = append(ev.Results, stt.Result{Text: step.Interim})
		default:
			continue
		}
		cb.OnEvent(ev)
	}
	cb.OnEnd()
}

// Stop ends playback. It is safe to call more than once.
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
	return nil
}

// Done is closed once playback has finished or been stopped after starting.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

// Factory returns an stt.Factory creating a fresh adapter per activation.
func Factory(script []Step, clock clockwork.Clock) stt.Factory {
	return func(ctx context.Context) (stt.Adapter, error) {
		return New(script, clock), nil
	}
}
