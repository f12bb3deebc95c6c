// Package stt defines the contract for continuous speech-to-text sources.
package stt

import (
	"context"
	"strings"
)

// Result is one recognition hypothesis within an event.
type Result struct {
	Text       string
	IsFinal    bool
	Confidence float64
}

// Event is a batch of results reported by the recognizer. Results before
// ResultIndex were already reported in earlier events and are unchanged.
type Event struct {
	ResultIndex int
	Results     []Result
}

// Split returns the space-joined interim and final texts of the results
// starting at ResultIndex.
func (e Event) Split() (interim, final string) {
	var interimParts, finalParts []string
	start := e.ResultIndex
	if start < 0 {
		start = 0
	}
	for i := start; i < len(e.Results); i++ {
		r := e.Results[i]
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		if r.IsFinal {
			finalParts = append(finalParts, text)
		} else {
			interimParts = append(interimParts, text)
		}
	}
	return strings.Join(interimParts, " "), strings.Join(finalParts, " ")
}

// Callback receives recognition events from a speech source. Exactly one of
// OnError or OnEnd terminates the callback sequence.
type Callback interface {
	// OnEvent is called for every batch of interim and final results.
	OnEvent(ev Event)

	// OnError is called when the recognizer fails.
	OnError(err error)

	// OnEnd is called when the source stops producing events without error.
	OnEnd()
}

// Adapter is a continuous speech-to-text source.
type Adapter interface {
	// Start begins continuous recognition, delivering events to cb until Stop
	// is called or ctx is cancelled.
	Start(ctx context.Context, cb Callback) error

	// Stop ends recognition and releases resources. It is safe to call more than once.
	Stop() error

	// Name identifies the provider in logs and metrics.
	Name() string
}

// Factory creates a fresh adapter for each mic activation.
type Factory func(ctx context.Context) (Adapter, error)
