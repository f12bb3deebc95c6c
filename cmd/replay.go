package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"screening-session-service/internal/app"
	"screening-session-service/internal/config"
	"screening-session-service/internal/models"
	"screening-session-service/internal/service/coordinator"
	"screening-session-service/internal/service/stt"
	"screening-session-service/internal/service/stt/mock"
)

const settleTimeout = 30 * time.Second

// Script is a scripted conversation.
type Script struct {
	Debounce time.Duration `yaml:"debounce,omitempty"`
	Steps    []ScriptStep  `yaml:"steps"`
}

// ScriptStep is one action. Exactly one field is expected to be set.
type ScriptStep struct {
	// Speech is played through the mic as recognizer results.
	Speech []mock.Step   `yaml:"speech,omitempty"`
	Type   string        `yaml:"type,omitempty"`
	Camera *bool         `yaml:"camera,omitempty"`
	Device string        `yaml:"device,omitempty"`
	Wait   time.Duration `yaml:"wait,omitempty"`
	Stop   bool          `yaml:"stop,omitempty"`
}

// LoadScript parses a YAML script.
func LoadScript(r io.Reader) (*Script, error) {
	var s Script
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if len(s.Steps) == 0 {
		return nil, errors.New("script has no steps")
	}
	return &s, nil
}

func newReplayCmd() *cobra.Command {
	var framesDir string
	cmd := &cobra.Command{
		Use:   "replay <script.yaml>",
		Short: "Play a scripted conversation and print the transcript and result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			script, err := LoadScript(f)
			if err != nil {
				return err
			}

			cfg := config.Load()
			if cmd.Flags().Changed("frames") {
				cfg.Capture.FramesDir = framesDir
			}
			if script.Debounce > 0 {
				cfg.Conversation.DebounceDelay = script.Debounce
			}
			return replay(cmd.Context(), cfg, script, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&framesDir, "frames", "", "camera frames directory (one subdirectory per device)")
	return cmd
}

// speechQueue hands each mic activation the next scripted speech segment.
type speechQueue struct {
	mu       sync.Mutex
	segments [][]mock.Step
	current  *mock.Adapter
}

func (q *speechQueue) push(steps []mock.Step) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.segments = append(q.segments, steps)
}

func (q *speechQueue) factory(ctx context.Context) (stt.Adapter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.segments) == 0 {
		return nil, errors.New("no scripted speech left")
	}
	a := mock.New(q.segments[0], nil)
	q.segments = q.segments[1:]
	q.current = a
	return a, nil
}

func (q *speechQueue) last() *mock.Adapter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// turnPrinter writes committed turns as they are appended.
type turnPrinter struct {
	coordinator.NopObserver
	out io.Writer
}

func (p turnPrinter) TurnAppended(turn models.Turn) {
	fmt.Fprintf(p.out, "%-8s %-6s %s\n", turn.Kind, turn.Role, turn.Text)
}

func (p turnPrinter) SessionClosed(outcome models.CloseOutcome) {
	switch {
	case outcome.Err != "":
		fmt.Fprintf(p.out, "result: close failed: %s\n", outcome.Err)
	case outcome.Result != nil:
		fmt.Fprintf(p.out, "result: score %d (%s)\n", outcome.Result.Score, outcome.Result.Band)
	case outcome.SessionID == "":
		fmt.Fprintln(p.out, "result: no session")
	default:
		fmt.Fprintln(p.out, "result: closed without a score")
	}
}

func replay(ctx context.Context, cfg *config.Config, script *Script, out, logOut io.Writer) error {
	speech := &speechQueue{}
	application, err := app.New(cfg, app.Options{
		Speech:    speech.factory,
		SpeechSet: true,
		Output:    logOut,
	})
	if err != nil {
		return err
	}
	conv := application.Coordinator
	unsubscribe := conv.Subscribe(turnPrinter{out: out})
	defer unsubscribe()

	if err := application.Start(ctx); err != nil {
		return err
	}

	for i, step := range script.Steps {
		if err := runStep(ctx, application, speech, step, cfg.Conversation.DebounceDelay); err != nil {
			application.Shutdown(context.WithoutCancel(ctx))
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		if step.Stop {
			break
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return application.Shutdown(shutdownCtx)
}

func runStep(ctx context.Context, a *app.Application, speech *speechQueue, step ScriptStep, delay time.Duration) error {
	conv := a.Coordinator
	switch {
	case len(step.Speech) > 0:
		speech.push(step.Speech)
		on, err := conv.ToggleMic(ctx)
		if err != nil {
			return err
		}
		if on {
			if adapter := speech.last(); adapter != nil {
				select {
				case <-adapter.Done():
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		return settle(ctx, conv, delay)

	case step.Type != "":
		if _, err := conv.Submit(ctx, step.Type); err != nil {
			return err
		}
		return settle(ctx, conv, 0)

	case step.Device != "":
		_, err := conv.SelectCamera(ctx, step.Device)
		return err

	case step.Camera != nil:
		_, err := conv.SetCameraEnabled(ctx, *step.Camera)
		return err

	case step.Wait > 0:
		select {
		case <-time.After(step.Wait):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

	case step.Stop:
		_, err := conv.Stop(ctx)
		if errors.Is(err, coordinator.ErrStopped) {
			return nil
		}
		return err
	}
	return errors.New("empty step")
}

// settle waits out the debounce and then until every utterance has a reply
// or an error turn.
func settle(ctx context.Context, conv *coordinator.Coordinator, delay time.Duration) error {
	if delay > 0 {
		select {
		case <-time.After(delay + 100*time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	deadline := time.Now().Add(settleTimeout)
	for time.Now().Before(deadline) {
		if answered(conv.View().Turns) {
			return nil
		}
		select {
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.New("timed out waiting for replies")
}

func answered(turns []models.Turn) bool {
	var utterances, replies int
	for _, t := range turns {
		switch t.Kind {
		case models.TurnUtterance:
			utterances++
		case models.TurnResponse, models.TurnError:
			replies++
		}
	}
	return replies >= utterances
}
