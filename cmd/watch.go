package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"screening-session-service/internal/config"
	"screening-session-service/internal/models"
)

// messageReader is the subset of *kafka.Reader used by watch.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

func newWatchCmd() *cobra.Command {
	var (
		brokers []string
		group   string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow published turns and session results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if len(brokers) == 0 {
				brokers = cfg.Kafka.Brokers
			}
			if len(brokers) == 0 {
				return errors.New("no Kafka brokers: set KAFKA_BROKERS or --brokers")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			newReader := func(topic string) messageReader {
				return kafka.NewReader(kafka.ReaderConfig{
					Brokers:     brokers,
					Topic:       topic,
					GroupID:     group,
					StartOffset: kafka.LastOffset,
					MinBytes:    1,
					MaxBytes:    10e6,
					MaxWait:     500 * time.Millisecond,
				})
			}
			return watch(ctx, cmd.OutOrStdout(),
				newReader(cfg.Kafka.TopicTurns),
				newReader(cfg.Kafka.TopicResults),
			)
		},
	}
	cmd.Flags().StringSliceVar(&brokers, "brokers", nil, "Kafka brokers (defaults to KAFKA_BROKERS)")
	cmd.Flags().StringVar(&group, "group", "", "consumer group id")
	return cmd
}

// watch prints every message from both readers until ctx is done.
func watch(ctx context.Context, out io.Writer, turns, results messageReader) error {
	var mu sync.Mutex
	emit := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(out, line)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consume(gctx, turns, func(msg kafka.Message) (string, error) {
			var ev models.TurnEvent
			if err := json.Unmarshal(msg.Value, &ev); err != nil {
				return "", err
			}
			return formatTurn(ev), nil
		}, emit)
	})
	g.Go(func() error {
		return consume(gctx, results, func(msg kafka.Message) (string, error) {
			var ev models.SessionClosedEvent
			if err := json.Unmarshal(msg.Value, &ev); err != nil {
				return "", err
			}
			return formatResult(ev), nil
		}, emit)
	})
	return g.Wait()
}

func consume(ctx context.Context, r messageReader, format func(kafka.Message) (string, error), emit func(string)) error {
	defer r.Close()
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read %s: %w", msg.Topic, err)
		}
		line, err := format(msg)
		if err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("Skipping undecodable event")
			continue
		}
		emit(line)
	}
}

func formatTurn(ev models.TurnEvent) string {
	return fmt.Sprintf("[%s] %-8s %-6s %s", truncate(ev.SessionID, 12), ev.Kind, ev.Role, ev.Text)
}

func formatResult(ev models.SessionClosedEvent) string {
	switch {
	case ev.Error != "":
		return fmt.Sprintf("[%s] close failed: %s", truncate(ev.SessionID, 12), ev.Error)
	case ev.TotalScore != nil:
		return fmt.Sprintf("[%s] score %d (%s) %s", truncate(ev.SessionID, 12), *ev.TotalScore, ev.SeverityBand, ev.Message)
	default:
		return fmt.Sprintf("[%s] closed: %s", truncate(ev.SessionID, 12), ev.Message)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
