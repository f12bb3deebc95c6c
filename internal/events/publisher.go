// Package events publishes conversation turns and session results to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"screening-session-service/internal/models"
	"screening-session-service/internal/observability"
	"screening-session-service/internal/observability/metrics"
	"screening-session-service/internal/schema"
)

// messageWriter is the subset of *kafka.Writer used by the publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes conversation events to separate Kafka topics.
type Publisher struct {
	writerTurns   messageWriter
	writerResults messageWriter
	principal     string
	topicTurns    string
	topicResults  string
	enabled       bool
	metrics       *metrics.Metrics
	validator     *schema.Validator
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicTurns   string
	TopicResults string
	Principal    string
	Enabled      bool
}

// New creates a Kafka event publisher with one topic for turns and one for
// session results. With Kafka disabled events are validated and logged only.
func New(cfg *Config, m *metrics.Metrics) *Publisher {
	if m == nil {
		m = metrics.DefaultMetrics
	}

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled:   false,
			metrics:   m,
			validator: schema.New(),
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:    cfg.Principal,
			topicTurns:   cfg.TopicTurns,
			topicResults: cfg.TopicResults,
			enabled:      false,
			metrics:      m,
			validator:    schema.New(),
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTurns", cfg.TopicTurns).
		Str("topicResults", cfg.TopicResults).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerTurns:   newWriter(cfg.TopicTurns),
		writerResults: newWriter(cfg.TopicResults),
		principal:     cfg.Principal,
		topicTurns:    cfg.TopicTurns,
		topicResults:  cfg.TopicResults,
		enabled:       true,
		metrics:       m,
		validator:     schema.New(),
	}
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// PublishTurn publishes a turn or interim event to the turns topic, keyed by
// session so one conversation stays on one partition.
func (p *Publisher) PublishTurn(ctx context.Context, key string, event models.TurnEvent) error {
	return p.publish(ctx, p.writerTurns, p.topicTurns, event.EventType, key, event)
}

// PublishResult publishes the session outcome to the results topic.
func (p *Publisher) PublishResult(ctx context.Context, key string, event models.SessionClosedEvent) error {
	return p.publish(ctx, p.writerResults, p.topicResults, event.EventType, key, event)
}

func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	if err := p.validator.Validate(event); err != nil {
		log.Error().Err(err).Str("topic", topic).Str("key", key).Msg("Refusing to publish invalid event")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}
	if id := observability.CorrelationID(ctx); id != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "correlationId", Value: []byte(id)})
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var errs []error
	for name, w := range map[string]messageWriter{"turns": p.writerTurns, "results": p.writerResults} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			log.Error().Err(err).Str("writer", name).Msg("Error closing Kafka writer")
			errs = append(errs, fmt.Errorf("close %s writer: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
