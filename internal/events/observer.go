package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"screening-session-service/internal/models"
	"screening-session-service/internal/observability/logging"
	"screening-session-service/internal/service/coordinator"
	"screening-session-service/internal/service/session"
)

const publishTimeout = 5 * time.Second

// SessionObserver forwards coordinator updates to the publisher. Publish
// failures are logged and never reach the conversation.
type SessionObserver struct {
	coordinator.NopObserver

	publisher *Publisher
	sessionID func() string
	identity  session.Identity
	now       func() time.Time
	logger    zerolog.Logger

	mu     sync.Mutex
	affect *models.AffectSnapshot
}

// NewSessionObserver creates an observer. sessionID is read at publish time
// because the identifier is allocated by the first interpretation.
func NewSessionObserver(p *Publisher, sessionID func() string, identity session.Identity) *SessionObserver {
	return &SessionObserver{
		publisher: p,
		sessionID: sessionID,
		identity:  identity,
		now:       time.Now,
		logger:    logging.WithComponent("events"),
	}
}

func (o *SessionObserver) key(sessionID string) string {
	if sessionID != "" {
		return sessionID
	}
	return o.identity.SubjectID
}

// TurnAppended publishes a committed turn.
func (o *SessionObserver) TurnAppended(turn models.Turn) {
	o.publishTurn(models.EventTypeTurn, turn)
}

// InterimUpdated publishes the provisional turn. Clearing it publishes nothing.
func (o *SessionObserver) InterimUpdated(interim *models.Turn) {
	if interim == nil {
		return
	}
	o.publishTurn(models.EventTypeInterim, *interim)
}

func (o *SessionObserver) publishTurn(eventType string, turn models.Turn) {
	sid := o.sessionID()
	ev := models.TurnEvent{
		EventType: eventType,
		SessionID: sid,
		SubjectID: o.identity.SubjectID,
		Timestamp: turn.At.UnixMilli(),
		TurnID:    turn.ID,
		Kind:      string(turn.Kind),
		Role:      string(turn.Role),
		Text:      turn.Text,
	}
	if ev.Timestamp <= 0 {
		ev.Timestamp = o.now().UnixMilli()
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := o.publisher.PublishTurn(ctx, o.key(sid), ev); err != nil {
		o.logger.Warn().Err(err).Str("turnId", turn.ID).Msg("Turn event not published")
	}
}

// AffectUpdated remembers the latest reading for the result event.
func (o *SessionObserver) AffectUpdated(snapshot models.AffectSnapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.affect = &snapshot
}

// SessionClosed publishes the outcome. Stopping before a session existed
// publishes nothing.
func (o *SessionObserver) SessionClosed(outcome models.CloseOutcome) {
	if outcome.SessionID == "" {
		return
	}

	ev := models.SessionClosedEvent{
		EventType: models.EventTypeSessionClosed,
		SessionID: outcome.SessionID,
		SubjectID: o.identity.SubjectID,
		OwnerID:   o.identity.OwnerID,
		Timestamp: o.now().UnixMilli(),
		Message:   outcome.Message,
		Error:     outcome.Err,
	}
	if outcome.Result != nil {
		score := outcome.Result.Score
		ev.TotalScore = &score
		ev.SeverityBand = outcome.Result.Band
	}
	o.mu.Lock()
	if o.affect != nil {
		conf := o.affect.Confidence
		ev.AffectLabel = o.affect.Label
		ev.AffectConfidence = &conf
	}
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := o.publisher.PublishResult(ctx, outcome.SessionID, ev); err != nil {
		o.logger.Error().Err(err).Str("sessionId", outcome.SessionID).Msg("Session result not published")
	}
}
