// Package session owns the server-side conversation session identifier and
// turns utterances into system replies.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"screening-session-service/internal/clients"
	"screening-session-service/internal/models"
	"screening-session-service/internal/observability/logging"
)

var (
	// ErrNoSession is returned by Close when no session was ever allocated.
	ErrNoSession = errors.New("no session to close")
	// ErrClosed is returned once Close has been attempted.
	ErrClosed = errors.New("session already closed")
	// ErrNoOwner is returned by Interpret when an owner is required but absent.
	ErrNoOwner = errors.New("owner identity missing")
)

// GenericAcknowledgment is the reply used when the backend returns nothing displayable.
const GenericAcknowledgment = "Thank you, I have noted that."

// Subject holds the optional attributes of the person being screened.
type Subject struct {
	Name   string `json:"name,omitempty"`
	Age    int    `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`
}

// Identity is the owner/subject context injected at construction.
type Identity struct {
	OwnerID   string  `json:"ownerId,omitempty"`
	SubjectID string  `json:"subjectId,omitempty"`
	Subject   Subject `json:"subject"`
}

// Backend is the interpretation and close endpoint pair.
type Backend interface {
	Interpret(ctx context.Context, sessionID string, in clients.InterpretRequest) (*clients.InterpretResponse, error)
	CloseSession(ctx context.Context, sessionID string, in clients.CloseRequest) (*clients.CloseResponse, error)
}

// Reply is the system response to one utterance.
type Reply struct {
	SessionID     string
	Message       string
	QuestionIndex *int
	Severity      *int
}

// Options configures a Client.
type Options struct {
	Identity     Identity
	RequireOwner bool
}

// Client lazily creates and then reuses one session identifier.
type Client struct {
	backend      Backend
	identity     Identity
	requireOwner bool
	logger       zerolog.Logger

	mu        sync.Mutex
	sessionID string
	closed    bool
}

// New creates a Client.
func New(backend Backend, opts Options) *Client {
	return &Client{
		backend:      backend,
		identity:     opts.Identity,
		requireOwner: opts.RequireOwner,
		logger:       logging.WithComponent("session"),
	}
}

// SessionID returns the held identifier, or "" before the first successful call.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Identity returns the injected identity.
func (c *Client) Identity() Identity {
	return c.identity
}

// Interpret sends one utterance. On failure the session identifier is left
// untouched so the next utterance can retry.
func (c *Client) Interpret(ctx context.Context, text string) (Reply, error) {
	if c.requireOwner && c.identity.OwnerID == "" {
		return Reply{}, ErrNoOwner
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Reply{}, ErrClosed
	}
	sid := c.sessionID
	c.mu.Unlock()

	resp, err := c.backend.Interpret(ctx, sid, clients.InterpretRequest{
		Text:      text,
		SubjectID: c.identity.SubjectID,
		OwnerID:   c.identity.OwnerID,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("interpret: %w", err)
	}

	c.mu.Lock()
	switch {
	case c.sessionID == "" && resp.SessionID != "":
		c.sessionID = resp.SessionID
		c.logger = logging.WithSession(c.logger, resp.SessionID, c.identity.SubjectID)
		c.logger.Info().Msg("Session allocated")
	case resp.SessionID != "" && resp.SessionID != c.sessionID:
		c.logger.Warn().
			Str("returned", resp.SessionID).
			Msg("Backend returned a different session id, keeping the first")
	}
	sid = c.sessionID
	c.mu.Unlock()

	return Reply{
		SessionID:     sid,
		Message:       FallbackMessage(resp),
		QuestionIndex: resp.QuestionIndex,
		Severity:      resp.Severity,
	}, nil
}

// FallbackMessage returns the backend message, or one built from whichever
// structured fields are present. It never fails.
func FallbackMessage(resp *clients.InterpretResponse) string {
	if resp == nil {
		return GenericAcknowledgment
	}
	if resp.Message != nil {
		if msg := strings.TrimSpace(*resp.Message); msg != "" {
			return msg
		}
	}
	switch {
	case resp.QuestionIndex != nil && resp.Severity != nil:
		return fmt.Sprintf("Mapped to PHQ-9 question %d with severity %d", *resp.QuestionIndex+1, *resp.Severity)
	case resp.QuestionIndex != nil:
		return fmt.Sprintf("Mapped to PHQ-9 question %d", *resp.QuestionIndex+1)
	case resp.Severity != nil:
		return fmt.Sprintf("Recorded response with severity %d", *resp.Severity)
	default:
		return GenericAcknowledgment
	}
}

// Close sends the held session to the close endpoint with the identity and
// the latest affect reading. Only the first call reaches the network.
func (c *Client) Close(ctx context.Context, affect *models.AffectSnapshot) (models.CloseOutcome, error) {
	c.mu.Lock()
	if c.sessionID == "" {
		c.mu.Unlock()
		return models.CloseOutcome{}, ErrNoSession
	}
	if c.closed {
		c.mu.Unlock()
		return models.CloseOutcome{SessionID: c.sessionID}, ErrClosed
	}
	c.closed = true
	sid := c.sessionID
	c.mu.Unlock()

	req := clients.CloseRequest{
		OwnerID:       c.identity.OwnerID,
		SubjectID:     c.identity.SubjectID,
		SubjectName:   c.identity.Subject.Name,
		SubjectGender: c.identity.Subject.Gender,
	}
	if c.identity.Subject.Age > 0 {
		age := c.identity.Subject.Age
		req.SubjectAge = &age
	}
	if affect != nil {
		conf := affect.Confidence
		req.AffectLabel = affect.Label
		req.AffectConfidence = &conf
	}

	outcome := models.CloseOutcome{SessionID: sid}
	resp, err := c.backend.CloseSession(ctx, sid, req)
	if err != nil {
		outcome.Err = err.Error()
		return outcome, fmt.Errorf("close session: %w", err)
	}

	outcome.Message = resp.Message
	if resp.SeverityBand != "" {
		score := 0
		if resp.TotalScore != nil {
			score = *resp.TotalScore
		}
		outcome.Result = &models.FinalResult{
			Score: score,
			Band:  resp.SeverityBand,
			Tally: resp.SeverityTally,
		}
	}
	return outcome, nil
}
