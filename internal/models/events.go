package models

const (
	EventTypeTurn          = "screening.conversation.turn"
	EventTypeInterim       = "screening.conversation.interim"
	EventTypeSessionClosed = "screening.session.closed"
)

// TurnEvent is published for every committed turn of the conversation log
// and for every change of the provisional turn.
type TurnEvent struct {
	EventType string `json:"eventType" validate:"required,oneof=screening.conversation.turn screening.conversation.interim"`
	SessionID string `json:"sessionId,omitempty"`
	SubjectID string `json:"subjectId,omitempty"`
	Timestamp int64  `json:"timestamp" validate:"gt=0"`
	TurnID    string `json:"turnId" validate:"required"`
	Kind      string `json:"kind" validate:"oneof=utterance interim response error notice"`
	Role      string `json:"role" validate:"oneof=user system"`
	Text      string `json:"text" validate:"required"`
}

// SessionClosedEvent is published once, when the session reaches Stopped.
type SessionClosedEvent struct {
	EventType        string   `json:"eventType" validate:"required,eq=screening.session.closed"`
	SessionID        string   `json:"sessionId" validate:"required"`
	SubjectID        string   `json:"subjectId,omitempty"`
	OwnerID          string   `json:"ownerId,omitempty"`
	Timestamp        int64    `json:"timestamp" validate:"gt=0"`
	Message          string   `json:"message,omitempty"`
	TotalScore       *int     `json:"totalScore,omitempty" validate:"omitempty,gte=0,lte=27"`
	SeverityBand     string   `json:"severityBand,omitempty"`
	AffectLabel      string   `json:"affectLabel,omitempty"`
	AffectConfidence *float64 `json:"affectConfidence,omitempty" validate:"omitempty,gte=0,lte=100"`
	Error            string   `json:"error,omitempty"`
}
