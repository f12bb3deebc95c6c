// Package models defines the conversation data structures shared by the
// session coordinator and its collaborators.
package models

import "time"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

// TurnKind distinguishes the entries of the conversation log.
type TurnKind string

const (
	// TurnUtterance is a finalized user utterance.
	TurnUtterance TurnKind = "utterance"
	// TurnInterim is the provisional "thinking" placeholder shown while the
	// user is still speaking. At most one exists and it is always trailing.
	TurnInterim TurnKind = "interim"
	// TurnResponse is a message returned by the interpretation or close endpoint.
	TurnResponse TurnKind = "response"
	// TurnError is a system-visible failure notice.
	TurnError TurnKind = "error"
	// TurnNotice is an informational system message (e.g. camera unavailable).
	TurnNotice TurnKind = "notice"
)

// InterimPrefix marks provisional user text in the display log.
const InterimPrefix = "[...]"

// Utterance is one finalized, debounced unit of user speech or typed input.
type Utterance struct {
	ID     string    `json:"id"`
	Seq    uint64    `json:"seq"`
	Text   string    `json:"text"`
	Origin Role      `json:"origin"`
	Source string    `json:"source"` // "voice" or "typed"
	At     time.Time `json:"at"`
}

// Turn is a single display entry of the conversation log.
type Turn struct {
	ID          string    `json:"id"`
	Kind        TurnKind  `json:"kind"`
	Role        Role      `json:"role"`
	Text        string    `json:"text"`
	UtteranceID string    `json:"utteranceId,omitempty"`
	At          time.Time `json:"at"`
}

// AffectSnapshot is the most recent facial-affect reading.
type AffectSnapshot struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	CapturedAt time.Time `json:"capturedAt"`
	Tick       uint64    `json:"tick"`
}

// FinalResult is the screening outcome produced when a session is closed.
type FinalResult struct {
	Score int    `json:"score"`
	Band  string `json:"band"`
	// Tally maps question index to summed severity, when the backend reports it.
	Tally map[string]int `json:"tally,omitempty"`
}

// CloseOutcome reports what happened when the session was closed.
type CloseOutcome struct {
	SessionID string       `json:"sessionId,omitempty"`
	Message   string       `json:"message,omitempty"`
	Result    *FinalResult `json:"result,omitempty"`
	Err       string       `json:"error,omitempty"`
}
