package coordinator

import (
	"screening-session-service/internal/models"
)

// Observer receives conversation updates in the order they happened. Calls
// come from a single goroutine and never hold coordinator locks, so an
// observer may call View.
type Observer interface {
	// TurnAppended is called for every committed turn.
	TurnAppended(turn models.Turn)
	// InterimUpdated is called when the provisional turn changes. nil means
	// it was cleared.
	InterimUpdated(interim *models.Turn)
	// AffectUpdated is called for every accepted affect reading.
	AffectUpdated(snapshot models.AffectSnapshot)
	// StateChanged is called on every lifecycle transition.
	StateChanged(state State)
	// SessionClosed is called once, when the conversation reaches STOPPED.
	SessionClosed(outcome models.CloseOutcome)
}

// NopObserver implements Observer with no-ops. Embed it to handle a subset.
type NopObserver struct{}

func (NopObserver) TurnAppended(models.Turn) {}
func (NopObserver) InterimUpdated(*models.Turn) {}
func (NopObserver) AffectUpdated(models.AffectSnapshot) {}
func (NopObserver) StateChanged(State) {}
func (NopObserver) SessionClosed(models.CloseOutcome) {}

type noteKind int

const (
	noteTurn noteKind = iota
	noteInterim
	noteAffect
	noteState
	noteClosed
)

type notification struct {
	kind    noteKind
	turn    models.Turn
	interim *models.Turn
	affect  models.AffectSnapshot
	state   State
	outcome models.CloseOutcome
}

func (n notification) deliver(o Observer) {
	switch n.kind {
	case noteTurn:
		o.TurnAppended(n.turn)
	case noteInterim:
		o.InterimUpdated(n.interim)
	case noteAffect:
		o.AffectUpdated(n.affect)
	case noteState:
		o.StateChanged(n.state)
	case noteClosed:
		o.SessionClosed(n.outcome)
	}
}
