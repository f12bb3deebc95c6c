package coordinator

import (
	"time"

	"github.com/google/uuid"

	"screening-session-service/internal/models"
)

// turnLog is the display log: committed turns are append-only and at most one
// interim turn trails them. Not safe for concurrent use; the coordinator
// guards it.
type turnLog struct {
	committed []models.Turn
	interim   *models.Turn
	draft     string
}

func newTurn(kind models.TurnKind, role models.Role, text, utteranceID string, at time.Time) models.Turn {
	return models.Turn{
		ID:          uuid.NewString(),
		Kind:        kind,
		Role:        role,
		Text:        text,
		UtteranceID: utteranceID,
		At:          at,
	}
}

// append commits a turn. Committing a user utterance also replaces the
// interim placeholder.
func (l *turnLog) append(t models.Turn) {
	if t.Kind == models.TurnUtterance {
		l.interim = nil
		l.draft = ""
	}
	l.committed = append(l.committed, t)
}

// setInterim replaces the trailing provisional turn. The draft mirrors the
// latest interim text.
func (l *turnLog) setInterim(text string, at time.Time) models.Turn {
	if l.interim == nil {
		t := newTurn(models.TurnInterim, models.RoleUser, "", "", at)
		l.interim = &t
	}
	l.interim.Text = models.InterimPrefix + " " + text
	l.interim.At = at
	l.draft = text
	return *l.interim
}

// clearInterim drops the provisional turn and reports whether one existed.
func (l *turnLog) clearInterim() bool {
	had := l.interim != nil
	l.interim = nil
	l.draft = ""
	return had
}

// snapshot returns the committed turns followed by the interim turn, if any.
func (l *turnLog) snapshot() []models.Turn {
	out := make([]models.Turn, 0, len(l.committed)+1)
	out = append(out, l.committed...)
	if l.interim != nil {
		out = append(out, *l.interim)
	}
	return out
}
