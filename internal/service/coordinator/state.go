// Package coordinator drives one screening conversation: it routes speech and
// typed input through the transcript buffer, serializes interpretation calls,
// keeps the display log, and closes the session.
package coordinator

import (
	"errors"
	"fmt"
)

// State represents the lifecycle state of a conversation.
type State int

const (
	// StateIdle - Nothing has been said or typed yet.
	StateIdle State = iota
	// StateActive - Speech and typed input are accepted.
	StateActive
	// StateStopping - The close request is in flight. No input is accepted.
	StateStopping
	// StateStopped - Terminal. No further network calls are made.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateActive:
		return "ACTIVE"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// AcceptsInput returns true if new utterances may be submitted.
func (s State) AcceptsInput() bool {
	return s == StateIdle || s == StateActive
}

// IsTerminal returns true if the state is STOPPED.
func (s State) IsTerminal() bool {
	return s == StateStopped
}

// Errors for rejected operations.
var (
	ErrStopped           = errors.New("conversation is stopped")
	ErrAlreadyStopping   = errors.New("conversation is already stopping")
	ErrEmptyText         = errors.New("text is empty")
	ErrMicUnavailable    = errors.New("speech recognition is not available")
	ErrCameraUnavailable = errors.New("camera capture is not available")
)

// Transitions:
//
//	IDLE → ACTIVE → STOPPING → STOPPED
//	  │                           ▲
//	  └── Stop() without session ─┘
//
// There is no transition out of STOPPED.
func canTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateActive || to == StateStopping || to == StateStopped
	case StateActive:
		return to == StateStopping || to == StateStopped
	case StateStopping:
		return to == StateStopped
	default:
		return false
	}
}
