package models

import (
	"fmt"
	"time"
)

// StatusTransition defines a valid bot status transition.
type StatusTransition struct {
	From        BotState
	To          BotState
	Condition   string
	Description string
}

// ValidStatusTransitions enumerates the legal bot lifecycle transitions.
var ValidStatusTransitions = []StatusTransition{
	{StateInactive, StateActive, "bot_started", "Worker launched after successful brokerage connection"},
	{StateInactive, StateError, "connect_failed", "Brokerage connection failed on start"},
	{StateActive, StateInactive, "bot_stopped", "Stop requested and worker joined (or abandoned)"},
	{StateActive, StateError, "worker_error", "Unhandled error inside a worker iteration"},
	{StateError, StateActive, "bot_restarted", "Explicit start after an error"},
	{StateError, StateInactive, "bot_cleared", "Explicit stop clearing an error state"},
}

// CanTransition reports whether moving from one state to another is legal.
// Self-transitions are allowed; they refresh the check-in timestamp only.
func CanTransition(from, to BotState) bool {
	if from == to {
		return true
	}
	for _, t := range ValidStatusTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// Transition applies a status change in place, refusing illegal transitions.
// On success the check-in timestamp is refreshed and the IsActive flag and
// error message are kept consistent with the new state.
func (b *BotStatus) Transition(to BotState, errorMessage string) error {
	if !to.Valid() {
		return fmt.Errorf("unknown bot state: %q", to)
	}
	if !CanTransition(b.Status, to) {
		return fmt.Errorf("invalid status transition: %s -> %s", b.Status, to)
	}

	b.Status = to
	b.LastCheckIn = time.Now().UTC()
	b.IsActive = to == StateActive
	if to == StateError {
		b.ErrorMessage = errorMessage
	} else {
		b.ErrorMessage = ""
	}
	return nil
}

// CheckIn refreshes the last check-in timestamp without changing state.
func (b *BotStatus) CheckIn() {
	b.LastCheckIn = time.Now().UTC()
}
