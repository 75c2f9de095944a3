package phase

import (
	"errors"
	"fmt"

	"github.com/mcdev12/planning-poker/go/internal/models"
)

// ErrInvalidTransition is returned for a phase change the table does not allow
var ErrInvalidTransition = errors.New("invalid phase transition")

// Trigger is an operation that moves the room between phases.
type Trigger string

const (
	TriggerReveal   Trigger = "reveal"
	TriggerFinalize Trigger = "finalize"
	TriggerClear    Trigger = "clear"
)

// Transition returns the phase reached by applying trigger in phase from.
// Clearing is allowed from any phase and always lands in voting.
func Transition(from models.Phase, trigger Trigger) (models.Phase, error) {
	switch {
	case trigger == TriggerClear:
		return models.PhaseVoting, nil
	case trigger == TriggerReveal && from == models.PhaseVoting:
		return models.PhaseRevealing, nil
	case trigger == TriggerFinalize && from == models.PhaseRevealing:
		return models.PhaseFinished, nil
	}
	return from, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, from)
}

// TriggerFor returns the trigger that moves from into to, if any.
// Moving back to voting always goes through TriggerClear.
func TriggerFor(from, to models.Phase) (Trigger, error) {
	switch {
	case from == models.PhaseVoting && to == models.PhaseRevealing:
		return TriggerReveal, nil
	case from == models.PhaseRevealing && to == models.PhaseFinished:
		return TriggerFinalize, nil
	}
	return "", fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}

// CanTransition reports whether changePhase(to) is allowed from from.
func CanTransition(from, to models.Phase) bool {
	_, err := TriggerFor(from, to)
	return err == nil
}
