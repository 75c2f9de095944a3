package store

import (
	"context"
	"errors"

	"github.com/mcdev12/planning-poker/go/internal/models"
)

// ErrNotLoaded is returned when the state is used before Load
var ErrNotLoaded = errors.New("room state not loaded")

// StateStore owns one context's canonical copy of a room.
// It is not safe for concurrent use; callers serialize access.
type StateStore struct {
	persistence Persistence
	state       *models.RoomState
}

func NewStateStore(persistence Persistence) *StateStore {
	return &StateStore{persistence: persistence}
}

// Load replaces the in-memory state with the persisted one.
func (s *StateStore) Load(ctx context.Context, roomID string) error {
	state, err := s.persistence.Load(ctx, roomID)
	if err != nil {
		return err
	}
	s.state = state
	return nil
}

// Loaded reports whether a state is held.
func (s *StateStore) Loaded() bool {
	return s.state != nil
}

// State returns a copy of the current state, or nil before Load.
func (s *StateStore) State() *models.RoomState {
	return s.state.Clone()
}

// Mutate runs fn against the live state.
func (s *StateStore) Mutate(fn func(*models.RoomState) error) error {
	if s.state == nil {
		return ErrNotLoaded
	}
	return fn(s.state)
}

// Replace adopts state wholesale.
func (s *StateStore) Replace(state *models.RoomState) {
	s.state = state
}

// Persist saves the current state.
func (s *StateStore) Persist(ctx context.Context) error {
	if s.state == nil {
		return ErrNotLoaded
	}
	return s.persistence.Save(ctx, s.state)
}
