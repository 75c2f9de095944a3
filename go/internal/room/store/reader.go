package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planning-poker/go/internal/models"
)

// StateReader loads room states for read-only callers.
type StateReader interface {
	Load(ctx context.Context, roomID string) (*models.RoomState, error)
}

// Reader loads rooms straight from a KeyValueStore. Unlike JSONPersistence
// it never falls back to memory: a store failure is returned to the caller
// and the next Load tries the store again.
type Reader struct {
	kv    KeyValueStore
	clock clockwork.Clock
}

func NewReader(kv KeyValueStore, clock clockwork.Clock) *Reader {
	return &Reader{kv: kv, clock: clock}
}

func (r *Reader) Load(ctx context.Context, roomID string) (*models.RoomState, error) {
	data, err := r.kv.Get(ctx, RoomKey(roomID))
	switch {
	case errors.Is(err, ErrNotFound):
		return models.NewRoomState(roomID, r.clock.Now()), nil
	case err != nil:
		return nil, fmt.Errorf("failed to read room %s: %w", roomID, err)
	}

	state, err := DecodeState(data)
	if err != nil || state.RoomID != roomID {
		log.Warn().Err(err).Str("room_id", roomID).Msg("Ignoring corrupt room state")
		return models.NewRoomState(roomID, r.clock.Now()), nil
	}
	return state, nil
}
