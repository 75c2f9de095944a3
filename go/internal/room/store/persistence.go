package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planning-poker/go/internal/models"
)

// KeyPrefix is prepended to the room id to form the storage key.
const KeyPrefix = "planning-poker-room:"

// RoomKey returns the storage key for a room.
func RoomKey(roomID string) string {
	return KeyPrefix + roomID
}

// Persistence loads and saves whole room states.
type Persistence interface {
	Load(ctx context.Context, roomID string) (*models.RoomState, error)
	Save(ctx context.Context, state *models.RoomState) error
}

// JSONPersistence stores rooms as JSON documents in a KeyValueStore.
//
// Corrupt documents are replaced by a fresh default. When the store fails,
// the persistence switches to an in-memory copy for the rest of its life.
type JSONPersistence struct {
	kv    KeyValueStore
	clock clockwork.Clock

	mu       sync.Mutex
	degraded bool
	memory   map[string][]byte
}

// NewJSONPersistence returns a persistence over kv. A nil kv starts degraded.
func NewJSONPersistence(kv KeyValueStore, clock clockwork.Clock) *JSONPersistence {
	return &JSONPersistence{
		kv:       kv,
		clock:    clock,
		degraded: kv == nil,
		memory:   make(map[string][]byte),
	}
}

// Degraded reports whether the store failed and only the in-memory copy is used.
func (p *JSONPersistence) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

func (p *JSONPersistence) Load(ctx context.Context, roomID string) (*models.RoomState, error) {
	key := RoomKey(roomID)

	p.mu.Lock()
	defer p.mu.Unlock()

	var data []byte
	if p.degraded {
		data = p.memory[key]
	} else {
		v, err := p.kv.Get(ctx, key)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			log.Warn().Err(err).Str("room_id", roomID).Msg("Storage read failed, continuing in memory")
			p.degraded = true
			data = p.memory[key]
		default:
			data = v
		}
	}

	if data == nil {
		return models.NewRoomState(roomID, p.clock.Now()), nil
	}

	state, err := DecodeState(data)
	if err != nil || state.RoomID != roomID {
		log.Warn().Err(err).Str("room_id", roomID).Msg("Discarding corrupt room state")
		return models.NewRoomState(roomID, p.clock.Now()), nil
	}
	p.memory[key] = data
	return state, nil
}

// Save stamps LastActivity and writes the whole state. Storage failures are
// logged and absorbed.
func (p *JSONPersistence) Save(ctx context.Context, state *models.RoomState) error {
	state.Touch(p.clock.Now())

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal room %s: %w", state.RoomID, err)
	}
	key := RoomKey(state.RoomID)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.memory[key] = data
	if p.degraded {
		return nil
	}
	if err := p.kv.Set(ctx, key, data); err != nil {
		log.Warn().Err(err).Str("room_id", state.RoomID).Msg("Storage write failed, continuing in memory")
		p.degraded = true
	}
	return nil
}

// DecodeState parses and validates a persisted room document.
func DecodeState(data []byte) (*models.RoomState, error) {
	var state models.RoomState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal room state: %w", err)
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	return &state, nil
}
