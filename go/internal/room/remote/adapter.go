package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planning-poker/go/internal/models"
	"github.com/mcdev12/planning-poker/go/internal/room/events"
	"github.com/mcdev12/planning-poker/go/internal/room/store"
	"github.com/mcdev12/planning-poker/go/internal/room/transport"
)

// StatePath is where a room's state lives in the tree.
func StatePath(roomID string) string {
	return Join("rooms", roomID, "state")
}

// ChannelPath is the parent of every context's outgoing message slot.
func ChannelPath(roomID string) string {
	return Join("rooms", roomID, "channel")
}

// Adapter runs a room over a Tree: it is both the persistence and the
// transport of a RoomService. Each context writes its latest envelope to
// its own slot under the channel path; peers watch the whole channel.
type Adapter struct {
	tree   Tree
	sender string
	clock  clockwork.Clock
}

func NewAdapter(tree Tree, sender string, clock clockwork.Clock) *Adapter {
	return &Adapter{tree: tree, sender: sender, clock: clock}
}

// Load reads the room state. A missing, unreadable or corrupt value yields
// a fresh default.
func (a *Adapter) Load(ctx context.Context, roomID string) (*models.RoomState, error) {
	snap, err := a.tree.Once(ctx, StatePath(roomID))
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("Remote read failed, starting from default")
		return models.NewRoomState(roomID, a.clock.Now()), nil
	}
	if !snap.Exists() {
		return models.NewRoomState(roomID, a.clock.Now()), nil
	}

	state, err := store.DecodeState(snap.Bytes())
	if err != nil || state.RoomID != roomID {
		log.Warn().Err(err).Str("room_id", roomID).Msg("Discarding corrupt remote room state")
		return models.NewRoomState(roomID, a.clock.Now()), nil
	}
	return state, nil
}

// Reader loads room states from a Tree and returns read failures instead
// of a default.
type Reader struct {
	tree  Tree
	clock clockwork.Clock
}

func NewReader(tree Tree, clock clockwork.Clock) *Reader {
	return &Reader{tree: tree, clock: clock}
}

func (r *Reader) Load(ctx context.Context, roomID string) (*models.RoomState, error) {
	snap, err := r.tree.Once(ctx, StatePath(roomID))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", StatePath(roomID), err)
	}
	if !snap.Exists() {
		return models.NewRoomState(roomID, r.clock.Now()), nil
	}
	state, err := store.DecodeState(snap.Bytes())
	if err != nil || state.RoomID != roomID {
		return models.NewRoomState(roomID, r.clock.Now()), nil
	}
	return state, nil
}

// Save writes every top-level field of state, which overwrites the whole room.
func (a *Adapter) Save(ctx context.Context, state *models.RoomState) error {
	state.Touch(a.clock.Now())

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal room %s: %w", state.RoomID, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("split room %s fields: %w", state.RoomID, err)
	}

	if err := a.tree.Update(ctx, StatePath(state.RoomID), fields); err != nil {
		log.Warn().Err(err).Str("room_id", state.RoomID).Msg("Remote write failed")
	}
	return nil
}

func (a *Adapter) Publish(ctx context.Context, roomID string, payload events.Payload) error {
	env := events.NewEnvelope(roomID, a.sender, a.clock.Now(), payload)
	data, err := events.Encode(env)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", payload.Kind(), err)
	}

	if err := a.tree.Set(ctx, Join(ChannelPath(roomID), a.sender), data); err != nil {
		log.Warn().
			Err(err).
			Str("room_id", roomID).
			Str("event_type", string(payload.Kind())).
			Msg("Remote broadcast failed")
	}
	return nil
}

func (a *Adapter) Subscribe(ctx context.Context, roomID string, handler func(events.Envelope)) (transport.Subscription, error) {
	l, err := a.tree.On(ctx, ChannelPath(roomID), func(snap Snapshot) {
		if !snap.Exists() || snap.Key() == a.sender {
			return
		}
		env, err := events.Decode(snap.Bytes())
		if err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("Dropping malformed remote message")
			return
		}
		if env.Sender == a.sender {
			return
		}
		handler(env)
	})
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", ChannelPath(roomID), err)
	}
	return listenerSubscription{l}, nil
}

type listenerSubscription struct {
	l Listener
}

func (s listenerSubscription) Close() error {
	s.l.Off()
	return nil
}
