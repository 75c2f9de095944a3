package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrUnknownKind is returned when decoding an envelope whose type is not a known Kind
var ErrUnknownKind = errors.New("unknown event kind")

// Envelope is one broadcast message between contexts of the same room.
type Envelope struct {
	ID        string
	RoomID    string
	Sender    string
	Timestamp time.Time // advisory only
	Payload   Payload
}

// NewEnvelope stamps a payload with a fresh ULID.
func NewEnvelope(roomID, sender string, now time.Time, payload Payload) Envelope {
	return Envelope{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		RoomID:    roomID,
		Sender:    sender,
		Timestamp: now,
		Payload:   payload,
	}
}

// Kind returns the kind of the carried payload.
func (e Envelope) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

type wireEnvelope struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"roomId"`
	Type      Kind            `json:"type"`
	Sender    string          `json:"sender"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Encode serializes an envelope to its wire form.
func Encode(e Envelope) ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("encode envelope %s: missing payload", e.ID)
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Payload.Kind(), err)
	}
	return json.Marshal(wireEnvelope{
		ID:        e.ID,
		RoomID:    e.RoomID,
		Type:      e.Payload.Kind(),
		Sender:    e.Sender,
		Timestamp: e.Timestamp,
		Payload:   data,
	})
}

// Decode parses the wire form produced by Encode.
func Decode(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	payload, err := ParsePayload(w.Type, w.Payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:        w.ID,
		RoomID:    w.RoomID,
		Sender:    w.Sender,
		Timestamp: w.Timestamp,
		Payload:   payload,
	}, nil
}

// ParsePayload parses raw payload data into the struct for kind.
func ParsePayload(kind Kind, data json.RawMessage) (Payload, error) {
	switch kind {
	case KindRoomDataUpdated:
		var p RoomDataUpdated
		if err := unmarshal(kind, data, &p); err != nil {
			return nil, err
		}
		if p.State == nil {
			return nil, fmt.Errorf("parse %s payload: missing state", kind)
		}
		return p, nil

	case KindPlayerJoined:
		var p PlayerJoined
		if err := unmarshal(kind, data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case KindPlayerLeft:
		var p PlayerLeft
		if err := unmarshal(kind, data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case KindPlayersUpdated:
		var p PlayersUpdated
		if err := unmarshal(kind, data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case KindVoteSubmitted:
		var p VoteSubmitted
		if err := unmarshal(kind, data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case KindPhaseChanged:
		var p PhaseChanged
		if err := unmarshal(kind, data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case KindVotesCleared:
		return VotesCleared{}, nil

	case KindSyncRequest:
		return SyncRequest{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func unmarshal(kind Kind, data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("parse %s payload: empty", kind)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s payload: %w", kind, err)
	}
	return nil
}
