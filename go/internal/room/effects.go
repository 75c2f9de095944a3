package room

import (
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planning-poker/go/internal/room/events"
)

// effects collects the broadcasts and local events of one operation so they
// can run after the state lock is released.
type effects struct {
	roomID  string
	publish []events.Payload
	emit    []emission
}

type emission struct {
	name string
	data any
}

func newEffects(roomID string) *effects {
	return &effects{roomID: roomID}
}

func (fx *effects) send(p events.Payload) {
	fx.publish = append(fx.publish, p)
}

func (fx *effects) raise(name string, data any) {
	fx.emit = append(fx.emit, emission{name: name, data: data})
}

// flush broadcasts first, then notifies local listeners.
func (s *Service) flush(fx *effects) {
	for _, p := range fx.publish {
		if err := s.transport.Publish(s.lifetime, fx.roomID, p); err != nil {
			log.Warn().
				Err(err).
				Str("room_id", fx.roomID).
				Str("event_type", string(p.Kind())).
				Msg("failed to broadcast")
		}
	}
	for _, e := range fx.emit {
		s.bus.Emit(e.name, e.data)
	}
}
