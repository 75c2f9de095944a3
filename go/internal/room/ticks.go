package room

import (
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planning-poker/go/internal/models"
	"github.com/mcdev12/planning-poker/go/internal/room/eventbus"
	"github.com/mcdev12/planning-poker/go/internal/room/events"
)

// heartbeatTick refreshes the local heartbeat and evicts silent players.
// Only an eviction or a re-add causes I/O.
func (s *Service) heartbeatTick() {
	s.mu.Lock()
	if s.ready() != nil {
		s.mu.Unlock()
		return
	}

	now := s.clock.Now()
	fx := newEffects(s.roomID)
	dirty := false
	_ = s.state.Mutate(func(st *models.RoomState) error {
		if s.local != nil && !s.presence.Heartbeat(st, s.local.ID, now) {
			// a peer evicted us while we are still here
			p := *s.local
			p.LastHeartbeat = now
			p.Online = true
			p.HasVoted = false
			p.Vote = nil
			st.Players[p.ID] = p
			dirty = true
			fx.send(events.PlayerJoined{Player: p})
			fx.raise(eventbus.PlayerAdded, p)
			log.Info().Str("room_id", s.roomID).Str("player_id", p.ID).Msg("re-added local player after eviction")
		}

		removed := s.presence.Sweep(st, now)
		if len(removed) > 0 {
			dirty = true
			fx.send(events.PlayersUpdated{Removed: removed})
			fx.raise(eventbus.RoomVotesUpdated, cloneVotes(st))
			log.Info().Str("room_id", s.roomID).Strs("player_ids", removed).Msg("evicted inactive players")
		}

		if dirty {
			st.Touch(now)
			fx.raise(eventbus.RoomPlayersUpdated, clonePlayers(st))
		}
		return nil
	})
	if dirty {
		s.persist(s.lifetime)
	}
	s.mu.Unlock()

	s.flush(fx)
}

// saveTick persists the full state and shares it, which carries our
// heartbeat to peers.
func (s *Service) saveTick() {
	s.mu.Lock()
	if s.ready() != nil {
		s.mu.Unlock()
		return
	}
	s.persist(s.lifetime)
	snapshot := s.state.State()
	fx := newEffects(s.roomID)
	s.mu.Unlock()

	fx.send(events.RoomDataUpdated{State: snapshot})
	s.flush(fx)
}
