package room

import (
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planning-poker/go/internal/models"
	"github.com/mcdev12/planning-poker/go/internal/room/eventbus"
	"github.com/mcdev12/planning-poker/go/internal/room/events"
	"github.com/mcdev12/planning-poker/go/internal/room/ledger"
)

// handleEnvelope applies a message from another context. The sender already
// validated it, so it is applied as is.
func (s *Service) handleEnvelope(env events.Envelope) {
	s.mu.Lock()
	if s.ready() != nil || (env.RoomID != "" && env.RoomID != s.roomID) {
		s.mu.Unlock()
		return
	}

	log.Debug().
		Str("room_id", s.roomID).
		Str("sender", env.Sender).
		Str("event_type", string(env.Kind())).
		Msg("applying broadcast")

	fx := newEffects(s.roomID)
	_ = s.state.Mutate(func(st *models.RoomState) error {
		s.apply(st, env, fx)
		return nil
	})
	s.mu.Unlock()

	s.flush(fx)
}

// apply must be called with mu held.
func (s *Service) apply(st *models.RoomState, env events.Envelope, fx *effects) {
	switch p := env.Payload.(type) {
	case events.RoomDataUpdated:
		if p.State == nil {
			return
		}
		next := s.adopt(st, p.State)
		s.state.Replace(next)
		snapshot := next.Clone()
		fx.raise(eventbus.RoomSynced, snapshot)
		fx.raise(eventbus.RoomPlayersUpdated, snapshot.Players)
		fx.raise(eventbus.RoomVotesUpdated, snapshot.Votes)
		return

	case events.PlayerJoined:
		player := p.Player
		if existing, ok := st.Players[player.ID]; ok && existing.LastHeartbeat.After(player.LastHeartbeat) {
			player.LastHeartbeat = existing.LastHeartbeat
		}
		st.Players[player.ID] = player
		fx.raise(eventbus.PlayerAdded, player)
		fx.raise(eventbus.RoomPlayersUpdated, clonePlayers(st))

	case events.PlayerLeft:
		s.remove(st, []string{p.PlayerID}, fx)

	case events.PlayersUpdated:
		s.remove(st, p.Removed, fx)

	case events.VoteSubmitted:
		ledger.Apply(st, p.Vote)
		fx.raise(eventbus.RoomVotesUpdated, cloneVotes(st))

	case events.PhaseChanged:
		change := events.PhaseChanged{From: st.Phase, To: p.To}
		st.Phase = p.To
		fx.raise(eventbus.PhaseChanged, change)

	case events.VotesCleared:
		change := events.PhaseChanged{From: st.Phase, To: models.PhaseVoting}
		ledger.Clear(st)
		fx.raise(eventbus.VotesCleared, nil)
		fx.raise(eventbus.PhaseChanged, change)
		fx.raise(eventbus.RoomVotesUpdated, cloneVotes(st))

	case events.SyncRequest:
		fx.send(events.RoomDataUpdated{State: st.Clone()})
		return
	}
	st.Touch(env.Timestamp)
}

// adopt takes remote as the new state. Heartbeats are merged by keeping the
// newest per player, and the local player is kept if remote lost it.
func (s *Service) adopt(local, remote *models.RoomState) *models.RoomState {
	next := remote.Clone()
	next.RoomID = local.RoomID
	if next.Players == nil {
		next.Players = make(map[string]models.Player)
	}
	if next.Votes == nil {
		next.Votes = make(map[string]models.Vote)
	}

	for id, p := range next.Players {
		if lp, ok := local.Players[id]; ok && lp.LastHeartbeat.After(p.LastHeartbeat) {
			p.LastHeartbeat = lp.LastHeartbeat
			p.Online = lp.Online
			next.Players[id] = p
		}
	}

	if s.local != nil {
		id := s.local.ID
		if _, ok := next.Players[id]; !ok {
			if lp, ok := local.Players[id]; ok {
				next.Players[id] = lp
				if v, ok := local.Votes[id]; ok {
					next.Votes[id] = v
				}
			}
		}
	}

	next.ReconcileVoteMirrors()
	return next
}

func (s *Service) remove(st *models.RoomState, ids []string, fx *effects) {
	for _, id := range ids {
		delete(st.Players, id)
		delete(st.Votes, id)
	}
	fx.raise(eventbus.RoomPlayersUpdated, clonePlayers(st))
	fx.raise(eventbus.RoomVotesUpdated, cloneVotes(st))
}

func clonePlayers(st *models.RoomState) map[string]models.Player {
	return st.Clone().Players
}

func cloneVotes(st *models.RoomState) map[string]models.Vote {
	return st.Clone().Votes
}
