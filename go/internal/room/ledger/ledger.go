package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/planning-poker/go/internal/models"
)

var (
	// ErrUnknownPlayer is returned when voting for a player who is not in the room
	ErrUnknownPlayer = errors.New("unknown player")
	// ErrVotingClosed is returned when voting outside the voting phase
	ErrVotingClosed = errors.New("voting is closed")
)

// Submit records playerID's vote. On error the state is left untouched.
func Submit(state *models.RoomState, playerID string, value models.VoteValue, now time.Time) (models.Vote, error) {
	if !value.Valid() {
		return models.Vote{}, fmt.Errorf("%w: %s", models.ErrInvalidVote, value)
	}
	player, ok := state.Players[playerID]
	if !ok {
		return models.Vote{}, fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
	}
	if state.Phase != models.PhaseVoting {
		return models.Vote{}, fmt.Errorf("%w: room is %s", ErrVotingClosed, state.Phase)
	}

	vote := models.Vote{
		PlayerID:  playerID,
		Value:     value,
		Timestamp: now,
		Role:      player.Role,
	}
	Apply(state, vote)
	return vote, nil
}

// Apply writes a vote received from another context without validation.
// A vote whose player is gone is kept; readers skip it.
func Apply(state *models.RoomState, vote models.Vote) {
	state.Votes[vote.PlayerID] = vote
	if p, ok := state.Players[vote.PlayerID]; ok {
		value := vote.Value
		p.HasVoted = true
		p.Vote = &value
		state.Players[vote.PlayerID] = p
	}
}

// Clear discards every vote and returns the room to voting.
func Clear(state *models.RoomState) {
	state.Votes = make(map[string]models.Vote)
	for id, p := range state.Players {
		p.HasVoted = false
		p.Vote = nil
		state.Players[id] = p
	}
	state.Phase = models.PhaseVoting
}
