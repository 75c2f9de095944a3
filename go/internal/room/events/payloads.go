package events

import (
	"github.com/mcdev12/planning-poker/go/internal/models"
)

// Kind identifies the payload carried by an Envelope.
type Kind string

const (
	KindRoomDataUpdated Kind = "room-data-updated"
	KindPlayerJoined    Kind = "player-joined"
	KindPlayerLeft      Kind = "player-left"
	KindPlayersUpdated  Kind = "players-updated"
	KindVoteSubmitted   Kind = "vote-submitted"
	KindPhaseChanged    Kind = "phase-changed"
	KindVotesCleared    Kind = "votes-cleared"
	KindSyncRequest     Kind = "sync-request"
)

// Payload is implemented by the payload types in this package only.
type Payload interface {
	Kind() Kind
	isPayload()
}

// RoomDataUpdated carries a full snapshot of the room.
type RoomDataUpdated struct {
	State *models.RoomState `json:"state"`
}

// PlayerJoined announces a new or rejoining player.
type PlayerJoined struct {
	Player models.Player `json:"player"`
}

// PlayerLeft announces a graceful leave.
type PlayerLeft struct {
	PlayerID string `json:"playerId"`
}

// PlayersUpdated announces players removed by a presence sweep.
type PlayersUpdated struct {
	Removed []string `json:"removed"`
}

// VoteSubmitted carries a newly cast or replaced vote.
type VoteSubmitted struct {
	Vote models.Vote `json:"vote"`
}

// PhaseChanged announces a phase transition.
type PhaseChanged struct {
	From models.Phase `json:"from"`
	To   models.Phase `json:"to"`
}

// VotesCleared announces that all votes were discarded and the room is back to voting.
type VotesCleared struct{}

// SyncRequest asks peers to reply with a full snapshot.
type SyncRequest struct{}

func (RoomDataUpdated) Kind() Kind { return KindRoomDataUpdated }
func (PlayerJoined) Kind() Kind    { return KindPlayerJoined }
func (PlayerLeft) Kind() Kind      { return KindPlayerLeft }
func (PlayersUpdated) Kind() Kind  { return KindPlayersUpdated }
func (VoteSubmitted) Kind() Kind   { return KindVoteSubmitted }
func (PhaseChanged) Kind() Kind    { return KindPhaseChanged }
func (VotesCleared) Kind() Kind    { return KindVotesCleared }
func (SyncRequest) Kind() Kind     { return KindSyncRequest }

func (RoomDataUpdated) isPayload() {}
func (PlayerJoined) isPayload()    {}
func (PlayerLeft) isPayload()      {}
func (PlayersUpdated) isPayload()  {}
func (VoteSubmitted) isPayload()   {}
func (PhaseChanged) isPayload()    {}
func (VotesCleared) isPayload()    {}
func (SyncRequest) isPayload()     {}
