package models

import (
	"fmt"
	"time"
)

// Phase defines the lifecycle stage of a room.
type Phase string

const (
	PhaseVoting    Phase = "voting"
	PhaseRevealing Phase = "revealing"
	PhaseFinished  Phase = "finished"
)

// ParsePhase converts a raw string into a Phase, rejecting unknown values.
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(s); p {
	case PhaseVoting, PhaseRevealing, PhaseFinished:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPhase, s)
	}
}

// Role defines what a participant does on the team.
type Role string

const (
	RoleDeveloper    Role = "developer"
	RoleTester       Role = "tester"
	RoleDesigner     Role = "designer"
	RoleProductOwner Role = "product-owner"
	RoleScrumMaster  Role = "scrum-master"
	RoleObserver     Role = "observer"
)

// Roles lists every accepted role.
var Roles = []Role{
	RoleDeveloper,
	RoleTester,
	RoleDesigner,
	RoleProductOwner,
	RoleScrumMaster,
	RoleObserver,
}

// ParseRole converts a raw string into a Role. An empty string maps to RoleDeveloper.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return RoleDeveloper, nil
	}
	for _, r := range Roles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// Player is one participant in one execution context.
type Player struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Role          Role       `json:"role"`
	JoinedAt      time.Time  `json:"joinedAt"`
	LastHeartbeat time.Time  `json:"lastHeartbeat"`
	Online        bool       `json:"online"`
	HasVoted      bool       `json:"hasVoted"`
	Vote          *VoteValue `json:"vote,omitempty"`
}

// Vote is a single submitted estimate.
type Vote struct {
	PlayerID  string    `json:"playerId"`
	Value     VoteValue `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Role      Role      `json:"role"` // snapshot at submission time
}

// RoomState is the canonical, persisted state of one room.
type RoomState struct {
	RoomID       string            `json:"roomId"`
	Phase        Phase             `json:"phase"`
	Players      map[string]Player `json:"players"`
	Votes        map[string]Vote   `json:"votes"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastActivity time.Time         `json:"lastActivity"`
}

// NewRoomState returns the default state for a room that has never been persisted.
func NewRoomState(roomID string, now time.Time) *RoomState {
	return &RoomState{
		RoomID:       roomID,
		Phase:        PhaseVoting,
		Players:      make(map[string]Player),
		Votes:        make(map[string]Vote),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Clone returns a deep copy of the state.
func (s *RoomState) Clone() *RoomState {
	if s == nil {
		return nil
	}
	out := *s
	out.Players = make(map[string]Player, len(s.Players))
	for id, p := range s.Players {
		if p.Vote != nil {
			v := *p.Vote
			p.Vote = &v
		}
		out.Players[id] = p
	}
	out.Votes = make(map[string]Vote, len(s.Votes))
	for id, v := range s.Votes {
		out.Votes[id] = v
	}
	return &out
}

// Validate checks the schema of a state read from storage or the network.
func (s *RoomState) Validate() error {
	if s.RoomID == "" {
		return fmt.Errorf("%w: missing room id", ErrInvalidState)
	}
	if _, err := ParsePhase(string(s.Phase)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if s.Players == nil || s.Votes == nil {
		return fmt.Errorf("%w: missing players or votes", ErrInvalidState)
	}
	for id, p := range s.Players {
		if p.ID != id {
			return fmt.Errorf("%w: player key %q does not match id %q", ErrInvalidState, id, p.ID)
		}
	}
	for id, v := range s.Votes {
		if v.PlayerID != id {
			return fmt.Errorf("%w: vote key %q does not match player %q", ErrInvalidState, id, v.PlayerID)
		}
		if !v.Value.Valid() {
			return fmt.Errorf("%w: vote for %q has invalid value", ErrInvalidState, id)
		}
	}
	return nil
}

// ReconcileVoteMirrors sets every player's HasVoted and Vote fields from Votes.
func (s *RoomState) ReconcileVoteMirrors() {
	for id, p := range s.Players {
		if v, ok := s.Votes[id]; ok {
			value := v.Value
			p.HasVoted = true
			p.Vote = &value
		} else {
			p.HasVoted = false
			p.Vote = nil
		}
		s.Players[id] = p
	}
}

// Touch moves LastActivity forward, never backwards.
func (s *RoomState) Touch(now time.Time) {
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
}
