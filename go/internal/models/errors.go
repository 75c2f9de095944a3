package models

import "errors"

var (
	// ErrInvalidPhase is returned when a phase is not one of the known values
	ErrInvalidPhase = errors.New("invalid phase")
	// ErrInvalidRole is returned when a role is outside the closed role set
	ErrInvalidRole = errors.New("invalid role")
	// ErrInvalidVote is returned when a vote value is not on the estimation scale
	ErrInvalidVote = errors.New("invalid vote value")
	// ErrInvalidState is returned when a room state fails schema validation
	ErrInvalidState = errors.New("invalid room state")
)
