package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planning-poker/go/internal/models"
	"github.com/mcdev12/planning-poker/go/internal/room"
	"github.com/mcdev12/planning-poker/go/internal/room/ledger"
)

// Client actions.
const (
	ActionJoin     = "join"
	ActionVote     = "vote"
	ActionReveal   = "reveal"
	ActionFinalize = "finalize"
	ActionClear    = "clear"
	ActionLeave    = "leave"
	ActionState    = "state"
)

// Reply types.
const (
	ReplyEvent = "event"
	ReplyError = "error"
	ReplyState = "state"
)

var (
	// ErrUnknownAction is returned for actions the gateway does not know
	ErrUnknownAction = errors.New("unknown action")
	// ErrRateLimited is returned when a client sends commands too quickly
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Command is a message from the client.
type Command struct {
	Action string          `json:"action"`
	Name   string          `json:"name,omitempty"`
	Role   string          `json:"role,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// Reply is a message to the client.
type Reply struct {
	Type    string            `json:"type"`
	Event   string            `json:"event,omitempty"`
	Data    any               `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	State   *models.RoomState `json:"state,omitempty"`
	Summary *ledger.Summary   `json:"summary,omitempty"`
}

func (c *Connection) handleClientMessage(message []byte) {
	if !c.limiter.Allow() {
		c.reply(Reply{Type: ReplyError, Error: ErrRateLimited.Error()})
		return
	}

	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		c.reply(Reply{Type: ReplyError, Error: fmt.Sprintf("malformed command: %v", err)})
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.Manager.config.CommandTimeout)
	defer cancel()

	if err := c.execute(ctx, cmd); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Str("player_id", c.PlayerID).
			Str("action", cmd.Action).
			Msg("command rejected")
		c.reply(Reply{Type: ReplyError, Error: err.Error()})
		return
	}
	c.reply(stateReply(c.Room))
}

func (c *Connection) execute(ctx context.Context, cmd Command) error {
	switch cmd.Action {
	case ActionJoin:
		role, err := models.ParseRole(cmd.Role)
		if err != nil {
			return err
		}
		_, err = c.Room.JoinRoom(ctx, c.RoomID, room.PlayerInfo{ID: c.PlayerID, Name: cmd.Name, Role: role})
		return err

	case ActionVote:
		if len(cmd.Value) == 0 {
			return fmt.Errorf("%w: value is required", models.ErrInvalidVote)
		}
		var value models.VoteValue
		if err := json.Unmarshal(cmd.Value, &value); err != nil {
			return fmt.Errorf("%w: %v", models.ErrInvalidVote, err)
		}
		_, err := c.Room.SubmitVote(ctx, c.PlayerID, value)
		return err

	case ActionReveal:
		return c.Room.Reveal(ctx)

	case ActionFinalize:
		return c.Room.Finalize(ctx)

	case ActionClear:
		return c.Room.ClearVotes(ctx)

	case ActionLeave:
		return c.Room.LeaveRoom(ctx)

	case ActionState:
		if c.Room.State() == nil {
			return room.ErrNotInitialized
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}
}

func stateReply(svc *room.Service) Reply {
	r := Reply{Type: ReplyState, State: svc.State()}
	if summary, err := svc.Summary(); err == nil {
		r.Summary = &summary
	}
	return r
}
