package gateway

import (
	"context"
	"fmt"

	"github.com/mcdev12/planning-poker/go/internal/room/ledger"
	"github.com/mcdev12/planning-poker/go/internal/room/store"
)

// RoomStateProvider reads room state from the shared store and live
// connection counts from the connection manager.
type RoomStateProvider struct {
	reader      store.StateReader
	connections *ConnectionManager
}

func NewRoomStateProvider(reader store.StateReader, connections *ConnectionManager) *RoomStateProvider {
	return &RoomStateProvider{
		reader:      reader,
		connections: connections,
	}
}

func (p *RoomStateProvider) GetRoomState(ctx context.Context, roomID string) (*RoomStateResponse, error) {
	state, err := p.reader.Load(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}

	return &RoomStateResponse{
		RoomID:      roomID,
		State:       state,
		Summary:     ledger.Summarize(state),
		Connections: p.connections.ActiveRooms()[roomID],
	}, nil
}

func (p *RoomStateProvider) GetActiveRooms(ctx context.Context) ([]RoomSummary, error) {
	counts := p.connections.ActiveRooms()
	rooms := make([]RoomSummary, 0, len(counts))
	for _, roomID := range p.connections.activeRoomIDs() {
		state, err := p.reader.Load(ctx, roomID)
		if err != nil {
			return nil, fmt.Errorf("failed to load room %s: %w", roomID, err)
		}
		rooms = append(rooms, RoomSummary{
			RoomID:      roomID,
			Phase:       state.Phase,
			Players:     len(state.Players),
			Votes:       len(state.Votes),
			Connections: counts[roomID],
		})
	}
	return rooms, nil
}
