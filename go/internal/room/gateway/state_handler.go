package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planning-poker/go/internal/models"
	"github.com/mcdev12/planning-poker/go/internal/room/ledger"
)

// StateProvider interface defines methods for retrieving room state
type StateProvider interface {
	GetRoomState(ctx context.Context, roomID string) (*RoomStateResponse, error)
	GetActiveRooms(ctx context.Context) ([]RoomSummary, error)
}

// RoomStateResponse is the persisted state of a room with its round statistics
type RoomStateResponse struct {
	RoomID      string            `json:"room_id"`
	State       *models.RoomState `json:"state"`
	Summary     ledger.Summary    `json:"summary"`
	Connections int               `json:"connections"`
}

// RoomSummary represents a room with live connections
type RoomSummary struct {
	RoomID      string       `json:"room_id"`
	Phase       models.Phase `json:"phase"`
	Players     int          `json:"players"`
	Votes       int          `json:"votes"`
	Connections int          `json:"connections"`
}

// StateHandler handles HTTP requests for room state
type StateHandler struct {
	stateProvider StateProvider
}

func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
	}
}

// HandleGetRoomState handles GET /api/rooms/{id}/state
func (h *StateHandler) HandleGetRoomState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID := extractRoomIDFromPath(r.URL.Path)
	if roomID == "" {
		http.Error(w, "Room ID is required", http.StatusBadRequest)
		return
	}

	state, err := h.stateProvider.GetRoomState(r.Context(), roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to get room state")
		http.Error(w, "Failed to get room state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		log.Error().Err(err).Msg("failed to encode room state response")
	}
}

// HandleGetActiveRooms handles GET /api/rooms/active
func (h *StateHandler) HandleGetActiveRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rooms, err := h.stateProvider.GetActiveRooms(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to get active rooms")
		http.Error(w, "Failed to get active rooms", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rooms); err != nil {
		log.Error().Err(err).Msg("failed to encode active rooms response")
	}
}

func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/rooms/active", h.HandleGetActiveRooms)

	mux.HandleFunc("/api/rooms/", func(w http.ResponseWriter, r *http.Request) {
		log.Debug().Str("path", r.URL.Path).Msg("state handler received request")

		if strings.HasSuffix(r.URL.Path, "/state") {
			h.HandleGetRoomState(w, r)
		} else {
			http.NotFound(w, r)
		}
	})
}

// extractRoomIDFromPath extracts the room ID from /api/rooms/{id}/state
func extractRoomIDFromPath(path string) string {
	const prefix = "/api/rooms/"
	const suffix = "/state"

	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return ""
	}
	if len(path) <= len(prefix)+len(suffix) {
		return ""
	}
	id := path[len(prefix) : len(path)-len(suffix)]
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}
