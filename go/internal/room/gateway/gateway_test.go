package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/mcdev12/planning-poker/go/internal/models"
	"github.com/mcdev12/planning-poker/go/internal/room"
	"github.com/mcdev12/planning-poker/go/internal/room/eventbus"
	"github.com/mcdev12/planning-poker/go/internal/room/ledger"
	"github.com/mcdev12/planning-poker/go/internal/room/store"
	"github.com/mcdev12/planning-poker/go/internal/room/transport"
)

type clientReply struct {
	Type    string            `json:"type"`
	Event   string            `json:"event"`
	Data    json.RawMessage   `json:"data"`
	Error   string            `json:"error"`
	State   *models.RoomState `json:"state"`
	Summary *ledger.Summary   `json:"summary"`
}

func newTestServer(t *testing.T, cfg ConnectionConfig) *httptest.Server {
	t.Helper()
	hub := transport.NewHub()
	kv := store.NewMemoryKV()
	clock := clockwork.NewRealClock()

	factory := func(contextID string) *room.Service {
		return room.NewService(room.Deps{
			Persistence: store.NewJSONPersistence(kv, clock),
			Transport:   transport.NewBroadcaster(hub, contextID, clock),
			Clock:       clock,
			Config:      room.Config{HeartbeatInterval: time.Hour, PresenceTimeout: 2 * time.Hour, SaveInterval: time.Hour},
			ContextID:   contextID,
		})
	}
	svc := NewService(Config{ConnectionConfig: cfg}, factory, store.NewReader(kv, clock))

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)

	ctx, cancel := context.WithCancel(context.Background())
	go svc.Start(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/room?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, cmd string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(cmd)))
}

// readUntil reads replies until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(clientReply) bool) clientReply {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var r clientReply
		require.NoError(t, json.Unmarshal(data, &r))
		if match(r) {
			return r
		}
	}
}

func isType(typ string) func(clientReply) bool {
	return func(r clientReply) bool { return r.Type == typ }
}

func isEvent(name string) func(clientReply) bool {
	return func(r clientReply) bool { return r.Type == ReplyEvent && r.Event == name }
}

func TestGateway_JoinVoteReveal(t *testing.T) {
	srv := newTestServer(t, DefaultConnectionConfig())

	ada := dial(t, srv, "room_id=r1&player_id=p1")
	send(t, ada, `{"action":"join","name":"Ada","role":"designer"}`)
	r := readUntil(t, ada, isType(ReplyState))
	require.NotNil(t, r.State)
	assert.Equal(t, "Ada", r.State.Players["p1"].Name)
	assert.Equal(t, models.RoleDesigner, r.State.Players["p1"].Role)

	bob := dial(t, srv, "room_id=r1&player_id=p2")
	send(t, bob, `{"action":"join","name":"Bob"}`)
	r = readUntil(t, bob, isType(ReplyState))
	assert.Len(t, r.State.Players, 2)

	added := readUntil(t, ada, isEvent(eventbus.PlayerAdded))
	var player models.Player
	require.NoError(t, json.Unmarshal(added.Data, &player))
	assert.Equal(t, "p2", player.ID)

	send(t, ada, `{"action":"vote","value":5}`)
	r = readUntil(t, ada, isType(ReplyState))
	assert.Equal(t, models.Points(5), r.State.Votes["p1"].Value)
	readUntil(t, bob, isEvent(eventbus.RoomVotesUpdated))

	send(t, bob, `{"action":"vote","value":"?"}`)
	readUntil(t, bob, isType(ReplyState))

	send(t, bob, `{"action":"reveal"}`)
	r = readUntil(t, bob, isType(ReplyState))
	assert.Equal(t, models.PhaseRevealing, r.State.Phase)
	require.NotNil(t, r.Summary)
	assert.Equal(t, 2, r.Summary.Votes)

	readUntil(t, ada, isEvent(eventbus.PhaseChanged))
	send(t, ada, `{"action":"state"}`)
	r = readUntil(t, ada, isType(ReplyState))
	assert.Equal(t, models.PhaseRevealing, r.State.Phase)
	assert.Len(t, r.State.Votes, 2)
}

func TestGateway_CommandErrors(t *testing.T) {
	srv := newTestServer(t, DefaultConnectionConfig())
	conn := dial(t, srv, "room_id=r1&player_id=p1")

	send(t, conn, `{"action":"state"}`)
	r := readUntil(t, conn, isType(ReplyError))
	assert.Contains(t, r.Error, room.ErrNotInitialized.Error())

	send(t, conn, `not json`)
	r = readUntil(t, conn, isType(ReplyError))
	assert.Contains(t, r.Error, "malformed command")

	send(t, conn, `{"action":"dance"}`)
	r = readUntil(t, conn, isType(ReplyError))
	assert.Contains(t, r.Error, ErrUnknownAction.Error())

	send(t, conn, `{"action":"join","name":"Ada","role":"chef"}`)
	r = readUntil(t, conn, isType(ReplyError))
	assert.Contains(t, r.Error, models.ErrInvalidRole.Error())

	send(t, conn, `{"action":"join","name":"Ada"}`)
	readUntil(t, conn, isType(ReplyState))

	send(t, conn, `{"action":"vote","value":"banana"}`)
	r = readUntil(t, conn, isType(ReplyError))
	assert.Contains(t, r.Error, models.ErrInvalidVote.Error())

	send(t, conn, `{"action":"vote"}`)
	r = readUntil(t, conn, isType(ReplyError))
	assert.Contains(t, r.Error, models.ErrInvalidVote.Error())
}

func TestGateway_RateLimit(t *testing.T) {
	cfg := DefaultConnectionConfig()
	cfg.CommandRate = rate.Every(time.Hour)
	cfg.CommandBurst = 1
	srv := newTestServer(t, cfg)
	conn := dial(t, srv, "room_id=r1")

	send(t, conn, `{"action":"join","name":"Ada"}`)
	readUntil(t, conn, isType(ReplyState))

	send(t, conn, `{"action":"state"}`)
	r := readUntil(t, conn, isType(ReplyError))
	assert.Equal(t, ErrRateLimited.Error(), r.Error)
}

func TestGateway_DisconnectLeavesRoom(t *testing.T) {
	srv := newTestServer(t, DefaultConnectionConfig())

	ada := dial(t, srv, "room_id=r1&player_id=p1")
	send(t, ada, `{"action":"join","name":"Ada"}`)
	readUntil(t, ada, isType(ReplyState))

	bob := dial(t, srv, "room_id=r1&player_id=p2")
	send(t, bob, `{"action":"join","name":"Bob"}`)
	readUntil(t, bob, isType(ReplyState))
	readUntil(t, ada, isEvent(eventbus.PlayerAdded))

	require.NoError(t, bob.Close())

	readUntil(t, ada, func(r clientReply) bool {
		if !isEvent(eventbus.RoomPlayersUpdated)(r) {
			return false
		}
		var players map[string]models.Player
		require.NoError(t, json.Unmarshal(r.Data, &players))
		_, stillThere := players["p2"]
		return !stillThere
	})
}

func TestGateway_HTTPEndpoints(t *testing.T) {
	srv := newTestServer(t, DefaultConnectionConfig())

	resp, err := http.Get(srv.URL + "/ws/room")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	conn := dial(t, srv, "room_id=r1&player_id=p1")
	send(t, conn, `{"action":"join","name":"Ada"}`)
	readUntil(t, conn, isType(ReplyState))

	resp, err = http.Get(srv.URL + "/api/rooms/r1/state")
	require.NoError(t, err)
	var state RoomStateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	resp.Body.Close()
	assert.Equal(t, "r1", state.RoomID)
	assert.Equal(t, 1, state.Connections)
	assert.Contains(t, state.State.Players, "p1")
	assert.Equal(t, 1, state.Summary.Players)

	resp, err = http.Get(srv.URL + "/api/rooms/active")
	require.NoError(t, err)
	var rooms []RoomSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	resp.Body.Close()
	require.Len(t, rooms, 1)
	assert.Equal(t, RoomSummary{RoomID: "r1", Phase: models.PhaseVoting, Players: 1, Connections: 1}, rooms[0])

	resp, err = http.Get(srv.URL + "/ws/stats")
	require.NoError(t, err)
	var stats ConnectionStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, 1, stats.ActiveRooms)

	resp, err = http.Post(srv.URL+"/api/rooms/active", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestGateway_SecondTabKeepsSeat(t *testing.T) {
	srv := newTestServer(t, DefaultConnectionConfig())

	tab1 := dial(t, srv, "room_id=r1&player_id=p1")
	send(t, tab1, `{"action":"join","name":"Ada"}`)
	readUntil(t, tab1, isType(ReplyState))

	tab2 := dial(t, srv, "room_id=r1&player_id=p1")
	send(t, tab2, `{"action":"join","name":"Ada"}`)
	readUntil(t, tab2, isType(ReplyState))

	require.NoError(t, tab1.Close())
	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/ws/stats")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var stats ConnectionStats
		return json.NewDecoder(resp.Body).Decode(&stats) == nil && stats.TotalConnections == 1
	}, 2*time.Second, 10*time.Millisecond)

	send(t, tab2, `{"action":"state"}`)
	reply := readUntil(t, tab2, isType(ReplyState))
	require.NotNil(t, reply.State)
	assert.Contains(t, reply.State.Players, "p1")

	send(t, tab2, `{"action":"vote","value":5}`)
	readUntil(t, tab2, isEvent(eventbus.RoomVotesUpdated))
}

type unreliableKV struct {
	*store.MemoryKV
	down bool
}

func (u *unreliableKV) Get(ctx context.Context, key string) ([]byte, error) {
	if u.down {
		return nil, errors.New("store unavailable")
	}
	return u.MemoryKV.Get(ctx, key)
}

func TestStateHandler_RecoversAfterStoreOutage(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	kv := &unreliableKV{MemoryKV: store.NewMemoryKV(), down: true}
	handler := NewStateHandler(NewRoomStateProvider(store.NewReader(kv, clock), NewConnectionManager(DefaultConnectionConfig(), nil)))

	get := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.HandleGetRoomState(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/r1/state", nil))
		return rec
	}

	assert.Equal(t, http.StatusInternalServerError, get().Code)

	writer := store.NewJSONPersistence(kv.MemoryKV, clock)
	state, err := writer.Load(ctx, "r1")
	require.NoError(t, err)
	state.Players["p1"] = models.Player{ID: "p1", Name: "Ada", Role: models.RoleDeveloper}
	require.NoError(t, writer.Save(ctx, state))
	kv.down = false

	rec := get()
	require.Equal(t, http.StatusOK, rec.Code)
	var resp RoomStateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Contains(t, resp.State.Players, "p1")
}

func TestExtractRoomIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/rooms/r1/state", "r1"},
		{"/api/rooms/sprint-42/state", "sprint-42"},
		{"/api/rooms//state", ""},
		{"/api/rooms/r1", ""},
		{"/api/rooms/a/b/state", ""},
		{"/api/players/r1/state", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, extractRoomIDFromPath(tt.path))
		})
	}
}
