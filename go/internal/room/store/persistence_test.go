package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/planning-poker/go/internal/models"
)

type MockKV struct {
	mock.Mock
}

func (m *MockKV) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *MockKV) Set(ctx context.Context, key string, value []byte) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestRoomKey(t *testing.T) {
	assert.Equal(t, "planning-poker-room:abc", RoomKey("abc"))
}

func TestJSONPersistence_LoadMissingReturnsDefault(t *testing.T) {
	ctx := context.Background()
	p := NewJSONPersistence(NewMemoryKV(), clockwork.NewFakeClockAt(epoch))

	state, err := p.Load(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "room-1", state.RoomID)
	assert.Equal(t, models.PhaseVoting, state.Phase)
	assert.Empty(t, state.Players)
	assert.Empty(t, state.Votes)
	assert.Equal(t, epoch, state.CreatedAt)
}

func TestJSONPersistence_SaveThenLoad(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	kv := NewMemoryKV()
	p := NewJSONPersistence(kv, clock)

	state := models.NewRoomState("room-1", epoch)
	state.Players["p1"] = models.Player{ID: "p1", Name: "Ada", Role: models.RoleDeveloper, JoinedAt: epoch}

	clock.Advance(time.Minute)
	require.NoError(t, p.Save(ctx, state))
	assert.Equal(t, epoch.Add(time.Minute), state.LastActivity)

	other := NewJSONPersistence(kv, clock)
	loaded, err := other.Load(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", loaded.Players["p1"].Name)
	assert.False(t, loaded.Players["p1"].HasVoted)
	assert.True(t, epoch.Add(time.Minute).Equal(loaded.LastActivity))
}

func TestJSONPersistence_SaveNeverMovesActivityBackwards(t *testing.T) {
	ctx := context.Background()
	p := NewJSONPersistence(NewMemoryKV(), clockwork.NewFakeClockAt(epoch))

	state := models.NewRoomState("room-1", epoch.Add(time.Hour))
	require.NoError(t, p.Save(ctx, state))
	assert.Equal(t, epoch.Add(time.Hour), state.LastActivity)
}

func TestJSONPersistence_CorruptDocumentsAreDiscarded(t *testing.T) {
	testCases := []struct {
		desc string
		data string
	}{
		{desc: "not json", data: "{{{"},
		{desc: "unknown phase", data: `{"roomId":"room-1","phase":"paused","players":{},"votes":{}}`},
		{desc: "missing maps", data: `{"roomId":"room-1","phase":"voting"}`},
		{desc: "invalid vote", data: `{"roomId":"room-1","phase":"voting","players":{},"votes":{"p1":{"playerId":"p1","value":4}}}`},
		{desc: "other room", data: `{"roomId":"room-2","phase":"voting","players":{},"votes":{}}`},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			ctx := context.Background()
			kv := NewMemoryKV()
			require.NoError(t, kv.Set(ctx, RoomKey("room-1"), []byte(tc.data)))

			p := NewJSONPersistence(kv, clockwork.NewFakeClockAt(epoch))
			state, err := p.Load(ctx, "room-1")
			require.NoError(t, err)
			assert.Equal(t, "room-1", state.RoomID)
			assert.Equal(t, models.PhaseVoting, state.Phase)
			assert.Empty(t, state.Players)
			assert.False(t, p.Degraded())
		})
	}
}

func TestJSONPersistence_ReadFailureDegrades(t *testing.T) {
	ctx := context.Background()
	kv := new(MockKV)
	kv.On("Get", mock.Anything, RoomKey("room-1")).Return(nil, errors.New("quota exceeded")).Once()

	p := NewJSONPersistence(kv, clockwork.NewFakeClockAt(epoch))
	state, err := p.Load(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "room-1", state.RoomID)
	assert.True(t, p.Degraded())

	state.Phase = models.PhaseRevealing
	require.NoError(t, p.Save(ctx, state))

	again, err := p.Load(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseRevealing, again.Phase)

	kv.AssertExpectations(t)
	kv.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
}

func TestJSONPersistence_WriteFailureDegrades(t *testing.T) {
	ctx := context.Background()
	kv := new(MockKV)
	kv.On("Get", mock.Anything, RoomKey("room-1")).Return(nil, ErrNotFound).Once()
	kv.On("Set", mock.Anything, RoomKey("room-1"), mock.Anything).Return(errors.New("disk full")).Once()

	p := NewJSONPersistence(kv, clockwork.NewFakeClockAt(epoch))
	state, err := p.Load(ctx, "room-1")
	require.NoError(t, err)

	state.Players["p1"] = models.Player{ID: "p1"}
	require.NoError(t, p.Save(ctx, state))
	assert.True(t, p.Degraded())

	require.NoError(t, p.Save(ctx, state))

	loaded, err := p.Load(ctx, "room-1")
	require.NoError(t, err)
	assert.Contains(t, loaded.Players, "p1")
	kv.AssertExpectations(t)
}

func TestJSONPersistence_NilStoreStartsDegraded(t *testing.T) {
	p := NewJSONPersistence(nil, clockwork.NewFakeClockAt(epoch))
	assert.True(t, p.Degraded())

	state, err := p.Load(context.Background(), "room-1")
	require.NoError(t, err)
	require.NoError(t, p.Save(context.Background(), state))
}

func TestJSONPersistence_PersistedLayout(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	p := NewJSONPersistence(kv, clockwork.NewFakeClockAt(epoch))

	state := models.NewRoomState("room-1", epoch)
	v := models.Points(3)
	state.Players["p1"] = models.Player{ID: "p1", HasVoted: true, Vote: &v}
	state.Votes["p1"] = models.Vote{PlayerID: "p1", Value: v}
	require.NoError(t, p.Save(ctx, state))

	data, err := kv.Get(ctx, RoomKey("room-1"))
	require.NoError(t, err)

	var raw struct {
		RoomID  string                     `json:"roomId"`
		Players map[string]json.RawMessage `json:"players"`
		Votes   map[string]struct {
			Value json.RawMessage `json:"value"`
		} `json:"votes"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "room-1", raw.RoomID)
	assert.Equal(t, "3", string(raw.Votes["p1"].Value))
}
