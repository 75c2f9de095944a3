package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/planning-poker/go/internal/models"
)

// flakyKV fails the next failures Gets and then reads through.
type flakyKV struct {
	*MemoryKV
	failures int
}

func (f *flakyKV) Get(ctx context.Context, key string) ([]byte, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection reset")
	}
	return f.MemoryKV.Get(ctx, key)
}

func TestReader_RecoversAfterStoreFailure(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	kv := NewMemoryKV()
	reader := NewReader(&flakyKV{MemoryKV: kv, failures: 1}, clock)

	_, err := reader.Load(ctx, "room-1")
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection reset")

	writer := NewJSONPersistence(kv, clock)
	state, err := writer.Load(ctx, "room-1")
	require.NoError(t, err)
	state.Players["p1"] = models.Player{ID: "p1", Name: "Ada", Role: models.RoleDeveloper, JoinedAt: epoch}
	require.NoError(t, writer.Save(ctx, state))

	loaded, err := reader.Load(ctx, "room-1")
	require.NoError(t, err)
	assert.Len(t, loaded.Players, 1)
	assert.Equal(t, "Ada", loaded.Players["p1"].Name)
}

func TestReader_MissingAndCorruptYieldDefault(t *testing.T) {
	ctx := context.Background()
	kv := new(MockKV)
	kv.On("Get", mock.Anything, RoomKey("fresh")).Return(nil, ErrNotFound).Once()
	kv.On("Get", mock.Anything, RoomKey("broken")).Return([]byte("{not json"), nil).Once()

	reader := NewReader(kv, clockwork.NewFakeClockAt(epoch))
	for _, roomID := range []string{"fresh", "broken"} {
		state, err := reader.Load(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, roomID, state.RoomID)
		assert.Equal(t, models.PhaseVoting, state.Phase)
		assert.Empty(t, state.Players)
	}
	kv.AssertExpectations(t)
}
