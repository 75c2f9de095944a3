package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"PORT", "STORE_BACKEND", "TRANSPORT_BACKEND", "NATS_URL", "KV_BUCKET", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	config, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "8080", config.Server.Port)
	assert.Equal(t, 5*time.Second, config.Room.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, config.Room.PresenceTimeout)
	assert.Equal(t, 10*time.Second, config.Room.SaveInterval)
	assert.Equal(t, backendMemory, config.Store.Backend)
	assert.Equal(t, backendMemory, config.Transport.Backend)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
room:
  heartbeat_interval: 2s
store:
  backend: redis
transport:
  backend: nats
`), 0o600))
	t.Setenv("TRANSPORT_BACKEND", "postgres")
	t.Setenv("REDIS_DB", "3")

	config, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", config.Server.Port)
	assert.Equal(t, 2*time.Second, config.Room.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, config.Room.SaveInterval)
	assert.Equal(t, backendRedis, config.Store.Backend)
	assert.Equal(t, backendPostgres, config.Transport.Backend)
	assert.Equal(t, 3, config.Redis.DB)
}

func TestLoadConfig_RejectsUnknownBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", "floppy")

	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestLoadConfig_Malformed(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o600))

	_, err := loadConfig(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestLoadConfig_RejectsPresenceTimeoutWithinPeerLag(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		room    string
		wantErr string
	}{
		{"equal to lag", "heartbeat_interval: 5s\n  save_interval: 10s\n  presence_timeout: 15s", "presence_timeout"},
		{"below lag", "heartbeat_interval: 5s\n  save_interval: 20s\n  presence_timeout: 20s", "presence_timeout"},
		{"negative interval", "heartbeat_interval: -1s", "positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte("room:\n  "+tt.room+"\n"), 0o600))

			_, err := loadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("room:\n  presence_timeout: 16s\n"), 0o600))
	config, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 16*time.Second, config.Room.PresenceTimeout)
}
