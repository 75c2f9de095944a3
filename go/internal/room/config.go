package room

import (
	"time"

	"github.com/mcdev12/planning-poker/go/internal/room/presence"
)

// Config holds the timings of one RoomService.
type Config struct {
	HeartbeatInterval time.Duration
	PresenceTimeout   time.Duration
	SaveInterval      time.Duration
}

// DefaultConfig returns the reference timings: heartbeat every 5s, eviction
// after 30s of silence and a full save every 10s.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		PresenceTimeout:   30 * time.Second,
		SaveInterval:      10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.PresenceTimeout <= 0 {
		c.PresenceTimeout = d.PresenceTimeout
	}
	if c.SaveInterval <= 0 {
		c.SaveInterval = d.SaveInterval
	}
	return c
}

func (c Config) presence() presence.Config {
	return presence.Config{
		HeartbeatInterval: c.HeartbeatInterval,
		SaveInterval:      c.SaveInterval,
		Timeout:           c.PresenceTimeout,
	}
}
