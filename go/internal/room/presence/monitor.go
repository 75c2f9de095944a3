package presence

import (
	"sort"
	"time"

	"github.com/mcdev12/planning-poker/go/internal/models"
)

// Config holds the presence timings. SaveInterval is how often peers share
// their state, which is how their heartbeats reach this context.
type Config struct {
	HeartbeatInterval time.Duration
	SaveInterval      time.Duration
	Timeout           time.Duration
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		SaveInterval:      10 * time.Second,
		Timeout:           30 * time.Second,
	}
}

// Monitor refreshes the local heartbeat and evicts silent players.
type Monitor struct {
	cfg Config
}

func NewMonitor(cfg Config) *Monitor {
	return &Monitor{cfg: cfg}
}

func (m *Monitor) Config() Config {
	return m.cfg
}

// OnlineWindow is how recent a heartbeat must be for a player to show as
// online. A peer's copy can lag by one heartbeat plus one save, and one more
// heartbeat covers timer jitter. The window never exceeds the timeout.
func (m *Monitor) OnlineWindow() time.Duration {
	w := 2*m.cfg.HeartbeatInterval + m.cfg.SaveInterval
	if m.cfg.Timeout > 0 && w > m.cfg.Timeout {
		return m.cfg.Timeout
	}
	return w
}

// Heartbeat refreshes the local player. It returns false when the local
// player is not in the roster.
func (m *Monitor) Heartbeat(state *models.RoomState, localID string, now time.Time) bool {
	p, ok := state.Players[localID]
	if !ok {
		return false
	}
	p.LastHeartbeat = now
	p.Online = true
	state.Players[localID] = p
	return true
}

// Sweep removes players whose last heartbeat is older than the timeout,
// along with their votes, and returns the removed ids in sorted order.
func (m *Monitor) Sweep(state *models.RoomState, now time.Time) []string {
	var removed []string
	for id, p := range state.Players {
		age := now.Sub(p.LastHeartbeat)
		if age > m.cfg.Timeout {
			delete(state.Players, id)
			delete(state.Votes, id)
			removed = append(removed, id)
			continue
		}
		online := age <= m.OnlineWindow()
		if p.Online != online {
			p.Online = online
			state.Players[id] = p
		}
	}
	sort.Strings(removed)
	return removed
}
