package eventbus

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Local event names.
const (
	RoomInitialized    = "room:initialized"
	PlayerAdded        = "players:player-added"
	RoomPlayersUpdated = "room:players-updated"
	RoomVotesUpdated   = "room:votes-updated"
	PhaseChanged       = "game:phase-changed"
	VotesCleared       = "game:votes-cleared"
	RoomSynced         = "room:synced"
)

// Names lists every local event name.
var Names = []string{
	RoomInitialized,
	PlayerAdded,
	RoomPlayersUpdated,
	RoomVotesUpdated,
	PhaseChanged,
	VotesCleared,
	RoomSynced,
}

// HandlerID identifies a registration for Off.
type HandlerID uint64

// Handler receives the data passed to Emit.
type Handler func(data any)

// Bus is a synchronous, in-process event registry.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]registration
	nextID   HandlerID
}

type registration struct {
	id      HandlerID
	handler Handler
}

func New() *Bus {
	return &Bus{handlers: make(map[string][]registration)}
}

// On registers handler for name.
func (b *Bus) On(name string, handler Handler) HandlerID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[name] = append(b.handlers[name], registration{id: b.nextID, handler: handler})
	return b.nextID
}

// Off removes a registration. Unknown ids are ignored.
func (b *Bus) Off(name string, id HandlerID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[name]
	for i, r := range regs {
		if r.id == id {
			b.handlers[name] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(b.handlers[name]) == 0 {
		delete(b.handlers, name)
	}
}

// Emit calls every handler for name in registration order. A panicking
// handler is logged and the remaining handlers still run.
func (b *Bus) Emit(name string, data any) {
	b.mu.RLock()
	regs := make([]registration, len(b.handlers[name]))
	copy(regs, b.handlers[name])
	b.mu.RUnlock()

	for _, r := range regs {
		b.call(name, r, data)
	}
}

func (b *Bus) call(name string, r registration, data any) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("event", name).
				Uint64("handler_id", uint64(r.id)).
				Interface("panic", rec).
				Msg("event handler panicked")
		}
	}()
	r.handler(data)
}

// Len returns the number of handlers registered for name.
func (b *Bus) Len(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}
