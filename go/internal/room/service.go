package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planning-poker/go/internal/models"
	"github.com/mcdev12/planning-poker/go/internal/room/eventbus"
	"github.com/mcdev12/planning-poker/go/internal/room/events"
	"github.com/mcdev12/planning-poker/go/internal/room/ledger"
	"github.com/mcdev12/planning-poker/go/internal/room/phase"
	"github.com/mcdev12/planning-poker/go/internal/room/presence"
	"github.com/mcdev12/planning-poker/go/internal/room/scheduler"
	"github.com/mcdev12/planning-poker/go/internal/room/store"
	"github.com/mcdev12/planning-poker/go/internal/room/transport"
)

var (
	// ErrNotInitialized is returned by operations that need a loaded room
	ErrNotInitialized = errors.New("room not initialized")
	// ErrAlreadyInitialized is returned when initializing a service twice
	ErrAlreadyInitialized = errors.New("room already initialized")
	// ErrRoomMismatch is returned when joining a room other than the initialized one
	ErrRoomMismatch = errors.New("service is bound to another room")
	// ErrNotJoined is returned by operations that need a local player
	ErrNotJoined = errors.New("no local player has joined")
	// ErrDestroyed is returned after Destroy
	ErrDestroyed = errors.New("room service destroyed")
	// ErrInvalidPlayer is returned when join input is incomplete
	ErrInvalidPlayer = errors.New("invalid player")
)

const (
	heartbeatJob = "heartbeat"
	saveJob      = "save"
)

// Transport delivers envelopes between the contexts of a room.
type Transport interface {
	Publish(ctx context.Context, roomID string, payload events.Payload) error
	Subscribe(ctx context.Context, roomID string, handler func(events.Envelope)) (transport.Subscription, error)
}

// Deps are the collaborators of a Service. Nil fields get working defaults:
// a real clock, a fresh bus, an in-memory persistence and no transport.
type Deps struct {
	Persistence store.Persistence
	Transport   Transport
	Clock       clockwork.Clock
	Bus         *eventbus.Bus
	Config      Config
	ContextID   string
}

// PlayerInfo is the input of JoinRoom.
type PlayerInfo struct {
	ID   string
	Name string
	Role models.Role
}

// Service is one context's view of one room.
type Service struct {
	persistence store.Persistence
	transport   Transport
	clock       clockwork.Clock
	bus         *eventbus.Bus
	cfg         Config
	contextID   string
	presence    *presence.Monitor
	scheduler   *scheduler.Scheduler

	lifetime context.Context
	cancel   context.CancelFunc

	mu        sync.Mutex
	roomID    string
	initDone  chan struct{} // closed when the Initialize that claimed roomID returns
	state     *store.StateStore
	local     *models.Player // identity used to re-add ourselves after a peer evicts us
	sub       transport.Subscription
	destroyed bool
}

func NewService(deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.New()
	}
	if deps.ContextID == "" {
		deps.ContextID = uuid.NewString()
	}
	if deps.Persistence == nil {
		deps.Persistence = store.NewJSONPersistence(nil, deps.Clock)
	}
	if deps.Transport == nil {
		deps.Transport = transport.NewBroadcaster(nil, deps.ContextID, deps.Clock)
	}
	cfg := deps.Config.withDefaults()

	lifetime, cancel := context.WithCancel(context.Background())
	return &Service{
		persistence: deps.Persistence,
		transport:   deps.Transport,
		clock:       deps.Clock,
		bus:         deps.Bus,
		cfg:         cfg,
		contextID:   deps.ContextID,
		presence:    presence.NewMonitor(cfg.presence()),
		scheduler:   scheduler.New(deps.Clock),
		lifetime:    lifetime,
		cancel:      cancel,
	}
}

func (s *Service) Bus() *eventbus.Bus { return s.bus }

func (s *Service) ContextID() string { return s.contextID }

func (s *Service) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// LocalPlayerID returns the id of the player this context joined as, if any.
func (s *Service) LocalPlayerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.local == nil {
		return ""
	}
	return s.local.ID
}

// Initialize loads the room, subscribes to its broadcasts, starts the
// heartbeat and save jobs and asks peers for their state. On failure every
// acquired resource is released and the service is unusable.
func (s *Service) Initialize(ctx context.Context, roomID string) (err error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return fmt.Errorf("%w: empty room id", models.ErrInvalidState)
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	if s.roomID != "" {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, s.roomID)
	}
	s.roomID = roomID
	done := make(chan struct{})
	s.initDone = done
	s.mu.Unlock()

	defer close(done)
	defer func() {
		if err != nil {
			s.Destroy()
		}
	}()

	st := store.NewStateStore(s.persistence)
	if err := st.Load(ctx, roomID); err != nil {
		return fmt.Errorf("failed to load room %s: %w", roomID, err)
	}

	sub, err := s.transport.Subscribe(ctx, roomID, s.handleEnvelope)
	if err != nil {
		return fmt.Errorf("failed to subscribe to room %s: %w", roomID, err)
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		_ = sub.Close()
		return ErrDestroyed
	}
	s.state = st
	s.sub = sub
	snapshot := st.State()
	s.mu.Unlock()

	if err := s.scheduler.Every(heartbeatJob, s.cfg.HeartbeatInterval, s.heartbeatTick); err != nil {
		return fmt.Errorf("failed to start heartbeat: %w", err)
	}
	if err := s.scheduler.Every(saveJob, s.cfg.SaveInterval, s.saveTick); err != nil {
		return fmt.Errorf("failed to start periodic save: %w", err)
	}

	log.Info().
		Str("room_id", roomID).
		Str("sender", s.contextID).
		Int("players", len(snapshot.Players)).
		Msg("room initialized")

	fx := newEffects(roomID)
	fx.send(events.SyncRequest{})
	fx.raise(eventbus.RoomInitialized, snapshot)
	s.flush(fx)
	return nil
}

// JoinRoom adds or refreshes the local player, initializing the room first
// if needed.
func (s *Service) JoinRoom(ctx context.Context, roomID string, info PlayerInfo) (models.Player, error) {
	info.Name = strings.TrimSpace(info.Name)
	if info.Name == "" {
		return models.Player{}, fmt.Errorf("%w: name is required", ErrInvalidPlayer)
	}
	role, err := models.ParseRole(string(info.Role))
	if err != nil {
		return models.Player{}, err
	}
	if info.ID == "" {
		info.ID = uuid.NewString()
	}

	if s.RoomID() == "" {
		if err := s.Initialize(ctx, roomID); err != nil && !errors.Is(err, ErrAlreadyInitialized) {
			return models.Player{}, err
		}
	}
	if err := s.awaitInitialize(ctx); err != nil {
		return models.Player{}, err
	}

	s.mu.Lock()
	if err := s.ready(); err != nil {
		s.mu.Unlock()
		return models.Player{}, err
	}
	if r := strings.TrimSpace(roomID); r != "" && r != s.roomID {
		s.mu.Unlock()
		return models.Player{}, fmt.Errorf("%w: %s", ErrRoomMismatch, s.roomID)
	}

	now := s.clock.Now()
	var player models.Player
	_ = s.state.Mutate(func(st *models.RoomState) error {
		player = st.Players[info.ID]
		if player.ID == "" {
			player = models.Player{ID: info.ID, JoinedAt: now}
		}
		player.Name = info.Name
		player.Role = role
		player.LastHeartbeat = now
		player.Online = true
		st.Players[player.ID] = player
		st.ReconcileVoteMirrors()
		player = st.Players[player.ID]
		st.Touch(now)
		return nil
	})
	local := player
	s.local = &local
	s.persist(ctx)
	players := s.state.State().Players
	fx := newEffects(s.roomID)
	s.mu.Unlock()

	log.Info().
		Str("room_id", fx.roomID).
		Str("player_id", player.ID).
		Str("role", string(player.Role)).
		Msg("player joined")

	fx.send(events.PlayerJoined{Player: player})
	fx.raise(eventbus.PlayerAdded, player)
	fx.raise(eventbus.RoomPlayersUpdated, players)
	s.flush(fx)
	return player, nil
}

// SubmitVote records a vote for playerID. Invalid input leaves the room unchanged.
func (s *Service) SubmitVote(ctx context.Context, playerID string, value models.VoteValue) (models.Vote, error) {
	s.mu.Lock()
	if err := s.ready(); err != nil {
		s.mu.Unlock()
		return models.Vote{}, err
	}

	now := s.clock.Now()
	var vote models.Vote
	err := s.state.Mutate(func(st *models.RoomState) error {
		v, err := ledger.Submit(st, playerID, value, now)
		if err != nil {
			return err
		}
		vote = v
		st.Touch(now)
		return nil
	})
	if err != nil {
		s.mu.Unlock()
		return models.Vote{}, err
	}
	s.persist(ctx)
	votes := s.state.State().Votes
	fx := newEffects(s.roomID)
	s.mu.Unlock()

	fx.send(events.VoteSubmitted{Vote: vote})
	fx.raise(eventbus.RoomVotesUpdated, votes)
	s.flush(fx)
	return vote, nil
}

// ChangePhase moves the room forward: voting to revealing, revealing to
// finished. Returning to voting goes through ClearVotes.
func (s *Service) ChangePhase(ctx context.Context, to models.Phase) error {
	if _, err := models.ParsePhase(string(to)); err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.ready(); err != nil {
		s.mu.Unlock()
		return err
	}

	now := s.clock.Now()
	var change events.PhaseChanged
	err := s.state.Mutate(func(st *models.RoomState) error {
		trigger, err := phase.TriggerFor(st.Phase, to)
		if err != nil {
			return err
		}
		next, err := phase.Transition(st.Phase, trigger)
		if err != nil {
			return err
		}
		change = events.PhaseChanged{From: st.Phase, To: next}
		st.Phase = next
		st.Touch(now)
		return nil
	})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.persist(ctx)
	fx := newEffects(s.roomID)
	s.mu.Unlock()

	log.Info().
		Str("room_id", fx.roomID).
		Str("from", string(change.From)).
		Str("to", string(change.To)).
		Msg("phase changed")

	fx.send(change)
	fx.raise(eventbus.PhaseChanged, change)
	s.flush(fx)
	return nil
}

// Reveal moves the room from voting to revealing.
func (s *Service) Reveal(ctx context.Context) error {
	return s.ChangePhase(ctx, models.PhaseRevealing)
}

// Finalize moves the room from revealing to finished.
func (s *Service) Finalize(ctx context.Context) error {
	return s.ChangePhase(ctx, models.PhaseFinished)
}

// ClearVotes discards every vote and returns the room to voting. It is
// allowed from any phase.
func (s *Service) ClearVotes(ctx context.Context) error {
	s.mu.Lock()
	if err := s.ready(); err != nil {
		s.mu.Unlock()
		return err
	}

	now := s.clock.Now()
	var change events.PhaseChanged
	_ = s.state.Mutate(func(st *models.RoomState) error {
		change.From = st.Phase
		ledger.Clear(st)
		change.To = st.Phase
		st.Touch(now)
		return nil
	})
	s.persist(ctx)
	votes := s.state.State().Votes
	fx := newEffects(s.roomID)
	s.mu.Unlock()

	fx.send(events.VotesCleared{})
	fx.raise(eventbus.VotesCleared, nil)
	fx.raise(eventbus.PhaseChanged, change)
	fx.raise(eventbus.RoomVotesUpdated, votes)
	s.flush(fx)
	return nil
}

// LeaveRoom removes the local player and tells peers right away instead of
// waiting for the presence timeout.
func (s *Service) LeaveRoom(ctx context.Context) error {
	s.mu.Lock()
	if err := s.ready(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.local == nil {
		s.mu.Unlock()
		return ErrNotJoined
	}

	playerID := s.local.ID
	s.local = nil
	now := s.clock.Now()
	_ = s.state.Mutate(func(st *models.RoomState) error {
		delete(st.Players, playerID)
		delete(st.Votes, playerID)
		st.Touch(now)
		return nil
	})
	s.persist(ctx)
	snapshot := s.state.State()
	fx := newEffects(s.roomID)
	s.mu.Unlock()

	log.Info().Str("room_id", fx.roomID).Str("player_id", playerID).Msg("player left")

	fx.send(events.PlayerLeft{PlayerID: playerID})
	fx.raise(eventbus.RoomPlayersUpdated, snapshot.Players)
	fx.raise(eventbus.RoomVotesUpdated, snapshot.Votes)
	s.flush(fx)
	return nil
}

// State returns a copy of the local room state, or nil before Initialize.
func (s *Service) State() *models.RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil
	}
	return s.state.State()
}

// Summary returns vote statistics for the current round.
func (s *Service) Summary() (ledger.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return ledger.Summary{}, err
	}
	return ledger.Summarize(s.state.State()), nil
}

// Destroy stops the jobs and closes the subscription. It is safe to call
// more than once and after a failed Initialize, but not from an event
// handler, since it waits for running jobs.
func (s *Service) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	sub := s.sub
	s.sub = nil
	roomID := s.roomID
	s.mu.Unlock()

	s.cancel()
	s.scheduler.Stop()
	if sub != nil {
		if err := sub.Close(); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("failed to close subscription")
		}
	}
	log.Debug().Str("room_id", roomID).Str("sender", s.contextID).Msg("room service destroyed")
}

// awaitInitialize blocks while a concurrent Initialize is still loading.
func (s *Service) awaitInitialize(ctx context.Context) error {
	s.mu.Lock()
	done := s.initDone
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ready must be called with mu held.
func (s *Service) ready() error {
	if s.destroyed {
		return ErrDestroyed
	}
	if s.state == nil || !s.state.Loaded() {
		return ErrNotInitialized
	}
	return nil
}

// persist must be called with mu held. Failures are logged, not returned.
func (s *Service) persist(ctx context.Context) {
	if err := s.state.Persist(ctx); err != nil {
		log.Warn().Err(err).Str("room_id", s.roomID).Msg("failed to persist room")
	}
}
