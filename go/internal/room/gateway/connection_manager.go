package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/mcdev12/planning-poker/go/internal/room"
	"github.com/mcdev12/planning-poker/go/internal/room/eventbus"
)

// RoomFactory builds the participant context backing one connection.
type RoomFactory func(contextID string) *room.Service

// ConnectionManager manages WebSocket connections grouped by room
type ConnectionManager struct {
	roomConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	factory  RoomFactory
}

// Connection is one browser tab: a WebSocket plus its own room service.
type Connection struct {
	ID       string
	PlayerID string
	RoomID   string
	Conn     *websocket.Conn
	Room     *room.Service
	Manager  *ConnectionManager

	ConnectedAt time.Time

	send     chan []byte
	sendMu   sync.Mutex
	closed   bool
	limiter  *rate.Limiter
	ctx      context.Context
	cancel   context.CancelFunc
	shutdown sync.Once
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CommandRate     rate.Limit
	CommandBurst    int
	CommandTimeout  time.Duration
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CommandRate:     rate.Limit(10),
		CommandBurst:    20,
		CommandTimeout:  5 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

func NewConnectionManager(config ConnectionConfig, factory RoomFactory) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:  config,
		factory: factory,
	}
}

// Start blocks until ctx is done, then closes every connection.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	<-ctx.Done()

	cm.mu.RLock()
	var all []*Connection
	for _, conns := range cm.roomConnections {
		for c := range conns {
			all = append(all, c)
		}
	}
	cm.mu.RUnlock()

	for _, c := range all {
		c.Conn.Close()
	}
	log.Info().Int("connections", len(all)).Msg("connection manager shutting down")
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and attaches
// a fresh room service to it. The player joins with a join command.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, roomID, playerID string) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		ID:          id,
		PlayerID:    playerID,
		RoomID:      roomID,
		Conn:        conn,
		Room:        cm.factory(id),
		Manager:     cm,
		ConnectedAt: time.Now(),
		send:        make(chan []byte, cm.config.SendBufferSize),
		limiter:     rate.NewLimiter(cm.config.CommandRate, cm.config.CommandBurst),
		ctx:         ctx,
		cancel:      cancel,
	}

	for _, name := range eventbus.Names {
		c.Room.Bus().On(name, func(data any) {
			c.reply(Reply{Type: ReplyEvent, Event: name, Data: data})
		})
	}

	cm.registerConnection(c)

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ID).
		Str("player_id", playerID).
		Str("room_id", roomID).
		Msg("WebSocket connection established")

	return c, nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.roomConnections[conn.RoomID] == nil {
		cm.roomConnections[conn.RoomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[conn.RoomID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_id", conn.RoomID).
		Int("total_connections", len(cm.roomConnections[conn.RoomID])).
		Msg("connection registered")
}

// unregisterConnection removes conn and reports whether it was the last
// live connection of its player in the room.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, exists := cm.roomConnections[conn.RoomID]
	if !exists {
		return false
	}
	if _, exists := connections[conn]; !exists {
		return false
	}
	delete(connections, conn)
	if len(connections) == 0 {
		delete(cm.roomConnections, conn.RoomID)
	}

	last := true
	for other := range connections {
		if other.PlayerID == conn.PlayerID {
			last = false
			break
		}
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("player_id", conn.PlayerID).
		Str("room_id", conn.RoomID).
		Bool("last_for_player", last).
		Msg("connection unregistered")
	return last
}

// ActiveRooms returns the number of live connections per room.
func (cm *ConnectionManager) ActiveRooms() map[string]int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out := make(map[string]int, len(cm.roomConnections))
	for roomID, conns := range cm.roomConnections {
		out[roomID] = len(conns)
	}
	return out
}

// ConnectionStats describes the live connections.
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	rooms := cm.ActiveRooms()
	stats := ConnectionStats{ActiveRooms: len(rooms), RoomConnections: rooms}
	for _, n := range rooms {
		stats.TotalConnections += n
	}
	return stats
}

// activeRoomIDs returns the rooms with live connections, sorted.
func (cm *ConnectionManager) activeRoomIDs() []string {
	rooms := cm.ActiveRooms()
	ids := make([]string, 0, len(rooms))
	for id := range rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// reply queues a message for the client. A full buffer means the client is
// too slow; its socket is closed and the read pump tears the rest down.
func (c *Connection) reply(r Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal reply")
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Str("player_id", c.PlayerID).
			Msg("connection send buffer full, closing connection")
		c.Conn.Close()
	}
}

func (c *Connection) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// close releases the room service and stops the write pump. The player
// leaves the room only when no other connection still holds it.
func (c *Connection) close() {
	c.shutdown.Do(func() {
		c.cancel()

		last := c.Manager.unregisterConnection(c)
		if last && c.Room.LocalPlayerID() != "" {
			ctx, cancel := context.WithTimeout(context.Background(), c.Manager.config.CommandTimeout)
			if err := c.Room.LeaveRoom(ctx); err != nil {
				log.Warn().Err(err).Str("connection_id", c.ID).Msg("failed to leave room on disconnect")
			}
			cancel()
		}
		c.Room.Destroy()
		c.closeSend()
	})
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.close()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
