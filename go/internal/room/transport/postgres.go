package transport

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// maxIdentifierLen is Postgres' NAMEDATALEN minus the terminator.
const maxIdentifierLen = 63

// MaxNotifyPayload is the largest payload pg_notify accepts. Larger
// messages are written to room_broadcasts and the notification carries
// a reference to the row.
const MaxNotifyPayload = 7999

// referencePrefix marks a notification that points at a stored message.
// Envelopes are JSON objects, so they never start with it.
const referencePrefix = "@room_broadcasts:"

// broadcastRetention is how long stored messages are kept for listeners.
const broadcastRetention = 5 * time.Minute

const createRoomBroadcastsTable = `
CREATE TABLE IF NOT EXISTS room_broadcasts (
	id         BIGSERIAL PRIMARY KEY,
	payload    BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresChannelConfig holds settings for LISTEN/NOTIFY.
type PostgresChannelConfig struct {
	DatabaseURL          string // DSN used by the dedicated LISTEN connection
	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
}

func DefaultPostgresChannelConfig() PostgresChannelConfig {
	return PostgresChannelConfig{
		MinReconnectInterval: 10 * time.Second,
		MaxReconnectInterval: time.Minute,
		PingInterval:         90 * time.Second,
	}
}

// PostgresChannel fans messages out with LISTEN and pg_notify. A single
// dispatcher goroutine reads the listener and routes notifications to handlers.
type PostgresChannel struct {
	db       *sql.DB
	listener *pq.Listener
	cfg      PostgresChannelConfig

	mu       sync.RWMutex
	handlers map[string]map[uint64]Handler
	nextID   uint64

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPostgresChannel opens the LISTEN connection and starts the dispatcher.
func NewPostgresChannel(db *sql.DB, cfg PostgresChannelConfig) *PostgresChannel {
	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnectInterval,
		cfg.MaxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)

	c := &PostgresChannel{
		db:       db,
		listener: l,
		cfg:      cfg,
		handlers: make(map[string]map[uint64]Handler),
		stopChan: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// Identifier maps a channel name to a valid LISTEN identifier.
func Identifier(channel string) string {
	if len(channel) <= maxIdentifierLen {
		return channel
	}
	sum := sha256.Sum256([]byte(channel))
	return ChannelPrefix + hex.EncodeToString(sum[:16])
}

// EnsureSchema creates the room_broadcasts table if it does not exist.
func (c *PostgresChannel) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, createRoomBroadcastsTable); err != nil {
		return fmt.Errorf("failed to create room_broadcasts: %w", err)
	}
	return nil
}

func (c *PostgresChannel) Publish(ctx context.Context, channel string, data []byte) error {
	payload := string(data)
	if len(data) > MaxNotifyPayload {
		id, err := c.store(ctx, data)
		if err != nil {
			return fmt.Errorf("store large message for %s: %w", channel, err)
		}
		payload = reference(id)
	}
	if _, err := c.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, Identifier(channel), payload); err != nil {
		return fmt.Errorf("pg_notify %s: %w", channel, err)
	}
	return nil
}

// store writes data to room_broadcasts and prunes expired rows.
func (c *PostgresChannel) store(ctx context.Context, data []byte) (int64, error) {
	var id int64
	err := c.db.QueryRowContext(ctx,
		`INSERT INTO room_broadcasts (payload) VALUES ($1) RETURNING id`, data).Scan(&id)
	if err != nil {
		return 0, err
	}
	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM room_broadcasts WHERE created_at < NOW() - make_interval(secs => $1)`,
		broadcastRetention.Seconds()); err != nil {
		log.Warn().Err(err).Msg("failed to prune room_broadcasts")
	}
	return id, nil
}

func (c *PostgresChannel) fetch(id int64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var data []byte
	err := c.db.QueryRowContext(ctx, `SELECT payload FROM room_broadcasts WHERE id = $1`, id).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("load stored message %d: %w", id, err)
	}
	return data, nil
}

func reference(id int64) string {
	return referencePrefix + strconv.FormatInt(id, 10)
}

// parseReference returns the row id of a reference notification.
func parseReference(extra string) (int64, bool) {
	rest, ok := strings.CutPrefix(extra, referencePrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (c *PostgresChannel) Subscribe(_ context.Context, channel string, handler Handler) (Subscription, error) {
	ident := Identifier(channel)

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.handlers[ident]) == 0 {
		if err := c.listener.Listen(ident); err != nil && !errors.Is(err, pq.ErrChannelAlreadyOpen) {
			return nil, fmt.Errorf("failed to listen to channel: %w", err)
		}
		c.handlers[ident] = make(map[uint64]Handler)
	}
	c.nextID++
	id := c.nextID
	c.handlers[ident][id] = handler

	var once sync.Once
	return subscriptionFunc(func() error {
		var err error
		once.Do(func() { err = c.remove(ident, id) })
		return err
	}), nil
}

func (c *PostgresChannel) remove(ident string, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.handlers[ident], id)
	if len(c.handlers[ident]) > 0 {
		return nil
	}
	delete(c.handlers, ident)
	if err := c.listener.Unlisten(ident); err != nil && !errors.Is(err, pq.ErrChannelNotOpen) {
		return fmt.Errorf("failed to unlisten channel: %w", err)
	}
	return nil
}

func (c *PostgresChannel) run() {
	defer c.wg.Done()

	pingTicker := time.NewTicker(c.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case note := <-c.listener.Notify:
			if note == nil {
				// connection was re-established; anything sent meanwhile is lost
				continue
			}
			data := []byte(note.Extra)
			if id, ok := parseReference(note.Extra); ok {
				var err error
				if data, err = c.fetch(id); err != nil {
					log.Warn().Err(err).Str("channel", note.Channel).Msg("dropping notification")
					continue
				}
			}
			c.dispatch(note.Channel, data)
		case <-pingTicker.C:
			if err := c.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (c *PostgresChannel) dispatch(ident string, data []byte) {
	c.mu.RLock()
	handlers := make([]Handler, 0, len(c.handlers[ident]))
	for _, h := range c.handlers[ident] {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	for _, h := range handlers {
		h(data)
	}
}

// Close stops the dispatcher and closes the LISTEN connection.
func (c *PostgresChannel) Close() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
		err = c.listener.Close()
	})
	return err
}
