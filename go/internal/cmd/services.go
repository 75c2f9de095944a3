package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/mcdev12/planning-poker/go/internal/dbconfig"
	"github.com/mcdev12/planning-poker/go/internal/room"
	"github.com/mcdev12/planning-poker/go/internal/room/gateway"
	"github.com/mcdev12/planning-poker/go/internal/room/remote"
	"github.com/mcdev12/planning-poker/go/internal/room/store"
	"github.com/mcdev12/planning-poker/go/internal/room/transport"
)

type Services struct {
	Gateway *gateway.Service

	checks  []backendCheck
	closers []func()
}

// Close releases the backend connections in reverse order of creation.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// backends holds the shared clients every room service is built on.
type backends struct {
	clock  clockwork.Clock
	kv     store.KeyValueStore
	pubsub transport.PubSubChannel
	tree   remote.Tree
}

func setupServices(ctx context.Context, config *Config) (*Services, error) {
	services := &Services{}
	b, err := setupBackends(ctx, config, services)
	if err != nil {
		services.Close()
		return nil, err
	}

	roomConfig := room.Config{
		HeartbeatInterval: config.Room.HeartbeatInterval,
		PresenceTimeout:   config.Room.PresenceTimeout,
		SaveInterval:      config.Room.SaveInterval,
	}

	// One room service per connection, all sharing the backends
	factory := func(contextID string) *room.Service {
		return room.NewService(room.Deps{
			Persistence: b.persistence(contextID),
			Transport:   b.transport(contextID),
			Clock:       b.clock,
			Config:      roomConfig,
			ContextID:   contextID,
		})
	}

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.ConnectionConfig.CommandRate = rate.Limit(config.Gateway.CommandRate)
	gatewayConfig.ConnectionConfig.CommandBurst = config.Gateway.CommandBurst
	services.Gateway = gateway.NewService(gatewayConfig, factory, b.reader())

	log.Info().
		Str("store", config.Store.Backend).
		Str("transport", config.Transport.Backend).
		Msg("room services configured")
	return services, nil
}

func (b *backends) persistence(contextID string) store.Persistence {
	if b.tree != nil && b.kv == nil {
		return remote.NewAdapter(b.tree, contextID, b.clock)
	}
	return store.NewJSONPersistence(b.kv, b.clock)
}

// reader serves the gateway's state endpoints. It reports store failures
// instead of degrading.
func (b *backends) reader() store.StateReader {
	if b.tree != nil && b.kv == nil {
		return remote.NewReader(b.tree, b.clock)
	}
	return store.NewReader(b.kv, b.clock)
}

func (b *backends) transport(contextID string) room.Transport {
	if b.pubsub == nil {
		return remote.NewAdapter(b.tree, contextID, b.clock)
	}
	return transport.NewBroadcaster(b.pubsub, contextID, b.clock)
}

func setupBackends(ctx context.Context, config *Config, services *Services) (*backends, error) {
	b := &backends{clock: clockwork.NewRealClock()}
	dbConfig := dbconfig.NewConfigFromEnv()

	var (
		nc  *nats.Conn
		rdb *redis.Client
		db  *sql.DB
		err error
	)

	if config.Transport.Backend == backendNATS || config.Transport.Backend == backendRemote || config.Store.Backend == backendRemote {
		natsConfig := transport.DefaultNATSConfig()
		natsConfig.URL = config.NATS.URL
		if nc, err = transport.ConnectNATS(natsConfig); err != nil {
			return nil, err
		}
		services.closers = append(services.closers, nc.Close)
		services.checks = append(services.checks, backendCheck{name: "nats", check: func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("connection %s", nc.Status())
			}
			return nil
		}})
		log.Info().Str("url", config.NATS.URL).Msg("connected to NATS")
	}

	if config.Transport.Backend == backendRedis || config.Store.Backend == backendRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		services.closers = append(services.closers, func() { rdb.Close() })
		services.checks = append(services.checks, backendCheck{name: "redis", check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis at %s: %w", config.Redis.Addr, err)
		}
		log.Info().Str("addr", config.Redis.Addr).Msg("connected to redis")
	}

	if config.Store.Backend == backendRemote || config.Transport.Backend == backendRemote {
		js, err := jetstream.New(nc)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		jsConfig := remote.DefaultJetStreamConfig()
		jsConfig.Bucket = config.NATS.Bucket
		if b.tree, err = remote.NewJetStreamTree(ctx, js, jsConfig); err != nil {
			return nil, err
		}
	}

	switch config.Store.Backend {
	case backendMemory:
		b.kv = store.NewMemoryKV()
	case backendRedis:
		b.kv = store.NewRedisKV(rdb, config.Store.RedisTTL)
	case backendPostgres:
		pg, err := store.NewPostgresKV(ctx, dbConfig.DSN())
		if err != nil {
			return nil, err
		}
		services.closers = append(services.closers, pg.Close)
		services.checks = append(services.checks, backendCheck{name: "postgres_store", check: pg.Ping})
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		b.kv = pg
	}

	switch config.Transport.Backend {
	case backendMemory:
		b.pubsub = transport.NewHub()
	case backendNATS:
		b.pubsub = transport.NewNATSChannel(nc)
	case backendRedis:
		b.pubsub = transport.NewRedisChannel(rdb)
	case backendPostgres:
		if db, err = setupDatabase(dbConfig); err != nil {
			return nil, err
		}
		services.closers = append(services.closers, func() { db.Close() })
		services.checks = append(services.checks, backendCheck{name: "postgres_transport", check: db.PingContext})

		pgConfig := transport.DefaultPostgresChannelConfig()
		pgConfig.DatabaseURL = dbConfig.DSN()
		channel := transport.NewPostgresChannel(db, pgConfig)
		services.closers = append(services.closers, func() {
			if err := channel.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close postgres listener")
			}
		})
		if err := channel.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		b.pubsub = channel
	}

	return b, nil
}
