package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Backends
const (
	backendMemory   = "memory"
	backendRedis    = "redis"
	backendPostgres = "postgres"
	backendNATS     = "nats"
	backendRemote   = "remote"
)

type Config struct {
	Server struct {
		Port            string        `yaml:"port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Room struct {
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		PresenceTimeout   time.Duration `yaml:"presence_timeout"`
		SaveInterval      time.Duration `yaml:"save_interval"`
	} `yaml:"room"`

	Store struct {
		Backend  string        `yaml:"backend"`
		RedisTTL time.Duration `yaml:"redis_ttl"`
	} `yaml:"store"`

	Transport struct {
		Backend string `yaml:"backend"`
	} `yaml:"transport"`

	NATS struct {
		URL    string `yaml:"url"`
		Bucket string `yaml:"bucket"`
	} `yaml:"nats"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Gateway struct {
		CommandRate  float64 `yaml:"command_rate"`
		CommandBurst int     `yaml:"command_burst"`
	} `yaml:"gateway"`
}

func defaultConfig() *Config {
	var c Config
	c.Server.Port = "8080"
	c.Server.ShutdownTimeout = 10 * time.Second
	c.Room.HeartbeatInterval = 5 * time.Second
	c.Room.PresenceTimeout = 30 * time.Second
	c.Room.SaveInterval = 10 * time.Second
	c.Store.Backend = backendMemory
	c.Store.RedisTTL = 24 * time.Hour
	c.Transport.Backend = backendMemory
	c.NATS.URL = "nats://localhost:4222"
	c.NATS.Bucket = "planning-poker"
	c.Redis.Addr = "localhost:6379"
	c.Gateway.CommandRate = 10
	c.Gateway.CommandBurst = 20
	return &c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig reads path over the defaults and then applies environment
// overrides. A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.Server.Port = getEnv("PORT", config.Server.Port)
	config.Store.Backend = getEnv("STORE_BACKEND", config.Store.Backend)
	config.Transport.Backend = getEnv("TRANSPORT_BACKEND", config.Transport.Backend)
	config.NATS.URL = getEnv("NATS_URL", config.NATS.URL)
	config.NATS.Bucket = getEnv("KV_BUCKET", config.NATS.Bucket)
	config.Redis.Addr = getEnv("REDIS_ADDR", config.Redis.Addr)
	config.Redis.Password = getEnv("REDIS_PASSWORD", config.Redis.Password)
	config.Redis.DB = getEnvAsInt("REDIS_DB", config.Redis.DB)

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	r := c.Room
	if r.HeartbeatInterval <= 0 || r.SaveInterval <= 0 || r.PresenceTimeout <= 0 {
		return errors.New("room intervals must be positive")
	}
	// a peer's heartbeat can be up to one heartbeat plus one save old
	if lag := r.HeartbeatInterval + r.SaveInterval; r.PresenceTimeout <= lag {
		return fmt.Errorf("presence_timeout %s must exceed heartbeat_interval + save_interval (%s)", r.PresenceTimeout, lag)
	}
	switch c.Store.Backend {
	case backendMemory, backendRedis, backendPostgres, backendRemote:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Transport.Backend {
	case backendMemory, backendNATS, backendRedis, backendPostgres, backendRemote:
	default:
		return fmt.Errorf("unknown transport backend %q", c.Transport.Backend)
	}
	return nil
}
