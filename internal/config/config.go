// Package config loads and validates the process configuration from the
// environment. Every tunable of the fan-out pipeline is an input here, not a
// hardcoded constant.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	RedisURL  string `env:"REDIS_URL"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// Upstream bus
	EventsChannel string `env:"EVENTS_CHANNEL" default:"events"`

	// Subscription index
	IndexShards int `env:"INDEX_SHARDS" default:"16"`

	// Routing cache
	RoutingCacheTTL       time.Duration `env:"ROUTING_CACHE_TTL" default:"3s"`
	CacheEvictionInterval time.Duration `env:"CACHE_EVICTION_INTERVAL" default:"30s"`

	// Broadcaster
	DispatchWorkers int           `env:"DISPATCH_WORKERS" default:"8"`
	QueueCapacity   int           `env:"QUEUE_CAPACITY" default:"64"`
	BatchWindow     time.Duration `env:"BATCH_WINDOW" default:"25ms"`
	SendTimeout     time.Duration `env:"SEND_TIMEOUT" default:"2s"`

	// Connection registry
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" default:"5m"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" default:"30s"`

	// Edge limits
	MaxWebSocketConnections int `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int `env:"MAX_CONNECTIONS_PER_IP" default:"20"`
	ConnectRatePerIP        int `env:"CONNECT_RATE_PER_IP" default:"30"` // dials per minute

	// Policy
	WildcardSubscriptionsPerMinute int `env:"WILDCARD_SUBSCRIPTIONS_PER_MINUTE" default:"10"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if cfg.IndexShards <= 0 {
		return fmt.Errorf("INDEX_SHARDS must be positive, got %d", cfg.IndexShards)
	}
	if cfg.DispatchWorkers <= 0 {
		return fmt.Errorf("DISPATCH_WORKERS must be positive, got %d", cfg.DispatchWorkers)
	}
	if cfg.QueueCapacity <= 0 {
		return fmt.Errorf("QUEUE_CAPACITY must be positive, got %d", cfg.QueueCapacity)
	}
	if cfg.SendTimeout <= 0 {
		return fmt.Errorf("SEND_TIMEOUT must be positive, got %v", cfg.SendTimeout)
	}
	if cfg.SessionIdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive, got %v", cfg.SessionIdleTimeout)
	}
	return nil
}
