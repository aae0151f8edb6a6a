// Package config loads the chat server configuration from the environment.
package config

import (
	"fmt"
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/casacultural/livechat/internal/hub"
	"github.com/casacultural/livechat/internal/messaging"
	"github.com/casacultural/livechat/internal/ratelimit"
	"github.com/casacultural/livechat/internal/ws"
)

// Config is the complete server configuration. Empty DATABASE_URL, REDIS_ADDR
// or NATS_URL disable the corresponding backend.
type Config struct {
	Server   Server
	Postgres Postgres
	Redis    Redis
	NATS     NATS
	Chat     Chat
}

type Server struct {
	ListenAddr     string        `env:"LISTEN_ADDR" env-default:":8080"`
	WorkerPoolSize int           `env:"WORKER_POOL_SIZE" env-default:"256"`
	MaxConnections int           `env:"MAX_CONNECTIONS" env-default:"100000"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" env-default:"10s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" env-default:"10s"`
	AdminToken     string        `env:"ADMIN_TOKEN"`
}

type Postgres struct {
	URL string `env:"DATABASE_URL"`
}

type Redis struct {
	Addr string `env:"REDIS_ADDR"`
}

type NATS struct {
	URL string `env:"NATS_URL"`
}

type Chat struct {
	DeliveryTimeout   time.Duration `env:"DELIVERY_TIMEOUT" env-default:"2s"`
	MessageRateLimit  int           `env:"MESSAGE_RATE_LIMIT" env-default:"5"`
	MessageRateWindow time.Duration `env:"MESSAGE_RATE_WINDOW" env-default:"10s"`
}

// Load reads the configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: read env: %w", err)
	}
	if cfg.Server.WorkerPoolSize <= 0 {
		return Config{}, fmt.Errorf("config: WORKER_POOL_SIZE must be positive, got %d", cfg.Server.WorkerPoolSize)
	}
	if cfg.Server.MaxConnections <= 0 {
		return Config{}, fmt.Errorf("config: MAX_CONNECTIONS must be positive, got %d", cfg.Server.MaxConnections)
	}
	return cfg, nil
}

// MustLoad is Load for main packages: it exits on error.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// WS returns the push server settings.
func (c Config) WS() ws.ServerConfig {
	return ws.ServerConfig{
		ListenAddr:     c.Server.ListenAddr,
		WorkerPoolSize: c.Server.WorkerPoolSize,
		MaxConnections: c.Server.MaxConnections,
		ReadTimeout:    c.Server.ReadTimeout,
		WriteTimeout:   c.Server.WriteTimeout,
	}
}

// Hub returns the broadcast hub settings.
func (c Config) Hub() hub.Config {
	return hub.Config{DeliveryTimeout: c.Chat.DeliveryTimeout}
}

// NATSClient returns the NATS client settings.
func (c Config) NATSClient() messaging.NATSConfig {
	nc := messaging.DefaultNATSConfig()
	nc.URL = c.NATS.URL
	return nc
}

// MessageRule returns the send rate limit rule.
func (c Config) MessageRule() ratelimit.Rule {
	return ratelimit.MessageRule(c.Chat.MessageRateLimit, c.Chat.MessageRateWindow)
}
