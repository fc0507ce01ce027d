// Package config loads broker/subscriber/publisher configuration from
// environment variables, with an optional .env file for local
// development, using caarlos0/env struct tags.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// BrokerConfig holds a single broker node's configuration.
//
// Tags:
//
//	env: environment variable name
//	envDefault: default value if not set
type BrokerConfig struct {
	BrokerID string `env:"BROKER_ID,required"`

	PublisherAddr  string `env:"PUBLISHER_ADDR" envDefault:":5557"`
	SubscriberAddr string `env:"SUBSCRIBER_ADDR" envDefault:":5554"`
	ManagementAddr string `env:"MANAGEMENT_ADDR" envDefault:":6554"`
	HTTPAddr       string `env:"HTTP_ADDR" envDefault:":8080"`

	// PeerAddrs is the comma-separated list of other brokers' peer
	// addresses. The broker does not use it: all peer traffic rides the
	// shared OverlayURL bus.
	PeerAddrs []string `env:"PEER_ADDRS" envSeparator:","`

	// OverlayURL is the NATS server the peer mesh connects through.
	OverlayURL string `env:"OVERLAY_URL" envDefault:"nats://127.0.0.1:4222"`

	HeartbeatInterval   time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"5s"`
	HeartbeatMissThresh int           `env:"HEARTBEAT_MISS_THRESHOLD" envDefault:"3"`
	PeerBackoffMax      time.Duration `env:"PEER_BACKOFF_MAX" envDefault:"30s"`

	DedupCacheSize int `env:"DEDUP_CACHE_SIZE" envDefault:"10000"`

	IngressQueueSize     int     `env:"INGRESS_QUEUE_SIZE" envDefault:"4096"`
	IngressFlowThreshold float64 `env:"INGRESS_FLOW_THRESHOLD" envDefault:"0.8"`
	EgressQueueSize      int     `env:"EGRESS_QUEUE_SIZE" envDefault:"1024"`

	MatcherShards int `env:"MATCHER_SHARDS" envDefault:"0"` // 0 = single-task matcher

	ShutdownDrainTimeout time.Duration `env:"SHUTDOWN_DRAIN_TIMEOUT" envDefault:"2s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// SubscriberConfig configures a subscriber client.
type SubscriberConfig struct {
	BrokerAddr string `env:"BROKER_ADDR,required"`
	ClientID   string `env:"CLIENT_ID,required"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// PublisherConfig configures a publisher client.
type PublisherConfig struct {
	BrokerAddr  string  `env:"BROKER_ADDR,required"`
	ClientID    string  `env:"CLIENT_ID,required"`
	EventsPerSec float64 `env:"EVENTS_PER_SEC" envDefault:"10"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// LoadBrokerConfig reads BrokerConfig from .env + environment variables.
// A missing .env file is not an error; only logged when logger is given.
func LoadBrokerConfig(logger *zerolog.Logger) (*BrokerConfig, error) {
	loadDotenv(logger)
	cfg := &BrokerConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse broker config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate broker config: %w", err)
	}
	return cfg, nil
}

// LoadSubscriberConfig reads SubscriberConfig from .env + environment.
func LoadSubscriberConfig(logger *zerolog.Logger) (*SubscriberConfig, error) {
	loadDotenv(logger)
	cfg := &SubscriberConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse subscriber config: %w", err)
	}
	return cfg, nil
}

// LoadPublisherConfig reads PublisherConfig from .env + environment.
func LoadPublisherConfig(logger *zerolog.Logger) (*PublisherConfig, error) {
	loadDotenv(logger)
	cfg := &PublisherConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse publisher config: %w", err)
	}
	if cfg.EventsPerSec <= 0 {
		return nil, fmt.Errorf("config: EVENTS_PER_SEC must be > 0, got %.2f", cfg.EventsPerSec)
	}
	return cfg, nil
}

func loadDotenv(logger *zerolog.Logger) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
		return
	}
	if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}
}

// Validate checks BrokerConfig invariants beyond what struct tags cover.
func (c *BrokerConfig) Validate() error {
	if c.BrokerID == "" {
		return fmt.Errorf("BROKER_ID is required")
	}
	if c.HeartbeatMissThresh < 1 {
		return fmt.Errorf("HEARTBEAT_MISS_THRESHOLD must be >= 1, got %d", c.HeartbeatMissThresh)
	}
	if c.DedupCacheSize < 1 {
		return fmt.Errorf("DEDUP_CACHE_SIZE must be >= 1, got %d", c.DedupCacheSize)
	}
	if c.IngressFlowThreshold <= 0 || c.IngressFlowThreshold > 1 {
		return fmt.Errorf("INGRESS_FLOW_THRESHOLD must be in (0,1], got %.2f", c.IngressFlowThreshold)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console (got: %s)", c.LogFormat)
	}
	return nil
}
