// Package config loads the global ~/.chatsync/config.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/chatsync/internal/outbox"
	"go.uber.org/zap/zapcore"
)

// Transport kinds.
const (
	TransportLoopback  = "loopback"
	TransportJetStream = "jetstream"
)

// Duration is a time.Duration written as a string such as "1.5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the global config file.
type Config struct {
	DefaultSession string    `toml:"default_session"`
	SeedPath       string    `toml:"seed_path"`
	Identity       Identity  `toml:"identity"`
	Outbox         Outbox    `toml:"outbox"`
	Transport      Transport `toml:"transport"`
	Gateway        Gateway   `toml:"gateway"`
	Audit          Audit     `toml:"audit"`
	Log            Log       `toml:"log"`
}

// Identity is the local user.
type Identity struct {
	UserID      string `toml:"user_id"`
	DisplayName string `toml:"display_name"`
	DeviceID    string `toml:"device_id"`
}

// Outbox is the retry policy for outgoing messages.
type Outbox struct {
	BaseDelay      Duration `toml:"base_delay"`
	MaxDelay       Duration `toml:"max_delay"`
	Factor         float64  `toml:"factor"`
	Jitter         float64  `toml:"jitter"`
	MaxAttempts    int      `toml:"max_attempts"`
	AttemptTimeout Duration `toml:"attempt_timeout"`
}

// Transport selects the server link.
type Transport struct {
	Kind    string `toml:"kind"`
	NATSURL string `toml:"nats_url"`
	Stream  string `toml:"stream"`
	// Peers are simulated users that acknowledge messages over the loopback relay.
	Peers []string `toml:"peers"`
}

// Gateway is the web gateway. An empty address disables it.
type Gateway struct {
	Addr string `toml:"addr"`
}

// Audit forwards lifecycle events to RabbitMQ. An empty URL disables it.
type Audit struct {
	AMQPURL  string `toml:"amqp_url"`
	Exchange string `toml:"exchange"`
}

// Log configures the daemon logger.
type Log struct {
	Level string `toml:"level"`
}

// Default returns a complete configuration.
func Default() *Config {
	o := outbox.DefaultConfig()
	host, _ := os.Hostname()
	if host == "" {
		host = "local"
	}
	return &Config{
		DefaultSession: "main",
		Identity: Identity{
			UserID:      "me",
			DisplayName: "Me",
			DeviceID:    host,
		},
		Outbox: Outbox{
			BaseDelay:      Duration{o.BaseDelay},
			MaxDelay:       Duration{o.MaxDelay},
			Factor:         o.Factor,
			Jitter:         o.Jitter,
			MaxAttempts:    o.MaxAttempts,
			AttemptTimeout: Duration{o.AttemptTimeout},
		},
		Transport: Transport{
			Kind:    TransportLoopback,
			NATSURL: "nats://127.0.0.1:4222",
			Stream:  "CHATSYNC",
		},
		Gateway: Gateway{Addr: "127.0.0.1:8787"},
		Audit:   Audit{Exchange: "chatsync.audit"},
		Log:     Log{Level: "info"},
	}
}

// Load reads config from the given path on top of Default. It returns an
// error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not
// exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Identity.UserID == "" {
		return errors.New("identity.user_id is required")
	}
	switch c.Transport.Kind {
	case TransportLoopback:
	case TransportJetStream:
		if c.Transport.NATSURL == "" {
			return errors.New("transport.nats_url is required for jetstream")
		}
	default:
		return fmt.Errorf("unknown transport.kind %q", c.Transport.Kind)
	}
	if c.Outbox.MaxAttempts < 1 {
		return errors.New("outbox.max_attempts must be at least 1")
	}
	if c.Outbox.Factor < 1 {
		return errors.New("outbox.factor must be at least 1")
	}
	if !outbox.ValidJitter(c.Outbox.Jitter) {
		return errors.New("outbox.jitter must be within [0, 1)")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (zapcore.Level, error) {
	if c.Log.Level == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return lvl, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// OutboxConfig converts the retry policy for the outbox.
func (c *Config) OutboxConfig() outbox.Config {
	return outbox.Config{
		BaseDelay:      c.Outbox.BaseDelay.Duration,
		MaxDelay:       c.Outbox.MaxDelay.Duration,
		Factor:         c.Outbox.Factor,
		Jitter:         c.Outbox.Jitter,
		MaxAttempts:    c.Outbox.MaxAttempts,
		AttemptTimeout: c.Outbox.AttemptTimeout.Duration,
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
