// Package config loads the relay configuration from ~/.wpprelay/config.toml
// and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variables that override the file.
const (
	EnvWebhookURL = "WEBHOOK_URL"
	EnvAPIBaseURL = "API_BASE_URL" // accepted as an alias of WEBHOOK_URL
	EnvAPIKey     = "API_KEY"
	EnvHTTPAddr   = "HTTP_ADDR"
)

// Config represents the global ~/.wpprelay/config.toml.
type Config struct {
	DefaultSession string            `toml:"default_session"`
	Webhook        WebhookConfig     `toml:"webhook"`
	HTTP           HTTPConfig        `toml:"http"`
	Reconnect      ReconnectConfig   `toml:"reconnect"`
	Relay          RelayConfig       `toml:"relay"`
	Outbound       OutboundConfig    `toml:"outbound"`
	GroupCache     GroupCacheConfig  `toml:"group_cache"`
	Credentials    CredentialsConfig `toml:"credentials"`
	Session        SessionConfig     `toml:"session"`
}

type WebhookConfig struct {
	URL     string        `toml:"url"`
	APIKey  string        `toml:"api_key"`
	Timeout time.Duration `toml:"timeout"`
}

// HTTPConfig configures the control surface. An empty APIKey disables the
// x-api-key check.
type HTTPConfig struct {
	Addr   string `toml:"addr"`
	APIKey string `toml:"api_key"`
}

type ReconnectConfig struct {
	BaseDelay   time.Duration `toml:"base_delay"`
	MaxDelay    time.Duration `toml:"max_delay"`
	Jitter      float64       `toml:"jitter"`
	MaxAttempts int           `toml:"max_attempts"`
}

type RelayConfig struct {
	Workers                int           `toml:"workers"`
	QueueSize              int           `toml:"queue_size"`
	ProcessTimeout         time.Duration `toml:"process_timeout"`
	DeleteImagesAfterReply bool          `toml:"delete_images_after_reply"`
}

type OutboundConfig struct {
	Rate        float64       `toml:"rate"`
	Burst       int           `toml:"burst"`
	SendTimeout time.Duration `toml:"send_timeout"`
}

type GroupCacheConfig struct {
	Size int           `toml:"size"`
	TTL  time.Duration `toml:"ttl"`
}

// CredentialsConfig controls sealing of the credential envelope. When Seal
// is set and IdentityFile is empty, the session's age.key is used.
type CredentialsConfig struct {
	Seal         bool   `toml:"seal"`
	IdentityFile string `toml:"identity_file"`
}

// SessionConfig controls the session lifetime. With LogoutOnStop the device
// is unpaired on shutdown and the next start needs a new QR scan.
type SessionConfig struct {
	LogoutOnStop bool `toml:"logout_on_stop"`
}

// Default returns a config with every value set.
func Default() *Config {
	return &Config{
		Webhook: WebhookConfig{
			Timeout: 30 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:3000",
		},
		Reconnect: ReconnectConfig{
			BaseDelay: time.Second,
			MaxDelay:  time.Minute,
			Jitter:    0.2,
		},
		Relay: RelayConfig{
			Workers:                4,
			QueueSize:              64,
			ProcessTimeout:         2 * time.Minute,
			DeleteImagesAfterReply: true,
		},
		Outbound: OutboundConfig{
			Rate:        5,
			Burst:       10,
			SendTimeout: 30 * time.Second,
		},
		GroupCache: GroupCacheConfig{
			Size: 256,
			TTL:  5 * time.Minute,
		},
		Session: SessionConfig{
			LogoutOnStop: true,
		},
	}
}

// Load reads config from the given path on top of Default. Returns an error
// if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// ApplyEnv overrides file values with non-empty environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvAPIBaseURL); v != "" {
		c.Webhook.URL = v
	}
	if v := getenv(EnvWebhookURL); v != "" {
		c.Webhook.URL = v
	}
	if v := getenv(EnvAPIKey); v != "" {
		c.Webhook.APIKey = v
	}
	if v := getenv(EnvHTTPAddr); v != "" {
		c.HTTP.Addr = v
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case c.Webhook.URL == "":
		return fmt.Errorf("webhook.url is required (or set %s)", EnvWebhookURL)
	case c.Webhook.Timeout <= 0:
		return fmt.Errorf("webhook.timeout must be positive, got %s", c.Webhook.Timeout)
	case c.HTTP.Addr == "":
		return errors.New("http.addr is required")
	case c.Reconnect.BaseDelay <= 0:
		return fmt.Errorf("reconnect.base_delay must be positive, got %s", c.Reconnect.BaseDelay)
	case c.Reconnect.MaxDelay < c.Reconnect.BaseDelay:
		return fmt.Errorf("reconnect.max_delay %s is below base_delay %s", c.Reconnect.MaxDelay, c.Reconnect.BaseDelay)
	case c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1:
		return fmt.Errorf("reconnect.jitter must be within [0, 1], got %g", c.Reconnect.Jitter)
	case c.Reconnect.MaxAttempts < 0:
		return fmt.Errorf("reconnect.max_attempts must not be negative, got %d", c.Reconnect.MaxAttempts)
	case c.Relay.Workers < 1:
		return fmt.Errorf("relay.workers must be at least 1, got %d", c.Relay.Workers)
	case c.Relay.QueueSize < 1:
		return fmt.Errorf("relay.queue_size must be at least 1, got %d", c.Relay.QueueSize)
	case c.Relay.ProcessTimeout <= 0:
		return fmt.Errorf("relay.process_timeout must be positive, got %s", c.Relay.ProcessTimeout)
	case c.Outbound.Rate < 0:
		return fmt.Errorf("outbound.rate must not be negative, got %g", c.Outbound.Rate)
	case c.Outbound.Rate > 0 && c.Outbound.Burst < 1:
		return fmt.Errorf("outbound.burst must be at least 1 when rate is set, got %d", c.Outbound.Burst)
	case c.Outbound.SendTimeout <= 0:
		return fmt.Errorf("outbound.send_timeout must be positive, got %s", c.Outbound.SendTimeout)
	case c.GroupCache.Size < 1:
		return fmt.Errorf("group_cache.size must be at least 1, got %d", c.GroupCache.Size)
	case c.GroupCache.TTL <= 0:
		return fmt.Errorf("group_cache.ttl must be positive, got %s", c.GroupCache.TTL)
	}
	return nil
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
