// Package config loads console and dev-backend configuration from a YAML
// file with AGRILINK_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shonalidesh/agrilink/pkg/errors"
)

// Default configuration values exported for documentation and validation
const (
	DefaultAPIBaseURL   = "http://127.0.0.1:8000/api/v1"
	DefaultNATSURL      = "nats://localhost:4222"
	DefaultWebsocketURL = "ws://127.0.0.1:8000/ws/consultations"
	DefaultPollInterval = 30 * time.Second
	DefaultServerBind   = "127.0.0.1:8000"
	DefaultLogDir       = "logs"
	DefaultStoragePath  = "agrilink.db"

	// TransportNATS and TransportWebsocket select the snapshot channel.
	TransportNATS      = "nats"
	TransportWebsocket = "websocket"
)

// Config represents the complete AgriLink configuration
type Config struct {
	API     APIConfig     `yaml:"api"`
	Sync    SyncConfig    `yaml:"sync"`
	Poll    PollConfig    `yaml:"poll"`
	Notify  NotifyConfig  `yaml:"notify"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig configures the REST client.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// SyncConfig configures the snapshot channel.
type SyncConfig struct {
	// Transport is "nats" or "websocket".
	Transport    string `yaml:"transport"`
	NATSURL      string `yaml:"nats_url"`
	WebsocketURL string `yaml:"websocket_url"`
}

// PollConfig configures the farmer-side pull fetcher.
type PollConfig struct {
	// Interval between full refetches. A tunable, not correctness-bearing.
	Interval time.Duration `yaml:"interval"`
}

// NotifyConfig configures the notification surface.
type NotifyConfig struct {
	// Bus enables publishing notifications to the message bus.
	Bus bool `yaml:"bus"`
	// WebPush enables Web Push delivery (dev backend only).
	WebPush bool `yaml:"web_push"`
	// VAPIDSubject is the mailto: or https:// contact for Web Push.
	VAPIDSubject string `yaml:"vapid_subject"`
}

// ServerConfig configures the development backend.
type ServerConfig struct {
	Bind        string `yaml:"bind"`
	StoragePath string `yaml:"storage_path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: DefaultAPIBaseURL,
			Timeout: 15 * time.Second,
		},
		Sync: SyncConfig{
			Transport:    TransportNATS,
			NATSURL:      DefaultNATSURL,
			WebsocketURL: DefaultWebsocketURL,
		},
		Poll: PollConfig{
			Interval: DefaultPollInterval,
		},
		Notify: NotifyConfig{
			Bus: true,
		},
		Server: ServerConfig{
			Bind:        DefaultServerBind,
			StoragePath: DefaultStoragePath,
		},
		Logging: LoggingConfig{
			Dir:   DefaultLogDir,
			Level: "info",
		},
	}
}

// Load reads the config file at path (optional; defaults apply when the file
// is absent) and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "reading config file").
					WithContext("path", path)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeConfigParse, "parsing config YAML").
					WithContext("path", path)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGRILINK_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("AGRILINK_API_TOKEN"); v != "" {
		cfg.API.Token = v
	}
	if v := os.Getenv("AGRILINK_SYNC_TRANSPORT"); v != "" {
		cfg.Sync.Transport = v
	}
	if v := os.Getenv("AGRILINK_NATS_URL"); v != "" {
		cfg.Sync.NATSURL = v
	}
	if v := os.Getenv("AGRILINK_WS_URL"); v != "" {
		cfg.Sync.WebsocketURL = v
	}
	if v := os.Getenv("AGRILINK_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Poll.Interval = d
		}
	}
	if v := os.Getenv("AGRILINK_SERVER_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("AGRILINK_STORAGE_PATH"); v != "" {
		cfg.Server.StoragePath = v
	}
	if v := os.Getenv("AGRILINK_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := os.Getenv("AGRILINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "api.base_url must not be empty")
	}
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("api.base_url must be an http(s) URL, got %q", c.API.BaseURL))
	}

	switch c.Sync.Transport {
	case TransportNATS, TransportWebsocket:
	default:
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("sync.transport must be %q or %q, got %q", TransportNATS, TransportWebsocket, c.Sync.Transport))
	}

	if c.Poll.Interval <= 0 {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("poll.interval must be positive, got %v", c.Poll.Interval))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level))
	}

	if c.Notify.WebPush && c.Notify.VAPIDSubject == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "notify.vapid_subject is required when web push is enabled")
	}

	return nil
}
