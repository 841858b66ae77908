package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Sync.Transport != TransportNATS {
		t.Errorf("default transport = %q, want nats", cfg.Sync.Transport)
	}
	if cfg.Poll.Interval != DefaultPollInterval {
		t.Errorf("default poll interval = %v", cfg.Poll.Interval)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agrilink.yaml")
	content := `
api:
  base_url: https://api.agrilink.example/api/v1
sync:
  transport: websocket
  websocket_url: wss://api.agrilink.example/ws/consultations
poll:
  interval: 10s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "https://api.agrilink.example/api/v1" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.Sync.Transport != TransportWebsocket {
		t.Errorf("Transport = %q", cfg.Sync.Transport)
	}
	if cfg.Poll.Interval != 10*time.Second {
		t.Errorf("Interval = %v", cfg.Poll.Interval)
	}
	// Unset fields keep defaults
	if cfg.Server.Bind != DefaultServerBind {
		t.Errorf("Bind = %q, want default", cfg.Server.Bind)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load with absent file: %v", err)
	}
	if cfg.API.BaseURL != DefaultAPIBaseURL {
		t.Errorf("BaseURL = %q, want default", cfg.API.BaseURL)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AGRILINK_API_URL", "http://localhost:9000/api/v1")
	t.Setenv("AGRILINK_SYNC_TRANSPORT", "websocket")
	t.Setenv("AGRILINK_POLL_INTERVAL", "5s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:9000/api/v1" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.Sync.Transport != TransportWebsocket {
		t.Errorf("Transport = %q", cfg.Sync.Transport)
	}
	if cfg.Poll.Interval != 5*time.Second {
		t.Errorf("Interval = %v", cfg.Poll.Interval)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(*Config){
		"bad transport":       func(c *Config) { c.Sync.Transport = "carrier-pigeon" },
		"bad base url":        func(c *Config) { c.API.BaseURL = "ftp://nope" },
		"zero poll interval":  func(c *Config) { c.Poll.Interval = 0 },
		"bad log level":       func(c *Config) { c.Logging.Level = "loud" },
		"webpush w/o subject": func(c *Config) { c.Notify.WebPush = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate should reject")
			}
		})
	}
}
