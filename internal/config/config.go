package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type FileWatcher struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type RemoteWatcher struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	ClearURL  string `yaml:"clear_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type Watcher struct {
	PollIntervalMs int `yaml:"poll_interval_ms"`
	ErrorThreshold int `yaml:"error_threshold"`
	BackoffMs      int `yaml:"backoff_ms"`
}

type Dispatch struct {
	DedupWindowSecs int `yaml:"dedup_window_seconds"`
}

type Monitor struct {
	IntervalSecs int `yaml:"interval_seconds"`
	MaxRetries   int `yaml:"max_retries"`
}

type Sessions struct {
	StaleAfterMins int `yaml:"stale_after_minutes"`
}

type Retention struct {
	SignalMaxAgeDays int `yaml:"signal_max_age_days"`
}

type Server struct {
	Port      string `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

type Database struct {
	Path string `yaml:"path"`
}

type Root struct {
	Database  Database      `yaml:"database"`
	File      FileWatcher   `yaml:"file_watcher"`
	Remote    RemoteWatcher `yaml:"remote_watcher"`
	Watcher   Watcher       `yaml:"watcher"`
	Dispatch  Dispatch      `yaml:"dispatch"`
	Monitor   Monitor       `yaml:"monitor"`
	Sessions  Sessions      `yaml:"sessions"`
	Retention Retention     `yaml:"retention"`
	Server    Server        `yaml:"server"`
}

// Load reads and validates the YAML config at path, applying defaults for
// anything left unset. A missing or unreadable file is a fatal
// misconfiguration for the caller to act on.
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}

	if c.Database.Path == "" {
		c.Database.Path = "signalrelay.db"
	}
	if c.File.Enabled && c.File.Path == "" {
		return c, fmt.Errorf("file_watcher.path is required when the file watcher is enabled")
	}
	if c.Remote.Enabled && c.Remote.URL == "" {
		return c, fmt.Errorf("remote_watcher.url is required when the remote watcher is enabled")
	}
	if c.Remote.TimeoutMs == 0 {
		c.Remote.TimeoutMs = 5000
	}
	if c.Watcher.PollIntervalMs == 0 {
		c.Watcher.PollIntervalMs = 2000
	}
	if c.Watcher.ErrorThreshold == 0 {
		c.Watcher.ErrorThreshold = 10
	}
	if c.Watcher.BackoffMs == 0 {
		c.Watcher.BackoffMs = 30000
	}
	if c.Dispatch.DedupWindowSecs == 0 {
		c.Dispatch.DedupWindowSecs = 300
	}
	if c.Monitor.IntervalSecs == 0 {
		c.Monitor.IntervalSecs = 10
	}
	if c.Monitor.MaxRetries == 0 {
		c.Monitor.MaxRetries = 10
	}
	if c.Sessions.StaleAfterMins == 0 {
		c.Sessions.StaleAfterMins = 120
	}
	if c.Retention.SignalMaxAgeDays == 0 {
		c.Retention.SignalMaxAgeDays = 30
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.JWTSecret == "" {
		c.Server.JWTSecret = "signal-relay-secret-key"
	}

	return c, nil
}
