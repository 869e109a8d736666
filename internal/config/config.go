// Package config handles loading and managing mailcorr configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/seanmck/mailcorr/internal/mailbox/imapprov"
)

// Config represents the mailcorr configuration.
type Config struct {
	Data     DataConfig     `toml:"data"`
	Provider ProviderConfig `toml:"provider"`
	Cache    CacheConfig    `toml:"cache"`
	Server   ServerConfig   `toml:"server"`
	Schedule ScheduleConfig `toml:"schedule"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir     string `toml:"data_dir"`
	CacheDir    string `toml:"cache_dir"`    // defaults to <data_dir>/email_cache
	ContactsURL string `toml:"contacts_url"` // SQLite path; defaults to <data_dir>/contacts.db
}

// ProviderConfig selects and configures the mailbox backend.
type ProviderConfig struct {
	Kind       string          `toml:"kind"`            // "bridge" or "imap"
	BridgeURL  string          `toml:"bridge_url"`      // local mailbox bridge base URL
	TimeoutSec int             `toml:"timeout_seconds"` // per-fetch timeout
	IMAP       imapprov.Config `toml:"imap"`
}

// Timeout returns the per-fetch provider timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSec) * time.Second
}

// CacheConfig tunes the incremental refresh policy.
type CacheConfig struct {
	BootstrapDays   int `toml:"bootstrap_days"`
	MaxGapFetchDays int `toml:"max_gap_fetch_days"`
	FoldMaxMessages int `toml:"fold_max_messages"`
	FallbackCapDays int `toml:"fallback_cap_days"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort       int      `toml:"api_port"`       // HTTP server port (default: 8080)
	APIKey        string   `toml:"api_key"`        // API authentication key
	BindAddr      string   `toml:"bind_addr"`      // Bind address (default: 127.0.0.1)
	AllowInsecure bool     `toml:"allow_insecure"` // Permit non-loopback bind without an API key
	CORSOrigins   []string `toml:"cors_origins"`
	CORSMaxAge    int      `toml:"cors_max_age"`
}

// ValidateSecure rejects configurations that expose the API on a
// non-loopback address without authentication.
func (s ServerConfig) ValidateSecure() error {
	if s.APIKey != "" || s.AllowInsecure {
		return nil
	}
	addr := s.BindAddr
	if addr == "" || addr == "localhost" {
		return nil
	}
	if ip := net.ParseIP(addr); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("refusing to bind to %s without an API key; set [server] api_key or allow_insecure = true", addr)
}

// ScheduleConfig controls the periodic cache refresh job.
type ScheduleConfig struct {
	Refresh string `toml:"refresh"` // Cron expression (e.g., "0 */4 * * *")
	Enabled bool   `toml:"enabled"` // Whether scheduled refresh is active
}

// ProviderKindBridge and ProviderKindIMAP are the accepted provider kinds.
const (
	ProviderKindBridge = "bridge"
	ProviderKindIMAP   = "imap"
)

// DefaultHome returns the default mailcorr home directory.
// Respects MAILCORR_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("MAILCORR_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailcorr"
	}
	return filepath.Join(home, ".mailcorr")
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.mailcorr/config.toml).
func Load(path string) (*Config, error) {
	homeDir := DefaultHome()

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir: homeDir,
		// Defaults
		Data: DataConfig{
			DataDir: homeDir,
		},
		Provider: ProviderConfig{
			Kind:       ProviderKindBridge,
			BridgeURL:  "http://localhost:8765",
			TimeoutSec: 600,
		},
		Cache: CacheConfig{
			BootstrapDays:   365,
			MaxGapFetchDays: 30,
			FoldMaxMessages: 500,
			FallbackCapDays: 90,
		},
		Server: ServerConfig{
			APIPort: 8080,
		},
		Schedule: ScheduleConfig{
			Refresh: "0 */4 * * *",
			Enabled: false,
		},
	}

	// Config file is optional - use defaults if not present
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Expand ~ in paths
	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	cfg.Data.CacheDir = expandPath(cfg.Data.CacheDir)
	cfg.Data.ContactsURL = expandPath(cfg.Data.ContactsURL)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Provider.Kind {
	case ProviderKindBridge, ProviderKindIMAP:
	default:
		return fmt.Errorf("unknown provider kind %q", c.Provider.Kind)
	}
	if c.Cache.BootstrapDays <= 0 {
		return fmt.Errorf("cache.bootstrap_days must be positive")
	}
	if c.Cache.MaxGapFetchDays <= 0 {
		return fmt.Errorf("cache.max_gap_fetch_days must be positive")
	}
	return nil
}

// CacheDir returns the directory holding email cache chunks.
func (c *Config) CacheDir() string {
	if c.Data.CacheDir != "" {
		return c.Data.CacheDir
	}
	return filepath.Join(c.Data.DataDir, "email_cache")
}

// ContactsPath returns the path to the SQLite contacts database.
func (c *Config) ContactsPath() string {
	if c.Data.ContactsURL != "" {
		return c.Data.ContactsURL
	}
	return filepath.Join(c.Data.DataDir, "contacts.db")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
