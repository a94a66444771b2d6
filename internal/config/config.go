// Package config handles loading and managing collectord configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// MessagesConfig configures the message-store collector.
type MessagesConfig struct {
	StorePath       string `toml:"store_path"`       // Live chat database (primary file)
	AttachmentsRoot string `toml:"attachments_root"` // Root for attachment path resolution
	BatchSize       int    `toml:"batch_size"`       // Default rows per run
	OCRTimeoutMS    int    `toml:"ocr_timeout_ms"`   // Per-attachment recognition timeout
	Schedule        string `toml:"schedule"`         // Cron expression, empty = manual only
}

// MailConfig configures the indexed mail collector.
type MailConfig struct {
	Root         string `toml:"root"`          // Mail data root containing V* subdirectories
	IndexPath    string `toml:"index_path"`    // Explicit index override; empty = discover
	BatchLimit   int    `toml:"batch_limit"`   // Default rows per run
	RetentionCap int    `toml:"retention_cap"` // Max entries in the per-row file-state map
	ShardDirs    int    `toml:"shard_dirs"`    // Numbered subdirectories probed per mailbox
	ScanCap      int    `toml:"scan_cap"`      // Max entries visited by the fallback scan
	Schedule     string `toml:"schedule"`
}

// WatchConfig configures the directory watch collector.
type WatchConfig struct {
	DebounceMS int        `toml:"debounce_ms"` // Quiet interval before a file is handed off
	Dirs       []WatchDir `toml:"dirs"`        // Directories registered at boot
}

// WatchDir seeds a watched directory from the config file.
type WatchDir struct {
	Path    string `toml:"path"`
	Pattern string `toml:"pattern"` // Glob, e.g. "*.pdf"; empty matches everything
	Label   string `toml:"label"`
	Handoff string `toml:"handoff"`
}

// OCRConfig configures the text-recognition capability.
type OCRConfig struct {
	Enabled   bool     `toml:"enabled"`
	Endpoint  string   `toml:"endpoint"` // Local recognizer service URL
	Languages []string `toml:"languages"`
}

// SinkConfig configures the ingestion sink client.
type SinkConfig struct {
	Endpoint     string `toml:"endpoint"`
	APIKey       string `toml:"api_key"`
	RateLimitQPS int    `toml:"rate_limit_qps"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort  int    `toml:"api_port"`
	BindAddr string `toml:"bind_addr"`
	APIKey   string `toml:"api_key"`
}

// DataConfig holds local data storage configuration.
type DataConfig struct {
	DataDir string `toml:"data_dir"` // Cursor/state files and watch registry
}

// Config represents the collectord configuration.
type Config struct {
	Data     DataConfig     `toml:"data"`
	Messages MessagesConfig `toml:"messages"`
	Mail     MailConfig     `toml:"mail"`
	Watch    WatchConfig    `toml:"watch"`
	OCR      OCRConfig      `toml:"ocr"`
	Sink     SinkConfig     `toml:"sink"`
	Server   ServerConfig   `toml:"server"`

	// Computed at load time, not from the config file.
	HomeDir string `toml:"-"`
}

// DefaultHome returns the default collectord home directory.
// Respects the COLLECTORD_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("COLLECTORD_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".collectord"
	}
	return filepath.Join(home, ".collectord")
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.collectord/config.toml).
// The config file is optional; defaults apply when it is absent.
func Load(path string) (*Config, error) {
	homeDir := DefaultHome()

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir: homeDir,
		Data: DataConfig{
			DataDir: homeDir,
		},
		Messages: MessagesConfig{
			StorePath:       "~/Library/Messages/chat.db",
			AttachmentsRoot: "~/Library/Messages/Attachments",
			BatchSize:       500,
			OCRTimeoutMS:    8000,
		},
		Mail: MailConfig{
			Root:         "~/Library/Mail",
			BatchLimit:   500,
			RetentionCap: 5000,
			ShardDirs:    32,
			ScanCap:      200,
		},
		Watch: WatchConfig{
			DebounceMS: 2000,
		},
		OCR: OCRConfig{
			Enabled:   true,
			Endpoint:  "http://localhost:8484",
			Languages: []string{"en"},
		},
		Sink: SinkConfig{
			Endpoint:     "http://localhost:9090",
			RateLimitQPS: 5,
		},
		Server: ServerConfig{
			APIPort:  8420,
			BindAddr: "127.0.0.1",
		},
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg.expandPaths()
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.expandPaths()
	return cfg, nil
}

func (c *Config) expandPaths() {
	c.Data.DataDir = ExpandPath(c.Data.DataDir)
	c.Messages.StorePath = ExpandPath(c.Messages.StorePath)
	c.Messages.AttachmentsRoot = ExpandPath(c.Messages.AttachmentsRoot)
	c.Mail.Root = ExpandPath(c.Mail.Root)
	c.Mail.IndexPath = ExpandPath(c.Mail.IndexPath)
	for i := range c.Watch.Dirs {
		c.Watch.Dirs[i].Path = ExpandPath(c.Watch.Dirs[i].Path)
	}
}

// EnsureHomeDir creates the data directory if it does not exist.
func (c *Config) EnsureHomeDir() error {
	return os.MkdirAll(c.Data.DataDir, 0700)
}

// StateDir returns the directory holding per-collector cursor/state files.
func (c *Config) StateDir() string {
	return filepath.Join(c.Data.DataDir, "state")
}

// OCRTimeout returns the per-attachment recognition timeout as a Duration.
func (c *Config) OCRTimeout() time.Duration {
	if c.Messages.OCRTimeoutMS <= 0 {
		return 8 * time.Second
	}
	return time.Duration(c.Messages.OCRTimeoutMS) * time.Millisecond
}

// DebounceInterval returns the watch quiet interval as a Duration.
func (c *Config) DebounceInterval() time.Duration {
	if c.Watch.DebounceMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
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
