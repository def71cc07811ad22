package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	LogFile    string           `yaml:"log_file"` // optional, in addition to stderr
	BLE        BLEConfig        `yaml:"ble"`
	Controller ControllerConfig `yaml:"controller"`
	Settings   SettingsConfig   `yaml:"settings"`
	Hotkey     HotkeyConfig     `yaml:"hotkey"`
	Audio      AudioConfig      `yaml:"audio"`
}

// BLEConfig holds the radio link settings.
type BLEConfig struct {
	AdapterID     string `yaml:"adapter_id"`     // e.g. "hci1"; Linux only
	DeviceName    string `yaml:"device_name"`    // advertised name to match
	DeviceAddress string `yaml:"device_address"` // pin one radio; empty matches any

	ScanTimeout      time.Duration `yaml:"scan_timeout"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	DiscoverTimeout  time.Duration `yaml:"discover_timeout"`
	SubscribeTimeout time.Duration `yaml:"subscribe_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`

	MaxChunkSize    int           `yaml:"max_chunk_size"` // 0 = derive from MTU
	InterChunkDelay time.Duration `yaml:"inter_chunk_delay"`

	Reconnect    bool `yaml:"reconnect"`
	ReconnectMax int  `yaml:"reconnect_max"` // max backoff in seconds
}

// ControllerConfig holds command queue settings.
type ControllerConfig struct {
	QueueSize      int           `yaml:"queue_size"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	EventBuffer    int           `yaml:"event_buffer"`
}

// SettingsConfig locates the persisted radio state.
type SettingsConfig struct {
	Path string `yaml:"path"`
}

// HotkeyConfig holds push-to-talk hotkey settings.
type HotkeyConfig struct {
	Keys []string `yaml:"keys"`
	Mode string   `yaml:"mode"` // "hold" or "toggle"
}

// AudioConfig holds microphone capture settings.
type AudioConfig struct {
	SampleRate uint32 `yaml:"sample_rate"`
	Channels   uint32 `yaml:"channels"`
	RecordDir  string `yaml:"record_dir"` // empty disables WAV capture while keyed
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "kv4p")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		LogLevel: "info",
		BLE: BLEConfig{
			DeviceName:       "kv4p HT",
			ScanTimeout:      10 * time.Second,
			ConnectTimeout:   10 * time.Second,
			DiscoverTimeout:  8 * time.Second,
			SubscribeTimeout: 8 * time.Second,
			WriteTimeout:     2 * time.Second,
			InterChunkDelay:  20 * time.Millisecond,
			ReconnectMax:     30,
		},
		Controller: ControllerConfig{
			QueueSize:      16,
			CommandTimeout: 5 * time.Second,
			EventBuffer:    64,
		},
		Settings: SettingsConfig{
			Path: filepath.Join(home, ".local", "share", "kv4p", "settings.db"),
		},
		Hotkey: HotkeyConfig{
			Keys: []string{"ctrl", "shift", "t"},
			Mode: "hold",
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.LogFile = expandTilde(cfg.LogFile)
	cfg.Settings.Path = expandTilde(cfg.Settings.Path)
	cfg.Audio.RecordDir = expandTilde(cfg.Audio.RecordDir)

	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not
// exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"ble.scan_timeout", c.BLE.ScanTimeout},
		{"ble.connect_timeout", c.BLE.ConnectTimeout},
		{"ble.discover_timeout", c.BLE.DiscoverTimeout},
		{"ble.subscribe_timeout", c.BLE.SubscribeTimeout},
		{"ble.write_timeout", c.BLE.WriteTimeout},
		{"controller.command_timeout", c.Controller.CommandTimeout},
	}
	for _, t := range timeouts {
		if t.d <= 0 {
			return fmt.Errorf("%s must be > 0, got %s", t.name, t.d)
		}
	}

	if c.BLE.MaxChunkSize < 0 {
		return fmt.Errorf("ble.max_chunk_size must be >= 0, got %d", c.BLE.MaxChunkSize)
	}
	if c.BLE.InterChunkDelay < 0 {
		return fmt.Errorf("ble.inter_chunk_delay must be >= 0, got %s", c.BLE.InterChunkDelay)
	}
	if c.BLE.Reconnect && c.BLE.ReconnectMax <= 0 {
		return fmt.Errorf("ble.reconnect_max must be > 0 when ble.reconnect is enabled")
	}

	if c.Controller.QueueSize <= 0 {
		return fmt.Errorf("controller.queue_size must be > 0")
	}
	if c.Controller.EventBuffer <= 0 {
		return fmt.Errorf("controller.event_buffer must be > 0")
	}

	if c.Settings.Path == "" {
		return fmt.Errorf("settings.path must not be empty")
	}

	if len(c.Hotkey.Keys) == 0 {
		return fmt.Errorf("hotkey.keys must not be empty")
	}
	switch c.Hotkey.Mode {
	case "hold", "toggle":
	default:
		return fmt.Errorf("hotkey.mode must be \"hold\" or \"toggle\", got %q", c.Hotkey.Mode)
	}

	if c.Audio.SampleRate == 0 {
		return fmt.Errorf("audio.sample_rate must be > 0")
	}
	if c.Audio.Channels == 0 {
		return fmt.Errorf("audio.channels must be > 0")
	}

	return nil
}

const defaultHeader = `# kv4p configuration
# Durations use Go syntax (10s, 500ms). Delete a key to fall back to its default.

`

// WriteDefault writes the default config to DefaultConfigPath and returns
// the path written. If the file already exists it is left alone and
// WriteDefault returns ("", nil).
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// ParseLogLevel maps a config log level to slog. Unknown values mean info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
