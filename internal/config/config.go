package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`
	// LogFile receives the log while the terminal UI owns the screen.
	LogFile string `yaml:"log_file"`
	Profile string `yaml:"profile"` // "playground" or "flashable"
	// Pattern preselects a board by its friendly name.
	Pattern   string          `yaml:"pattern"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
}

// BluetoothConfig holds discovery and connection settings.
type BluetoothConfig struct {
	Adapter                 string        `yaml:"adapter"`
	ScanTimeout             time.Duration `yaml:"scan_timeout"`
	ConnectTimeout          time.Duration `yaml:"connect_timeout"`
	EvaluateTimeout         time.Duration `yaml:"evaluate_timeout"`
	RestartDelay            time.Duration `yaml:"restart_delay"`
	RadioPollInterval       time.Duration `yaml:"radio_poll_interval"`
	ForgetOnPairingConflict bool          `yaml:"forget_on_pairing_conflict"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "calliope-connect")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Profile:  "playground",
		Bluetooth: BluetoothConfig{
			Adapter:           "hci0",
			ScanTimeout:       20 * time.Second,
			ConnectTimeout:    10 * time.Second,
			EvaluateTimeout:   5 * time.Second,
			RestartDelay:      3 * time.Second,
			RadioPollInterval: 2 * time.Second,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in log_file is expanded to the user's home directory.
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
	cfg.Pattern = strings.ToLower(strings.TrimSpace(cfg.Pattern))

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.Profile {
	case "playground", "flashable":
	default:
		return fmt.Errorf("profile must be \"playground\" or \"flashable\", got %q", c.Profile)
	}

	if strings.ContainsAny(c.Pattern, " \t\n") {
		return fmt.Errorf("pattern must be a single word, got %q", c.Pattern)
	}

	b := c.Bluetooth
	if b.Adapter == "" {
		return fmt.Errorf("bluetooth.adapter must not be empty")
	}
	durations := []struct {
		key string
		d   time.Duration
	}{
		{"scan_timeout", b.ScanTimeout},
		{"connect_timeout", b.ConnectTimeout},
		{"evaluate_timeout", b.EvaluateTimeout},
		{"restart_delay", b.RestartDelay},
		{"radio_poll_interval", b.RadioPollInterval},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("bluetooth.%s must be > 0, got %s", d.key, d.d)
		}
	}

	return nil
}

// ParseLogLevel maps a log_level value to a slog level. Unknown values
// map to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultConfigTemplate = `# calliope-connect configuration
#
# log_level: debug, info, warn or error
log_level: info
# log_file: ~/.local/state/calliope-connect/calliope-connect.log

# profile decides which program a connected board must run:
# "playground" (LED, button, accelerometer and event services) or
# "flashable" (DFU control or partial flashing service).
profile: playground

# pattern preselects a board by the friendly name its LEDs spell.
# pattern: zuzut

bluetooth:
  adapter: hci0
  scan_timeout: 20s
  connect_timeout: 10s
  evaluate_timeout: 5s
  restart_delay: 3s
  radio_poll_interval: 2s
  # Remove a stale pairing automatically instead of asking the user to
  # forget the board in the system settings.
  forget_on_pairing_conflict: false
`

// WriteDefault writes a commented default config to DefaultConfigPath.
// It returns the path written, or "" if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
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
