package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	Server      ServerConfig  `toml:"server"`
	Backend     BackendConfig `toml:"backend"`
	Stream      StreamConfig  `toml:"stream"`
	Monitor     MonitorConfig `toml:"monitor"`
	Cache       CacheConfig   `toml:"cache"`
	Logging     LoggingConfig `toml:"logging"`
	Gateway     GatewayConfig `toml:"gateway"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// BackendConfig describes the NewsInsight job service this monitor talks to
type BackendConfig struct {
	BaseURL        string `toml:"base_url"`        // Job service base URL, e.g. "http://localhost:9090"
	APIKey         string `toml:"api_key"`         // Optional bearer token for the job service
	RequestTimeout string `toml:"request_timeout"` // e.g. "30s" - HTTP request timeout
	RateLimit      string `toml:"rate_limit"`      // e.g. "100ms" - minimum time between API requests
}

// StreamConfig controls the per-job event stream adapter
type StreamConfig struct {
	MaxReconnects    int    `toml:"max_reconnects"`    // Reconnect attempts before giving up
	ReconnectBackoff string `toml:"reconnect_backoff"` // e.g. "5s" - fixed delay between reconnects
	IdleTimeout      string `toml:"idle_timeout"`      // e.g. "5m" - no-event window before a job is failed with "timeout"
}

// MonitorConfig controls job tracking behavior
type MonitorConfig struct {
	RefetchOnTerminal bool   `toml:"refetch_on_terminal"` // Replace streamed state with an authoritative fetch on terminal status
	RefreshSchedule   string `toml:"refresh_schedule"`    // Cron schedule for the authoritative refresh sweep ("" = disabled)
}

// CacheConfig represents the badger-backed record cache configuration
type CacheConfig struct {
	Path           string `toml:"path"`             // Database directory path
	TTL            string `toml:"ttl"`              // e.g. "1h" - entry time-to-live
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// GatewayConfig controls the UI-facing broadcast surfaces (SSE + WebSocket)
type GatewayConfig struct {
	PingInterval  string   `toml:"ping_interval"`  // e.g. "15s" - SSE heartbeat interval
	AllowedEvents []string `toml:"allowed_events"` // Whitelist of event types to broadcast (empty = all)
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in monitor.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Backend: BackendConfig{
			BaseURL:        "http://localhost:9090",
			RequestTimeout: "30s",
			RateLimit:      "100ms",
		},
		Stream: StreamConfig{
			MaxReconnects:    2,    // Small budget - exhaustion folds into job state as a connection failure
			ReconnectBackoff: "5s", // Fixed backoff between attempts
			IdleTimeout:      "5m", // Non-terminal job with no events for this long is failed with "timeout"
		},
		Monitor: MonitorConfig{
			RefetchOnTerminal: true,
			RefreshSchedule:   "", // Disabled by default - streams are the primary channel
		},
		Cache: CacheConfig{
			Path: "./data",
			TTL:  "1h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Gateway: GatewayConfig{
			PingInterval:  "15s",
			AllowedEvents: []string{},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("NEWSINSIGHT_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("NEWSINSIGHT_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("NEWSINSIGHT_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if url := os.Getenv("NEWSINSIGHT_BACKEND_URL"); url != "" {
		config.Backend.BaseURL = url
	}
	if key := os.Getenv("NEWSINSIGHT_BACKEND_API_KEY"); key != "" {
		config.Backend.APIKey = key
	}

	if level := os.Getenv("NEWSINSIGHT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("NEWSINSIGHT_CACHE_PATH"); path != "" {
		config.Cache.Path = path
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string, backendURL string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
	if backendURL != "" {
		config.Backend.BaseURL = backendURL
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base_url is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Stream.MaxReconnects < 0 {
		return fmt.Errorf("stream max_reconnects cannot be negative")
	}

	durations := map[string]string{
		"backend request_timeout":  c.Backend.RequestTimeout,
		"backend rate_limit":       c.Backend.RateLimit,
		"stream reconnect_backoff": c.Stream.ReconnectBackoff,
		"stream idle_timeout":      c.Stream.IdleTimeout,
		"cache ttl":                c.Cache.TTL,
		"gateway ping_interval":    c.Gateway.PingInterval,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s duration '%s': %w", name, value, err)
		}
	}

	if c.Monitor.RefreshSchedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(c.Monitor.RefreshSchedule); err != nil {
			return fmt.Errorf("invalid monitor refresh_schedule '%s': %w", c.Monitor.RefreshSchedule, err)
		}
	}

	return nil
}

// Duration parses a duration-string config field, falling back to a default
// when the field is empty or malformed. Validate() catches malformed values
// at load time; the fallback guards direct struct construction in tests.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
