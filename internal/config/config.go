// Package config provides configuration management for the pulsecam agent.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// Default values
	DefaultPort          = 8788
	DefaultLogLevel      = "info"
	DefaultDataDir       = ".pulsecam"
	DefaultAPIBase       = "https://api.physiology.presagetech.com"
	DefaultPollInterval  = 2 * time.Second
	DefaultPollTimeout   = 5 * time.Minute
	DefaultHTTPTimeout   = 60 * time.Second
	DefaultMaxVideoBytes = 200 * 1024 * 1024

	// Environment variable names
	EnvPort          = "PULSECAM_PORT"
	EnvLogLevel      = "PULSECAM_LOG_LEVEL"
	EnvLogFile       = "PULSECAM_LOG_FILE"
	EnvDataDir       = "PULSECAM_DATA_DIR"
	EnvHeadless      = "PULSECAM_HEADLESS"
	EnvPollInterval  = "PULSECAM_POLL_INTERVAL"
	EnvPollTimeout   = "PULSECAM_POLL_TIMEOUT"
	EnvHTTPTimeout   = "PULSECAM_HTTP_TIMEOUT"
	EnvMaxVideoBytes = "PULSECAM_MAX_VIDEO_BYTES"

	// Analysis API environment variable names
	EnvAPIBase      = "PRESAGE_API_BASE"
	EnvAPIKey       = "PRESAGE_API_KEY"
	EnvLegacyAPIKey = "VITE_PRESAGE_API_KEY"

	// Database filename
	DBFilename = "pulsecam.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	LogFile() string
	DataDir() string
	DBPath() string
	SpoolDir() string
	Headless() bool
	APIBase() string
	APIKey() string
	PollInterval() time.Duration
	PollTimeout() time.Duration
	HTTPTimeout() time.Duration
	MaxVideoBytes() int64
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port          int
	logLevel      string
	logFile       string
	dataDir       string
	headless      bool
	apiBase       string
	apiKey        string
	pollInterval  time.Duration
	pollTimeout   time.Duration
	httpTimeout   time.Duration
	maxVideoBytes int64
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:          DefaultPort,
		logLevel:      DefaultLogLevel,
		dataDir:       defaultDataDir(),
		apiBase:       DefaultAPIBase,
		pollInterval:  DefaultPollInterval,
		pollTimeout:   DefaultPollTimeout,
		httpTimeout:   DefaultHTTPTimeout,
		maxVideoBytes: DefaultMaxVideoBytes,
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}
	cfg.logFile = os.Getenv(EnvLogFile)

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(h)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		cfg.headless = headless
	}

	if base := os.Getenv(EnvAPIBase); base != "" {
		cfg.apiBase = strings.TrimRight(base, "/")
	}

	// The web client kept its key under the Vite name; accept both.
	cfg.apiKey = os.Getenv(EnvAPIKey)
	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv(EnvLegacyAPIKey)
	}

	var err error
	if cfg.pollInterval, err = positiveDuration(EnvPollInterval, cfg.pollInterval); err != nil {
		return nil, err
	}
	if cfg.pollTimeout, err = positiveDuration(EnvPollTimeout, cfg.pollTimeout); err != nil {
		return nil, err
	}
	if cfg.httpTimeout, err = positiveDuration(EnvHTTPTimeout, cfg.httpTimeout); err != nil {
		return nil, err
	}

	if mb := os.Getenv(EnvMaxVideoBytes); mb != "" {
		n, err := strconv.ParseInt(mb, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvMaxVideoBytes, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("invalid %s: must be positive", EnvMaxVideoBytes)
		}
		cfg.maxVideoBytes = n
	}

	return cfg, nil
}

func positiveDuration(env string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(env)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", env, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", env)
	}
	return d, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// LogFile returns an optional extra log destination
func (c *EnvConfig) LogFile() string {
	return c.logFile
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// SpoolDir holds uploaded videos until their measurement job runs
func (c *EnvConfig) SpoolDir() string {
	return filepath.Join(c.dataDir, "spool")
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) APIBase() string {
	return c.apiBase
}

func (c *EnvConfig) APIKey() string {
	return c.apiKey
}

func (c *EnvConfig) PollInterval() time.Duration {
	return c.pollInterval
}

func (c *EnvConfig) PollTimeout() time.Duration {
	return c.pollTimeout
}

func (c *EnvConfig) HTTPTimeout() time.Duration {
	return c.httpTimeout
}

func (c *EnvConfig) MaxVideoBytes() int64 {
	return c.maxVideoBytes
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
