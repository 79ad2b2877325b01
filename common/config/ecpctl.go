package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/tenant"
)

// DefaultFileName is the config file ecpctl searches for.
const DefaultFileName = "ecpctl.toml"

// Config is the full ecpctl configuration.
type Config struct {
	Mode      ModeConfig            `toml:"mode"`
	API       APIConfig             `toml:"api"`
	Stream    StreamConfig          `toml:"stream"`
	Storage   StorageConfig         `toml:"storage"`
	Polling   PollingConfig         `toml:"polling"`
	Estimates tenant.EstimateParams `toml:"estimates"`
	Deploy    DeployConfig          `toml:"deploy"`
	Logging   LoggingConfig         `toml:"logging"`
	Metrics   MetricsConfig         `toml:"metrics"`
}

type ModeConfig struct {
	Demo bool `toml:"demo"`
}

type APIConfig struct {
	URL                string `toml:"url"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// StreamConfig holds the live metrics channel settings. An empty URL
// derives the websocket root from the API URL.
type StreamConfig struct {
	URL                 string `toml:"url"`
	BaseDelayMS         int    `toml:"base_delay_ms"`
	MaxDelayMS          int    `toml:"max_delay_ms"`
	MaxAttempts         int    `toml:"max_attempts"`
	PingIntervalSeconds int    `toml:"ping_interval_seconds"`
	ReadTimeoutSeconds  int    `toml:"read_timeout_seconds"`
}

// StorageConfig selects the demo-mode key/value backend.
type StorageConfig struct {
	Backend    string `toml:"backend"`
	Path       string `toml:"path"`
	Key        string `toml:"key"`
	MaxBytes   int    `toml:"max_bytes"`
	SyncWrites bool   `toml:"sync_writes"`
}

type PollingConfig struct {
	ListIntervalSeconds      int `toml:"list_interval_seconds"`
	DashboardIntervalSeconds int `toml:"dashboard_interval_seconds"`
	SettleDelaySeconds       int `toml:"settle_delay_seconds"`
}

// DeployConfig tunes the simulated deployment in demo mode. A negative
// delay disables the pending to running transition.
type DeployConfig struct {
	SimulatedDelayMS int `toml:"simulated_delay_ms"`
}

// LoggingConfig controls the log level and file output. File output is on
// when Dir is set or File is true; File alone writes to GetLogDirectory().
type LoggingConfig struct {
	Level     string `toml:"level"`
	Dir       string `toml:"dir"`
	File      bool   `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// Default returns the stock configuration: production mode against a
// local API.
func Default() Config {
	return Config{
		API: APIConfig{
			URL:            "http://localhost:8001/api/v1",
			TimeoutSeconds: 30,
		},
		Stream: StreamConfig{
			BaseDelayMS:         1000,
			MaxDelayMS:          16000,
			MaxAttempts:         5,
			PingIntervalSeconds: 30,
			ReadTimeoutSeconds:  60,
		},
		Storage: StorageConfig{
			Backend:  "sqlite",
			Key:      "ecp_tenant_store",
			MaxBytes: 5 << 20,
		},
		Polling: PollingConfig{
			ListIntervalSeconds:      15,
			DashboardIntervalSeconds: 300,
			SettleDelaySeconds:       3,
		},
		Estimates: tenant.DefaultEstimateParams(),
		Deploy:    DeployConfig{SimulatedDelayMS: 2000},
		Logging:   LoggingConfig{Level: "INFO", MaxSizeMB: 10, MaxFiles: 5},
	}
}

// Load reads path, or the first ecpctl.toml on the search path when path
// is empty, over the defaults, then applies env overrides. A missing file
// on the search path is not an error; the returned source is then "".
func Load(path string) (Config, string, error) {
	cfg := Default()
	if path == "" {
		if found, _, err := FindConfigFile(DefaultFileName); err == nil {
			path = found
		}
	}
	if path != "" {
		if err := LoadTOML(path, &cfg); err != nil {
			return Config{}, "", err
		}
	}
	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, "", err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, "", err
	}
	return cfg, path, nil
}

// ApplyEnvOverrides applies ECP_DEMO_MODE, ECP_API_URL, ECP_STREAM_URL,
// ECP_STORAGE_BACKEND, DB_PATH and LOG_LEVEL.
func ApplyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("ECP_DEMO_MODE"); val != "" {
		demo, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("ECP_DEMO_MODE: %w", err)
		}
		cfg.Mode.Demo = demo
	}
	if val := os.Getenv("ECP_API_URL"); val != "" {
		cfg.API.URL = val
	}
	if val := os.Getenv("ECP_STREAM_URL"); val != "" {
		cfg.Stream.URL = val
	}
	if val := os.Getenv("ECP_STORAGE_BACKEND"); val != "" {
		cfg.Storage.Backend = val
	}
	if val := os.Getenv("DB_PATH"); val != "" {
		cfg.Storage.Path = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	return nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	switch strings.ToLower(c.Storage.Backend) {
	case "", "sqlite", "badger", "memory":
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}
	if !c.Mode.Demo && strings.TrimSpace(c.API.URL) == "" {
		return fmt.Errorf("api.url is required outside demo mode")
	}
	if c.Stream.MaxAttempts < 0 {
		return fmt.Errorf("stream.max_attempts must not be negative")
	}
	if c.Stream.BaseDelayMS < 0 || c.Stream.MaxDelayMS < 0 {
		return fmt.Errorf("stream delays must not be negative")
	}
	if c.Stream.MaxDelayMS > 0 && c.Stream.BaseDelayMS > c.Stream.MaxDelayMS {
		return fmt.Errorf("stream.base_delay_ms exceeds stream.max_delay_ms")
	}
	if c.Storage.MaxBytes < 0 {
		return fmt.Errorf("storage.max_bytes must not be negative")
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxFiles < 0 {
		return fmt.Errorf("logging.max_size_mb and logging.max_files must not be negative")
	}
	return nil
}

// LogDir returns the directory for the log file, or "" when logging to a
// file is off.
func (c Config) LogDir() (string, error) {
	if c.Logging.Dir != "" {
		return c.Logging.Dir, nil
	}
	if !c.Logging.File {
		return "", nil
	}
	return GetLogDirectory()
}

// StreamURL returns the websocket root, derived from the API URL when no
// stream URL is configured. The stream client maps http(s) to ws(s).
func (c Config) StreamURL() string {
	if c.Stream.URL != "" {
		return c.Stream.URL
	}
	u := strings.TrimRight(c.API.URL, "/")
	return strings.TrimSuffix(u, "/api/v1")
}

func (c Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

func (c Config) StreamBaseDelay() time.Duration {
	return time.Duration(c.Stream.BaseDelayMS) * time.Millisecond
}

func (c Config) StreamMaxDelay() time.Duration {
	return time.Duration(c.Stream.MaxDelayMS) * time.Millisecond
}

func (c Config) PingInterval() time.Duration {
	return time.Duration(c.Stream.PingIntervalSeconds) * time.Second
}

func (c Config) ReadTimeout() time.Duration {
	return time.Duration(c.Stream.ReadTimeoutSeconds) * time.Second
}

func (c Config) ListInterval() time.Duration {
	return time.Duration(c.Polling.ListIntervalSeconds) * time.Second
}

func (c Config) DashboardInterval() time.Duration {
	return time.Duration(c.Polling.DashboardIntervalSeconds) * time.Second
}

func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Polling.SettleDelaySeconds) * time.Second
}

// DeployDelay maps the configured delay to the gateway's convention:
// zero keeps the default, negative disables.
func (c Config) DeployDelay() time.Duration {
	return time.Duration(c.Deploy.SimulatedDelayMS) * time.Millisecond
}
