package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

type sampleConfig struct {
	Name  string `toml:"name"`
	Value int    `toml:"value"`
}

func TestWriteDefaultTOML(t *testing.T) {
	t.Parallel()

	t.Run("creates file and parent directories", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "deep", "nested", "ecpctl.toml")

		if err := WriteDefaultTOML(path, sampleConfig{Name: "test", Value: 42}); err != nil {
			t.Fatalf("WriteDefaultTOML() failed: %v", err)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read config: %v", err)
		}
		if !strings.Contains(string(content), `name = "test"`) || !strings.Contains(string(content), "value = 42") {
			t.Errorf("unexpected content:\n%s", content)
		}
	})

	t.Run("does not overwrite existing file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "existing.toml")
		existing := "name = \"old\"\n"
		if err := os.WriteFile(path, []byte(existing), 0o644); err != nil {
			t.Fatal(err)
		}

		err := WriteDefaultTOML(path, sampleConfig{Name: "new"})
		if err == nil || !strings.Contains(err.Error(), "already exists") {
			t.Fatalf("expected already exists error, got %v", err)
		}
		content, _ := os.ReadFile(path)
		if string(content) != existing {
			t.Error("existing file was modified")
		}
	})
}

func TestLoadTOML(t *testing.T) {
	t.Parallel()

	t.Run("loads valid config", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "valid.toml")
		if err := os.WriteFile(path, []byte("name = \"loaded\"\nvalue = 999\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		var cfg sampleConfig
		if err := LoadTOML(path, &cfg); err != nil {
			t.Fatalf("LoadTOML() failed: %v", err)
		}
		if cfg.Name != "loaded" || cfg.Value != 999 {
			t.Errorf("got %+v", cfg)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		var cfg sampleConfig
		err := LoadTOML(filepath.Join(t.TempDir(), "missing.toml"), &cfg)
		if err == nil || !strings.Contains(err.Error(), "not found") {
			t.Fatalf("expected not found error, got %v", err)
		}
	})

	t.Run("invalid toml", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "invalid.toml")
		os.WriteFile(path, []byte("this is not valid TOML {{{}}}"), 0o644)
		var cfg sampleConfig
		if err := LoadTOML(path, &cfg); err == nil {
			t.Fatal("LoadTOML() should fail for invalid TOML")
		}
	})

	t.Run("unknown keys", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "typo.toml")
		os.WriteFile(path, []byte("name = \"x\"\nvalu = 1\n"), 0o644)
		var cfg sampleConfig
		err := LoadTOML(path, &cfg)
		if err == nil || !strings.Contains(err.Error(), "valu") {
			t.Fatalf("expected unknown key error, got %v", err)
		}
	})
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("ECPCTL_CONFIG", "")
	t.Setenv("ECPCTL_CONFIG_PATH", "/etc/ecp/ecpctl/ecpctl.toml")

	if got := ResolveConfigPath("ecpctl", ""); got != "/etc/ecp/ecpctl/ecpctl.toml" {
		t.Errorf("expected ECPCTL_CONFIG_PATH, got %q", got)
	}
	t.Setenv("ECPCTL_CONFIG", "/tmp/a.toml")
	if got := ResolveConfigPath("ecpctl", ""); got != "/tmp/a.toml" {
		t.Errorf("expected ECPCTL_CONFIG to win, got %q", got)
	}
	if got := ResolveConfigPath("ecpctl", "./flag.toml"); got != "./flag.toml" {
		t.Errorf("expected flag to win, got %q", got)
	}
}

func TestGetConfigSearchPathsOrder(t *testing.T) {
	t.Parallel()
	paths := GetConfigSearchPaths(DefaultFileName)
	if len(paths) < 2 {
		t.Fatalf("expected several search paths, got %v", paths)
	}
	if paths[len(paths)-1] != filepath.Join(".", DefaultFileName) {
		t.Errorf("cwd should be searched last, got %v", paths)
	}
}

func clearEnv(t *testing.T) {
	for _, k := range []string{"ECP_DEMO_MODE", "ECP_API_URL", "ECP_STREAM_URL", "ECP_STORAGE_BACKEND", "DB_PATH", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), DefaultFileName)
	content := `
[mode]
demo = true

[storage]
backend = "badger"
path = "/var/lib/ecp/store"

[polling]
list_interval_seconds = 10

[estimates]
gpu_per_running = 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, src, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if src != path {
		t.Errorf("source = %q", src)
	}
	if !cfg.Mode.Demo || cfg.Storage.Backend != "badger" || cfg.Storage.Path != "/var/lib/ecp/store" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.ListInterval() != 10*time.Second {
		t.Errorf("ListInterval = %v", cfg.ListInterval())
	}
	if cfg.DashboardInterval() != 5*time.Minute || cfg.SettleDelay() != 3*time.Second {
		t.Errorf("defaults lost: dashboard=%v settle=%v", cfg.DashboardInterval(), cfg.SettleDelay())
	}
	if cfg.Estimates.GPUPerRunning != 4 || cfg.Estimates.CPUPerRunning != 8 {
		t.Errorf("estimates = %+v", cfg.Estimates)
	}
	if cfg.Storage.MaxBytes != 5<<20 || cfg.StreamMaxDelay() != 16*time.Second {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ECP_DEMO_MODE", "true")
	t.Setenv("ECP_API_URL", "https://ecp.example/api/v1")
	t.Setenv("ECP_STORAGE_BACKEND", "memory")
	t.Setenv("DB_PATH", "/tmp/ecp.db")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Default()
	if err := ApplyEnvOverrides(&cfg); err != nil {
		t.Fatalf("ApplyEnvOverrides: %v", err)
	}
	if !cfg.Mode.Demo || cfg.Storage.Backend != "memory" || cfg.Storage.Path != "/tmp/ecp.db" || cfg.Logging.Level != "debug" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.StreamURL() != "https://ecp.example" {
		t.Errorf("StreamURL = %q", cfg.StreamURL())
	}

	t.Setenv("ECP_STREAM_URL", "wss://stream.example")
	ApplyEnvOverrides(&cfg)
	if cfg.StreamURL() != "wss://stream.example" {
		t.Errorf("StreamURL = %q", cfg.StreamURL())
	}

	t.Setenv("ECP_DEMO_MODE", "maybe")
	if err := ApplyEnvOverrides(&cfg); err == nil {
		t.Error("expected error for non-boolean ECP_DEMO_MODE")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"demo without api url", func(c *Config) { c.Mode.Demo = true; c.API.URL = "" }, true},
		{"production without api url", func(c *Config) { c.API.URL = "" }, false},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "redis" }, false},
		{"base above max", func(c *Config) { c.Stream.BaseDelayMS = 20000 }, false},
		{"negative attempts", func(c *Config) { c.Stream.MaxAttempts = -1 }, false},
		{"negative log size", func(c *Config) { c.Logging.MaxSizeMB = -1 }, false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); (err == nil) != tc.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestLogDir(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_DATA_HOME is only honored on linux")
	}
	data := t.TempDir()
	t.Setenv("XDG_DATA_HOME", data)

	cfg := Default()
	if dir, err := cfg.LogDir(); err != nil || dir != "" {
		t.Fatalf("LogDir() = %q, %v; want file logging off", dir, err)
	}

	cfg.Logging.File = true
	dir, err := cfg.LogDir()
	if err != nil {
		t.Fatalf("LogDir() error = %v", err)
	}
	if want := filepath.Join(data, AppName, "logs"); dir != want {
		t.Errorf("LogDir() = %q, want %q", dir, want)
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		t.Errorf("log directory was not created: %v", err)
	}

	cfg.Logging.Dir = "/var/log/ecpctl"
	if dir, _ := cfg.LogDir(); dir != "/var/log/ecpctl" {
		t.Errorf("explicit dir ignored, got %q", dir)
	}
}
