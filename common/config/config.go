// Package config locates, loads and writes ecpctl's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// AppName names the per-user and system directories.
const AppName = "ecpctl"

// FindConfigFile returns the first readable file named filename on the
// search path.
func FindConfigFile(filename string) (string, []byte, error) {
	for _, path := range GetConfigSearchPaths(filename) {
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}
	return "", nil, fmt.Errorf("%s not found in any search path", filename)
}

// GetConfigSearchPaths returns the ordered candidate locations, highest
// priority first: system dir, user config dir, executable dir, cwd.
func GetConfigSearchPaths(filename string) []string {
	var paths []string

	switch runtime.GOOS {
	case "windows":
		paths = append(paths, filepath.Join(os.Getenv("ProgramData"), "ECP", AppName, filename))
	case "darwin":
		paths = append(paths, filepath.Join("/Library/Application Support", "ECP", AppName, filename))
	default:
		paths = append(paths, filepath.Join("/etc/ecp", AppName, filename))
	}

	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, AppName, filename))
	}

	if exePath, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exePath), filename))
	}

	return append(paths, filepath.Join(".", filename))
}

// ResolveConfigPath picks the config file to load: an explicit flag value
// wins, then {PREFIX}_CONFIG and {PREFIX}_CONFIG_PATH. An empty result
// means "search".
func ResolveConfigPath(prefix, flagValue string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	for _, name := range []string{prefix + "_CONFIG", prefix + "_CONFIG_PATH"} {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

// GetDataDirectory returns, creating it if needed, the per-user data
// directory.
func GetDataDirectory() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}

	var dir string
	switch runtime.GOOS {
	case "windows":
		dir = filepath.Join(home, "AppData", "Local", "ECP", AppName)
	case "darwin":
		dir = filepath.Join(home, "Library", "Application Support", "ECP", AppName)
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			dir = filepath.Join(xdg, AppName)
		} else {
			dir = filepath.Join(home, ".local", "share", AppName)
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// GetLogDirectory returns the log directory under the data directory.
func GetLogDirectory() (string, error) {
	data, err := GetDataDirectory()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(data, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	return dir, nil
}

// WriteDefaultTOML encodes config to a new file at configPath. It refuses
// to overwrite an existing file.
func WriteDefaultTOML(configPath string, config interface{}) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(configPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("config file %s already exists", configPath)
		}
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(config); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadTOML decodes the file at configPath into config. Keys that config
// does not declare are reported as an error.
func LoadTOML(configPath string, config interface{}) error {
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("config file not found: %w", err)
	}

	md, err := toml.DecodeFile(configPath, config)
	if err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys in %s: %s", configPath, strings.Join(keys, ", "))
	}
	return nil
}
