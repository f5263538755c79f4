package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds derived runtime values that other packages may query
// at runtime (populated during startup after merging env+file).
type RuntimeConfig struct {
	BackendKeys  map[string]struct{}
	FrontendKeys map[string]struct{}
}

var (
	runtimeMu  sync.RWMutex
	runtimeCfg *RuntimeConfig
)

// SetRuntime sets the canonical runtime config used by the running server.
func SetRuntime(rc *RuntimeConfig) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeCfg = rc
}

// GetBackendKeys returns a copy of configured backend keys.
func GetBackendKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil {
		return out
	}
	for k := range runtimeCfg.BackendKeys {
		out[k] = struct{}{}
	}
	return out
}

// GetFrontendKeys returns a copy of configured frontend keys.
func GetFrontendKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil {
		return out
	}
	for k := range runtimeCfg.FrontendKeys {
		out[k] = struct{}{}
	}
	return out
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &c, nil
}

// applyEnvOverrides overlays CHATSYNC_* environment variables on top of the
// file-derived config. Returns true when any env var was used.
func applyEnvOverrides(c *Config) bool {
	used := false
	if v := os.Getenv("CHATSYNC_ADDRESS"); v != "" {
		c.Server.Address = v
		used = true
	}
	if v := os.Getenv("CHATSYNC_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
			used = true
		}
	}
	if v := os.Getenv("CHATSYNC_DB_PATH"); v != "" {
		c.Server.DBPath = v
		used = true
	}
	if v := os.Getenv("CHATSYNC_UPLOAD_DIR"); v != "" {
		c.Server.UploadDir = v
		used = true
	}
	if v := os.Getenv("CHATSYNC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
		used = true
	}
	if v := os.Getenv("CHATSYNC_API_KEYS_BACKEND"); v != "" {
		c.Security.APIKeys.Backend = splitCSV(v)
		used = true
	}
	if v := os.Getenv("CHATSYNC_API_KEYS_FRONTEND"); v != "" {
		c.Security.APIKeys.Frontend = splitCSV(v)
		used = true
	}
	return used
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
