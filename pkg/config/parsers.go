package config

import (
	"flag"
	"os"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// EffectiveConfigResult is the merged view main hands to the app: the parsed
// config plus the resolved listen address and DB path, and which source won.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // "flags", "config", or "env"
}

// ParseCommandFlags parses command-line flags and returns them as a Flags
// struct, recording which were explicitly set.
func ParseCommandFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: set}
}

// ResolveConfigPath picks the config file path: explicit flag wins, then the
// CHATSYNC_CONFIG env var, then the flag default.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet {
		return flagVal
	}
	if v := os.Getenv("CHATSYNC_CONFIG"); v != "" {
		return v
	}
	return flagVal
}

// LoadEffective loads the config file (if present), applies env overrides
// and resolves the address and DB path against the provided flags.
// Flags win over env, env wins over file.
func LoadEffective(path string, flags Flags) (EffectiveConfigResult, error) {
	cfg := &Config{}
	source := "flags"
	if b, err := os.Stat(path); err == nil && !b.IsDir() {
		c, err := Load(path)
		if err != nil {
			return EffectiveConfigResult{}, err
		}
		cfg = c
		source = "config"
	}
	if applyEnvOverrides(cfg) {
		source = "env"
	}

	addr := cfg.Addr()
	if flags.Set["addr"] || (cfg.Server.Address == "" && cfg.Server.Port == 0) {
		addr = flags.Addr
		source = "flags"
	}
	dbPath := cfg.Server.DBPath
	if flags.Set["db"] || dbPath == "" {
		dbPath = flags.DB
	}

	rc := &RuntimeConfig{BackendKeys: map[string]struct{}{}, FrontendKeys: map[string]struct{}{}}
	for _, k := range cfg.Security.APIKeys.Backend {
		rc.BackendKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.APIKeys.Frontend {
		rc.FrontendKeys[k] = struct{}{}
	}
	SetRuntime(rc)

	return EffectiveConfigResult{Config: cfg, Addr: addr, DBPath: dbPath, Source: source}, nil
}
