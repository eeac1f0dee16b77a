package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "W3PERMIT_"

const (
	configFile  = "config.json"
	walletsFile = "wallets.json"
	dotenvFile  = ".env"
)

// ErrUnknownKey is returned by Set and Get for keys that are not settable.
var ErrUnknownKey = errors.New("unknown config key")

// Load reads config from dir (or creates defaults), then applies a .env file
// from the working directory or dir, then W3PERMIT_* environment variables.
// dir defaults to ~/.w3permit.
func Load(dir string) (*Config, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("could not determine home dir: %w", err)
		}
		dir = filepath.Join(home, ".w3permit")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create config dir: %w", err)
	}

	cfg := defaults(dir)

	data, err := os.ReadFile(filepath.Join(dir, configFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.configDir = dir
	if cfg.CustomRPCs == nil {
		cfg.CustomRPCs = make(map[string][]string)
	}
	// CustomRPCs has no env override, so both views share the map.
	file := *cfg

	if err := loadDotenv(dotenvFile, filepath.Join(dir, dotenvFile)); err != nil {
		return nil, err
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	cfg.file = &file
	return cfg, nil
}

// Save writes the config to disk. Environment and .env overrides are never
// written; only values read from config.json and changed through Set are.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.configDir, 0o700); err != nil {
		return err
	}
	out := c
	if c.file != nil {
		out = c.file
		out.CustomRPCs = c.CustomRPCs
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.configDir, configFile), data, 0o600)
}

// Dir returns the config directory.
func (c *Config) Dir() string {
	return c.configDir
}

// WalletsPath is where wallet metadata is stored.
func (c *Config) WalletsPath() string {
	return filepath.Join(c.configDir, walletsFile)
}

// AddRPC adds a custom RPC URL for a network.
func (c *Config) AddRPC(network, url string) error {
	if c.CustomRPCs == nil {
		c.CustomRPCs = make(map[string][]string)
	}
	if slices.Contains(c.CustomRPCs[network], url) {
		return fmt.Errorf("RPC %s already exists for network %s", url, network)
	}
	c.CustomRPCs[network] = append(c.CustomRPCs[network], url)
	return nil
}

// RemoveRPC removes a custom RPC URL for a network.
func (c *Config) RemoveRPC(network, url string) error {
	rpcs := c.CustomRPCs[network]
	idx := slices.Index(rpcs, url)
	if idx == -1 {
		return fmt.Errorf("RPC %s not found for network %s", url, network)
	}
	c.CustomRPCs[network] = slices.Delete(rpcs, idx, idx+1)
	return nil
}

// GetRPCs returns custom RPCs for a network.
func (c *Config) GetRPCs(network string) []string {
	return c.CustomRPCs[network]
}

// Keys lists the keys accepted by Set and Get.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set assigns a scalar field by its JSON key. The value takes effect now and
// is written by the next Save.
func (c *Config) Set(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	value = strings.TrimSpace(value)
	if err := f.set(c, value); err != nil {
		return err
	}
	if c.file != nil {
		return f.set(c.file, value)
	}
	return nil
}

// Get returns a scalar field by its JSON key.
func (c *Config) Get(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return f.get(c), nil
}

// --- helpers ---

type field struct {
	get func(*Config) string
	set func(*Config, string) error
}

func stringField(p func(*Config) *string) field {
	return field{
		get: func(c *Config) string { return *p(c) },
		set: func(c *Config, v string) error { *p(c) = v; return nil },
	}
}

func intField(p func(*Config) *int64) field {
	return field{
		get: func(c *Config) string { return strconv.FormatInt(*p(c), 10) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid non-negative integer %q", v)
			}
			*p(c) = n
			return nil
		},
	}
}

var fields = map[string]field{
	"default_wallet":  stringField(func(c *Config) *string { return &c.DefaultWallet }),
	"default_network": stringField(func(c *Config) *string { return &c.DefaultNetwork }),
	"chain_id":        intField(func(c *Config) *int64 { return &c.ChainID }),
	"token_name":      stringField(func(c *Config) *string { return &c.TokenName }),
	"token_version":   stringField(func(c *Config) *string { return &c.TokenVersion }),
	"token_address":   stringField(func(c *Config) *string { return &c.TokenAddress }),
	"rpc_url":         stringField(func(c *Config) *string { return &c.RPCURL }),
	"redis_url":       stringField(func(c *Config) *string { return &c.RedisURL }),
	"log_format": {
		get: func(c *Config) string { return c.LogFormat },
		set: func(c *Config, v string) error {
			if v != "text" && v != "json" {
				return fmt.Errorf("log_format must be text or json, got %q", v)
			}
			c.LogFormat = v
			return nil
		},
	},
	"deadline_window": intField(func(c *Config) *int64 { return &c.DeadlineWindow }),
}

func defaults(dir string) *Config {
	return &Config{
		TokenName:      DefaultTokenName,
		TokenVersion:   DefaultTokenVersion,
		LogFormat:      DefaultLogFormat,
		DeadlineWindow: DefaultDeadlineWindow,
		CustomRPCs:     make(map[string][]string),
		configDir:      dir,
	}
}

// loadDotenv loads the first existing file. Variables already set in the
// process environment win.
func loadDotenv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
		return nil
	}
	return nil
}
