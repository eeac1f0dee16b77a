package config

// Config holds all w3permit configuration. Every field can be overridden by
// the matching W3PERMIT_* environment variable.
type Config struct {
	DefaultWallet  string              `json:"default_wallet"  env:"DEFAULT_WALLET"`
	DefaultNetwork string              `json:"default_network" env:"NETWORK"`
	ChainID        int64               `json:"chain_id"        env:"CHAIN_ID"`        // 0 = resolve from network or RPC
	TokenName      string              `json:"token_name"      env:"TOKEN_NAME"`
	TokenVersion   string              `json:"token_version"   env:"TOKEN_VERSION"`
	TokenAddress   string              `json:"token_address"   env:"TOKEN_ADDRESS"`
	RPCURL         string              `json:"rpc_url"         env:"RPC_URL"`
	RedisURL       string              `json:"redis_url"       env:"REDIS_URL"`
	LogFormat      string              `json:"log_format"      env:"LOG_FORMAT"`      // "text" | "json"
	DeadlineWindow int64               `json:"deadline_window" env:"DEADLINE_WINDOW"` // seconds added to now for new permits
	CustomRPCs     map[string][]string `json:"custom_rpcs"`

	// internal: config dir path used for Save()
	configDir string
	// internal: values from config.json plus Set calls, without env overrides
	file *Config
}
