package config

import "time"

// Gas limit used as EstimateGas fallback when the node cannot simulate a
// permit submission. permit() costs roughly 70k gas on a UniswapV2 pair.
const GasLimitPermit = uint64(120_000)

// Timeouts used across cmd.
const (
	RPCDialTimeout   = 10 * time.Second
	RedisTimeout     = 5 * time.Second
	TxConfirmTimeout = 3 * time.Minute
)

// Defaults for new configs.
const (
	DefaultTokenName      = "Uniswap V2"
	DefaultTokenVersion   = "1"
	DefaultDeadlineWindow = int64(3600)
	DefaultLogFormat      = "text"
)
