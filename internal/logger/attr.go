package logger

import (
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Error records err under "error". A nil error yields an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Owner records the permit owner.
func Owner(a common.Address) slog.Attr { return slog.String("owner", a.Hex()) }

// Spender records the permit spender.
func Spender(a common.Address) slog.Attr { return slog.String("spender", a.Hex()) }

// Hash records a 32-byte hash (digest, separator, tx hash) under key.
func Hash(key string, h common.Hash) slog.Attr { return slog.String(key, h.Hex()) }

// Uint records a uint256 in decimal. Nil values yield an empty Attr.
func Uint(key string, v *big.Int) slog.Attr {
	if v == nil {
		return slog.Attr{}
	}
	return slog.String(key, v.String())
}
