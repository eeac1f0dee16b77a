package chain

import (
	"errors"
	"math/big"
	"sort"
	"strings"
)

// ErrChainNotFound is returned when a network is not in the registry.
var ErrChainNotFound = errors.New("chain not found")

// Network is an EVM network a permit domain can be bound to. Each testnet is
// its own entry because the chain id is part of every signature.
type Network struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	ChainID     int64    `json:"chain_id"`
	RPCs        []string `json:"rpcs"`
	Explorer    string   `json:"explorer"`
	Testnet     bool     `json:"testnet"`
}

// ChainIDBig returns the chain id as a *big.Int for domain construction.
func (n *Network) ChainIDBig() *big.Int { return big.NewInt(n.ChainID) }

// TxURL returns the explorer link for a transaction, or "" without an explorer.
func (n *Network) TxURL(hash string) string {
	if n.Explorer == "" {
		return ""
	}
	return n.Explorer + "/tx/" + hash
}

// Registry indexes the known networks by name and chain id.
type Registry struct {
	networks []Network
	byName   map[string]*Network
	byID     map[int64]*Network
}

// NewRegistry returns the built-in network registry.
func NewRegistry() *Registry {
	networks := allNetworks()
	r := &Registry{
		networks: networks,
		byName:   make(map[string]*Network, len(networks)),
		byID:     make(map[int64]*Network, len(networks)),
	}
	for i := range r.networks {
		n := &r.networks[i]
		r.byName[n.Name] = n
		r.byID[n.ChainID] = n
	}
	return r
}

// All returns every network sorted by chain id.
func (r *Registry) All() []Network {
	out := make([]Network, len(r.networks))
	copy(out, r.networks)
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// GetByName finds a network by slug ("ethereum", "base-sepolia").
func (r *Registry) GetByName(name string) (*Network, error) {
	n, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrChainNotFound
	}
	return n, nil
}

// GetByChainID finds a network by numeric chain id.
func (r *Registry) GetByChainID(id int64) (*Network, error) {
	n, ok := r.byID[id]
	if !ok {
		return nil, ErrChainNotFound
	}
	return n, nil
}

// --- network data ---

func allNetworks() []Network {
	return []Network{
		{
			Name: "ethereum", DisplayName: "Ethereum", ChainID: 1,
			RPCs:     []string{"https://eth.llamarpc.com", "https://ethereum-rpc.publicnode.com"},
			Explorer: "https://etherscan.io",
		},
		{
			Name: "sepolia", DisplayName: "Sepolia", ChainID: 11155111, Testnet: true,
			RPCs:     []string{"https://rpc.sepolia.org", "https://sepolia.gateway.tenderly.co"},
			Explorer: "https://sepolia.etherscan.io",
		},
		{
			Name: "base", DisplayName: "Base", ChainID: 8453,
			RPCs:     []string{"https://mainnet.base.org", "https://base.llamarpc.com"},
			Explorer: "https://basescan.org",
		},
		{
			Name: "base-sepolia", DisplayName: "Base Sepolia", ChainID: 84532, Testnet: true,
			RPCs:     []string{"https://sepolia.base.org"},
			Explorer: "https://sepolia.basescan.org",
		},
		{
			Name: "polygon", DisplayName: "Polygon", ChainID: 137,
			RPCs:     []string{"https://polygon-bor-rpc.publicnode.com", "https://polygon-pokt.nodies.app"},
			Explorer: "https://polygonscan.com",
		},
		{
			Name: "arbitrum", DisplayName: "Arbitrum", ChainID: 42161,
			RPCs:     []string{"https://arb1.arbitrum.io/rpc", "https://arbitrum.llamarpc.com"},
			Explorer: "https://arbiscan.io",
		},
		{
			Name: "optimism", DisplayName: "Optimism", ChainID: 10,
			RPCs:     []string{"https://mainnet.optimism.io", "https://optimism.llamarpc.com"},
			Explorer: "https://optimistic.etherscan.io",
		},
		{
			Name: "bnb", DisplayName: "BNB Chain", ChainID: 56,
			RPCs:     []string{"https://bsc-dataseed.binance.org", "https://bsc-rpc.publicnode.com"},
			Explorer: "https://bscscan.com",
		},
		{
			Name: "avalanche", DisplayName: "Avalanche", ChainID: 43114,
			RPCs:     []string{"https://api.avax.network/ext/bc/C/rpc", "https://avalanche-c-chain-rpc.publicnode.com"},
			Explorer: "https://snowtrace.io",
		},
		{
			Name: "localhost", DisplayName: "Hardhat / Anvil", ChainID: 31337, Testnet: true,
			RPCs: []string{"http://127.0.0.1:8545"},
		},
	}
}
