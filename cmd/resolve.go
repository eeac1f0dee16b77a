package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/Mohsinsiddi/w3permit/internal/chain"
	"github.com/Mohsinsiddi/w3permit/internal/config"
	"github.com/Mohsinsiddi/w3permit/internal/eip712"
	"github.com/Mohsinsiddi/w3permit/internal/rpc"
	"github.com/Mohsinsiddi/w3permit/internal/ui"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

var (
	errNoChainID = errors.New("chain id unknown: pass --chain-id or --network, set chain_id, or configure an RPC")
	errNoRPC     = errors.New("no RPC endpoint: pass --rpc, set rpc_url, or pick a --network with public RPCs")
	errNoToken   = errors.New("token address required: pass --token or set token_address")
)

// Domain flags shared by every command that hashes or verifies a permit.
var (
	tokenFlag   string
	nameFlag    string
	versionFlag string
)

func addDomainFlags(c *cobra.Command) {
	c.Flags().StringVar(&tokenFlag, "token", "", "verifying contract (default: config token_address)")
	c.Flags().StringVar(&nameFlag, "name", "", "EIP-712 domain name (default: config token_name)")
	c.Flags().StringVar(&versionFlag, "domain-version", "", "EIP-712 domain version (default: config token_version)")
}

// Permit flags.
var (
	ownerFlag    string
	spenderFlag  string
	valueFlag    string
	nonceFlag    string
	deadlineFlag string
)

func addPermitFlags(c *cobra.Command) {
	c.Flags().StringVar(&ownerFlag, "owner", "", "token owner granting the allowance")
	c.Flags().StringVar(&spenderFlag, "spender", "", "address receiving the allowance")
	c.Flags().StringVar(&valueFlag, "value", "", "allowance in base units (decimal or 0x hex)")
	c.Flags().StringVar(&nonceFlag, "nonce", "", "owner's permit nonce")
	c.Flags().StringVar(&deadlineFlag, "deadline", "", "unix timestamp after which the permit is rejected")
}

// --- chain / rpc ---

// resolveNetwork returns the --network or default_network entry, or nil when
// neither is set.
func resolveNetwork() (*chain.Network, error) {
	name := networkFlag
	if name == "" {
		name = cfg.DefaultNetwork
	}
	if name == "" {
		return nil, nil
	}
	n, err := chain.NewRegistry().GetByName(name)
	if err != nil {
		return nil, fmt.Errorf("unknown network %q: run `w3permit network list`", name)
	}
	return n, nil
}

// rpcCandidates lists endpoints in priority order. An explicit --rpc or
// rpc_url wins outright; otherwise custom RPCs precede the registry's.
func rpcCandidates(n *chain.Network) []string {
	switch {
	case rpcFlag != "":
		return []string{rpcFlag}
	case cfg.RPCURL != "":
		return []string{cfg.RPCURL}
	case n == nil:
		return nil
	}
	urls := append([]string{}, cfg.GetRPCs(n.Name)...)
	return append(urls, n.RPCs...)
}

// resolveChainID applies --chain-id, config chain_id, the network registry
// and finally eth_chainId from the first candidate RPC.
func resolveChainID(ctx context.Context) (*big.Int, error) {
	switch {
	case chainIDFlag > 0:
		return big.NewInt(chainIDFlag), nil
	case cfg.ChainID > 0:
		return big.NewInt(cfg.ChainID), nil
	}

	n, err := resolveNetwork()
	if err != nil {
		return nil, err
	}
	if n != nil {
		return n.ChainIDBig(), nil
	}

	urls := rpcCandidates(nil)
	if len(urls) == 0 {
		return nil, errNoChainID
	}
	ep := rpc.Probe(ctx, urls[0], 0)
	if ep.Err != nil {
		return nil, fmt.Errorf("reading chain id from %s: %w", urls[0], ep.Err)
	}
	log.Debug("chain id from rpc", "url", urls[0], "chain_id", ep.ChainID)
	return new(big.Int).SetUint64(ep.ChainID), nil
}

// networkForChain finds the registry entry for chainID. The explicit
// --network wins so custom RPC lists stay reachable for unknown chains.
func networkForChain(chainID *big.Int) *chain.Network {
	if n, err := resolveNetwork(); err == nil && n != nil {
		return n
	}
	if !chainID.IsInt64() {
		return nil
	}
	n, err := chain.NewRegistry().GetByChainID(chainID.Int64())
	if err != nil {
		return nil
	}
	return n
}

// selectRPC picks an endpoint that serves chainID.
func selectRPC(ctx context.Context, chainID *big.Int) (string, error) {
	urls := rpcCandidates(networkForChain(chainID))
	if len(urls) == 0 {
		return "", errNoRPC
	}
	algo, err := rpc.ParseAlgorithm(rpcAlgoFlag)
	if err != nil {
		return "", err
	}
	url, err := rpc.Select(ctx, urls, chainID.Uint64(), algo)
	if err != nil {
		return "", err
	}
	log.Debug("rpc selected", "url", url, "candidates", len(urls), "algo", string(algo))
	return url, nil
}

// dialToken picks an RPC serving chainID (resolved when nil) and dials the
// token client.
func dialToken(ctx context.Context, token string, chainID *big.Int) (*chain.TokenClient, *big.Int, error) {
	addr, err := resolveToken(token)
	if err != nil {
		return nil, nil, err
	}
	if chainID == nil {
		if chainID, err = resolveChainID(ctx); err != nil {
			return nil, nil, err
		}
	}
	url, err := selectRPC(ctx, chainID)
	if err != nil {
		return nil, nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, config.RPCDialTimeout)
	defer cancel()
	client, err := chain.Dial(dialCtx, url, common.HexToAddress(addr))
	if err != nil {
		return nil, nil, err
	}
	return client, chainID, nil
}

// --- domain / permit ---

func resolveToken(flag string) (string, error) {
	token := flag
	if token == "" {
		token = cfg.TokenAddress
	}
	if token == "" {
		return "", errNoToken
	}
	addr, err := eip712.ParseAddress("token", token)
	if err != nil {
		return "", err
	}
	return addr.Hex(), nil
}

// resolveDomain builds the domain from flags and config. No RPC is needed
// when the chain id is known locally.
func resolveDomain(ctx context.Context) (eip712.Domain, error) {
	token, err := resolveToken(tokenFlag)
	if err != nil {
		return eip712.Domain{}, err
	}
	chainID, err := resolveChainID(ctx)
	if err != nil {
		return eip712.Domain{}, err
	}
	return eip712.NewDomain(firstNonEmpty(nameFlag, cfg.TokenName), firstNonEmpty(versionFlag, cfg.TokenVersion), chainID, token)
}

// permitInput is the raw text form of a permit as given on the command line.
type permitInput struct {
	Owner, Spender, Value, Nonce, Deadline string
}

func flagPermitInput() permitInput {
	return permitInput{Owner: ownerFlag, Spender: spenderFlag, Value: valueFlag, Nonce: nonceFlag, Deadline: deadlineFlag}
}

// parse validates every field. Errors wrap eip712.ErrInvalidInput or
// eip712.ErrOverflow.
func (in permitInput) parse() (eip712.Permit, error) {
	var (
		p   eip712.Permit
		err error
	)
	if p.Owner, err = eip712.ParseAddress("owner", in.Owner); err != nil {
		return p, err
	}
	if p.Spender, err = eip712.ParseAddress("spender", in.Spender); err != nil {
		return p, err
	}
	if p.Value, err = eip712.ParseUint256("value", in.Value); err != nil {
		return p, err
	}
	if p.Nonce, err = eip712.ParseUint256("nonce", in.Nonce); err != nil {
		return p, err
	}
	if p.Deadline, err = eip712.ParseUint256("deadline", in.Deadline); err != nil {
		return p, err
	}
	return p, nil
}

// defaultDeadline is now + window seconds.
func defaultDeadline(now time.Time, window int64) string {
	if window <= 0 {
		window = config.DefaultDeadlineWindow
	}
	return strconv.FormatInt(now.Unix()+window, 10)
}

// --- output ---

func permitPairs(d eip712.Domain, p eip712.Permit) [][2]string {
	return [][2]string{
		{"Owner", ui.Addr(p.Owner.Hex())},
		{"Spender", ui.Addr(p.Spender.Hex())},
		{"Value", ui.Val(p.Value.String())},
		{"Nonce", p.Nonce.String()},
		{"Deadline", fmt.Sprintf("%s %s", p.Deadline, ui.Meta(deadlineLabel(p.Deadline)))},
		{"Chain ID", d.ChainID.String()},
		{"Token", ui.Addr(d.VerifyingContract.Hex())},
	}
}

func deadlineLabel(deadline *big.Int) string {
	if !deadline.IsInt64() || deadline.Int64() > 1<<40 {
		return "(never)"
	}
	return "(" + time.Unix(deadline.Int64(), 0).UTC().Format(time.RFC3339) + ")"
}

func errLine(err error) string {
	return ui.Err(err.Error())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
