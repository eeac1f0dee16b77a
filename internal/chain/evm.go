package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/Mohsinsiddi/w3permit/internal/eip712"
	"github.com/Mohsinsiddi/w3permit/internal/permit"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Errors.
var (
	ErrNoContract = errors.New("no contract code at address")
	ErrReverted   = errors.New("transaction reverted")
	ErrNotMined   = errors.New("transaction not mined")
)

// PermitTokenABI covers the ERC-20 and EIP-2612 surface of a UniswapV2ERC20 token.
const PermitTokenABI = `[
 {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
 {"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"DOMAIN_SEPARATOR","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
 {"type":"function","name":"PERMIT_TYPEHASH","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
 {"type":"function","name":"nonces","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"permit","stateMutability":"nonpayable","inputs":[
   {"name":"owner","type":"address"},{"name":"spender","type":"address"},{"name":"value","type":"uint256"},
   {"name":"deadline","type":"uint256"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"outputs":[]}
]`

var permitTokenABI = mustParseABI(PermitTokenABI)

// Backend is the part of ethclient.Client the token client uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TokenClient reads and submits permits against a deployed token.
type TokenClient struct {
	backend Backend
	token   common.Address
	closer  func()

	// PollInterval is how often WaitForReceipt asks for the receipt.
	PollInterval time.Duration
}

// Dial connects to rpcURL and binds a client to token.
func Dial(ctx context.Context, rpcURL string, token common.Address) (*TokenClient, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", rpcURL, err)
	}
	c := NewTokenClient(ec, token)
	c.closer = ec.Close
	return c, nil
}

// NewTokenClient binds backend to token.
func NewTokenClient(backend Backend, token common.Address) *TokenClient {
	return &TokenClient{backend: backend, token: token, PollInterval: 2 * time.Second}
}

// Close releases the underlying RPC connection if the client owns it.
func (c *TokenClient) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Address returns the token contract address.
func (c *TokenClient) Address() common.Address { return c.token }

// ChainID returns the chain id reported by the node.
func (c *TokenClient) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("eth_chainId: %w", err)
	}
	return id, nil
}

// Name returns the token's name().
func (c *TokenClient) Name(ctx context.Context) (string, error) {
	var out string
	return out, c.read(ctx, &out, "name")
}

// Symbol returns the token's symbol().
func (c *TokenClient) Symbol(ctx context.Context) (string, error) {
	var out string
	return out, c.read(ctx, &out, "symbol")
}

// Decimals returns the token's decimals().
func (c *TokenClient) Decimals(ctx context.Context) (uint8, error) {
	var out uint8
	return out, c.read(ctx, &out, "decimals")
}

// DomainSeparator returns the token's DOMAIN_SEPARATOR().
func (c *TokenClient) DomainSeparator(ctx context.Context) (common.Hash, error) {
	var out [32]byte
	err := c.read(ctx, &out, "DOMAIN_SEPARATOR")
	return common.Hash(out), err
}

// PermitTypehash returns the token's PERMIT_TYPEHASH().
func (c *TokenClient) PermitTypehash(ctx context.Context) (common.Hash, error) {
	var out [32]byte
	err := c.read(ctx, &out, "PERMIT_TYPEHASH")
	return common.Hash(out), err
}

// Nonces returns the permit nonce the token expects from owner.
func (c *TokenClient) Nonces(ctx context.Context, owner common.Address) (*big.Int, error) {
	out := new(big.Int)
	return out, c.read(ctx, &out, "nonces", owner)
}

// Allowance returns allowance(owner, spender).
func (c *TokenClient) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	out := new(big.Int)
	return out, c.read(ctx, &out, "allowance", owner, spender)
}

// BalanceOf returns balanceOf(owner).
func (c *TokenClient) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	out := new(big.Int)
	return out, c.read(ctx, &out, "balanceOf", owner)
}

// Domain builds the EIP-712 domain for the token from its name() and the
// node's chain id. version is "1" for UniswapV2-style tokens.
func (c *TokenClient) Domain(ctx context.Context, version string) (eip712.Domain, error) {
	name, err := c.Name(ctx)
	if err != nil {
		return eip712.Domain{}, err
	}
	id, err := c.ChainID(ctx)
	if err != nil {
		return eip712.Domain{}, err
	}
	return eip712.NewDomain(name, version, id, c.token.Hex())
}

// PermitCalldata encodes permit(owner, spender, value, deadline, v, r, s).
func PermitCalldata(p eip712.Permit, sig permit.Signature) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	v := sig.V
	if v < 27 {
		v += 27
	}
	data, err := permitTokenABI.Pack("permit", p.Owner, p.Spender, p.Value, p.Deadline, v, sig.R, sig.S)
	if err != nil {
		return nil, fmt.Errorf("encoding permit call: %w", err)
	}
	return data, nil
}

// BuildPermitTx prepares an unsigned EIP-1559 transaction from submitter that
// calls permit on the token. fallbackGas is used when estimation fails.
func (c *TokenClient) BuildPermitTx(ctx context.Context, submitter common.Address, p eip712.Permit, sig permit.Signature, fallbackGas uint64) (*types.Transaction, error) {
	data, err := PermitCalldata(p, sig)
	if err != nil {
		return nil, err
	}
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	nonce, err := c.backend.PendingNonceAt(ctx, submitter)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas tip: %w", err)
	}
	// Fee cap leaves room for the base fee to double before the tx stalls.
	feeCap := new(big.Int).Mul(gasPrice, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: submitter, To: &c.token, Data: data})
	if err != nil {
		gas = fallbackGas
	}

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &c.token,
		Value:     big.NewInt(0),
		Data:      data,
	}), nil
}

// Send broadcasts a signed transaction.
func (c *TokenClient) Send(ctx context.Context, tx *types.Transaction) error {
	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("eth_sendRawTransaction: %w", err)
	}
	return nil
}

// WaitForReceipt polls until hash is mined or timeout elapses. A mined but
// reverted transaction returns its receipt together with ErrReverted.
func (c *TokenClient) WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, fmt.Errorf("%w (hash: %s)", ErrReverted, hash.Hex())
			}
			return receipt, nil
		case !errors.Is(err, ethereum.NotFound):
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s within %s", ErrNotMined, hash.Hex(), timeout)
		case <-time.After(c.PollInterval):
		}
	}
}

// read calls a view method and unpacks its single return value into out.
func (c *TokenClient) read(ctx context.Context, out any, method string, args ...any) error {
	data, err := permitTokenABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", method, err)
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.token, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("%w: %s() returned no data from %s", ErrNoContract, method, c.token.Hex())
	}
	if err := permitTokenABI.UnpackIntoInterface(out, method, raw); err != nil {
		return fmt.Errorf("decoding %s: %w", method, err)
	}
	return nil
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
