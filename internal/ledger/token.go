package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/Mohsinsiddi/w3permit/internal/eip712"
	"github.com/Mohsinsiddi/w3permit/internal/permit"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// UniswapV2 LP token metadata.
const (
	DefaultName     = "Uniswap V2"
	DefaultSymbol   = "UNI-V2"
	DefaultDecimals = 18
)

// Errors.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Event kinds recorded in the token's log.
const (
	EventTransfer = "Transfer"
	EventApproval = "Approval"
)

// Event is an emitted Transfer or Approval. For approvals From is the owner
// and To the spender.
type Event struct {
	Kind  string
	From  common.Address
	To    common.Address
	Value *big.Int
}

// Token is an in-memory ERC-20 ledger with permit nonces. Allowances equal
// to 2^256-1 are never decremented by TransferFrom.
type Token struct {
	mu          sync.RWMutex
	name        string
	symbol      string
	decimals    uint8
	totalSupply *big.Int
	balances    map[common.Address]*big.Int
	allowances  map[common.Address]map[common.Address]*big.Int
	nonces      map[common.Address]*big.Int
	events      []Event
}

// NewToken creates an empty token.
func NewToken(name, symbol string, decimals uint8) *Token {
	return &Token{
		name:        name,
		symbol:      symbol,
		decimals:    decimals,
		totalSupply: new(big.Int),
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]*big.Int),
		nonces:      make(map[common.Address]*big.Int),
	}
}

// ExpandTo18Decimals returns n * 10^18.
func ExpandTo18Decimals(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func (t *Token) Name() string    { return t.name }
func (t *Token) Symbol() string  { return t.symbol }
func (t *Token) Decimals() uint8 { return t.decimals }

// TotalSupply returns the sum of all minted tokens.
func (t *Token) TotalSupply() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.totalSupply)
}

// Mint credits value to to and records a Transfer from the zero address.
func (t *Token) Mint(_ context.Context, to common.Address, value *big.Int) error {
	if err := eip712.CheckUint256("value", value); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	supply := new(big.Int).Add(t.totalSupply, value)
	if supply.Cmp(math.MaxBig256) > 0 {
		return fmt.Errorf("%w: total supply", eip712.ErrOverflow)
	}
	t.totalSupply = supply
	t.balances[to] = new(big.Int).Add(t.balance(to), value)
	t.emit(EventTransfer, common.Address{}, to, value)
	return nil
}

// BalanceOf returns owner's balance.
func (t *Token) BalanceOf(_ context.Context, owner common.Address) (*big.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.balance(owner)), nil
}

// Allowance returns how much spender may move on owner's behalf.
func (t *Token) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.allowance(owner, spender)), nil
}

// Approve overwrites owner's allowance for spender.
func (t *Token) Approve(_ context.Context, owner, spender common.Address, value *big.Int) error {
	if err := eip712.CheckUint256("value", value); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setAllowance(owner, spender, value)
	t.emit(EventApproval, owner, spender, value)
	return nil
}

// Transfer moves value from from to to. No state changes when from's balance is short.
func (t *Token) Transfer(_ context.Context, from, to common.Address, value *big.Int) error {
	if err := eip712.CheckUint256("value", value); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transfer(from, to, value)
}

// TransferFrom moves value from from to to using spender's allowance.
func (t *Token) TransferFrom(_ context.Context, spender, from, to common.Address, value *big.Int) error {
	if err := eip712.CheckUint256("value", value); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := t.allowance(from, spender)
	if allowed.Cmp(math.MaxBig256) != 0 {
		if allowed.Cmp(value) < 0 {
			return fmt.Errorf("%w: %s allowed, %s requested", ErrInsufficientAllowance, allowed, value)
		}
		if t.balance(from).Cmp(value) < 0 {
			return fmt.Errorf("%w: %s", ErrInsufficientBalance, from.Hex())
		}
		t.setAllowance(from, spender, new(big.Int).Sub(allowed, value))
	}
	return t.transfer(from, to, value)
}

// Nonce returns owner's next permit nonce.
func (t *Token) Nonce(_ context.Context, owner common.Address) (*big.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.nonce(owner)), nil
}

// ConsumeNonce increments owner's nonce if it equals expected.
func (t *Token) ConsumeNonce(_ context.Context, owner common.Address, expected *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	current := t.nonce(owner)
	if expected == nil || current.Cmp(expected) != 0 {
		return fmt.Errorf("%w: have %s, got %v", permit.ErrNonceMismatch, current, expected)
	}
	if current.Cmp(math.MaxBig256) == 0 {
		return fmt.Errorf("%w: nonce", eip712.ErrOverflow)
	}
	t.nonces[owner] = new(big.Int).Add(current, big.NewInt(1))
	return nil
}

// RestoreNonce rolls owner's nonce back to nonce if it was just consumed.
func (t *Token) RestoreNonce(_ context.Context, owner common.Address, nonce *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	current := t.nonce(owner)
	if nonce == nil || current.Cmp(new(big.Int).Add(nonce, big.NewInt(1))) != 0 {
		return fmt.Errorf("%w: cannot restore %v, have %s", permit.ErrNonceMismatch, nonce, current)
	}
	t.nonces[owner] = new(big.Int).Set(nonce)
	return nil
}

// Events returns a copy of the event log.
func (t *Token) Events() []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// --- internal, callers hold t.mu ---

func (t *Token) transfer(from, to common.Address, value *big.Int) error {
	bal := t.balance(from)
	if bal.Cmp(value) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), bal, value)
	}
	t.balances[from] = new(big.Int).Sub(bal, value)
	t.balances[to] = new(big.Int).Add(t.balance(to), value)
	t.emit(EventTransfer, from, to, value)
	return nil
}

func (t *Token) balance(owner common.Address) *big.Int {
	if b, ok := t.balances[owner]; ok {
		return b
	}
	return new(big.Int)
}

func (t *Token) allowance(owner, spender common.Address) *big.Int {
	if a, ok := t.allowances[owner][spender]; ok {
		return a
	}
	return new(big.Int)
}

func (t *Token) setAllowance(owner, spender common.Address, value *big.Int) {
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(value)
}

func (t *Token) nonce(owner common.Address) *big.Int {
	if n, ok := t.nonces[owner]; ok {
		return n
	}
	return new(big.Int)
}

func (t *Token) emit(kind string, from, to common.Address, value *big.Int) {
	t.events = append(t.events, Event{Kind: kind, From: from, To: to, Value: new(big.Int).Set(value)})
}
