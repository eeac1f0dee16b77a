package ledger

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/Mohsinsiddi/w3permit/internal/eip712"
	"github.com/Mohsinsiddi/w3permit/internal/permit"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	other = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	totalSupply = ExpandTo18Decimals(10000)
	testAmount  = ExpandTo18Decimals(10)
)

// deployed returns a token with the whole supply minted to owner, its mint
// event cleared from the log.
func deployed(t *testing.T) *Token {
	t.Helper()
	tok := NewToken(DefaultName, DefaultSymbol, DefaultDecimals)
	require.NoError(t, tok.Mint(context.Background(), owner, totalSupply))
	tok.events = nil
	return tok
}

func balance(t *testing.T, tok *Token, a common.Address) *big.Int {
	t.Helper()
	b, err := tok.BalanceOf(context.Background(), a)
	require.NoError(t, err)
	return b
}

// ---------------------------------------------------------------------------
// Metadata
// ---------------------------------------------------------------------------

func TestTokenMetadata(t *testing.T) {
	tok := deployed(t)
	assert.Equal(t, "Uniswap V2", tok.Name())
	assert.Equal(t, "UNI-V2", tok.Symbol())
	assert.Equal(t, uint8(18), tok.Decimals())
	assert.Equal(t, totalSupply, tok.TotalSupply())
	assert.Equal(t, totalSupply, balance(t, tok, owner))
}

func TestExpandTo18Decimals(t *testing.T) {
	want, _ := new(big.Int).SetString("10000000000000000000", 10)
	assert.Equal(t, want, ExpandTo18Decimals(10))
}

func TestMintRejectsSupplyOverflow(t *testing.T) {
	tok := NewToken(DefaultName, DefaultSymbol, DefaultDecimals)
	require.NoError(t, tok.Mint(context.Background(), owner, math.MaxBig256))
	err := tok.Mint(context.Background(), other, big.NewInt(1))
	assert.ErrorIs(t, err, eip712.ErrOverflow)
	assert.Equal(t, 0, balance(t, tok, other).Sign())
}

// ---------------------------------------------------------------------------
// approve / transfer / transferFrom
// ---------------------------------------------------------------------------

func TestApprove(t *testing.T) {
	tok := deployed(t)
	require.NoError(t, tok.Approve(context.Background(), owner, other, testAmount))

	got, err := tok.Allowance(context.Background(), owner, other)
	require.NoError(t, err)
	assert.Equal(t, testAmount, got)
	assert.Equal(t, []Event{{Kind: EventApproval, From: owner, To: other, Value: testAmount}}, tok.Events())
}

func TestTransfer(t *testing.T) {
	tok := deployed(t)
	require.NoError(t, tok.Transfer(context.Background(), owner, other, testAmount))

	assert.Equal(t, new(big.Int).Sub(totalSupply, testAmount), balance(t, tok, owner))
	assert.Equal(t, testAmount, balance(t, tok, other))
	assert.Equal(t, []Event{{Kind: EventTransfer, From: owner, To: other, Value: testAmount}}, tok.Events())
}

func TestTransferFail(t *testing.T) {
	tok := deployed(t)

	err := tok.Transfer(context.Background(), owner, other, new(big.Int).Add(totalSupply, big.NewInt(1)))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	err = tok.Transfer(context.Background(), other, owner, big.NewInt(1))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Equal(t, totalSupply, balance(t, tok, owner))
	assert.Empty(t, tok.Events())
}

func TestTransferFrom(t *testing.T) {
	tok := deployed(t)
	ctx := context.Background()
	require.NoError(t, tok.Approve(ctx, owner, other, testAmount))
	require.NoError(t, tok.TransferFrom(ctx, other, owner, other, testAmount))

	allowance, err := tok.Allowance(ctx, owner, other)
	require.NoError(t, err)
	assert.Equal(t, 0, allowance.Sign())
	assert.Equal(t, new(big.Int).Sub(totalSupply, testAmount), balance(t, tok, owner))
	assert.Equal(t, testAmount, balance(t, tok, other))

	events := tok.Events()
	require.Len(t, events, 2)
	assert.Equal(t, Event{Kind: EventTransfer, From: owner, To: other, Value: testAmount}, events[1])
}

func TestTransferFromMaxAllowanceIsNotDecremented(t *testing.T) {
	tok := deployed(t)
	ctx := context.Background()
	require.NoError(t, tok.Approve(ctx, owner, other, math.MaxBig256))
	require.NoError(t, tok.TransferFrom(ctx, other, owner, other, testAmount))

	allowance, err := tok.Allowance(ctx, owner, other)
	require.NoError(t, err)
	assert.Equal(t, math.MaxBig256, allowance)
	assert.Equal(t, new(big.Int).Sub(totalSupply, testAmount), balance(t, tok, owner))
	assert.Equal(t, testAmount, balance(t, tok, other))
}

func TestTransferFromInsufficientAllowance(t *testing.T) {
	tok := deployed(t)
	ctx := context.Background()
	require.NoError(t, tok.Approve(ctx, owner, other, big.NewInt(5)))

	err := tok.TransferFrom(ctx, other, owner, other, big.NewInt(6))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)

	allowance, _ := tok.Allowance(ctx, owner, other)
	assert.Equal(t, int64(5), allowance.Int64())
	assert.Equal(t, totalSupply, balance(t, tok, owner))
}

func TestTransferFromInsufficientBalanceKeepsAllowance(t *testing.T) {
	tok := deployed(t)
	ctx := context.Background()
	require.NoError(t, tok.Approve(ctx, other, owner, testAmount))

	err := tok.TransferFrom(ctx, owner, other, owner, testAmount)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	allowance, _ := tok.Allowance(ctx, other, owner)
	assert.Equal(t, testAmount, allowance)
}

func TestApproveRejectsOutOfRange(t *testing.T) {
	tok := deployed(t)
	err := tok.Approve(context.Background(), owner, other, big.NewInt(-1))
	assert.ErrorIs(t, err, eip712.ErrOverflow)
	assert.Empty(t, tok.Events())
}

// ---------------------------------------------------------------------------
// Nonces
// ---------------------------------------------------------------------------

func TestConsumeNonce(t *testing.T) {
	tok := deployed(t)
	ctx := context.Background()

	require.NoError(t, tok.ConsumeNonce(ctx, owner, big.NewInt(0)))
	n, err := tok.Nonce(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.Int64())

	err = tok.ConsumeNonce(ctx, owner, big.NewInt(0))
	assert.ErrorIs(t, err, permit.ErrNonceMismatch)

	err = tok.ConsumeNonce(ctx, owner, big.NewInt(5))
	assert.ErrorIs(t, err, permit.ErrNonceMismatch)

	n, _ = tok.Nonce(ctx, owner)
	assert.Equal(t, int64(1), n.Int64())
}

func TestRestoreNonce(t *testing.T) {
	tok := deployed(t)
	ctx := context.Background()

	require.NoError(t, tok.ConsumeNonce(ctx, owner, big.NewInt(0)))
	require.NoError(t, tok.RestoreNonce(ctx, owner, big.NewInt(0)))

	n, _ := tok.Nonce(ctx, owner)
	assert.Equal(t, int64(0), n.Int64())

	err := tok.RestoreNonce(ctx, owner, big.NewInt(0))
	assert.ErrorIs(t, err, permit.ErrNonceMismatch)
}

func TestConsumeNonceConcurrent(t *testing.T) {
	tok := deployed(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tok.ConsumeNonce(ctx, owner, big.NewInt(0)) == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	n, _ := tok.Nonce(ctx, owner)
	assert.Equal(t, int64(1), n.Int64())
}
