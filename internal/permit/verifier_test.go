package permit_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/Mohsinsiddi/w3permit/internal/eip712"
	"github.com/Mohsinsiddi/w3permit/internal/ledger"
	"github.com/Mohsinsiddi/w3permit/internal/logger"
	"github.com/Mohsinsiddi/w3permit/internal/permit"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known Hardhat/Anvil test accounts #0 and #1. Never fund on mainnet.
const (
	ownerKeyHex   = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	spenderKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	tokenAddr     = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
)

var fixedNow = time.Unix(1700000000, 0)

type fixture struct {
	token    *ledger.Token
	verifier *permit.Verifier
	ownerKey *ecdsa.PrivateKey
	owner    common.Address
	spender  common.Address
	spendKey *ecdsa.PrivateKey
}

func newFixture(t *testing.T, opts ...permit.Option) *fixture {
	t.Helper()
	ownerKey, err := crypto.HexToECDSA(ownerKeyHex)
	require.NoError(t, err)
	spendKey, err := crypto.HexToECDSA(spenderKeyHex)
	require.NoError(t, err)

	domain, err := eip712.NewDomain(ledger.DefaultName, "1", big.NewInt(1), tokenAddr)
	require.NoError(t, err)

	tok := ledger.NewToken(ledger.DefaultName, ledger.DefaultSymbol, ledger.DefaultDecimals)
	opts = append([]permit.Option{permit.WithClock(func() time.Time { return fixedNow })}, opts...)
	v, err := permit.NewVerifier(domain, tok, tok, opts...)
	require.NoError(t, err)

	return &fixture{
		token:    tok,
		verifier: v,
		ownerKey: ownerKey,
		owner:    crypto.PubkeyToAddress(ownerKey.PublicKey),
		spender:  crypto.PubkeyToAddress(spendKey.PublicKey),
		spendKey: spendKey,
	}
}

func (f *fixture) permit(nonce int64, deadline int64) eip712.Permit {
	return eip712.Permit{
		Owner:    f.owner,
		Spender:  f.spender,
		Value:    ledger.ExpandTo18Decimals(10),
		Nonce:    big.NewInt(nonce),
		Deadline: big.NewInt(deadline),
	}
}

func (f *fixture) sign(t *testing.T, key *ecdsa.PrivateKey, p eip712.Permit) permit.Signature {
	t.Helper()
	digest, err := f.verifier.Digest(p)
	require.NoError(t, err)
	sig, err := permit.SignDigest(key, digest)
	require.NoError(t, err)
	return sig
}

func (f *fixture) allowance(t *testing.T) *big.Int {
	t.Helper()
	a, err := f.token.Allowance(context.Background(), f.owner, f.spender)
	require.NoError(t, err)
	return a
}

func (f *fixture) nonce(t *testing.T) int64 {
	t.Helper()
	n, err := f.verifier.Nonce(context.Background(), f.owner)
	require.NoError(t, err)
	return n.Int64()
}

// ---------------------------------------------------------------------------
// Happy path and replay
// ---------------------------------------------------------------------------

func TestPermitScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.permit(0, fixedNow.Unix()+3600)
	sig := f.sign(t, f.ownerKey, p)

	auth, err := f.verifier.Permit(ctx, p, sig)
	require.NoError(t, err)
	assert.Equal(t, permit.StateConsumed, auth.State)
	assert.Equal(t, f.owner, auth.Signer)
	assert.Equal(t, fixedNow, auth.ConsumedAt)
	assert.Equal(t, ledger.ExpandTo18Decimals(10), f.allowance(t))
	assert.Equal(t, int64(1), f.nonce(t))

	auth, err = f.verifier.Permit(ctx, p, sig)
	assert.ErrorIs(t, err, permit.ErrNonceMismatch)
	assert.Equal(t, permit.StateRejected, auth.State)
	assert.ErrorIs(t, auth.Err, permit.ErrNonceMismatch)
	assert.Equal(t, int64(1), f.nonce(t))
}

func TestPermitEmitsApproval(t *testing.T) {
	f := newFixture(t)
	p := f.permit(0, fixedNow.Unix()+3600)
	_, err := f.verifier.Permit(context.Background(), p, f.sign(t, f.ownerKey, p))
	require.NoError(t, err)

	events := f.token.Events()
	require.Len(t, events, 1)
	assert.Equal(t, ledger.EventApproval, events[0].Kind)
	assert.Equal(t, f.owner, events[0].From)
	assert.Equal(t, f.spender, events[0].To)
}

func TestPermitSequentialNonces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := int64(0); i < 3; i++ {
		p := f.permit(i, fixedNow.Unix()+3600)
		p.Value = big.NewInt(i + 100)
		_, err := f.verifier.Permit(ctx, p, f.sign(t, f.ownerKey, p))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), f.nonce(t))
	assert.Equal(t, int64(102), f.allowance(t).Int64())
}

func TestPermitAcceptsLowRecoveryID(t *testing.T) {
	f := newFixture(t)
	p := f.permit(0, fixedNow.Unix()+3600)
	sig := f.sign(t, f.ownerKey, p)
	sig.V -= 27

	_, err := f.verifier.Permit(context.Background(), p, sig)
	require.NoError(t, err)
}

// ---------------------------------------------------------------------------
// Deadline
// ---------------------------------------------------------------------------

func TestPermitExpired(t *testing.T) {
	f := newFixture(t)
	p := f.permit(0, fixedNow.Unix()-1)

	auth, err := f.verifier.Permit(context.Background(), p, f.sign(t, f.ownerKey, p))
	assert.ErrorIs(t, err, permit.ErrExpired)
	assert.Equal(t, permit.StateRejected, auth.State)
	assert.Equal(t, int64(0), f.nonce(t))
	assert.Equal(t, 0, f.allowance(t).Sign())
}

func TestPermitExpiredRegardlessOfSignature(t *testing.T) {
	f := newFixture(t)
	p := f.permit(0, fixedNow.Unix()-1)

	_, err := f.verifier.Permit(context.Background(), p, permit.Signature{V: 99})
	assert.ErrorIs(t, err, permit.ErrExpired)
}

func TestPermitDeadlineEqualToNowIsValid(t *testing.T) {
	f := newFixture(t)
	p := f.permit(0, fixedNow.Unix())

	_, err := f.verifier.Permit(context.Background(), p, f.sign(t, f.ownerKey, p))
	require.NoError(t, err)
}

func TestPermitReadsClockOnce(t *testing.T) {
	calls := 0
	clock := func() time.Time {
		calls++
		return fixedNow.Add(time.Duration(calls) * time.Hour)
	}
	f := newFixture(t, permit.WithClock(clock))
	p := f.permit(0, fixedNow.Unix()+3600)

	auth, err := f.verifier.Permit(context.Background(), p, f.sign(t, f.ownerKey, p))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, fixedNow.Add(time.Hour), auth.ConsumedAt)
}

// ---------------------------------------------------------------------------
// Signature
// ---------------------------------------------------------------------------

func TestPermitSignedByNonOwner(t *testing.T) {
	f := newFixture(t)
	p := f.permit(0, fixedNow.Unix()+3600)

	auth, err := f.verifier.Permit(context.Background(), p, f.sign(t, f.spendKey, p))
	assert.ErrorIs(t, err, permit.ErrInvalidSignature)
	assert.Equal(t, f.spender, auth.Signer)
	assert.Equal(t, int64(0), f.nonce(t))
	assert.Equal(t, 0, f.allowance(t).Sign())
}

func TestPermitSignatureOverDifferentMessage(t *testing.T) {
	f := newFixture(t)
	p := f.permit(0, fixedNow.Unix()+3600)
	sig := f.sign(t, f.ownerKey, p)

	p.Value = big.NewInt(1)
	_, err := f.verifier.Permit(context.Background(), p, sig)
	assert.ErrorIs(t, err, permit.ErrInvalidSignature)
}

func TestPermitZeroOwner(t *testing.T) {
	f := newFixture(t)
	p := f.permit(0, fixedNow.Unix()+3600)
	p.Owner = common.Address{}

	_, err := f.verifier.Permit(context.Background(), p, f.sign(t, f.ownerKey, p))
	assert.ErrorIs(t, err, permit.ErrInvalidSignature)
}

func TestPermitMalformedSignature(t *testing.T) {
	f := newFixture(t)
	p := f.permit(0, fixedNow.Unix()+3600)

	sig := f.sign(t, f.ownerKey, p)
	sig.V = 30
	_, err := f.verifier.Permit(context.Background(), p, sig)
	assert.ErrorIs(t, err, permit.ErrInvalidSignature)

	_, err = f.verifier.Permit(context.Background(), p, permit.Signature{V: 27})
	assert.ErrorIs(t, err, permit.ErrInvalidSignature)
}

type failingRecoverer struct{}

func (failingRecoverer) RecoverSigner(common.Hash, permit.Signature) (common.Address, error) {
	return common.Address{}, errors.New("hardware wallet unplugged")
}

func TestPermitRecovererErrorIsInvalidSignature(t *testing.T) {
	f := newFixture(t, permit.WithRecoverer(failingRecoverer{}))
	p := f.permit(0, fixedNow.Unix()+3600)

	_, err := f.verifier.Permit(context.Background(), p, f.sign(t, f.ownerKey, p))
	assert.ErrorIs(t, err, permit.ErrInvalidSignature)
	assert.Contains(t, err.Error(), "unplugged")
}

// ---------------------------------------------------------------------------
// Nonce and range errors
// ---------------------------------------------------------------------------

func TestPermitFutureNonce(t *testing.T) {
	f := newFixture(t)
	p := f.permit(1, fixedNow.Unix()+3600)

	_, err := f.verifier.Permit(context.Background(), p, f.sign(t, f.ownerKey, p))
	assert.ErrorIs(t, err, permit.ErrNonceMismatch)
	assert.Equal(t, 0, f.allowance(t).Sign())
}

func TestPermitOverflow(t *testing.T) {
	f := newFixture(t)
	p := f.permit(0, fixedNow.Unix()+3600)
	p.Value = new(big.Int).Lsh(big.NewInt(1), 256)

	auth, err := f.verifier.Permit(context.Background(), p, permit.Signature{})
	assert.ErrorIs(t, err, permit.ErrArithmeticOverflow)
	assert.Equal(t, permit.StateRejected, auth.State)
}

func TestPermitMissingField(t *testing.T) {
	f := newFixture(t)
	p := f.permit(0, fixedNow.Unix()+3600)
	p.Deadline = nil

	_, err := f.verifier.Permit(context.Background(), p, permit.Signature{})
	assert.ErrorIs(t, err, permit.ErrInputValidation)
}

// ---------------------------------------------------------------------------
// All-or-nothing
// ---------------------------------------------------------------------------

type brokenLedger struct{ *ledger.Token }

func (brokenLedger) Approve(context.Context, common.Address, common.Address, *big.Int) error {
	return errors.New("disk full")
}

func TestPermitApproveFailureRestoresNonce(t *testing.T) {
	f := newFixture(t)
	domain := f.verifier.Domain()
	v, err := permit.NewVerifier(domain, brokenLedger{f.token}, f.token,
		permit.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	p := f.permit(0, fixedNow.Unix()+3600)
	auth, err := v.Permit(context.Background(), p, f.sign(t, f.ownerKey, p))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, permit.StateRejected, auth.State)
	assert.Equal(t, int64(0), f.nonce(t))

	_, err = f.verifier.Permit(context.Background(), p, f.sign(t, f.ownerKey, p))
	require.NoError(t, err)
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestPermitConcurrentDoubleSubmit(t *testing.T) {
	f := newFixture(t)
	p := f.permit(0, fixedNow.Unix()+3600)
	sig := f.sign(t, f.ownerKey, p)

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		mismatch int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.verifier.Permit(context.Background(), p, sig)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, permit.ErrNonceMismatch):
				mismatch++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, mismatch)
	assert.Equal(t, int64(1), f.nonce(t))
}

func TestApproveSerializesWithPermit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.verifier.Approve(ctx, f.owner, f.spender, big.NewInt(7)))
	assert.Equal(t, int64(7), f.allowance(t).Int64())

	err := f.verifier.Approve(ctx, f.owner, f.spender, big.NewInt(-7))
	assert.ErrorIs(t, err, permit.ErrArithmeticOverflow)
	assert.Equal(t, int64(7), f.allowance(t).Int64())
}

// ---------------------------------------------------------------------------
// Construction and logging
// ---------------------------------------------------------------------------

func TestNewVerifierRequiresCollaborators(t *testing.T) {
	domain, err := eip712.NewDomain(ledger.DefaultName, "1", big.NewInt(1), tokenAddr)
	require.NoError(t, err)
	_, err = permit.NewVerifier(domain, nil, nil)
	assert.ErrorIs(t, err, permit.ErrInputValidation)
}

func TestPrepareIsPending(t *testing.T) {
	f := newFixture(t)
	auth, err := f.verifier.Prepare(f.permit(0, fixedNow.Unix()))
	require.NoError(t, err)
	assert.Equal(t, permit.StatePending, auth.State)
	assert.NotEqual(t, common.Hash{}, auth.Digest)
}

func TestVerifierLogsOutcomes(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.WithOutput(&buf), logger.WithLevel(slog.LevelDebug))
	f := newFixture(t, permit.WithLogger(log))
	p := f.permit(0, fixedNow.Unix()+3600)
	sig := f.sign(t, f.ownerKey, p)

	_, err := f.verifier.Permit(context.Background(), p, sig)
	require.NoError(t, err)
	_, err = f.verifier.Permit(context.Background(), p, sig)
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, "permit consumed")
	assert.Contains(t, out, "permit rejected")
	assert.Contains(t, out, f.owner.Hex())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "pending", permit.StatePending.String())
	assert.Equal(t, "verified", permit.StateVerified.String())
	assert.Equal(t, "consumed", permit.StateConsumed.String())
	assert.Equal(t, "rejected", permit.StateRejected.String())
	assert.Equal(t, "state(9)", permit.State(9).String())
}
