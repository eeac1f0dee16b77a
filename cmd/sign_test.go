package cmd

import (
	"bytes"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/Mohsinsiddi/w3permit/internal/eip712"
	"github.com/Mohsinsiddi/w3permit/internal/permit"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	refDigest = "0x373cc2d5aa9841a0dee4a71291898cff4498ff4330ae82720078253e3eb2d394"
	refR      = "0xabf8f4509db23abb3d15706f6d55096865c60e3b24751d5329503e243af7d284"
	refS      = "0x0e547e592f88f6f57e870a565867cd7a563018a495598c40b7ca76612e55d17e"
)

// referencePermit is 10 tokens from Anvil account #0 to #1 on chain 1.
func referencePermit(t *testing.T) (eip712.Domain, eip712.Permit) {
	t.Helper()
	d, err := eip712.NewDomain("Uniswap V2", "1", big.NewInt(1), testToken)
	require.NoError(t, err)
	p, err := permitInput{
		Owner:    testOwner,
		Spender:  testSpender,
		Value:    "10000000000000000000",
		Nonce:    "0",
		Deadline: "1700003600",
	}.parse()
	require.NoError(t, err)
	return d, p
}

func signReference(t *testing.T) (eip712.Domain, eip712.Permit, common.Hash, permit.Signature) {
	t.Helper()
	d, p := referencePermit(t)
	h, err := eip712.NewPermitHasher(d)
	require.NoError(t, err)
	digest, err := h.Digest(p)
	require.NoError(t, err)
	key, err := crypto.HexToECDSA(simOwnerKeyHex)
	require.NoError(t, err)
	sig, err := permit.SignDigest(key, digest)
	require.NoError(t, err)
	return d, p, digest, sig
}

// ---------------------------------------------------------------------------
// signedPermit document
// ---------------------------------------------------------------------------

func TestSignedPermitFields(t *testing.T) {
	d, p, digest, sig := signReference(t)
	sp := newSignedPermit(d, p, digest, sig)

	assert.Equal(t, refDigest, sp.Digest)
	assert.Equal(t, refR, sp.R)
	assert.Equal(t, refS, sp.S)
	assert.Equal(t, uint8(28), sp.V)
	assert.Equal(t, "1", sp.Domain.ChainID)
	assert.Equal(t, testToken, sp.Domain.VerifyingContract)
	assert.Equal(t, "10000000000000000000", sp.Value)
}

func TestSignedPermitJSONRoundTrip(t *testing.T) {
	d, p, digest, sig := signReference(t)
	raw, err := json.Marshal(newSignedPermit(d, p, digest, sig))
	require.NoError(t, err)

	var sp signedPermit
	require.NoError(t, json.Unmarshal(raw, &sp))
	gotD, gotP, gotSig, err := sp.decode()
	require.NoError(t, err)

	gotSep, err := gotD.Separator()
	require.NoError(t, err)
	wantSep, err := d.Separator()
	require.NoError(t, err)
	assert.Equal(t, wantSep, gotSep)
	assert.Equal(t, p.Owner, gotP.Owner)
	assert.Equal(t, 0, p.Value.Cmp(gotP.Value))
	assert.Equal(t, 0, p.Deadline.Cmp(gotP.Deadline))
	assert.Equal(t, sig, gotSig)
}

func TestSignedPermitDecodeFromVRS(t *testing.T) {
	d, p, digest, sig := signReference(t)
	sp := newSignedPermit(d, p, digest, sig)
	sp.Signature = ""

	_, _, got, err := sp.decode()
	require.NoError(t, err)
	assert.Equal(t, sig, got)
}

func TestSignedPermitDecodeRejectsBadFields(t *testing.T) {
	d, p, digest, sig := signReference(t)

	sp := newSignedPermit(d, p, digest, sig)
	sp.Domain.ChainID = "one"
	_, _, _, err := sp.decode()
	assert.ErrorIs(t, err, eip712.ErrInvalidInput)

	sp = newSignedPermit(d, p, digest, sig)
	sp.Spender = "0x00"
	_, _, _, err = sp.decode()
	assert.ErrorIs(t, err, eip712.ErrInvalidInput)

	sp = newSignedPermit(d, p, digest, sig)
	sp.Signature = "0x1234"
	_, _, _, err = sp.decode()
	assert.ErrorIs(t, err, permit.ErrInputValidation)
}

// ---------------------------------------------------------------------------
// Signature flags
// ---------------------------------------------------------------------------

func TestParseVRS(t *testing.T) {
	sig, err := parseVRS(28, refR, refS)
	require.NoError(t, err)
	assert.Equal(t, uint8(28), sig.V)
	assert.Equal(t, refR, common.Hash(sig.R).Hex())
	assert.Equal(t, refS, common.Hash(sig.S).Hex())
}

func TestHash32Errors(t *testing.T) {
	_, err := hash32("r", "abf8")
	assert.ErrorIs(t, err, permit.ErrInputValidation)

	_, err = hash32("s", "0x0e54")
	assert.ErrorIs(t, err, permit.ErrInputValidation)
	assert.ErrorContains(t, err, "s must be 32 bytes")

	h, err := hash32("r", refR)
	require.NoError(t, err)
	assert.Equal(t, refR, h.Hex())
}

func TestLoadSignedPermitFromStdinAndFile(t *testing.T) {
	d, p, digest, sig := signReference(t)
	raw, err := json.Marshal(newSignedPermit(d, p, digest, sig))
	require.NoError(t, err)

	saved := permitFileFlag
	t.Cleanup(func() { permitFileFlag = saved })

	c := &cobra.Command{}
	c.SetIn(bytes.NewReader(raw))
	permitFileFlag = "-"
	_, gotP, gotSig, err := loadSignedPermit(c)
	require.NoError(t, err)
	assert.Equal(t, p.Spender, gotP.Spender)
	assert.Equal(t, sig, gotSig)

	path := filepath.Join(t.TempDir(), "permit.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	permitFileFlag = path
	_, _, gotSig, err = loadSignedPermit(c)
	require.NoError(t, err)
	assert.Equal(t, sig, gotSig)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, _, _, err = loadSignedPermit(c)
	assert.ErrorIs(t, err, permit.ErrInputValidation)
}
