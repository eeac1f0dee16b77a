package permit

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of a serialized r || s || v signature.
const SignatureLength = 65

// Signature is a secp256k1 ECDSA signature split the way Solidity's
// permit(owner, spender, value, deadline, v, r, s) takes it.
type Signature struct {
	R [32]byte
	S [32]byte
	V uint8
}

// SignatureFromBytes splits a 65-byte r || s || v signature.
func SignatureFromBytes(b []byte) (Signature, error) {
	if len(b) != SignatureLength {
		return Signature{}, fmt.Errorf("%w: signature must be %d bytes, got %d", ErrInputValidation, SignatureLength, len(b))
	}
	var sig Signature
	copy(sig.R[:], b[:32])
	copy(sig.S[:], b[32:64])
	sig.V = b[64]
	return sig, nil
}

// ParseSignature decodes a hex r || s || v signature, with or without 0x.
func ParseSignature(s string) (Signature, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	raw, err := hexutil.Decode("0x" + s[2:])
	if err != nil {
		return Signature{}, fmt.Errorf("%w: signature hex: %v", ErrInputValidation, err)
	}
	return SignatureFromBytes(raw)
}

// NewSignature builds a signature from its components. v may be 0/1 or 27/28.
func NewSignature(v uint8, r, s common.Hash) Signature {
	return Signature{R: r, S: s, V: v}
}

// Bytes returns r || s || v with v in the 27/28 form.
func (s Signature) Bytes() []byte {
	out := make([]byte, SignatureLength)
	copy(out[:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	if out[64] < 27 {
		out[64] += 27
	}
	return out
}

// Hex returns the 0x-prefixed form of Bytes.
func (s Signature) Hex() string { return hexutil.Encode(s.Bytes()) }

// RecoveryID maps v to the 0/1 recovery id expected by secp256k1.
func (s Signature) RecoveryID() (byte, error) {
	switch s.V {
	case 0, 1:
		return s.V, nil
	case 27, 28:
		return s.V - 27, nil
	default:
		return 0, fmt.Errorf("%w: unsupported v %d", ErrInvalidSignature, s.V)
	}
}

// SignDigest signs digest with key and returns the signature with v in 27/28.
func SignDigest(key *ecdsa.PrivateKey, digest common.Hash) (Signature, error) {
	raw, err := crypto.Sign(digest[:], key)
	if err != nil {
		return Signature{}, fmt.Errorf("signing digest: %w", err)
	}
	// crypto.Sign yields v in 0/1.
	raw[64] += 27
	return SignatureFromBytes(raw)
}

// Recoverer recovers the address that produced sig over digest.
type Recoverer interface {
	RecoverSigner(digest common.Hash, sig Signature) (common.Address, error)
}

// ECRecoverer recovers signers the same way the ecrecover precompile does.
type ECRecoverer struct{}

// RecoverSigner implements Recoverer.
func (ECRecoverer) RecoverSigner(digest common.Hash, sig Signature) (common.Address, error) {
	recID, err := sig.RecoveryID()
	if err != nil {
		return common.Address{}, err
	}
	r := new(big.Int).SetBytes(sig.R[:])
	s := new(big.Int).SetBytes(sig.S[:])
	if !crypto.ValidateSignatureValues(recID, r, s, false) {
		return common.Address{}, fmt.Errorf("%w: r or s out of range", ErrInvalidSignature)
	}

	raw := make([]byte, SignatureLength)
	copy(raw[:32], sig.R[:])
	copy(raw[32:64], sig.S[:])
	raw[64] = recID

	pub, err := crypto.SigToPub(digest[:], raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
