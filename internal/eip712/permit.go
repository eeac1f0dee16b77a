package eip712

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// abi.encode(bytes32 typeHash, address owner, address spender, uint256 value, uint256 nonce, uint256 deadline)
var permitArgs = abi.Arguments{
	{Type: bytes32Ty}, {Type: addressTy}, {Type: addressTy}, {Type: uint256Ty}, {Type: uint256Ty}, {Type: uint256Ty},
}

// Permit is the typed message an owner signs to grant an allowance.
type Permit struct {
	Owner    common.Address
	Spender  common.Address
	Value    *big.Int
	Nonce    *big.Int
	Deadline *big.Int
}

// Validate checks that every integer field is present and fits in uint256.
func (p Permit) Validate() error {
	if err := CheckUint256("value", p.Value); err != nil {
		return err
	}
	if err := CheckUint256("nonce", p.Nonce); err != nil {
		return err
	}
	return CheckUint256("deadline", p.Deadline)
}

// StructHash returns keccak256(abi.encode(PermitTypeHash, owner, spender, value, nonce, deadline)).
func (p Permit) StructHash() (common.Hash, error) {
	if err := p.Validate(); err != nil {
		return common.Hash{}, err
	}
	enc, err := permitArgs.Pack(PermitTypeHash, p.Owner, p.Spender, p.Value, p.Nonce, p.Deadline)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encoding permit: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// Digest returns keccak256(0x19 0x01 || separator || structHash).
func Digest(separator, structHash common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, separator[:], structHash[:])
}

// PermitHasher computes permit digests for a single domain. The separator
// is derived once at construction.
type PermitHasher struct {
	domain    Domain
	separator common.Hash
}

// NewPermitHasher derives and caches the separator for d.
func NewPermitHasher(d Domain) (*PermitHasher, error) {
	sep, err := d.Separator()
	if err != nil {
		return nil, err
	}
	return &PermitHasher{domain: d, separator: sep}, nil
}

// Domain returns the domain the hasher was built for.
func (h *PermitHasher) Domain() Domain { return h.domain }

// DomainSeparator returns the cached separator.
func (h *PermitHasher) DomainSeparator() common.Hash { return h.separator }

// Digest returns the signing digest for p.
func (h *PermitHasher) Digest(p Permit) (common.Hash, error) {
	sh, err := p.StructHash()
	if err != nil {
		return common.Hash{}, err
	}
	return Digest(h.separator, sh), nil
}
