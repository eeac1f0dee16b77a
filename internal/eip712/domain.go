package eip712

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// Type descriptors hashed into every separator and struct hash.
const (
	DomainType = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"
	PermitType = "Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"

	// DefaultVersion is the domain version used by UniswapV2-style tokens.
	DefaultVersion = "1"
)

var (
	DomainTypeHash = crypto.Keccak256Hash([]byte(DomainType))
	PermitTypeHash = crypto.Keccak256Hash([]byte(PermitType))
)

// Errors.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrOverflow     = errors.New("value out of uint256 range")
)

var (
	bytes32Ty = mustType("bytes32")
	uint256Ty = mustType("uint256")
	addressTy = mustType("address")

	// abi.encode(bytes32 typeHash, bytes32 name, bytes32 version, uint256 chainId, address contract)
	domainArgs = abi.Arguments{
		{Type: bytes32Ty}, {Type: bytes32Ty}, {Type: bytes32Ty}, {Type: uint256Ty}, {Type: addressTy},
	}
)

// Domain binds signatures to one contract on one chain.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewDomain validates its inputs and builds a Domain. An empty version
// falls back to DefaultVersion.
func NewDomain(name, version string, chainID *big.Int, contract string) (Domain, error) {
	addr, err := ParseAddress("verifying contract", contract)
	if err != nil {
		return Domain{}, err
	}
	if err := CheckUint256("chain id", chainID); err != nil {
		return Domain{}, err
	}
	if version == "" {
		version = DefaultVersion
	}
	return Domain{
		Name:              name,
		Version:           version,
		ChainID:           new(big.Int).Set(chainID),
		VerifyingContract: addr,
	}, nil
}

// Separator returns keccak256(abi.encode(DomainTypeHash, keccak256(name),
// keccak256(version), chainId, verifyingContract)).
func (d Domain) Separator() (common.Hash, error) {
	if err := CheckUint256("chain id", d.ChainID); err != nil {
		return common.Hash{}, err
	}
	enc, err := domainArgs.Pack(
		DomainTypeHash,
		crypto.Keccak256Hash([]byte(d.Name)),
		crypto.Keccak256Hash([]byte(d.Version)),
		d.ChainID,
		d.VerifyingContract,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encoding domain: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// ParseAddress parses a 20-byte hex address with or without the 0x prefix.
// field names the value in the returned error.
func ParseAddress(field, s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not a 20-byte hex address", ErrInvalidInput, field, s)
	}
	return common.HexToAddress(s), nil
}

// ParseUint256 parses a decimal or 0x-prefixed hex integer into the uint256 range.
func ParseUint256(field, s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	v, ok := math.ParseBig256(s)
	if !ok {
		if _, isInt := new(big.Int).SetString(s, 0); isInt {
			return nil, fmt.Errorf("%w: %s %s", ErrOverflow, field, s)
		}
		return nil, fmt.Errorf("%w: %s %q is not an integer", ErrInvalidInput, field, s)
	}
	if err := CheckUint256(field, v); err != nil {
		return nil, err
	}
	return v, nil
}

// CheckUint256 reports whether v fits in an unsigned 256-bit word.
func CheckUint256(field string, v *big.Int) error {
	if v == nil {
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	if v.Sign() < 0 || v.Cmp(math.MaxBig256) > 0 {
		return fmt.Errorf("%w: %s %s", ErrOverflow, field, v)
	}
	return nil
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}
