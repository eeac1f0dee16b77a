package eip712

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	domainTypeName = "EIP712Domain"
	permitTypeName = "Permit"
)

// TypedData renders a permit as eth_signTypedData_v4 input. Integers are
// carried as decimal strings so wallets do not lose precision.
func TypedData(d Domain, p Permit) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			domainTypeName: {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			permitTypeName: {
				{Name: "owner", Type: "address"},
				{Name: "spender", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: permitTypeName,
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(d.ChainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"owner":    p.Owner.Hex(),
			"spender":  p.Spender.Hex(),
			"value":    decimal(p.Value),
			"nonce":    decimal(p.Nonce),
			"deadline": decimal(p.Deadline),
		},
	}
}

// HashTypedData hashes arbitrary typed data with go-ethereum's generic
// encoder: keccak256(0x19 0x01 || hashStruct(domain) || hashStruct(message)).
func HashTypedData(td apitypes.TypedData) (common.Hash, error) {
	dataHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("hashing %s: %w", td.PrimaryType, err)
	}
	domainSeparator, err := td.HashStruct(domainTypeName, td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("hashing domain: %w", err)
	}
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domainSeparator, dataHash), nil
}

// FromTypedData extracts a Domain and Permit from eth_signTypedData_v4 input.
func FromTypedData(td apitypes.TypedData) (Domain, Permit, error) {
	if td.PrimaryType != permitTypeName {
		return Domain{}, Permit{}, fmt.Errorf("%w: primary type %q, want %q", ErrInvalidInput, td.PrimaryType, permitTypeName)
	}
	if td.Domain.ChainId == nil {
		return Domain{}, Permit{}, fmt.Errorf("%w: domain chainId is required", ErrInvalidInput)
	}
	d, err := NewDomain(td.Domain.Name, td.Domain.Version, (*big.Int)(td.Domain.ChainId), td.Domain.VerifyingContract)
	if err != nil {
		return Domain{}, Permit{}, err
	}

	var p Permit
	if p.Owner, err = messageAddress(td.Message, "owner"); err != nil {
		return Domain{}, Permit{}, err
	}
	if p.Spender, err = messageAddress(td.Message, "spender"); err != nil {
		return Domain{}, Permit{}, err
	}
	if p.Value, err = messageUint(td.Message, "value"); err != nil {
		return Domain{}, Permit{}, err
	}
	if p.Nonce, err = messageUint(td.Message, "nonce"); err != nil {
		return Domain{}, Permit{}, err
	}
	if p.Deadline, err = messageUint(td.Message, "deadline"); err != nil {
		return Domain{}, Permit{}, err
	}
	return d, p, nil
}

func messageAddress(msg apitypes.TypedDataMessage, field string) (common.Address, error) {
	s, ok := msg[field].(string)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: message.%s must be a hex string", ErrInvalidInput, field)
	}
	return ParseAddress(field, s)
}

// maxExactFloat is the largest integer a JSON number decoded as float64 holds
// without rounding.
const maxExactFloat = 1<<53 - 1

func messageUint(msg apitypes.TypedDataMessage, field string) (*big.Int, error) {
	switch v := msg[field].(type) {
	case string:
		return ParseUint256(field, v)
	case json.Number:
		return ParseUint256(field, v.String())
	case float64:
		if v > maxExactFloat || v < -maxExactFloat {
			return nil, fmt.Errorf("%w: message.%s %v exceeds 2^53-1; encode it as a decimal string", ErrInvalidInput, field, v)
		}
		f := big.NewFloat(v)
		if !f.IsInt() {
			return nil, fmt.Errorf("%w: message.%s %v is not an integer", ErrInvalidInput, field, v)
		}
		n, _ := f.Int(nil)
		return n, CheckUint256(field, n)
	case *big.Int:
		return v, CheckUint256(field, v)
	case nil:
		return nil, fmt.Errorf("%w: message.%s is required", ErrInvalidInput, field)
	default:
		return nil, fmt.Errorf("%w: message.%s has unsupported type %T", ErrInvalidInput, field, v)
	}
}

func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
