package wallet

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer signs transactions (such as permit submissions) for a signing wallet.
type Signer struct {
	wallet *Wallet
	ks     KeystoreBackend
}

// NewSigner creates a signer for the given wallet.
func NewSigner(w *Wallet, ks KeystoreBackend) *Signer {
	return &Signer{wallet: w, ks: ks}
}

// SignTx signs tx for chainID with the London signer.
func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	privKey, err := PrivateKey(s.wallet, s.ks)
	if err != nil {
		return nil, err
	}

	signed, err := types.SignTx(tx, types.NewLondonSigner(chainID), privKey)
	if err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}
	return signed, nil
}

// Address returns the wallet's address.
func (s *Signer) Address() common.Address {
	return s.wallet.Addr()
}
