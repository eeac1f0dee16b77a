package wallet

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/Mohsinsiddi/w3permit/internal/eip712"
	"github.com/Mohsinsiddi/w3permit/internal/permit"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PrivateKey loads the signing key of w and checks it matches w's address.
func PrivateKey(w *Wallet, ks KeystoreBackend) (*ecdsa.PrivateKey, error) {
	if w.Type != TypeSigning {
		return nil, fmt.Errorf("%w: %s", ErrWatchOnly, w.Name)
	}

	hexKey, err := ks.Retrieve(w.KeyRef)
	if err != nil {
		return nil, fmt.Errorf("retrieving key: %w", err)
	}

	privKey, err := crypto.HexToECDSA(normaliseHexKey(hexKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if w.Address != "" && crypto.PubkeyToAddress(privKey.PublicKey) != w.Addr() {
		return nil, fmt.Errorf("%w: key does not belong to %s", ErrInvalidKey, w.Address)
	}
	return privKey, nil
}

// SignDigest signs a 32-byte permit digest with w's key.
func SignDigest(w *Wallet, ks KeystoreBackend, digest common.Hash) (permit.Signature, error) {
	key, err := PrivateKey(w, ks)
	if err != nil {
		return permit.Signature{}, err
	}
	return permit.SignDigest(key, digest)
}

// SignPermit hashes p under the hasher's domain and signs it. The wallet must
// be the permit owner.
func SignPermit(w *Wallet, ks KeystoreBackend, h *eip712.PermitHasher, p eip712.Permit) (common.Hash, permit.Signature, error) {
	if p.Owner != w.Addr() {
		return common.Hash{}, permit.Signature{}, fmt.Errorf("wallet %s is not the permit owner %s", w.Address, p.Owner.Hex())
	}
	digest, err := h.Digest(p)
	if err != nil {
		return common.Hash{}, permit.Signature{}, err
	}
	sig, err := SignDigest(w, ks, digest)
	if err != nil {
		return common.Hash{}, permit.Signature{}, err
	}
	return digest, sig, nil
}
