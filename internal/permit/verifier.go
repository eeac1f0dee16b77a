package permit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/Mohsinsiddi/w3permit/internal/eip712"
	"github.com/Mohsinsiddi/w3permit/internal/logger"
	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the token state a consumed permit writes to.
type Ledger interface {
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, owner, spender common.Address, value *big.Int) error
}

// NonceStore owns the per-owner permit nonces.
type NonceStore interface {
	// Nonce returns the next nonce owner must sign.
	Nonce(ctx context.Context, owner common.Address) (*big.Int, error)
	// ConsumeNonce increments owner's nonce if it currently equals expected,
	// and fails with ErrNonceMismatch otherwise.
	ConsumeNonce(ctx context.Context, owner common.Address, expected *big.Int) error
	// RestoreNonce undoes a ConsumeNonce of nonce that was not followed by an approve.
	RestoreNonce(ctx context.Context, owner common.Address, nonce *big.Int) error
}

// State is the lifecycle position of a permit authorization.
type State int

const (
	StatePending State = iota
	StateVerified
	StateConsumed
	StateRejected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateVerified:
		return "verified"
	case StateConsumed:
		return "consumed"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Authorization tracks one permit through verification.
type Authorization struct {
	Permit     eip712.Permit
	Digest     common.Hash
	Signer     common.Address
	State      State
	Err        error
	ConsumedAt time.Time
}

// Verifier checks signed permits against one domain and applies them to a ledger.
type Verifier struct {
	hasher    *eip712.PermitHasher
	ledger    Ledger
	nonces    NonceStore
	recoverer Recoverer
	now       func() time.Time
	log       *slog.Logger
	locks     *ownerLocks
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithRecoverer replaces the secp256k1 signer recovery.
func WithRecoverer(r Recoverer) Option {
	return func(v *Verifier) {
		if r != nil {
			v.recoverer = r
		}
	}
}

// WithClock sets the time source used for deadline checks.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLogger sets the logger. Verification outcomes are logged at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.log = l
		}
	}
}

// NewVerifier creates a verifier for domain backed by ledger and nonces.
func NewVerifier(domain eip712.Domain, ledger Ledger, nonces NonceStore, opts ...Option) (*Verifier, error) {
	if ledger == nil || nonces == nil {
		return nil, fmt.Errorf("%w: ledger and nonce store are required", ErrInputValidation)
	}
	hasher, err := eip712.NewPermitHasher(domain)
	if err != nil {
		return nil, err
	}
	v := &Verifier{
		hasher:    hasher,
		ledger:    ledger,
		nonces:    nonces,
		recoverer: ECRecoverer{},
		now:       time.Now,
		log:       logger.Discard(),
		locks:     newOwnerLocks(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Domain returns the domain permits are verified against.
func (v *Verifier) Domain() eip712.Domain { return v.hasher.Domain() }

// DomainSeparator returns the cached domain separator.
func (v *Verifier) DomainSeparator() common.Hash { return v.hasher.DomainSeparator() }

// Digest returns the digest an owner must sign for p.
func (v *Verifier) Digest(p eip712.Permit) (common.Hash, error) { return v.hasher.Digest(p) }

// Nonce returns the nonce owner's next permit must carry.
func (v *Verifier) Nonce(ctx context.Context, owner common.Address) (*big.Int, error) {
	return v.nonces.Nonce(ctx, owner)
}

// Prepare validates p and returns a pending authorization holding its digest.
func (v *Verifier) Prepare(p eip712.Permit) (*Authorization, error) {
	auth := &Authorization{Permit: p, State: StatePending}
	digest, err := v.hasher.Digest(p)
	if err != nil {
		return v.reject(auth, err)
	}
	auth.Digest = digest
	return auth, nil
}

// Permit verifies sig over p and, on success, consumes p's nonce and sets the
// allowance. Failures leave nonce and allowance untouched and return the
// authorization in StateRejected together with the reason.
func (v *Verifier) Permit(ctx context.Context, p eip712.Permit, sig Signature) (*Authorization, error) {
	now := v.now()

	auth, err := v.Prepare(p)
	if err != nil {
		return auth, err
	}

	if p.Deadline.Cmp(big.NewInt(now.Unix())) < 0 {
		return v.reject(auth, fmt.Errorf("%w: deadline %s is before %d", ErrExpired, p.Deadline, now.Unix()))
	}
	if p.Owner == (common.Address{}) {
		return v.reject(auth, fmt.Errorf("%w: owner is the zero address", ErrInvalidSignature))
	}

	signer, err := v.recoverer.RecoverSigner(auth.Digest, sig)
	if err != nil {
		if !errors.Is(err, ErrInvalidSignature) {
			err = fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return v.reject(auth, err)
	}
	auth.Signer = signer
	if signer != p.Owner {
		return v.reject(auth, fmt.Errorf("%w: signed by %s, not owner %s", ErrInvalidSignature, signer.Hex(), p.Owner.Hex()))
	}
	auth.State = StateVerified

	unlock := v.locks.Lock(p.Owner)
	defer unlock()

	if err := v.nonces.ConsumeNonce(ctx, p.Owner, p.Nonce); err != nil {
		return v.reject(auth, err)
	}
	if err := v.ledger.Approve(ctx, p.Owner, p.Spender, p.Value); err != nil {
		if rerr := v.nonces.RestoreNonce(ctx, p.Owner, p.Nonce); rerr != nil {
			err = errors.Join(err, fmt.Errorf("restoring nonce: %w", rerr))
		}
		return v.reject(auth, fmt.Errorf("approve: %w", err))
	}

	auth.State = StateConsumed
	auth.ConsumedAt = now
	v.log.Debug("permit consumed",
		logger.Owner(p.Owner),
		logger.Spender(p.Spender),
		logger.Uint("nonce", p.Nonce),
		logger.Uint("value", p.Value),
	)
	return auth, nil
}

// Approve sets an allowance directly. It serializes with Permit for the same owner.
func (v *Verifier) Approve(ctx context.Context, owner, spender common.Address, value *big.Int) error {
	if err := eip712.CheckUint256("value", value); err != nil {
		return err
	}
	unlock := v.locks.Lock(owner)
	defer unlock()
	return v.ledger.Approve(ctx, owner, spender, value)
}

func (v *Verifier) reject(auth *Authorization, err error) (*Authorization, error) {
	auth.State = StateRejected
	auth.Err = err
	v.log.Debug("permit rejected",
		logger.Owner(auth.Permit.Owner),
		logger.Hash("digest", auth.Digest),
		logger.Error(err),
	)
	return auth, err
}
