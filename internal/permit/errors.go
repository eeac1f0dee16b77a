package permit

import (
	"errors"

	"github.com/Mohsinsiddi/w3permit/internal/eip712"
)

// Rejection reasons. Every failed verification wraps exactly one of these.
var (
	ErrInputValidation    = eip712.ErrInvalidInput
	ErrArithmeticOverflow = eip712.ErrOverflow
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrExpired            = errors.New("permit expired")
	ErrNonceMismatch      = errors.New("nonce mismatch")
)
