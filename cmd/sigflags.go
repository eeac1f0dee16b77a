package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Mohsinsiddi/w3permit/internal/eip712"
	"github.com/Mohsinsiddi/w3permit/internal/permit"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

// Signature flags shared by verify and submit.
var (
	sigHexFlag     string
	sigVFlag       uint8
	sigRFlag       string
	sigSFlag       string
	permitFileFlag string
)

func addSignatureFlags(c *cobra.Command) {
	c.Flags().StringVar(&sigHexFlag, "signature", "", "65-byte r||s||v signature (hex)")
	c.Flags().Uint8Var(&sigVFlag, "v", 0, "signature v (27/28 or 0/1)")
	c.Flags().StringVar(&sigRFlag, "r", "", "signature r (32-byte hex)")
	c.Flags().StringVar(&sigSFlag, "s", "", "signature s (32-byte hex)")
	c.Flags().StringVar(&permitFileFlag, "permit", "", "read domain, permit and signature from `w3permit sign --json` output (- for stdin)")
	c.MarkFlagsMutuallyExclusive("signature", "r")
	c.MarkFlagsMutuallyExclusive("signature", "s")
	c.MarkFlagsMutuallyExclusive("permit", "signature")
}

// parseVRS builds a signature from separate components.
func parseVRS(v uint8, r, s string) (permit.Signature, error) {
	rb, err := hash32("r", r)
	if err != nil {
		return permit.Signature{}, err
	}
	sb, err := hash32("s", s)
	if err != nil {
		return permit.Signature{}, err
	}
	return permit.NewSignature(v, rb, sb), nil
}

func hash32(field, s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %s must be 32 bytes of 0x-prefixed hex", permit.ErrInputValidation, field)
	}
	return common.BytesToHash(b), nil
}

// flagSignature reads --signature or --v/--r/--s.
func flagSignature() (permit.Signature, error) {
	if sigHexFlag != "" {
		return permit.ParseSignature(sigHexFlag)
	}
	if sigRFlag == "" || sigSFlag == "" {
		return permit.Signature{}, fmt.Errorf("%w: pass --signature, --v/--r/--s, or --permit", permit.ErrInputValidation)
	}
	return parseVRS(sigVFlag, sigRFlag, sigSFlag)
}

// loadSignedPermit returns the domain, permit and signature from --permit
// when set, otherwise from the domain, permit and signature flags.
func loadSignedPermit(cmd *cobra.Command) (eip712.Domain, eip712.Permit, permit.Signature, error) {
	if permitFileFlag == "" {
		d, err := resolveDomain(cmd.Context())
		if err != nil {
			return eip712.Domain{}, eip712.Permit{}, permit.Signature{}, err
		}
		p, err := flagPermitInput().parse()
		if err != nil {
			return eip712.Domain{}, eip712.Permit{}, permit.Signature{}, err
		}
		sig, err := flagSignature()
		if err != nil {
			return eip712.Domain{}, eip712.Permit{}, permit.Signature{}, err
		}
		return d, p, sig, nil
	}

	var (
		data []byte
		err  error
	)
	if permitFileFlag == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(permitFileFlag)
	}
	if err != nil {
		return eip712.Domain{}, eip712.Permit{}, permit.Signature{}, fmt.Errorf("reading permit: %w", err)
	}
	var sp signedPermit
	if err := json.Unmarshal(data, &sp); err != nil {
		return eip712.Domain{}, eip712.Permit{}, permit.Signature{}, fmt.Errorf("%w: permit file: %v", permit.ErrInputValidation, err)
	}
	return sp.decode()
}
