package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mohsinsiddi/w3permit/internal/eip712"
	"github.com/Mohsinsiddi/w3permit/internal/logger"
	"github.com/Mohsinsiddi/w3permit/internal/permit"
	"github.com/Mohsinsiddi/w3permit/internal/ui"
	"github.com/Mohsinsiddi/w3permit/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

var (
	signWallet string
	signJSON   bool
)

// signedPermit is the machine-readable output of sign, accepted by verify
// and submit via --permit.
type signedPermit struct {
	Domain struct {
		Name              string `json:"name"`
		Version           string `json:"version"`
		ChainID           string `json:"chainId"`
		VerifyingContract string `json:"verifyingContract"`
	} `json:"domain"`
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Value     string `json:"value"`
	Nonce     string `json:"nonce"`
	Deadline  string `json:"deadline"`
	Digest    string `json:"digest"`
	V         uint8  `json:"v"`
	R         string `json:"r"`
	S         string `json:"s"`
	Signature string `json:"signature"`
}

func newSignedPermit(d eip712.Domain, p eip712.Permit, digest common.Hash, sig permit.Signature) signedPermit {
	var sp signedPermit
	sp.Domain.Name = d.Name
	sp.Domain.Version = d.Version
	sp.Domain.ChainID = d.ChainID.String()
	sp.Domain.VerifyingContract = d.VerifyingContract.Hex()
	sp.Owner = p.Owner.Hex()
	sp.Spender = p.Spender.Hex()
	sp.Value = p.Value.String()
	sp.Nonce = p.Nonce.String()
	sp.Deadline = p.Deadline.String()
	sp.Digest = digest.Hex()
	sp.V = sig.V
	sp.R = common.Hash(sig.R).Hex()
	sp.S = common.Hash(sig.S).Hex()
	sp.Signature = sig.Hex()
	return sp
}

// decode reverses newSignedPermit.
func (sp signedPermit) decode() (eip712.Domain, eip712.Permit, permit.Signature, error) {
	chainID, err := eip712.ParseUint256("chainId", sp.Domain.ChainID)
	if err != nil {
		return eip712.Domain{}, eip712.Permit{}, permit.Signature{}, err
	}
	d, err := eip712.NewDomain(sp.Domain.Name, sp.Domain.Version, chainID, sp.Domain.VerifyingContract)
	if err != nil {
		return eip712.Domain{}, eip712.Permit{}, permit.Signature{}, err
	}
	p, err := permitInput{Owner: sp.Owner, Spender: sp.Spender, Value: sp.Value, Nonce: sp.Nonce, Deadline: sp.Deadline}.parse()
	if err != nil {
		return eip712.Domain{}, eip712.Permit{}, permit.Signature{}, err
	}
	var sig permit.Signature
	if sp.Signature != "" {
		sig, err = permit.ParseSignature(sp.Signature)
	} else {
		sig, err = parseVRS(sp.V, sp.R, sp.S)
	}
	if err != nil {
		return eip712.Domain{}, eip712.Permit{}, permit.Signature{}, err
	}
	return d, p, sig, nil
}

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a permit with a wallet's key",
	Long: `Sign the permit digest with the owner's stored key and print v, r, s.

--owner defaults to the wallet address. --nonce defaults to the token's
on-chain nonces(owner) and --deadline to now + deadline_window seconds.

Examples:
  w3permit sign --wallet owner --chain-id 31337 --token 0x5FbD... \
    --spender 0x7099... --value 10000000000000000000 --nonce 0
  w3permit sign --spender 0x7099... --value 1 --json > permit.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		w, mgr, err := loadSigningWallet(signWallet)
		if err != nil {
			return err
		}

		in := flagPermitInput()
		if in.Owner == "" {
			in.Owner = w.Address
		}
		if in.Deadline == "" {
			in.Deadline = defaultDeadline(time.Now(), cfg.DeadlineWindow)
		}
		if in.Nonce == "" {
			owner, err := eip712.ParseAddress("owner", in.Owner)
			if err != nil {
				return err
			}
			client, _, err := dialToken(ctx, tokenFlag, nil)
			if err != nil {
				return fmt.Errorf("reading on-chain nonce (pass --nonce to skip): %w", err)
			}
			defer client.Close()
			n, err := client.Nonces(ctx, owner)
			if err != nil {
				return fmt.Errorf("reading on-chain nonce (pass --nonce to skip): %w", err)
			}
			in.Nonce = n.String()
		}

		d, err := resolveDomain(ctx)
		if err != nil {
			return err
		}
		p, err := in.parse()
		if err != nil {
			return err
		}
		h, err := eip712.NewPermitHasher(d)
		if err != nil {
			return err
		}

		warnIfNoSession(cmd)
		digest, sig, err := wallet.SignPermit(w, mgr.Keystore(), h, p)
		if err != nil {
			return err
		}
		log.Debug("permit signed", logger.Owner(p.Owner), logger.Spender(p.Spender), logger.Uint("nonce", p.Nonce), logger.Hash("digest", digest))

		out := cmd.OutOrStdout()
		if signJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(newSignedPermit(d, p, digest, sig))
		}

		pairs := permitPairs(d, p)
		pairs = append(pairs,
			[2]string{"Digest", ui.Meta(digest.Hex())},
			[2]string{"v", ui.Val(fmt.Sprint(sig.V))},
			[2]string{"r", ui.Val(common.Hash(sig.R).Hex())},
			[2]string{"s", ui.Val(common.Hash(sig.S).Hex())},
			[2]string{"Signature", sig.Hex()},
		)
		fmt.Fprintln(out, ui.KeyValueBlock("Signed Permit", pairs))
		fmt.Fprintln(out, ui.Hint("Submit with: w3permit submit --signature "+sig.Hex()+" ..."))
		return nil
	},
}

func init() {
	addDomainFlags(signCmd)
	addPermitFlags(signCmd)
	signCmd.Flags().StringVarP(&signWallet, "wallet", "w", "", "signing wallet (default: config default_wallet)")
	signCmd.Flags().BoolVar(&signJSON, "json", false, "print the signed permit as JSON")
}
