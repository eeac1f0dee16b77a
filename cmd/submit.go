package cmd

import (
	"errors"
	"fmt"

	"github.com/Mohsinsiddi/w3permit/internal/chain"
	"github.com/Mohsinsiddi/w3permit/internal/config"
	"github.com/Mohsinsiddi/w3permit/internal/eip712"
	"github.com/Mohsinsiddi/w3permit/internal/logger"
	"github.com/Mohsinsiddi/w3permit/internal/permit"
	"github.com/Mohsinsiddi/w3permit/internal/ui"
	"github.com/Mohsinsiddi/w3permit/internal/wallet"
	"github.com/spf13/cobra"
)

var (
	submitWallet string
	submitYes    bool
	submitNoWait bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit permit() to a deployed token",
	Long: `Send permit(owner, spender, value, deadline, v, r, s) to the token as an
EIP-1559 transaction signed by a submitter wallet (which need not be the
owner), then wait for the receipt.

The signature is checked locally first, and the token's on-chain
DOMAIN_SEPARATOR and nonces(owner) must match the permit.

Examples:
  w3permit submit --permit permit.json --wallet relayer
  w3permit submit --rpc http://127.0.0.1:8545 --token 0x5FbD... \
    --owner 0xf39F... --spender 0x7099... --value 1 --nonce 0 \
    --deadline 1700003600 --signature 0xabf8...1c`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		d, p, sig, err := loadSignedPermit(cmd)
		if err != nil {
			return err
		}
		h, err := eip712.NewPermitHasher(d)
		if err != nil {
			return err
		}
		digest, err := h.Digest(p)
		if err != nil {
			return err
		}
		signer, err := permit.ECRecoverer{}.RecoverSigner(digest, sig)
		if err != nil {
			return err
		}
		if signer != p.Owner {
			return fmt.Errorf("%w: signed by %s, not owner %s", permit.ErrInvalidSignature, signer.Hex(), p.Owner.Hex())
		}

		w, mgr, err := loadSigningWallet(submitWallet)
		if err != nil {
			return err
		}

		client, chainID, err := dialToken(ctx, d.VerifyingContract.Hex(), d.ChainID)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := checkOnChain(cmd, client, h, p); err != nil {
			return err
		}

		tx, err := client.BuildPermitTx(ctx, w.Addr(), p, sig, config.GasLimitPermit)
		if err != nil {
			return err
		}

		pairs := permitPairs(d, p)
		pairs = append(pairs,
			[2]string{"Submitter", ui.Addr(w.Address)},
			[2]string{"Gas Limit", fmt.Sprintf("%d", tx.Gas())},
			[2]string{"Max Fee", fmt.Sprintf("%s wei", tx.GasFeeCap())},
			[2]string{"Network", ui.ChainName(networkLabel(chainID.Int64()))},
		)
		fmt.Fprintln(out, ui.KeyValueBlock("Permit Submission", pairs))
		if !submitYes && !ui.Confirm(cmd.InOrStdin(), out, "Submit permit?") {
			fmt.Fprintln(out, ui.Meta("Cancelled."))
			return nil
		}

		warnIfNoSession(cmd)
		signed, err := wallet.NewSigner(w, mgr.Keystore()).SignTx(tx, chainID)
		if err != nil {
			return err
		}
		if err := client.Send(ctx, signed); err != nil {
			return err
		}
		log.Info("permit submitted", logger.Hash("tx", signed.Hash()), logger.Owner(p.Owner), logger.Uint("nonce", p.Nonce))
		fmt.Fprintln(out, ui.Success("Sent "+ui.Addr(signed.Hash().Hex())))
		if url := txURL(chainID.Int64(), signed.Hash().Hex()); url != "" {
			fmt.Fprintln(out, ui.Meta(url))
		}
		if submitNoWait {
			return nil
		}

		spin := ui.NewSpinner(cmd.ErrOrStderr(), "Waiting for receipt…")
		spin.Start()
		receipt, err := client.WaitForReceipt(ctx, signed.Hash(), config.TxConfirmTimeout)
		spin.Stop()
		switch {
		case errors.Is(err, chain.ErrReverted):
			fmt.Fprintln(out, ui.Err(fmt.Sprintf("Reverted in block %s", receipt.BlockNumber)))
			return err
		case err != nil:
			return err
		}
		fmt.Fprintln(out, ui.Success(fmt.Sprintf("Mined in block %s, gas used %d", receipt.BlockNumber, receipt.GasUsed)))
		return nil
	},
}

// checkOnChain compares the token's separator and owner nonce with the permit.
func checkOnChain(cmd *cobra.Command, client *chain.TokenClient, h *eip712.PermitHasher, p eip712.Permit) error {
	ctx := cmd.Context()
	onChainSep, err := client.DomainSeparator(ctx)
	if err != nil {
		return err
	}
	if onChainSep != h.DomainSeparator() {
		return fmt.Errorf("%w: token DOMAIN_SEPARATOR %s, permit was signed for %s (check name, version and chain id)",
			permit.ErrInvalidSignature, onChainSep.Hex(), h.DomainSeparator().Hex())
	}
	nonce, err := client.Nonces(ctx, p.Owner)
	if err != nil {
		return err
	}
	if nonce.Cmp(p.Nonce) != 0 {
		return fmt.Errorf("%w: on-chain nonce is %s, permit carries %s", permit.ErrNonceMismatch, nonce, p.Nonce)
	}
	return nil
}

func networkLabel(chainID int64) string {
	n, err := chain.NewRegistry().GetByChainID(chainID)
	if err != nil {
		return fmt.Sprintf("chain %d", chainID)
	}
	return n.DisplayName
}

func txURL(chainID int64, hash string) string {
	n, err := chain.NewRegistry().GetByChainID(chainID)
	if err != nil {
		return ""
	}
	return n.TxURL(hash)
}

func init() {
	addDomainFlags(submitCmd)
	addPermitFlags(submitCmd)
	addSignatureFlags(submitCmd)
	submitCmd.Flags().StringVarP(&submitWallet, "wallet", "w", "", "wallet paying gas (default: config default_wallet)")
	submitCmd.Flags().BoolVarP(&submitYes, "yes", "y", false, "skip confirmation")
	submitCmd.Flags().BoolVar(&submitNoWait, "no-wait", false, "return after broadcasting")
}
