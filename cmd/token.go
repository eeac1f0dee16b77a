package cmd

import (
	"fmt"

	"github.com/Mohsinsiddi/w3permit/internal/eip712"
	"github.com/Mohsinsiddi/w3permit/internal/ui"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var tokenOwner string

var tokenCmd = &cobra.Command{
	Use:   "token [address]",
	Short: "Check a deployed token's permit domain",
	Long: `Read name(), DOMAIN_SEPARATOR() and PERMIT_TYPEHASH() from a deployed
token and compare them with the locally computed values. With --owner the
owner's nonces() and balance are shown too.

Examples:
  w3permit token 0x5FbDB2315678afecb367f032d93F642f64180aa3 --rpc http://127.0.0.1:8545
  w3permit token --network sepolia --owner 0xf39F...`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		token := tokenFlag
		if len(args) == 1 {
			token = args[0]
		}
		client, _, err := dialToken(ctx, token, nil)
		if err != nil {
			return err
		}
		defer client.Close()

		version := firstNonEmpty(versionFlag, cfg.TokenVersion)
		var (
			symbol            string
			decimals          uint8
			domain            eip712.Domain
			sepOnChain, tyOnC common.Hash
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) { symbol, err = client.Symbol(gctx); return })
		g.Go(func() (err error) { decimals, err = client.Decimals(gctx); return })
		g.Go(func() (err error) { domain, err = client.Domain(gctx, version); return })
		g.Go(func() (err error) { sepOnChain, err = client.DomainSeparator(gctx); return })
		g.Go(func() (err error) { tyOnC, err = client.PermitTypehash(gctx); return })
		if err := g.Wait(); err != nil {
			return err
		}

		sepLocal, err := domain.Separator()
		if err != nil {
			return err
		}
		sepOK := sepLocal == sepOnChain
		typeOK := eip712.PermitTypeHash == tyOnC

		pairs := [][2]string{
			{"Token", ui.Addr(client.Address().Hex())},
			{"Name", domain.Name},
			{"Symbol", symbol},
			{"Decimals", fmt.Sprint(decimals)},
			{"Chain ID", domain.ChainID.String()},
			{"DOMAIN_SEPARATOR", ui.Val(sepOnChain.Hex())},
			{"", ui.Check(sepOK, fmt.Sprintf("matches local (version %q)", version))},
			{"PERMIT_TYPEHASH", ui.Meta(tyOnC.Hex())},
			{"", ui.Check(typeOK, "matches Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)")},
		}

		if tokenOwner != "" {
			owner, err := eip712.ParseAddress("owner", tokenOwner)
			if err != nil {
				return err
			}
			nonce, err := client.Nonces(ctx, owner)
			if err != nil {
				return err
			}
			bal, err := client.BalanceOf(ctx, owner)
			if err != nil {
				return err
			}
			pairs = append(pairs,
				[2]string{"Owner", ui.Addr(owner.Hex())},
				[2]string{"Next Nonce", ui.Val(nonce.String())},
				[2]string{"Balance", bal.String()},
			)
		}

		fmt.Fprintln(cmd.OutOrStdout(), ui.KeyValueBlock("Permit Token", pairs))
		if !sepOK {
			fmt.Fprintln(cmd.OutOrStdout(), ui.Hint("Separator mismatch: set --domain-version, or the token uses a non-standard domain."))
		}
		return nil
	},
}

func init() {
	addDomainFlags(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenOwner, "owner", "", "show nonces(owner) and balanceOf(owner)")
}
