package cmd

import (
	"fmt"

	"github.com/Mohsinsiddi/w3permit/internal/eip712"
	"github.com/Mohsinsiddi/w3permit/internal/ui"
	"github.com/spf13/cobra"
)

var domainCmd = &cobra.Command{
	Use:   "domain",
	Short: "Compute the EIP-712 domain separator",
	Long: `Compute DOMAIN_SEPARATOR for a token:

  keccak256(abi.encode(EIP712Domain typehash, keccak256(name),
            keccak256(version), chainId, verifyingContract))

Examples:
  w3permit domain --token 0x5FbDB2315678afecb367f032d93F642f64180aa3 --chain-id 31337
  w3permit domain --network sepolia --name "My Token"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDomain(cmd.Context())
		if err != nil {
			return err
		}
		sep, err := d.Separator()
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), ui.KeyValueBlock("EIP-712 Domain", [][2]string{
			{"Name", d.Name},
			{"Version", d.Version},
			{"Chain ID", d.ChainID.String()},
			{"Verifying Contract", ui.Addr(d.VerifyingContract.Hex())},
			{"Domain Typehash", ui.Meta(eip712.DomainTypeHash.Hex())},
			{"Permit Typehash", ui.Meta(eip712.PermitTypeHash.Hex())},
			{"DOMAIN_SEPARATOR", ui.Val(sep.Hex())},
		}))
		return nil
	},
}

func init() {
	addDomainFlags(domainCmd)
}
