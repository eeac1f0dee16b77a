package cmd

import (
	"fmt"

	"github.com/Mohsinsiddi/w3permit/internal/chain"
	"github.com/Mohsinsiddi/w3permit/internal/ui"
	"github.com/spf13/cobra"
)

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "List networks and pick the default chain",
}

var networkListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in networks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := chain.NewRegistry()
		t := ui.NewTable([]ui.Column{
			{Title: "Name", Width: 14},
			{Title: "Display", Width: 18},
			{Title: "Chain ID", Width: 10, Right: true},
			{Title: "RPCs", Width: 5, Right: true},
			{Title: "Testnet", Width: 8},
		})
		for _, n := range reg.All() {
			testnet := ""
			if n.Testnet {
				testnet = "✓"
			}
			name := ui.ChainName(n.Name)
			if n.Name == cfg.DefaultNetwork {
				name += " *"
			}
			rpcs := len(n.RPCs) + len(cfg.GetRPCs(n.Name))
			t.AddRow(ui.Row{name, n.DisplayName, fmt.Sprint(n.ChainID), fmt.Sprint(rpcs), testnet})
		}
		fmt.Fprintln(cmd.OutOrStdout(), t.Render())
		fmt.Fprintln(cmd.OutOrStdout(), ui.Meta(fmt.Sprintf("%d networks", len(reg.All()))))
		return nil
	},
}

var networkUseCmd = &cobra.Command{
	Use:   "use <network>",
	Short: "Set the default network",
	Long: `Set the default network. Its chain id is bound into every domain separator
unless --chain-id or chain_id is set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := chain.NewRegistry().GetByName(args[0])
		if err != nil {
			return fmt.Errorf("unknown network %q: run `w3permit network list`", args[0])
		}
		if err := cfg.Set("default_network", n.Name); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Success(fmt.Sprintf("Default network set to %s (chain %d)", ui.ChainName(n.Name), n.ChainID)))
		if cfg.ChainID != 0 && cfg.ChainID != n.ChainID {
			fmt.Fprintln(cmd.OutOrStdout(), ui.Warn(fmt.Sprintf("config chain_id %d still takes precedence; clear it with: w3permit config set chain_id 0", cfg.ChainID)))
		}
		return nil
	},
}

func init() {
	networkCmd.AddCommand(networkListCmd, networkUseCmd)
}
