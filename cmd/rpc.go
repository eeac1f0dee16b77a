package cmd

import (
	"fmt"
	"math/big"

	"github.com/Mohsinsiddi/w3permit/internal/rpc"
	"github.com/Mohsinsiddi/w3permit/internal/ui"
	"github.com/spf13/cobra"
)

var rpcCmd = &cobra.Command{
	Use:   "rpc",
	Short: "Probe RPC endpoints for the selected chain",
	Long: `Probe every candidate RPC for the selected chain (custom RPCs first, then
the built-in ones), report latency, head block and chain id, and show which
endpoint sign, token and submit would use.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		chainID, err := resolveChainID(ctx)
		if err != nil {
			return err
		}
		urls := rpcCandidates(networkForChain(chainID))
		if len(urls) == 0 {
			return errNoRPC
		}
		algo, err := rpc.ParseAlgorithm(rpcAlgoFlag)
		if err != nil {
			return err
		}

		spin := ui.NewSpinner(cmd.ErrOrStderr(), fmt.Sprintf("Probing %d endpoint(s)…", len(urls)))
		spin.Start()
		endpoints := rpc.ProbeAll(ctx, urls, chainID.Uint64())
		spin.Stop()

		winner, pickErr := rpc.Pick(endpoints, algo)

		t := ui.NewTable([]ui.Column{
			{Title: "URL", Width: 44},
			{Title: "Latency", Width: 9, Right: true},
			{Title: "Block", Width: 12, Right: true},
			{Title: "Status", Width: 28},
		})
		for _, ep := range endpoints {
			status := ui.State("ok")
			if ep.Err != nil {
				status = ui.State("rejected") + " " + ui.Meta(ep.Err.Error())
			} else if winner != nil && ep.URL == winner.URL {
				status = ui.StyleSuccess.Render("✓ selected")
			}
			latency := "—"
			if ep.Latency > 0 {
				latency = fmt.Sprintf("%dms", ep.Latency.Milliseconds())
			}
			t.AddRow(ui.Row{ep.URL, latency, fmt.Sprint(ep.BlockNumber), status})
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ui.ChainName(networkLabel(chainIDInt64(chainID)))+ui.Meta(fmt.Sprintf("  chain %s · %s", chainID, algo)))
		fmt.Fprintln(out, t.Render())
		return pickErr
	},
}

func chainIDInt64(id *big.Int) int64 {
	if !id.IsInt64() {
		return -1
	}
	return id.Int64()
}
