package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Mohsinsiddi/w3permit/internal/config"
	"github.com/Mohsinsiddi/w3permit/internal/ui"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage ~/.w3permit/config.json.

Every key can be overridden per invocation with a W3PERMIT_<KEY> environment
variable (for example W3PERMIT_CHAIN_ID=31337) or a .env file.`,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show current configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s\n\n", ui.StyleTitle.Render("Current Configuration"))
		fmt.Fprintln(out, string(data))
		fmt.Fprintln(out, ui.Meta("Config directory: "+cfg.Dir()))
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:       "get <key>",
	Short:     "Print one configuration value",
	Args:      cobra.ExactArgs(1),
	ValidArgs: config.Keys(),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := cfg.Get(args[0])
		if err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.Keys(), ", "))
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:       "set <key> <value>",
	Short:     "Persist a configuration value",
	Long:      "Persist a configuration value. Keys: " + strings.Join(config.Keys(), ", "),
	Args:      cobra.ExactArgs(2),
	ValidArgs: config.Keys(),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := validateConfigValue(key, value); err != nil {
			return err
		}
		if err := cfg.Set(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.Keys(), ", "))
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Success(fmt.Sprintf("%s set to %q", key, value)))
		return nil
	},
}

var configRPCCmd = &cobra.Command{
	Use:   "rpc",
	Short: "Manage custom RPC endpoints per network",
}

var configRPCAddCmd = &cobra.Command{
	Use:   "add <network> <url>",
	Short: "Add a custom RPC, tried before the built-in ones",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		network, url := args[0], args[1]
		if err := cfg.AddRPC(network, url); err != nil {
			// Duplicate URL, nothing to save.
			fmt.Fprintln(cmd.OutOrStdout(), ui.Warn(err.Error()))
			return nil
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Success(fmt.Sprintf("RPC %s added for %s", url, ui.ChainName(network))))
		return nil
	},
}

var configRPCRemoveCmd = &cobra.Command{
	Use:   "remove <network> <url>",
	Short: "Remove a custom RPC",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RemoveRPC(args[0], args[1]); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Success(fmt.Sprintf("RPC %s removed from %s", args[1], args[0])))
		return nil
	},
}

var configRPCListCmd = &cobra.Command{
	Use:   "list [network]",
	Short: "List custom RPCs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t := ui.NewTable([]ui.Column{
			{Title: "Network", Width: 16},
			{Title: "URL", Width: 56},
		})
		var rows int
		for network, urls := range cfg.CustomRPCs {
			if len(args) == 1 && args[0] != network {
				continue
			}
			for _, u := range urls {
				t.AddRow(ui.Row{ui.ChainName(network), u})
				rows++
			}
		}
		if rows == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), ui.Info("No custom RPCs configured."))
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), t.Render())
		return nil
	},
}

// validateConfigValue rejects values that would only fail later, at hashing time.
func validateConfigValue(key, value string) error {
	switch key {
	case "token_address":
		if value == "" {
			return nil
		}
		_, err := resolveToken(value)
		return err
	case "default_network":
		if value == "" {
			return nil
		}
		saved := networkFlag
		networkFlag = value
		defer func() { networkFlag = saved }()
		_, err := resolveNetwork()
		return err
	}
	return nil
}

func init() {
	configRPCCmd.AddCommand(configRPCAddCmd, configRPCRemoveCmd, configRPCListCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd, configRPCCmd)
}
