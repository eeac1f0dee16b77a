package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/Mohsinsiddi/w3permit/internal/config"
	"github.com/Mohsinsiddi/w3permit/internal/logger"
	"github.com/spf13/cobra"
)

// Version is the current release. Overridable via build ldflags:
//
//	go build -ldflags "-X github.com/Mohsinsiddi/w3permit/cmd.Version=1.2.3" .
var Version = "0.1.0"

var (
	cfgDir      string
	cfg         *config.Config
	log         = logger.Discard()
	verbose     bool
	chainIDFlag int64
	rpcFlag     string
	networkFlag string
	rpcAlgoFlag string
)

// rootCmd is the top-level command.
var rootCmd = &cobra.Command{
	Use:   "w3permit",
	Short: "EIP-2612 permit toolkit",
	Long: `w3permit builds, signs, verifies and submits EIP-2612 permits for
UniswapV2-style tokens.

  Compute the EIP-712 domain separator and permit digest, sign permits with a
  keychain-backed wallet, run them through a local verifier with atomic
  per-owner nonces, and submit permit() to a deployed token.

The chain id is always explicit: --chain-id, then config chain_id, then the
selected --network, then eth_chainId from the RPC.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load config (skip for commands that don't need it).
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgDir)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		format, err := logger.ParseFormat(cfg.LogFormat)
		if err != nil {
			return err
		}
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		log = logger.New(
			logger.WithFormat(format),
			logger.WithLevel(level),
			logger.WithAttr(slog.String("cmd", cmd.CommandPath())),
		)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errLine(err))
		os.Exit(1)
	}
}

func init() {
	// W3PERMIT_CONFIG_DIR env var overrides --config flag.
	if envDir := os.Getenv(config.EnvPrefix + "CONFIG_DIR"); envDir != "" {
		cfgDir = envDir
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgDir, "config", cfgDir, "config directory (default: ~/.w3permit)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")
	pf.Int64Var(&chainIDFlag, "chain-id", 0, "chain id bound into the domain separator")
	pf.StringVar(&rpcFlag, "rpc", "", "RPC URL (skips endpoint selection)")
	pf.StringVarP(&networkFlag, "network", "n", "", "network from the built-in registry (see `w3permit network list`)")
	pf.StringVar(&rpcAlgoFlag, "rpc-algo", "fastest", "RPC selection when several endpoints exist: fastest|failover")

	rootCmd.AddCommand(
		domainCmd,
		digestCmd,
		signCmd,
		verifyCmd,
		submitCmd,
		tokenCmd,
		simulateCmd,
		walletCmd,
		configCmd,
		networkCmd,
		rpcCmd,
		keccakCmd,
	)
}
