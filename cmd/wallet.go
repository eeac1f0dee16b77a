package cmd

import (
	"errors"
	"fmt"

	"github.com/Mohsinsiddi/w3permit/internal/ui"
	"github.com/Mohsinsiddi/w3permit/internal/wallet"
	"github.com/spf13/cobra"
)

var (
	walletKeyFlag   string
	walletUnlockAll bool
	walletYes       bool
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage permit owners and transaction submitters",
}

var walletAddCmd = &cobra.Command{
	Use:   "add <name> [address]",
	Short: "Add a wallet (watch-only, or signing with --key)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		mgr := newWalletManager()
		out := cmd.OutOrStdout()

		if walletKeyFlag != "" {
			if err := mgr.AddWithKey(name, walletKeyFlag); err != nil {
				return err
			}
			w, _ := mgr.Get(name)
			fmt.Fprintln(out, ui.Success(fmt.Sprintf("Signing wallet %q added: %s", name, ui.Addr(w.Address))))
		} else {
			if len(args) < 2 {
				return fmt.Errorf("address required for watch-only wallet\n  Usage: w3permit wallet add <name> <address>\n  Or for signing: w3permit wallet add <name> --key <private-key>")
			}
			if err := mgr.Add(name, &wallet.Wallet{Name: name, Address: args[1], Type: wallet.TypeWatchOnly}); err != nil {
				return err
			}
			fmt.Fprintln(out, ui.Success(fmt.Sprintf("Watch-only wallet %q added: %s", name, ui.Addr(args[1]))))
		}
		fmt.Fprintln(out, ui.Hint(fmt.Sprintf("Set as default with: w3permit wallet use %s", name)))
		return nil
	},
}

var walletListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all wallets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		wallets := newWalletManager().List()
		if len(wallets) == 0 {
			fmt.Fprintln(out, ui.Info("No wallets configured yet."))
			fmt.Fprintln(out, ui.Hint("Add one with: w3permit wallet generate owner"))
			return nil
		}

		t := ui.NewTable([]ui.Column{
			{Title: "Name", Width: 16},
			{Title: "Address", Width: 44},
			{Title: "Type", Width: 12},
			{Title: "Default", Width: 8},
		})
		for _, w := range wallets {
			def := ""
			if w.IsDefault {
				def = ui.StyleSuccess.Render("✓")
			}
			t.AddRow(ui.Row{ui.Val(w.Name), ui.Addr(w.Address), ui.Meta(walletTypeLabel(w.Type)), def})
		}
		fmt.Fprintln(out, t.Render())
		fmt.Fprintln(out, ui.Meta(fmt.Sprintf("%d wallet(s) configured", len(wallets))))
		return nil
	},
}

var walletRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a wallet and its stored key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		out := cmd.OutOrStdout()
		if !walletYes && !ui.ConfirmDanger(cmd.InOrStdin(), out, fmt.Sprintf("Remove wallet %q?", name)) {
			fmt.Fprintln(out, ui.Meta("Cancelled."))
			return nil
		}
		if err := newWalletManager().Remove(name); err != nil {
			return err
		}
		if cfg.DefaultWallet == name {
			if err := cfg.Set("default_wallet", ""); err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}
		}
		fmt.Fprintln(out, ui.Success(fmt.Sprintf("Wallet %q removed.", name)))
		return nil
	},
}

var walletUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Set the default wallet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if err := newWalletManager().SetDefault(name); err != nil {
			return err
		}
		if err := cfg.Set("default_wallet", name); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Success(fmt.Sprintf("Default wallet set to %q.", name)))
		return nil
	},
}

var walletGenerateCmd = &cobra.Command{
	Use:   "generate <name>",
	Short: "Generate a new signing wallet",
	Long: `Generate a secp256k1 keypair and store the private key in the OS keychain.

The private key is displayed ONCE immediately after creation.
Re-export later with: w3permit wallet export <name>`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		w, hexKey, err := newWalletManager().Generate(name)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  %s  %s\n", ui.Meta("Wallet :"), ui.Val(w.Name))
		fmt.Fprintf(out, "  %s  %s\n\n", ui.Meta("Address:"), ui.Addr(w.Address))
		fmt.Fprintln(out, ui.DangerBox(
			ui.Warn("SAVE YOUR PRIVATE KEY. It is shown only once.")+"\n\n"+
				ui.Val(hexKey)+"\n\n"+
				ui.Hint("Store it in a password manager."),
		))
		fmt.Fprintln(out, ui.Hint("  Re-export anytime: w3permit wallet export "+name))
		return nil
	},
}

var walletExportCmd = &cobra.Command{
	Use:   "export <name>",
	Short: "Re-export the private key of a signing wallet",
	Long: `Retrieve and display the stored private key for a signing wallet.

You must type the wallet name exactly to confirm before the key is shown.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, ui.Warn("You are about to reveal a private key. Keep it secret."))
		if ui.PromptInput(cmd.InOrStdin(), out, fmt.Sprintf("Type wallet name %q to confirm", name)) != name {
			fmt.Fprintln(out, ui.Err("Name mismatch, export cancelled."))
			return nil
		}

		hexKey, err := newWalletManager().ExportKey(name)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, ui.DangerBox(ui.Warn("PRIVATE KEY. Do not share it.")+"\n\n"+ui.Val(hexKey)))
		return nil
	},
}

var walletUnlockCmd = &cobra.Command{
	Use:   "unlock [name]",
	Short: "Cache wallet key(s) for the session (skips future keychain prompts)",
	Long: `Retrieve private keys from the OS keychain once and cache them in a
restricted session file so later sign and submit commands run without prompts.

  w3permit wallet unlock          # pick a wallet from a list
  w3permit wallet unlock alice    # unlock one wallet
  w3permit wallet unlock --all    # unlock every signing wallet`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		mgr := newWalletManager()
		ks := mgr.Keystore()
		session := wallet.DefaultSession()

		var signing []*wallet.Wallet
		for _, w := range mgr.List() {
			if w.Type == wallet.TypeSigning {
				signing = append(signing, w)
			}
		}
		if len(signing) == 0 {
			fmt.Fprintln(out, ui.Info("No signing wallets found."))
			fmt.Fprintln(out, ui.Hint("Add one with: w3permit wallet add <name> --key <private-key>"))
			return nil
		}

		var targets []*wallet.Wallet
		switch {
		case walletUnlockAll:
			targets = signing
		case len(args) > 0:
			w, err := mgr.Get(args[0])
			if err != nil {
				return err
			}
			targets = []*wallet.Wallet{w}
		default:
			w, err := pickWallet("Unlock Wallet  ·  select to cache key", signing, session)
			if err != nil {
				return err
			}
			if w == nil {
				fmt.Fprintln(out, ui.Meta("Cancelled."))
				return nil
			}
			targets = []*wallet.Wallet{w}
		}

		cached := session.Snapshot()
		fresh := make(map[string]string)
		var skipped int
		for _, w := range targets {
			if _, ok := cached[w.KeyRef]; ok {
				fmt.Fprintln(out, ui.Meta(fmt.Sprintf("  %-20s already cached", w.Name)))
				skipped++
				continue
			}
			hexKey, err := ks.Retrieve(w.KeyRef)
			if err != nil {
				fmt.Fprintln(out, ui.Err(fmt.Sprintf("  %-20s %v", w.Name, err)))
				continue
			}
			fresh[w.KeyRef] = hexKey
			fmt.Fprintln(out, ui.Success(fmt.Sprintf("  %-20s unlocked", w.Name)))
		}
		if err := session.PutAll(fresh); err != nil {
			return fmt.Errorf("writing session: %w", err)
		}

		if len(fresh) > 0 {
			fmt.Fprintln(out, ui.Success(fmt.Sprintf("%d wallet(s) cached until 'w3permit wallet lock'.", len(fresh))))
		}
		if skipped > 0 {
			fmt.Fprintln(out, ui.Meta(fmt.Sprintf("  %d already cached, skipped.", skipped)))
		}
		return nil
	},
}

var walletLockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Clear the session cache (re-enables keychain prompts)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		session := wallet.DefaultSession()
		if !session.Active() {
			fmt.Fprintln(out, ui.Meta("No active session, nothing to clear."))
			return nil
		}
		if err := session.Clear(); err != nil {
			return fmt.Errorf("clearing session: %w", err)
		}
		fmt.Fprintln(out, ui.Success("Session cleared. Keychain will be used on next access."))
		return nil
	},
}

func init() {
	walletAddCmd.Flags().StringVar(&walletKeyFlag, "key", "", "private key for a signing wallet (stored in OS keychain)")
	walletRemoveCmd.Flags().BoolVarP(&walletYes, "yes", "y", false, "skip confirmation")
	walletUnlockCmd.Flags().BoolVar(&walletUnlockAll, "all", false, "unlock all signing wallets")
	walletCmd.AddCommand(walletAddCmd, walletListCmd, walletRemoveCmd, walletUseCmd,
		walletGenerateCmd, walletExportCmd, walletUnlockCmd, walletLockCmd)
}

// walletTypeLabel converts an internal wallet type to a user-friendly label.
func walletTypeLabel(t string) string {
	if t == wallet.TypeSigning {
		return "signing"
	}
	return t
}

// newWalletManager creates a Manager backed by the config-dir JSON store.
func newWalletManager() *wallet.Manager {
	return wallet.NewManager(wallet.WithStore(wallet.NewJSONStore(cfg.WalletsPath())))
}

// loadSigningWallet resolves name (or the default wallet, or an interactive
// pick among signing wallets) and checks it can sign.
func loadSigningWallet(name string) (*wallet.Wallet, *wallet.Manager, error) {
	mgr := newWalletManager()
	if name == "" {
		name = cfg.DefaultWallet
	}

	var (
		w   *wallet.Wallet
		err error
	)
	switch {
	case name != "":
		w, err = mgr.Get(name)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: run `w3permit wallet list` or set a default with `w3permit wallet use <name>`", err)
		}
	case mgr.Default() != nil:
		w = mgr.Default()
	default:
		var signing []*wallet.Wallet
		for _, c := range mgr.List() {
			if c.Type == wallet.TypeSigning {
				signing = append(signing, c)
			}
		}
		switch len(signing) {
		case 0:
			return nil, nil, errors.New("no signing wallet: run `w3permit wallet generate <name>`")
		case 1:
			w = signing[0]
		default:
			if w, err = pickWallet("Select signing wallet", signing, wallet.DefaultSession()); err != nil {
				return nil, nil, err
			}
			if w == nil {
				return nil, nil, errors.New("no wallet selected")
			}
		}
	}

	if w.Type != wallet.TypeSigning {
		return nil, nil, fmt.Errorf("%w: wallet %q\n  To add a signing wallet: w3permit wallet add <name> --key <private-key>", wallet.ErrWatchOnly, w.Name)
	}
	return w, mgr, nil
}

// pickWallet shows the bubbletea picker. A nil wallet means the user cancelled.
func pickWallet(title string, wallets []*wallet.Wallet, session *wallet.Session) (*wallet.Wallet, error) {
	items := make([]ui.PickerItem, len(wallets))
	for i, w := range wallets {
		sub := ui.TruncateAddr(w.Address)
		if _, ok := session.Get(w.KeyRef); ok {
			sub += "  " + ui.Meta("[cached]")
		}
		items[i] = ui.PickerItem{Label: w.Name, SubLabel: sub, Value: w.Name}
	}
	picked, err := ui.PickItem(title, items)
	if err != nil || picked == "" {
		return nil, err
	}
	for _, w := range wallets {
		if w.Name == picked {
			return w, nil
		}
	}
	return nil, nil
}

// warnIfNoSession prints a hint when signing may trigger a keychain prompt.
func warnIfNoSession(cmd *cobra.Command) {
	if !wallet.DefaultSession().Active() {
		fmt.Fprintln(cmd.ErrOrStderr(), ui.Info("No session active, the keychain may prompt. Run 'w3permit wallet unlock --all' to cache keys."))
	}
}
