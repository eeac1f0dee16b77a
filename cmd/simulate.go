package cmd

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/Mohsinsiddi/w3permit/internal/eip712"
	"github.com/Mohsinsiddi/w3permit/internal/ledger"
	"github.com/Mohsinsiddi/w3permit/internal/permit"
	"github.com/Mohsinsiddi/w3permit/internal/ui"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

// Hardhat/Anvil accounts #0 and #1. Never fund on mainnet.
const (
	simOwnerKeyHex   = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	simSpenderKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	simTokenAddr     = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
)

var simRandomKeys bool

// simStep is one line of the simulation report.
type simStep struct {
	Name      string
	State     string
	Err       error
	Allowance *big.Int
	Nonce     *big.Int
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the permit lifecycle against an in-memory UniswapV2 ledger",
	Long: `Deploy an in-memory "Uniswap V2" token, mint 10000 tokens to the owner and
walk a permit through its lifecycle: a valid permit, a replay, a spend via
transferFrom, an expired permit, a permit signed by the wrong key and an
infinite approval.

The domain uses --chain-id (default 1) and --token (default the first Anvil
deployment address). No network access is needed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ownerKey, spenderKey, err := simulationKeys(simRandomKeys)
		if err != nil {
			return err
		}
		chainID := big.NewInt(1)
		if chainIDFlag > 0 {
			chainID = big.NewInt(chainIDFlag)
		}
		d, err := eip712.NewDomain(ledger.DefaultName, firstNonEmpty(versionFlag, eip712.DefaultVersion), chainID, firstNonEmpty(tokenFlag, simTokenAddr))
		if err != nil {
			return err
		}

		steps, err := runSimulation(cmd.Context(), d, ownerKey, spenderKey, time.Now())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ui.KeyValueBlock("Simulation", [][2]string{
			{"Owner", ui.Addr(crypto.PubkeyToAddress(ownerKey.PublicKey).Hex())},
			{"Spender", ui.Addr(crypto.PubkeyToAddress(spenderKey.PublicKey).Hex())},
			{"Chain ID", d.ChainID.String()},
			{"Token", ui.Addr(d.VerifyingContract.Hex())},
		}))

		t := ui.NewTable([]ui.Column{
			{Title: "#", Width: 3},
			{Title: "Step", Width: 30},
			{Title: "State", Width: 10},
			{Title: "Allowance", Width: 26, Right: true},
			{Title: "Nonce", Width: 6, Right: true},
			{Title: "Reason", Width: 22},
		})
		for i, s := range steps {
			reason := ""
			if s.Err != nil {
				reason = ui.Meta(rejectionReason(s.Err))
			}
			t.AddRow(ui.Row{fmt.Sprint(i + 1), s.Name, ui.State(s.State), abbreviate(s.Allowance), s.Nonce.String(), reason})
		}
		fmt.Fprintln(out, t.Render())
		return nil
	},
}

// runSimulation executes the lifecycle and records ledger state after each step.
func runSimulation(ctx context.Context, d eip712.Domain, ownerKey, spenderKey *ecdsa.PrivateKey, now time.Time) ([]simStep, error) {
	owner := crypto.PubkeyToAddress(ownerKey.PublicKey)
	spender := crypto.PubkeyToAddress(spenderKey.PublicKey)

	tok := ledger.NewToken(d.Name, ledger.DefaultSymbol, ledger.DefaultDecimals)
	if err := tok.Mint(ctx, owner, ledger.ExpandTo18Decimals(10000)); err != nil {
		return nil, err
	}
	v, err := permit.NewVerifier(d, tok, tok, permit.WithClock(func() time.Time { return now }), permit.WithLogger(log))
	if err != nil {
		return nil, err
	}

	var steps []simStep
	record := func(name, state string, stepErr error) error {
		a, err := tok.Allowance(ctx, owner, spender)
		if err != nil {
			return err
		}
		n, err := v.Nonce(ctx, owner)
		if err != nil {
			return err
		}
		steps = append(steps, simStep{Name: name, State: state, Err: stepErr, Allowance: a, Nonce: n})
		return nil
	}
	submit := func(name string, key *ecdsa.PrivateKey, p eip712.Permit) error {
		digest, err := v.Digest(p)
		if err != nil {
			return err
		}
		sig, err := permit.SignDigest(key, digest)
		if err != nil {
			return err
		}
		auth, perr := v.Permit(ctx, p, sig)
		return record(name, auth.State.String(), perr)
	}
	newPermit := func(value *big.Int, nonce int64, deadline int64) eip712.Permit {
		return eip712.Permit{Owner: owner, Spender: spender, Value: value, Nonce: big.NewInt(nonce), Deadline: big.NewInt(deadline)}
	}

	ten := ledger.ExpandTo18Decimals(10)
	valid := newPermit(ten, 0, now.Unix()+3600)
	if err := submit("permit 10 tokens", ownerKey, valid); err != nil {
		return nil, err
	}
	if err := submit("replay same permit", ownerKey, valid); err != nil {
		return nil, err
	}

	spendErr := tok.TransferFrom(ctx, spender, owner, spender, ten)
	state := "transfer"
	if spendErr != nil {
		state = permit.StateRejected.String()
	}
	if err := record("transferFrom 10 tokens", state, spendErr); err != nil {
		return nil, err
	}

	if err := submit("expired permit", ownerKey, newPermit(ten, 1, now.Unix()-1)); err != nil {
		return nil, err
	}
	if err := submit("signed by spender", spenderKey, newPermit(ten, 1, now.Unix()+3600)); err != nil {
		return nil, err
	}
	if err := submit("infinite approval", ownerKey, newPermit(new(big.Int).Set(math.MaxBig256), 1, now.Unix()+3600)); err != nil {
		return nil, err
	}

	spendErr = tok.TransferFrom(ctx, spender, owner, spender, ten)
	state = "transfer"
	if spendErr != nil {
		state = permit.StateRejected.String()
	}
	if err := record("transferFrom keeps max", state, spendErr); err != nil {
		return nil, err
	}
	return steps, nil
}

func simulationKeys(random bool) (*ecdsa.PrivateKey, *ecdsa.PrivateKey, error) {
	if random {
		o, err := crypto.GenerateKey()
		if err != nil {
			return nil, nil, err
		}
		s, err := crypto.GenerateKey()
		return o, s, err
	}
	o, err := crypto.HexToECDSA(simOwnerKeyHex)
	if err != nil {
		return nil, nil, err
	}
	s, err := crypto.HexToECDSA(simSpenderKeyHex)
	return o, s, err
}

// rejectionReason maps a verifier error to its short taxonomy name.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, permit.ErrExpired):
		return "expired"
	case errors.Is(err, permit.ErrInvalidSignature):
		return "invalid signature"
	case errors.Is(err, permit.ErrNonceMismatch):
		return "nonce mismatch"
	case errors.Is(err, permit.ErrArithmeticOverflow):
		return "overflow"
	case errors.Is(err, permit.ErrInputValidation):
		return "invalid input"
	case errors.Is(err, ledger.ErrInsufficientAllowance):
		return "insufficient allowance"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient balance"
	}
	return err.Error()
}

// abbreviate renders 2^256-1 as "max" and other values in decimal.
func abbreviate(v *big.Int) string {
	if v.Cmp(math.MaxBig256) == 0 {
		return "max (2^256-1)"
	}
	return v.String()
}

func init() {
	simulateCmd.Flags().BoolVar(&simRandomKeys, "random", false, "use freshly generated owner and spender keys")
	simulateCmd.Flags().StringVar(&tokenFlag, "token", "", "verifying contract (default: "+simTokenAddr+")")
	simulateCmd.Flags().StringVar(&versionFlag, "domain-version", "", "EIP-712 domain version")
}
