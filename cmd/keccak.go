package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Mohsinsiddi/w3permit/internal/eip712"
	"github.com/Mohsinsiddi/w3permit/internal/ui"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/sha3"
)

var keccakCmd = &cobra.Command{
	Use:   "keccak <input>",
	Short: "Compute Keccak-256 of text or hex input",
	Long: `Compute the Keccak-256 hash of the given input.

Input starting with 0x is hashed as raw bytes, anything else as UTF-8 text.
When the text is a type string the matching typehash constant is named.

Examples:
  w3permit keccak "permit(address,address,uint256,uint256,uint8,bytes32,bytes32)"
  w3permit keccak "Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"
  w3permit keccak 0xdeadbeef`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := args[0]
		data, kind, err := keccakInput(input)
		if err != nil {
			return err
		}
		hash := keccak256(data)

		pairs := [][2]string{
			{"Input", input},
			{"Type", kind},
			{"Keccak-256", ui.Val("0x" + hex.EncodeToString(hash))},
			{"Selector (4 bytes)", "0x" + hex.EncodeToString(hash[:4])},
		}
		if name := knownTypeHash(hash); name != "" {
			pairs = append(pairs, [2]string{"Matches", ui.Success(name)})
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.KeyValueBlock("Keccak-256 Hash", pairs))
		return nil
	},
}

// keccakInput decodes 0x-prefixed input as hex and returns everything else verbatim.
func keccakInput(input string) ([]byte, string, error) {
	if !strings.HasPrefix(input, "0x") && !strings.HasPrefix(input, "0X") {
		return []byte(input), "text", nil
	}
	raw, err := hex.DecodeString(input[2:])
	if err != nil {
		return nil, "", fmt.Errorf("invalid hex input: %w", err)
	}
	return raw, "hex", nil
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

func knownTypeHash(hash []byte) string {
	switch {
	case string(hash) == string(eip712.PermitTypeHash[:]):
		return "PERMIT_TYPEHASH"
	case string(hash) == string(eip712.DomainTypeHash[:]):
		return "EIP712Domain typehash"
	}
	return ""
}
