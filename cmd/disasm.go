package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sigtrail/matchchain/internal/insn"
)

var disasmMode int

func init() {
	disasmCmd.Flags().IntVarP(&disasmMode, "mode", "m", 32, "Processor mode in bits (16, 32 or 64)")
	rootCmd.AddCommand(disasmCmd)
}

var disasmCmd = &cobra.Command{
	Use:   "disasm [hexbytes]",
	Short: "Decode instruction bytes the way chain annotation does",
	Long: `disasm decodes a hex byte string instruction by instruction and prints
the disassembly and immediate operands that would be attached to matched
instructions. Useful for checking what the annotation step sees.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := hex.DecodeString(strings.ReplaceAll(args[0], " ", ""))
		if err != nil {
			return fmt.Errorf("decode hex input: %w", err)
		}

		for len(raw) > 0 {
			a, err := insn.Decode(raw, disasmMode)
			if err != nil {
				return err
			}
			if len(a.Immediates) > 0 {
				fmt.Printf("%-40s ; imm %v\n", a.Disassembly, a.Immediates)
			} else {
				fmt.Println(a.Disassembly)
			}
			raw = raw[a.Len:]
		}
		return nil
	},
}
