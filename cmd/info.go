package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigtrail/matchchain/internal/bindiff"
)

func init() {
	rootCmd.AddCommand(infoCmd)
}

var infoCmd = &cobra.Command{
	Use:   "info [result.BinDiff]",
	Short: "Print metadata and match counts for one diff result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		md, err := bindiff.ReadMetadata(path)
		if err != nil {
			return err
		}

		var functions, basicBlocks, instructions int
		err = bindiff.ReadMatches(path, bindiff.Callbacks{
			FunctionMatch: func(a1, a2 uint64, similarity float64) error {
				functions++
				return nil
			},
			BasicBlockMatch: func(fa, a1, a2 uint64) error {
				basicBlocks++
				return nil
			},
			InstructionMatch: func(ba, a1, a2 uint64) error {
				instructions++
				return nil
			},
		})
		if err != nil {
			return err
		}

		fmt.Printf("primary:      %s (%s)\n", md.Filename1, md.Hash1)
		fmt.Printf("secondary:    %s (%s)\n", md.Filename2, md.Hash2)
		fmt.Printf("similarity:   %.4f (confidence %.4f)\n", md.Similarity, md.Confidence)
		fmt.Printf("functions:    %d\n", functions)
		fmt.Printf("basic blocks: %d\n", basicBlocks)
		fmt.Printf("instructions: %d\n", instructions)
		return nil
	},
}
