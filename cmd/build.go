package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sigtrail/matchchain/internal/bindiff"
	"github.com/sigtrail/matchchain/internal/chain"
	"github.com/sigtrail/matchchain/internal/report"
	"github.com/sigtrail/matchchain/internal/sigdef"
)

var reportPath string

func init() {
	buildCmd.Flags().StringVarP(&reportPath, "report", "r", "", "Write the chain report to this file instead of stdout")
	rootCmd.AddCommand(buildCmd)
}

var buildCmd = &cobra.Command{
	Use:   "build [signature.hcl]",
	Short: "Build a match chain table from a signature definition",
	Long: `build reads a signature definition, populates one table column per binary
from the listed diff results, terminates the chain, propagates identities
and emits a chain report.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defs, err := sigdef.Load(args[0])
		if err != nil {
			return err
		}

		for _, def := range defs.Signatures {
			start := time.Now()
			fmt.Printf("Building chain for %s (%d diff results)...\n",
				def.DetectionName, len(def.DiffResults))

			table, err := buildTable(&def)
			if err != nil {
				return fmt.Errorf("signature %q: %w", def.DetectionName, err)
			}
			fmt.Printf("Done in %v: %d full-chain functions, %d full-chain basic blocks.\n",
				time.Since(start),
				table.FullChainFunctionIDs().GetCardinality(),
				table.FullChainBasicBlockIDs().GetCardinality())

			r := report.Build(def.DetectionName, table)
			if err := writeReport(r, reportPath); err != nil {
				return err
			}
		}
		return nil
	},
}

// buildTable populates, terminates and propagates a table for one
// signature definition. The N-1 diff results are decoded concurrently,
// each goroutine privately owning its column; everything after population
// is sequential by design.
func buildTable(def *sigdef.Definition) (*chain.Table, error) {
	if len(def.DiffResults) == 0 {
		return nil, fmt.Errorf("no diff results to chain")
	}
	mode, err := def.FilterMode()
	if err != nil {
		return nil, err
	}
	filtered, err := def.FilteredAddresses()
	if err != nil {
		return nil, err
	}

	table := chain.NewTable()
	for i := 0; i <= len(def.DiffResults); i++ {
		col := table.AddColumn()
		col.SetFunctionFilter(mode)
		for _, addr := range filtered {
			col.AddFilteredFunction(addr)
		}
	}

	var g errgroup.Group
	for i, path := range def.DiffResults {
		path := path
		col := table.Column(i)
		g.Go(func() error {
			return populateColumn(col, path)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// The terminal column has no diff result of its own; its metadata
	// comes from the secondary side of the last diff.
	last := table.Column(table.Len() - 1)
	md, err := bindiff.ReadMetadata(def.DiffResults[len(def.DiffResults)-1])
	if err != nil {
		return nil, err
	}
	last.Filename = md.Filename2
	last.SHA256 = md.Hash2

	last.FinishChain(table.Column(table.Len() - 2))
	table.PropagateIDs()
	table.BuildIDIndices()
	return table, nil
}

// populateColumn decodes one diff result into one column. Basic blocks and
// instructions whose parent was rejected by the function filter are
// dropped with their chain.
func populateColumn(col *chain.Column, path string) error {
	md, err := bindiff.ReadMetadata(path)
	if err != nil {
		return err
	}
	col.Filename = md.Filename1
	col.SHA256 = md.Hash1
	col.DiffDirectory = filepath.Dir(path)

	return bindiff.ReadMatches(path, bindiff.Callbacks{
		FunctionMatch: func(a1, a2 uint64, similarity float64) error {
			_, err := col.InsertFunctionMatch(chain.MemoryAddressPair{
				Address:       chain.MemoryAddress(a1),
				AddressInNext: chain.MemoryAddress(a2),
			})
			return err
		},
		BasicBlockMatch: func(fa, a1, a2 uint64) error {
			fn := col.FindFunctionByAddress(chain.MemoryAddress(fa))
			if fn == nil {
				return nil
			}
			_, err := col.InsertBasicBlockMatch(fn, chain.MemoryAddressPair{
				Address:       chain.MemoryAddress(a1),
				AddressInNext: chain.MemoryAddress(a2),
			})
			return err
		},
		InstructionMatch: func(ba, a1, a2 uint64) error {
			bb := col.FindBasicBlockByAddress(chain.MemoryAddress(ba))
			if bb == nil {
				return nil
			}
			_, err := col.InsertInstructionMatch(bb, chain.MemoryAddressPair{
				Address:       chain.MemoryAddress(a1),
				AddressInNext: chain.MemoryAddress(a2),
			})
			return err
		},
	})
}

func writeReport(r *report.ChainReport, path string) error {
	if path == "" {
		return r.Write(os.Stdout, 2)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report %s: %w", path, err)
	}
	if err := r.Write(f, 2); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
