// Package report summarizes a propagated match chain table as a JSON
// document for operators and the downstream signature stage. The report is
// derived output; the table itself is never persisted.
package report

import (
	"fmt"
	"io"

	"github.com/ohler55/ojg/oj"

	"github.com/sigtrail/matchchain/internal/chain"
)

// ColumnStats describes one column of the table.
type ColumnStats struct {
	Filename           string `json:"filename,omitempty"`
	SHA256             string `json:"sha256,omitempty"`
	Functions          int    `json:"functions"`
	BasicBlocks        int    `json:"basic_blocks"`
	Instructions       int    `json:"instructions"`
	ChainedFunctions   int    `json:"chained_functions"`
	ChainedBasicBlocks int    `json:"chained_basic_blocks"`
}

// ChainReport is the full report for one chain.
type ChainReport struct {
	DetectionName        string        `json:"detection_name,omitempty"`
	Columns              []ColumnStats `json:"columns"`
	FullChainFunctionIDs []uint64      `json:"full_chain_function_ids"`
	FullChainFunctions   int           `json:"full_chain_functions"`
	FullChainBasicBlocks int           `json:"full_chain_basic_blocks"`
}

// Build derives a report from a propagated table.
func Build(detectionName string, t *chain.Table) *ChainReport {
	r := &ChainReport{DetectionName: detectionName}
	for _, col := range t.Columns() {
		r.Columns = append(r.Columns, ColumnStats{
			Filename:           col.Filename,
			SHA256:             col.SHA256,
			Functions:          col.FunctionCount(),
			BasicBlocks:        col.BasicBlockCount(),
			Instructions:       col.InstructionCount(),
			ChainedFunctions:   int(col.FunctionIDCoverage().GetCardinality()),
			ChainedBasicBlocks: int(col.BasicBlockIDCoverage().GetCardinality()),
		})
	}
	fnIDs := t.FullChainFunctionIDs()
	r.FullChainFunctionIDs = fnIDs.ToArray()
	if r.FullChainFunctionIDs == nil {
		r.FullChainFunctionIDs = []uint64{}
	}
	r.FullChainFunctions = int(fnIDs.GetCardinality())
	r.FullChainBasicBlocks = int(t.FullChainBasicBlockIDs().GetCardinality())
	return r
}

// JSON renders the report with the given indent.
func (r *ChainReport) JSON(indent int) ([]byte, error) {
	out, err := oj.Marshal(r, indent)
	if err != nil {
		return nil, fmt.Errorf("marshal chain report: %w", err)
	}
	return out, nil
}

// Write renders the report to w.
func (r *ChainReport) Write(w io.Writer, indent int) error {
	out, err := r.JSON(indent)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(out, '\n')); err != nil {
		return fmt.Errorf("write chain report: %w", err)
	}
	return nil
}
