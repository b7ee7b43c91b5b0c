// Package sigdef loads signature definitions: the operator-facing
// configuration naming the ordered diff results of a chain and the
// function filter applied while the match chain table is populated.
package sigdef

import (
	"fmt"
	"strconv"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/sigtrail/matchchain/internal/chain"
)

// Definition is one signature block. DiffResults lists the N-1 pairwise
// results in chain order (oldest binary first).
type Definition struct {
	DetectionName     string   `hcl:"detection_name,label"`
	DiffResults       []string `hcl:"diff_results"`
	FunctionFilter    string   `hcl:"function_filter,optional"`
	FilteredFunctions []string `hcl:"filtered_functions,optional"`
	MinPieceLength    int      `hcl:"min_piece_length,optional"`
}

// File is a parsed signature definition file.
type File struct {
	Signatures []Definition `hcl:"signature,block"`
}

// Load reads and decodes a signature definition file.
func Load(path string) (*File, error) {
	var f File
	if err := hclsimple.DecodeFile(path, nil, &f); err != nil {
		return nil, fmt.Errorf("load signature definition %s: %w", path, err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("signature definition %s: %w", path, err)
	}
	return &f, nil
}

// Parse decodes signature definition source. The filename is used for
// diagnostics and format detection and must end in .hcl or .json.
func Parse(src []byte, filename string) (*File, error) {
	var f File
	if err := hclsimple.Decode(filename, src, nil, &f); err != nil {
		return nil, fmt.Errorf("parse signature definition %s: %w", filename, err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("signature definition %s: %w", filename, err)
	}
	return &f, nil
}

func (f *File) validate() error {
	if len(f.Signatures) == 0 {
		return fmt.Errorf("no signature blocks")
	}
	for _, d := range f.Signatures {
		if len(d.DiffResults) == 0 {
			return fmt.Errorf("signature %q: diff_results must name at least one result", d.DetectionName)
		}
		if _, err := d.FilterMode(); err != nil {
			return fmt.Errorf("signature %q: %w", d.DetectionName, err)
		}
		if _, err := d.FilteredAddresses(); err != nil {
			return fmt.Errorf("signature %q: %w", d.DetectionName, err)
		}
	}
	return nil
}

// FilterMode maps the function_filter attribute onto a chain filter mode.
// An empty attribute means no filtering.
func (d *Definition) FilterMode() (chain.FilterMode, error) {
	switch d.FunctionFilter {
	case "", "none":
		return chain.FilterNone, nil
	case "blacklist":
		return chain.FilterBlacklist, nil
	case "whitelist":
		return chain.FilterWhitelist, nil
	default:
		return chain.FilterNone, fmt.Errorf("unknown function_filter %q", d.FunctionFilter)
	}
}

// FilteredAddresses parses the filtered_functions attribute. Addresses are
// written as strings so definitions can use hex notation.
func (d *Definition) FilteredAddresses() ([]chain.MemoryAddress, error) {
	addrs := make([]chain.MemoryAddress, 0, len(d.FilteredFunctions))
	for _, s := range d.FilteredFunctions {
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("filtered_functions entry %q: %w", s, err)
		}
		addrs = append(addrs, chain.MemoryAddress(v))
	}
	return addrs, nil
}
