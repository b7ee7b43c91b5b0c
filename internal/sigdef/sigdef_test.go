package sigdef

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigtrail/matchchain/internal/chain"
)

const sampleDefinition = `
signature "win32_foo_family" {
  diff_results = [
    "diffs/a_vs_b.BinDiff",
    "diffs/b_vs_c.BinDiff",
  ]
  function_filter    = "whitelist"
  filtered_functions = ["0x401000", "0x40ababc", "4299210"]
  min_piece_length   = 16
}
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sampleDefinition), "test.hcl")
	require.NoError(t, err)
	require.Len(t, f.Signatures, 1)

	d := f.Signatures[0]
	assert.Equal(t, "win32_foo_family", d.DetectionName)
	assert.Equal(t, []string{"diffs/a_vs_b.BinDiff", "diffs/b_vs_c.BinDiff"}, d.DiffResults)
	assert.Equal(t, 16, d.MinPieceLength)

	mode, err := d.FilterMode()
	require.NoError(t, err)
	assert.Equal(t, chain.FilterWhitelist, mode)

	addrs, err := d.FilteredAddresses()
	require.NoError(t, err)
	assert.Equal(t, []chain.MemoryAddress{0x401000, 0x40ababc, 4299210}, addrs)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sig.hcl")
	require.NoError(t, os.WriteFile(path, []byte(sampleDefinition), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "win32_foo_family", f.Signatures[0].DetectionName)
}

func TestParse_DefaultFilterIsNone(t *testing.T) {
	f, err := Parse([]byte(`
signature "bare" {
  diff_results = ["a_vs_b.BinDiff"]
}
`), "test.hcl")
	require.NoError(t, err)

	mode, err := f.Signatures[0].FilterMode()
	require.NoError(t, err)
	assert.Equal(t, chain.FilterNone, mode)
}

func TestParse_UnknownFilterMode(t *testing.T) {
	_, err := Parse([]byte(`
signature "bad" {
  diff_results    = ["a_vs_b.BinDiff"]
  function_filter = "greylist"
}
`), "test.hcl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "greylist")
}

func TestParse_BadAddress(t *testing.T) {
	_, err := Parse([]byte(`
signature "bad" {
  diff_results       = ["a_vs_b.BinDiff"]
  filtered_functions = ["main"]
}
`), "test.hcl")
	require.Error(t, err)
}

func TestParse_EmptyDiffResults(t *testing.T) {
	_, err := Parse([]byte(`
signature "empty" {
  diff_results = []
}
`), "test.hcl")
	require.Error(t, err)
}
