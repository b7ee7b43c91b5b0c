package report

import (
	"bytes"
	"testing"

	"github.com/ohler55/ojg/oj"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigtrail/matchchain/internal/chain"
)

func buildSmallTable(t *testing.T) *chain.Table {
	t.Helper()
	table := chain.NewTable()
	col0 := table.AddColumn()
	col0.Filename = "sample_a"
	col0.SHA256 = "aaaa"
	col1 := table.AddColumn()
	col1.Filename = "sample_b"

	_, err := col0.InsertFunctionMatch(chain.MemoryAddressPair{Address: 0x100, AddressInNext: 0x1100})
	require.NoError(t, err)
	_, err = col0.InsertFunctionMatch(chain.MemoryAddressPair{Address: 0x200, AddressInNext: 0x1200})
	require.NoError(t, err)
	_, err = col1.InsertFunctionMatch(chain.MemoryAddressPair{Address: 0x1100})
	require.NoError(t, err)

	table.PropagateIDs()
	table.BuildIDIndices()
	return table
}

func TestBuild(t *testing.T) {
	r := Build("win32_foo_family", buildSmallTable(t))

	assert.Equal(t, "win32_foo_family", r.DetectionName)
	require.Len(t, r.Columns, 2)
	assert.Equal(t, "sample_a", r.Columns[0].Filename)
	assert.Equal(t, 2, r.Columns[0].Functions)
	assert.Equal(t, 2, r.Columns[0].ChainedFunctions)
	assert.Equal(t, 1, r.Columns[1].Functions)
	assert.Equal(t, 1, r.Columns[1].ChainedFunctions)
	assert.Equal(t, []uint64{0}, r.FullChainFunctionIDs)
	assert.Equal(t, 1, r.FullChainFunctions)
}

func TestWriteRoundTrip(t *testing.T) {
	r := Build("win32_foo_family", buildSmallTable(t))

	var buf bytes.Buffer
	require.NoError(t, r.Write(&buf, 2))

	parsed, err := oj.ParseString(buf.String())
	require.NoError(t, err)
	doc, ok := parsed.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "win32_foo_family", doc["detection_name"])
	cols, ok := doc["columns"].([]any)
	require.True(t, ok)
	assert.Len(t, cols, 2)
}

func TestBuild_EmptyTable(t *testing.T) {
	r := Build("", chain.NewTable())
	assert.Empty(t, r.Columns)
	assert.Equal(t, []uint64{}, r.FullChainFunctionIDs)
	assert.Equal(t, 0, r.FullChainFunctions)
}
