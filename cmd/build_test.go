package cmd

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/sigtrail/matchchain/internal/chain"
	"github.com/sigtrail/matchchain/internal/sigdef"
)

// diffFixture captures one pairwise diff for test database generation.
type diffFixture struct {
	file1, hash1 string
	file2, hash2 string
	// functions maps address1 -> address2; blocks and instructions hang
	// off them at fixed offsets.
	functions map[uint64]uint64
}

func writeDiffFixture(t *testing.T, path string, fx diffFixture) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()

	_, err = db.Exec(`
		CREATE TABLE file (id INTEGER PRIMARY KEY, filename TEXT, hash TEXT);
		CREATE TABLE metadata (similarity REAL, confidence REAL);
		CREATE TABLE function (
			id INTEGER PRIMARY KEY, address1 INTEGER, address2 INTEGER, similarity REAL
		);
		CREATE TABLE basicblock (
			id INTEGER PRIMARY KEY, functionid INTEGER, address1 INTEGER, address2 INTEGER
		);
		CREATE TABLE instruction (basicblockid INTEGER, address1 INTEGER, address2 INTEGER);
		INSERT INTO metadata VALUES (0.9, 0.9);
	`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO file VALUES (1, ?, ?), (2, ?, ?)`,
		fx.file1, fx.hash1, fx.file2, fx.hash2)
	require.NoError(t, err)

	id := 1
	for a1, a2 := range fx.functions {
		_, err = db.Exec(`INSERT INTO function VALUES (?, ?, ?, 1.0)`, id, int64(a1), int64(a2))
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO basicblock VALUES (?, ?, ?, ?)`, id, id, int64(a1+0x10), int64(a2+0x10))
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO instruction VALUES (?, ?, ?)`, id, int64(a1+0x12), int64(a2+0x12))
		require.NoError(t, err)
		id++
	}
}

func TestBuildTable_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	diffAB := filepath.Join(dir, "a_vs_b.BinDiff")
	diffBC := filepath.Join(dir, "b_vs_c.BinDiff")

	// Three binaries: both functions survive a->b, only one survives b->c.
	writeDiffFixture(t, diffAB, diffFixture{
		file1: "sample_a", hash1: "aaaa",
		file2: "sample_b", hash2: "bbbb",
		functions: map[uint64]uint64{
			0x1000: 0x2000,
			0x1100: 0x2100,
		},
	})
	writeDiffFixture(t, diffBC, diffFixture{
		file1: "sample_b", hash1: "bbbb",
		file2: "sample_c", hash2: "cccc",
		functions: map[uint64]uint64{
			0x2000: 0x3000,
		},
	})

	def := &sigdef.Definition{
		DetectionName: "test_family",
		DiffResults:   []string{diffAB, diffBC},
	}

	table, err := buildTable(def)
	require.NoError(t, err)
	require.Equal(t, 3, table.Len())

	// Column metadata from the diff files.
	assert.Equal(t, "sample_a", table.Column(0).Filename)
	assert.Equal(t, "sample_b", table.Column(1).Filename)
	assert.Equal(t, "sample_c", table.Column(2).Filename)
	assert.Equal(t, "cccc", table.Column(2).SHA256)

	// The terminal column was created by chain termination.
	require.NotNil(t, table.Column(2).FindFunctionByAddress(0x3000))

	// One chain survives all three binaries.
	full := table.FullChainFunctionIDs()
	assert.Equal(t, uint64(1), full.GetCardinality())

	// The surviving chain is followable by id in every column.
	id := chain.Ident(full.ToArray()[0])
	assert.Equal(t, uint64(0x1000), uint64(table.Column(0).FindFunctionByID(0).Match.Address))
	for i := 0; i < 3; i++ {
		require.NotNil(t, table.Column(i).FindFunctionByID(id), "column %d", i)
	}

	// Basic blocks and instructions chained through as well.
	require.NotNil(t, table.Column(2).FindBasicBlockByAddress(0x3010))
	require.NotNil(t, table.Column(2).FindInstructionByAddress(0x3012))
}

func TestBuildTable_WhitelistDropsChains(t *testing.T) {
	dir := t.TempDir()
	diffAB := filepath.Join(dir, "a_vs_b.BinDiff")
	writeDiffFixture(t, diffAB, diffFixture{
		file1: "sample_a", hash1: "aaaa",
		file2: "sample_b", hash2: "bbbb",
		functions: map[uint64]uint64{
			0x1000: 0x2000,
			0x1100: 0x2100,
		},
	})

	def := &sigdef.Definition{
		DetectionName:     "test_family",
		DiffResults:       []string{diffAB},
		FunctionFilter:    "whitelist",
		FilteredFunctions: []string{fmt.Sprintf("%#x", 0x1000)},
	}

	table, err := buildTable(def)
	require.NoError(t, err)

	// Only the whitelisted function exists in column 0; its blocks and
	// instructions came through, the other function's did not.
	assert.Equal(t, 1, table.Column(0).FunctionCount())
	assert.Equal(t, 1, table.Column(0).BasicBlockCount())
	assert.Equal(t, 1, table.Column(0).InstructionCount())
	assert.Equal(t, uint64(1), table.FullChainFunctionIDs().GetCardinality())
}

func TestBuildTable_MissingDiffResult(t *testing.T) {
	def := &sigdef.Definition{
		DetectionName: "broken",
		DiffResults:   []string{filepath.Join(t.TempDir(), "missing.BinDiff")},
	}
	_, err := buildTable(def)
	require.Error(t, err)
}
