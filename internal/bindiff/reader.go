// Package bindiff reads BinDiff result files. A result file is a SQLite
// database holding the matches of one pairwise diff: one row per matched
// function, basic block and instruction, each carrying the address on both
// sides of the diff.
package bindiff

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Metadata describes one diff result: the two binaries it compares and the
// whole-binary similarity BinDiff computed for them.
type Metadata struct {
	Filename1  string
	Filename2  string
	Hash1      string
	Hash2      string
	Similarity float64
	Confidence float64
}

// Callbacks receives matches while a result file is read. Callbacks run in
// ascending primary (side-1) address order per granularity. A nil callback
// skips that granularity entirely; returning an error aborts the read.
type Callbacks struct {
	// FunctionMatch is called once per matched function.
	FunctionMatch func(address1, address2 uint64, similarity float64) error
	// BasicBlockMatch is called once per matched basic block, with the
	// side-1 address of the function owning it.
	BasicBlockMatch func(functionAddress1, address1, address2 uint64) error
	// InstructionMatch is called once per matched instruction, with the
	// side-1 address of the basic block owning it.
	InstructionMatch func(basicBlockAddress1, address1, address2 uint64) error
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open diff result %s: %w", path, err)
	}
	return db, nil
}

// ReadMetadata reads the file and metadata tables of a result file.
func ReadMetadata(path string) (*Metadata, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	md := &Metadata{}
	err = db.QueryRow(`
		SELECT f1.filename, f1.hash, f2.filename, f2.hash, m.similarity, m.confidence
		FROM metadata m, file f1, file f2
		WHERE f1.id = 1 AND f2.id = 2`,
	).Scan(&md.Filename1, &md.Hash1, &md.Filename2, &md.Hash2, &md.Similarity, &md.Confidence)
	if err != nil {
		return nil, fmt.Errorf("read metadata from %s: %w", path, err)
	}
	return md, nil
}

// ReadMatches streams every match in the result file through cb.
// Granularities are delivered functions first, then basic blocks, then
// instructions, so a consumer can build its entity tree top-down.
func ReadMatches(path string, cb Callbacks) error {
	db, err := open(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if cb.FunctionMatch != nil {
		if err := readFunctions(db, cb.FunctionMatch); err != nil {
			return fmt.Errorf("read function matches from %s: %w", path, err)
		}
	}
	if cb.BasicBlockMatch != nil {
		if err := readBasicBlocks(db, cb.BasicBlockMatch); err != nil {
			return fmt.Errorf("read basic block matches from %s: %w", path, err)
		}
	}
	if cb.InstructionMatch != nil {
		if err := readInstructions(db, cb.InstructionMatch); err != nil {
			return fmt.Errorf("read instruction matches from %s: %w", path, err)
		}
	}
	return nil
}

func readFunctions(db *sql.DB, cb func(uint64, uint64, float64) error) error {
	rows, err := db.Query(`SELECT address1, address2, similarity FROM function ORDER BY address1`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var a1, a2 int64
		var similarity float64
		if err := rows.Scan(&a1, &a2, &similarity); err != nil {
			return err
		}
		if err := cb(uint64(a1), uint64(a2), similarity); err != nil {
			return err
		}
	}
	return rows.Err()
}

func readBasicBlocks(db *sql.DB, cb func(uint64, uint64, uint64) error) error {
	rows, err := db.Query(`
		SELECT f.address1, b.address1, b.address2
		FROM basicblock b JOIN function f ON b.functionid = f.id
		ORDER BY b.address1`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var fa, a1, a2 int64
		if err := rows.Scan(&fa, &a1, &a2); err != nil {
			return err
		}
		if err := cb(uint64(fa), uint64(a1), uint64(a2)); err != nil {
			return err
		}
	}
	return rows.Err()
}

func readInstructions(db *sql.DB, cb func(uint64, uint64, uint64) error) error {
	rows, err := db.Query(`
		SELECT b.address1, i.address1, i.address2
		FROM instruction i JOIN basicblock b ON i.basicblockid = b.id
		ORDER BY i.address1`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var ba, a1, a2 int64
		if err := rows.Scan(&ba, &a1, &a2); err != nil {
			return err
		}
		if err := cb(uint64(ba), uint64(a1), uint64(a2)); err != nil {
			return err
		}
	}
	return rows.Err()
}
