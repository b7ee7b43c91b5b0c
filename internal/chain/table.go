package chain

import "github.com/RoaringBitmap/roaring/roaring64"

// Table is the full N-binary match chain: an ordered sequence of columns,
// one per binary, with column 0 acting as the master column for identity
// enumeration. Populate all columns, call FinishChain on the last one,
// then PropagateIDs and BuildIDIndices; propagation is inherently
// sequential and runs exactly once per table.
type Table struct {
	columns []*Column
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{}
}

// AddColumn appends a fresh column and returns it. Column order is chain
// order: column i is diffed against column i+1.
func (t *Table) AddColumn() *Column {
	c := NewColumn()
	t.columns = append(t.columns, c)
	return c
}

// Len returns the number of columns.
func (t *Table) Len() int { return len(t.columns) }

// Column returns the i-th column.
func (t *Table) Column(i int) *Column { return t.columns[i] }

// Columns returns the columns in chain order. The returned slice is the
// table's own and must not be mutated.
func (t *Table) Columns() []*Column { return t.columns }

// PropagateIDs assigns chain identities. The master column's functions and
// basic blocks are enumerated in ascending primary address order and
// given ids 0, 1, 2, ... per granularity. Each later column inherits ids
// by following the previous column's successor addresses; where no entity
// exists at the successor address the chain for that id ends, which is a
// normal outcome, not an error. Entities that inherit nothing stay
// unassigned: every column's id set is a subset of the master column's
// enumeration.
func (t *Table) PropagateIDs() {
	if len(t.columns) == 0 {
		return
	}

	master := t.columns[0]
	var nextFn Ident
	master.functionsByAddress.Ascend(func(fn *MatchedFunction) bool {
		fn.Match.assignID(nextFn)
		nextFn++
		return true
	})
	var nextBB Ident
	master.basicBlocksByAddress.Ascend(func(bb *MatchedBasicBlock) bool {
		bb.Match.assignID(nextBB)
		nextBB++
		return true
	})

	for i := 1; i < len(t.columns); i++ {
		prev, cur := t.columns[i-1], t.columns[i]
		prev.functionsByAddress.Ascend(func(fn *MatchedFunction) bool {
			id, ok := fn.Match.ID()
			if !ok || fn.Match.AddressInNext == NoNextAddress {
				return true
			}
			succ := cur.FindFunctionByAddress(fn.Match.AddressInNext)
			if succ == nil {
				return true
			}
			// First assignment wins; ascending iteration keeps this
			// deterministic even if two matches name one successor.
			if _, taken := succ.Match.ID(); !taken {
				succ.Match.assignID(id)
			}
			return true
		})
		prev.basicBlocksByAddress.Ascend(func(bb *MatchedBasicBlock) bool {
			id, ok := bb.Match.ID()
			if !ok || bb.Match.AddressInNext == NoNextAddress {
				return true
			}
			succ := cur.FindBasicBlockByAddress(bb.Match.AddressInNext)
			if succ == nil {
				return true
			}
			if _, taken := succ.Match.ID(); !taken {
				succ.Match.assignID(id)
			}
			return true
		})
	}
}

// BuildIDIndices rebuilds the id indices of every column.
func (t *Table) BuildIDIndices() {
	for _, c := range t.columns {
		c.BuildIDIndices()
	}
}

// FullChainFunctionIDs returns the function identities present in every
// column: the chains that survived the whole binary sequence. This is the
// candidate set the signature stage selects from.
func (t *Table) FullChainFunctionIDs() *roaring64.Bitmap {
	return t.fullChainIDs((*Column).FunctionIDCoverage)
}

// FullChainBasicBlockIDs returns the basic-block identities present in
// every column.
func (t *Table) FullChainBasicBlockIDs() *roaring64.Bitmap {
	return t.fullChainIDs((*Column).BasicBlockIDCoverage)
}

func (t *Table) fullChainIDs(coverage func(*Column) *roaring64.Bitmap) *roaring64.Bitmap {
	if len(t.columns) == 0 {
		return roaring64.New()
	}
	acc := coverage(t.columns[0])
	for _, c := range t.columns[1:] {
		acc.And(coverage(c))
	}
	return acc
}
