package chain

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/google/btree"
)

var (
	// ErrDuplicateMatch is returned when a match is inserted twice at the
	// same primary address in one column. This is a caller contract
	// violation, never merged silently.
	ErrDuplicateMatch = errors.New("duplicate match address")

	// ErrForeignParent is returned when a basic-block or instruction
	// insertion references a parent entity not owned by this column.
	ErrForeignParent = errors.New("parent entity not owned by this column")
)

// FilterMode controls which function matches are materialized in a column.
type FilterMode int

const (
	// FilterNone admits every function match.
	FilterNone FilterMode = iota
	// FilterBlacklist rejects function matches whose primary address is in
	// the filtered set.
	FilterBlacklist
	// FilterWhitelist admits only function matches whose primary address
	// is in the filtered set.
	FilterWhitelist
)

func (m FilterMode) String() string {
	switch m {
	case FilterBlacklist:
		return "blacklist"
	case FilterWhitelist:
		return "whitelist"
	default:
		return "none"
	}
}

const indexDegree = 32

// Column holds all matches for one binary of the chain. It is the sole
// owner of every entity it contains: the three address indices own the
// functions, basic blocks and instructions, and parent/child links in the
// entity tree are non-owning references into those same indices. A column
// has no internal synchronization; it must be privately owned while it is
// being populated.
type Column struct {
	// Bookkeeping about the binary this column represents. Not used by any
	// algorithm in this package.
	Filename      string
	SHA256        string
	DiffDirectory string

	filterMode        FilterMode
	filteredFunctions *roaring64.Bitmap

	functionsByAddress    *btree.BTreeG[*MatchedFunction]
	basicBlocksByAddress  *btree.BTreeG[*MatchedBasicBlock]
	instructionsByAddress *btree.BTreeG[*MatchedInstruction]

	// Derived indices, valid only after BuildIDIndices and until the next
	// structural change. Instructions have no id index: consumers below
	// basic-block granularity work on instruction bytes directly.
	functionsByID   map[Ident]*MatchedFunction
	basicBlocksByID map[Ident]*MatchedBasicBlock
}

// NewColumn returns an empty column with no filter.
func NewColumn() *Column {
	return &Column{
		filteredFunctions: roaring64.New(),
		functionsByAddress: btree.NewG(indexDegree, func(a, b *MatchedFunction) bool {
			return a.Match.Address < b.Match.Address
		}),
		basicBlocksByAddress: btree.NewG(indexDegree, func(a, b *MatchedBasicBlock) bool {
			return a.Match.Address < b.Match.Address
		}),
		instructionsByAddress: btree.NewG(indexDegree, func(a, b *MatchedInstruction) bool {
			return a.Match.Address < b.Match.Address
		}),
	}
}

// SetFunctionFilter selects the filter policy applied by
// InsertFunctionMatch. Must be configured before population begins.
func (c *Column) SetFunctionFilter(mode FilterMode) {
	c.filterMode = mode
}

// FunctionFilter returns the active filter policy.
func (c *Column) FunctionFilter() FilterMode {
	return c.filterMode
}

// AddFilteredFunction adds an address to the filtered-function set. How
// the set is interpreted depends on the filter mode.
func (c *Column) AddFilteredFunction(addr MemoryAddress) {
	c.filteredFunctions.Add(uint64(addr))
}

func (c *Column) admitsFunction(addr MemoryAddress) bool {
	switch c.filterMode {
	case FilterBlacklist:
		return !c.filteredFunctions.Contains(uint64(addr))
	case FilterWhitelist:
		return c.filteredFunctions.Contains(uint64(addr))
	default:
		return true
	}
}

// InsertFunctionMatch materializes a function match. A match rejected by
// the filter policy yields (nil, nil) and leaves the column untouched.
// Inserting a second match at an already present primary address is a
// contract violation and fails with ErrDuplicateMatch.
func (c *Column) InsertFunctionMatch(pair MemoryAddressPair) (*MatchedFunction, error) {
	if !c.admitsFunction(pair.Address) {
		return nil, nil
	}
	fn := newMatchedFunction(pair)
	if c.functionsByAddress.Has(fn) {
		return nil, fmt.Errorf("function match at %#x: %w", uint64(pair.Address), ErrDuplicateMatch)
	}
	c.functionsByAddress.ReplaceOrInsert(fn)
	return fn, nil
}

// InsertBasicBlockMatch materializes a basic-block match under a function
// previously returned by this column's InsertFunctionMatch. The block is
// owned by the column's address index; the function keeps a non-owning
// ordered reference.
func (c *Column) InsertBasicBlockMatch(function *MatchedFunction, pair MemoryAddressPair) (*MatchedBasicBlock, error) {
	if function == nil || c.FindFunctionByAddress(function.Match.Address) != function {
		return nil, fmt.Errorf("basic block match at %#x: %w", uint64(pair.Address), ErrForeignParent)
	}
	bb := newMatchedBasicBlock(pair)
	if c.basicBlocksByAddress.Has(bb) {
		return nil, fmt.Errorf("basic block match at %#x: %w", uint64(pair.Address), ErrDuplicateMatch)
	}
	c.basicBlocksByAddress.ReplaceOrInsert(bb)
	function.insertBasicBlock(bb)
	return bb, nil
}

// InsertInstructionMatch materializes an instruction match under a basic
// block previously returned by this column's InsertBasicBlockMatch.
func (c *Column) InsertInstructionMatch(basicBlock *MatchedBasicBlock, pair MemoryAddressPair) (*MatchedInstruction, error) {
	if basicBlock == nil || c.FindBasicBlockByAddress(basicBlock.Match.Address) != basicBlock {
		return nil, fmt.Errorf("instruction match at %#x: %w", uint64(pair.Address), ErrForeignParent)
	}
	ins := newMatchedInstruction(pair)
	if c.instructionsByAddress.Has(ins) {
		return nil, fmt.Errorf("instruction match at %#x: %w", uint64(pair.Address), ErrDuplicateMatch)
	}
	c.instructionsByAddress.ReplaceOrInsert(ins)
	basicBlock.insertInstruction(ins)
	return ins, nil
}

// FindFunctionByAddress returns the function at the exact primary address,
// or nil.
func (c *Column) FindFunctionByAddress(addr MemoryAddress) *MatchedFunction {
	fn, ok := c.functionsByAddress.Get(&MatchedFunction{Match: MatchedMemoryAddress{Address: addr}})
	if !ok {
		return nil
	}
	return fn
}

// FindBasicBlockByAddress returns the basic block at the exact primary
// address, or nil.
func (c *Column) FindBasicBlockByAddress(addr MemoryAddress) *MatchedBasicBlock {
	bb, ok := c.basicBlocksByAddress.Get(&MatchedBasicBlock{Match: MatchedMemoryAddress{Address: addr}})
	if !ok {
		return nil
	}
	return bb
}

// FindInstructionByAddress returns the instruction at the exact primary
// address, or nil.
func (c *Column) FindInstructionByAddress(addr MemoryAddress) *MatchedInstruction {
	ins, ok := c.instructionsByAddress.Get(&MatchedInstruction{Match: MatchedMemoryAddress{Address: addr}})
	if !ok {
		return nil
	}
	return ins
}

// FindFunctionByID returns the function with the given chain identity, or
// nil. Valid only after BuildIDIndices has run for this column and before
// any later structural change.
func (c *Column) FindFunctionByID(id Ident) *MatchedFunction {
	return c.functionsByID[id]
}

// FindBasicBlockByID returns the basic block with the given chain
// identity, or nil. Same validity window as FindFunctionByID.
func (c *Column) FindBasicBlockByID(id Ident) *MatchedBasicBlock {
	return c.basicBlocksByID[id]
}

// FinishChain closes the terminal column: there is one more binary than
// there are diff results, so the last column is never populated by normal
// insertion. For every entity in prev with a successor address, a
// corresponding entity is created (or reconciled if already present) in
// this column with NoNextAddress as its own successor, reproducing prev's
// parent/child links. After this runs, every non-terminal entity has a
// valid successor to follow and every terminal entity carries the
// sentinel, so propagation needs no last-column special case.
//
// The filter policy is not re-applied here: prev's filter already decided
// which chains exist.
func (c *Column) FinishChain(prev *Column) {
	prev.functionsByAddress.Ascend(func(fn *MatchedFunction) bool {
		if fn.Match.AddressInNext == NoNextAddress {
			return true
		}
		term := c.FindFunctionByAddress(fn.Match.AddressInNext)
		if term == nil {
			term = newMatchedFunction(MemoryAddressPair{Address: fn.Match.AddressInNext})
			term.Type = fn.Type
			c.functionsByAddress.ReplaceOrInsert(term)
		}
		for _, bb := range fn.BasicBlocks() {
			if bb.Match.AddressInNext == NoNextAddress {
				continue
			}
			termBB := c.FindBasicBlockByAddress(bb.Match.AddressInNext)
			if termBB == nil {
				termBB = newMatchedBasicBlock(MemoryAddressPair{Address: bb.Match.AddressInNext})
				termBB.Weight = bb.Weight
				c.basicBlocksByAddress.ReplaceOrInsert(termBB)
				term.insertBasicBlock(termBB)
			}
			for _, ins := range bb.Instructions() {
				if ins.Match.AddressInNext == NoNextAddress {
					continue
				}
				if c.FindInstructionByAddress(ins.Match.AddressInNext) != nil {
					continue
				}
				termIns := newMatchedInstruction(MemoryAddressPair{Address: ins.Match.AddressInNext})
				c.instructionsByAddress.ReplaceOrInsert(termIns)
				termBB.insertInstruction(termIns)
			}
		}
		return true
	})
}

// BuildIDIndices rebuilds the id indices from the address indices. Call it
// once after propagation, and again after any structural change; the id
// indices are not maintained incrementally.
func (c *Column) BuildIDIndices() {
	c.functionsByID = make(map[Ident]*MatchedFunction, c.functionsByAddress.Len())
	c.functionsByAddress.Ascend(func(fn *MatchedFunction) bool {
		if id, ok := fn.Match.ID(); ok {
			c.functionsByID[id] = fn
		}
		return true
	})
	c.basicBlocksByID = make(map[Ident]*MatchedBasicBlock, c.basicBlocksByAddress.Len())
	c.basicBlocksByAddress.Ascend(func(bb *MatchedBasicBlock) bool {
		if id, ok := bb.Match.ID(); ok {
			c.basicBlocksByID[id] = bb
		}
		return true
	})
}

// FunctionCount returns the number of function matches in this column.
func (c *Column) FunctionCount() int { return c.functionsByAddress.Len() }

// BasicBlockCount returns the number of basic-block matches in this column.
func (c *Column) BasicBlockCount() int { return c.basicBlocksByAddress.Len() }

// InstructionCount returns the number of instruction matches in this column.
func (c *Column) InstructionCount() int { return c.instructionsByAddress.Len() }

// AscendFunctions visits every function match in ascending primary address
// order, stopping early if fn returns false.
func (c *Column) AscendFunctions(fn func(*MatchedFunction) bool) {
	c.functionsByAddress.Ascend(fn)
}

// AscendBasicBlocks visits every basic-block match in ascending primary
// address order, stopping early if fn returns false.
func (c *Column) AscendBasicBlocks(fn func(*MatchedBasicBlock) bool) {
	c.basicBlocksByAddress.Ascend(fn)
}

// FunctionIDCoverage returns the set of function identities assigned in
// this column.
func (c *Column) FunctionIDCoverage() *roaring64.Bitmap {
	ids := roaring64.New()
	c.functionsByAddress.Ascend(func(fn *MatchedFunction) bool {
		if id, ok := fn.Match.ID(); ok {
			ids.Add(uint64(id))
		}
		return true
	})
	return ids
}

// BasicBlockIDCoverage returns the set of basic-block identities assigned
// in this column.
func (c *Column) BasicBlockIDCoverage() *roaring64.Bitmap {
	ids := roaring64.New()
	c.basicBlocksByAddress.Ascend(func(bb *MatchedBasicBlock) bool {
		if id, ok := bb.Match.ID(); ok {
			ids.Add(uint64(id))
		}
		return true
	})
	return ids
}
