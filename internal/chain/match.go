// Package chain implements the match chain table: a columnar store of
// pairwise binary-diff matches linked across an ordered sequence of related
// binaries. Each column holds the matches for one binary; the identity
// propagation step assigns a single chain-wide id to corresponding
// functions and basic blocks so that the same logical program element can
// be found in every column with one lookup key.
package chain

import "sort"

// MemoryAddress is an address in one binary's own address space.
type MemoryAddress uint64

// Ident is a chain-wide identity, unique per granularity within a column.
// The same value names the corresponding entity in every column once
// propagation has run.
type Ident uint64

// NoNextAddress is the successor sentinel for entities in the terminal
// column. Real code is never mapped at address zero and BinDiff never
// reports it as a match address.
const NoNextAddress MemoryAddress = 0

// MemoryAddressPair is one address correspondence from a pairwise diff:
// an address in this binary and the matching address in the next binary
// of the chain.
type MemoryAddressPair struct {
	Address       MemoryAddress
	AddressInNext MemoryAddress
}

// MatchedMemoryAddress is the correspondence core of every matched entity.
// The address pair is fixed at construction; the identity is assigned later
// by propagation and is absent until then.
type MatchedMemoryAddress struct {
	Address       MemoryAddress
	AddressInNext MemoryAddress

	id    Ident
	hasID bool
}

// ID returns the chain identity and whether one has been assigned.
func (m *MatchedMemoryAddress) ID() (Ident, bool) {
	return m.id, m.hasID
}

// assignID sets the identity. Identities are assigned at most once; the
// propagation pass guards against reassignment.
func (m *MatchedMemoryAddress) assignID(id Ident) {
	m.id = id
	m.hasID = true
}

// VertexType classifies a matched function in the call graph of its binary.
// Carried through from the diff input; not interpreted by this package.
type VertexType int

const (
	VertexNormal VertexType = iota
	VertexLibrary
	VertexThunk
	VertexImported
)

// MatchedInstruction is one matched instruction. Raw bytes, disassembly and
// immediates are populated lazily by the loader, and only for instructions
// that end up part of a retained chain.
type MatchedInstruction struct {
	Match MatchedMemoryAddress

	RawBytes    []byte
	Disassembly string
	Immediates  []uint64
}

func newMatchedInstruction(pair MemoryAddressPair) *MatchedInstruction {
	return &MatchedInstruction{
		Match: MatchedMemoryAddress{Address: pair.Address, AddressInNext: pair.AddressInNext},
	}
}

func (i *MatchedInstruction) primaryAddress() MemoryAddress { return i.Match.Address }

// MatchedBasicBlock is one matched basic block and its instructions,
// ordered by primary address. Weight is preserved for downstream signature
// trimming and has no meaning here.
type MatchedBasicBlock struct {
	Match MatchedMemoryAddress

	instructions []*MatchedInstruction
	Weight       int
}

func newMatchedBasicBlock(pair MemoryAddressPair) *MatchedBasicBlock {
	return &MatchedBasicBlock{
		Match: MatchedMemoryAddress{Address: pair.Address, AddressInNext: pair.AddressInNext},
	}
}

// Instructions returns the block's instructions in ascending primary
// address order. The returned slice is the block's own ordered set and
// must not be mutated.
func (b *MatchedBasicBlock) Instructions() []*MatchedInstruction {
	return b.instructions
}

func (b *MatchedBasicBlock) insertInstruction(ins *MatchedInstruction) {
	b.instructions = insertByAddress(b.instructions, ins)
}

func (b *MatchedBasicBlock) primaryAddress() MemoryAddress { return b.Match.Address }

// MatchedFunction is one matched function and its basic blocks, ordered by
// primary address.
type MatchedFunction struct {
	Match MatchedMemoryAddress

	basicBlocks []*MatchedBasicBlock
	Type        VertexType
}

func newMatchedFunction(pair MemoryAddressPair) *MatchedFunction {
	return &MatchedFunction{
		Match: MatchedMemoryAddress{Address: pair.Address, AddressInNext: pair.AddressInNext},
	}
}

// BasicBlocks returns the function's basic blocks in ascending primary
// address order. The returned slice is the function's own ordered set and
// must not be mutated.
func (f *MatchedFunction) BasicBlocks() []*MatchedBasicBlock {
	return f.basicBlocks
}

func (f *MatchedFunction) insertBasicBlock(bb *MatchedBasicBlock) {
	f.basicBlocks = insertByAddress(f.basicBlocks, bb)
}

func (f *MatchedFunction) primaryAddress() MemoryAddress { return f.Match.Address }

type addressed interface {
	primaryAddress() MemoryAddress
}

// insertByAddress keeps child sets sorted by primary address regardless of
// insertion order. Addresses are unique within a parent, so position is
// unambiguous.
func insertByAddress[E addressed](s []E, e E) []E {
	i := sort.Search(len(s), func(i int) bool {
		return s[i].primaryAddress() >= e.primaryAddress()
	})
	s = append(s, e)
	copy(s[i+1:], s[i:])
	s[i] = e
	return s
}
