// Package insn decodes raw x86/x86-64 instruction bytes into disassembly
// text and immediate operand values. The loader attaches this data to
// matched instructions lazily, only for instructions that ended up part of
// a retained chain.
package insn

import (
	"errors"
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/sigtrail/matchchain/internal/chain"
)

// ErrEmpty is returned when there are no bytes to decode.
var ErrEmpty = errors.New("no instruction bytes")

// Annotation is the decoded form of one instruction.
type Annotation struct {
	Disassembly string
	Immediates  []uint64
	Len         int
}

// Decode decodes a single instruction. mode is the processor mode in bits
// (16, 32 or 64). Undecodable bytes fall back to a raw byte listing rather
// than failing, mirroring how disassemblers render data in code regions.
func Decode(raw []byte, mode int) (Annotation, error) {
	if len(raw) == 0 {
		return Annotation{}, ErrEmpty
	}

	inst, err := x86asm.Decode(raw, mode)
	if err != nil {
		return Annotation{
			Disassembly: fmt.Sprintf(".byte %#x", raw),
			Len:         len(raw),
		}, nil
	}

	var imms []uint64
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		if imm, ok := arg.(x86asm.Imm); ok {
			imms = append(imms, uint64(int64(imm)))
		}
	}
	return Annotation{
		Disassembly: x86asm.IntelSyntax(inst, 0, nil),
		Immediates:  imms,
		Len:         inst.Len,
	}, nil
}

// Apply fills a matched instruction's disassembly and immediates from its
// raw bytes. Instructions with no bytes attached are left untouched.
func Apply(ins *chain.MatchedInstruction, mode int) error {
	if len(ins.RawBytes) == 0 {
		return nil
	}
	a, err := Decode(ins.RawBytes, mode)
	if err != nil {
		return fmt.Errorf("annotate instruction at %#x: %w", uint64(ins.Match.Address), err)
	}
	ins.Disassembly = a.Disassembly
	ins.Immediates = a.Immediates
	return nil
}
