package isa

import "fmt"

// InstructionSource is the minimal interface the decoder needs from the
// software MMU's I-TLB: fetch raw bytes at a guest PC. The decoder never
// talks to the MMU directly so it stays testable with a plain byte slice.
type InstructionSource interface {
	FetchHalfword(pc uint64) (uint16, error)
}

// DecodeError wraps a fault arising from the instruction source (e.g. an
	// MMU miss); it is distinct from an Illegal IR, which is a valid decode
// of an instruction the ISA reserves or the decoder does not implement.
type DecodeError struct {
	PC  uint64
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode at %#x: %v", e.PC, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeOne decodes a single instruction at pc from src, returning its IR.
// It never panics: encodings it does not recognize become OpIllegal IRs
// with TerminatesBlock set, per spec.md §4.2.
func DecodeOne(src InstructionSource, pc uint64) (Instruction, error) {
	lo, err := src.FetchHalfword(pc)
	if err != nil {
		return Instruction{}, &DecodeError{PC: pc, Err: err}
	}

	if lo&0x3 != 0x3 {
		return decodeCompressed(pc, lo), nil
	}

	hi, err := src.FetchHalfword(pc + 2)
	if err != nil {
		return Instruction{}, &DecodeError{PC: pc, Err: err}
	}
	word := uint32(lo) | uint32(hi)<<16

	if (word>>2)&0x7 == 0b111 {
		// Bits [4:2] of 0b111 mark the >=48-bit reserved-width encodings;
		// not supported.
		return illegal(pc, 4), nil
	}

	return decodeStandard(pc, word), nil
}

// DecodeBlock walks src from entry until a terminating IR is produced or
// softCap instructions have been emitted, whichever comes first. On
// reaching the soft cap it synthesizes an unconditional jump IR to the next
// PC so every block still ends in exactly one terminator, per spec.md's
// Internal-error-is-panic-free invariant.
func DecodeBlock(src InstructionSource, entry uint64, softCap int) ([]Instruction, error) {
	if softCap <= 0 {
		softCap = 256
	}

	var block []Instruction
	pc := entry
	for len(block) < softCap {
		ir, err := DecodeOne(src, pc)
		if err != nil {
			return block, err
		}
		block = append(block, ir)
		if ir.TerminatesBlock {
			return block, nil
		}
		pc += uint64(ir.EncodedLength)
	}

	// Soft cap reached without a natural terminator: synthesize one.
	block = append(block, syntheticJump(pc))
	return block, nil
}

func illegal(pc uint64, length uint8) Instruction {
	return Instruction{
		PC:              pc,
		Class:           OpIllegal,
		Mnemonic:        MnIllegal,
		EncodedLength:   length,
		TerminatesBlock: true,
	}
}

func syntheticJump(nextPC uint64) Instruction {
	return Instruction{
		PC:              nextPC,
		Class:           OpJump,
		Mnemonic:        MnJAL,
		Operands:        Operands{Rd: 0, Imm: 0},
		EncodedLength:   0, // synthetic: does not consume guest bytes
		TerminatesBlock: true,
	}
}

func signExtend(value uint32, bits int) int64 {
	shift := 32 - bits
	return int64(int32(value<<shift) >> shift)
}

func signExtend64(value uint64, bits int) int64 {
	shift := 64 - bits
	return int64(value<<shift) >> shift
}
