package translate

import (
	"fmt"

	"github.com/lookbusy1344/rv2wasm/isa"
	"github.com/lookbusy1344/rv2wasm/state"
)

// Function is a single translated basic block: a wasm function body ready
// to be wrapped into a module by the dispatcher, plus the bookkeeping the
// cache needs (spec.md §3's covered-range).
type Function struct {
	Code        []byte
	NumLocals   int
	CoveredLow  uint64
	CoveredHigh uint64
}

// blockCtx threads the pieces every lowering helper in this package needs:
// the builder under construction, the lazy register file, and the entry
// vtype the decoder resolved this block against (spec.md §4.5: "maintains
// a per-block abstract vtype from the entry fingerprint plus any
// Vector-Config IRs encountered").
type blockCtx struct {
	b         *builder
	regs      *regFile
	vt        state.Vtype
	vlenBytes int // per-vector-register stride in bytes, fixed for the life of a run
}

// Translate lowers a decoded basic block to a wasm function body, per
// spec.md §4.5. instrs must be non-empty and end in exactly one terminating
// IR, the invariant isa.DecodeBlock guarantees. vlenBytes is the guest's
// configured vector register width in bytes (constant for a run), needed to
// compute per-register byte offsets when lowering vector ALU/load-store ops.
func Translate(instrs []isa.Instruction, entryVtype state.Vtype, vlenBytes int) (*Function, error) {
	if len(instrs) == 0 {
		return nil, fmt.Errorf("translate: empty block")
	}

	b := newBuilder()
	ctx := &blockCtx{b: b, regs: newRegFile(b), vt: entryVtype, vlenBytes: vlenBytes}

	for i, ir := range instrs {
		last := i == len(instrs)-1
		if !ir.TerminatesBlock && last {
			// isa.DecodeBlock always ends a block on a terminator or a
			// synthesized jump; a non-terminated tail is an invariant
			// violation (spec.md §7 Internal error), not a decode bug the
			// translator should mask.
			return nil, fmt.Errorf("translate: block not terminated at %#x", ir.PC)
		}
		if err := ctx.lower(ir); err != nil {
			return nil, err
		}
	}

	return &Function{
		Code:        b.code,
		NumLocals:   b.nLocals,
		CoveredLow:  instrs[0].PC,
		CoveredHigh: instrs[len(instrs)-1].PC + uint64(instrs[len(instrs)-1].EncodedLength) - 1,
	}, nil
}

// lower dispatches a single IR to its class-specific lowering, an
// exhaustive tagged-sum switch (never a visitor).
func (c *blockCtx) lower(ir isa.Instruction) error {
	switch ir.Class {
	case isa.OpALURegister, isa.OpALUImmediate:
		return c.lowerALU(ir)
	case isa.OpLoad:
		return c.lowerLoad(ir)
	case isa.OpStore:
		return c.lowerStore(ir)
	case isa.OpBranch:
		return c.lowerBranch(ir)
	case isa.OpJump:
		return c.lowerJump(ir)
	case isa.OpSystem:
		return c.lowerSystem(ir)
	case isa.OpAMO:
		return c.lowerAMO(ir)
	case isa.OpFP:
		// F/D ops are not lowered: they return ReasonIllegal like any
		// other unsupported encoding (spec.md §4.2: "unknown or reserved
		// encodings become Illegal IRs that terminate the block").
		c.regs.writeback()
		c.b.emitReturnConst(ReasonIllegal, ir.PC)
		return nil
	case isa.OpVectorConfig:
		return c.lowerVectorConfig(ir)
	case isa.OpVectorALU:
		return c.lowerVectorALU(ir)
	case isa.OpVectorLoadStore:
		return c.lowerVectorLoadStore(ir)
	case isa.OpIllegal:
		c.regs.writeback()
		c.b.emitReturnConst(ReasonIllegal, ir.PC)
		return nil
	default:
		return fmt.Errorf("translate: unhandled op class %s at %#x", ir.Class, ir.PC)
	}
}
