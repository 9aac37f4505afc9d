package translate

import (
	"fmt"

	"github.com/lookbusy1344/rv2wasm/isa"
)

// lowerLoad and lowerStore turn a guest memory access into a call to the
// matching imported MMU helper, per spec.md §4.5: "each guest memory
// access becomes a call to an imported helper... that invokes the D-TLB."
// The straddling case is the MMU's problem (mmu.MMU.TranslateR/W already
// returns a Split for it); the helper the dispatcher wires in is expected
// to perform the two-call combine described there, so the translator only
// ever emits a single call per access width.
func (c *blockCtx) lowerLoad(ir isa.Instruction) error {
	ops := ir.Operands
	var imp importIdx
	var signExtend func()
	switch ir.Mnemonic {
	case isa.MnLB:
		imp, signExtend = importMMULoadU8, func() { c.extendSigned(8) }
	case isa.MnLBU:
		imp = importMMULoadU8
	case isa.MnLH:
		imp, signExtend = importMMULoadU16, func() { c.extendSigned(16) }
	case isa.MnLHU:
		imp = importMMULoadU16
	case isa.MnLW:
		imp, signExtend = importMMULoadU32, func() { c.extendSigned(32) }
	case isa.MnLWU:
		imp = importMMULoadU32
	case isa.MnLD:
		imp = importMMULoadU64
	default:
		return fmt.Errorf("translate: unhandled load mnemonic at %#x", ir.PC)
	}

	c.regs.get(ops.Rs1)
	c.b.emitI64Const(ops.Imm)
	c.b.emit(opI64Add)
	c.b.emitCall(uint32(imp))
	if signExtend != nil {
		signExtend()
	}
	c.regs.setFromStack(ops.Rd)
	return nil
}

func (c *blockCtx) lowerStore(ir isa.Instruction) error {
	ops := ir.Operands
	var imp importIdx
	switch ir.Mnemonic {
	case isa.MnSB:
		imp = importMMUStoreU8
	case isa.MnSH:
		imp = importMMUStoreU16
	case isa.MnSW:
		imp = importMMUStoreU32
	case isa.MnSD:
		imp = importMMUStoreU64
	default:
		return fmt.Errorf("translate: unhandled store mnemonic at %#x", ir.PC)
	}

	c.regs.get(ops.Rs1)
	c.b.emitI64Const(ops.Imm)
	c.b.emit(opI64Add)
	c.regs.get(ops.Rs2)
	c.b.emitCall(uint32(imp))
	return nil
}

// extendSigned sign-extends the low width bits of the stack's i64 (a
// zero-extended helper result) to a full 64-bit signed value, for LB/LH/LW.
func (c *blockCtx) extendSigned(width int) {
	shift := int64(64 - width)
	c.b.emitI64Const(shift)
	c.b.emit(opI64Shl)
	c.b.emitI64Const(shift)
	c.b.emit(opI64ShrS)
}

// lowerAMO lowers the A-extension atomic ops, per spec.md §4.5: "atomic
// operations serialize through host-provided atomic helpers with matching
// width; LR/SC pairs are implemented via a per-hart reservation word."
func (c *blockCtx) lowerAMO(ir isa.Instruction) error {
	ops := ir.Operands
	switch ir.Mnemonic {
	case isa.MnLRW, isa.MnLRD:
		c.regs.get(ops.Rs1)
		if ir.Mnemonic == isa.MnLRW {
			c.b.emitCall(uint32(importMMULoadU32))
			c.extendSigned(32)
		} else {
			c.b.emitCall(uint32(importMMULoadU64))
		}
		c.regs.setFromStack(ops.Rd)
		c.regs.get(ops.Rs1)
		c.b.emitStoreStateField(offsetReservAddr, func() { c.regs.get(ops.Rs1) })
		c.b.emitStoreStateField(offsetReservOK, func() { c.b.emitI64Const(1) })
		return nil

	case isa.MnSCW, isa.MnSCD:
		// success iff the reservation is live and matches rs1; either way
		// the reservation is cleared, per state.File.ClearReservation's
		// contract.
		storeImp := importMMUStoreU64
		if ir.Mnemonic == isa.MnSCW {
			storeImp = importMMUStoreU32
		}
		c.b.emitLoadStateField(offsetReservOK)
		c.b.emitI64Const(0)
		c.b.emit(opI64Ne)
		c.b.emitLoadStateField(offsetReservAddr)
		c.regs.get(ops.Rs1)
		c.b.emit(opI64Eq)
		c.b.emit(0x71) // i32.and
		c.b.emitIf(blockTypeI64)
		c.regs.get(ops.Rs1)
		c.regs.get(ops.Rs2)
		c.b.emitCall(uint32(storeImp))
		c.b.emitI64Const(0) // success
		c.b.emitElse()
		c.b.emitI64Const(1) // failure
		c.b.emitEnd()
		c.regs.setFromStack(ops.Rd)
		c.b.emitStoreStateField(offsetReservOK, func() { c.b.emitI64Const(0) })
		return nil

	case isa.MnAMOSWAP, isa.MnAMOADD, isa.MnAMOXOR, isa.MnAMOAND, isa.MnAMOOR:
		imp := map[isa.Mnemonic]importIdx{
			isa.MnAMOSWAP: importMMUAtomicSwap,
			isa.MnAMOADD:  importMMUAtomicAdd,
			isa.MnAMOXOR:  importMMUAtomicXor,
			isa.MnAMOAND:  importMMUAtomicAnd,
			isa.MnAMOOR:   importMMUAtomicOr,
		}[ir.Mnemonic]
		c.regs.get(ops.Rs1)
		c.regs.get(ops.Rs2)
		c.b.emitCall(uint32(imp))
		c.regs.setFromStack(ops.Rd)
		return nil

	default:
		return fmt.Errorf("translate: unhandled AMO mnemonic at %#x", ir.PC)
	}
}
