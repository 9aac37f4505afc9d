package translate

import (
	"fmt"

	"github.com/lookbusy1344/rv2wasm/isa"
)

// lowerBranch lowers a conditional branch to a wasm if/else that selects
// between taken-PC and fallthrough-PC, per spec.md §4.5. Every block exit
// writes back dirty locals first.
func (c *blockCtx) lowerBranch(ir isa.Instruction) error {
	ops := ir.Operands
	var cmp byte
	switch ir.Mnemonic {
	case isa.MnBEQ:
		cmp = opI64Eq
	case isa.MnBNE:
		cmp = opI64Ne
	case isa.MnBLT:
		cmp = opI64LtS
	case isa.MnBGE:
		cmp = opI64GeS
	case isa.MnBLTU:
		cmp = opI64LtU
	case isa.MnBGEU:
		cmp = opI64GeU
	default:
		return fmt.Errorf("translate: unhandled branch mnemonic at %#x", ir.PC)
	}

	taken := uint64(int64(ir.PC) + ops.Imm)
	fallthroughPC := ir.PC + uint64(ir.EncodedLength)

	c.regs.get(ops.Rs1)
	c.regs.get(ops.Rs2)
	c.b.emit(cmp)
	c.regs.writeback()
	c.b.emitIf(blockTypeVoid)
	c.b.emitReturnConst(ReasonContinue, taken)
	c.b.emitElse()
	c.b.emitReturnConst(ReasonContinue, fallthroughPC)
	c.b.emitEnd()
	return nil
}

// lowerJump lowers JAL/JALR. JAL's target is statically known; JALR's is
// computed from a register plus immediate and returned dynamically.
func (c *blockCtx) lowerJump(ir isa.Instruction) error {
	ops := ir.Operands
	linkPC := ir.PC + uint64(ir.EncodedLength)

	switch ir.Mnemonic {
	case isa.MnJAL:
		if ops.Rd != 0 {
			c.b.emitI64Const(int64(linkPC))
			c.regs.setFromStack(ops.Rd)
		}
		c.regs.writeback()
		c.b.emitReturnConst(ReasonContinue, uint64(int64(ir.PC)+ops.Imm))
		return nil

	case isa.MnJALR:
		target := c.b.newLocal()
		c.regs.get(ops.Rs1)
		c.b.emitI64Const(ops.Imm)
		c.b.emit(opI64Add)
		c.b.emitI64Const(^int64(1)) // clear bit 0, per the JALR spec
		c.b.emit(opI64And)
		c.b.emitLocalSet(target)
		if ops.Rd != 0 {
			c.b.emitI64Const(int64(linkPC))
			c.regs.setFromStack(ops.Rd)
		}
		c.regs.writeback()
		c.b.emitLocalGet(target)
		c.b.emitReturnDynamic(ReasonContinue)
		return nil

	default:
		return fmt.Errorf("translate: unhandled jump mnemonic at %#x", ir.PC)
	}
}

// lowerSystem lowers ecall/ebreak/fences/CSR ops, per spec.md §4.5: ecall
// returns Syscall, ebreak returns Debug, fences return Fence, and CSR ops
// read/write the state model's CSR fields directly.
func (c *blockCtx) lowerSystem(ir isa.Instruction) error {
	nextPC := ir.PC + uint64(ir.EncodedLength)
	switch ir.Mnemonic {
	case isa.MnECALL:
		c.regs.writeback()
		c.b.emitReturnConst(ReasonSyscall, nextPC)
		return nil
	case isa.MnEBREAK:
		c.regs.writeback()
		c.b.emitReturnConst(ReasonDebug, nextPC)
		return nil
	case isa.MnFENCE, isa.MnFENCEI, isa.MnSFENCEVMA:
		c.regs.writeback()
		c.b.emitReturnConst(ReasonFence, nextPC)
		return nil
	case isa.MnCSRRW, isa.MnCSRRS, isa.MnCSRRC:
		return c.lowerCSR(ir)
	default:
		return fmt.Errorf("translate: unhandled system mnemonic at %#x", ir.PC)
	}
}

// csrOffset maps the CSRs the translator supports (vstart, vl, fcsr,
// mstatus) to their state model offset. Any other CSR reports ok=false,
// and lowerCSR then emits a ReasonIllegal return.
func csrOffset(addr isa.CSRAddr) (uint32, bool) {
	switch addr {
	case 0x008:
		return offsetVstart, true
	case 0xC20:
		return offsetVl, true
	case 0x003:
		return offsetFcsr, true
	case 0x300:
		return offsetMstatus, true
	default:
		return 0, false
	}
}

func (c *blockCtx) lowerCSR(ir isa.Instruction) error {
	ops := ir.Operands
	offset, ok := csrOffset(ir.CSR)
	if !ok {
		c.regs.writeback()
		c.b.emitReturnConst(ReasonIllegal, ir.PC)
		return nil
	}

	old := c.b.newLocal()
	c.b.emitLoadStateField(offset)
	c.b.emitLocalSet(old)
	if ops.Rd != 0 {
		c.b.emitLocalGet(old)
		c.regs.setFromStack(ops.Rd)
	}

	// CSRRWI/CSRRSI/CSRRCI encode a 5-bit zero-extended immediate in the
	// rs1 field position rather than a register index; ops.IsImm tells us
	// which source to read.
	emitOperand := func() {
		if ops.IsImm {
			c.b.emitI64Const(ops.Imm)
		} else {
			c.regs.get(ops.Rs1)
		}
	}

	switch ir.Mnemonic {
	case isa.MnCSRRW:
		c.b.emitStoreStateField(offset, emitOperand)
	case isa.MnCSRRS:
		c.b.emitStoreStateField(offset, func() {
			c.b.emitLocalGet(old)
			emitOperand()
			c.b.emit(opI64Or)
		})
	case isa.MnCSRRC:
		c.b.emitStoreStateField(offset, func() {
			c.b.emitLocalGet(old)
			emitOperand()
			c.b.emitI64Const(-1)
			c.b.emit(opI64Xor)
			c.b.emit(opI64And)
		})
	}
	return nil
}
