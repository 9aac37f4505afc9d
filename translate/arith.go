package translate

import (
	"fmt"

	"github.com/lookbusy1344/rv2wasm/isa"
)

// lowerALU lowers an RV64I/M register-register or register-immediate ALU
// op, per spec.md §4.5's "each RISC-V ALU op maps to one or a short
// sequence of wasm numeric ops" and the explicit division-by-zero /
// overflow carve-out.
func (c *blockCtx) lowerALU(ir isa.Instruction) error {
	ops := ir.Operands
	rhs := func() {
		if ir.Class == isa.OpALUImmediate {
			c.b.emitI64Const(ops.Imm)
		} else {
			c.regs.get(ops.Rs2)
		}
	}

	switch ir.Mnemonic {
	case isa.MnADD, isa.MnADDI:
		c.regs.get(ops.Rs1)
		rhs()
		c.b.emit(opI64Add)
		c.regs.setFromStack(ops.Rd)
	case isa.MnSUB:
		c.regs.get(ops.Rs1)
		rhs()
		c.b.emit(opI64Sub)
		c.regs.setFromStack(ops.Rd)
	case isa.MnAND, isa.MnANDI:
		c.regs.get(ops.Rs1)
		rhs()
		c.b.emit(opI64And)
		c.regs.setFromStack(ops.Rd)
	case isa.MnOR, isa.MnORI:
		c.regs.get(ops.Rs1)
		rhs()
		c.b.emit(opI64Or)
		c.regs.setFromStack(ops.Rd)
	case isa.MnXOR, isa.MnXORI:
		c.regs.get(ops.Rs1)
		rhs()
		c.b.emit(opI64Xor)
		c.regs.setFromStack(ops.Rd)
	case isa.MnSLL, isa.MnSLLI:
		c.regs.get(ops.Rs1)
		rhs()
		c.b.emitI64Const(63)
		c.b.emit(opI64And)
		c.b.emit(opI64Shl)
		c.regs.setFromStack(ops.Rd)
	case isa.MnSRL, isa.MnSRLI:
		c.regs.get(ops.Rs1)
		rhs()
		c.b.emitI64Const(63)
		c.b.emit(opI64And)
		c.b.emit(opI64ShrU)
		c.regs.setFromStack(ops.Rd)
	case isa.MnSRA, isa.MnSRAI:
		c.regs.get(ops.Rs1)
		rhs()
		c.b.emitI64Const(63)
		c.b.emit(opI64And)
		c.b.emit(opI64ShrS)
		c.regs.setFromStack(ops.Rd)
	case isa.MnSLT, isa.MnSLTI:
		c.regs.get(ops.Rs1)
		rhs()
		c.b.emit(opI64LtS)
		c.extendBoolToI64()
		c.regs.setFromStack(ops.Rd)
	case isa.MnSLTU, isa.MnSLTIU:
		c.regs.get(ops.Rs1)
		rhs()
		c.b.emit(opI64LtU)
		c.extendBoolToI64()
		c.regs.setFromStack(ops.Rd)
	case isa.MnMUL:
		c.regs.get(ops.Rs1)
		rhs()
		c.b.emit(opI64Mul)
		c.regs.setFromStack(ops.Rd)
	case isa.MnDIV:
		return c.lowerDivRem(ir, opI64DivS, true)
	case isa.MnDIVU:
		return c.lowerDivRem(ir, opI64DivU, false)
	case isa.MnREM:
		return c.lowerDivRem(ir, opI64RemS, true)
	case isa.MnREMU:
		return c.lowerDivRem(ir, opI64RemU, false)
	case isa.MnLUI:
		c.b.emitI64Const(ops.Imm)
		c.regs.setFromStack(ops.Rd)
	case isa.MnAUIPC:
		c.b.emitI64Const(int64(ir.PC) + ops.Imm)
		c.regs.setFromStack(ops.Rd)
	case isa.MnADDW, isa.MnADDIW:
		c.regs.get(ops.Rs1)
		rhs()
		c.b.emit(opI64Add)
		c.signExtend32()
		c.regs.setFromStack(ops.Rd)
	case isa.MnSUBW:
		c.regs.get(ops.Rs1)
		rhs()
		c.b.emit(opI64Sub)
		c.signExtend32()
		c.regs.setFromStack(ops.Rd)
	case isa.MnSLLW, isa.MnSLLIW:
		c.regs.get(ops.Rs1)
		rhs()
		c.b.emitI64Const(31)
		c.b.emit(opI64And)
		c.b.emit(opI64Shl)
		c.signExtend32()
		c.regs.setFromStack(ops.Rd)
	case isa.MnSRLW, isa.MnSRLIW:
		c.regs.get(ops.Rs1)
		c.signExtend32Unsigned()
		rhs()
		c.b.emitI64Const(31)
		c.b.emit(opI64And)
		c.b.emit(opI64ShrU)
		c.signExtend32()
		c.regs.setFromStack(ops.Rd)
	case isa.MnSRAW, isa.MnSRAIW:
		c.regs.get(ops.Rs1)
		c.signExtend32()
		rhs()
		c.b.emitI64Const(31)
		c.b.emit(opI64And)
		c.b.emit(opI64ShrS)
		c.signExtend32()
		c.regs.setFromStack(ops.Rd)
	case isa.MnMULW:
		c.regs.get(ops.Rs1)
		rhs()
		c.b.emit(opI64Mul)
		c.signExtend32()
		c.regs.setFromStack(ops.Rd)
	case isa.MnDIVW:
		return c.lowerDivRemW(ir, opI64DivS, true)
	case isa.MnDIVUW:
		return c.lowerDivRemW(ir, opI64DivU, false)
	case isa.MnREMW:
		return c.lowerDivRemW(ir, opI64RemS, true)
	case isa.MnREMUW:
		return c.lowerDivRemW(ir, opI64RemU, false)
	default:
		return fmt.Errorf("translate: unhandled ALU mnemonic at %#x", ir.PC)
	}
	return nil
}

// signExtend32 truncates the stack's i64 to its low 32 bits and
// sign-extends back to 64, the W-variant finishing move spec.md §4.5
// calls out explicitly.
func (c *blockCtx) signExtend32() {
	c.b.emit(opI32WrapI64)
	c.b.code = append(c.b.code, 0xAC) // i64.extend_i32_s
}

func (c *blockCtx) signExtend32Unsigned() {
	c.b.emit(opI32WrapI64)
	c.b.code = append(c.b.code, 0xAD) // i64.extend_i32_u
}

// extendBoolToI64 widens an i32 comparison result (0 or 1) to i64, since
// every RISC-V destination register is 64 bits wide.
func (c *blockCtx) extendBoolToI64() {
	c.b.code = append(c.b.code, 0xAD) // i64.extend_i32_u
}

// lowerDivRem implements spec.md §4.5's RISC-V-defined division results:
// divide-by-zero yields quotient all-ones / remainder = dividend, and
// signed overflow (MinInt64 / -1) yields quotient = dividend / remainder 0,
// entirely via conditional branches so the wasm `trap` path is never
// invoked.
func (c *blockCtx) lowerDivRem(ir isa.Instruction, op byte, signed bool) error {
	ops := ir.Operands
	divisorLocal := c.b.newLocal()
	dividendLocal := c.b.newLocal()

	c.regs.get(ops.Rs1)
	c.b.emitLocalSet(dividendLocal)
	if ir.Class == isa.OpALUImmediate {
		c.b.emitI64Const(ops.Imm)
	} else {
		c.regs.get(ops.Rs2)
	}
	c.b.emitLocalSet(divisorLocal)

	c.b.emitLocalGet(divisorLocal)
	c.b.emitI64Const(0)
	c.b.emit(opI64Eq)
	c.b.emitIf(blockTypeI64)
	if op == opI64DivS || op == opI64DivU {
		c.b.emitI64Const(-1) // all-ones
	} else {
		c.b.emitLocalGet(dividendLocal) // remainder = dividend
	}
	c.b.emitElse()
	if signed {
		// guard the MinInt64 / -1 overflow case, which wasm's i64.div_s
		// traps on but RISC-V defines.
		c.b.emitLocalGet(dividendLocal)
		c.b.emitI64Const(int64(-9223372036854775808))
		c.b.emit(opI64Eq)
		c.b.emitLocalGet(divisorLocal)
		c.b.emitI64Const(-1)
		c.b.emit(opI64Eq)
		c.b.emit(0x71) // i32.and (both comparisons already yield i32)
		c.b.emitIf(blockTypeI64)
		if op == opI64DivS {
			c.b.emitLocalGet(dividendLocal)
		} else {
			c.b.emitI64Const(0)
		}
		c.b.emitElse()
		c.b.emitLocalGet(dividendLocal)
		c.b.emitLocalGet(divisorLocal)
		c.b.emit(op)
		c.b.emitEnd()
	} else {
		c.b.emitLocalGet(dividendLocal)
		c.b.emitLocalGet(divisorLocal)
		c.b.emit(op)
	}
	c.b.emitEnd()
	c.regs.setFromStack(ops.Rd)
	return nil
}

// lowerDivRemW is lowerDivRem's 32-bit counterpart for MULW's DIVW/DIVUW/
// REMW/REMUW siblings: operands are truncated to 32 bits (sign-extended for
// the signed ops, zero-extended for the unsigned ones) before the same
// divide-by-zero and MinInt32/-1 overflow branches apply, and the result is
// always sign-extended back to 64 bits per the W-variant convention, even
// for the unsigned divide/remainder.
func (c *blockCtx) lowerDivRemW(ir isa.Instruction, op byte, signed bool) error {
	ops := ir.Operands
	divisorLocal := c.b.newLocal()
	dividendLocal := c.b.newLocal()

	narrow := c.signExtend32
	if !signed {
		narrow = c.signExtend32Unsigned
	}

	c.regs.get(ops.Rs1)
	narrow()
	c.b.emitLocalSet(dividendLocal)
	if ir.Class == isa.OpALUImmediate {
		c.b.emitI64Const(ops.Imm)
	} else {
		c.regs.get(ops.Rs2)
	}
	narrow()
	c.b.emitLocalSet(divisorLocal)

	c.b.emitLocalGet(divisorLocal)
	c.b.emitI64Const(0)
	c.b.emit(opI64Eq)
	c.b.emitIf(blockTypeI64)
	if op == opI64DivS || op == opI64DivU {
		c.b.emitI64Const(-1) // all-ones
	} else {
		c.b.emitLocalGet(dividendLocal) // remainder = dividend
	}
	c.b.emitElse()
	if signed {
		// guard the MinInt32 / -1 overflow case.
		c.b.emitLocalGet(dividendLocal)
		c.b.emitI64Const(int64(-2147483648))
		c.b.emit(opI64Eq)
		c.b.emitLocalGet(divisorLocal)
		c.b.emitI64Const(-1)
		c.b.emit(opI64Eq)
		c.b.emit(0x71) // i32.and (both comparisons already yield i32)
		c.b.emitIf(blockTypeI64)
		if op == opI64DivS {
			c.b.emitLocalGet(dividendLocal)
		} else {
			c.b.emitI64Const(0)
		}
		c.b.emitElse()
		c.b.emitLocalGet(dividendLocal)
		c.b.emitLocalGet(divisorLocal)
		c.b.emit(op)
		c.b.emitEnd()
	} else {
		c.b.emitLocalGet(dividendLocal)
		c.b.emitLocalGet(divisorLocal)
		c.b.emit(op)
	}
	c.b.emitEnd()
	c.signExtend32()
	c.regs.setFromStack(ops.Rd)
	return nil
}
