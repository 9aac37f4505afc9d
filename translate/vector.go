package translate

import (
	"fmt"

	"github.com/lookbusy1344/rv2wasm/isa"
	"github.com/lookbusy1344/rv2wasm/state"
)

// Vector registers are variable-width (VLEN/8 bytes each) and live at
// offsetV in the same state_ptr-relative memory as the scalar ABI (abi.go),
// one vlenBytes-wide slot per register. Because every cached block is keyed
// by (entry-PC, vtype-fingerprint) per spec.md §4.2, SEW/LMUL are already
// resolved by the time a block is lowered, so lowerVectorALU and
// lowerVectorLoadStore emit a scalar wasm loop over vl elements directly,
// one element per iteration, rather than delegating element-stepping to a
// host import. No wasm SIMD (v128) instructions are emitted.
// VSETVLI/VSETIVLI/VSETVL still resolve vl through an imported helper
// (vector_config), since AVL resolution depends on the runtime VLMAX the
// dispatcher's configured VLEN determines, not on anything a translated
// block can compute statically.

func decodeVtypeImm(imm int64) state.Vtype {
	v := uint64(imm)
	lmulBits := v & 0x7
	sewBits := (v >> 3) & 0x7
	vta := (v>>6)&1 != 0
	vma := (v>>7)&1 != 0

	lmul := int8(lmulBits)
	if lmul > 4 {
		lmul = lmul - 8 // fractional LMUL encodes as a negative value
	}
	return state.Vtype{
		SEW:          uint8(8) << sewBits,
		LMUL:         lmul,
		TailAgnostic: vta,
		MaskAgnostic: vma,
	}
}

// lowerVectorConfig lowers VSETVLI/VSETIVLI/VSETVL, updating the block's
// abstract vtype, passing the AVL and the vtype (immediate, or rs2 for
// VSETVL) to the vector_config import, and storing the vl it returns into
// the state model. The emitted code does not write the state's vtype.
func (c *blockCtx) lowerVectorConfig(ir isa.Instruction) error {
	ops := ir.Operands
	switch ir.Mnemonic {
	case isa.MnVSETVLI, isa.MnVSETIVLI:
		c.vt = decodeVtypeImm(ops.Imm)
	case isa.MnVSETVL:
		// rs2 carries a runtime vtype value the helper resolves; the
		// block's abstract vtype becomes unknown until re-derived, so the
		// decoder would have re-fingerprinted from this point (spec.md
		// §4.2): nothing further to track statically here.
		c.vt = state.Vtype{}
	default:
		return fmt.Errorf("translate: unhandled vector-config mnemonic at %#x", ir.PC)
	}

	switch {
	case ir.Mnemonic == isa.MnVSETIVLI:
		c.b.emitI64Const(int64(ops.Rs1)) // the rs1 field is the 5-bit unsigned AVL
	case ops.Rs1 != 0:
		c.regs.get(ops.Rs1)
	default:
		c.b.emitI64Const(-1) // AVL = ~0 requests VLMAX, per the V spec's rs1=x0 special case
	}
	if ir.Mnemonic == isa.MnVSETVL {
		c.regs.get(ops.Rs2)
	} else {
		c.b.emitI64Const(ops.Imm)
	}
	c.b.emitCall(uint32(importVectorConfig))
	// the helper returns the resolved vl; store it and mirror into rd if
	// one was requested.
	vl := c.b.newLocal()
	c.b.emitLocalSet(vl)
	c.b.emitStoreStateField(offsetVl, func() { c.b.emitLocalGet(vl) })
	if ops.Rd != 0 {
		c.b.emitLocalGet(vl)
		c.regs.setFromStack(ops.Rd)
	}
	return nil
}

// lowerVectorALU emits a wasm loop stepping element-by-element from 0 to vl
// (loaded from state each iteration, so a vset earlier in the same block is
// observed), applying op to the lhs/rhs pair the
// mnemonic and funct3 select, and storing the result back into vd. Elements
// skipped by a clear v0 mask bit are left undisturbed, matching the
// mask-undisturbed policy; tail elements beyond vl are likewise left
// untouched rather than synthesizing an agnostic "may be anything" write.
func (c *blockCtx) lowerVectorALU(ir isa.Instruction) error {
	ops := ir.Operands
	var op byte
	switch ir.Mnemonic {
	case isa.MnVADDVV, isa.MnVADDVX, isa.MnVADDVI:
		op = opI64Add
	case isa.MnVSUBVV:
		op = opI64Sub
	case isa.MnVMULVV:
		op = opI64Mul
	default:
		return fmt.Errorf("translate: unhandled vector ALU mnemonic at %#x", ir.PC)
	}

	elemWidth := c.elementWidthBytes()

	i := c.b.newLocal()
	c.b.emitI64Const(0)
	c.b.emitLocalSet(i)

	c.b.emitBlock(blockTypeVoid)
	c.b.emitLoop(blockTypeVoid)

	c.b.emitLocalGet(i)
	c.b.emitLoadStateField(offsetVl)
	c.b.emit(opI64GeU)
	c.b.emitBrIf(1)

	if !ops.Vm {
		c.emitMaskBitSet(i)
		c.b.emitIf(blockTypeVoid)
	}

	c.pushVectorElementAddress(ops.Vd, i, elemWidth)
	c.emitVectorElementLoad(ops.Vs2, i, elemWidth)
	switch ops.Funct3 {
	case 0b100, 0b110: // OPIVX/OPMVX: scalar rs1, constant across elements
		c.regs.get(ops.Rs1)
	case 0b011: // OPIVI: sign-extended 5-bit immediate, constant across elements
		c.b.emitI64Const(ops.Imm)
	default: // OPIVV/OPMVV: per-element vs1
		c.emitVectorElementLoad(ops.Vs1, i, elemWidth)
	}
	c.b.emit(op)
	c.b.emitMemOp(storeOpForWidth(elemWidth), alignForWidth(elemWidth), c.vectorRegOffset(ops.Vd))

	if !ops.Vm {
		c.b.emitEnd() // if
	}

	c.b.emitLocalGet(i)
	c.b.emitI64Const(1)
	c.b.emit(opI64Add)
	c.b.emitLocalSet(i)
	c.b.emitBr(0)

	c.b.emitEnd() // loop
	c.b.emitEnd() // block
	return nil
}

// lowerVectorLoadStore emits a wasm loop over vl unit-stride elements,
// calling the matching width-specific MMU import per element (the same
// seam spec.md §4.5 assigns scalar loads/stores to) rather than a raw
// memory instruction, since the accessed address is guest memory behind
// the software MMU, not the state_ptr-relative region vector registers
// live in. Strided and indexed forms (a nonzero mop in ops.Imm) are not
// lowered and return ReasonIllegal.
func (c *blockCtx) lowerVectorLoadStore(ir isa.Instruction) error {
	ops := ir.Operands
	isLoad := ir.Mnemonic == isa.MnVLE

	elemWidth, loadImp, storeImp, ok := vectorElementWidth(ops.Funct3)
	if !ok {
		return fmt.Errorf("translate: unhandled vector load/store element width at %#x", ir.PC)
	}
	if ops.Imm != 0 { // mop 00 is unit-stride; other addressing modes are not lowered
		c.regs.writeback()
		c.b.emitReturnConst(ReasonIllegal, ir.PC)
		return nil
	}

	base := c.b.newLocal()
	c.regs.get(ops.Rs1)
	c.b.emitLocalSet(base)

	i := c.b.newLocal()
	c.b.emitI64Const(0)
	c.b.emitLocalSet(i)

	c.b.emitBlock(blockTypeVoid)
	c.b.emitLoop(blockTypeVoid)

	c.b.emitLocalGet(i)
	c.b.emitLoadStateField(offsetVl)
	c.b.emit(opI64GeU)
	c.b.emitBrIf(1)

	if !ops.Vm {
		c.emitMaskBitSet(i)
		c.b.emitIf(blockTypeVoid)
	}

	c.b.emitLocalGet(base)
	c.b.emitLocalGet(i)
	c.b.emitI64Const(elemWidth)
	c.b.emit(opI64Mul)
	c.b.emit(opI64Add)

	if isLoad {
		c.b.emitCall(uint32(loadImp))
		tmp := c.b.newLocal()
		c.b.emitLocalSet(tmp)
		c.pushVectorElementAddress(ops.Vd, i, elemWidth)
		c.b.emitLocalGet(tmp)
		c.b.emitMemOp(storeOpForWidth(elemWidth), alignForWidth(elemWidth), c.vectorRegOffset(ops.Vd))
	} else {
		c.emitVectorElementLoad(ops.Vs2, i, elemWidth) // vs3, the store's source register
		c.b.emitCall(uint32(storeImp))
	}

	if !ops.Vm {
		c.b.emitEnd() // if
	}

	c.b.emitLocalGet(i)
	c.b.emitI64Const(1)
	c.b.emit(opI64Add)
	c.b.emitLocalSet(i)
	c.b.emitBr(0)

	c.b.emitEnd() // loop
	c.b.emitEnd() // block
	return nil
}

// elementWidthBytes derives the ALU element width from the block's abstract
// vtype. A zero SEW means vtype became unresolved after a runtime VSETVL
// (see lowerVectorConfig); 4 bytes is a conservative default for that rare
// path, since the dispatcher re-fingerprints on the next block once the
// resolved vtype is known.
func (c *blockCtx) elementWidthBytes() int64 {
	if c.vt.SEW == 0 {
		return 4
	}
	return int64(c.vt.SEW / 8)
}

// vectorRegOffset is reg's byte offset from state_ptr, per abi.go's
// offsetV layout (32 registers, vlenBytes each).
func (c *blockCtx) vectorRegOffset(reg uint8) uint32 {
	return offsetV + uint32(reg)*uint32(c.vlenBytes)
}

// pushVectorElementAddress pushes the i32 address of element idxLocal of
// vector register reg (state_ptr + elemWidth*idx), leaving reg's own base
// offset to the caller's memarg.
func (c *blockCtx) pushVectorElementAddress(reg uint8, idxLocal int, elemWidth int64) {
	c.b.emitLocalGet(localStatePtr)
	c.b.emit(opI32WrapI64)
	c.b.emitLocalGet(idxLocal)
	c.b.emitI64Const(elemWidth)
	c.b.emit(opI64Mul)
	c.b.emit(opI32WrapI64)
	c.b.emit(opI32Add)
}

func (c *blockCtx) emitVectorElementLoad(reg uint8, idxLocal int, elemWidth int64) {
	c.pushVectorElementAddress(reg, idxLocal, elemWidth)
	c.b.emitMemOp(loadOpForWidth(elemWidth), alignForWidth(elemWidth), c.vectorRegOffset(reg))
}

// emitMaskBitSet pushes an i32 0/1 reporting whether v0's mask bit for
// element idxLocal is set, for use as an `if` condition.
func (c *blockCtx) emitMaskBitSet(idxLocal int) {
	c.b.emitLocalGet(localStatePtr)
	c.b.emit(opI32WrapI64)
	c.b.emitLocalGet(idxLocal)
	c.b.emitI64Const(3)
	c.b.emit(opI64ShrU)
	c.b.emit(opI32WrapI64)
	c.b.emit(opI32Add)
	c.b.emitMemOp(opI64Load8U, 0, c.vectorRegOffset(0))
	c.b.emitLocalGet(idxLocal)
	c.b.emitI64Const(7)
	c.b.emit(opI64And)
	c.b.emit(opI64ShrU)
	c.b.emitI64Const(1)
	c.b.emit(opI64And)
	c.b.emit(opI32WrapI64)
}

func loadOpForWidth(width int64) byte {
	switch width {
	case 1:
		return opI64Load8U
	case 2:
		return opI64Load16U
	case 4:
		return opI64Load32U
	default:
		return opI64Load
	}
}

func storeOpForWidth(width int64) byte {
	switch width {
	case 1:
		return opI64Store8
	case 2:
		return opI64Store16
	case 4:
		return opI64Store32
	default:
		return opI64Store
	}
}

func alignForWidth(width int64) uint32 {
	switch width {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	default:
		return 3
	}
}

// vectorElementWidth maps a unit-stride vector load/store's funct3 width
// selector to its element size and matching scalar MMU imports, the same
// four widths spec.md §4.2 names for the V extension's unit-stride forms.
func vectorElementWidth(funct3 uint8) (int64, importIdx, importIdx, bool) {
	switch funct3 {
	case 0b000:
		return 1, importMMULoadU8, importMMUStoreU8, true
	case 0b101:
		return 2, importMMULoadU16, importMMUStoreU16, true
	case 0b110:
		return 4, importMMULoadU32, importMMUStoreU32, true
	case 0b111:
		return 8, importMMULoadU64, importMMUStoreU64, true
	default:
		return 0, 0, 0, false
	}
}
