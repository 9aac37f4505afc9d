package translate

// The register/state model (state.File) is exposed to emitted wasm
// functions as a byte offset into the single imported linear memory, per
// spec.md §6 ("one imported memory representing guest RAM... state_ptr:
// i64"). The dispatcher maps the host state.File at a fixed offset inside
// that same memory before invoking a block, so a translated function reads
// and writes architectural state with ordinary i64.load/i64.store against
// state_ptr, wrapped to i32 for the memory instruction's address operand.
//
// Layout (all offsets relative to state_ptr, 8-byte aligned):
const (
	offsetX          = 0               // X[0..31], 32*8 bytes
	offsetF          = offsetX + 32*8  // F[0..31], 32*8 bytes
	offsetPC         = offsetF + 32*8
	offsetVl         = offsetPC + 8
	offsetVstart     = offsetVl + 8
	offsetFcsr       = offsetVstart + 8
	offsetMstatus    = offsetFcsr + 8
	offsetMepc       = offsetMstatus + 8
	offsetMcause     = offsetMepc + 8
	offsetMtval      = offsetMcause + 8
	offsetReservAddr = offsetMtval + 8
	offsetReservOK   = offsetReservAddr + 8 // 0/1, stored as i64
	offsetV          = offsetReservOK + 8   // V[0..31], each vlenBytes wide
)

func xOffset(reg uint8) uint32 { return uint32(offsetX + int(reg)*8) }

// localStatePtr is always wasm local 0, the function's sole parameter.
const localStatePtr = 0

func (b *builder) emitLoadStateField(offset uint32) {
	b.emitLocalGet(localStatePtr)
	b.emit(opI32WrapI64)
	b.emitMemOp(opI64Load, 3, offset)
}

func (b *builder) emitStoreStateField(offset uint32, pushValue func()) {
	b.emitLocalGet(localStatePtr)
	b.emit(opI32WrapI64)
	pushValue()
	b.emitMemOp(opI64Store, 3, offset)
}
