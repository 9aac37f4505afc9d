package translate

// regFile implements spec.md §4.5's lazy-load/dirty-writeback discipline:
// each guest GPR touched in a block gets a wasm local on first use: reads
// and writes inside the block operate on that local, and every dirty local
// is written back to the state model at block exit.
type regFile struct {
	b       *builder
	local   map[uint8]int
	dirty   map[uint8]bool
	touched []uint8 // touch order, for deterministic writeback
}

func newRegFile(b *builder) *regFile {
	return &regFile{b: b, local: make(map[uint8]int), dirty: make(map[uint8]bool)}
}

// get emits code that leaves the current value of GPR reg on the stack,
// lazily materializing a local for it on first use.
func (r *regFile) get(reg uint8) {
	if reg == 0 {
		r.b.emitI64Const(0)
		return
	}
	local, ok := r.local[reg]
	if !ok {
		local = r.b.newLocal()
		r.local[reg] = local
		r.touched = append(r.touched, reg)
		r.b.emitLoadStateField(xOffset(reg))
		r.b.emitLocalSet(local)
	}
	r.b.emitLocalGet(local)
}

// setFromStack emits code that pops the top-of-stack value into GPR reg's
// local, marking it dirty. Writes to x0 are discarded by dropping the
// value, per spec.md §3.
func (r *regFile) setFromStack(reg uint8) {
	if reg == 0 {
		r.b.code = append(r.b.code, 0x1A) // drop
		return
	}
	local, ok := r.local[reg]
	if !ok {
		local = r.b.newLocal()
		r.local[reg] = local
		r.touched = append(r.touched, reg)
	}
	r.b.emitLocalSet(local)
	r.dirty[reg] = true
}

// writeback emits a store-back for every dirty local, in touch order. Must
// run before every block exit (branch, jump, trap, syscall) so that, per
// spec.md §5, "any store is globally visible before the next block starts
// executing."
func (r *regFile) writeback() {
	for _, reg := range r.touched {
		if !r.dirty[reg] {
			continue
		}
		local := r.local[reg]
		r.b.emitStoreStateField(xOffset(reg), func() { r.b.emitLocalGet(local) })
	}
}
