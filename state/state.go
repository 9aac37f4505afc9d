// Package state holds the architectural register file shared between the
// dispatcher and each translated wasm function, passed by stable pointer.
// Grounded on vm/cpu.go's CPU/CPSR struct-of-registers design, generalized
// from ARM2's 15 GPRs + CPSR to RV64's GPR/FPR/vector/CSR file.
package state

// Vtype packs the fields of the RVV vtype CSR relevant to decoding and
// lowering: selected element width, register group multiplier, and the
// tail/mask agnostic-vs-undisturbed policy bits.
type Vtype struct {
	SEW       uint8 // 8, 16, 32, 64
	LMUL      int8  // signed: negative encodes fractional LMUL (1/2, 1/4, 1/8)
	TailAgnostic bool
	MaskAgnostic bool
}

// Fingerprint packs Vtype into the small scalar spec.md's GLOSSARY defines,
// used to disambiguate cache entries that share an entry PC but were
// compiled under different vector configurations.
func (v Vtype) Fingerprint() uint32 {
	var f uint32
	f |= uint32(v.SEW)
	f |= uint32(uint8(v.LMUL)) << 8
	if v.TailAgnostic {
		f |= 1 << 16
	}
	if v.MaskAgnostic {
		f |= 1 << 17
	}
	return f
}

// CSR addresses the core reads or writes directly, per spec.md §3.
const (
	CSRVstart  = 0x008
	CSRVtype   = 0xC21
	CSRVl      = 0xC20
	CSRFcsr    = 0x003
	CSRMstatus = 0x300
	CSRMepc    = 0x341
	CSRMcause  = 0x342
	CSRMtval   = 0x343
)

// File is the architectural register file for a single hart.
type File struct {
	X [32]uint64 // general purpose; X[0] is hard-wired to zero
	F [32]uint64 // floating point, double-width storage for F and D
	V [][]byte   // 32 vector registers, each VLEN/8 bytes

	PC uint64

	Vtype  Vtype
	Vl     uint64
	Vstart uint64
	Fcsr   uint64

	Mstatus uint64
	Mepc    uint64
	Mcause  uint64
	Mtval   uint64

	// Reservation for LR/SC; spec.md §4.5 and §9 Open Question (c): cleared
	// by any intervening store to the address, by SC, or by a TLB
	// shootdown (see mmu.MMU.Invalidate / Sfence).
	ReservationValid bool
	ReservationAddr  uint64
}

// New creates a register file sized for the given vector register width
// (VLEN, in bits).
func New(vlen uint) *File {
	f := &File{V: make([][]byte, 32)}
	for i := range f.V {
		f.V[i] = make([]byte, vlen/8)
	}
	return f
}

// GetX reads GPR i; x0 always reads as zero.
func (f *File) GetX(i uint8) uint64 {
	if i == 0 {
		return 0
	}
	return f.X[i]
}

// SetX writes GPR i; writes to x0 are silently discarded per spec.md §3.
func (f *File) SetX(i uint8, value uint64) {
	if i == 0 {
		return
	}
	f.X[i] = value
}

// ClearReservation drops any outstanding LR/SC reservation.
// dispatch.Dispatcher calls it after the Sfence it performs for a Fence
// reason, and from NotifyStore when a store covers the reserved address or
// triggers mmu.MMU.Invalidate. A translated SC clears the reservation word
// in state memory itself (regardless of outcome) and does not call this.
func (f *File) ClearReservation() {
	f.ReservationValid = false
	f.ReservationAddr = 0
}

// SetVtype installs a new vtype and recomputes Vl according to the AVL the
// caller already resolved; it is the only path that should mutate Vtype so
// the dispatcher's cache key and the file stay consistent.
func (f *File) SetVtype(vt Vtype, vl uint64) {
	f.Vtype = vt
	f.Vl = vl
}

// Trap records mcause/mepc/mtval, mirroring the dispatcher's trap path
// (spec.md §4.4: "mcause, mepc, mtval are written by the dispatcher").
func (f *File) Trap(cause, epc, tval uint64) {
	f.Mcause = cause
	f.Mepc = epc
	f.Mtval = tval
}
