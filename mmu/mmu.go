// Package mmu implements the software MMU spec.md §4.3 describes: a
// two-level TLB (separate I-TLB and D-TLB) mapping guest virtual addresses
// to host memory offsets and enforcing page permissions. Guest privilege
// levels are not checked, and misaligned accesses are not faulted: an
// access that straddles two pages is returned as a Split. Grounded on
// vm/memory.go's segment/permission design,
// generalized from a fixed ARM segment table to a paged RV64 space backed
// by internal/hostmem.
package mmu

import (
	"errors"
	"fmt"

	"github.com/lookbusy1344/rv2wasm/internal/hostmem"
)

// Perm mirrors hostmem.Perm so callers outside hostmem don't need to import
// it just to name a permission.
type Perm = hostmem.Perm

const (
	PermRead  = hostmem.PermRead
	PermWrite = hostmem.PermWrite
	PermExec  = hostmem.PermExec
)

// FaultKind identifies which class of access failed, per spec.md §7.
type FaultKind int

const (
	FaultInstPage FaultKind = iota
	FaultLoadPage
	FaultStorePage
	FaultMisaligned
)

func (k FaultKind) String() string {
	switch k {
	case FaultInstPage:
		return "InstPage"
	case FaultLoadPage:
		return "LoadPage"
	case FaultStorePage:
		return "StorePage"
	case FaultMisaligned:
		return "Misaligned"
	default:
		return "Unknown"
	}
}

// Fault is the MMU translation failure spec.md §7 names.
type Fault struct {
	Kind FaultKind
	Addr uint64
}

func (f *Fault) Error() string {
	return fmt.Sprintf("mmu fault(%s) at %#x", f.Kind, f.Addr)
}

var errPageUnmapped = errors.New("page unmapped")

// pageTableEntry mirrors spec.md §3's page metadata, keyed by page number
// in the shadow page table the loader and mmap-equivalent populate.
type pageTableEntry struct {
	perm       Perm
	generation uint64
}

// MMU owns the shadow page table, both TLBs, and the host-backed address
// space. One MMU per hart (spec.md §5: "TLBs are per-hart and
// unsynchronized").
type MMU struct {
	space    *hostmem.Space
	pageSize uint64

	pageTable map[uint64]*pageTableEntry
	itlb      *tlb
	dtlb      *tlb

	// writeGeneration increments on every Invalidate and Sfence call
	// (spec.md §4.6).
	writeGeneration uint64
}

// New creates an MMU over space with the given per-TLB capacities.
func New(space *hostmem.Space, itlbCapacity, dtlbCapacity int) *MMU {
	return &MMU{
		space:     space,
		pageSize:  space.PageSize(),
		pageTable: make(map[uint64]*pageTableEntry),
		itlb:      newTLB(itlbCapacity),
		dtlb:      newTLB(dtlbCapacity),
	}
}

func (m *MMU) pageNumber(addr uint64) uint64 { return addr / m.pageSize }

// MapPage registers perm for the page containing vaddr in the shadow page
// table. The caller (loader, guest mmap syscall) is responsible for the
// matching hostmem.Space.Map call; MapPage only updates translation state.
func (m *MMU) MapPage(vaddr uint64, perm Perm) {
	pn := m.pageNumber(vaddr)
	m.pageTable[pn] = &pageTableEntry{perm: perm}
}

// UnmapPage removes the page from the shadow page table and both TLBs.
func (m *MMU) UnmapPage(vaddr uint64) {
	pn := m.pageNumber(vaddr)
	delete(m.pageTable, pn)
	m.itlb.invalidate(pn)
	m.dtlb.invalidate(pn)
}

// WriteGeneration returns the monotonic counter bumped on every
// Invalidate and Sfence. The dispatcher records it with each cache entry;
// cache lookups do not compare it.
func (m *MMU) WriteGeneration() uint64 { return m.writeGeneration }

// Invalidate drops all TLB entries for page and bumps the write
// generation, per spec.md §4.3.
func (m *MMU) Invalidate(page uint64) {
	m.itlb.invalidate(page)
	m.dtlb.invalidate(page)
	m.writeGeneration++
}

// Sfence invalidates both TLBs entirely, as if by sfence.vma with no
// operands.
func (m *MMU) Sfence() {
	m.itlb.flush()
	m.dtlb.flush()
	m.writeGeneration++
}

func (m *MMU) walk(addr uint64) (*pageTableEntry, error) {
	pte, ok := m.pageTable[m.pageNumber(addr)]
	if !ok {
		return nil, errPageUnmapped
	}
	return pte, nil
}

func (m *MMU) hostSlice(addr uint64, length int) ([]byte, error) {
	page, ok := m.space.Page(addr)
	if !ok {
		return nil, errPageUnmapped
	}
	offset := addr % m.pageSize
	data := page.Bytes()
	if offset+uint64(length) > uint64(len(data)) {
		return nil, errors.New("mmu: access crosses unmapped region")
	}
	return data[offset : offset+uint64(length)], nil
}

// TranslateX resolves the host bytes backing the instruction fetch window
// starting at pc, consulting (and populating) the I-TLB.
func (m *MMU) TranslateX(pc uint64) ([]byte, error) {
	pn := m.pageNumber(pc)
	if e, ok := m.itlb.lookup(pn); ok {
		if e.perm&PermExec == 0 {
			return nil, &Fault{Kind: FaultInstPage, Addr: pc}
		}
		return m.sliceFromHostBase(e.hostBase, pc), nil
	}

	pte, err := m.walk(pc)
	if err != nil || pte.perm&PermExec == 0 {
		return nil, &Fault{Kind: FaultInstPage, Addr: pc}
	}
	page, ok := m.space.Page(pc)
	if !ok {
		return nil, &Fault{Kind: FaultInstPage, Addr: pc}
	}
	m.itlb.insert(tlbEntry{tag: pn, hostBase: page.Bytes(), perm: pte.perm, generation: pte.generation})
	return m.sliceFromHostBase(page.Bytes(), pc), nil
}

func (m *MMU) sliceFromHostBase(base []byte, addr uint64) []byte {
	offset := addr % m.pageSize
	return base[offset:]
}

// FetchHalfword implements isa.InstructionSource over the I-TLB.
func (m *MMU) FetchHalfword(pc uint64) (uint16, error) {
	bytes, err := m.TranslateX(pc)
	if err != nil {
		return 0, err
	}
	if len(bytes) < 2 {
		// straddles a page boundary; fetch the second half from the next page
		hi, err := m.TranslateX(pc + 1)
		if err != nil || len(hi) < 1 {
			return 0, &Fault{Kind: FaultInstPage, Addr: pc}
		}
		return uint16(bytes[0]) | uint16(hi[0])<<8, nil
	}
	return uint16(bytes[0]) | uint16(bytes[1])<<8, nil
}

// Split describes a misaligned access straddling two pages, per spec.md
// §4.3's "the MMU exposes a helper that returns both and the split offset."
type Split struct {
	FirstLen int
	Low      []byte
	High     []byte
}

func (m *MMU) translate(addr uint64, width int, write bool, tlbFor *tlb, faultKind FaultKind, needPerm Perm) ([]byte, *Split, error) {
	pageRemaining := int(m.pageSize - (addr % m.pageSize))
	if pageRemaining < width {
		low, err := m.translateSingle(addr, pageRemaining, tlbFor, faultKind, needPerm)
		if err != nil {
			return nil, nil, err
		}
		high, err := m.translateSingle(addr+uint64(pageRemaining), width-pageRemaining, tlbFor, faultKind, needPerm)
		if err != nil {
			return nil, nil, err
		}
		return nil, &Split{FirstLen: pageRemaining, Low: low, High: high}, nil
	}
	bytes, err := m.translateSingle(addr, width, tlbFor, faultKind, needPerm)
	return bytes, nil, err
}

func (m *MMU) translateSingle(addr uint64, width int, t *tlb, faultKind FaultKind, needPerm Perm) ([]byte, error) {
	pn := m.pageNumber(addr)
	if e, ok := t.lookup(pn); ok {
		if e.perm&needPerm == 0 {
			return nil, &Fault{Kind: faultKind, Addr: addr}
		}
		return m.sliceFromHostBase(e.hostBase, addr)[:width], nil
	}

	pte, err := m.walk(addr)
	if err != nil || pte.perm&needPerm == 0 {
		return nil, &Fault{Kind: faultKind, Addr: addr}
	}
	page, ok := m.space.Page(addr)
	if !ok {
		return nil, &Fault{Kind: faultKind, Addr: addr}
	}
	t.insert(tlbEntry{tag: pn, hostBase: page.Bytes(), perm: pte.perm, generation: pte.generation})
	return m.sliceFromHostBase(page.Bytes(), addr)[:width], nil
}

// TranslateR resolves width bytes for a guest load at addr through the
// D-TLB. If the access straddles two pages, split is non-nil and bytes is
// nil; the caller combines split.Low/split.High itself.
func (m *MMU) TranslateR(addr uint64, width int) (bytes []byte, split *Split, err error) {
	return m.translate(addr, width, false, m.dtlb, FaultLoadPage, PermRead)
}

// TranslateW resolves width bytes for a guest store at addr through the
// D-TLB.
func (m *MMU) TranslateW(addr uint64, width int) (bytes []byte, split *Split, err error) {
	return m.translate(addr, width, true, m.dtlb, FaultStorePage, PermWrite)
}

// NotifyStore is called through dispatch.Dispatcher.NotifyStore after every
// guest write. If the written page is writable-executable, this drops its
// TLB entries and bumps the write generation (via Invalidate); evicting
// stale translation cache entries is done by the dispatcher's
// cache.Invalidate call, per spec.md §4.6.
func (m *MMU) NotifyStore(addr uint64) {
	pte, err := m.walk(addr)
	if err != nil {
		return
	}
	if pte.perm&PermExec != 0 && pte.perm&PermWrite != 0 {
		m.Invalidate(m.pageNumber(addr))
	}
}

// ITLBSize and DTLBSize report current occupancy, for introspection.
func (m *MMU) ITLBSize() int { return m.itlb.len() }
func (m *MMU) DTLBSize() int { return m.dtlb.len() }
