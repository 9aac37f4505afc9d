// Package hostmem backs the guest address space with real host memory.
// Pages are anonymous mmap regions so the software MMU can enforce guest
// R/W/X permissions with host mprotect as a second line of defense beneath
// the explicit permission checks in package mmu. Grounded on the
// teacher's vm/memory.go segment table, generalized from a handful of
// fixed ARM segments to an arbitrary set of page-granular guest mappings.
package hostmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Perm is the permission bitmask for a guest page.
type Perm uint8

const (
	PermNone  Perm = 0
	PermRead  Perm = 1 << 0
	PermWrite Perm = 1 << 1
	PermExec  Perm = 1 << 2
)

func (p Perm) prot() int {
	var prot int
	if p&PermRead != 0 {
		prot |= unix.PROT_READ
	}
	if p&PermWrite != 0 {
		prot |= unix.PROT_WRITE
	}
	if p&PermExec != 0 {
		prot |= unix.PROT_EXEC
	}
	return prot
}

// Page is one host-backed guest page.
type Page struct {
	VAddr uint64
	Size  uint32
	Perm  Perm
	data  []byte
}

// Bytes returns the page's backing storage.
func (p *Page) Bytes() []byte { return p.data }

// Space is the guest's flat virtual address space, realized as a sparse
// set of host-mmap'd pages.
type Space struct {
	pageSize uint64
	pages    map[uint64]*Page // keyed by page number (vaddr / pageSize)
}

// NewSpace creates an empty address space with the given page size.
func NewSpace(pageSize uint32) *Space {
	return &Space{pageSize: uint64(pageSize), pages: make(map[uint64]*Page)}
}

func (s *Space) pageNumber(vaddr uint64) uint64 { return vaddr / s.pageSize }

// Map creates the pages covering [vaddr, vaddr+size), starting at vaddr
// rounded down to a page boundary, with the given permissions, backed by
// anonymous host memory.
// It returns BadImage-shaped errors via fmt.Errorf; callers decide how to
// surface them.
func (s *Space) Map(vaddr uint64, size uint32, perm Perm) error {
	base := vaddr - (vaddr % s.pageSize)
	end := vaddr + uint64(size)
	for p := base; p < end; p += s.pageSize {
		pn := s.pageNumber(p)
		if _, exists := s.pages[pn]; exists {
			return fmt.Errorf("hostmem: page %#x already mapped", p)
		}
		data, err := unix.Mmap(-1, 0, int(s.pageSize), perm.prot(), unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
		if err != nil {
			return fmt.Errorf("hostmem: mmap page %#x: %w", p, err)
		}
		s.pages[pn] = &Page{VAddr: p, Size: uint32(s.pageSize), Perm: perm, data: data}
	}
	return nil
}

// Unmap releases the pages covering [vaddr, vaddr+size).
func (s *Space) Unmap(vaddr uint64, size uint32) error {
	base := vaddr - (vaddr % s.pageSize)
	end := vaddr + uint64(size)
	for p := base; p < end; p += s.pageSize {
		pn := s.pageNumber(p)
		page, ok := s.pages[pn]
		if !ok {
			continue
		}
		if err := unix.Munmap(page.data); err != nil {
			return fmt.Errorf("hostmem: munmap page %#x: %w", p, err)
		}
		delete(s.pages, pn)
	}
	return nil
}

// Protect updates the host protection bits for the page covering vaddr.
func (s *Space) Protect(vaddr uint64, perm Perm) error {
	page, ok := s.Page(vaddr)
	if !ok {
		return fmt.Errorf("hostmem: no page mapped at %#x", vaddr)
	}
	if err := unix.Mprotect(page.data, perm.prot()); err != nil {
		return fmt.Errorf("hostmem: mprotect page %#x: %w", page.VAddr, err)
	}
	page.Perm = perm
	return nil
}

// Page returns the page covering vaddr, if mapped.
func (s *Space) Page(vaddr uint64) (*Page, bool) {
	p, ok := s.pages[s.pageNumber(vaddr)]
	return p, ok
}

// PageSize reports the configured page size.
func (s *Space) PageSize() uint64 { return s.pageSize }

// Close unmaps every page, releasing host memory.
func (s *Space) Close() error {
	var firstErr error
	for _, page := range s.pages {
		if err := unix.Munmap(page.data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.pages = make(map[uint64]*Page)
	return firstErr
}
