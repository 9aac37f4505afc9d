package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildMinimalELF hand-assembles the smallest valid RV64 ELF with a single
// PT_LOAD segment containing code, mirroring spec.md §8 seed test 1's
// "ELF with a single LOAD segment" scenario without pulling in a guest
// toolchain.
func buildMinimalELF(t *testing.T, code []byte, vaddr uint64) []byte {
	t.Helper()
	const ehsize = 64
	const phsize = 56

	var buf bytes.Buffer
	buf.Write([]byte{0x7F, 'E', 'L', 'F'})
	buf.WriteByte(byte(elf.ELFCLASS64))
	buf.WriteByte(byte(elf.ELFDATA2LSB))
	buf.WriteByte(byte(elf.EV_CURRENT))
	buf.WriteByte(0) // OSABI
	buf.Write(make([]byte, 8))

	le := binary.LittleEndian
	write16 := func(v uint16) { var b [2]byte; le.PutUint16(b[:], v); buf.Write(b[:]) }
	write32 := func(v uint32) { var b [4]byte; le.PutUint32(b[:], v); buf.Write(b[:]) }
	write64 := func(v uint64) { var b [8]byte; le.PutUint64(b[:], v); buf.Write(b[:]) }

	write16(uint16(elf.ET_EXEC))
	write16(0xF3) // EM_RISCV
	write32(uint32(elf.EV_CURRENT))
	write64(vaddr)          // e_entry
	write64(ehsize)         // e_phoff, right after the header
	write64(0)              // e_shoff
	write32(0)               // e_flags
	write16(ehsize)
	write16(phsize)
	write16(1) // e_phnum
	write16(0)
	write16(0)
	write16(0)

	// program header
	write32(uint32(elf.PT_LOAD))
	write32(uint32(elf.PF_R | elf.PF_X))
	write64(uint64(ehsize + phsize)) // p_offset
	write64(vaddr)                   // p_vaddr
	write64(vaddr)                   // p_paddr
	write64(uint64(len(code)))       // p_filesz
	write64(uint64(len(code)))       // p_memsz
	write64(0x1000)                  // p_align

	buf.Write(code)
	return buf.Bytes()
}

func TestLoadSingleSegment(t *testing.T) {
	code := []byte{0x13, 0x05, 0xA0, 0x02} // addi a0,x0,42
	raw := buildMinimalELF(t, code, 0x10000)

	img, err := Load(bytes.NewReader(raw), 4096, 64, 64)
	require.NoError(t, err)
	defer img.Space.Close()

	require.Equal(t, uint64(0x10000), img.Entry)
	page, ok := img.Space.Page(0x10000)
	require.True(t, ok, "expected entry page to be mapped")
	require.Equal(t, code, page.Bytes()[:len(code)], "expected code bytes to be copied into the mapped page")
}

func TestLoadRejectsWrongMachine(t *testing.T) {
	raw := buildMinimalELF(t, []byte{0, 0, 0, 0}, 0x1000)
	raw[18] = 0x03 // overwrite e_machine's low byte so it no longer reads as RISC-V (0xF3)
	_, err := Load(bytes.NewReader(raw), 4096, 64, 64)
	require.Error(t, err)
	require.IsType(t, &BadImageError{}, err)
}

func TestLoadRejectsZeroEntry(t *testing.T) {
	raw := buildMinimalELF(t, []byte{0x13, 0, 0, 0}, 0x10000)
	for i := 24; i < 32; i++ {
		raw[i] = 0 // zero out e_entry entirely
	}
	_, err := Load(bytes.NewReader(raw), 4096, 64, 64)
	require.Error(t, err)
	require.IsType(t, &BadImageError{}, err)
}
