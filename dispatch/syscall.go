package dispatch

import (
	"context"
	"fmt"
	"io"

	"github.com/lookbusy1344/rv2wasm/mmu"
	"github.com/lookbusy1344/rv2wasm/state"
)

// Linux RV64 syscall numbers this core implements, per spec.md §9 Open
// Question (a): "implementers should start from exit, write, read, brk."
const (
	sysRead  = 63
	sysWrite = 64
	sysExit  = 93
)

// LinuxSyscalls is the minimal Linux RV64 ABI surface spec.md §6 names:
// arguments in a0..a5, number in a7, return in a0. Grounded on
// vm/syscall.go's table-of-numbers dispatch, narrowed to the Open
// Question's starting set (exit, write, read, brk).
type LinuxSyscalls struct {
	Stdout io.Writer
	Stdin  io.Reader

	brk uint64 // current program break, per sbrk-style bump allocation
}

// NewLinuxSyscalls creates a syscall handler with the given guest
// stdout/stdin streams and initial break address.
func NewLinuxSyscalls(stdout io.Writer, stdin io.Reader, initialBrk uint64) *LinuxSyscalls {
	return &LinuxSyscalls{Stdout: stdout, Stdin: stdin, brk: initialBrk}
}

// Handle implements Syscalls.
func (s *LinuxSyscalls) Handle(ctx context.Context, f *state.File, m *mmu.MMU) (bool, int32, error) {
	num := f.GetX(17) // a7
	a0, a1, a2 := f.GetX(10), f.GetX(11), f.GetX(12)

	switch num {
	case sysExit:
		return true, int32(int64(a0)), nil

	case sysWrite:
		n, err := s.write(m, a0, a1, a2)
		if err != nil {
			f.SetX(10, ^uint64(0)) // -1
			return false, 0, nil
		}
		f.SetX(10, uint64(n))
		return false, 0, nil

	case sysRead:
		n, err := s.read(m, a0, a1, a2)
		if err != nil {
			f.SetX(10, ^uint64(0))
			return false, 0, nil
		}
		f.SetX(10, uint64(n))
		return false, 0, nil

	case 214: // brk
		if a0 != 0 {
			s.brk = a0
		}
		f.SetX(10, s.brk)
		return false, 0, nil

	default:
		return false, 0, fmt.Errorf("dispatch: unimplemented syscall number %d", num)
	}
}

func (s *LinuxSyscalls) write(m *mmu.MMU, fd, addr, count uint64) (int, error) {
	if fd != 1 && fd != 2 {
		return 0, fmt.Errorf("dispatch: unsupported fd %d for write", fd)
	}
	buf := make([]byte, count)
	if err := readGuestBytes(m, addr, buf); err != nil {
		return 0, err
	}
	return s.Stdout.Write(buf)
}

func (s *LinuxSyscalls) read(m *mmu.MMU, fd, addr, count uint64) (int, error) {
	if fd != 0 {
		return 0, fmt.Errorf("dispatch: unsupported fd %d for read", fd)
	}
	buf := make([]byte, count)
	n, err := s.Stdin.Read(buf)
	if err != nil && err != io.EOF {
		return 0, err
	}
	if werr := writeGuestBytes(m, addr, buf[:n]); werr != nil {
		return 0, werr
	}
	return n, nil
}

// readGuestBytes copies count bytes from guest memory at addr into dst,
// handling a straddling access the same way the translator's load lowering
// would via mmu.MMU.TranslateR's Split result.
func readGuestBytes(m *mmu.MMU, addr uint64, dst []byte) error {
	bytes, split, err := m.TranslateR(addr, len(dst))
	if err != nil {
		return err
	}
	if split != nil {
		copy(dst, split.Low)
		copy(dst[len(split.Low):], split.High)
		return nil
	}
	copy(dst, bytes)
	return nil
}

func writeGuestBytes(m *mmu.MMU, addr uint64, src []byte) error {
	bytes, split, err := m.TranslateW(addr, len(src))
	if err != nil {
		return err
	}
	if split != nil {
		n := copy(split.Low, src)
		copy(split.High, src[n:])
		return nil
	}
	copy(bytes, src)
	return nil
}
