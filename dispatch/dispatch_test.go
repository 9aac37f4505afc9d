package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lookbusy1344/rv2wasm/cache"
	"github.com/lookbusy1344/rv2wasm/internal/hostmem"
	"github.com/lookbusy1344/rv2wasm/mmu"
	"github.com/lookbusy1344/rv2wasm/state"
	"github.com/lookbusy1344/rv2wasm/translate"
)

func newTestDispatchMMU() *mmu.MMU {
	space := hostmem.NewSpace(4096)
	m := mmu.New(space, 64, 64)
	for _, base := range []uint64{0x1000, 0x2000, 0x3000} {
		_ = space.Map(base, 4096, hostmem.PermRead|hostmem.PermWrite|hostmem.PermExec)
		m.MapPage(base, mmu.PermRead|mmu.PermWrite|mmu.PermExec)
	}
	return m
}

// byteSource implements isa.InstructionSource over a flat byte slice, the
// same minimal test double style as isa/decode_test.go's sliceSource.
type byteSource struct {
	base  uint64
	bytes []byte
}

func (s *byteSource) FetchHalfword(pc uint64) (uint16, error) {
	off := pc - s.base
	if off+2 > uint64(len(s.bytes)) {
		return 0, errOOB
	}
	return uint16(s.bytes[off]) | uint16(s.bytes[off+1])<<8, nil
}

type oobError struct{}

func (oobError) Error() string { return "out of bounds" }

var errOOB = oobError{}

// fakeEngine lets dispatch_test drive Dispatcher.Run through a scripted
// sequence of (reason, pc) results without needing a real wasm host —
// Engine is an external collaborator per spec.md §1, exactly the seam a
// test should mock.
type fakeEngine struct {
	results      []int64
	next         int
	instantiated int
}

func (e *fakeEngine) Instantiate(fn *translate.Function) (Handle, error) {
	e.instantiated++
	return fn, nil
}

func (e *fakeEngine) Invoke(h Handle, statePtr int64) (int64, error) {
	v := e.results[e.next]
	if e.next < len(e.results)-1 {
		e.next++
	}
	return v, nil
}

type scriptedSyscalls struct {
	exitCode int32
}

func (s *scriptedSyscalls) Handle(ctx context.Context, f *state.File, m *mmu.MMU) (bool, int32, error) {
	return true, s.exitCode, nil
}

func TestDispatcherStepCompilesOnceAndHitsCacheAfter(t *testing.T) {
	// addi a0,x0,42 ; addi a7,x0,93 ; ecall
	code := []byte{0x13, 0x05, 0xA0, 0x02, 0x93, 0x08, 0xD0, 0x05, 0x73, 0x00, 0x00, 0x00}
	src := &byteSource{base: 0x1000, bytes: code}
	f := state.New(128)
	f.PC = 0x1000
	m := newTestDispatchMMU()
	c := cache.New(16)
	engine := &fakeEngine{results: []int64{translate.PackReturn(translate.ReasonSyscall, 0x100C)}}
	d := New(f, m, src, c, engine, &scriptedSyscalls{exitCode: 42}, 256)

	_, err := d.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, engine.instantiated)

	f.PC = 0x1000 // simulate a loop back to the same block
	_, err = d.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, engine.instantiated, "cache hit should avoid recompiling")
}

func TestDispatcherRunHandlesExitSyscall(t *testing.T) {
	code := []byte{0x13, 0x05, 0xA0, 0x02, 0x93, 0x08, 0xD0, 0x05, 0x73, 0x00, 0x00, 0x00}
	src := &byteSource{base: 0x2000, bytes: code}
	f := state.New(128)
	f.PC = 0x2000
	m := newTestDispatchMMU()
	c := cache.New(16)
	engine := &fakeEngine{results: []int64{translate.PackReturn(translate.ReasonSyscall, 0x200C)}}
	d := New(f, m, src, c, engine, &scriptedSyscalls{exitCode: 42}, 256)

	exitCode, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if exitCode != 42 {
		t.Fatalf("expected exit code 42, got %d", exitCode)
	}
}

func TestDispatcherAbortStopsTheLoop(t *testing.T) {
	code := []byte{0x13, 0x05, 0xA0, 0x02, 0x93, 0x08, 0xD0, 0x05, 0x73, 0x00, 0x00, 0x00}
	src := &byteSource{base: 0x3000, bytes: code}
	f := state.New(128)
	f.PC = 0x3000
	m := newTestDispatchMMU()
	c := cache.New(16)
	engine := &fakeEngine{results: []int64{translate.PackReturn(translate.ReasonContinue, 0x3000)}}
	d := New(f, m, src, c, engine, &scriptedSyscalls{}, 256)
	d.Abort()

	exitCode, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if exitCode != 0 {
		t.Fatalf("expected zero exit code on abort, got %d", exitCode)
	}
}
