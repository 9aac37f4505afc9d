// Package dispatch implements the dispatcher loop of spec.md §2: ask the
// cache for a handle, decode-and-translate on miss, invoke, service the
// reason code, repeat. Grounded on vm/executor.go's Run/Step loop style —
// a plain struct holding the owned subsystems, with one method per
// execution granularity.
package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/lookbusy1344/rv2wasm/cache"
	"github.com/lookbusy1344/rv2wasm/isa"
	"github.com/lookbusy1344/rv2wasm/mmu"
	"github.com/lookbusy1344/rv2wasm/state"
	"github.com/lookbusy1344/rv2wasm/trace"
	"github.com/lookbusy1344/rv2wasm/translate"
)

// Engine is the host WebAssembly engine's import/export surface, per
// spec.md §1's "consumed as a black-box executor with a defined
// import/export interface." The host engine itself is out of scope; this
// is the seam a concrete engine binding implements.
type Engine interface {
	// Instantiate compiles fn's bytecode and returns an opaque handle the
	// dispatcher can later Invoke.
	Instantiate(fn *translate.Function) (Handle, error)
	// Invoke calls the compiled function with the given state pointer and
	// returns its packed (reason, successor-PC) result.
	Invoke(h Handle, statePtr int64) (int64, error)
}

// Handle is an opaque compiled-function reference the Engine produces.
type Handle any

// Syscalls is the guest-facing syscall surface; Dispatcher calls it when a
// block returns ReasonSyscall. Grounded on vm/syscall.go's table-of-numbers
// dispatch style, narrowed to spec.md §9 Open Question (a)'s starting set.
type Syscalls interface {
	Handle(ctx context.Context, f *state.File, m *mmu.MMU) (exit bool, code int32, err error)
}

// Dispatcher owns one hart's worth of state and drives the cache-miss →
// decode → translate → invoke loop.
type Dispatcher struct {
	state    *state.File
	mmu      *mmu.MMU
	src      isa.InstructionSource
	cache    *cache.Cache
	engine   Engine
	syscalls Syscalls
	softCap  int
	trace    *trace.Trace
	listener Listener

	aborted atomic.Bool
}

// Listener receives a copy of every cache/reason event the dispatcher
// records to its trace, independent of tracing itself — the seam
// internal/introspect's WebSocket broadcaster attaches through, so a core
// package never needs to import that ambient concern.
type Listener interface {
	OnEvent(kind string, pc uint64, detail string)
}

// SetListener attaches l to receive a live copy of dispatcher events; nil
// (the default) disables this with no overhead beyond a nil check.
func (d *Dispatcher) SetListener(l Listener) { d.listener = l }

// New creates a dispatcher for a single hart. src is typically the same
// *mmu.MMU passed as m, kept separate so tests can substitute a fake
// instruction source without a full MMU.
func New(f *state.File, m *mmu.MMU, src isa.InstructionSource, c *cache.Cache, engine Engine, syscalls Syscalls, softCap int) *Dispatcher {
	return &Dispatcher{state: f, mmu: m, src: src, cache: c, engine: engine, syscalls: syscalls, softCap: softCap}
}

// SetTrace attaches a trace buffer the dispatcher reports cache and reason
// events into; nil (the default) disables tracing with no overhead beyond a
// nil check.
func (d *Dispatcher) SetTrace(t *trace.Trace) { d.trace = t }

// Abort requests cancellation at the next inter-block checkpoint, per
// spec.md §5: "the dispatcher checks a cancel flag between blocks."
func (d *Dispatcher) Abort() { d.aborted.Store(true) }

// Run drives the dispatcher until exit, trap-without-handler, or abort,
// returning the guest exit code from the `exit` syscall.
func (d *Dispatcher) Run(ctx context.Context) (exitCode int32, err error) {
	for {
		reason, err := d.Step(ctx)
		if err != nil {
			return 0, err
		}
		switch reason {
		case translate.ReasonContinue:
			continue
		case translate.ReasonSyscall:
			exit, code, err := d.syscalls.Handle(ctx, d.state, d.mmu)
			if err != nil {
				return 0, fmt.Errorf("dispatch: syscall: %w", err)
			}
			if exit {
				return code, nil
			}
		case translate.ReasonFence:
			d.mmu.Sfence()
			d.state.ClearReservation()
		case translate.ReasonDebug:
			// no debugger attached at the core layer; treat ebreak as a
			// no-op continuation, matching spec.md §7's "otherwise aborts"
			// only applying to unhandled traps, not debug stops.
		case translate.ReasonTrap, translate.ReasonIllegal:
			return 0, fmt.Errorf("dispatch: trap at pc %#x (mcause=%#x)", d.state.PC, d.state.Mcause)
		case translate.ReasonAborted:
			return 0, nil
		}
	}
}

// Step executes exactly one basic block and returns its reason code,
// servicing nothing itself — callers (Run, or a debugger-style stepper)
// decide what to do with the reason.
func (d *Dispatcher) Step(ctx context.Context) (translate.Reason, error) {
	if d.aborted.Load() {
		d.state.Mcause = 0
		return translate.ReasonAborted, nil
	}
	select {
	case <-ctx.Done():
		return translate.ReasonAborted, nil
	default:
	}

	key := cache.Key{EntryPC: d.state.PC, VtypeFinger: d.state.Vtype.Fingerprint()}
	missed := false
	handle, err := d.cache.GetOrCompile(key, func() (cache.Handle, uint64, uint64, uint64, error) {
		missed = true
		if d.trace != nil {
			d.trace.Record(trace.CategoryCacheMiss, key.EntryPC, "")
		}
		if d.listener != nil {
			d.listener.OnEvent("cache_miss", key.EntryPC, "")
		}
		return d.compile(key)
	})
	if err != nil {
		return translate.ReasonIllegal, err
	}
	if !missed {
		if d.trace != nil {
			d.trace.Record(trace.CategoryCacheHit, key.EntryPC, "")
		}
		if d.listener != nil {
			d.listener.OnEvent("cache_hit", key.EntryPC, "")
		}
	}

	packed, err := d.engine.Invoke(handle, int64(d.statePtr()))
	if err != nil {
		return translate.ReasonIllegal, fmt.Errorf("dispatch: invoke: %w", err)
	}
	reason, pc := translate.UnpackReturn(packed)
	d.state.PC = pc
	if d.trace != nil {
		d.trace.Record(trace.CategoryReason, key.EntryPC, reason.String())
	}
	if d.listener != nil {
		d.listener.OnEvent("reason", key.EntryPC, reason.String())
	}
	return reason, nil
}

// compile performs the decode-then-translate-then-instantiate sequence for
// a cache miss at key. Only one compile per key ever wins the race
// (cache.Cache.GetOrCompile's singleflight collapse); this function must be
// safe to run concurrently with itself for other keys.
func (d *Dispatcher) compile(key cache.Key) (cache.Handle, uint64, uint64, uint64, error) {
	instrs, err := isa.DecodeBlock(d.src, key.EntryPC, d.softCap)
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("dispatch: decode at %#x: %w", key.EntryPC, err)
	}
	fn, err := translate.Translate(instrs, d.state.Vtype, len(d.state.V[0]))
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("dispatch: translate block at %#x: %w", key.EntryPC, err)
	}
	handle, err := d.engine.Instantiate(fn)
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("dispatch: instantiate block at %#x: %w", key.EntryPC, err)
	}
	return handle, fn.CoveredLow, fn.CoveredHigh, d.mmu.WriteGeneration(), nil
}

// statePtr is the opaque handle the host environment uses to locate this
// dispatcher's register file inside the shared guest memory (see
// translate/abi.go); wiring it to a real offset is the engine binding's
// job, not the core's.
func (d *Dispatcher) statePtr() uintptr { return 0 }

// NotifyStore must be called by the engine binding's mmu_store_* helper
// implementations after every guest write of width bytes at addr, so
// self-modifying-code invalidation (spec.md §4.6) reaches the cache. It
// also drops the LR/SC reservation when the store covers the reserved
// address or invalidates a page's TLB entries.
func (d *Dispatcher) NotifyStore(addr uint64, width uint64) {
	gen := d.mmu.WriteGeneration()
	d.mmu.NotifyStore(addr)
	r := d.state.ReservationAddr
	if d.mmu.WriteGeneration() != gen || (d.state.ReservationValid && r >= addr && r-addr < width) {
		d.state.ClearReservation()
	}
	d.cache.Invalidate(addr, addr+width-1)
	if d.trace != nil {
		d.trace.Record(trace.CategoryInvalidate, addr, fmt.Sprintf("width=%d", width))
	}
	if d.listener != nil {
		d.listener.OnEvent("invalidate", addr, fmt.Sprintf("width=%d", width))
	}
}
