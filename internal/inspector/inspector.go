// Package inspector is a read-only TUI attached to a running dispatcher,
// adapted from debugger/tui.go's tview.Application/Flex panel layout,
// narrowed from a full interactive source-level debugger to a live view over
// the register file, TLBs, translation cache occupancy, and recent trace
// events.
package inspector

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/lookbusy1344/rv2wasm/cache"
	"github.com/lookbusy1344/rv2wasm/mmu"
	"github.com/lookbusy1344/rv2wasm/state"
	"github.com/lookbusy1344/rv2wasm/trace"
)

// Inspector is a read-only view over one hart's live state. It never
// mutates the state, MMU, or cache it points at.
type Inspector struct {
	app *tview.Application

	registerView *tview.TextView
	vectorView   *tview.TextView
	mmuView      *tview.TextView
	traceView    *tview.TextView

	state *state.File
	mmu   *mmu.MMU
	cache *cache.Cache
	trace *trace.Trace
}

// New builds an inspector over f/m/c, optionally following t's recent
// events. t may be nil if tracing is disabled.
func New(f *state.File, m *mmu.MMU, c *cache.Cache, t *trace.Trace) *Inspector {
	insp := &Inspector{
		app:   tview.NewApplication(),
		state: f,
		mmu:   m,
		cache: c,
		trace: t,
	}
	insp.build()
	return insp
}

func (i *Inspector) build() {
	i.registerView = tview.NewTextView().SetDynamicColors(true)
	i.registerView.SetBorder(true).SetTitle(" Registers ")

	i.vectorView = tview.NewTextView().SetDynamicColors(true)
	i.vectorView.SetBorder(true).SetTitle(" Vector state ")

	i.mmuView = tview.NewTextView().SetDynamicColors(true)
	i.mmuView.SetBorder(true).SetTitle(" MMU / cache ")

	i.traceView = tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	i.traceView.SetBorder(true).SetTitle(" Recent events ")

	top := tview.NewFlex().
		AddItem(i.registerView, 0, 2, false).
		AddItem(i.vectorView, 0, 1, false).
		AddItem(i.mmuView, 0, 1, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(top, 0, 1, false).
		AddItem(i.traceView, 0, 1, false)

	i.app.SetRoot(root, true)
	i.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyEscape || ev.Rune() == 'q' {
			i.app.Stop()
			return nil
		}
		return ev
	})
}

// Refresh repaints every panel from current state. The caller drives the
// refresh cadence (e.g. a ticker alongside the dispatcher loop); Inspector
// does not poll on its own.
func (i *Inspector) Refresh() {
	i.app.QueueUpdateDraw(func() {
		i.renderRegisters()
		i.renderVector()
		i.renderMMU()
		i.renderTrace()
	})
}

func (i *Inspector) renderRegisters() {
	var b strings.Builder
	fmt.Fprintf(&b, "pc   %#018x\n", i.state.PC)
	for r := 0; r < 32; r += 2 {
		fmt.Fprintf(&b, "x%-2d  %#018x   x%-2d  %#018x\n", r, i.state.GetX(uint8(r)), r+1, i.state.GetX(uint8(r+1)))
	}
	i.registerView.SetText(b.String())
}

func (i *Inspector) renderVector() {
	vt := i.state.Vtype
	i.vectorView.Clear()
	fmt.Fprintf(i.vectorView, "sew    %d\nlmul   %d\nvl     %d\nvstart %d\nvta    %v\nvma    %v\n",
		vt.SEW, vt.LMUL, i.state.Vl, i.state.Vstart, vt.TailAgnostic, vt.MaskAgnostic)
}

func (i *Inspector) renderMMU() {
	i.mmuView.Clear()
	fmt.Fprintf(i.mmuView, "itlb   %d entries\ndtlb   %d entries\ncache  %d blocks\nreserv %v @ %#x\n",
		i.mmu.ITLBSize(), i.mmu.DTLBSize(), i.cache.Len(), i.state.ReservationValid, i.state.ReservationAddr)
}

func (i *Inspector) renderTrace() {
	i.traceView.Clear()
	if i.trace == nil {
		fmt.Fprint(i.traceView, "(tracing disabled)")
		return
	}
	entries := i.trace.Snapshot()
	start := 0
	if len(entries) > 200 {
		start = len(entries) - 200
	}
	for _, e := range entries[start:] {
		fmt.Fprintf(i.traceView, "[%d] %-13s pc=%#x %s\n", e.Sequence, e.Category, e.PC, e.Detail)
	}
}

// Run blocks driving the tview event loop until the user quits (q or Esc).
func (i *Inspector) Run() error {
	return i.app.Run()
}

// RunWithAutoRefresh starts a background ticker calling Refresh every
// interval alongside Run, stopping the ticker when Run returns.
func (i *Inspector) RunWithAutoRefresh(interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				i.Refresh()
			case <-done:
				return
			}
		}
	}()
	err := i.Run()
	close(done)
	return err
}
