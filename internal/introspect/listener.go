package introspect

// DispatchListener adapts a Broadcaster to dispatch.Listener without this
// package needing to import dispatch: dispatch depends only on the small
// Listener interface it declares, and this type satisfies it structurally.
type DispatchListener struct {
	b *Broadcaster
}

// NewDispatchListener wraps b so it can be passed to
// dispatch.Dispatcher.SetListener.
func NewDispatchListener(b *Broadcaster) *DispatchListener {
	return &DispatchListener{b: b}
}

// OnEvent implements dispatch.Listener.
func (l *DispatchListener) OnEvent(kind string, pc uint64, detail string) {
	l.b.Publish(Event{Type: EventType(kind), PC: pc, Detail: detail})
}
