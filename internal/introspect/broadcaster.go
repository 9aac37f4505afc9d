// Package introspect streams dispatcher events to external watchers over a
// WebSocket, adapted from api/broadcaster.go's fan-out Broadcaster and
// api/websocket.go's client read/write pumps, narrowed from session-scoped
// VM state/output/execution events to dispatcher-level cache and reason
// events.
package introspect

import "sync"

// EventType names the kind of dispatcher event broadcast to subscribers.
type EventType string

const (
	EventCacheHit    EventType = "cache_hit"
	EventCacheMiss   EventType = "cache_miss"
	EventInvalidate  EventType = "invalidate"
	EventReason      EventType = "reason"
	EventVectorSetup EventType = "vector_config"
)

// Event is one dispatcher occurrence broadcast to every connected watcher.
type Event struct {
	Type   EventType `json:"type"`
	PC     uint64    `json:"pc"`
	Detail string    `json:"detail"`
}

// Broadcaster fans Events out to any number of subscribed channels,
// dropping events for subscribers that fall behind rather than blocking the
// dispatcher that produces them.
type Broadcaster struct {
	mu            sync.RWMutex
	subscriptions map[chan Event]bool
	broadcast     chan Event
	register      chan chan Event
	unregister    chan chan Event
	done          chan struct{}
}

// NewBroadcaster creates and starts a broadcaster's event loop goroutine.
func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{
		subscriptions: make(map[chan Event]bool),
		broadcast:     make(chan Event, 256),
		register:      make(chan chan Event),
		unregister:    make(chan chan Event),
		done:          make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broadcaster) run() {
	for {
		select {
		case ch := <-b.register:
			b.mu.Lock()
			b.subscriptions[ch] = true
			b.mu.Unlock()

		case ch := <-b.unregister:
			b.mu.Lock()
			if b.subscriptions[ch] {
				delete(b.subscriptions, ch)
				close(ch)
			}
			b.mu.Unlock()

		case ev := <-b.broadcast:
			b.mu.RLock()
			for ch := range b.subscriptions {
				select {
				case ch <- ev:
				default:
					// slow subscriber, drop rather than stall the dispatcher
				}
			}
			b.mu.RUnlock()

		case <-b.done:
			b.mu.Lock()
			for ch := range b.subscriptions {
				close(ch)
			}
			b.subscriptions = make(map[chan Event]bool)
			b.mu.Unlock()
			return
		}
	}
}

// Subscribe registers a new channel that receives every future broadcast
// event until Unsubscribe is called.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.register <- ch
	return ch
}

// Unsubscribe removes and closes ch.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.unregister <- ch
}

// Publish sends ev to every current subscriber.
func (b *Broadcaster) Publish(ev Event) {
	select {
	case b.broadcast <- ev:
	default:
		// broadcaster's own channel is saturated; drop rather than block
	}
}

// Close shuts the broadcaster down, closing every subscriber channel.
func (b *Broadcaster) Close() { close(b.done) }
