// Package hostsim is an in-memory stand-in for the audio daemon hosting the
// access core: a hook bus, an object registry and a fake consent portal.
// The standalone harness and integration-style tests drive the core through
// it the same way the real host would.
package hostsim

import (
	"sort"
	"sync"

	"github.com/waveguard/waveguard/internal/access"
)

type accessHandler struct {
	id   int
	prio access.Priority
	fn   func(access.Request) access.Verdict
}

type clientHandler struct {
	id   int
	prio access.Priority
	fn   func(access.ClientInfo)
}

// Bus dispatches access hooks and client lifecycle hooks to registered
// handlers in priority order.
type Bus struct {
	mu      sync.Mutex
	nextID  int
	access  map[access.HookKind][]accessHandler
	clients map[access.ClientLifecycleEvent][]clientHandler
}

// NewBus creates an empty hook bus.
func NewBus() *Bus {
	return &Bus{
		access:  make(map[access.HookKind][]accessHandler),
		clients: make(map[access.ClientLifecycleEvent][]clientHandler),
	}
}

// RegisterAccess adds a handler for one hook kind. Lower priorities run
// first; registration order breaks ties.
func (b *Bus) RegisterAccess(kind access.HookKind, prio access.Priority, fn func(access.Request) access.Verdict) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.access[kind] = append(b.access[kind], accessHandler{id: id, prio: prio, fn: fn})
	sortAccessHandlers(b.access[kind])

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.access[kind] = removeAccessHandler(b.access[kind], id)
	}
}

// RegisterClient adds a handler for one client lifecycle event.
func (b *Bus) RegisterClient(ev access.ClientLifecycleEvent, prio access.Priority, fn func(access.ClientInfo)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.clients[ev] = append(b.clients[ev], clientHandler{id: id, prio: prio, fn: fn})
	sortClientHandlers(b.clients[ev])

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.clients[ev] = removeClientHandler(b.clients[ev], id)
	}
}

// Fire runs the handlers for a hook until one returns a verdict other than
// OK, which short-circuits the chain the way the real hook bus does.
func (b *Bus) Fire(kind access.HookKind, req access.Request) access.Verdict {
	b.mu.Lock()
	handlers := append([]accessHandler(nil), b.access[kind]...)
	b.mu.Unlock()

	for _, h := range handlers {
		if v := h.fn(req); v != access.VerdictOK {
			return v
		}
	}
	return access.VerdictOK
}

// FireClient delivers a client lifecycle event to all handlers.
func (b *Bus) FireClient(ev access.ClientLifecycleEvent, ci access.ClientInfo) {
	b.mu.Lock()
	handlers := append([]clientHandler(nil), b.clients[ev]...)
	b.mu.Unlock()

	for _, h := range handlers {
		h.fn(ci)
	}
}

// Registered returns how many handlers are attached for a hook kind.
func (b *Bus) Registered(kind access.HookKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.access[kind])
}

func sortAccessHandlers(hs []accessHandler) {
	sort.SliceStable(hs, func(i, j int) bool { return hs[i].prio < hs[j].prio })
}

func sortClientHandlers(hs []clientHandler) {
	sort.SliceStable(hs, func(i, j int) bool { return hs[i].prio < hs[j].prio })
}

func removeAccessHandler(hs []accessHandler, id int) []accessHandler {
	out := hs[:0]
	for _, h := range hs {
		if h.id != id {
			out = append(out, h)
		}
	}
	return out
}

func removeClientHandler(hs []clientHandler, id int) []clientHandler {
	out := hs[:0]
	for _, h := range hs {
		if h.id != id {
			out = append(out, h)
		}
	}
	return out
}
