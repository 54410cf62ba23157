package relay

import (
	"sync"
)

// Factory builds the relay for a sheet.
type Factory func(sheet string) *Relay

// Registry tracks one relay per connected spreadsheet, in connection order.
// A relay lives while at least one panel connection for its sheet exists.
type Registry struct {
	factory Factory

	mu     sync.Mutex
	order  []string
	relays map[string]*entry
}

type entry struct {
	relay *Relay
	refs  int
}

// NewRegistry creates an empty Registry.
func NewRegistry(factory Factory) *Registry {
	return &Registry{factory: factory, relays: make(map[string]*entry)}
}

// Acquire returns the relay for sheet, creating and starting it on first
// use.
func (g *Registry) Acquire(sheet string) *Relay {
	g.mu.Lock()
	e, ok := g.relays[sheet]
	if ok {
		e.refs++
		g.mu.Unlock()
		return e.relay
	}
	e = &entry{relay: g.factory(sheet), refs: 1}
	g.relays[sheet] = e
	g.order = append(g.order, sheet)
	g.mu.Unlock()

	e.relay.Start()
	return e.relay
}

// Release drops one reference to sheet's relay, stopping and removing it
// when none remain.
func (g *Registry) Release(sheet string) {
	g.mu.Lock()
	e, ok := g.relays[sheet]
	if !ok {
		g.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		g.mu.Unlock()
		return
	}
	delete(g.relays, sheet)
	for i, s := range g.order {
		if s == sheet {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	g.mu.Unlock()

	e.relay.Stop()
}

// Get returns the relay for sheet, or nil.
func (g *Registry) Get(sheet string) *Relay {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.relays[sheet]; ok {
		return e.relay
	}
	return nil
}

// List returns relays in connection order.
func (g *Registry) List() []*Relay {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Relay, 0, len(g.order))
	for _, s := range g.order {
		out = append(out, g.relays[s].relay)
	}
	return out
}

// Statuses returns the status of every relay in connection order.
func (g *Registry) Statuses() []Status {
	relays := g.List()
	out := make([]Status, 0, len(relays))
	for _, r := range relays {
		out = append(out, r.Status())
	}
	return out
}
