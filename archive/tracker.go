package archive

import (
	"sync"

	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/fib"
)

// Tracker wraps a fib.Adapter, mirroring every successful Apply call
// into an in-memory map so Routes can answer "what is currently
// installed" without re-reading the kernel table — the same seam
// routeevent.Wrap decorates, used here to keep the state Build needs
// for a periodic snapshot instead of to publish a per-change event.
type Tracker struct {
	fib.Adapter

	mu     sync.Mutex
	routes map[addr.RouteKey]fib.Route
}

// Track wraps underlying with a Tracker.
func Track(underlying fib.Adapter) *Tracker {
	return &Tracker{Adapter: underlying, routes: make(map[addr.RouteKey]fib.Route)}
}

func (t *Tracker) Apply(adds, changes []fib.Route, dels []addr.RouteKey) error {
	if err := t.Adapter.Apply(adds, changes, dels); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range adds {
		t.routes[r.Key()] = r
	}
	for _, r := range changes {
		t.routes[r.Key()] = r
	}
	for _, k := range dels {
		delete(t.routes, k)
	}
	return nil
}

// Routes returns every route currently believed installed.
func (t *Tracker) Routes() []fib.Route {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]fib.Route, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r)
	}
	return out
}
