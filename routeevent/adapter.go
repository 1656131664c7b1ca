package routeevent

import (
	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/fib"
)

// publishingAdapter wraps a fib.Adapter, publishing one RouteEvent per
// diffed route only after the underlying Apply succeeds — an event
// reports a change that actually reached the forwarding table, not one
// SPF merely attempted.
type publishingAdapter struct {
	fib.Adapter
	domain int
	srv    Server
}

// Wrap adapts underlying so every successful Apply call also publishes
// an Added/Changed/Removed event per route on srv, labeled with domain
// (the spf.Engine's tc.DomainID, widened to int for the wire format).
// Mirrors sig.Wrap: the decoration happens at the one seam (Apply)
// spf.Engine already calls through, so Engine itself needs no
// awareness of event publishing.
func Wrap(underlying fib.Adapter, domain int, srv Server) fib.Adapter {
	if _, ok := srv.(nullServer); ok {
		return underlying
	}
	return publishingAdapter{Adapter: underlying, domain: domain, srv: srv}
}

func (p publishingAdapter) Apply(adds, changes []fib.Route, dels []addr.RouteKey) error {
	if err := p.Adapter.Apply(adds, changes, dels); err != nil {
		return err
	}
	for _, r := range adds {
		p.srv.RouteAdded(p.domain, r)
	}
	for _, r := range changes {
		p.srv.RouteChanged(p.domain, r)
	}
	for _, k := range dels {
		p.srv.RouteRemoved(p.domain, k)
	}
	return nil
}
