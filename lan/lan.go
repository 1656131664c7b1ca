// Package lan bridges OS kernel routes into locally attached networks
// (LANs) this node advertises in its own TCs (§4.6, "LAN import"), and
// polls for them the same way the teacher polls /proc for network
// namespaces: no kernel notification is reliable enough to depend on
// exclusively, so a periodic full listing is diffed against the
// previous one to find what changed.
package lan

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/vishvananda/netlink"

	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/iface"
	"github.com/openolsr/olsrv2d/tc"
)

// Filter names one import rule: kernel routes whose outgoing interface
// matches IfaceName (or any interface, if empty) are imported as a LAN
// advertised with the given per-domain metric and hop distance.
type Filter struct {
	Name      string
	IfaceName string
	Metric    map[tc.DomainID]uint32
	Distance  uint8
}

// Network is one imported LAN, ready to be merged into
// olsrv2.Provider.LocalAttachments.
type Network struct {
	Prefix   addr.Prefix
	Metric   map[tc.DomainID]uint32
	Distance uint8
}

// listRoutes abstracts netlink.RouteList so tests can substitute a
// fixed kernel route table.
type listRoutes func() ([]netlink.Route, error)

// Watcher polls the kernel route table and matches it against a set of
// named import filters.
type Watcher struct {
	Filters []Filter
	Ifaces  *iface.Table
	// ExcludeProtoID skips routes this process itself installed via
	// fib.LinuxAdapter, so SPF-computed routes are never re-imported as
	// LANs (which would otherwise create an advertisement loop).
	ExcludeProtoID int

	list    listRoutes
	current map[addr.Prefix]Network
}

// NewWatcher creates a Watcher backed by the real kernel route table.
func NewWatcher(ifaces *iface.Table, filters []Filter, excludeProtoID int) *Watcher {
	return &Watcher{
		Filters:        filters,
		Ifaces:         ifaces,
		ExcludeProtoID: excludeProtoID,
		list:           func() ([]netlink.Route, error) { return netlink.RouteList(nil, netlink.FAMILY_ALL) },
		current:        make(map[addr.Prefix]Network),
	}
}

// Poll lists the kernel route table once, matches it against the
// configured filters, and diffs the result against the previous poll,
// returning the LANs that newly appeared or disappeared.
func (w *Watcher) Poll() (added, removed []Network, err error) {
	routes, err := w.list()
	if err != nil {
		return nil, nil, err
	}

	next := make(map[addr.Prefix]Network, len(w.current))
	for _, r := range routes {
		if r.Protocol == netlink.RouteProtocol(w.ExcludeProtoID) {
			continue
		}
		if r.Dst == nil {
			continue
		}
		f, ok := w.match(r)
		if !ok {
			continue
		}
		p, ok := prefixFromIPNet(r.Dst)
		if !ok {
			continue
		}
		next[p] = Network{Prefix: p, Metric: f.Metric, Distance: f.Distance}
	}

	for p, n := range next {
		if _, ok := w.current[p]; !ok {
			added = append(added, n)
		}
	}
	for p, n := range w.current {
		if _, ok := next[p]; !ok {
			removed = append(removed, n)
		}
	}
	w.current = next
	return added, removed, nil
}

func (w *Watcher) match(r netlink.Route) (Filter, bool) {
	for _, f := range w.Filters {
		if f.IfaceName == "" {
			return f, true
		}
		link, ok := w.Ifaces.GetByIndex(r.LinkIndex)
		if ok && link.Name == f.IfaceName {
			return f, true
		}
	}
	return Filter{}, false
}

func prefixFromIPNet(n *net.IPNet) (addr.Prefix, bool) {
	ip, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return addr.Prefix{}, false
	}
	ones, _ := n.Mask.Size()
	a := addr.FromNetipAddr(ip.Unmap()).WithPrefixLen(uint8(ones))
	return addr.NewPrefix(a), true
}

// Run polls every interval until ctx is canceled, invoking onChange
// with each poll's added/removed sets. Mirrors collector.Run's
// ticker-driven loop, adapted from "collect a batch and forward it" to
// "diff a snapshot and forward the delta".
func (w *Watcher) Run(ctx context.Context, interval time.Duration, onChange func(added, removed []Network)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			added, removed, err := w.Poll()
			if err != nil {
				continue
			}
			if len(added) > 0 || len(removed) > 0 {
				onChange(added, removed)
			}
		}
	}
}
