package iface

import (
	"context"
	"fmt"
	"log"
	"net/netip"
	"time"

	"github.com/vishvananda/netlink"

	"github.com/openolsr/olsrv2d/addr"
)

// Watcher polls the kernel's interface/address tables for a configured
// set of interface names and keeps a Table in sync, binding interfaces
// as they appear and unbinding them as they disappear. It polls rather
// than relying solely on netlink's subscribe API, the same "polling
// truly is the state of the art here" tradeoff the namespace watcher it
// is grounded on makes for /proc: a RTNETLINK subscription can miss
// address changes that don't touch RTM_NEWLINK/RTM_DELLINK at all.
type Watcher struct {
	table    *Table
	interval time.Duration
	names    map[string]bool
	bound    map[string]bool
}

// NewWatcher creates a Watcher driving table, polling every interval.
func NewWatcher(table *Table, interval time.Duration) *Watcher {
	return &Watcher{
		table:    table,
		interval: interval,
		names:    make(map[string]bool),
		bound:    make(map[string]bool),
	}
}

// Configure replaces the set of interface names the watcher should keep
// bound. Names no longer present are unbound on the next poll.
func (w *Watcher) Configure(names []string) {
	next := make(map[string]bool, len(names))
	for _, n := range names {
		next[n] = true
	}
	w.names = next
}

// Run polls until ctx is canceled, binding/unbinding interfaces in
// Table to match the configured name set and the kernel's current view
// of each interface's link state and addresses.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		if err := w.pollOnce(); err != nil {
			log.Println("iface: poll error:", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.interval):
		}
	}
}

func (w *Watcher) pollOnce() error {
	for name := range w.bound {
		if !w.names[name] {
			w.table.Unbind(name)
			delete(w.bound, name)
			w.table.RecomputeAll()
		}
	}

	for name := range w.names {
		link, err := netlink.LinkByName(name)
		if err != nil {
			if w.bound[name] {
				w.table.Unbind(name)
				delete(w.bound, name)
				w.table.RecomputeAll()
			}
			continue
		}
		if link.Attrs().OperState != netlink.OperUp && link.Attrs().OperState != netlink.OperUnknown {
			continue
		}

		addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
		if err != nil {
			return fmt.Errorf("iface: listing addresses for %s: %w", name, err)
		}

		var mac [6]byte
		copy(mac[:], link.Attrs().HardwareAddr)

		ifc := &Interface{
			Name:  name,
			Index: link.Attrs().Index,
			MAC:   mac,
		}
		for _, a := range addrs {
			na, ok := netip.AddrFromSlice(a.IP)
			if !ok {
				continue
			}
			na = na.Unmap()
			plen := uint8(na.BitLen())
			if a.Mask != nil {
				ones, _ := a.Mask.Size()
				plen = uint8(ones)
			}
			ifc.LocalAddresses = append(ifc.LocalAddresses, addr.FromNetipAddr(na).WithPrefixLen(plen))
		}

		w.table.Bind(ifc)
		w.bound[name] = true
	}
	return nil
}
