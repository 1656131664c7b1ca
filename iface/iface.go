// Package iface owns the local Interface table: one entry per bound
// network interface, its local address set, and the originator address
// selected for each IP family. Interfaces are created on config bind
// and destroyed on unbind, per the ownership rules every other package
// (nhdp, hello, olsrv2) depends on to find "my own addresses".
package iface

import (
	"fmt"
	"sync"

	"github.com/openolsr/olsrv2d/addr"
)

// ACL filters candidate originator addresses. The zero value (nil)
// allows everything.
type ACL interface {
	Allowed(a addr.Address) bool
}

type allowAll struct{}

func (allowAll) Allowed(addr.Address) bool { return true }

// Interface is one bound network interface.
type Interface struct {
	Name  string
	Index int
	MAC   [6]byte

	LocalAddresses []addr.Address

	HasOriginatorV4 bool
	OriginatorV4    addr.Address
	HasOriginatorV6 bool
	OriginatorV6    addr.Address

	// DualStack points at the sibling Interface carrying the other IP
	// family on the same physical link, when the deployment pairs them
	// (e.g. a single radio bound once per family). nil otherwise.
	DualStack *Interface
}

// recompute re-derives OriginatorV4/V6 from LocalAddresses, by
// priority: loopback, then non-link-local, then link-local, each
// filtered by acl. The first candidate passing the filter at the
// highest-priority tier wins.
func (i *Interface) recompute(acl ACL) {
	if acl == nil {
		acl = allowAll{}
	}
	i.HasOriginatorV4, i.OriginatorV4 = selectOriginator(i.LocalAddresses, addr.AF_INET, acl)
	i.HasOriginatorV6, i.OriginatorV6 = selectOriginator(i.LocalAddresses, addr.AF_INET6, acl)
}

func selectOriginator(candidates []addr.Address, family addr.Family, acl ACL) (bool, addr.Address) {
	var loopback, nonLinkLocal, linkLocal []addr.Address
	for _, a := range candidates {
		if a.Family() != family || !acl.Allowed(a) {
			continue
		}
		na := a.NetipAddr()
		switch {
		case na.IsLoopback():
			loopback = append(loopback, a)
		case na.IsLinkLocalUnicast():
			linkLocal = append(linkLocal, a)
		default:
			nonLinkLocal = append(nonLinkLocal, a)
		}
	}
	for _, tier := range [][]addr.Address{loopback, nonLinkLocal, linkLocal} {
		if len(tier) > 0 {
			return true, tier[0]
		}
	}
	return false, addr.Address{}
}

// Table is the global set of bound interfaces, keyed by name and index.
// It is not safe for concurrent mutation from multiple goroutines
// beyond the guard its own mutex provides; the daemon run loop is
// expected to be its only caller outside of the watcher goroutine.
type Table struct {
	mu      sync.Mutex
	acl     ACL
	byName  map[string]*Interface
	byIndex map[int]*Interface
}

// NewTable creates an empty interface table. acl (nil for allow-all)
// filters candidate originator addresses network-wide.
func NewTable(acl ACL) *Table {
	return &Table{
		acl:     acl,
		byName:  make(map[string]*Interface),
		byIndex: make(map[int]*Interface),
	}
}

// Bind registers iface into the table, computing its originators. It
// replaces any existing entry of the same name (e.g. on an address
// change re-bind).
func (t *Table) Bind(ifc *Interface) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ifc.recompute(t.acl)
	t.byName[ifc.Name] = ifc
	t.byIndex[ifc.Index] = ifc
}

// Unbind removes name from the table. Per the invariant that an
// originator address must remain present on at least one interface,
// callers that unbind the last interface carrying a given originator
// must trigger a recompute on every remaining interface afterward.
func (t *Table) Unbind(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ifc, ok := t.byName[name]; ok {
		delete(t.byIndex, ifc.Index)
		delete(t.byName, name)
	}
}

// Get returns the bound interface by name.
func (t *Table) Get(name string) (*Interface, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ifc, ok := t.byName[name]
	return ifc, ok
}

// GetByIndex returns the bound interface by kernel ifindex.
func (t *Table) GetByIndex(index int) (*Interface, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ifc, ok := t.byIndex[index]
	return ifc, ok
}

// All returns a snapshot slice of every bound interface.
func (t *Table) All() []*Interface {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Interface, 0, len(t.byName))
	for _, ifc := range t.byName {
		out = append(out, ifc)
	}
	return out
}

// HasOriginator reports whether a is currently the selected originator
// (either family) of any bound interface, the invariant that triggers a
// network-wide recompute if it would otherwise go unrepresented.
func (t *Table) HasOriginator(a addr.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ifc := range t.byName {
		if ifc.HasOriginatorV4 && ifc.OriginatorV4.Equal(a) {
			return true
		}
		if ifc.HasOriginatorV6 && ifc.OriginatorV6.Equal(a) {
			return true
		}
	}
	return false
}

// RecomputeAll re-derives every interface's originators, e.g. after an
// address disappears elsewhere in the table and this interface might
// now need to take over as the carrier of some originator.
func (t *Table) RecomputeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ifc := range t.byName {
		ifc.recompute(t.acl)
	}
}

// SetDualStack links a and b as dual-stack partners on the same
// physical link.
func (t *Table) SetDualStack(nameA, nameB string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.byName[nameA]
	if !ok {
		return fmt.Errorf("iface: unknown interface %q", nameA)
	}
	b, ok := t.byName[nameB]
	if !ok {
		return fmt.Errorf("iface: unknown interface %q", nameB)
	}
	a.DualStack = b
	b.DualStack = a
	return nil
}
