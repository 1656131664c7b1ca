// Package nhdp implements the NHDP (RFC 6130) link/neighbor/two-hop
// database: the Link and Neighbor state machines, hysteresis-based
// promotion/demotion, and two-hop neighbor bookkeeping that MPR
// selection and HELLO production both read. The map-of-structs-with-
// lazy-eviction shape mirrors a connection cache's current-state table,
// generalized from per-cycle eviction to per-timer expiry.
package nhdp

import (
	"sync"
	"time"

	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/metrics"
)

// DomainID identifies one routing domain (or the flooding domain, 0)
// for per-domain willingness/metric/MPR bookkeeping.
type DomainID uint8

// FloodingDomain is the reserved domain ID for flooding MPR state,
// distinct from any routing domain.
const FloodingDomain DomainID = 0

// DefaultMetric is RFC 7181's DEFAULT_METRIC: the link metric assumed
// for a domain until something (a HELLO LINK_METRIC TLV, typically)
// reports a better-known value.
const DefaultMetric uint32 = 1

// Status is a link's position in the NHDP link state machine.
type Status int

const (
	Pending Status = iota
	Heard
	Symmetric
	Lost
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Heard:
		return "HEARD"
	case Symmetric:
		return "SYMMETRIC"
	case Lost:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}

// TwoHopNeighbor is one address reachable via a Link's neighbor.
type TwoHopNeighbor struct {
	Address  addr.Address
	InMetric map[DomainID]uint32
	OutMetric map[DomainID]uint32
	Expires  time.Time
}

// Link represents one symmetric-capable adjacency on one local
// interface. Invariant: Status == Symmetric iff SymTime is after the
// time it was last checked (enforced by the Database, not by Link
// itself, since checking requires a clock).
type Link struct {
	Iface     string
	Addresses []addr.Address // neighbor's addresses reachable on this iface
	Neighbor  *Neighbor

	HeardTime time.Time // L_HEARD_time
	SymTime   time.Time // L_SYM_time
	Quality   float64   // hysteresis L_quality, in [0,1]
	Status    Status
	HoldUntil time.Time // LOST -> destroyed after this

	InMetric  map[DomainID]uint32
	OutMetric map[DomainID]uint32

	LocalIsFloodingMPR                bool
	NeighborIsFloodingMPRSelector     bool
	LocalIsRoutingMPR                 map[DomainID]bool
	NeighborIsRoutingMPRSelector      map[DomainID]bool

	TwoHop map[addr.Address]*TwoHopNeighbor

	DualStack *Link

	onThisIface bool
}

func newLink(ifaceName string) *Link {
	return &Link{
		Iface:                        ifaceName,
		InMetric:                     make(map[DomainID]uint32),
		OutMetric:                    make(map[DomainID]uint32),
		LocalIsRoutingMPR:            make(map[DomainID]bool),
		NeighborIsRoutingMPRSelector: make(map[DomainID]bool),
		TwoHop:                       make(map[addr.Address]*TwoHopNeighbor),
	}
}

// HasAddress reports whether a is one of this link's known neighbor
// addresses.
func (l *Link) HasAddress(a addr.Address) bool {
	for _, x := range l.Addresses {
		if x.Equal(a) {
			return true
		}
	}
	return false
}

func (l *Link) addAddress(a addr.Address) {
	if !l.HasAddress(a) {
		l.Addresses = append(l.Addresses, a)
	}
}

// Neighbor aggregates links across interfaces that share one
// originator address.
type Neighbor struct {
	Originator  addr.Address
	Links       []*Link // weak references, owned by Database/Link
	Willingness map[DomainID]uint8
}

// SymmetricLinkCount returns the number of this neighbor's links
// currently in the Symmetric state.
func (n *Neighbor) SymmetricLinkCount() int {
	count := 0
	for _, l := range n.Links {
		if l.Status == Symmetric {
			count++
		}
	}
	return count
}

// Metric returns the minimum OutMetric for domain d over this
// neighbor's symmetric links, and whether any such link exists.
func (n *Neighbor) Metric(d DomainID) (uint32, bool) {
	best := uint32(0)
	found := false
	for _, l := range n.Links {
		if l.Status != Symmetric {
			continue
		}
		m, ok := l.OutMetric[d]
		if !ok {
			continue
		}
		if !found || m < best {
			best = m
			found = true
		}
	}
	return best, found
}

// HysteresisConfig tunes the link-quality up/down thresholds per RFC
// 6130 appendix B defaults.
type HysteresisConfig struct {
	Accept  float64 // quality >= Accept is eligible for SYMMETRIC
	Reject  float64 // quality <= Reject forces LOST
	Scaling float64 // step size toward 1 (heard) or 0 (missed)
}

// DefaultHysteresis returns RFC 6130 appendix B's suggested defaults.
func DefaultHysteresis() HysteresisConfig {
	return HysteresisConfig{Accept: 0.80, Reject: 0.30, Scaling: 0.50}
}

// Database is the full NHDP link/neighbor/two-hop state, single-
// threaded in use (owned by the daemon run loop); its methods still
// take an internal mutex.
type Database struct {
	mu      sync.Mutex
	clock   func() time.Time
	hyst    HysteresisConfig
	domains []DomainID

	links     []*Link
	neighbors map[addr.Address]*Neighbor
}

// NewDatabase creates an empty Database. now is injected (rather than
// using time.Now directly) so tests can drive it with a FakeClock.
// domains is the full set of domain IDs (FloodingDomain plus every
// configured routing domain) that a link promoted to SYMMETRIC should
// be seeded with DefaultMetric for.
func NewDatabase(now func() time.Time, hyst HysteresisConfig, domains []DomainID) *Database {
	return &Database{
		clock:     now,
		hyst:      hyst,
		domains:   append([]DomainID(nil), domains...),
		neighbors: make(map[addr.Address]*Neighbor),
	}
}

// FindOrCreateLink matches any address in localIfSet against existing
// link-address tables on iface; if none match, a new PENDING link is
// created for iface.
func (db *Database) FindOrCreateLink(iface string, localIfSet []addr.Address) *Link {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, l := range db.links {
		if l.Iface != iface {
			continue
		}
		for _, a := range localIfSet {
			if l.HasAddress(a) {
				for _, a2 := range localIfSet {
					l.addAddress(a2)
				}
				return l
			}
		}
	}

	l := newLink(iface)
	for _, a := range localIfSet {
		l.addAddress(a)
	}
	db.links = append(db.links, l)
	metrics.SymmetricLinkCount.WithLabelValues(iface)
	return l
}

// Touch records that a HELLO referencing this link was received,
// setting L_HEARD_time and promoting PENDING to HEARD.
func (db *Database) Touch(l *Link, vtime time.Duration) {
	db.mu.Lock()
	defer db.mu.Unlock()
	now := db.clock()
	l.HeardTime = now.Add(vtime)
	if l.Status == Pending {
		l.Status = Heard
	}
	db.bumpQuality(l, true)
}

// ConfirmSymmetric is called when our own address appeared in the peer's
// HELLO with LINK_STATUS SYMMETRIC or HEARD: sets L_SYM_time and, if
// hysteresis accepts, promotes the link to Symmetric.
func (db *Database) ConfirmSymmetric(l *Link, vtime time.Duration, originator addr.Address) {
	db.mu.Lock()
	defer db.mu.Unlock()
	now := db.clock()
	l.SymTime = now.Add(vtime)
	db.bumpQuality(l, true)

	if l.Neighbor == nil {
		l.Neighbor = db.neighborFor(originator)
		l.Neighbor.Links = append(l.Neighbor.Links, l)
	}

	if l.SymTime.After(now) && l.Quality >= db.hyst.Accept {
		db.setStatus(l, Symmetric)
	}
}

func (db *Database) neighborFor(originator addr.Address) *Neighbor {
	n, ok := db.neighbors[originator]
	if !ok {
		n = &Neighbor{Originator: originator, Willingness: make(map[DomainID]uint8)}
		db.neighbors[originator] = n
	}
	return n
}

func (db *Database) bumpQuality(l *Link, heard bool) {
	if heard {
		l.Quality = l.Quality + db.hyst.Scaling*(1-l.Quality)
	} else {
		l.Quality = l.Quality * (1 - db.hyst.Scaling)
	}
	if l.Quality <= db.hyst.Reject && l.Status != Pending {
		db.setStatus(l, Lost)
	}
}

func (db *Database) setStatus(l *Link, s Status) {
	if l.Status == s {
		return
	}
	metrics.LinkStateTransitions.WithLabelValues(l.Status.String(), s.String()).Inc()
	l.Status = s
	if s == Lost {
		l.HoldUntil = db.clock().Add(holdTime)
	}
	if s == Symmetric {
		for _, d := range db.domains {
			if _, ok := l.InMetric[d]; !ok {
				l.InMetric[d] = DefaultMetric
			}
			if _, ok := l.OutMetric[d]; !ok {
				l.OutMetric[d] = DefaultMetric
			}
		}
	}
}

// holdTime is how long a LOST link lingers before Expire destroys it,
// giving MPR/SPF recomputation a chance to react to the loss before the
// link data disappears.
const holdTime = 3 * time.Second

// Expire walks every link, demoting any whose validity has lapsed and
// destroying any LOST link past its hold time. It returns the links
// that were destroyed this call, so callers can mark neighbors/SPF
// dirty.
func (db *Database) Expire(now time.Time) []*Link {
	db.mu.Lock()
	defer db.mu.Unlock()

	var destroyed []*Link
	kept := db.links[:0]
	for _, l := range db.links {
		if l.Status == Symmetric && now.After(l.SymTime) {
			db.setStatus(l, Heard)
		}
		if l.Status != Lost && now.After(l.HeardTime) && now.After(l.SymTime) {
			db.setStatus(l, Lost)
		}
		if l.Status == Lost && now.After(l.HoldUntil) {
			destroyed = append(destroyed, l)
			if l.Neighbor != nil {
				removeLink(l.Neighbor, l)
			}
			continue
		}
		kept = append(kept, l)
	}
	db.links = kept
	return destroyed
}

func removeLink(n *Neighbor, l *Link) {
	for i, x := range n.Links {
		if x == l {
			n.Links = append(n.Links[:i], n.Links[i+1:]...)
			return
		}
	}
}

// Neighbors returns a snapshot slice of every known neighbor.
func (db *Database) Neighbors() []*Neighbor {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]*Neighbor, 0, len(db.neighbors))
	for _, n := range db.neighbors {
		out = append(out, n)
	}
	return out
}

// Links returns a snapshot slice of every known link.
func (db *Database) Links() []*Link {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]*Link(nil), db.links...)
}

// Clock returns the database's current time, per its injected clock
// function. Exposed so callers (e.g. hello's Consumer) can compute
// expiry timestamps consistent with the Database's own notion of now.
func (db *Database) Clock() time.Time {
	return db.clock()
}

// ReplaceTwoHop replaces l's two-hop neighbor set with seen, the
// addresses harvested from a received HELLO's SYMMETRIC-status
// neighbor entries that are not one of the local addresses. Existing
// entries not present in seen are dropped: HELLOs carry the full
// current set, not a diff.
func (db *Database) ReplaceTwoHop(l *Link, seen map[addr.Address]*TwoHopNeighbor, expiry time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for a, th := range seen {
		th.Expires = expiry
		l.TwoHop[a] = th
	}
	for a := range l.TwoHop {
		if _, ok := seen[a]; !ok {
			delete(l.TwoHop, a)
		}
	}
}

// SetNeighborSelectedUsAsMPR records whether the peer on the far end of
// l has selected us as its MPR for domain, from an MPR TLV attached to
// our own address in its HELLO. domain == FloodingDomain updates the
// flooding-MPR-selector flag; any other domain updates the per-domain
// routing-MPR-selector map.
func (db *Database) SetNeighborSelectedUsAsMPR(l *Link, domain DomainID, selected bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if domain == FloodingDomain {
		l.NeighborIsFloodingMPRSelector = selected
		return
	}
	l.NeighborIsRoutingMPRSelector[domain] = selected
}

// SetLinkMetric records a per-domain metric learned from a peer's
// LINK_METRIC TLV attached to our own address in its HELLO, overriding
// whatever DefaultMetric was seeded when the link reached SYMMETRIC.
func (db *Database) SetLinkMetric(l *Link, domain DomainID, in, out uint32) {
	db.mu.Lock()
	defer db.mu.Unlock()
	l.InMetric[domain] = in
	l.OutMetric[domain] = out
}

// SetWillingness records originator's advertised MPR willingness for
// domain, from an MPR_WILLING TLV. The neighbor entry is created (with
// no links yet) if this is the first HELLO seen from originator.
func (db *Database) SetWillingness(originator addr.Address, domain DomainID, w uint8) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.neighborFor(originator).Willingness[domain] = w
}
