// Package tc is the OLSRv2 topology database: TcNodes keyed by
// originator, their outgoing TcEdges (with inverse-edge virtuality for
// the half of an adjacency no TC has directly confirmed), and
// TcEndpoints shared by reference-counted TcAttachments. ANSN lifecycle
// (RFC 1982 serial comparison, implicit withdrawal of edges/attachments
// not refreshed by a newer ANSN) follows the same current/previous
// generational-eviction shape as a connection cache, adapted from
// per-cycle swap to per-node ANSN-driven replacement.
package tc

import (
	"sync"
	"time"

	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/dup"
	"github.com/openolsr/olsrv2d/metrics"
)

// DomainID identifies a routing domain for per-domain edge/attachment
// metrics, matching nhdp.DomainID's space.
type DomainID uint8

// TcEdge is a directed adjacency from one TcNode to another.
type TcEdge struct {
	From, To *TcNode
	Metric   map[DomainID]uint32
	// Inverse is this edge's reverse direction. A virtual inverse is
	// synthesized if To has not itself advertised an edge back to From.
	// Inverse is nil on a real edge whose real reverse edge has since
	// been withdrawn (see withdrawEdge); no virtual inverse replaces it.
	Inverse *TcEdge
	// Virtual is true when this direction has not been confirmed by a
	// TC from its own From node — i.e. it exists only as the mirror of
	// the edge in the opposite direction.
	Virtual bool
}

// TcEndpoint is an attached-network prefix shared by every TcNode that
// advertises reaching it.
type TcEndpoint struct {
	Prefix      addr.Prefix
	attachments map[*TcNode]*TcAttachment
}

// TcAttachment is one TcNode's advertisement of reaching a TcEndpoint.
type TcAttachment struct {
	Node     *TcNode
	Endpoint *TcEndpoint
	Metric   map[DomainID]uint32
	Distance uint8
}

// TcNode is one originator's entry in the topology database.
type TcNode struct {
	Originator     addr.Address
	Ansn           uint16
	hasAnsn        bool
	ValidityTimer  time.Time
	DirectNeighbor bool

	Edges       map[addr.Address]*TcEdge // outgoing, keyed by To.Originator
	Attachments map[*TcEndpoint]*TcAttachment
}

func newNode(originator addr.Address) *TcNode {
	return &TcNode{
		Originator:  originator,
		Edges:       make(map[addr.Address]*TcEdge),
		Attachments: make(map[*TcEndpoint]*TcAttachment),
	}
}

// EdgeSpec is one outgoing adjacency from an incoming TC message.
type EdgeSpec struct {
	To     addr.Address
	Metric map[DomainID]uint32
}

// AttachmentSpec is one attached-network advertisement from an incoming
// TC message.
type AttachmentSpec struct {
	Prefix   addr.Prefix
	Metric   map[DomainID]uint32
	Distance uint8
}

// Database is the full topology database.
type Database struct {
	mu        sync.Mutex
	nodes     map[addr.Address]*TcNode
	endpoints map[addr.Prefix]*TcEndpoint
}

// NewDatabase creates an empty topology database.
func NewDatabase() *Database {
	return &Database{
		nodes:     make(map[addr.Address]*TcNode),
		endpoints: make(map[addr.Prefix]*TcEndpoint),
	}
}

func (db *Database) ensureNode(originator addr.Address) *TcNode {
	n, ok := db.nodes[originator]
	if !ok {
		n = newNode(originator)
		db.nodes[originator] = n
	}
	return n
}

// MarkDirectNeighbor records whether originator is currently a
// symmetric NHDP neighbor, exempting its TcNode from ANSN-validity
// pruning while true.
func (db *Database) MarkDirectNeighbor(originator addr.Address, direct bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.ensureNode(originator).DirectNeighbor = direct
}

// Node returns the TcNode for originator, if known.
func (db *Database) Node(originator addr.Address) (*TcNode, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	n, ok := db.nodes[originator]
	return n, ok
}

// Nodes returns a snapshot of every known TcNode.
func (db *Database) Nodes() []*TcNode {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]*TcNode, 0, len(db.nodes))
	for _, n := range db.nodes {
		out = append(out, n)
	}
	return out
}

// Accepted classifies whether an incoming TC's ANSN advances the
// originator's node, following §4.2's NEW/DUPLICATE/TOO_OLD shape but
// specialized to ANSN acceptance (no sliding window: TC replaces the
// entire edge/attachment set on acceptance, so only strictly newer or
// first-seen ANSNs are accepted).
type Accepted int

const (
	// AnsnAccepted means this is the first TC seen from this
	// originator, or its ANSN strictly advances the prior one; edges
	// and attachments are replaced.
	AnsnAccepted Accepted = iota
	// AnsnRefresh means the ANSN is unchanged from the last accepted
	// one: only the validity timer is refreshed.
	AnsnRefresh
	// AnsnStale means the ANSN is not newer than the last accepted one
	// under RFC 1982 comparison; the message is ignored.
	AnsnStale
)

// ApplyTC updates originator's TcNode from one parsed TC message. It
// returns how the ANSN was classified so the caller (olsrv2's reader)
// can drive its forwarding decision and metrics.
func (db *Database) ApplyTC(originator addr.Address, ansn uint16, vtime time.Duration, edges []EdgeSpec, attachments []AttachmentSpec, now time.Time) Accepted {
	db.mu.Lock()
	defer db.mu.Unlock()

	node := db.ensureNode(originator)

	if node.hasAnsn {
		if ansn == node.Ansn {
			node.ValidityTimer = now.Add(vtime)
			return AnsnRefresh
		}
		if !dup.SerialGreater(ansn, node.Ansn) {
			return AnsnStale
		}
	}

	node.Ansn = ansn
	node.hasAnsn = true
	node.ValidityTimer = now.Add(vtime)

	db.replaceEdges(node, edges)
	db.replaceAttachments(node, attachments)

	metrics.TCNodeCount.Set(float64(len(db.nodes)))
	return AnsnAccepted
}

func (db *Database) replaceEdges(node *TcNode, specs []EdgeSpec) {
	wanted := make(map[addr.Address]EdgeSpec, len(specs))
	for _, s := range specs {
		wanted[s.To] = s
	}

	// Withdraw edges no longer advertised.
	for dest, e := range node.Edges {
		if _, ok := wanted[dest]; !ok {
			db.withdrawEdge(node, e)
		}
	}

	for dest, s := range wanted {
		destNode := db.ensureNode(dest)
		e, ok := node.Edges[dest]
		if !ok {
			e = &TcEdge{From: node, To: destNode, Metric: s.Metric}
			node.Edges[dest] = e
			db.linkInverse(e)
		} else {
			e.Metric = s.Metric
			e.Virtual = false
		}
	}
}

// linkInverse ensures e.Inverse exists, creating a virtual mirror edge
// on To if To has not itself advertised an edge back to From.
func (db *Database) linkInverse(e *TcEdge) {
	if inv, ok := e.To.Edges[e.From.Originator]; ok {
		e.Inverse = inv
		inv.Inverse = e
		return
	}
	inv := &TcEdge{From: e.To, To: e.From, Virtual: true, Metric: e.Metric}
	e.To.Edges[e.From.Originator] = inv
	e.Inverse = inv
	inv.Inverse = e
}

// withdrawEdge removes e from node.Edges. If e's inverse is virtual, the
// inverse is dropped too, so no virtual-only edge is left referencing a
// real edge that no longer exists. If e's inverse is real, it stays
// real and keeps being advertised, and its Inverse is set to nil.
func (db *Database) withdrawEdge(node *TcNode, e *TcEdge) {
	delete(node.Edges, e.To.Originator)
	if e.Inverse != nil {
		if e.Inverse.Virtual {
			delete(e.Inverse.From.Edges, e.Inverse.To.Originator)
		} else {
			e.Inverse.Inverse = nil
		}
	}
}

func (db *Database) replaceAttachments(node *TcNode, specs []AttachmentSpec) {
	wanted := make(map[addr.Prefix]AttachmentSpec, len(specs))
	for _, s := range specs {
		wanted[s.Prefix] = s
	}

	for ep, att := range node.Attachments {
		if _, ok := wanted[ep.Prefix]; !ok {
			db.detach(node, att)
		}
	}

	for prefix, s := range wanted {
		ep, ok := db.endpoints[prefix]
		if !ok {
			ep = &TcEndpoint{Prefix: prefix, attachments: make(map[*TcNode]*TcAttachment)}
			db.endpoints[prefix] = ep
		}
		att, ok := ep.attachments[node]
		if !ok {
			att = &TcAttachment{Node: node, Endpoint: ep}
			ep.attachments[node] = att
			node.Attachments[ep] = att
		}
		att.Metric = s.Metric
		att.Distance = s.Distance
	}
}

func (db *Database) detach(node *TcNode, att *TcAttachment) {
	ep := att.Endpoint
	delete(node.Attachments, ep)
	delete(ep.attachments, node)
	if len(ep.attachments) == 0 {
		delete(db.endpoints, ep.Prefix)
	}
}

// Endpoints returns a snapshot of every known attached-network
// endpoint.
func (db *Database) Endpoints() []*TcEndpoint {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]*TcEndpoint, 0, len(db.endpoints))
	for _, ep := range db.endpoints {
		out = append(out, ep)
	}
	return out
}

// Attachments returns a snapshot of every TcAttachment on ep.
func (ep *TcEndpoint) Attachments() []*TcAttachment {
	out := make([]*TcAttachment, 0, len(ep.attachments))
	for _, a := range ep.attachments {
		out = append(out, a)
	}
	return out
}

// Prune removes every TcNode whose validity timer has lapsed and which
// is not a direct neighbor, along with its edges and attachments. It
// returns the originators removed.
func (db *Database) Prune(now time.Time) []addr.Address {
	db.mu.Lock()
	defer db.mu.Unlock()

	var removed []addr.Address
	for originator, node := range db.nodes {
		if node.DirectNeighbor || !now.After(node.ValidityTimer) {
			continue
		}
		for _, e := range node.Edges {
			db.withdrawEdge(node, e)
		}
		for _, att := range node.Attachments {
			db.detach(node, att)
		}
		delete(db.nodes, originator)
		removed = append(removed, originator)
	}
	if len(removed) > 0 {
		metrics.TCNodeCount.Set(float64(len(db.nodes)))
	}
	return removed
}

// Removable reports whether node has become a pure artifact of other
// nodes' advertisements — every edge touching it is virtual in both
// directions and it is not a direct neighbor — and so may be dropped
// even before its validity timer lapses.
func (node *TcNode) Removable() bool {
	if node.DirectNeighbor {
		return false
	}
	for _, e := range node.Edges {
		if !e.Virtual || (e.Inverse != nil && !e.Inverse.Virtual) {
			return false
		}
	}
	return true
}
