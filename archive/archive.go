// Package archive is the diagnostic snapshot archive (§8): on a slow
// timer, independent of the settle phase, the daemon can ask this
// package to flatten the current topology database and installed
// routes into one JSONL record, append it to a zstd-compressed file,
// and rotate that file by age. A human or an offline tool reads the
// archive back with Reader to answer "what did this node believe the
// network looked like at time T" without needing the daemon itself
// still running.
//
// The storage shape is adapted from the teacher's saver/zstd/snapshot
// trio: Writer plays saver.Saver's role (rotate-by-age, one open
// zstd.WriteCloser at a time), reusing the teacher's zstd package
// verbatim (an external-process pipe is domain-agnostic infrastructure,
// not something a routing snapshot needs to reinvent); Reader plays
// snapshot.Reader's role (one decoded record per Next() call). Protobuf
// records become JSONL, since this module has no existing protobuf
// schema to extend and gocsv/encoding-json are already the corpus's
// serialization idiom (routeevent, cmd/olsrctl).
package archive

import (
	"time"

	"github.com/openolsr/olsrv2d/fib"
	"github.com/openolsr/olsrv2d/tc"
)

// EdgeSnapshot is one flattened TcEdge.
type EdgeSnapshot struct {
	To      string                  `json:"to"`
	Metric  map[tc.DomainID]uint32  `json:"metric,omitempty"`
	Virtual bool                    `json:"virtual,omitempty"`
}

// AttachmentSnapshot is one flattened TcAttachment.
type AttachmentSnapshot struct {
	Prefix   string                 `json:"prefix"`
	Metric   map[tc.DomainID]uint32 `json:"metric,omitempty"`
	Distance uint8                  `json:"distance,omitempty"`
}

// NodeSnapshot is one flattened TcNode.
type NodeSnapshot struct {
	Originator     string               `json:"originator"`
	Ansn           uint16               `json:"ansn,omitempty"`
	DirectNeighbor bool                 `json:"direct_neighbor,omitempty"`
	Edges          []EdgeSnapshot       `json:"edges,omitempty"`
	Attachments    []AttachmentSnapshot `json:"attachments,omitempty"`
}

// RouteSnapshot is one flattened fib.Route, labeled with the domain
// that installed it. Carries the same csv-tagged idiom as fib.Route
// itself, so cmd/olsrctl can dump it with gocsv directly.
type RouteSnapshot struct {
	Domain    int    `json:"domain" csv:"Route.Domain"`
	Dst       string `json:"dst" csv:"Route.Dst"`
	Src       string `json:"src,omitempty" csv:"Route.Src"`
	Gateway   string `json:"gateway" csv:"Route.Gateway"`
	IfaceName string `json:"iface" csv:"Route.Iface"`
	Metric    uint32 `json:"metric" csv:"Route.Metric"`
	Distance  uint8  `json:"distance,omitempty" csv:"Route.Distance"`
}

// Snapshot is one archive record: this node's entire topology database
// and installed route set at Timestamp.
type Snapshot struct {
	RunID     string          `json:"run_id"`
	Timestamp time.Time       `json:"timestamp"`
	Nodes     []NodeSnapshot  `json:"nodes"`
	Routes    []RouteSnapshot `json:"routes"`
}

// Build flattens db and the routes currently installed per domain into
// one Snapshot, stamped runID/now.
func Build(runID string, now time.Time, db *tc.Database, routes map[int][]fib.Route) Snapshot {
	nodes := db.Nodes()
	s := Snapshot{RunID: runID, Timestamp: now, Nodes: make([]NodeSnapshot, 0, len(nodes))}
	for _, n := range nodes {
		ns := NodeSnapshot{
			Originator: n.Originator.String(), Ansn: n.Ansn, DirectNeighbor: n.DirectNeighbor,
		}
		for _, e := range n.Edges {
			ns.Edges = append(ns.Edges, EdgeSnapshot{To: e.To.Originator.String(), Metric: e.Metric, Virtual: e.Virtual})
		}
		for _, a := range n.Attachments {
			ns.Attachments = append(ns.Attachments, AttachmentSnapshot{
				Prefix: a.Endpoint.Prefix.String(), Metric: a.Metric, Distance: a.Distance,
			})
		}
		s.Nodes = append(s.Nodes, ns)
	}
	for domain, rs := range routes {
		for _, r := range rs {
			rs := RouteSnapshot{
				Domain: domain, Dst: r.Dst.String(), Gateway: r.Gateway.String(),
				IfaceName: r.IfaceName, Metric: r.Metric, Distance: r.Distance,
			}
			if r.Src.Len() > 0 {
				rs.Src = r.Src.String()
			}
			s.Routes = append(s.Routes, rs)
		}
	}
	return s
}
