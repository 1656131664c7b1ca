// Package spf is the per-domain Dijkstra routing engine (§4.6): it
// builds a graph from the tc and nhdp databases, runs a min-heap
// shortest-path search from self, resolves a next-hop gateway and
// outgoing interface for every reached destination, and diffs the
// result against the previously installed route set to produce the
// additions/changes/deletions fib.Adapter.Apply expects.
//
// The graph-then-diff-then-apply shape mirrors the teacher's
// collector-to-saver pipeline (collect a batch, hand it to a
// comparator, emit only what changed), adapted from per-cycle TCP
// snapshots to per-settle topology snapshots.
package spf

import (
	"container/heap"
	"time"

	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/fib"
	"github.com/openolsr/olsrv2d/metrics"
	"github.com/openolsr/olsrv2d/nhdp"
	"github.com/openolsr/olsrv2d/tc"
)

// Engine computes and installs routes for one routing domain.
type Engine struct {
	Self     addr.Address
	Domain   tc.DomainID
	TC       *tc.Database
	NHDP     *nhdp.Database
	Adapter  fib.Adapter
	TableID  int
	ProtoID  int
	// SourcePrefix, if non-zero-length, is advertised as the source
	// match for every computed route (source-specific routing). When
	// the adapter rejects a non-empty source prefix, Recompute falls
	// back to publishing the destination-only route instead.
	SourcePrefix addr.Prefix

	installed map[addr.RouteKey]fib.Route
}

// vertex kinds.
const (
	kindRouter = iota
	kindEndpoint
)

type vertex struct {
	kind    int
	router  addr.Address
	prefix  addr.Prefix
}

type edge struct {
	to     string
	metric uint32
	// iface/gateways are set only on edges leaving self directly; they
	// seed the next-hop resolution for everything reachable through them.
	iface    string
	gateways []addr.Address
}

type label struct {
	dist     uint64
	hops     int
	reached  bool
	iface    string
	gateways []addr.Address
}

// graph is an adjacency list keyed by vertex key ("r:<addr>" for router
// vertices, "e:<prefix>" for endpoint vertices).
type graph struct {
	vertices map[string]vertex
	edges    map[string][]edge
}

func newGraph() *graph {
	return &graph{vertices: map[string]vertex{}, edges: map[string][]edge{}}
}

func routerKey(a addr.Address) string  { return "r:" + a.String() }
func endpointKey(p addr.Prefix) string { return "e:" + p.String() }

func (g *graph) addRouter(a addr.Address) string {
	k := routerKey(a)
	if _, ok := g.vertices[k]; !ok {
		g.vertices[k] = vertex{kind: kindRouter, router: a}
	}
	return k
}

func (g *graph) addEndpoint(p addr.Prefix) string {
	k := endpointKey(p)
	if _, ok := g.vertices[k]; !ok {
		g.vertices[k] = vertex{kind: kindEndpoint, prefix: p}
	}
	return k
}

func (g *graph) addEdge(from string, e edge) {
	g.edges[from] = append(g.edges[from], e)
}

// build assembles the graph per §4.6 step 1: TcNodes ∪ {self} ∪
// {attached TcEndpoints with a finite metric in this domain} ∪ direct
// 1-hop neighbors, with edges from self to symmetric neighbors, from
// TcNodes via their outgoing TcEdges, and from TcNodes to attached
// endpoints.
func (e *Engine) build() *graph {
	g := newGraph()
	selfKey := g.addRouter(e.Self)

	for _, l := range e.NHDP.Links() {
		if l.Status != nhdp.Symmetric || l.Neighbor == nil {
			continue
		}
		metric, ok := l.OutMetric[nhdp.DomainID(e.Domain)]
		if !ok {
			continue
		}
		nbrKey := g.addRouter(l.Neighbor.Originator)
		gateways := familyAddresses(l.Addresses)
		g.addEdge(selfKey, edge{to: nbrKey, metric: metric, iface: l.Iface, gateways: gateways})
	}

	for _, node := range e.TC.Nodes() {
		fromKey := g.addRouter(node.Originator)
		for _, ed := range node.Edges {
			m, ok := ed.Metric[e.Domain]
			if !ok {
				continue
			}
			toKey := g.addRouter(ed.To.Originator)
			g.addEdge(fromKey, edge{to: toKey, metric: m})
		}
		for _, att := range node.Attachments {
			m, ok := att.Metric[e.Domain]
			if !ok {
				continue
			}
			toKey := g.addEndpoint(att.Endpoint.Prefix)
			g.addEdge(fromKey, edge{to: toKey, metric: m})
		}
	}

	return g
}

func familyAddresses(addrs []addr.Address) []addr.Address {
	out := make([]addr.Address, len(addrs))
	copy(out, addrs)
	return out
}

// dijkstra runs the min-heap shortest-path search from self, tie-broken
// by hop count then vertex key, per §4.6 step 2.
func (g *graph) dijkstra(selfKey string) map[string]label {
	dist := map[string]label{selfKey: {dist: 0, hops: 0, reached: true}}
	pq := &pqueue{{key: selfKey, dist: 0, hops: 0}}
	heap.Init(pq)
	visited := map[string]bool{}

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(pqitem)
		if visited[cur.key] {
			continue
		}
		visited[cur.key] = true
		curLabel := dist[cur.key]

		for _, e := range g.edges[cur.key] {
			nd := curLabel.dist + uint64(e.metric)
			nh := curLabel.hops + 1
			existing, ok := dist[e.to]
			if ok && !better(nd, nh, e.to, existing.dist, existing.hops, e.to) {
				continue
			}
			next := label{dist: nd, hops: nh, reached: true}
			if e.iface != "" {
				next.iface = e.iface
				next.gateways = e.gateways
			} else {
				next.iface = curLabel.iface
				next.gateways = curLabel.gateways
			}
			dist[e.to] = next
			heap.Push(pq, pqitem{key: e.to, dist: nd, hops: nh})
		}
	}
	return dist
}

// better reports whether (dist, hops) at key a improves on (dist, hops)
// at key b, tie-broken by key string so the result is deterministic.
func better(ad uint64, ah int, akey string, bd uint64, bh int, bkey string) bool {
	if ad != bd {
		return ad < bd
	}
	if ah != bh {
		return ah < bh
	}
	return akey < bkey
}

type pqitem struct {
	key  string
	dist uint64
	hops int
}

type pqueue []pqitem

func (q pqueue) Len() int { return len(q) }
func (q pqueue) Less(i, j int) bool {
	return better(q[i].dist, q[i].hops, q[i].key, q[j].dist, q[j].hops, q[j].key)
}
func (q pqueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *pqueue) Push(x any)   { *q = append(*q, x.(pqitem)) }
func (q *pqueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Recompute runs Dijkstra over the current topology, diffs the result
// against the previously installed set, and applies the diff via the
// FIB adapter. A failed apply leaves the installed set (e.installed)
// unchanged so the next settle retries the same diff.
func (e *Engine) Recompute(now time.Time) error {
	start := time.Now()
	g := e.build()
	selfKey := routerKey(e.Self)
	labels := g.dijkstra(selfKey)

	desired := map[addr.RouteKey]fib.Route{}
	for key, v := range g.vertices {
		if key == selfKey {
			continue
		}
		lb, ok := labels[key]
		if !ok || !lb.reached || len(lb.gateways) == 0 {
			continue
		}

		var dst addr.Prefix
		switch v.kind {
		case kindRouter:
			dst = addr.NewPrefix(v.router)
		case kindEndpoint:
			dst = v.prefix
		}

		gw, ok := pickGateway(lb.gateways, dst.Family())
		if !ok {
			continue
		}

		route := fib.Route{
			Dst:       dst,
			Gateway:   gw,
			IfaceName: lb.iface,
			Metric:    uint32(lb.dist),
			TableID:   e.TableID,
			ProtoID:   e.ProtoID,
			Type:      fib.Unicast,
		}
		if e.SourcePrefix.Len() > 0 && e.SourcePrefix.Family() == dst.Family() {
			route.Src = e.SourcePrefix
		}
		desired[route.Key()] = route
	}

	adds, changes, dels := diff(e.installed, desired)

	if e.SourcePrefix.Len() > 0 {
		if err := e.applyWithFallback(adds, changes, dels); err != nil {
			return err
		}
	} else if err := e.Adapter.Apply(adds, changes, dels); err != nil {
		metrics.FIBRouteOps.WithLabelValues("apply", "temporary_fail").Add(float64(len(adds) + len(changes) + len(dels)))
		return err
	} else {
		metrics.FIBRouteOps.WithLabelValues("add", "ok").Add(float64(len(adds)))
		metrics.FIBRouteOps.WithLabelValues("change", "ok").Add(float64(len(changes)))
		metrics.FIBRouteOps.WithLabelValues("del", "ok").Add(float64(len(dels)))
	}

	e.installed = desired
	metrics.RouteCount.WithLabelValues(domainLabel(e.Domain)).Set(float64(len(desired)))
	metrics.SPFDuration.WithLabelValues(domainLabel(e.Domain)).Observe(time.Since(start).Seconds())
	return nil
}

// applyWithFallback retries with destination-only routes if the
// adapter rejects a non-empty source prefix (§4.6, source-specific
// routing fallback).
func (e *Engine) applyWithFallback(adds, changes []fib.Route, dels []addr.RouteKey) error {
	err := e.Adapter.Apply(adds, changes, dels)
	if err == nil {
		metrics.FIBRouteOps.WithLabelValues("add", "ok").Add(float64(len(adds)))
		return nil
	}
	fallbackAdds := stripSource(adds)
	fallbackChanges := stripSource(changes)
	if ferr := e.Adapter.Apply(fallbackAdds, fallbackChanges, dels); ferr != nil {
		metrics.FIBRouteOps.WithLabelValues("add", "temporary_fail").Add(float64(len(adds)))
		return ferr
	}
	return nil
}

func stripSource(routes []fib.Route) []fib.Route {
	out := make([]fib.Route, len(routes))
	for i, r := range routes {
		r.Src = addr.Prefix{}
		out[i] = r
	}
	return out
}

func pickGateway(candidates []addr.Address, family addr.Family) (addr.Address, bool) {
	for _, a := range candidates {
		if a.Family() == family {
			return a, true
		}
	}
	return addr.Address{}, false
}

// diff compares the previously installed route set against desired,
// producing additions, changes (same key, different route fields), and
// deletions, per §4.6 step 4.
func diff(installed, desired map[addr.RouteKey]fib.Route) (adds, changes []fib.Route, dels []addr.RouteKey) {
	for key, r := range desired {
		old, ok := installed[key]
		if !ok {
			adds = append(adds, r)
		} else if old != r {
			changes = append(changes, r)
		}
	}
	for key := range installed {
		if _, ok := desired[key]; !ok {
			dels = append(dels, key)
		}
	}
	return adds, changes, dels
}

func domainLabel(d tc.DomainID) string {
	if d == 0 {
		return "flood"
	}
	return string(rune('0' + int(d)))
}
