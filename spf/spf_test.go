package spf_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/go-test/deep"

	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/fib"
	"github.com/openolsr/olsrv2d/nhdp"
	"github.com/openolsr/olsrv2d/spf"
	"github.com/openolsr/olsrv2d/tc"
)

func ip(s string) addr.Address { return addr.FromNetipAddr(netip.MustParseAddr(s)) }

const domain = tc.DomainID(0)

type fakeAdapter struct {
	adds, changes []fib.Route
	dels          []addr.RouteKey
	err           error
}

func (f *fakeAdapter) Apply(adds, changes []fib.Route, dels []addr.RouteKey) error {
	if f.err != nil {
		return f.err
	}
	f.adds, f.changes, f.dels = adds, changes, dels
	return nil
}

func symmetricLink(db *nhdp.Database, iface string, neighborOriginator addr.Address, neighborAddrs []addr.Address, metric uint32) *nhdp.Link {
	l := db.FindOrCreateLink(iface, neighborAddrs)
	db.Touch(l, 20*time.Second)
	db.ConfirmSymmetric(l, 20*time.Second, neighborOriginator)
	db.Touch(l, 20*time.Second)
	db.ConfirmSymmetric(l, 20*time.Second, neighborOriginator)
	l.OutMetric[nhdp.DomainID(domain)] = metric
	return l
}

func TestRecomputeInstallsDirectNeighborRoute(t *testing.T) {
	self := ip("10.0.0.1")
	nbr := ip("10.0.0.2")
	nhdpDB := nhdp.NewDatabase(func() time.Time { return time.Unix(0, 0) }, nhdp.DefaultHysteresis(), []nhdp.DomainID{nhdp.DomainID(domain)})
	symmetricLink(nhdpDB, "eth0", nbr, []addr.Address{nbr}, 10)

	adapter := &fakeAdapter{}
	e := &spf.Engine{Self: self, Domain: domain, TC: tc.NewDatabase(), NHDP: nhdpDB, Adapter: adapter, TableID: 254, ProtoID: 17}
	if err := e.Recompute(time.Unix(1, 0)); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	if len(adapter.adds) != 1 {
		t.Fatalf("expected one route added, got %+v", adapter.adds)
	}
	r := adapter.adds[0]
	if !r.Dst.Equal(addr.NewPrefix(nbr)) || !r.Gateway.Equal(nbr) || r.IfaceName != "eth0" || r.Metric != 10 {
		t.Fatalf("unexpected route: %+v", r)
	}
}

func TestRecomputePrefersLowerMetricMultiHopPath(t *testing.T) {
	self := ip("10.0.0.1")
	mid := ip("10.0.0.2")
	far := ip("10.0.0.3")

	nhdpDB := nhdp.NewDatabase(func() time.Time { return time.Unix(0, 0) }, nhdp.DefaultHysteresis(), []nhdp.DomainID{nhdp.DomainID(domain)})
	symmetricLink(nhdpDB, "eth0", mid, []addr.Address{mid}, 5)

	tcDB := tc.NewDatabase()
	tcDB.ApplyTC(mid, 1, 20*time.Second, []tc.EdgeSpec{
		{To: far, Metric: map[tc.DomainID]uint32{domain: 3}},
	}, nil, time.Unix(0, 0))

	adapter := &fakeAdapter{}
	e := &spf.Engine{Self: self, Domain: domain, TC: tcDB, NHDP: nhdpDB, Adapter: adapter, TableID: 254, ProtoID: 17}
	if err := e.Recompute(time.Unix(1, 0)); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	var toFar *fib.Route
	for i := range adapter.adds {
		if adapter.adds[i].Dst.Equal(addr.NewPrefix(far)) {
			toFar = &adapter.adds[i]
		}
	}
	if toFar == nil {
		t.Fatalf("expected a route to %s, got %+v", far, adapter.adds)
	}
	if toFar.Gateway.Equal(mid) == false || toFar.IfaceName != "eth0" || toFar.Metric != 8 {
		t.Fatalf("expected next-hop %s via eth0 metric 8, got %+v", mid, toFar)
	}
}

func TestRecomputeReachesAttachedEndpoint(t *testing.T) {
	self := ip("10.0.0.1")
	mid := ip("10.0.0.2")
	lan := addr.NewPrefix(ip("192.168.5.0"))

	nhdpDB := nhdp.NewDatabase(func() time.Time { return time.Unix(0, 0) }, nhdp.DefaultHysteresis(), []nhdp.DomainID{nhdp.DomainID(domain)})
	symmetricLink(nhdpDB, "eth0", mid, []addr.Address{mid}, 1)

	tcDB := tc.NewDatabase()
	tcDB.ApplyTC(mid, 1, 20*time.Second, nil, []tc.AttachmentSpec{
		{Prefix: lan, Metric: map[tc.DomainID]uint32{domain: 2}, Distance: 1},
	}, time.Unix(0, 0))

	adapter := &fakeAdapter{}
	e := &spf.Engine{Self: self, Domain: domain, TC: tcDB, NHDP: nhdpDB, Adapter: adapter, TableID: 254, ProtoID: 17}
	if err := e.Recompute(time.Unix(1, 0)); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	var toLan *fib.Route
	for i := range adapter.adds {
		if adapter.adds[i].Dst.Equal(lan) {
			toLan = &adapter.adds[i]
		}
	}
	if toLan == nil {
		t.Fatalf("expected a route to %s, got %+v", lan, adapter.adds)
	}
	if toLan.Metric != 3 {
		t.Fatalf("expected combined metric 3, got %d", toLan.Metric)
	}
}

func TestRecomputeDiffsAgainstPreviouslyInstalled(t *testing.T) {
	self := ip("10.0.0.1")
	nbr := ip("10.0.0.2")
	nhdpDB := nhdp.NewDatabase(func() time.Time { return time.Unix(0, 0) }, nhdp.DefaultHysteresis(), []nhdp.DomainID{nhdp.DomainID(domain)})
	link := symmetricLink(nhdpDB, "eth0", nbr, []addr.Address{nbr}, 10)

	adapter := &fakeAdapter{}
	e := &spf.Engine{Self: self, Domain: domain, TC: tc.NewDatabase(), NHDP: nhdpDB, Adapter: adapter, TableID: 254, ProtoID: 17}
	if err := e.Recompute(time.Unix(1, 0)); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if len(adapter.adds) != 1 {
		t.Fatalf("expected initial add, got %+v", adapter.adds)
	}

	// Unchanged topology: second recompute must produce no adds/changes/dels.
	if err := e.Recompute(time.Unix(2, 0)); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if len(adapter.adds)+len(adapter.changes)+len(adapter.dels) != 0 {
		t.Fatalf("expected no diff on unchanged topology, got adds=%+v changes=%+v dels=%+v", adapter.adds, adapter.changes, adapter.dels)
	}

	// Metric changes: expect a change, not an add+del.
	link.OutMetric[nhdp.DomainID(domain)] = 20
	if err := e.Recompute(time.Unix(3, 0)); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if len(adapter.changes) != 1 || len(adapter.adds) != 0 || len(adapter.dels) != 0 {
		t.Fatalf("expected one change, got adds=%+v changes=%+v dels=%+v", adapter.adds, adapter.changes, adapter.dels)
	}
	if diff := deep.Equal(adapter.changes[0].Gateway, nbr); diff != nil {
		t.Fatalf("unexpected gateway diff: %v", diff)
	}
}

func TestRecomputeInstallsDirectNeighborRouteWithDefaultMetric(t *testing.T) {
	self := ip("10.0.0.1")
	nbr := ip("10.0.0.2")
	nhdpDB := nhdp.NewDatabase(func() time.Time { return time.Unix(0, 0) }, nhdp.DefaultHysteresis(), []nhdp.DomainID{nhdp.DomainID(domain)})

	// A link promoted to SYMMETRIC without ever hearing a LINK_METRIC
	// TLV must still get RFC 7181's DEFAULT_METRIC, or SPF could never
	// route to a neighbor it has never exchanged a metric with.
	l := nhdpDB.FindOrCreateLink("eth0", []addr.Address{nbr})
	nhdpDB.Touch(l, 20*time.Second)
	nhdpDB.ConfirmSymmetric(l, 20*time.Second, nbr)
	nhdpDB.Touch(l, 20*time.Second)
	nhdpDB.ConfirmSymmetric(l, 20*time.Second, nbr)

	adapter := &fakeAdapter{}
	e := &spf.Engine{Self: self, Domain: domain, TC: tc.NewDatabase(), NHDP: nhdpDB, Adapter: adapter, TableID: 254, ProtoID: 17}
	if err := e.Recompute(time.Unix(1, 0)); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	if len(adapter.adds) != 1 {
		t.Fatalf("expected one route added via the default metric, got %+v", adapter.adds)
	}
	r := adapter.adds[0]
	if !r.Dst.Equal(addr.NewPrefix(nbr)) || !r.Gateway.Equal(nbr) || r.Metric != nhdp.DefaultMetric {
		t.Fatalf("unexpected route: %+v, want metric %d", r, nhdp.DefaultMetric)
	}
}

func TestRecomputeFallsBackWhenAdapterRejectsSourcePrefix(t *testing.T) {
	self := ip("10.0.0.1")
	nbr := ip("10.0.0.2")
	nhdpDB := nhdp.NewDatabase(func() time.Time { return time.Unix(0, 0) }, nhdp.DefaultHysteresis(), []nhdp.DomainID{nhdp.DomainID(domain)})
	symmetricLink(nhdpDB, "eth0", nbr, []addr.Address{nbr}, 10)

	calls := 0
	adapter := &rejectingAdapter{rejectFirst: true, onApply: func(adds []fib.Route) { calls++ }}
	e := &spf.Engine{
		Self: self, Domain: domain, TC: tc.NewDatabase(), NHDP: nhdpDB, Adapter: adapter,
		TableID: 254, ProtoID: 17, SourcePrefix: addr.NewPrefix(ip("10.1.1.0")),
	}
	if err := e.Recompute(time.Unix(1, 0)); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected a rejected attempt then a destination-only retry, got %d calls", calls)
	}
	if len(adapter.applied) != 1 || adapter.applied[0].Src.Len() != 0 {
		t.Fatalf("expected the retried route to drop its source prefix, got %+v", adapter.applied)
	}
}

type rejectingAdapter struct {
	rejectFirst bool
	applied     []fib.Route
	onApply     func(adds []fib.Route)
}

func (a *rejectingAdapter) Apply(adds, changes []fib.Route, dels []addr.RouteKey) error {
	if a.onApply != nil {
		a.onApply(adds)
	}
	if a.rejectFirst {
		for _, r := range adds {
			if r.Src.Len() > 0 {
				a.rejectFirst = false
				return errSourceRejected
			}
		}
	}
	a.applied = adds
	return nil
}

var errSourceRejected = &rejectError{}

type rejectError struct{}

func (*rejectError) Error() string { return "source-specific route rejected" }
