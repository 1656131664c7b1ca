package archive

import (
	"net/netip"
	"testing"
	"time"

	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/fib"
	"github.com/openolsr/olsrv2d/tc"
)

func ip(s string) addr.Address { return addr.FromNetipAddr(netip.MustParseAddr(s)) }

func TestBuildFlattensNodesAndRoutes(t *testing.T) {
	db := tc.NewDatabase()
	self := ip("10.0.0.1")
	peer := ip("10.0.0.2")
	db.ApplyTC(self, 1, 20*time.Second, []tc.EdgeSpec{{To: peer, Metric: map[tc.DomainID]uint32{1: 10}}}, nil, time.Now())

	routes := map[int][]fib.Route{
		1: {{Dst: addr.NewPrefix(peer), Gateway: peer, IfaceName: "eth0", Metric: 10}},
	}

	snap := Build("host_123", time.Unix(0, 0), db, routes)
	if snap.RunID != "host_123" {
		t.Fatalf("unexpected run id: %q", snap.RunID)
	}
	if len(snap.Nodes) != 2 {
		t.Fatalf("expected self node plus the peer's virtual-inverse node, got %+v", snap.Nodes)
	}
	if len(snap.Routes) != 1 || snap.Routes[0].Gateway != "10.0.0.2" {
		t.Fatalf("unexpected routes: %+v", snap.Routes)
	}
}

func TestRunIDIsStableAcrossCalls(t *testing.T) {
	first, err := RunID()
	if err != nil {
		t.Fatalf("RunID failed: %v", err)
	}
	second, err := RunID()
	if err != nil {
		t.Fatalf("RunID failed: %v", err)
	}
	if first != second {
		t.Fatalf("expected RunID to be memoized, got %q then %q", first, second)
	}
}
