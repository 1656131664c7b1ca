package mpr_test

import (
	"net/netip"
	"testing"

	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/mpr"
)

func ip(s string) addr.Address { return addr.FromNetipAddr(netip.MustParseAddr(s)) }

func TestWillAlwaysForcesSelection(t *testing.T) {
	candidates := []mpr.Candidate{
		{Originator: ip("10.0.0.1"), Willingness: mpr.WillAlways, Reaches: map[addr.Address]uint32{ip("10.0.1.1"): 1}},
		{Originator: ip("10.0.0.2"), Willingness: 3, Reaches: map[addr.Address]uint32{ip("10.0.1.1"): 1}},
	}
	n2 := map[addr.Address]bool{ip("10.0.1.1"): true}

	got := mpr.Select(candidates, n2)
	if !got[ip("10.0.0.1")] {
		t.Fatal("WILL_ALWAYS candidate must always be selected")
	}
}

func TestUniqueCoverageForcesSelection(t *testing.T) {
	candidates := []mpr.Candidate{
		{Originator: ip("10.0.0.1"), Willingness: 3, Reaches: map[addr.Address]uint32{ip("10.0.1.1"): 1}},
		{Originator: ip("10.0.0.2"), Willingness: 3, Reaches: map[addr.Address]uint32{ip("10.0.1.2"): 1}},
	}
	n2 := map[addr.Address]bool{ip("10.0.1.1"): true, ip("10.0.1.2"): true}

	got := mpr.Select(candidates, n2)
	if !got[ip("10.0.0.1")] || !got[ip("10.0.0.2")] {
		t.Fatalf("both candidates uniquely cover one address each, want both selected, got %v", got)
	}
}

func TestGreedyCoversRemainderWithFewestCandidates(t *testing.T) {
	// x1 covers {a,b,c}; x2 covers {a}; x3 covers {b,c}. The greedy pass
	// should prefer x1 (covers the most) and then be done.
	candidates := []mpr.Candidate{
		{Originator: ip("10.0.0.1"), Willingness: 3, Reaches: map[addr.Address]uint32{
			ip("10.0.1.1"): 1, ip("10.0.1.2"): 1, ip("10.0.1.3"): 1,
		}},
		{Originator: ip("10.0.0.2"), Willingness: 3, Reaches: map[addr.Address]uint32{ip("10.0.1.1"): 1}},
		{Originator: ip("10.0.0.3"), Willingness: 3, Reaches: map[addr.Address]uint32{
			ip("10.0.1.2"): 1, ip("10.0.1.3"): 1,
		}},
	}
	n2 := map[addr.Address]bool{ip("10.0.1.1"): true, ip("10.0.1.2"): true, ip("10.0.1.3"): true}

	got := mpr.Select(candidates, n2)
	if len(got) != 1 || !got[ip("10.0.0.1")] {
		t.Fatalf("expected single-candidate cover {10.0.0.1}, got %v", got)
	}
}

func TestTieBreakByHighestDThenLexicographic(t *testing.T) {
	// x1 and x2 both cover exactly {a}, same willingness; x1 has more
	// total reachable addresses (D(x)), so it should win even though
	// its originator sorts after x2's.
	candidates := []mpr.Candidate{
		{Originator: ip("10.0.0.9"), Willingness: 3, Reaches: map[addr.Address]uint32{
			ip("10.0.1.1"): 1, ip("10.0.2.1"): 1,
		}},
		{Originator: ip("10.0.0.1"), Willingness: 3, Reaches: map[addr.Address]uint32{
			ip("10.0.1.1"): 1,
		}},
	}
	n2 := map[addr.Address]bool{ip("10.0.1.1"): true}

	got := mpr.Select(candidates, n2)
	if len(got) != 1 || !got[ip("10.0.0.9")] {
		t.Fatalf("expected higher-D(x) candidate 10.0.0.9 selected, got %v", got)
	}
}

func TestSelectIsIdempotent(t *testing.T) {
	candidates := []mpr.Candidate{
		{Originator: ip("10.0.0.1"), Willingness: 3, Reaches: map[addr.Address]uint32{ip("10.0.1.1"): 1}},
		{Originator: ip("10.0.0.2"), Willingness: 3, Reaches: map[addr.Address]uint32{ip("10.0.1.2"): 1}},
	}
	n2 := map[addr.Address]bool{ip("10.0.1.1"): true, ip("10.0.1.2"): true}

	a := mpr.Select(candidates, n2)
	b := mpr.Select(candidates, n2)
	if len(a) != len(b) {
		t.Fatal("Select must be deterministic across repeated calls")
	}
	for k := range a {
		if !b[k] {
			t.Fatalf("non-idempotent result: %v vs %v", a, b)
		}
	}
}

func TestPruneRemovesRedundantMember(t *testing.T) {
	// x1 alone covers {a,b}; x2 only covers {a}, so x2 is redundant.
	candidates := []mpr.Candidate{
		{Originator: ip("10.0.0.1"), Willingness: 3, Reaches: map[addr.Address]uint32{
			ip("10.0.1.1"): 1, ip("10.0.1.2"): 1,
		}},
		{Originator: ip("10.0.0.2"), Willingness: 3, Reaches: map[addr.Address]uint32{ip("10.0.1.1"): 1}},
	}
	n2 := map[addr.Address]bool{ip("10.0.1.1"): true, ip("10.0.1.2"): true}
	all := map[addr.Address]bool{ip("10.0.0.1"): true, ip("10.0.0.2"): true}

	pruned := mpr.Prune(candidates, n2, all)
	if len(pruned) != 1 || !pruned[ip("10.0.0.1")] {
		t.Fatalf("expected only 10.0.0.1 to remain, got %v", pruned)
	}
}
