package dup_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/dup"
	"github.com/openolsr/olsrv2d/timer"
)

func origin() addr.Address {
	return addr.FromNetipAddr(netip.MustParseAddr("10.0.0.1"))
}

func TestFirstSeenIsNew(t *testing.T) {
	clk := timer.NewFakeClock(time.Unix(0, 0))
	s := dup.NewSet(clk, time.Second)

	if r := s.Check(1, origin(), 100, 20*time.Second); r != dup.New {
		t.Fatalf("got %v, want NEW", r)
	}
}

func TestExactRepeatIsDuplicate(t *testing.T) {
	clk := timer.NewFakeClock(time.Unix(0, 0))
	s := dup.NewSet(clk, time.Second)
	s.Check(1, origin(), 100, 20*time.Second)

	if r := s.Check(1, origin(), 100, 20*time.Second); r != dup.Duplicate {
		t.Fatalf("got %v, want DUPLICATE", r)
	}
}

func TestAdvancingSeqnoIsNew(t *testing.T) {
	clk := timer.NewFakeClock(time.Unix(0, 0))
	s := dup.NewSet(clk, time.Second)
	s.Check(1, origin(), 100, 20*time.Second)

	for _, seq := range []uint16{101, 102, 105} {
		if r := s.Check(1, origin(), seq, 20*time.Second); r != dup.New {
			t.Fatalf("seq %d: got %v, want NEW", seq, r)
		}
	}
}

func TestOutOfOrderWithinWindowIsNewThenDuplicate(t *testing.T) {
	clk := timer.NewFakeClock(time.Unix(0, 0))
	s := dup.NewSet(clk, time.Second)
	s.Check(1, origin(), 110, 20*time.Second)

	// 105 arrives late, still inside the 32-wide window behind 110.
	if r := s.Check(1, origin(), 105, 20*time.Second); r != dup.New {
		t.Fatalf("got %v, want NEW (reordered)", r)
	}
	if r := s.Check(1, origin(), 105, 20*time.Second); r != dup.Duplicate {
		t.Fatalf("got %v, want DUPLICATE on replay", r)
	}
}

func TestTooOldOutsideWindow(t *testing.T) {
	clk := timer.NewFakeClock(time.Unix(0, 0))
	s := dup.NewSet(clk, time.Second)
	s.Check(1, origin(), 1000, 20*time.Second)

	if r := s.Check(1, origin(), 900, 20*time.Second); r != dup.TooOld {
		t.Fatalf("got %v, want TOO_OLD", r)
	}
}

func TestSeqnoWrapsAround(t *testing.T) {
	clk := timer.NewFakeClock(time.Unix(0, 0))
	s := dup.NewSet(clk, time.Second)
	s.Check(1, origin(), 65530, 20*time.Second)

	if r := s.Check(1, origin(), 3, 20*time.Second); r != dup.New {
		t.Fatalf("got %v, want NEW across wrap", r)
	}
}

func TestExpiryTreatsNextObservationAsNew(t *testing.T) {
	clk := timer.NewFakeClock(time.Unix(0, 0))
	s := dup.NewSet(clk, time.Second)
	s.Check(1, origin(), 100, 5*time.Second)

	clk.Advance(10 * time.Second) // well past vtime+hold
	if r := s.Check(1, origin(), 100, 5*time.Second); r != dup.New {
		t.Fatalf("got %v, want NEW after expiry", r)
	}
}

func TestPurgeRemovesExpiredEntriesOnly(t *testing.T) {
	clk := timer.NewFakeClock(time.Unix(0, 0))
	s := dup.NewSet(clk, time.Second)
	s.Check(1, origin(), 1, time.Second)

	clk.Advance(500 * time.Millisecond)
	if n := s.Purge(clk.Now()); n != 0 {
		t.Fatalf("purged %d, want 0 (not yet expired)", n)
	}

	clk.Advance(2 * time.Second)
	if n := s.Purge(clk.Now()); n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after purge", s.Len())
	}
}

func TestSerialComparisonWrap(t *testing.T) {
	if !dup.SerialLess(65530, 3) {
		t.Error("65530 should be less than 3 across the wrap")
	}
	if !dup.SerialGreater(3, 65530) {
		t.Error("3 should be greater than 65530 across the wrap")
	}
	if dup.SerialLess(5, 5) {
		t.Error("a value is never less than itself")
	}
	if !dup.SerialGEq(5, 5) {
		t.Error("a value is always >= itself")
	}
}
