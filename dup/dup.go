// Package dup implements the per-(msg_type, originator) duplicate set
// used to decide whether an incoming RFC 5444 message has already been
// processed. It admits limited out-of-order delivery via a sliding
// bitmap window and expires entries lazily: each entry carries its own
// expiry time, refreshed whenever it accepts a message.
package dup

import (
	"time"

	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/metrics"
	"github.com/openolsr/olsrv2d/timer"
)

// windowSize is the number of trailing sequence numbers (relative to the
// last accepted one) that the bitmap can still distinguish as
// NEW/DUPLICATE rather than falling through to TOO_OLD.
const windowSize = 32

// Result is the outcome of a Check call.
type Result int

const (
	New Result = iota
	Duplicate
	TooOld
)

func (r Result) String() string {
	switch r {
	case New:
		return "NEW"
	case Duplicate:
		return "DUPLICATE"
	case TooOld:
		return "TOO_OLD"
	default:
		return "UNKNOWN"
	}
}

type key struct {
	msgType    uint8
	originator addr.Address
}

type entry struct {
	lastSeqno uint16
	bitmap    uint32 // bit 0 = lastSeqno itself, bit k = lastSeqno-k
	expiry    time.Time
}

// Set is the duplicate set for one node. It is not safe for concurrent
// use, matching the single-threaded run loop that owns it.
type Set struct {
	clock   timer.Clock
	hold    time.Duration
	entries map[key]*entry
}

// NewSet creates an empty duplicate set. hold is the additional grace
// period added to vtime before an accepted entry's expiry, absorbing
// clock skew and retransmission jitter between neighbors.
func NewSet(clock timer.Clock, hold time.Duration) *Set {
	if clock == nil {
		clock = timer.RealClock{}
	}
	return &Set{clock: clock, hold: hold, entries: make(map[key]*entry)}
}

// Check records and classifies one (msgType, originator, seqno)
// observation. vtime is the message's validity time, used to compute
// the entry's refreshed expiry on acceptance.
func (s *Set) Check(msgType uint8, originator addr.Address, seqno uint16, vtime time.Duration) Result {
	now := s.clock.Now()
	k := key{msgType: msgType, originator: originator}

	e, ok := s.entries[k]
	if !ok || now.After(e.expiry) {
		s.entries[k] = &entry{lastSeqno: seqno, bitmap: 1, expiry: now.Add(vtime + s.hold)}
		metrics.DupCacheSize.Set(float64(len(s.entries)))
		return New
	}

	if seqno == e.lastSeqno {
		return Duplicate
	}

	if SerialGreater(seqno, e.lastSeqno) {
		diff := serialDiff(seqno, e.lastSeqno)
		if diff >= windowSize {
			e.bitmap = 1
		} else {
			e.bitmap = (e.bitmap << diff) | 1
		}
		e.lastSeqno = seqno
		e.expiry = now.Add(vtime + s.hold)
		return New
	}

	// seqno is older than lastSeqno: may still be inside the window,
	// admitting reordered delivery.
	diff := serialDiff(e.lastSeqno, seqno)
	if diff >= windowSize {
		return TooOld
	}
	bit := uint32(1) << diff
	if e.bitmap&bit != 0 {
		return Duplicate
	}
	e.bitmap |= bit
	e.expiry = now.Add(vtime + s.hold)
	return New
}

// Purge drops every entry whose expiry has passed as of now. Check
// already replaces a single stale entry lazily on next access; Purge is
// a full sweep that also drops entries for originators that stopped
// transmitting altogether. Nothing in the daemon calls it on a timer.
func (s *Set) Purge(now time.Time) int {
	removed := 0
	for k, e := range s.entries {
		if now.After(e.expiry) {
			delete(s.entries, k)
			removed++
		}
	}
	if removed > 0 {
		metrics.DupCacheSize.Set(float64(len(s.entries)))
	}
	return removed
}

// Len reports the number of live entries.
func (s *Set) Len() int { return len(s.entries) }

// serialDiff returns the forward distance from older to newer, assuming
// newer is ahead of older under RFC 1982 ordering.
func serialDiff(newer, older uint16) uint32 {
	d := int32(newer) - int32(older)
	if d < 0 {
		d += 1 << 16
	}
	return uint32(d)
}
