package olsrv2

import (
	"time"

	"github.com/openolsr/olsrv2d/dup"
	"github.com/openolsr/olsrv2d/nhdp"
	"github.com/openolsr/olsrv2d/rfc5444"
	"github.com/openolsr/olsrv2d/timer"
)

// Forwarder implements MPR-based TC (and, in principle, any other
// flooded message type) retransmission per §4.5's forwarding rule: the
// sender must be a symmetric 1-hop neighbor who has selected us as
// their flooding MPR, and the message must not already have been
// forwarded on the outbound interface.
type Forwarder struct {
	clock timer.Clock
	hold  map[string]*dup.Set // per-interface forwarded-set
}

// NewForwarder creates a Forwarder. clock nil defaults to the real
// clock. Each outbound interface's forwarded-set is created on first
// use, with the vtime of the message that created it as its extra hold.
func NewForwarder(clock timer.Clock) *Forwarder {
	if clock == nil {
		clock = timer.RealClock{}
	}
	return &Forwarder{clock: clock, hold: make(map[string]*dup.Set)}
}

// ShouldForward decides whether to retransmit m, received on
// incomingLink, out a given outbound interface. It is called once per
// candidate outbound interface (every bound interface except the one m
// arrived on); the per-interface forwarded-set suppresses resending on
// an interface that has already carried this exact message.
func (f *Forwarder) ShouldForward(incomingLink *nhdp.Link, outIface string, m rfc5444.Message, vtime time.Duration) bool {
	if incomingLink == nil || incomingLink.Status != nhdp.Symmetric {
		return false
	}
	if !incomingLink.NeighborIsFloodingMPRSelector {
		return false
	}
	if !m.HasOriginator || !m.HasSeqNum {
		return false
	}

	set, ok := f.hold[outIface]
	if !ok {
		set = dup.NewSet(f.clock, vtime)
		f.hold[outIface] = set
	}
	return set.Check(m.Type, m.Originator, m.SeqNum, vtime) == dup.New
}

// PrepareForward returns a copy of m with hop-limit decremented and
// hop-count incremented, ready for retransmission. The caller must
// check HopLimit > 1 before calling (a message at hop-limit 0 or 1 is
// not forwarded).
func PrepareForward(m rfc5444.Message) rfc5444.Message {
	out := m
	if out.HasHopLimit && out.HopLimit > 0 {
		out.HopLimit--
	}
	if out.HasHopCount {
		out.HopCount++
	} else {
		out.HasHopCount = true
		out.HopCount = 1
	}
	return out
}
