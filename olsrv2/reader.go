package olsrv2

import (
	"time"

	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/rfc5444"
	"github.com/openolsr/olsrv2d/tc"
)

// Consumer implements rfc5444.Consumer for TC messages, applying
// accepted ANSNs to a tc.Database. One Consumer instance is shared
// across every interface; TC processing is not per-interface state the
// way HELLO's link bookkeeping is.
type Consumer struct {
	DB *tc.Database
	// Clock is injected so tests can drive ANSN validity deterministically;
	// nil defaults to time.Now.
	Clock func() time.Time

	originator    addr.Address
	hasOriginator bool
	ansn          uint16
	complete      bool
	vtime         time.Duration
	edges         []tc.EdgeSpec
	attachments   []tc.AttachmentSpec

	// LastAccepted is set by Finish to the classification of the most
	// recently processed message, so a caller driving forwarding can
	// inspect it immediately afterward.
	LastAccepted tc.Accepted
}

func (c *Consumer) MessageType() uint8 { return MessageType }

func (c *Consumer) ConsumeMessageTlvs(m rfc5444.Message) rfc5444.DecodeResult {
	if !m.HasOriginator {
		return rfc5444.DropMessage
	}
	c.originator = m.Originator
	c.hasOriginator = true
	c.complete = true

	for _, t := range m.Tlvs {
		switch t.Type {
		case TlvValidityTime:
			if len(t.Value) == 1 {
				c.vtime = rfc5444.DecodeTime(t.Value[0])
			}
		case TlvContSeqNum:
			if len(t.Value) == 2 {
				c.ansn = uint16(t.Value[0])<<8 | uint16(t.Value[1])
			}
			if t.HasExtType && t.ExtType == AnsnIncomplete {
				c.complete = false
			}
		}
	}
	if c.vtime == 0 {
		c.vtime = 20 * time.Second
	}
	return rfc5444.Ok
}

func (c *Consumer) ConsumeAddress(p addr.Prefix, tlvs []rfc5444.Tlv) rfc5444.DecodeResult {
	var nbrType uint8
	hasNbrType := false
	metrics := domainMetrics{}
	var gateway map[tc.DomainID]uint32

	for _, t := range tlvs {
		switch t.Type {
		case TlvNbrAddrType:
			if len(t.Value) == 1 {
				nbrType = t.Value[0]
				hasNbrType = true
			}
		case TlvLinkMetric:
			domain := tc.DomainID(0)
			if t.HasExtType {
				domain = tc.DomainID(t.ExtType)
			}
			if in, out, ok := decodeLinkMetric(t.Value); ok {
				metrics[domain] = [2]uint32{in, out}
			}
		case TlvGateway:
			gateway = decodeGateway(t.Value)
		}
	}

	if hasNbrType && nbrType&NbrOriginator != 0 {
		c.edges = append(c.edges, tc.EdgeSpec{To: p.Addr(), Metric: edgeMetricsToTc(metrics)})
		return rfc5444.Ok
	}
	if hasNbrType && nbrType&NbrRoutable != 0 {
		c.attachments = append(c.attachments, tc.AttachmentSpec{Prefix: p, Metric: edgeMetricsToTc(metrics)})
		return rfc5444.Ok
	}
	if gateway != nil {
		c.attachments = append(c.attachments, tc.AttachmentSpec{Prefix: p, Metric: gateway})
	}
	return rfc5444.Ok
}

func (c *Consumer) Finish(dropped bool) {
	defer func() {
		c.hasOriginator = false
		c.edges = nil
		c.attachments = nil
	}()
	if dropped || !c.hasOriginator {
		c.LastAccepted = tc.AnsnStale
		return
	}

	clock := c.Clock
	if clock == nil {
		clock = time.Now
	}
	now := clock()
	// INCOMPLETE (fragmented) TCs only ever add edges/attachments; a
	// full replace would wipe out the other fragments' contributions.
	// tc.Database.ApplyTC always replaces on ANSN advance, so a
	// fragmented TC's edges are merged with the previous fragment's
	// before applying when the ANSN has not advanced.
	if !c.complete {
		if node, ok := c.DB.Node(c.originator); ok && node.Ansn == c.ansn {
			for dest, e := range node.Edges {
				if !e.Virtual {
					c.edges = append(c.edges, tc.EdgeSpec{To: dest, Metric: e.Metric})
				}
			}
			for ep, att := range node.Attachments {
				c.attachments = append(c.attachments, tc.AttachmentSpec{Prefix: ep.Prefix, Metric: att.Metric, Distance: att.Distance})
			}
		}
	}

	c.LastAccepted = c.DB.ApplyTC(c.originator, c.ansn, c.vtime, c.edges, c.attachments, now)
}
