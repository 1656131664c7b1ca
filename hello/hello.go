// Package hello implements NHDP HELLO production and consumption: the
// message-TLV/address-TLV dispatch that drives nhdp.Database state
// transitions on receipt, and the per-interface emission that walks
// local and neighbor addresses on a timer. The TLV-type dispatch shape
// (switch on TLV type to the field it updates) mirrors the teacher's
// netlink attribute-type dispatch, generalized from a flat attribute
// array to RFC 5444's address-TLV view.
package hello

import (
	"time"

	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/iface"
	"github.com/openolsr/olsrv2d/nhdp"
	"github.com/openolsr/olsrv2d/rfc5444"
)

// MessageType is the RFC 5444 msg-type reserved for NHDP HELLO.
const MessageType = 1

// TLV types used in a HELLO message, per RFC 6130/7181.
const (
	TlvValidityTime   = 1
	TlvIntervalTime   = 2
	TlvLocalIf        = 3
	TlvLinkStatus     = 4
	TlvOtherNeigh     = 5
	TlvMPR            = 6
	TlvLinkMetric     = 7
	TlvMPRWilling     = 8
	TlvIPv4Originator = 9
)

// LocalIfValue distinguishes an address's role on a LOCAL_IF TLV.
type LocalIfValue uint8

const (
	ThisIf  LocalIfValue = 1
	OtherIf LocalIfValue = 2
)

// LinkStatusValue is the value carried by a LINK_STATUS/OTHER_NEIGH TLV.
type LinkStatusValue uint8

const (
	LsHeard     LinkStatusValue = 1
	LsSymmetric LinkStatusValue = 2
	LsLost      LinkStatusValue = 3
)

// Consumer implements rfc5444.Consumer for HELLO messages, updating db
// on every received HELLO from iface ifaceName.
type Consumer struct {
	IfaceName  string
	DB         *nhdp.Database
	LocalTable *iface.Table

	vtime            time.Duration
	localIfSet       []addr.Address
	confirmSymmetric bool
	twoHopNeighbors  []*nhdp.TwoHopNeighbor
	selectedUsAsMPR  map[nhdp.DomainID]bool
	willingness      map[nhdp.DomainID]uint8
	linkMetrics      map[nhdp.DomainID][2]uint32
}

func (c *Consumer) MessageType() uint8 { return MessageType }

func (c *Consumer) ConsumeMessageTlvs(m rfc5444.Message) rfc5444.DecodeResult {
	for _, t := range m.Tlvs {
		switch t.Type {
		case TlvValidityTime:
			if len(t.Value) == 1 {
				c.vtime = rfc5444.DecodeTime(t.Value[0])
			}
		case TlvMPRWilling:
			if len(t.Value) == 1 {
				if c.willingness == nil {
					c.willingness = make(map[nhdp.DomainID]uint8)
				}
				domain := nhdp.FloodingDomain
				if t.HasExtType {
					domain = nhdp.DomainID(t.ExtType)
				}
				c.willingness[domain] = t.Value[0]
			}
		}
	}
	if c.vtime == 0 {
		c.vtime = 20 * time.Second
	}
	return rfc5444.Ok
}

// linkMetricFlag identifies which RFC 7181 §4.3 metric role a 16-bit
// LINK_METRIC field carries.
type linkMetricFlag uint8

const (
	metricFlagIncoming linkMetricFlag = 1 << 0
	metricFlagOutgoing linkMetricFlag = 1 << 1
)

// maxMetricValue is the largest value the 12-bit linear metric field
// can hold; larger inputs are clamped rather than encoded with RFC
// 7181 Appendix B's floating-point form, which this daemon does not
// implement.
const maxMetricValue = 1<<12 - 1

func packMetric(v uint32, flag linkMetricFlag) uint16 {
	if v > maxMetricValue {
		v = maxMetricValue
	}
	return uint16(v) | uint16(flag)<<12
}

func unpackMetric(field uint16) (value uint32, flag linkMetricFlag) {
	return uint32(field) & maxMetricValue, linkMetricFlag(field >> 12)
}

// encodeLinkMetric packs in/out into two 16-bit big-endian fields per
// §4.3: the low 12 bits carry a linear metric value, the high 4 bits a
// direction flag (INCOMING_LINK/OUTGOING_LINK).
func encodeLinkMetric(in, out uint32) []byte {
	a := packMetric(in, metricFlagIncoming)
	b := packMetric(out, metricFlagOutgoing)
	return []byte{byte(a >> 8), byte(a), byte(b >> 8), byte(b)}
}

// decodeLinkMetric unpacks an encodeLinkMetric payload, matching each
// field to in/out by its flag nibble rather than position so either
// field order round-trips.
func decodeLinkMetric(v []byte) (in, out uint32, ok bool) {
	if len(v) != 4 {
		return 0, 0, false
	}
	fields := [2]uint16{
		uint16(v[0])<<8 | uint16(v[1]),
		uint16(v[2])<<8 | uint16(v[3]),
	}
	var haveIn, haveOut bool
	for _, f := range fields {
		value, flag := unpackMetric(f)
		if flag&metricFlagIncoming != 0 {
			in, haveIn = value, true
		}
		if flag&metricFlagOutgoing != 0 {
			out, haveOut = value, true
		}
	}
	return in, out, haveIn && haveOut
}

func (c *Consumer) ConsumeAddress(p addr.Prefix, tlvs []rfc5444.Tlv) rfc5444.DecodeResult {
	local, ok := c.LocalTable.Get(c.IfaceName)
	if !ok {
		return rfc5444.Ok
	}

	isLocalIf := false
	var linkStatus LinkStatusValue
	hasLinkStatus := false
	mprDomains := map[nhdp.DomainID]bool{}
	metrics := map[nhdp.DomainID][2]uint32{}
	for _, t := range tlvs {
		switch t.Type {
		case TlvLocalIf:
			isLocalIf = true
		case TlvLinkStatus, TlvOtherNeigh:
			if len(t.Value) == 1 {
				linkStatus = LinkStatusValue(t.Value[0])
				hasLinkStatus = true
			}
		case TlvMPR:
			domain := nhdp.FloodingDomain
			if t.HasExtType {
				domain = nhdp.DomainID(t.ExtType)
			}
			mprDomains[domain] = true
		case TlvLinkMetric:
			domain := nhdp.FloodingDomain
			if t.HasExtType {
				domain = nhdp.DomainID(t.ExtType)
			}
			if in, out, ok := decodeLinkMetric(t.Value); ok {
				metrics[domain] = [2]uint32{in, out}
			}
		}
	}
	if isLocalIf {
		// This address is one of the sender's own local addresses; the
		// link itself is created/updated once per message, not per
		// address, in Finish below via the accumulated address set.
		c.localIfSet = append(c.localIfSet, p.Addr())
		return rfc5444.Ok
	}

	if !hasLinkStatus {
		return rfc5444.Ok
	}

	isUs := false
	if local.HasOriginatorV4 && local.OriginatorV4.Equal(p.Addr()) {
		isUs = true
	}
	if local.HasOriginatorV6 && local.OriginatorV6.Equal(p.Addr()) {
		isUs = true
	}
	for _, la := range local.LocalAddresses {
		if la.Equal(p.Addr()) {
			isUs = true
		}
	}

	if isUs {
		if linkStatus == LsSymmetric || linkStatus == LsHeard {
			c.confirmSymmetric = true
		}
		if len(metrics) > 0 {
			if c.linkMetrics == nil {
				c.linkMetrics = make(map[nhdp.DomainID][2]uint32)
			}
			for d, m := range metrics {
				c.linkMetrics[d] = m
			}
		}
		if len(mprDomains) > 0 {
			if c.selectedUsAsMPR == nil {
				c.selectedUsAsMPR = make(map[nhdp.DomainID]bool)
			}
			for d := range mprDomains {
				c.selectedUsAsMPR[d] = true
			}
		}
		return rfc5444.Ok
	}

	// Not our address: if the sender reports it as SYMMETRIC, it is a
	// two-hop neighbor reachable through this link.
	if linkStatus == LsSymmetric {
		th := &nhdp.TwoHopNeighbor{
			Address:   p.Addr(),
			InMetric:  make(map[nhdp.DomainID]uint32),
			OutMetric: make(map[nhdp.DomainID]uint32),
		}
		for d, m := range metrics {
			th.InMetric[d] = m[0]
			th.OutMetric[d] = m[1]
		}
		c.twoHopNeighbors = append(c.twoHopNeighbors, th)
	}
	return rfc5444.Ok
}

func (c *Consumer) Finish(dropped bool) {
	defer func() {
		c.localIfSet = nil
		c.confirmSymmetric = false
		c.twoHopNeighbors = nil
		c.selectedUsAsMPR = nil
		c.willingness = nil
		c.linkMetrics = nil
	}()
	if dropped || len(c.localIfSet) == 0 {
		return
	}

	link := c.DB.FindOrCreateLink(c.IfaceName, c.localIfSet)
	c.DB.Touch(link, c.vtime)
	if c.confirmSymmetric {
		c.DB.ConfirmSymmetric(link, c.vtime, c.localIfSet[0])
	}
	for d := range c.willingness {
		c.DB.SetWillingness(c.localIfSet[0], d, c.willingness[d])
	}
	for d := range c.selectedUsAsMPR {
		c.DB.SetNeighborSelectedUsAsMPR(link, d, true)
	}
	for d, m := range c.linkMetrics {
		c.DB.SetLinkMetric(link, d, m[0], m[1])
	}
	if len(c.twoHopNeighbors) > 0 {
		seen := make(map[addr.Address]*nhdp.TwoHopNeighbor, len(c.twoHopNeighbors))
		for _, th := range c.twoHopNeighbors {
			seen[th.Address] = th
		}
		c.DB.ReplaceTwoHop(link, seen, c.DB.Clock().Add(c.vtime))
	}
}
