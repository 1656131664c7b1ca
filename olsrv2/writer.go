package olsrv2

import (
	"sort"

	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/iface"
	"github.com/openolsr/olsrv2d/nhdp"
	"github.com/openolsr/olsrv2d/rfc5444"
	"github.com/openolsr/olsrv2d/tc"
)

// LocalAttachment is one locally attached (non-OLSR) network this
// router advertises in its own TCs, sourced from the lan package.
type LocalAttachment struct {
	Prefix   addr.Prefix
	Metric   map[tc.DomainID]uint32
	Distance uint8
}

type tcEdgeContent struct {
	addr    addr.Address
	metrics domainMetrics
}

// Provider implements rfc5444.Provider, emitting one TC per
// address-family target advertising every symmetric neighbor that has
// selected this router as an MPR, plus any locally attached networks.
// The ANSN advances only when the advertised content actually changes,
// and continues firing for HoldIntervals cycles after the content goes
// empty (an "advertisement hold") before Targets stops returning any
// target at all.
//
// This writer always emits CONT_SEQ_NUM with ExtType AnsnComplete: TCs
// that exceed the path MTU are fragmented transparently at the wire
// level by rfc5444.Writer, so this package never needs the
// multi-message INCOMPLETE/COMPLETE sequence RFC 7181 allows for.
type Provider struct {
	Table            *iface.Table
	NHDP             *nhdp.Database
	LocalAttachments func() []LocalAttachment
	VTime            uint8
	ITime            uint8
	HoldIntervals    int

	ansn            uint16
	hasAnsn         bool
	lastFingerprint string
	silentTicks     int

	edges       []tcEdgeContent
	attachments []LocalAttachment
}

func (p *Provider) MessageType() uint8 { return MessageType }

func (p *Provider) Targets(candidates []rfc5444.Target) []rfc5444.Target {
	p.buildContent()

	if len(p.edges) == 0 && len(p.attachments) == 0 {
		p.silentTicks++
	} else {
		p.silentTicks = 0
	}
	if p.silentTicks > p.HoldIntervals {
		return nil
	}

	fp := p.fingerprint()
	if !p.hasAnsn || fp != p.lastFingerprint {
		p.ansn++
		p.hasAnsn = true
		p.lastFingerprint = fp
	}

	var out []rfc5444.Target
	for _, t := range candidates {
		local, ok := p.Table.Get(t.Name)
		if !ok {
			continue
		}
		if t.Family == addr.AF_INET && local.HasOriginatorV4 {
			out = append(out, t)
		}
		if t.Family == addr.AF_INET6 && local.HasOriginatorV6 {
			out = append(out, t)
		}
	}
	return out
}

func (p *Provider) buildContent() {
	p.edges = p.edges[:0]
	for _, n := range p.NHDP.Neighbors() {
		domains := map[tc.DomainID]bool{}
		for _, l := range n.Links {
			if l.Status != nhdp.Symmetric {
				continue
			}
			if l.NeighborIsFloodingMPRSelector {
				domains[tc.DomainID(nhdp.FloodingDomain)] = true
			}
			for d, selected := range l.NeighborIsRoutingMPRSelector {
				if selected {
					domains[tc.DomainID(d)] = true
				}
			}
		}
		if len(domains) == 0 {
			continue
		}
		m := domainMetrics{}
		for d := range domains {
			if metric, ok := n.Metric(nhdp.DomainID(d)); ok {
				m[d] = [2]uint32{metric, metric}
			}
		}
		p.edges = append(p.edges, tcEdgeContent{addr: n.Originator, metrics: m})
	}
	sort.Slice(p.edges, func(i, j int) bool { return p.edges[i].addr.Less(p.edges[j].addr) })

	p.attachments = nil
	if p.LocalAttachments != nil {
		p.attachments = p.LocalAttachments()
	}
}

func (p *Provider) fingerprint() string {
	var b []byte
	for _, e := range p.edges {
		b = append(b, e.addr.Bytes()...)
		for d := 0; d < 256; d++ {
			if pair, ok := e.metrics[tc.DomainID(d)]; ok {
				b = append(b, byte(d))
				b = append(b, encodeLinkMetric(pair[0], pair[1])...)
			}
		}
	}
	for _, a := range p.attachments {
		b = append(b, a.Prefix.Addr().Bytes()...)
		b = append(b, byte(a.Prefix.Len()))
		for d := 0; d < 256; d++ {
			if m, ok := a.Metric[tc.DomainID(d)]; ok {
				b = append(b, byte(d), byte(m))
			}
		}
	}
	return string(b)
}

func (p *Provider) Render(target rfc5444.Target) (rfc5444.Message, error) {
	local, ok := p.Table.Get(target.Name)
	if !ok {
		return rfc5444.Message{}, nil
	}
	var originator addr.Address
	if target.Family == addr.AF_INET && local.HasOriginatorV4 {
		originator = local.OriginatorV4
	} else if target.Family == addr.AF_INET6 && local.HasOriginatorV6 {
		originator = local.OriginatorV6
	} else {
		return rfc5444.Message{}, nil
	}

	var prefixes []addr.Prefix
	var tlvs []rfc5444.Tlv

	for _, e := range p.edges {
		if e.addr.Family() != target.Family {
			continue
		}
		idx := uint8(len(prefixes))
		prefixes = append(prefixes, addr.NewPrefix(e.addr))
		tlvs = append(tlvs, rfc5444.Tlv{
			Type: TlvNbrAddrType, HasIndex: true, Index1: idx, Index2: idx,
			Value: []byte{NbrOriginator},
		})
		for d, pair := range e.metrics {
			tlvs = append(tlvs, rfc5444.Tlv{
				Type: TlvLinkMetric, ExtType: uint8(d), HasExtType: true,
				HasIndex: true, Index1: idx, Index2: idx,
				Value: encodeLinkMetric(pair[0], pair[1]),
			})
		}
	}

	for _, a := range p.attachments {
		if a.Prefix.Family() != target.Family {
			continue
		}
		idx := uint8(len(prefixes))
		prefixes = append(prefixes, a.Prefix)
		tlvs = append(tlvs, rfc5444.Tlv{
			Type: TlvGateway, HasIndex: true, Index1: idx, Index2: idx,
			Value: encodeGateway(a.Metric),
		})
	}

	msgTlvs := []rfc5444.Tlv{
		{Type: TlvValidityTime, Value: []byte{p.VTime}},
		{Type: TlvIntervalTime, Value: []byte{p.ITime}},
		{Type: TlvContSeqNum, ExtType: AnsnComplete, HasExtType: true, Value: []byte{byte(p.ansn >> 8), byte(p.ansn)}},
	}

	return rfc5444.Message{
		Type:          MessageType,
		HasOriginator: true,
		Originator:    originator,
		HasHopLimit:   true,
		HopLimit:      255,
		HasHopCount:   true,
		HopCount:      0,
		Tlvs:          msgTlvs,
		Blocks:        []rfc5444.AddressBlock{{Addresses: prefixes, Tlvs: tlvs}},
	}, nil
}
