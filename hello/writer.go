package hello

import (
	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/iface"
	"github.com/openolsr/olsrv2d/nhdp"
	"github.com/openolsr/olsrv2d/rfc5444"
)

// Provider implements rfc5444.Provider, emitting one HELLO per
// interface/family target: first every LOCAL_IF address (THIS_IF for
// the target interface, OTHER_IF for every other owned interface), then
// every known neighbor address with its current link status.
type Provider struct {
	Table   *iface.Table
	DB      *nhdp.Database
	VTime   uint8 // RFC 5497-encoded
	ITime   uint8
	Willing map[nhdp.DomainID]uint8
}

func (p *Provider) MessageType() uint8 { return MessageType }

// Targets keeps only targets whose interface currently has a selected
// originator for the requested family; Render has nothing valid to
// build for any other candidate, so they are never sent.
func (p *Provider) Targets(candidates []rfc5444.Target) []rfc5444.Target {
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

func (p *Provider) Render(target rfc5444.Target) (rfc5444.Message, error) {
	local, ok := p.Table.Get(target.Name)
	if !ok {
		return rfc5444.Message{}, nil
	}

	var originator addr.Address
	hasOriginator := false
	if target.Family == addr.AF_INET && local.HasOriginatorV4 {
		originator, hasOriginator = local.OriginatorV4, true
	}
	if target.Family == addr.AF_INET6 && local.HasOriginatorV6 {
		originator, hasOriginator = local.OriginatorV6, true
	}
	if !hasOriginator {
		return rfc5444.Message{}, nil
	}

	var prefixes []addr.Prefix
	var tlvs []rfc5444.Tlv

	appendLocal := func(a addr.Address, value LocalIfValue) {
		idx := uint8(len(prefixes))
		prefixes = append(prefixes, addr.NewPrefix(a))
		tlvs = append(tlvs, rfc5444.Tlv{
			Type: TlvLocalIf, HasIndex: true, Index1: idx, Index2: idx,
			Value: []byte{byte(value)},
		})
	}
	for _, a := range local.LocalAddresses {
		if a.Family() != target.Family {
			continue
		}
		appendLocal(a, ThisIf)
	}
	for _, other := range p.Table.All() {
		if other.Name == target.Name {
			continue
		}
		for _, a := range other.LocalAddresses {
			if a.Family() != target.Family {
				continue
			}
			appendLocal(a, OtherIf)
		}
	}

	for _, l := range p.DB.Links() {
		if l.Iface != target.Name || l.Neighbor == nil {
			continue
		}
		status := byte(LsHeard)
		switch l.Status {
		case nhdp.Symmetric:
			status = byte(LsSymmetric)
		case nhdp.Lost:
			status = byte(LsLost)
		}
		for _, a := range l.Addresses {
			if a.Family() != target.Family {
				continue
			}
			idx := uint8(len(prefixes))
			prefixes = append(prefixes, addr.NewPrefix(a))
			tlvs = append(tlvs, rfc5444.Tlv{
				Type: TlvLinkStatus, HasIndex: true, Index1: idx, Index2: idx,
				Value: []byte{status},
			})
			if l.LocalIsFloodingMPR {
				tlvs = append(tlvs, rfc5444.Tlv{
					Type: TlvMPR, HasIndex: true, Index1: idx, Index2: idx,
					Value: []byte{1},
				})
			}
			for domain := range p.Willing {
				in, out := nhdp.DefaultMetric, nhdp.DefaultMetric
				if v, ok := l.InMetric[domain]; ok {
					in = v
				}
				if v, ok := l.OutMetric[domain]; ok {
					out = v
				}
				tlvs = append(tlvs, rfc5444.Tlv{
					Type: TlvLinkMetric, HasExtType: true, ExtType: uint8(domain),
					HasIndex: true, Index1: idx, Index2: idx,
					Value: encodeLinkMetric(in, out),
				})
			}
		}
	}

	msgTlvs := []rfc5444.Tlv{
		{Type: TlvValidityTime, Value: []byte{p.VTime}},
		{Type: TlvIntervalTime, Value: []byte{p.ITime}},
	}
	for domain, w := range p.Willing {
		msgTlvs = append(msgTlvs, rfc5444.Tlv{
			Type: TlvMPRWilling, ExtType: uint8(domain), HasExtType: true, Value: []byte{w},
		})
	}

	if target.Family == addr.AF_INET6 && local.DualStack != nil && local.DualStack.HasOriginatorV4 {
		msgTlvs = append(msgTlvs, rfc5444.Tlv{
			Type: TlvIPv4Originator, Value: local.DualStack.OriginatorV4.Bytes(),
		})
	}

	return rfc5444.Message{
		Type:          MessageType,
		HasOriginator: true,
		Originator:    originator,
		Tlvs:          msgTlvs,
		Blocks:        []rfc5444.AddressBlock{{Addresses: prefixes, Tlvs: tlvs}},
	}, nil
}
