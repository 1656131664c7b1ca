package hello_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/hello"
	"github.com/openolsr/olsrv2d/iface"
	"github.com/openolsr/olsrv2d/nhdp"
	"github.com/openolsr/olsrv2d/rfc5444"
)

func ip(s string) addr.Address { return addr.FromNetipAddr(netip.MustParseAddr(s)) }

func newTable(t *testing.T, name string, addrs ...addr.Address) *iface.Table {
	t.Helper()
	table := iface.NewTable(nil)
	table.Bind(&iface.Interface{Name: name, Index: 1, LocalAddresses: addrs})
	return table
}

func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

func consume(c *hello.Consumer, m rfc5444.Message) {
	c.ConsumeMessageTlvs(m)
	for _, b := range m.Blocks {
		for i, p := range b.Addresses {
			var tlvs []rfc5444.Tlv
			for _, t := range b.Tlvs {
				lo, hi := int(t.Index1), int(t.Index2)
				if !t.HasIndex {
					tlvs = append(tlvs, t)
					continue
				}
				if i < lo || i > hi {
					continue
				}
				tlvs = append(tlvs, t)
			}
			c.ConsumeAddress(p, tlvs)
		}
	}
	c.Finish(false)
}

func TestConsumeCreatesLinkAndPromotesToSymmetric(t *testing.T) {
	now := time.Unix(0, 0)
	table := newTable(t, "eth0", ip("192.168.1.1"))
	db := nhdp.NewDatabase(fixedClock(now), nhdp.DefaultHysteresis(), []nhdp.DomainID{nhdp.FloodingDomain})
	c := &hello.Consumer{IfaceName: "eth0", DB: db, LocalTable: table}

	peer := ip("192.168.1.2")
	msg := rfc5444.Message{
		Type: hello.MessageType,
		Tlvs: []rfc5444.Tlv{{Type: hello.TlvValidityTime, Value: []byte{rfc5444.EncodeTime(20 * time.Second)}}},
		Blocks: []rfc5444.AddressBlock{{
			Addresses: []addr.Prefix{addr.NewPrefix(peer), addr.NewPrefix(ip("192.168.1.1"))},
			Tlvs: []rfc5444.Tlv{
				{Type: hello.TlvLocalIf, HasIndex: true, Index1: 0, Index2: 0, Value: []byte{byte(hello.ThisIf)}},
				{Type: hello.TlvLinkStatus, HasIndex: true, Index1: 1, Index2: 1, Value: []byte{byte(hello.LsSymmetric)}},
			},
		}},
	}
	consume(c, msg)

	links := db.Links()
	if len(links) != 1 {
		t.Fatalf("expected one link created, got %d", len(links))
	}
	// A single HELLO from a previously-unheard link cannot jump straight
	// to SYMMETRIC: hysteresis quality after one sample is below Accept.
	if links[0].Status == nhdp.Pending {
		t.Fatal("link should have advanced past PENDING after being heard")
	}

	// A second HELLO pushes quality over the Accept threshold.
	consume(c, msg)
	consume(c, msg)
	links = db.Links()
	if links[0].Status != nhdp.Symmetric {
		t.Fatalf("expected SYMMETRIC after repeated confirmation, got %v", links[0].Status)
	}
}

func TestConsumeHarvestsTwoHopNeighbors(t *testing.T) {
	now := time.Unix(0, 0)
	table := newTable(t, "eth0", ip("192.168.1.1"))
	db := nhdp.NewDatabase(fixedClock(now), nhdp.DefaultHysteresis(), []nhdp.DomainID{nhdp.FloodingDomain})
	c := &hello.Consumer{IfaceName: "eth0", DB: db, LocalTable: table}

	twoHop := ip("192.168.1.3")
	msg := rfc5444.Message{
		Type: hello.MessageType,
		Tlvs: []rfc5444.Tlv{{Type: hello.TlvValidityTime, Value: []byte{rfc5444.EncodeTime(20 * time.Second)}}},
		Blocks: []rfc5444.AddressBlock{{
			Addresses: []addr.Prefix{addr.NewPrefix(ip("192.168.1.2")), addr.NewPrefix(twoHop)},
			Tlvs: []rfc5444.Tlv{
				{Type: hello.TlvLocalIf, HasIndex: true, Index1: 0, Index2: 0, Value: []byte{byte(hello.ThisIf)}},
				{Type: hello.TlvLinkStatus, HasIndex: true, Index1: 1, Index2: 1, Value: []byte{byte(hello.LsSymmetric)}},
			},
		}},
	}
	consume(c, msg)

	links := db.Links()
	if len(links) != 1 {
		t.Fatalf("expected one link, got %d", len(links))
	}
	if _, ok := links[0].TwoHop[twoHop]; !ok {
		t.Fatalf("expected %v harvested as a two-hop neighbor, got %v", twoHop, links[0].TwoHop)
	}
}

func TestConsumeRecordsNeighborSelectedUsAsMPRAndWillingness(t *testing.T) {
	now := time.Unix(0, 0)
	table := newTable(t, "eth0", ip("192.168.1.1"))
	db := nhdp.NewDatabase(fixedClock(now), nhdp.DefaultHysteresis(), []nhdp.DomainID{nhdp.FloodingDomain})
	c := &hello.Consumer{IfaceName: "eth0", DB: db, LocalTable: table}

	peer := ip("192.168.1.2")
	msg := rfc5444.Message{
		Type: hello.MessageType,
		Tlvs: []rfc5444.Tlv{
			{Type: hello.TlvValidityTime, Value: []byte{rfc5444.EncodeTime(20 * time.Second)}},
			{Type: hello.TlvMPRWilling, Value: []byte{7}},
		},
		Blocks: []rfc5444.AddressBlock{{
			Addresses: []addr.Prefix{addr.NewPrefix(peer), addr.NewPrefix(ip("192.168.1.1"))},
			Tlvs: []rfc5444.Tlv{
				{Type: hello.TlvLocalIf, HasIndex: true, Index1: 0, Index2: 0, Value: []byte{byte(hello.ThisIf)}},
				{Type: hello.TlvLinkStatus, HasIndex: true, Index1: 1, Index2: 1, Value: []byte{byte(hello.LsSymmetric)}},
				{Type: hello.TlvMPR, HasIndex: true, Index1: 1, Index2: 1, Value: []byte{1}},
			},
		}},
	}
	consume(c, msg)

	links := db.Links()
	if len(links) != 1 || !links[0].NeighborIsFloodingMPRSelector {
		t.Fatalf("expected neighbor to be recorded as having selected us as flooding MPR, link=%+v", links[0])
	}

	neighbors := db.Neighbors()
	if len(neighbors) != 1 || neighbors[0].Willingness[nhdp.FloodingDomain] != 7 {
		t.Fatalf("expected peer willingness 7 recorded, got %+v", neighbors)
	}
}

func TestMessageTypeIsRFC7181Hello(t *testing.T) {
	if hello.MessageType != 1 {
		t.Fatalf("MessageType = %d, want 1 per RFC 7181 §6", hello.MessageType)
	}
}

func TestConsumeAppliesLinkMetricTlvOnOwnAddress(t *testing.T) {
	now := time.Unix(0, 0)
	table := newTable(t, "eth0", ip("192.168.1.1"))
	db := nhdp.NewDatabase(fixedClock(now), nhdp.DefaultHysteresis(), []nhdp.DomainID{nhdp.FloodingDomain})
	c := &hello.Consumer{IfaceName: "eth0", DB: db, LocalTable: table}

	peer := ip("192.168.1.2")
	// Two 16-bit big-endian fields, each a 12-bit linear value plus a
	// 4-bit direction flag in the high nibble: field0 = INCOMING_LINK
	// (flag 1) value 7, field1 = OUTGOING_LINK (flag 2) value 12.
	linkMetricValue := []byte{1 << 4, 7, 2 << 4, 12}
	msg := rfc5444.Message{
		Type: hello.MessageType,
		Tlvs: []rfc5444.Tlv{{Type: hello.TlvValidityTime, Value: []byte{rfc5444.EncodeTime(20 * time.Second)}}},
		Blocks: []rfc5444.AddressBlock{{
			Addresses: []addr.Prefix{addr.NewPrefix(peer), addr.NewPrefix(ip("192.168.1.1"))},
			Tlvs: []rfc5444.Tlv{
				{Type: hello.TlvLocalIf, HasIndex: true, Index1: 0, Index2: 0, Value: []byte{byte(hello.ThisIf)}},
				{Type: hello.TlvLinkStatus, HasIndex: true, Index1: 1, Index2: 1, Value: []byte{byte(hello.LsSymmetric)}},
				{Type: hello.TlvLinkMetric, HasIndex: true, Index1: 1, Index2: 1, Value: linkMetricValue},
			},
		}},
	}
	consume(c, msg)

	links := db.Links()
	if len(links) != 1 {
		t.Fatalf("expected one link, got %d", len(links))
	}
	if in := links[0].InMetric[nhdp.FloodingDomain]; in != 7 {
		t.Fatalf("InMetric[FloodingDomain] = %d, want 7", in)
	}
	if out := links[0].OutMetric[nhdp.FloodingDomain]; out != 12 {
		t.Fatalf("OutMetric[FloodingDomain] = %d, want 12", out)
	}
}

func TestProviderTargetsOnlyFamiliesWithOriginator(t *testing.T) {
	table := iface.NewTable(nil)
	table.Bind(&iface.Interface{Name: "eth0", Index: 1, LocalAddresses: []addr.Address{ip("192.168.1.1")}})
	db := nhdp.NewDatabase(fixedClock(time.Unix(0, 0)), nhdp.DefaultHysteresis(), []nhdp.DomainID{nhdp.FloodingDomain})
	p := &hello.Provider{Table: table, DB: db}

	got := p.Targets([]rfc5444.Target{
		{Name: "eth0", Family: addr.AF_INET},
		{Name: "eth0", Family: addr.AF_INET6},
		{Name: "ghost", Family: addr.AF_INET},
	})
	if len(got) != 1 || got[0].Family != addr.AF_INET {
		t.Fatalf("expected only the AF_INET target on eth0, got %v", got)
	}
}

func TestProviderRenderEmitsLocalAndNeighborAddresses(t *testing.T) {
	table := iface.NewTable(nil)
	table.Bind(&iface.Interface{Name: "eth0", Index: 1, LocalAddresses: []addr.Address{ip("192.168.1.1")}})
	now := time.Unix(0, 0)
	db := nhdp.NewDatabase(fixedClock(now), nhdp.DefaultHysteresis(), []nhdp.DomainID{nhdp.FloodingDomain})

	link := db.FindOrCreateLink("eth0", []addr.Address{ip("192.168.1.2")})
	db.Touch(link, 20*time.Second)
	db.ConfirmSymmetric(link, 20*time.Second, ip("192.168.1.2"))
	db.Touch(link, 20*time.Second)
	db.ConfirmSymmetric(link, 20*time.Second, ip("192.168.1.2"))

	p := &hello.Provider{
		Table: table,
		DB:    db,
		VTime: rfc5444.EncodeTime(20 * time.Second),
		ITime: rfc5444.EncodeTime(2 * time.Second),
	}
	m, err := p.Render(rfc5444.Target{Name: "eth0", Family: addr.AF_INET})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !m.HasOriginator || !m.Originator.Equal(ip("192.168.1.1")) {
		t.Fatalf("expected originator 192.168.1.1, got %+v", m.Originator)
	}
	addrs := m.Addresses()
	if len(addrs) != 2 {
		t.Fatalf("expected 2 addresses (local + neighbor), got %d: %v", len(addrs), addrs)
	}
	var sawLocalIf, sawLinkStatus bool
	for _, b := range m.Blocks {
		for _, tlv := range b.Tlvs {
			switch tlv.Type {
			case hello.TlvLocalIf:
				sawLocalIf = true
			case hello.TlvLinkStatus:
				sawLinkStatus = true
			}
		}
	}
	if !sawLocalIf || !sawLinkStatus {
		t.Fatalf("expected both LOCAL_IF and LINK_STATUS TLVs in rendered message")
	}
}

func TestProviderRenderEmitsLinkMetricPerDomain(t *testing.T) {
	table := iface.NewTable(nil)
	table.Bind(&iface.Interface{Name: "eth0", Index: 1, LocalAddresses: []addr.Address{ip("192.168.1.1")}})
	now := time.Unix(0, 0)
	db := nhdp.NewDatabase(fixedClock(now), nhdp.DefaultHysteresis(), []nhdp.DomainID{nhdp.FloodingDomain, 1})

	link := db.FindOrCreateLink("eth0", []addr.Address{ip("192.168.1.2")})
	db.Touch(link, 20*time.Second)
	db.ConfirmSymmetric(link, 20*time.Second, ip("192.168.1.2"))
	db.Touch(link, 20*time.Second)
	db.ConfirmSymmetric(link, 20*time.Second, ip("192.168.1.2"))

	p := &hello.Provider{
		Table:   table,
		DB:      db,
		VTime:   rfc5444.EncodeTime(20 * time.Second),
		ITime:   rfc5444.EncodeTime(2 * time.Second),
		Willing: map[nhdp.DomainID]uint8{nhdp.FloodingDomain: 3, 1: 3},
	}
	m, err := p.Render(rfc5444.Target{Name: "eth0", Family: addr.AF_INET})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	seenDomains := map[nhdp.DomainID]bool{}
	for _, b := range m.Blocks {
		for _, tlv := range b.Tlvs {
			if tlv.Type != hello.TlvLinkMetric {
				continue
			}
			domain := nhdp.FloodingDomain
			if tlv.HasExtType {
				domain = nhdp.DomainID(tlv.ExtType)
			}
			seenDomains[domain] = true
		}
	}
	if len(seenDomains) != 2 || !seenDomains[nhdp.FloodingDomain] || !seenDomains[1] {
		t.Fatalf("expected a LINK_METRIC TLV for both domains, got %+v", seenDomains)
	}
}
