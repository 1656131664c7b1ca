package rfc5444

import (
	"net/netip"
	"testing"

	"github.com/go-test/deep"
	"github.com/openolsr/olsrv2d/addr"
)

func v4(s string) addr.Address {
	return addr.FromNetipAddr(netip.MustParseAddr(s))
}

func v4Prefix(s string, plen uint8) addr.Prefix {
	return addr.NewPrefix(v4(s).WithPrefixLen(plen))
}

func TestAddressBlockRoundTripHeadTailCompression(t *testing.T) {
	prefixes := []addr.Prefix{
		v4Prefix("10.1.2.1", 32),
		v4Prefix("10.1.2.2", 32),
		v4Prefix("10.1.2.3", 32),
	}
	tlvs := []Tlv{{Type: 1, Value: []byte{0x01}}}

	buf, err := encodeAddressBlock(nil, prefixes, tlvs)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	block, off, err := decodeAddressBlock(buf, 0, addr.AF_INET)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if off != len(buf) {
		t.Fatalf("decoded %d bytes, want %d", off, len(buf))
	}
	if diff := deep.Equal(block.Addresses, prefixes); diff != nil {
		t.Errorf("addresses mismatch: %v", diff)
	}
	// Three /32 addresses sharing a 10.1.2 head should compress to well
	// under the naive 3*4=12 address bytes.
	if len(buf) > 20 {
		t.Errorf("encoded address block unexpectedly large: %d bytes", len(buf))
	}
}

func TestAddressBlockSingleAddress(t *testing.T) {
	prefixes := []addr.Prefix{v4Prefix("192.168.1.1", 32)}
	buf, err := encodeAddressBlock(nil, prefixes, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	block, _, err := decodeAddressBlock(buf, 0, addr.AF_INET)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !block.Addresses[0].Equal(prefixes[0]) {
		t.Errorf("got %v, want %v", block.Addresses[0], prefixes[0])
	}
}

func TestAddressBlockMixedPrefixLengths(t *testing.T) {
	prefixes := []addr.Prefix{
		v4Prefix("10.0.0.0", 24),
		v4Prefix("10.0.1.0", 25),
	}
	buf, err := encodeAddressBlock(nil, prefixes, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	block, _, err := decodeAddressBlock(buf, 0, addr.AF_INET)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range prefixes {
		if !block.Addresses[i].Equal(prefixes[i]) {
			t.Errorf("addr %d: got %v, want %v", i, block.Addresses[i], prefixes[i])
		}
	}
}

func TestMultivalueTlvSplitsPerAddress(t *testing.T) {
	prefixes := []addr.Prefix{
		v4Prefix("10.0.0.1", 32),
		v4Prefix("10.0.0.2", 32),
	}
	tlv := Tlv{
		Type:       5,
		HasIndex:   true,
		Index1:     0,
		Index2:     1,
		MultiValue: true,
		Values:     [][]byte{{0xAA}, {0xBB}},
	}
	buf, err := encodeAddressBlock(nil, prefixes, []Tlv{tlv})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	block, _, err := decodeAddressBlock(buf, 0, addr.AF_INET)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(block.Tlvs) != 1 || !block.Tlvs[0].MultiValue {
		t.Fatalf("expected one multivalue tlv back, got %+v", block.Tlvs)
	}
	got := block.Tlvs[0].Values
	if len(got) != 2 || got[0][0] != 0xAA || got[1][0] != 0xBB {
		t.Fatalf("multivalue tlv values mismatch: %v", got)
	}

	t0 := tlvsForAddress(block, 0)
	t1 := tlvsForAddress(block, 1)
	if len(t0) != 1 || t0[0].Value[0] != 0xAA {
		t.Errorf("address 0 tlv = %+v, want value 0xAA", t0)
	}
	if len(t1) != 1 || t1[0].Value[0] != 0xBB {
		t.Errorf("address 1 tlv = %+v, want value 0xBB", t1)
	}
}

func buildTestMessage() Message {
	return Message{
		Type:          3,
		HasOriginator: true,
		Originator:    v4("10.0.0.1"),
		HasHopLimit:   true,
		HopLimit:      255,
		HasHopCount:   true,
		HopCount:      0,
		HasSeqNum:     true,
		SeqNum:        42,
		Tlvs:          []Tlv{{Type: 1, Value: []byte{0x02}}},
		Blocks: []AddressBlock{{
			Addresses: []addr.Prefix{
				v4Prefix("192.168.0.1", 32),
				v4Prefix("192.168.0.2", 32),
			},
		}},
	}
}

func TestMessageRoundTrip(t *testing.T) {
	m := buildTestMessage()
	buf, _, err := encodeMessage(nil, m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, next, err := decodeMessage(buf, 0, addr.AF_INET)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if next != len(buf) {
		t.Fatalf("decoded %d bytes, want %d", next, len(buf))
	}
	if diff := deep.Equal(got.Addresses(), m.Addresses()); diff != nil {
		t.Errorf("address mismatch: %v", diff)
	}
	if got.Type != m.Type || got.SeqNum != m.SeqNum || got.HopLimit != m.HopLimit {
		t.Errorf("header mismatch: got %+v", got)
	}
	if !got.Originator.Equal(m.Originator) {
		t.Errorf("originator mismatch: got %v want %v", got.Originator, m.Originator)
	}
}

func TestPacketRoundTripMultipleMessages(t *testing.T) {
	pkt := Packet{
		HasSeqNum: true,
		SeqNum:    7,
		Messages:  []Message{buildTestMessage(), buildTestMessage()},
	}
	pkt.Messages[1].SeqNum = 43

	buf := EncodePacket(pkt)
	got, err := DecodePacket(buf, addr.AF_INET)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(got.Messages))
	}
	if got.Messages[0].SeqNum != 42 || got.Messages[1].SeqNum != 43 {
		t.Errorf("seqnum mismatch: %+v", got.Messages)
	}
}

func TestDecodePacketTruncatedDropsRemainder(t *testing.T) {
	m := buildTestMessage()
	buf, _, err := encodeMessage(nil, m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	truncated := buf[:len(buf)-3]
	_, err = DecodePacket(truncated, addr.AF_INET)
	if err == nil {
		t.Fatal("expected an error decoding a truncated packet")
	}
}
