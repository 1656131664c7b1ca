package sig_test

import (
	"net/netip"
	"testing"

	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/rfc5444"
	"github.com/openolsr/olsrv2d/sig"
)

func sampleMessage() rfc5444.Message {
	return rfc5444.Message{
		Type:          1,
		HasOriginator: true,
		Originator:    addr.FromNetipAddr(netip.MustParseAddr("10.0.0.1")),
		Tlvs:          []rfc5444.Tlv{{Type: 1, Value: []byte{20}}},
	}
}

func TestNoOpPassesMessageThroughUnchanged(t *testing.T) {
	m := sampleMessage()
	signed := sig.NoOp{}.Sign(m)
	if len(signed.Tlvs) != len(m.Tlvs) {
		t.Fatalf("NoOp must not add TLVs, got %+v", signed.Tlvs)
	}
	out, ok := sig.NoOp{}.Verify(signed)
	if !ok || len(out.Tlvs) != len(m.Tlvs) {
		t.Fatalf("NoOp.Verify must always succeed and pass the message through")
	}
}

func TestHMACSHA256RoundTrips(t *testing.T) {
	s := sig.NewHMACSHA256([]byte("shared-secret"))
	m := sampleMessage()

	signed := s.Sign(m)
	if len(signed.Tlvs) != len(m.Tlvs)+1 {
		t.Fatalf("expected one ICV TLV appended, got %+v", signed.Tlvs)
	}

	stripped, ok := s.Verify(signed)
	if !ok {
		t.Fatal("expected verification to succeed for an unmodified signed message")
	}
	if len(stripped.Tlvs) != len(m.Tlvs) {
		t.Fatalf("expected the ICV TLV to be stripped, got %+v", stripped.Tlvs)
	}
}

func TestHMACSHA256RejectsTamperedMessage(t *testing.T) {
	s := sig.NewHMACSHA256([]byte("shared-secret"))
	signed := s.Sign(sampleMessage())

	// Tamper with a non-ICV TLV's value after signing.
	signed.Tlvs[0].Value = []byte{99}

	_, ok := s.Verify(signed)
	if ok {
		t.Fatal("expected verification to fail for a tampered message")
	}
}

func TestHMACSHA256RejectsMissingICV(t *testing.T) {
	s := sig.NewHMACSHA256([]byte("shared-secret"))
	_, ok := s.Verify(sampleMessage())
	if ok {
		t.Fatal("expected verification to fail when no ICV TLV is present")
	}
}

func TestHMACSHA256RejectsWrongKey(t *testing.T) {
	signed := sig.NewHMACSHA256([]byte("key-a")).Sign(sampleMessage())
	_, ok := sig.NewHMACSHA256([]byte("key-b")).Verify(signed)
	if ok {
		t.Fatal("expected verification with a different key to fail")
	}
}
