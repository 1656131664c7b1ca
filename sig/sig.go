// Package sig is the pluggable RFC 7182 integrity-check-value (ICV)
// hook (§6): a post-processor appends an ICV message TLV to an
// outgoing message after every other TLV/address is set, and a
// pre-processor verifies and strips it on ingress. The core stages
// messages as the rfc5444.Message struct (not yet encoded to wire
// bytes) specifically so this hook can rewrite TLVs before the final
// encode, matching the "buffer that permits the post-processor to
// rewrite length fields" requirement without the core needing to know
// about ICVs at all.
//
// The Signer interface has a no-op implementation (the default; most
// deployments run without message authentication) and an HMAC-SHA256
// implementation, both built the way the teacher swaps in a whitebox
// seam for testing (zstd.osPipe/zstdCommand): the byte-encoding step a
// Signer hashes over is an injectable function field.
package sig

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/openolsr/olsrv2d/rfc5444"
)

// signingProvider wraps an rfc5444.Provider, appending an ICV TLV to
// every message it renders before the writer encodes it.
type signingProvider struct {
	rfc5444.Provider
	signer Signer
}

// Wrap adapts p so every rendered message is passed through
// signer.Sign before the writer encodes it. The core's Writer encodes a
// Provider's Render output directly, with no seam of its own for a
// post-render transform, so signing has to happen by decorating the
// Provider rather than by changing Writer.Flush.
func Wrap(p rfc5444.Provider, signer Signer) rfc5444.Provider {
	if _, ok := signer.(NoOp); ok {
		return p
	}
	return signingProvider{Provider: p, signer: signer}
}

func (s signingProvider) Render(target rfc5444.Target) (rfc5444.Message, error) {
	m, err := s.Provider.Render(target)
	if err != nil {
		return m, err
	}
	return s.signer.Sign(m), nil
}

// TlvICV is the RFC7182_MSGTLV_ICV message-TLV type.
const TlvICV = 5

// Signer appends/verifies one message's ICV TLV.
type Signer interface {
	// Sign appends an ICV TLV computed over every other TLV/address
	// already set on m.
	Sign(m rfc5444.Message) rfc5444.Message
	// Verify strips the ICV TLV from m, if present, and reports whether
	// it matches. A message carrying no ICV TLV fails verification.
	Verify(m rfc5444.Message) (rfc5444.Message, bool)
}

// NoOp signs and verifies nothing, passing every message through
// unchanged. This is the default signature hook.
type NoOp struct{}

func (NoOp) Sign(m rfc5444.Message) rfc5444.Message           { return m }
func (NoOp) Verify(m rfc5444.Message) (rfc5444.Message, bool) { return m, true }

// HMACSHA256 signs messages with a shared symmetric key.
type HMACSHA256 struct {
	Key []byte

	// encode renders a message to the canonical bytes the MAC covers.
	// Swappable for tests.
	encode func(rfc5444.Message) ([]byte, error)
}

// NewHMACSHA256 creates an HMAC-SHA256 signer with key.
func NewHMACSHA256(key []byte) *HMACSHA256 {
	return &HMACSHA256{Key: key, encode: rfc5444.EncodeMessage}
}

func (s *HMACSHA256) Sign(m rfc5444.Message) rfc5444.Message {
	mac := s.mac(m)
	out := m
	out.Tlvs = append(append([]rfc5444.Tlv(nil), m.Tlvs...), rfc5444.Tlv{Type: TlvICV, Value: mac})
	return out
}

func (s *HMACSHA256) Verify(m rfc5444.Message) (rfc5444.Message, bool) {
	stripped := m
	stripped.Tlvs = nil
	var icv []byte
	found := false
	for _, t := range m.Tlvs {
		if t.Type == TlvICV {
			icv = t.Value
			found = true
			continue
		}
		stripped.Tlvs = append(stripped.Tlvs, t)
	}
	if !found {
		return m, false
	}
	want := s.mac(stripped)
	return stripped, hmac.Equal(icv, want)
}

func (s *HMACSHA256) mac(m rfc5444.Message) []byte {
	encode := s.encode
	if encode == nil {
		encode = rfc5444.EncodeMessage
	}
	b, err := encode(m)
	if err != nil {
		return nil
	}
	h := hmac.New(sha256.New, s.Key)
	h.Write(b)
	return h.Sum(nil)
}
