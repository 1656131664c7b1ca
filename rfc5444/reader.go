package rfc5444

import (
	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/metrics"
)

// Consumer processes messages of one registered type. HELLO and TC both
// implement this against the shared reader so neither owns its own
// copy of the packet/message walking logic.
type Consumer interface {
	// MessageType returns the msg-type this consumer wants dispatched
	// to it.
	MessageType() uint8

	// ConsumeMessageTlvs is called once per message, before any
	// address is visited.
	ConsumeMessageTlvs(m Message) DecodeResult

	// ConsumeAddress is called once per address in the message, in
	// wire order, with the TLVs attached to that specific address
	// (single-valued; a multivalue TLV's value for this address has
	// already been split out).
	ConsumeAddress(p addr.Prefix, tlvs []Tlv) DecodeResult

	// Finish is called once per message after every address has been
	// visited (or immediately, if the message was dropped before
	// reaching its addresses). dropped is true unless every call
	// returned Ok.
	Finish(dropped bool)
}

// Reader dispatches decoded packets to registered per-msg-type
// consumers. It owns no state across packets; register consumers once
// at startup and call Dispatch per received packet.
type Reader struct {
	consumers map[uint8][]Consumer
}

// NewReader creates an empty Reader.
func NewReader() *Reader {
	return &Reader{consumers: make(map[uint8][]Consumer)}
}

// Register adds c to the set of consumers invoked for its MessageType.
// Multiple consumers may register for the same type (e.g. a diagnostic
// archiver alongside the protocol consumer).
func (r *Reader) Register(c Consumer) {
	r.consumers[c.MessageType()] = append(r.consumers[c.MessageType()], c)
}

// tlvsForAddress extracts the TLVs in block that apply to address index
// idx, splitting out a multivalue TLV's per-address slot.
func tlvsForAddress(block AddressBlock, idx int) []Tlv {
	var out []Tlv
	for _, t := range block.Tlvs {
		if !t.HasIndex {
			out = append(out, t)
			continue
		}
		if idx < int(t.Index1) || idx > int(t.Index2) {
			continue
		}
		if t.MultiValue {
			single := t
			single.Values = nil
			single.MultiValue = false
			single.Value = t.Values[idx-int(t.Index1)]
			out = append(out, single)
		} else {
			out = append(out, t)
		}
	}
	return out
}

// Dispatch decodes buf for the given family and runs every registered
// consumer over each message it contains. It returns the decode error
// (if DecodePacket itself failed) and the number of messages processed.
func (r *Reader) Dispatch(buf []byte, family addr.Family, transport string) (int, error) {
	metrics.PacketsReceived.WithLabelValues(transport, family.String()).Inc()

	pkt, err := DecodePacket(buf, family)
	if err != nil {
		metrics.MessagesDropped.WithLabelValues("bad_length").Inc()
	}

	processed := 0
	for _, m := range pkt.Messages {
		if r.DispatchMessage(m) == DropPacket {
			break
		}
		processed++
	}
	return processed, err
}

// DispatchMessage runs every registered consumer over a single
// already-decoded message. Exposed (rather than folded entirely into
// Dispatch) so a caller that needs to inspect or transform messages
// between decode and dispatch — the sig package's ICV verification,
// which strips a TLV before any consumer sees it — can decode the
// packet itself and drive consumers per message.
func (r *Reader) DispatchMessage(m Message) DecodeResult {
	worst := Ok
	for _, c := range r.consumers[m.Type] {
		res := c.ConsumeMessageTlvs(m)
		dropped := res != Ok
		if res == Ok {
			idx := 0
			for _, block := range m.Blocks {
				for i, p := range block.Addresses {
					ar := c.ConsumeAddress(p, tlvsForAddress(block, i))
					if ar != Ok {
						dropped = true
						res = ar
					}
					if ar == DropPacket {
						break
					}
					idx++
				}
				if res == DropPacket {
					break
				}
			}
		}
		c.Finish(dropped)
		if dropped {
			metrics.MessagesDropped.WithLabelValues(dropReason(res)).Inc()
		}
		if res == DropPacket {
			worst = DropPacket
		}
	}
	return worst
}

func dropReason(r DecodeResult) string {
	switch r {
	case DropMessage:
		return "drop_message"
	case DropMessageButForward:
		return "drop_but_forward"
	case DropPacket:
		return "drop_packet"
	default:
		return "unknown"
	}
}
