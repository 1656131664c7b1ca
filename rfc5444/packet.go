package rfc5444

import (
	"encoding/binary"
	"fmt"

	"github.com/openolsr/olsrv2d/addr"
)

const (
	pktHasSeqNum = 0x80
	pktHasTlv    = 0x40
)

// Packet is one decoded RFC 5444 packet: optional sequence number,
// optional packet-level TLVs, and zero or more messages.
type Packet struct {
	HasSeqNum bool
	SeqNum    uint16
	Tlvs      []Tlv
	Messages  []Message
}

// EncodePacket renders p as a complete RFC 5444 packet.
func EncodePacket(p Packet) []byte {
	flags := byte(0)
	if p.HasSeqNum {
		flags |= pktHasSeqNum
	}
	if len(p.Tlvs) > 0 {
		flags |= pktHasTlv
	}

	buf := []byte{flags}
	if p.HasSeqNum {
		var s [2]byte
		binary.BigEndian.PutUint16(s[:], p.SeqNum)
		buf = append(buf, s[:]...)
	}
	if flags&pktHasTlv != 0 {
		buf = encodeTlvBlock(buf, p.Tlvs)
	}
	for _, m := range p.Messages {
		var err error
		buf, _, err = encodeMessage(buf, m)
		if err != nil {
			// Messages are validated individually before being queued by
			// the writer; a failure here means the caller built an
			// invalid Message by hand.
			panic(err)
		}
	}
	return buf
}

// DecodeResult enumerates what a message-level consumer asks the
// reader to do once it has inspected a message.
type DecodeResult int

const (
	// Ok accepts the message and continues reading the packet normally.
	Ok DecodeResult = iota
	// DropMessage discards this message only.
	DropMessage
	// DropMessageButForward discards local processing of this message
	// but still lets it be relayed to outgoing interfaces.
	DropMessageButForward
	// DropPacket halts parsing of the remaining packet entirely.
	DropPacket
)

// DecodePacket parses buf as an RFC 5444 packet whose addresses are of
// the given family (the multicast socket a packet arrived on implies
// its family, since the wire format itself carries no family tag). A
// malformed packet header is the only failure that drops the whole
// packet; a malformed message only drops that message and parsing
// continues at the next one, per the failure model.
func DecodePacket(buf []byte, family addr.Family) (Packet, error) {
	if len(buf) == 0 {
		return Packet{}, fmt.Errorf("rfc5444: empty packet")
	}
	flags := buf[0]
	off := 1
	var p Packet
	p.HasSeqNum = flags&pktHasSeqNum != 0
	if p.HasSeqNum {
		if off+2 > len(buf) {
			return Packet{}, fmt.Errorf("rfc5444: truncated packet seqnum")
		}
		p.SeqNum = binary.BigEndian.Uint16(buf[off : off+2])
		off += 2
	}
	if flags&pktHasTlv != 0 {
		tlvs, next, err := decodeTlvBlock(buf, off, 0)
		if err != nil {
			return Packet{}, fmt.Errorf("rfc5444: malformed packet tlv block: %w", err)
		}
		p.Tlvs = tlvs
		off = next
	}

	for off < len(buf) {
		m, next, err := decodeMessage(buf, off, family)
		if err != nil {
			// A message-level parse failure drops only this message when
			// its msg-size field still frames it inside the packet:
			// parsing resumes right after it. When msg-size itself cannot
			// frame the message there is no safe point to resume at, so
			// the remainder of the packet is dropped.
			if off+4 <= len(buf) {
				size := int(binary.BigEndian.Uint16(buf[off+2 : off+4]))
				if size >= 4 && off+size <= len(buf) {
					off += size
					continue
				}
			}
			return p, fmt.Errorf("rfc5444: dropping remainder of packet: %w", err)
		}
		p.Messages = append(p.Messages, m)
		off = next
	}
	return p, nil
}
