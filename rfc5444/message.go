package rfc5444

import (
	"encoding/binary"
	"fmt"

	"github.com/openolsr/olsrv2d/addr"
)

const (
	msgHasOrig     = 0x80
	msgHasHopLimit = 0x40
	msgHasHopCount = 0x20
	msgHasSeqNum   = 0x10
	msgAddrLenMask = 0x0f
)

// Message is one decoded RFC 5444 message: header fields, its message
// TLVs, and its address blocks in wire order.
type Message struct {
	Type uint8

	HasOriginator bool
	Originator    addr.Address // valid iff HasOriginator

	HasHopLimit bool
	HopLimit    uint8

	HasHopCount bool
	HopCount    uint8

	HasSeqNum bool
	SeqNum    uint16

	Tlvs    []Tlv
	Blocks  []AddressBlock
}

// Addresses flattens every address block's addresses, in wire order,
// for consumers that don't care about block boundaries.
func (m Message) Addresses() []addr.Prefix {
	var out []addr.Prefix
	for _, b := range m.Blocks {
		out = append(out, b.Addresses...)
	}
	return out
}

// EncodeMessage renders m as a standalone message, for callers (the sig
// package's ICV signer) that need a canonical byte form to sign or
// verify rather than a wire packet. It does not apply MTU fragmentation.
func EncodeMessage(m Message) ([]byte, error) {
	buf, _, err := encodeMessage(nil, m)
	return buf, err
}

// encodeMessage renders m into buf, returning the new buffer and the
// byte offset of the 2-byte msg-size field so the caller can patch it
// in after fragmentation decides the final length.
func encodeMessage(buf []byte, m Message) ([]byte, int, error) {
	if !m.HasOriginator {
		return nil, 0, fmt.Errorf("rfc5444: message must carry an originator address")
	}
	width := m.Originator.Family().Width()
	if width == 0 || width > 16 {
		return nil, 0, fmt.Errorf("rfc5444: invalid address width %d", width)
	}

	flags := byte(width - 1)
	if m.HasOriginator {
		flags |= msgHasOrig
	}
	if m.HasHopLimit {
		flags |= msgHasHopLimit
	}
	if m.HasHopCount {
		flags |= msgHasHopCount
	}
	if m.HasSeqNum {
		flags |= msgHasSeqNum
	}

	buf = append(buf, m.Type, flags)
	sizePos := len(buf)
	buf = append(buf, 0, 0) // patched below

	if m.HasOriginator {
		buf = append(buf, m.Originator.Bytes()...)
	}
	if m.HasHopLimit {
		buf = append(buf, m.HopLimit)
	}
	if m.HasHopCount {
		buf = append(buf, m.HopCount)
	}
	if m.HasSeqNum {
		var s [2]byte
		binary.BigEndian.PutUint16(s[:], m.SeqNum)
		buf = append(buf, s[:]...)
	}

	buf = encodeTlvBlock(buf, m.Tlvs)

	for _, b := range m.Blocks {
		var err error
		buf, err = encodeAddressBlock(buf, b.Addresses, b.Tlvs)
		if err != nil {
			return nil, 0, err
		}
	}

	binary.BigEndian.PutUint16(buf[sizePos:sizePos+2], uint16(len(buf)-(sizePos-2)))
	return buf, sizePos, nil
}

// decodeMessage reads one message starting at off, using family to
// interpret the originator/address-block addresses. It returns the
// decoded message and the offset of the next message (computed from the
// msg-size field, so an unknown or malformed inner TLV still lets the
// reader skip to the following message rather than dropping the whole
// packet).
func decodeMessage(buf []byte, off int, family addr.Family) (Message, int, error) {
	start := off
	if off+4 > len(buf) {
		return Message{}, off, fmt.Errorf("rfc5444: truncated message header at %d", off)
	}
	m := Message{Type: buf[off]}
	flags := buf[off+1]
	msgSize := int(binary.BigEndian.Uint16(buf[off+2 : off+4]))
	off += 4

	nextMsg := start + msgSize
	if nextMsg > len(buf) || msgSize < 4 {
		return Message{}, off, fmt.Errorf("rfc5444: message size %d invalid at %d", msgSize, start)
	}

	width := int(flags&msgAddrLenMask) + 1
	if width != family.Width() {
		return Message{}, nextMsg, fmt.Errorf("rfc5444: message address width %d does not match transport family width %d", width, family.Width())
	}

	m.HasOriginator = flags&msgHasOrig != 0
	if m.HasOriginator {
		if off+width > len(buf) {
			return Message{}, nextMsg, fmt.Errorf("rfc5444: truncated originator at %d", off)
		}
		a, err := addr.FromBytes(family, buf[off:off+width], uint8(width*8))
		if err != nil {
			return Message{}, nextMsg, err
		}
		m.Originator = a
		off += width
	}

	m.HasHopLimit = flags&msgHasHopLimit != 0
	if m.HasHopLimit {
		if off >= len(buf) {
			return Message{}, nextMsg, fmt.Errorf("rfc5444: truncated hop-limit at %d", off)
		}
		m.HopLimit = buf[off]
		off++
	}
	m.HasHopCount = flags&msgHasHopCount != 0
	if m.HasHopCount {
		if off >= len(buf) {
			return Message{}, nextMsg, fmt.Errorf("rfc5444: truncated hop-count at %d", off)
		}
		m.HopCount = buf[off]
		off++
	}
	m.HasSeqNum = flags&msgHasSeqNum != 0
	if m.HasSeqNum {
		if off+2 > len(buf) {
			return Message{}, nextMsg, fmt.Errorf("rfc5444: truncated msg seqnum at %d", off)
		}
		m.SeqNum = binary.BigEndian.Uint16(buf[off : off+2])
		off += 2
	}

	tlvs, next, err := decodeTlvBlock(buf, off, 0)
	if err != nil {
		return Message{}, nextMsg, err
	}
	m.Tlvs = tlvs
	off = next

	for off < nextMsg {
		var block AddressBlock
		block, off, err = decodeAddressBlock(buf, off, family)
		if err != nil {
			return Message{}, nextMsg, err
		}
		m.Blocks = append(m.Blocks, block)
	}

	return m, nextMsg, nil
}
