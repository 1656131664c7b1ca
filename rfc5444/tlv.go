// Package rfc5444 implements the RFC 5444 generic packet/message/TLV
// format shared by NHDP and OLSRv2: packet header, message header,
// address blocks with head/tail compression, and TLV blocks attached to
// either a message or an address block. The reader and writer are both
// built around the fixed-header-then-length-prefixed-attribute idiom
// used throughout the pack's netlink parsing code, generalized from a
// single flat attribute list to RFC 5444's nested packet/message/
// address-block TLV containers.
package rfc5444

import (
	"encoding/binary"
	"fmt"
)

// TLV flag bits, per RFC 5444 §5.4.1.
const (
	flagHasExtType    = 0x80
	flagHasSingleIdx  = 0x40
	flagHasMultiIdx   = 0x20
	flagHasValue      = 0x10
	flagHasExtLen     = 0x08
	flagMultiValue    = 0x04
)

// Tlv is one decoded type-length-value entry, attached either to a
// message or to an address block.
type Tlv struct {
	Type    uint8
	ExtType uint8 // meaningful only when HasExtType
	HasExtType bool

	// Index1/Index2 select which addresses in the enclosing address
	// block this TLV applies to. For a message-TLV both are unused.
	// A single index has Index1 == Index2; HasIndex is false when the
	// TLV applies to the whole address block.
	HasIndex bool
	Index1   uint8
	Index2   uint8

	// MultiValue TLVs carry one value per address covered by
	// [Index1, Index2]; Values has len == Index2-Index1+1 in that
	// case. Otherwise Value holds the single value and Values is nil.
	MultiValue bool
	Value      []byte
	Values     [][]byte
}

// FullType combines Type and ExtType the way consumers compare against
// a registered (type, exttype) pair.
func (t Tlv) FullType() uint16 {
	return uint16(t.Type)<<8 | uint16(t.ExtType)
}

// encodeTlv appends the wire encoding of t to buf.
func encodeTlv(buf []byte, t Tlv) []byte {
	flags := byte(0)
	if t.HasExtType {
		flags |= flagHasExtType
	}
	if t.HasIndex {
		if t.Index1 == t.Index2 {
			flags |= flagHasSingleIdx
		} else {
			flags |= flagHasMultiIdx
		}
	}

	var value []byte
	if t.MultiValue {
		flags |= flagMultiValue | flagHasValue
		for _, v := range t.Values {
			value = append(value, v...)
		}
	} else if t.Value != nil {
		flags |= flagHasValue
		value = t.Value
	}

	extLen := len(value) > 255
	if extLen {
		flags |= flagHasExtLen
	}

	buf = append(buf, t.Type, flags)
	if t.HasExtType {
		buf = append(buf, t.ExtType)
	}
	if t.HasIndex {
		buf = append(buf, t.Index1)
		if flags&flagHasMultiIdx != 0 {
			buf = append(buf, t.Index2)
		}
	}
	if flags&flagHasValue != 0 {
		if extLen {
			var l [2]byte
			binary.BigEndian.PutUint16(l[:], uint16(len(value)))
			buf = append(buf, l[:]...)
		} else {
			buf = append(buf, byte(len(value)))
		}
		buf = append(buf, value...)
	}
	return buf
}

// decodeTlv reads one TLV from buf starting at offset off, returning the
// parsed TLV and the offset of the next byte after it. numAddrs is the
// number of addresses in the enclosing address block, needed to split a
// multivalue TLV's concatenated value back into per-address slices.
func decodeTlv(buf []byte, off int, numAddrs int) (Tlv, int, error) {
	if off+2 > len(buf) {
		return Tlv{}, off, fmt.Errorf("rfc5444: truncated tlv header at %d", off)
	}
	t := Tlv{Type: buf[off]}
	flags := buf[off+1]
	off += 2

	t.HasExtType = flags&flagHasExtType != 0
	if t.HasExtType {
		if off >= len(buf) {
			return Tlv{}, off, fmt.Errorf("rfc5444: truncated tlv exttype at %d", off)
		}
		t.ExtType = buf[off]
		off++
	}

	hasSingle := flags&flagHasSingleIdx != 0
	hasMulti := flags&flagHasMultiIdx != 0
	if hasSingle || hasMulti {
		t.HasIndex = true
		if off >= len(buf) {
			return Tlv{}, off, fmt.Errorf("rfc5444: truncated tlv index1 at %d", off)
		}
		t.Index1 = buf[off]
		off++
		if hasMulti {
			if off >= len(buf) {
				return Tlv{}, off, fmt.Errorf("rfc5444: truncated tlv index2 at %d", off)
			}
			t.Index2 = buf[off]
			off++
		} else {
			t.Index2 = t.Index1
		}
	}

	if flags&flagHasValue == 0 {
		return t, off, nil
	}

	var length int
	if flags&flagHasExtLen != 0 {
		if off+2 > len(buf) {
			return Tlv{}, off, fmt.Errorf("rfc5444: truncated tlv extlen at %d", off)
		}
		length = int(binary.BigEndian.Uint16(buf[off : off+2]))
		off += 2
	} else {
		if off >= len(buf) {
			return Tlv{}, off, fmt.Errorf("rfc5444: truncated tlv len at %d", off)
		}
		length = int(buf[off])
		off++
	}
	if off+length > len(buf) {
		return Tlv{}, off, fmt.Errorf("rfc5444: tlv value length %d exceeds remaining buffer", length)
	}
	value := buf[off : off+length]
	off += length

	if flags&flagMultiValue != 0 {
		t.MultiValue = true
		n := numAddrs
		if t.HasIndex {
			n = int(t.Index2) - int(t.Index1) + 1
		}
		if n <= 0 || length%n != 0 {
			return Tlv{}, off, fmt.Errorf("rfc5444: multivalue tlv length %d not divisible by %d addresses", length, n)
		}
		per := length / n
		t.Values = make([][]byte, n)
		for i := 0; i < n; i++ {
			t.Values[i] = value[i*per : (i+1)*per]
		}
	} else {
		t.Value = value
	}
	return t, off, nil
}

// decodeTlvBlock reads a <tlv-block-length><tlv>* block starting at off.
func decodeTlvBlock(buf []byte, off int, numAddrs int) ([]Tlv, int, error) {
	if off+2 > len(buf) {
		return nil, off, fmt.Errorf("rfc5444: truncated tlv block length at %d", off)
	}
	blockLen := int(binary.BigEndian.Uint16(buf[off : off+2]))
	off += 2
	end := off + blockLen
	if end > len(buf) {
		return nil, off, fmt.Errorf("rfc5444: tlv block length %d exceeds remaining buffer", blockLen)
	}
	var tlvs []Tlv
	for off < end {
		t, next, err := decodeTlv(buf, off, numAddrs)
		if err != nil {
			return nil, off, err
		}
		tlvs = append(tlvs, t)
		off = next
	}
	return tlvs, end, nil
}

// encodeTlvBlock appends a <tlv-block-length><tlv>* block to buf.
func encodeTlvBlock(buf []byte, tlvs []Tlv) []byte {
	lenPos := len(buf)
	buf = append(buf, 0, 0) // placeholder length
	start := len(buf)
	for _, t := range tlvs {
		buf = encodeTlv(buf, t)
	}
	binary.BigEndian.PutUint16(buf[lenPos:lenPos+2], uint16(len(buf)-start))
	return buf
}
