package rfc5444

import (
	"fmt"

	"github.com/openolsr/olsrv2d/addr"
)

const (
	abHasHead     = 0x80
	abHasFullTail = 0x40
	abHasZeroTail = 0x20
	abHasSinglePl = 0x10
	abHasMultiPl  = 0x08
)

// AddressBlock is one decoded <address-block><addr-tlv-block> pair: the
// addresses it carries (each with its own prefix length) and the TLVs
// attached to them, still indexed per Tlv.Index1/Index2 into Addresses.
type AddressBlock struct {
	Addresses []addr.Prefix
	Tlvs      []Tlv
}

// commonHeadTail finds the longest shared leading run (head) and the
// longest shared, non-overlapping trailing run (tail) across a set of
// equal-width byte slices. The writer uses this to choose the
// head/tail split that minimizes wire bytes, as required for the
// address-compression encoder.
func commonHeadTail(addrs [][]byte, width int) (headLen, tailLen int) {
	if len(addrs) == 0 {
		return 0, 0
	}
	headLen = width
	for i := 0; i < width; i++ {
		b := addrs[0][i]
		for _, a := range addrs[1:] {
			if a[i] != b {
				headLen = i
				goto headDone
			}
		}
	}
headDone:

	tailLen = width - headLen
	for i := 0; i < width-headLen; i++ {
		idx := width - 1 - i
		b := addrs[0][idx]
		for _, a := range addrs[1:] {
			if a[idx] != b {
				tailLen = i
				goto tailDone
			}
		}
	}
tailDone:
	return headLen, tailLen
}

// encodeAddressBlock appends one <address-block><addr-tlv-block> to buf.
// tlvs must already carry the correct Index1/Index2 into prefixes.
func encodeAddressBlock(buf []byte, prefixes []addr.Prefix, tlvs []Tlv) ([]byte, error) {
	n := len(prefixes)
	if n == 0 || n > 255 {
		return nil, fmt.Errorf("rfc5444: address block must carry 1..255 addresses, got %d", n)
	}
	width := prefixes[0].Family().Width()
	raw := make([][]byte, n)
	for i, p := range prefixes {
		if p.Family().Width() != width {
			return nil, fmt.Errorf("rfc5444: mixed address families in one address block")
		}
		raw[i] = p.Addr().Bytes()
	}

	headLen, tailLen := commonHeadTail(raw, width)
	if n == 1 {
		// A single address has no benefit from tail compression distinct
		// from head compression; prefer an all-head encoding.
		headLen, tailLen = width, 0
	}
	midLen := width - headLen - tailLen

	flags := byte(0)
	if headLen > 0 {
		flags |= abHasHead
	}
	allZeroTail := true
	for _, a := range raw {
		for i := width - tailLen; i < width; i++ {
			if a[i] != 0 {
				allZeroTail = false
			}
		}
	}
	if tailLen > 0 {
		if allZeroTail {
			flags |= abHasZeroTail
		} else {
			flags |= abHasFullTail
		}
	}

	plens := make([]uint8, n)
	singlePlen := true
	for i, p := range prefixes {
		plens[i] = p.Len()
		if plens[i] != plens[0] {
			singlePlen = false
		}
	}
	fullWidthPlen := plens[0] == uint8(width*8)
	if singlePlen && fullWidthPlen {
		// default: no prefix-length field needed
	} else if singlePlen {
		flags |= abHasSinglePl
	} else {
		flags |= abHasMultiPl
	}

	buf = append(buf, byte(n), flags)
	if flags&abHasHead != 0 {
		buf = append(buf, byte(headLen))
	}
	if flags&(abHasFullTail|abHasZeroTail) != 0 {
		buf = append(buf, byte(tailLen))
	}
	if headLen > 0 {
		buf = append(buf, raw[0][:headLen]...)
	}
	if flags&abHasFullTail != 0 {
		buf = append(buf, raw[0][width-tailLen:]...)
	}
	for _, a := range raw {
		buf = append(buf, a[headLen:headLen+midLen]...)
	}
	if flags&abHasSinglePl != 0 {
		buf = append(buf, plens[0])
	} else if flags&abHasMultiPl != 0 {
		buf = append(buf, plens...)
	}

	buf = encodeTlvBlock(buf, tlvs)
	return buf, nil
}

// decodeAddressBlock reads one <address-block><addr-tlv-block> from buf
// at off. family determines the per-address byte width, supplied by the
// caller from the transport the packet arrived on (IPv4 or IPv6
// multicast socket), since the wire format itself carries no family tag.
func decodeAddressBlock(buf []byte, off int, family addr.Family) (AddressBlock, int, error) {
	width := family.Width()
	if off+2 > len(buf) {
		return AddressBlock{}, off, fmt.Errorf("rfc5444: truncated address block header at %d", off)
	}
	n := int(buf[off])
	flags := buf[off+1]
	off += 2
	if n == 0 {
		return AddressBlock{}, off, fmt.Errorf("rfc5444: address block declares zero addresses")
	}

	headLen, tailLen := 0, 0
	if flags&abHasHead != 0 {
		if off >= len(buf) {
			return AddressBlock{}, off, fmt.Errorf("rfc5444: truncated head-length at %d", off)
		}
		headLen = int(buf[off])
		off++
	}
	if flags&(abHasFullTail|abHasZeroTail) != 0 {
		if off >= len(buf) {
			return AddressBlock{}, off, fmt.Errorf("rfc5444: truncated tail-length at %d", off)
		}
		tailLen = int(buf[off])
		off++
	}
	if headLen+tailLen > width {
		return AddressBlock{}, off, fmt.Errorf("rfc5444: head+tail length %d exceeds address width %d", headLen+tailLen, width)
	}

	var head, tail []byte
	if headLen > 0 {
		if off+headLen > len(buf) {
			return AddressBlock{}, off, fmt.Errorf("rfc5444: truncated head bytes at %d", off)
		}
		head = buf[off : off+headLen]
		off += headLen
	}
	if flags&abHasFullTail != 0 {
		if off+tailLen > len(buf) {
			return AddressBlock{}, off, fmt.Errorf("rfc5444: truncated tail bytes at %d", off)
		}
		tail = buf[off : off+tailLen]
		off += tailLen
	} else if flags&abHasZeroTail != 0 {
		tail = make([]byte, tailLen)
	}

	midLen := width - headLen - tailLen
	if off+midLen*n > len(buf) {
		return AddressBlock{}, off, fmt.Errorf("rfc5444: truncated mid bytes, need %d have %d", midLen*n, len(buf)-off)
	}
	full := make([][]byte, n)
	for i := 0; i < n; i++ {
		b := make([]byte, width)
		copy(b[:headLen], head)
		copy(b[headLen:headLen+midLen], buf[off:off+midLen])
		copy(b[headLen+midLen:], tail)
		off += midLen
		full[i] = b
	}

	plens := make([]uint8, n)
	defaultPlen := uint8(width * 8)
	for i := range plens {
		plens[i] = defaultPlen
	}
	if flags&abHasSinglePl != 0 {
		if off >= len(buf) {
			return AddressBlock{}, off, fmt.Errorf("rfc5444: truncated single prefix length at %d", off)
		}
		for i := range plens {
			plens[i] = buf[off]
		}
		off++
	} else if flags&abHasMultiPl != 0 {
		if off+n > len(buf) {
			return AddressBlock{}, off, fmt.Errorf("rfc5444: truncated multi prefix lengths at %d", off)
		}
		copy(plens, buf[off:off+n])
		off += n
	}

	prefixes := make([]addr.Prefix, n)
	for i, b := range full {
		a, err := addr.FromBytes(family, b, plens[i])
		if err != nil {
			return AddressBlock{}, off, fmt.Errorf("rfc5444: decoded address %d invalid: %w", i, err)
		}
		prefixes[i] = addr.NewPrefix(a)
	}

	tlvs, next, err := decodeTlvBlock(buf, off, n)
	if err != nil {
		return AddressBlock{}, off, err
	}
	return AddressBlock{Addresses: prefixes, Tlvs: tlvs}, next, nil
}
