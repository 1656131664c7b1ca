// Package addr provides the tagged-union address and prefix types shared
// by every other package in olsrv2d: RFC 5444 carries IPv4, IPv6, and
// (for NHDP's MAC TLV and link-layer bookkeeping) MAC48/EUI64 addresses
// over the same wire format, so the core engine needs one comparable,
// hashable, totally-ordered value type that covers all four families
// rather than leaning on net.IP's two-family model.
package addr

import (
	"bytes"
	"fmt"
	"net/netip"
)

// Family identifies the address family carried by an Address.
type Family uint8

// Address family constants, assigned by ascending byte width so Family
// also orders families from shortest to longest on-wire representation.
const (
	AF_INET Family = iota
	AF_MAC48
	AF_EUI64
	AF_INET6
)

func (f Family) String() string {
	switch f {
	case AF_INET:
		return "AF_INET"
	case AF_INET6:
		return "AF_INET6"
	case AF_MAC48:
		return "AF_MAC48"
	case AF_EUI64:
		return "AF_EUI64"
	default:
		return fmt.Sprintf("AF_UNKNOWN_%d", uint8(f))
	}
}

// Width returns the number of address bytes for the family.
func (f Family) Width() int {
	switch f {
	case AF_INET:
		return 4
	case AF_MAC48:
		return 6
	case AF_EUI64:
		return 8
	case AF_INET6:
		return 16
	default:
		return 0
	}
}

// maxBytes is the widest address representation (AF_INET6).
const maxBytes = 16

// Address is a value type: hashable, comparable with ==, and totally
// ordered by family then bytes then prefix length. The zero Address is
// not a valid address (Family AF_INET with all-zero bytes and plen 0 is
// a legitimate 0.0.0.0/0 route key component, so validity is tracked by
// callers, not by the zero value).
type Address struct {
	family Family
	bytes  [maxBytes]byte
	plen   uint8 // prefix length in bits, 0..family.Width()*8
}

// FromNetipAddr builds an Address from a net/netip.Addr, defaulting the
// prefix length to the full address width (a host address).
func FromNetipAddr(a netip.Addr) Address {
	if a.Is4() || a.Is4In6() {
		b := a.As4()
		var out Address
		out.family = AF_INET
		copy(out.bytes[:4], b[:])
		out.plen = 32
		return out
	}
	b := a.As16()
	var out Address
	out.family = AF_INET6
	copy(out.bytes[:16], b[:])
	out.plen = 128
	return out
}

// MAC48 builds a 6-byte link-layer address.
func MAC48(b [6]byte) Address {
	var out Address
	out.family = AF_MAC48
	copy(out.bytes[:6], b[:])
	out.plen = 48
	return out
}

// EUI64 builds an 8-byte link-layer address.
func EUI64(b [8]byte) Address {
	var out Address
	out.family = AF_EUI64
	copy(out.bytes[:8], b[:])
	out.plen = 64
	return out
}

// FromBytes builds an Address of the given family from raw bytes and
// prefix length, validating the byte count and plen range.
func FromBytes(f Family, b []byte, plen uint8) (Address, error) {
	w := f.Width()
	if w == 0 {
		return Address{}, fmt.Errorf("addr: unknown family %d", f)
	}
	if len(b) != w {
		return Address{}, fmt.Errorf("addr: family %s wants %d bytes, got %d", f, w, len(b))
	}
	if int(plen) > w*8 {
		return Address{}, fmt.Errorf("addr: plen %d exceeds %d-bit family %s", plen, w*8, f)
	}
	var out Address
	out.family = f
	copy(out.bytes[:w], b)
	out.plen = plen
	return out, nil
}

// Family returns the address family.
func (a Address) Family() Family { return a.family }

// PrefixLen returns the prefix length in bits.
func (a Address) PrefixLen() uint8 { return a.plen }

// WithPrefixLen returns a copy of a with a different prefix length.
func (a Address) WithPrefixLen(plen uint8) Address {
	a.plen = plen
	return a
}

// Bytes returns the address bytes (width determined by Family).
func (a Address) Bytes() []byte {
	return append([]byte(nil), a.bytes[:a.family.Width()]...)
}

// IsHost reports whether the prefix length covers the whole address.
func (a Address) IsHost() bool {
	return int(a.plen) == a.family.Width()*8
}

// NetipAddr converts an AF_INET/AF_INET6 Address back to net/netip.Addr.
// It panics if called on a MAC48/EUI64 address; callers must check
// Family first, matching the narrow contract net/netip itself exposes.
func (a Address) NetipAddr() netip.Addr {
	switch a.family {
	case AF_INET:
		var b [4]byte
		copy(b[:], a.bytes[:4])
		return netip.AddrFrom4(b)
	case AF_INET6:
		var b [16]byte
		copy(b[:], a.bytes[:16])
		return netip.AddrFrom16(b)
	default:
		panic("addr: NetipAddr called on non-IP family " + a.family.String())
	}
}

// Compare orders addresses by family, then bytes, then prefix length.
// This total order is what makes Address usable as a deterministic
// tie-break key (MPR selection, Dijkstra tie-break) without incurring
// string formatting in hot paths.
func (a Address) Compare(b Address) int {
	if a.family != b.family {
		if a.family < b.family {
			return -1
		}
		return 1
	}
	w := a.family.Width()
	if c := bytes.Compare(a.bytes[:w], b.bytes[:w]); c != 0 {
		return c
	}
	if a.plen != b.plen {
		if a.plen < b.plen {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether a sorts before b under Compare.
func (a Address) Less(b Address) bool { return a.Compare(b) < 0 }

// Equal reports whether a and b are identical, including prefix length.
func (a Address) Equal(b Address) bool { return a == b }

// String renders the address in the conventional notation for its
// family, with a "/plen" suffix when the prefix is not a full host
// address.
func (a Address) String() string {
	var base string
	switch a.family {
	case AF_INET, AF_INET6:
		base = a.NetipAddr().String()
	case AF_MAC48:
		base = fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
			a.bytes[0], a.bytes[1], a.bytes[2], a.bytes[3], a.bytes[4], a.bytes[5])
	case AF_EUI64:
		base = fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x:%02x:%02x",
			a.bytes[0], a.bytes[1], a.bytes[2], a.bytes[3], a.bytes[4], a.bytes[5], a.bytes[6], a.bytes[7])
	default:
		return "invalid-address"
	}
	if a.IsHost() {
		return base
	}
	return fmt.Sprintf("%s/%d", base, a.plen)
}
