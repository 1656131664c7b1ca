package addr

import "fmt"

// Prefix is a network prefix: an Address whose host bits beyond PrefixLen
// are conventionally zero. It is kept distinct from Address (rather than
// reusing Address directly) so call sites that require a network (TC
// endpoints, LAN entries, FIB destinations) are visibly different from
// call sites that require a specific neighbor/local address.
type Prefix struct {
	addr Address
}

// NewPrefix masks a out to its PrefixLen and returns the resulting Prefix.
func NewPrefix(a Address) Prefix {
	return Prefix{addr: mask(a)}
}

func mask(a Address) Address {
	w := a.family.Width()
	full := int(a.plen) / 8
	rem := int(a.plen) % 8
	for i := full; i < w; i++ {
		if i == full && rem != 0 {
			a.bytes[i] &= 0xFF << uint(8-rem)
			continue
		}
		a.bytes[i] = 0
	}
	return a
}

// Addr returns the underlying masked Address.
func (p Prefix) Addr() Address { return p.addr }

// Family returns the prefix's address family.
func (p Prefix) Family() Family { return p.addr.family }

// Len returns the prefix length in bits.
func (p Prefix) Len() uint8 { return p.addr.plen }

// IsDefault reports whether this is a default (/0) route, i.e. "any
// destination" when used as a RouteKey source prefix ("any source").
func (p Prefix) IsDefault() bool { return p.addr.plen == 0 }

// Contains reports whether p fully contains other (p is a supernet, or
// equal prefix, of other). Families must match.
func (p Prefix) Contains(other Prefix) bool {
	if p.Family() != other.Family() {
		return false
	}
	if p.Len() > other.Len() {
		return false
	}
	return mask(other.addr.WithPrefixLen(p.Len())) == p.addr
}

// Compare gives Prefix the same total order as Address.
func (p Prefix) Compare(o Prefix) int { return p.addr.Compare(o.addr) }

// Equal reports prefix equality (family, bytes, and length must match).
func (p Prefix) Equal(o Prefix) bool { return p.addr == o.addr }

func (p Prefix) String() string { return p.addr.String() }

// RouteKey is the (destination-prefix, source-prefix) pair that
// identifies one routable entity throughout the TC database, SPF
// engine, and FIB adapter. A zero-length Src means "any source": a
// conventional (non-source-specific) route, per spec.
type RouteKey struct {
	Dst Prefix
	Src Prefix // Src.Len() == 0 means "any source"
}

// HasSource reports whether this key carries a non-trivial source
// prefix (source-specific routing, §4.6).
func (k RouteKey) HasSource() bool { return k.Src.Len() > 0 }

// Compare orders RouteKeys by destination then source prefix.
func (k RouteKey) Compare(o RouteKey) int {
	if c := k.Dst.Compare(o.Dst); c != 0 {
		return c
	}
	return k.Src.Compare(o.Src)
}

func (k RouteKey) String() string {
	if !k.HasSource() {
		return k.Dst.String()
	}
	return fmt.Sprintf("%s from %s", k.Dst, k.Src)
}
