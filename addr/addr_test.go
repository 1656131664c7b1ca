package addr

import (
	"net/netip"
	"testing"
)

func TestFromNetipAddrRoundTrip(t *testing.T) {
	cases := []string{"192.0.2.1", "2001:db8::1", "0.0.0.0", "::"}
	for _, c := range cases {
		want := netip.MustParseAddr(c)
		a := FromNetipAddr(want)
		if got := a.NetipAddr(); got != want {
			t.Errorf("FromNetipAddr(%s).NetipAddr() = %s, want %s", c, got, want)
		}
		if !a.IsHost() {
			t.Errorf("%s: expected host address", c)
		}
	}
}

func TestFamilyWidth(t *testing.T) {
	cases := []struct {
		f Family
		w int
	}{
		{AF_INET, 4},
		{AF_INET6, 16},
		{AF_MAC48, 6},
		{AF_EUI64, 8},
	}
	for _, c := range cases {
		if got := c.f.Width(); got != c.w {
			t.Errorf("%s.Width() = %d, want %d", c.f, got, c.w)
		}
	}
}

func TestCompareTotalOrder(t *testing.T) {
	a := FromNetipAddr(netip.MustParseAddr("10.0.0.1"))
	b := FromNetipAddr(netip.MustParseAddr("10.0.0.2"))
	c, _ := FromBytes(AF_MAC48, []byte{0, 0, 0, 0, 0, 1}, 48)

	if !a.Less(b) {
		t.Errorf("expected %s < %s", a, b)
	}
	if !b.Less(c) {
		t.Errorf("expected AF_INET addresses to sort before AF_MAC48 (family order)")
	}
	if a.Compare(a) != 0 {
		t.Errorf("expected a == a")
	}
}

func TestFromBytesValidation(t *testing.T) {
	if _, err := FromBytes(AF_INET, []byte{1, 2, 3}, 32); err == nil {
		t.Error("expected error for wrong byte count")
	}
	if _, err := FromBytes(AF_INET, []byte{1, 2, 3, 4}, 33); err == nil {
		t.Error("expected error for plen exceeding width")
	}
	if _, err := FromBytes(Family(99), []byte{1}, 1); err == nil {
		t.Error("expected error for unknown family")
	}
}

func TestMAC48String(t *testing.T) {
	m := MAC48([6]byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01})
	if got, want := m.String(), "de:ad:be:ef:00:01"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestWithPrefixLenString(t *testing.T) {
	a := FromNetipAddr(netip.MustParseAddr("10.0.0.1")).WithPrefixLen(24)
	if got, want := a.String(), "10.0.0.1/24"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
