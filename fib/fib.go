// Package fib defines the forwarding-table route shape SPF computes
// and the Adapter contract that applies it to a real routing table.
// Route follows the teacher's csv-tagged struct idiom (tcp.LinuxTCPInfo).
// cmd/olsrctl does not read Route: it dumps archive.RouteSnapshot rows
// from snapshot files.
package fib

import (
	"github.com/openolsr/olsrv2d/addr"
)

// Type distinguishes a normal forwarding entry from a blackhole/throw
// entry a domain may wish to publish for an unreachable source-specific
// prefix.
type Type int

const (
	Unicast Type = iota
	Blackhole
	Throw
)

// Route is one forwarding entry SPF wants installed.
type Route struct {
	Dst       addr.Prefix  `csv:"Route.Dst"`
	Src       addr.Prefix  `csv:"Route.Src"` // Src.Len() == 0 means no source-specific match
	Gateway   addr.Address `csv:"Route.Gateway"`
	IfaceName string       `csv:"Route.Iface"`
	Metric    uint32       `csv:"Route.Metric"`
	TableID   int          `csv:"Route.Table"`
	ProtoID   int          `csv:"Route.Proto"`
	Type      Type         `csv:"Route.Type"`
	Distance  uint8        `csv:"Route.Distance"`
}

// Key returns the RouteKey identifying this route's destination, for
// diffing against a previously-installed set.
func (r Route) Key() addr.RouteKey {
	return addr.RouteKey{Dst: r.Dst, Src: r.Src}
}

// Adapter applies a diffed route set to a real forwarding table. Apply
// must be safe to retry: a caller that gets an error back leaves its
// desired-state unchanged and retries the same diff next settle.
type Adapter interface {
	Apply(adds, changes []Route, dels []addr.RouteKey) error
}
