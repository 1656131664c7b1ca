// Package routeevent is the diagnostic route-change fan-out (§8): every
// FIB add/change/remove a domain's spf.Engine applies is also published
// as a JSONL event on a unix-domain socket, so an external tool can
// watch routing decisions happen without polling the kernel table.
//
// The transport is adapted line-for-line from the teacher's eventsocket
// package: a buffered channel feeding a fan-out goroutine that writes
// one JSON line per connected client, with a mutex-guarded client set
// so a slow or dead client can be dropped without blocking the others.
// FlowEvent becomes RouteEvent; Open/Close becomes Added/Changed/Removed.
package routeevent

import (
	"time"

	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/fib"
)

// RouteEventKind is the kind of FIB change that occurred.
type RouteEventKind int

const (
	// Added is sent when a new route is installed.
	Added = RouteEventKind(iota)
	// Changed is sent when an existing route's gateway/metric/iface changes.
	Changed
	// Removed is sent when a route is withdrawn.
	Removed
)

func (k RouteEventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// RouteEvent is one line of the JSONL wire protocol. Dst/Domain/Timestamp
// are always set; the remaining fields are empty on a Removed event,
// where only the key (Dst, Src) that was withdrawn is known.
type RouteEvent struct {
	Kind      RouteEventKind
	Timestamp time.Time
	Domain    int    `json:",omitempty"`
	Dst       string
	Src       string `json:",omitempty"`
	Gateway   string `json:",omitempty"`
	IfaceName string `json:",omitempty"`
	Metric    uint32 `json:",omitempty"`
	Distance  uint8  `json:",omitempty"`
}

func fromRoute(kind RouteEventKind, domain int, r fib.Route) RouteEvent {
	e := RouteEvent{
		Kind: kind, Timestamp: time.Now(), Domain: domain,
		Dst: r.Dst.String(), Gateway: r.Gateway.String(),
		IfaceName: r.IfaceName, Metric: r.Metric, Distance: r.Distance,
	}
	if r.Src.Len() > 0 {
		e.Src = r.Src.String()
	}
	return e
}

func fromKey(domain int, k addr.RouteKey) RouteEvent {
	e := RouteEvent{Kind: Removed, Timestamp: time.Now(), Domain: domain, Dst: k.Dst.String()}
	if k.Src.Len() > 0 {
		e.Src = k.Src.String()
	}
	return e
}
