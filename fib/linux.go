package fib

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/vishvananda/netlink"

	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/iface"
)

// LinuxAdapter applies routes via vishvananda/netlink. Deletions run
// before additions/changes when Table is shared with other routing
// protocols (DeleteFirst), matching §5's configurable FIB apply order.
type LinuxAdapter struct {
	Ifaces      *iface.Table
	DeleteFirst bool
	// MaxRetries bounds the EBUSY retry loop; the kernel returns EBUSY
	// when a route it is concurrently touching (e.g. an ongoing RTNL
	// batch from another process) collides with ours.
	MaxRetries int
	RetryDelay time.Duration
}

func (a *LinuxAdapter) Apply(adds, changes []Route, dels []addr.RouteKey) error {
	del := func() error {
		for _, k := range dels {
			if err := a.withRetry(func() error { return a.delete(k) }); err != nil {
				return err
			}
		}
		return nil
	}
	add := func() error {
		for _, r := range adds {
			if err := a.withRetry(func() error { return a.install(r, false) }); err != nil {
				return err
			}
		}
		for _, r := range changes {
			if err := a.withRetry(func() error { return a.install(r, true) }); err != nil {
				return err
			}
		}
		return nil
	}

	if a.DeleteFirst {
		if err := del(); err != nil {
			return err
		}
		return add()
	}
	if err := add(); err != nil {
		return err
	}
	return del()
}

func (a *LinuxAdapter) withRetry(f func() error) error {
	var err error
	retries := a.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	for i := 0; i <= retries; i++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isEBUSY(err) {
			return err
		}
		time.Sleep(a.RetryDelay)
	}
	return fmt.Errorf("fib: giving up after %d retries: %w", retries, err)
}

func isEBUSY(err error) bool {
	return errors.Is(err, syscall.EBUSY)
}

func (a *LinuxAdapter) install(r Route, replace bool) error {
	link, ok := a.Ifaces.Get(r.IfaceName)
	if !ok {
		return fmt.Errorf("fib: unknown interface %q", r.IfaceName)
	}
	nr := &netlink.Route{
		LinkIndex: link.Index,
		Dst:       prefixToIPNet(r.Dst),
		Gw:        addrToIP(r.Gateway),
		Priority:  int(r.Metric),
		Table:     r.TableID,
		Protocol:  netlink.RouteProtocol(r.ProtoID),
	}
	if r.Src.Len() > 0 {
		nr.Src = addrToIP(r.Src.Addr())
	}
	if replace {
		return netlink.RouteReplace(nr)
	}
	return netlink.RouteAdd(nr)
}

func (a *LinuxAdapter) delete(k addr.RouteKey) error {
	nr := &netlink.Route{Dst: prefixToIPNet(k.Dst)}
	if k.Src.Len() > 0 {
		nr.Src = addrToIP(k.Src.Addr())
	}
	return netlink.RouteDel(nr)
}

func prefixToIPNet(p addr.Prefix) *net.IPNet {
	a := p.Addr()
	return &net.IPNet{
		IP:   net.IP(a.Bytes()),
		Mask: net.CIDRMask(int(p.Len()), a.Family().Width()*8),
	}
}

func addrToIP(a addr.Address) net.IP {
	if a.Family() == addr.AF_INET || a.Family() == addr.AF_INET6 {
		return net.IP(a.Bytes())
	}
	return nil
}
