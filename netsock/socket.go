// Package netsock implements daemon.Socket over real per-interface UDP
// multicast sockets, the RFC 5498-assigned OLSRv2/NHDP transport
// binding: port 269, multicast groups 224.0.0.109 (IPv4) and
// FF02::6D (IPv6), one socket per bound interface per family.
package netsock

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/openolsr/olsrv2d/addr"
)

// Port is the IANA-assigned "manet" port shared by NHDP and OLSRv2
// (RFC 5498).
const Port = 269

// MulticastV4 and MulticastV6 are the RFC 5498 LL-MANET-Routers groups.
var (
	MulticastV4 = net.IPv4(224, 0, 0, 109)
	MulticastV6 = net.ParseIP("ff02::6d")
)

// inbound is one datagram read off a bound socket, queued for Recv.
type inbound struct {
	data      []byte
	from      addr.Address
	ifaceName string
	family    addr.Family
}

// boundSocket is one (interface, family) multicast socket. The
// platform-specific fields (raw conn, joined ipv4/ipv6 PacketConn) live
// in platformSocket, built by bindV4/bindV6 in linux.go.
type boundSocket struct {
	ifaceName string
	family    addr.Family
	fd        int
	platform  *platformSocket
}

// Multiplexer owns one raw multicast socket per (interface, family)
// pair. Each socket is drained by its own goroutine into a shared
// inbound queue; Recv is a non-blocking read off that queue. It
// implements daemon.Socket.
type Multiplexer struct {
	mu      sync.Mutex
	sockets map[string]*boundSocket // key: ifaceName+family
	inboxC  chan inbound
	stopC   chan struct{}
	wg      sync.WaitGroup
}

// New creates a Multiplexer with no bound sockets; call Bind once per
// interface/family pair the daemon should listen and send on.
func New() *Multiplexer {
	return &Multiplexer{
		sockets: make(map[string]*boundSocket),
		inboxC:  make(chan inbound, 256),
		stopC:   make(chan struct{}),
	}
}

func socketKey(ifaceName string, family addr.Family) string {
	return fmt.Sprintf("%s/%s", ifaceName, family)
}

// Bind opens and joins the multicast group on ifaceName for family,
// adding it to the multiplexer's read/write set and starting its
// reader goroutine.
func (m *Multiplexer) Bind(ifaceName string, family addr.Family) error {
	ifc, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return fmt.Errorf("netsock: lookup interface %q: %w", ifaceName, err)
	}

	var bs *boundSocket
	switch family {
	case addr.AF_INET:
		bs, err = bindV4(ifc)
	case addr.AF_INET6:
		bs, err = bindV6(ifc)
	default:
		return fmt.Errorf("netsock: unsupported family %s", family)
	}
	if err != nil {
		return fmt.Errorf("netsock: bind %s/%s: %w", ifaceName, family, err)
	}
	bs.ifaceName = ifaceName
	bs.family = family

	m.mu.Lock()
	m.sockets[socketKey(ifaceName, family)] = bs
	m.mu.Unlock()

	m.wg.Add(1)
	go m.readLoop(bs)
	return nil
}

func (m *Multiplexer) readLoop(bs *boundSocket) {
	defer m.wg.Done()
	buf := make([]byte, 65535)
	for {
		n, from, err := bs.readFrom(buf)
		if err != nil {
			select {
			case <-m.stopC:
				return
			default:
				time.Sleep(10 * time.Millisecond)
				continue
			}
		}
		fromAddr, ok := toAddr(from)
		if !ok {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		msg := inbound{data: data, from: fromAddr, ifaceName: bs.ifaceName, family: bs.family}
		select {
		case m.inboxC <- msg:
		case <-m.stopC:
			return
		}
	}
}

func toAddr(na net.Addr) (addr.Address, bool) {
	udp, ok := na.(*net.UDPAddr)
	if !ok {
		return addr.Address{}, false
	}
	ap := udp.AddrPort()
	return addr.FromNetipAddr(ap.Addr().Unmap()), true
}

// Recv implements daemon.Socket: non-blocking, returns ok=false when no
// datagram is queued.
func (m *Multiplexer) Recv() (data []byte, from addr.Address, ifaceName string, family addr.Family, ok bool) {
	select {
	case msg := <-m.inboxC:
		return msg.data, msg.from, msg.ifaceName, msg.family, true
	default:
		return nil, addr.Address{}, "", 0, false
	}
}

// Send implements daemon.Socket: transmits data to the RFC 5498
// multicast group over the socket bound to ifaceName/family.
func (m *Multiplexer) Send(ifaceName string, family addr.Family, data []byte) error {
	m.mu.Lock()
	bs, ok := m.sockets[socketKey(ifaceName, family)]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("netsock: no socket bound for %s/%s", ifaceName, family)
	}
	return bs.writeTo(data)
}

// Close releases every bound socket and stops the reader goroutines.
func (m *Multiplexer) Close() error {
	close(m.stopC)
	m.mu.Lock()
	sockets := make([]*boundSocket, 0, len(m.sockets))
	for _, bs := range m.sockets {
		sockets = append(sockets, bs)
	}
	m.sockets = make(map[string]*boundSocket)
	m.mu.Unlock()

	var first error
	for _, bs := range sockets {
		if err := bs.close(); err != nil && first == nil {
			first = err
		}
	}
	m.wg.Wait()
	return first
}
