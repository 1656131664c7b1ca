//go:build linux

package netsock

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

// platformSocket additionally carries the joined packet connection and
// the pre-built destination for Send, on top of the fields declared in
// socket.go.
type platformSocket struct {
	raw   net.PacketConn
	pc4   *ipv4.PacketConn
	pc6   *ipv6.PacketConn
	group net.Addr
}

func bindV4(ifc *net.Interface) (*boundSocket, error) {
	conn, err := listenReusable("udp4", fmt.Sprintf(":%d", Port))
	if err != nil {
		return nil, err
	}
	pc := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: MulticastV4, Port: Port}
	if err := pc.JoinGroup(ifc, group); err != nil {
		conn.Close()
		return nil, fmt.Errorf("join %s on %s: %w", MulticastV4, ifc.Name, err)
	}
	if err := pc.SetMulticastInterface(ifc); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set egress interface %s: %w", ifc.Name, err)
	}
	_ = pc.SetMulticastLoopback(false)

	return &boundSocket{fd: socketFD(conn), platform: &platformSocket{raw: conn, pc4: pc, group: group}}, nil
}

func bindV6(ifc *net.Interface) (*boundSocket, error) {
	conn, err := listenReusable("udp6", fmt.Sprintf(":%d", Port))
	if err != nil {
		return nil, err
	}
	pc := ipv6.NewPacketConn(conn)
	group := &net.UDPAddr{IP: MulticastV6, Port: Port, Zone: ifc.Name}
	if err := pc.JoinGroup(ifc, group); err != nil {
		conn.Close()
		return nil, fmt.Errorf("join %s on %s: %w", MulticastV6, ifc.Name, err)
	}
	if err := pc.SetMulticastInterface(ifc); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set egress interface %s: %w", ifc.Name, err)
	}
	_ = pc.SetMulticastLoopback(false)

	return &boundSocket{fd: socketFD(conn), platform: &platformSocket{raw: conn, pc6: pc, group: group}}, nil
}

// listenReusable opens a UDP listener with SO_REUSEADDR/SO_REUSEPORT, so
// one socket per bound interface can share the same multicast port —
// the kernel demultiplexes by which interface's group membership a
// given multicast datagram matches.
func listenReusable(network, addr string) (net.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					sockErr = fmt.Errorf("SO_REUSEADDR: %w", err)
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					sockErr = fmt.Errorf("SO_REUSEPORT: %w", err)
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.ListenPacket(context.Background(), network, addr)
}

func socketFD(conn net.PacketConn) int {
	uc, ok := conn.(*net.UDPConn)
	if !ok {
		return -1
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return -1
	}
	var fd int
	raw.Control(func(f uintptr) { fd = int(f) })
	return fd
}

func (bs *boundSocket) readFrom(buf []byte) (int, net.Addr, error) {
	return bs.platform.raw.ReadFrom(buf)
}

func (bs *boundSocket) writeTo(data []byte) error {
	var err error
	switch {
	case bs.platform.pc4 != nil:
		_, err = bs.platform.pc4.WriteTo(data, nil, bs.platform.group)
	case bs.platform.pc6 != nil:
		_, err = bs.platform.pc6.WriteTo(data, nil, bs.platform.group)
	}
	return err
}

func (bs *boundSocket) close() error {
	return bs.platform.raw.Close()
}
