//go:build linux

package netpoll

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

const sockFlags = unix.SOCK_NONBLOCK | unix.SOCK_CLOEXEC

// sockaddr converts ip and port to a socket address. A nil or unspecified
// IPv4 address binds every IPv4 interface.
func sockaddr(ip net.IP, port int) (unix.Sockaddr, int) {
	if ip == nil {
		return &unix.SockaddrInet4{Port: port}, unix.AF_INET
	}
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return sa, unix.AF_INET6
}

func ipPort(sa unix.Sockaddr) (net.IP, int) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IPv4(sa.Addr[0], sa.Addr[1], sa.Addr[2], sa.Addr[3]), sa.Port
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, sa.Addr[:])
		return ip, sa.Port
	}
	return nil, 0
}

func tcpAddr(sa unix.Sockaddr) *net.TCPAddr {
	ip, port := ipPort(sa)
	return &net.TCPAddr{IP: ip, Port: port}
}

func udpAddr(sa unix.Sockaddr) *net.UDPAddr {
	ip, port := ipPort(sa)
	return &net.UDPAddr{IP: ip, Port: port}
}

func wouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EINTR
}

// IsTemporary reports whether err is an accept failure caused by resource
// exhaustion or an aborted handshake, after which the listener is still
// usable.
func IsTemporary(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case unix.EMFILE, unix.ENFILE, unix.ENOBUFS, unix.ENOMEM, unix.ECONNABORTED:
		return true
	}
	return false
}

// Listener is a non-blocking listening TCP socket.
type Listener struct {
	fd   int
	addr *net.TCPAddr
}

// ListenTCP binds and listens on address ("host:port").
func ListenTCP(address string) (*Listener, error) {
	laddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", address, err)
	}
	sa, domain := sockaddr(laddr.IP, laddr.Port)

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|sockFlags, 0)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}
	local, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("getsockname", err)
	}
	return &Listener{fd: fd, addr: tcpAddr(local)}, nil
}

func (l *Listener) FD() int            { return l.fd }
func (l *Listener) Addr() *net.TCPAddr { return l.addr }

// Accept returns the next pending connection, or nil and a nil error when
// there is none.
func (l *Listener) Accept() (*Stream, error) {
	nfd, sa, err := unix.Accept4(l.fd, sockFlags)
	if wouldBlock(err) {
		return nil, nil
	} else if err != nil {
		return nil, os.NewSyscallError("accept4", err)
	}
	return &Stream{fd: nfd, remote: tcpAddr(sa)}, nil
}

func (l *Listener) Close() error {
	return unix.Close(l.fd)
}

// Stream is a non-blocking connected TCP socket.
type Stream struct {
	fd         int
	remote     *net.TCPAddr
	connecting bool
}

// DialTCP starts connecting to address. The returned stream reports
// Connecting until FinishConnect is called once it becomes writable.
func DialTCP(address string) (*Stream, error) {
	raddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", address, err)
	}
	sa, domain := sockaddr(raddr.IP, raddr.Port)

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|sockFlags, 0)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, os.NewSyscallError("connect", err)
	}
	return &Stream{fd: fd, remote: raddr, connecting: err != nil}, nil
}

func (s *Stream) FD() int              { return s.fd }
func (s *Stream) RemoteAddr() net.Addr { return s.remote }
func (s *Stream) Connecting() bool     { return s.connecting }

// FinishConnect completes a connection started by DialTCP, returning the
// error the connection attempt ended with.
func (s *Stream) FinishConnect() error {
	if !s.connecting {
		return nil
	}
	soerr, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return os.NewSyscallError("getsockopt", err)
	}
	if soerr != 0 {
		return os.NewSyscallError("connect", syscall.Errno(soerr))
	}
	s.connecting = false
	return nil
}

// Read returns io.EOF once the peer has shut down its side of the connection.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := unix.Read(s.fd, p)
	switch {
	case wouldBlock(err):
		return 0, nil
	case err != nil:
		return 0, os.NewSyscallError("read", err)
	case n == 0 && len(p) > 0:
		return 0, io.EOF
	}
	return n, nil
}

func (s *Stream) Write(p []byte) (int, error) {
	n, err := unix.SendmsgN(s.fd, p, nil, nil, unix.MSG_NOSIGNAL)
	switch {
	case wouldBlock(err):
		return 0, nil
	case err != nil:
		return 0, os.NewSyscallError("sendmsg", err)
	}
	return n, nil
}

func (s *Stream) Close() error {
	return unix.Close(s.fd)
}

// Datagram is a non-blocking unconnected UDP socket.
type Datagram struct {
	fd   int
	addr *net.UDPAddr
}

// ListenUDP binds a UDP socket to address. Clients bind ":0".
func ListenUDP(address string) (*Datagram, error) {
	laddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", address, err)
	}
	sa, domain := sockaddr(laddr.IP, laddr.Port)

	fd, err := unix.Socket(domain, unix.SOCK_DGRAM|sockFlags, 0)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	local, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("getsockname", err)
	}
	return &Datagram{fd: fd, addr: udpAddr(local)}, nil
}

func (d *Datagram) FD() int            { return d.fd }
func (d *Datagram) Addr() *net.UDPAddr { return d.addr }

// RecvFrom reads one datagram into p. It returns a nil address when no
// datagram is pending. Bytes of a datagram that do not fit in p are lost.
func (d *Datagram) RecvFrom(p []byte) (int, *net.UDPAddr, error) {
	n, from, err := unix.Recvfrom(d.fd, p, 0)
	if wouldBlock(err) {
		return 0, nil, nil
	} else if err != nil {
		return 0, nil, os.NewSyscallError("recvfrom", err)
	}
	return n, udpAddr(from), nil
}

// SendTo sends p as one datagram. It reports false when the socket buffer is
// full and the datagram was not sent.
func (d *Datagram) SendTo(p []byte, to *net.UDPAddr) (bool, error) {
	sa, _ := sockaddr(to.IP, to.Port)
	if d.addr.IP.To4() == nil && d.addr.IP != nil {
		if sa4, ok := sa.(*unix.SockaddrInet4); ok {
			sa = mapped(sa4)
		}
	}
	err := unix.Sendto(d.fd, p, 0, sa)
	if wouldBlock(err) {
		return false, nil
	} else if err != nil {
		return false, os.NewSyscallError("sendto", err)
	}
	return true, nil
}

// mapped converts an IPv4 address for use on an IPv6 socket.
func mapped(sa *unix.SockaddrInet4) *unix.SockaddrInet6 {
	out := &unix.SockaddrInet6{Port: sa.Port}
	out.Addr[10], out.Addr[11] = 0xff, 0xff
	copy(out.Addr[12:], sa.Addr[:])
	return out
}

func (d *Datagram) Close() error {
	return unix.Close(d.fd)
}
