package server

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// listenTCP opens a non-blocking listening socket on host:port using
// raw syscalls, the same style the rcproxy reactor manages its
// listener fd directly rather than through net.Listener, so accepted
// connections can be registered with the poller without an
// intermediate blocking layer.
func listenTCP(host string, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("server: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return -1, fmt.Errorf("server: setsockopt: %w", err)
	}

	addr, err := resolveAddr(host, port)
	if err != nil {
		return -1, err
	}
	if err := unix.Bind(fd, addr); err != nil {
		return -1, fmt.Errorf("server: bind %s:%d: %w", host, port, err)
	}
	if err := unix.Listen(fd, 511); err != nil {
		return -1, fmt.Errorf("server: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return -1, fmt.Errorf("server: set nonblock: %w", err)
	}
	return fd, nil
}

func resolveAddr(host string, port int) (unix.Sockaddr, error) {
	if host == "" || host == "0.0.0.0" {
		return &unix.SockaddrInet4{Port: port}, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip4", host)
		if err != nil {
			return nil, fmt.Errorf("server: resolve %s: %w", host, err)
		}
		ip = resolved.IP
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("server: %s is not an IPv4 address", host)
	}
	var sa unix.SockaddrInet4
	copy(sa.Addr[:], ip4)
	sa.Port = port
	return &sa, nil
}

// dialTCP opens a non-blocking client socket to host:port. A connect
// that is still in progress (EINPROGRESS) is not reported as an error:
// the fd is returned and becomes writable once the connection is up.
func dialTCP(host string, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("server: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return -1, fmt.Errorf("server: set nonblock: %w", err)
	}
	addr, err := resolveAddr(host, port)
	if err != nil {
		return -1, err
	}
	if err := unix.Connect(fd, addr); err != nil && err != unix.EINPROGRESS {
		return -1, fmt.Errorf("server: connect %s:%d: %w", host, port, err)
	}
	return fd, nil
}
