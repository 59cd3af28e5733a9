/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package netlisten implements the engine's non-blocking listener (C2): a
// bound TCP socket in the accept-without-blocking discipline the event loop
// requires.
package netlisten

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/OmarIssa0/webserv/errors"
	"github.com/OmarIssa0/webserv/internal/config"
)

// Backlog is the minimum pending-connection queue depth required by the
// specification.
const Backlog = 128

// Listener is a non-blocking, bound-and-listening TCP socket.
type Listener struct {
	fd   int
	addr config.ListenAddress
}

// Listen creates, binds and listens on addr, leaving the resulting
// descriptor in non-blocking mode. Any failure here is fatal for this
// listener only; the engine may continue with whichever listeners did
// succeed.
func Listen(addr config.ListenAddress) (*Listener, errors.Error) {
	ip := net.ParseIP(addr.Iface)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip", addr.Iface)
		if err != nil {
			return nil, ErrorBind.Error(err)
		}
		ip = resolved.IP
	}

	domain := unix.AF_INET
	if ip.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, ErrorSocket.Error(err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, ErrorSocket.Error(err)
	}

	var sa unix.Sockaddr
	if domain == unix.AF_INET {
		var a [4]byte
		copy(a[:], ip.To4())
		sa = &unix.SockaddrInet4{Port: addr.Port, Addr: a}
	} else {
		var a [16]byte
		copy(a[:], ip.To16())
		sa = &unix.SockaddrInet6{Port: addr.Port, Addr: a}
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, ErrorBind.Error(err)
	}

	if err := unix.Listen(fd, Backlog); err != nil {
		_ = unix.Close(fd)
		return nil, ErrorListen.Error(err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, ErrorNonblock.Error(err)
	}

	return &Listener{fd: fd, addr: addr}, nil
}

// Fd returns the listening descriptor, for registration with the poll set.
func (l *Listener) Fd() int {
	return l.fd
}

// Addr returns the ListenAddress this listener was bound to.
func (l *Listener) Addr() config.ListenAddress {
	return l.addr
}

// BoundPort returns the actual port the kernel assigned, which matters
// when the configured ListenAddress requested an ephemeral port (0).
func (l *Listener) BoundPort() (int, errors.Error) {
	sa, err := unix.Getsockname(l.fd)
	if err != nil {
		return 0, ErrorSocket.Error(err)
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port, nil
	case *unix.SockaddrInet6:
		return a.Port, nil
	}
	return 0, ErrorSocket.Error(nil)
}

// Accept drains one pending connection. ok is false with a nil error when
// the accept queue is currently empty (EAGAIN/EWOULDBLOCK) -- not an error
// condition, just nothing to do this tick. The accepted descriptor carries
// SOCK_CLOEXEC so a CGI child forked while the connection is open never
// inherits it, per spec.md §4.7.
func (l *Listener) Accept() (fd int, ok bool, e errors.Error) {
	nfd, _, err := unix.Accept4(l.fd, unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN {
			return -1, false, nil
		}
		return -1, false, ErrorAccept.Error(err)
	}

	if err := unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return -1, false, ErrorNonblock.Error(err)
	}

	return nfd, true, nil
}

// Close closes the listening socket.
func (l *Listener) Close() error {
	return unix.Close(l.fd)
}
