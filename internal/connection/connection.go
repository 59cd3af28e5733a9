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

// Package connection implements the engine's per-client state (C3): a
// buffered, non-blocking socket plus an optional CGI slot, read and written
// opportunistically as the poll set reports readiness.
package connection

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/OmarIssa0/webserv/errors"
)

const readChunk = 64 * 1024

// CGISlot is the bookkeeping the engine attaches to a Connection while a
// CGI script is running on its behalf: the child pid, the pipe ends, and
// the timestamps the timeout sweep checks against.
type CGISlot struct {
	PID       int
	StartedAt time.Time
	WriteFD   int
	ReadFD    int
	WriteDone bool
	ReadDone  bool
	Output    []byte
}

// Connection is one accepted, non-blocking client socket together with its
// inbound/outbound byte buffers and idle clock.
type Connection struct {
	fd           int
	inbound      []byte
	outbound     []byte
	responseSet  bool
	lastActivity time.Time
	CGI          *CGISlot
}

// New wraps an already-accepted, already-non-blocking descriptor.
func New(fd int) *Connection {
	return &Connection{
		fd:           fd,
		lastActivity: time.Now(),
	}
}

// Fd returns the underlying socket descriptor.
func (c *Connection) Fd() int {
	return c.fd
}

// Inbound exposes the unconsumed bytes read so far, without copying.
func (c *Connection) Inbound() []byte {
	return c.inbound
}

// ConsumeInbound discards the first n bytes of the inbound buffer, once a
// parser has successfully framed a request from them.
func (c *Connection) ConsumeInbound(n int) {
	if n <= 0 {
		return
	}
	if n >= len(c.inbound) {
		c.inbound = c.inbound[:0]
		return
	}
	c.inbound = append(c.inbound[:0], c.inbound[n:]...)
}

// Queue appends bytes to the outbound buffer for later Send calls and marks
// a response as having been set on this connection.
func (c *Connection) Queue(b []byte) {
	c.outbound = append(c.outbound, b...)
	c.responseSet = true
}

// Done reports whether a response was queued and has been fully flushed.
func (c *Connection) Done() bool {
	return c.responseSet && len(c.outbound) == 0
}

// Receive reads until the socket would block, appending to the inbound
// buffer. It returns the number of bytes read; when the peer has closed the
// connection it returns an ErrorClosed error.
func (c *Connection) Receive() (int, errors.Error) {
	total := 0
	buf := make([]byte, readChunk)

	for {
		n, err := unix.Read(c.fd, buf)
		if n > 0 {
			c.inbound = append(c.inbound, buf[:n]...)
			total += n
			c.lastActivity = time.Now()
		}
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			if err == unix.EINTR {
				continue
			}
			return total, ErrorRead.Error(err)
		}
		if n == 0 {
			return total, ErrorClosed.Error(nil)
		}
		if n < len(buf) {
			break
		}
	}

	return total, nil
}

// Send writes as much of the outbound buffer's front as the socket accepts
// without blocking, then discards the written prefix.
func (c *Connection) Send() (int, errors.Error) {
	total := 0

	for len(c.outbound) > 0 {
		n, err := unix.Write(c.fd, c.outbound)
		if n > 0 {
			c.outbound = c.outbound[n:]
			total += n
			c.lastActivity = time.Now()
		}
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			if err == unix.EINTR {
				continue
			}
			return total, ErrorWrite.Error(err)
		}
		if n == 0 {
			break
		}
	}

	return total, nil
}

// IdleFor returns how long, in seconds, this connection has been without
// read or write activity as of now.
func (c *Connection) IdleFor(now time.Time) float64 {
	return now.Sub(c.lastActivity).Seconds()
}

// Close releases the underlying socket descriptor.
func (c *Connection) Close() error {
	return unix.Close(c.fd)
}
