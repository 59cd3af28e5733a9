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

// Package poll implements the engine's poll set (C1) over Linux epoll.
// It holds an ordered collection of (descriptor, interest) entries and
// exposes the readiness of the last wait so the Engine can classify and
// dispatch them.
package poll

import (
	"golang.org/x/sys/unix"

	"github.com/OmarIssa0/webserv/errors"
)

// Event is the readiness/interest mask vocabulary used by the poll set.
type Event uint32

const (
	Readable Event = 1 << iota
	Writable
	Hangup
	ErrorEvent
	Invalid
)

func (e Event) has(o Event) bool {
	return e&o != 0
}

func toEpoll(interest Event) uint32 {
	var m uint32
	if interest.has(Readable) {
		m |= unix.EPOLLIN
	}
	if interest.has(Writable) {
		m |= unix.EPOLLOUT
	}
	return m
}

func fromEpoll(mask uint32) Event {
	var e Event
	if mask&unix.EPOLLIN != 0 {
		e |= Readable
	}
	if mask&unix.EPOLLOUT != 0 {
		e |= Writable
	}
	if mask&unix.EPOLLHUP != 0 || mask&unix.EPOLLRDHUP != 0 {
		e |= Hangup
	}
	if mask&unix.EPOLLERR != 0 {
		e |= ErrorEvent
	}
	return e
}

type entry struct {
	fd       int
	interest Event
}

// Set is the engine's single epoll instance plus the ordered entry table
// that backs index-based iteration and dispatch.
type Set struct {
	epfd    int
	entries []entry
	index   map[int]int // fd -> position in entries
	ready   map[int]Event
	evbuf   []unix.EpollEvent
}

// New creates an epoll instance sized to expect maxEvents ready descriptors
// per Wait call.
func New(maxEvents int) (*Set, errors.Error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, ErrorCreate.Error(err)
	}

	if maxEvents <= 0 {
		maxEvents = 128
	}

	return &Set{
		epfd:  fd,
		index: make(map[int]int),
		ready: make(map[int]Event),
		evbuf: make([]unix.EpollEvent, maxEvents),
	}, nil
}

// Close releases the underlying epoll descriptor.
func (s *Set) Close() error {
	return unix.Close(s.epfd)
}

// Add registers fd with the given interest mask and returns its index in
// the entry table. Re-adding an already-registered fd updates its interest
// in place (EPOLL_CTL_MOD) and returns its existing index.
func (s *Set) Add(fd int, interest Event) (int, errors.Error) {
	if i, ok := s.index[fd]; ok {
		s.entries[i].interest = interest
		ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
		if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
			return i, ErrorAdd.Error(err)
		}
		return i, nil
	}

	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return -1, ErrorAdd.Error(err)
	}

	i := len(s.entries)
	s.entries = append(s.entries, entry{fd: fd, interest: interest})
	s.index[fd] = i

	return i, nil
}

// Remove deregisters the descriptor at position index. It swaps the last
// entry into the removed slot (so Set tolerates callers iterating by index
// with bounds re-checking, per the engine's dispatch loop discipline) and
// truncates the table.
func (s *Set) Remove(index int) errors.Error {
	if index < 0 || index >= len(s.entries) {
		return nil
	}

	fd := s.entries[index].fd

	// EPOLL_CTL_DEL on an already-closed descriptor returns ENOENT: the
	// kernel auto-removes a closed fd from every epoll instance. That is
	// not a bookkeeping failure, so the entry table is still reconciled
	// below even when the control call errors.
	delErr := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)

	delete(s.index, fd)
	delete(s.ready, fd)

	last := len(s.entries) - 1
	if index != last {
		s.entries[index] = s.entries[last]
		s.index[s.entries[index].fd] = index
	}
	s.entries = s.entries[:last]

	if delErr != nil && delErr != unix.ENOENT {
		return ErrorRemove.Error(delErr)
	}
	return nil
}

// Len returns the number of registered descriptors.
func (s *Set) Len() int {
	return len(s.entries)
}

// FdAt returns the descriptor at position index.
func (s *Set) FdAt(index int) (int, bool) {
	if index < 0 || index >= len(s.entries) {
		return -1, false
	}
	return s.entries[index].fd, true
}

// Has reports whether the descriptor at position index had event set in
// the readiness captured by the last Wait call.
func (s *Set) Has(index int, event Event) bool {
	fd, ok := s.FdAt(index)
	if !ok {
		return false
	}
	return s.ready[fd].has(event)
}

// Wait blocks up to timeoutMs milliseconds (or indefinitely if negative)
// for at least one registered descriptor to become ready, and returns how
// many did. The resulting readiness is queried per descriptor via Has.
func (s *Set) Wait(timeoutMs int) (int, errors.Error) {
	for k := range s.ready {
		delete(s.ready, k)
	}

	n, err := unix.EpollWait(s.epfd, s.evbuf, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, ErrorWait.Error(err)
	}

	for i := 0; i < n; i++ {
		fd := int(s.evbuf[i].Fd)
		s.ready[fd] = fromEpoll(s.evbuf[i].Events)
	}

	return n, nil
}
