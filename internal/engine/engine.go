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

// Package engine ties every other component into the single-threaded,
// cooperative event loop spec.md §3 and §4.9 describe: one poll set, a
// table of accepted connections, and the CGI pipes running on their
// behalf, all driven from one goroutine with no locking.
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/OmarIssa0/webserv/errors"
	"github.com/OmarIssa0/webserv/internal/cgi"
	"github.com/OmarIssa0/webserv/internal/config"
	"github.com/OmarIssa0/webserv/internal/connection"
	"github.com/OmarIssa0/webserv/internal/handler"
	"github.com/OmarIssa0/webserv/internal/httpparse"
	"github.com/OmarIssa0/webserv/internal/metrics"
	"github.com/OmarIssa0/webserv/internal/netlisten"
	"github.com/OmarIssa0/webserv/internal/poll"
	"github.com/OmarIssa0/webserv/internal/response"
	"github.com/OmarIssa0/webserv/internal/router"
	"github.com/OmarIssa0/webserv/internal/sizeunit"
	"github.com/OmarIssa0/webserv/logger"
)

// ClientTimeoutSeconds is how long a connection may sit idle, with no
// complete request queued, before the sweep closes it.
const ClientTimeoutSeconds = 60.0

// ShutdownGrace is how long Run keeps servicing already-accepted
// connections after RequestShutdown, before forcing a close.
const ShutdownGrace = 5 * time.Second

// pollTimeoutMs is the Wait budget of one loop iteration; it doubles as the
// granularity of the timeout and shutdown sweeps.
const pollTimeoutMs = 100

// connEntry is the engine's bookkeeping for one accepted connection: the
// connection itself, the listener it was accepted on (for routing and for
// CGI's SERVER_PORT), and, while a CGI script is running on its behalf,
// the process driving it plus the routing decision that started it.
type connEntry struct {
	conn     *connection.Connection
	listen   config.ListenAddress
	cgi      *cgi.Process
	decision *router.Decision
}

// Engine is the event loop: one poll set, the listeners bound from
// configuration, the live connection table, and the pipe-fd -> connection-fd
// side index the CGI bridge needs.
type Engine struct {
	servers     []config.ServerConfig
	httpDefault sizeunit.Size

	listeners  []*netlisten.Listener
	listenerFD map[int]*netlisten.Listener

	poll      *poll.Set
	fdIndex   map[int]int // fd -> position in poll.Set, mirrors poll.Set's swap-removal bookkeeping
	conns     map[int]*connEntry
	pipeIndex map[int]int // pipe fd -> owning connection fd
	reaping   []*cgi.Process

	shutdown atomic.Bool
}

// New binds every distinct ListenAddress named across cfg's servers,
// skipping (and logging) any that fail to bind, and fails only if none
// survive -- per spec.md §4.9, a single bad listen directive must not take
// the whole server down.
func New(cfg config.HTTPConfig) (*Engine, errors.Error) {
	ps, perr := poll.New(256)
	if perr != nil {
		return nil, perr
	}

	e := &Engine{
		servers:     cfg.Servers,
		httpDefault: cfg.ClientMaxBodySize,
		listenerFD:  make(map[int]*netlisten.Listener),
		poll:        ps,
		fdIndex:     make(map[int]int),
		conns:       make(map[int]*connEntry),
		pipeIndex:   make(map[int]int),
	}
	if e.httpDefault == 0 {
		e.httpDefault = config.DefaultClientMaxBodySize
	}

	seen := make(map[config.ListenAddress]bool)
	for _, s := range cfg.Servers {
		for _, addr := range s.Listen {
			if seen[addr] {
				continue
			}
			seen[addr] = true

			l, lerr := netlisten.Listen(addr)
			if lerr != nil {
				logger.GetDefault().Warnf("engine: listen %s failed: %v", addr, lerr)
				continue
			}
			if _, aerr := e.pollAdd(l.Fd(), poll.Readable); aerr != nil {
				logger.GetDefault().Warnf("engine: registering listener %s failed: %v", addr, aerr)
				_ = l.Close()
				continue
			}

			e.listenerFD[l.Fd()] = l
			e.listeners = append(e.listeners, l)
		}
	}

	if len(e.listeners) == 0 {
		return nil, ErrorNoListener.Error(nil)
	}

	return e, nil
}

// RequestShutdown asks Run to stop accepting new connections and, once
// every in-flight connection has drained (or ShutdownGrace elapses),
// return.
func (e *Engine) RequestShutdown() {
	e.shutdown.Store(true)
}

// ShutdownRequested reports whether RequestShutdown has been called.
func (e *Engine) ShutdownRequested() bool {
	return e.shutdown.Load()
}

// Run drives the event loop until ctx is cancelled or a requested shutdown
// has drained every connection. It never spawns a goroutine: every
// dispatch happens inline on the calling goroutine, per spec.md's
// single-threaded, lock-free model.
func (e *Engine) Run(ctx context.Context) errors.Error {
	var shutdownAt time.Time

	for {
		if ctx.Err() != nil {
			e.closeAll()
			return nil
		}

		if _, werr := e.poll.Wait(pollTimeoutMs); werr != nil {
			logger.GetDefault().Errorf("engine: poll wait failed: %v", werr)
		}

		now := time.Now()
		e.sweepTimeouts(now)
		e.dispatchReady()
		e.reapPending()

		metrics.SetActiveConnections(len(e.conns))
		metrics.SetActiveCGI(e.countActiveCGI())

		if e.ShutdownRequested() {
			if shutdownAt.IsZero() {
				shutdownAt = now
			}
			if len(e.conns) == 0 || now.Sub(shutdownAt) > ShutdownGrace {
				e.closeAll()
				return nil
			}
		}
	}
}

func (e *Engine) closeAll() {
	for fd := range e.conns {
		e.closeConnection(fd)
	}
	for _, l := range e.listeners {
		_ = e.pollRemove(l.Fd())
		_ = l.Close()
	}
	_ = e.poll.Close()
}

// pollAdd registers fd with interest and records its poll-set index so
// pollRemove can deregister it again without the caller tracking indices
// by hand.
func (e *Engine) pollAdd(fd int, interest poll.Event) (int, errors.Error) {
	idx, err := e.poll.Add(fd, interest)
	if err != nil {
		return idx, err
	}
	e.fdIndex[fd] = idx
	return idx, nil
}

// pollRemove deregisters fd if it is currently registered. Set.Remove
// swaps the last entry into the vacated slot, so the fd that used to sit
// last now sits at idx; fdIndex is updated to match before the swap.
func (e *Engine) pollRemove(fd int) errors.Error {
	idx, ok := e.fdIndex[fd]
	if !ok {
		return nil
	}
	delete(e.fdIndex, fd)

	last := e.poll.Len() - 1
	if last >= 0 && idx != last {
		if movedFD, ok := e.poll.FdAt(last); ok {
			e.fdIndex[movedFD] = idx
		}
	}

	return e.poll.Remove(idx)
}

func (e *Engine) isListener(fd int) bool {
	_, ok := e.listenerFD[fd]
	return ok
}

func (e *Engine) isConn(fd int) bool {
	_, ok := e.conns[fd]
	return ok
}

func (e *Engine) isPipe(fd int) bool {
	_, ok := e.pipeIndex[fd]
	return ok
}

// dispatchReady walks the poll set by index, re-checking bounds on every
// iteration: a handler invoked this tick may deregister descriptors
// (closing a connection, finishing a CGI pipe) and the set's swap-removal
// semantics can move a not-yet-visited fd into the current slot, which is
// exactly why the loop does not simply advance past every index once.
func (e *Engine) dispatchReady() {
	i := 0
	for i < e.poll.Len() {
		fd, ok := e.poll.FdAt(i)
		if !ok {
			break
		}
		if e.dispatchFD(fd, i) {
			continue
		}
		i++
	}
}

// dispatchFD handles one ready descriptor and reports whether it was
// deregistered during handling (in which case the caller should examine
// the descriptor now occupying the same index rather than advancing).
func (e *Engine) dispatchFD(fd, idx int) bool {
	switch {
	case e.isListener(fd):
		e.handleListener(fd)
	case e.isConn(fd):
		e.handleConn(fd, idx)
	case e.isPipe(fd):
		e.handlePipe(fd, idx)
	default:
		_ = e.pollRemove(fd)
	}

	_, stillThere := e.fdIndex[fd]
	return !stillThere
}

func (e *Engine) handleListener(fd int) {
	if e.ShutdownRequested() {
		return
	}

	l := e.listenerFD[fd]
	for {
		nfd, ok, err := l.Accept()
		if err != nil {
			logger.GetDefault().Warnf("engine: accept on %s failed: %v", l.Addr(), err)
			return
		}
		if !ok {
			return
		}

		conn := connection.New(nfd)
		if _, aerr := e.pollAdd(nfd, poll.Readable); aerr != nil {
			_ = conn.Close()
			continue
		}
		e.conns[nfd] = &connEntry{conn: conn, listen: l.Addr()}
	}
}

func (e *Engine) handleConn(fd, idx int) {
	entry := e.conns[fd]

	if e.poll.Has(idx, poll.Readable) {
		if _, rerr := entry.conn.Receive(); rerr != nil {
			e.closeConnection(fd)
			return
		}
		e.tryParse(fd, entry)
	}

	if _, stillOpen := e.conns[fd]; !stillOpen {
		return
	}

	if e.poll.Has(idx, poll.Writable) {
		if _, werr := entry.conn.Send(); werr != nil {
			e.closeConnection(fd)
			return
		}
	}

	if entry.conn.Done() {
		e.closeConnection(fd)
		return
	}

	if entry.cgi == nil && (e.poll.Has(idx, poll.Hangup) || e.poll.Has(idx, poll.ErrorEvent)) {
		e.closeConnection(fd)
	}
}

func (e *Engine) handlePipe(fd, idx int) {
	connFD, ok := e.pipeIndex[fd]
	if !ok {
		_ = e.pollRemove(fd)
		return
	}

	entry, ok := e.conns[connFD]
	if !ok || entry.cgi == nil {
		_ = e.pollRemove(fd)
		delete(e.pipeIndex, fd)
		return
	}

	proc := entry.cgi

	if fd == proc.WriteFD && e.poll.Has(idx, poll.Writable) {
		_ = proc.OnWritable()
		if proc.WriteDone() {
			_ = e.pollRemove(proc.WriteFD)
			delete(e.pipeIndex, proc.WriteFD)
		}
	}
	if fd == proc.ReadFD && (e.poll.Has(idx, poll.Readable) || e.poll.Has(idx, poll.Hangup)) {
		_ = proc.OnReadable()
		if proc.ReadDone() {
			_ = e.pollRemove(proc.ReadFD)
			delete(e.pipeIndex, proc.ReadFD)
		}
	}

	if proc.Finished() {
		e.finishCGI(connFD, entry)
	}
}

// tryParse feeds the connection's inbound buffer to the HTTP parser and
// acts on the three-way NEED_MORE/READY/FAIL contract.
func (e *Engine) tryParse(fd int, entry *connEntry) {
	result := httpparse.Parse(entry.conn.Inbound(), e.httpDefault.Uint64())

	switch result.Outcome {
	case httpparse.NeedMore:
		return

	case httpparse.Fail:
		entry.conn.ConsumeInbound(len(entry.conn.Inbound()))
		resp := handler.ErrorPage(result.StatusCode, result.Reason, config.LocationConfig{}, config.ServerConfig{})
		e.queue(fd, entry, resp)

	case httpparse.Ready:
		entry.conn.ConsumeInbound(result.Consumed)
		e.handleRequest(fd, entry, result.Request)
	}
}

// handleRequest routes req, re-checks its body against the location's
// effective client_max_body_size now that the location is known, and
// either starts a CGI process or runs it through the static handler set.
func (e *Engine) handleRequest(fd int, entry *connEntry, req *httpparse.Request) {
	decision, rerr := router.Route(e.servers, entry.listen, req)
	if rerr != nil {
		resp := handler.ErrorPage(500, "", config.LocationConfig{}, config.ServerConfig{})
		e.queue(fd, entry, resp)
		return
	}

	if decision.Kind != router.KindError && decision.Kind != router.KindRedirect {
		limit := decision.Location.EffectiveClientMaxBodySize(decision.Server, e.httpDefault)
		if uint64(len(req.Body)) > limit.Uint64() {
			decision = router.Decision{Kind: router.KindError, Server: decision.Server, Location: decision.Location, StatusCode: 413}
		}
	}

	if decision.Kind == router.KindCGI {
		e.startCGI(fd, entry, decision, req)
		return
	}

	resp := handler.Dispatch(decision, req.Method, req.Body)
	if decision.StatusCode == 405 && decision.AllowHeader != "" {
		resp.SetHeader("Allow", decision.AllowHeader)
	}
	e.queue(fd, entry, resp)
}

func (e *Engine) startCGI(fd int, entry *connEntry, decision router.Decision, req *httpparse.Request) {
	proc, err := cgi.Start(decision, req, entry.listen.Port)
	if err != nil {
		logger.GetDefault().Errorf("engine: cgi start failed: %v", err)
		resp := handler.ErrorPage(502, "cgi could not start", decision.Location, decision.Server)
		e.queue(fd, entry, resp)
		return
	}

	entry.cgi = proc
	entry.decision = &decision
	entry.conn.CGI = &connection.CGISlot{PID: proc.PID, StartedAt: proc.StartedAt, WriteFD: proc.WriteFD, ReadFD: proc.ReadFD}

	if !proc.WriteDone() {
		if _, aerr := e.pollAdd(proc.WriteFD, poll.Writable); aerr == nil {
			e.pipeIndex[proc.WriteFD] = fd
		}
	}
	if !proc.ReadDone() {
		if _, aerr := e.pollAdd(proc.ReadFD, poll.Readable); aerr == nil {
			e.pipeIndex[proc.ReadFD] = fd
		}
	}

	if proc.Finished() {
		e.finishCGI(fd, entry)
	}
}

func (e *Engine) finishCGI(connFD int, entry *connEntry) {
	proc := entry.cgi
	parsed := cgi.ParseOutput(proc.Output())

	resp := cgiResponse(parsed)
	e.queue(connFD, entry, resp)

	e.reaping = append(e.reaping, proc)
	entry.cgi = nil
	entry.decision = nil
	entry.conn.CGI = nil
}

// cgiResponse turns a CGI instance's parsed output into a response,
// honouring a "Status:" line's reason phrase when the child sent one.
func cgiResponse(parsed cgi.ParsedOutput) *response.Response {
	resp := response.New(parsed.StatusCode)
	if parsed.Reason != "" {
		resp.Reason = parsed.Reason
	}
	for k, v := range parsed.Headers {
		resp.SetHeader(k, v)
	}
	resp.SetBody(parsed.Body)
	return resp
}

func (e *Engine) queue(fd int, entry *connEntry, resp *response.Response) {
	b := resp.Bytes()
	entry.conn.Queue(b)
	metrics.ObserveBytesSent(len(b))
	metrics.ObserveRequest(resp.StatusCode)
	_, _ = e.pollAdd(fd, poll.Readable|poll.Writable)
}

// sweepTimeouts enforces the CGI wall-clock budget and the client idle
// timeout once per tick.
func (e *Engine) sweepTimeouts(now time.Time) {
	for fd, entry := range e.conns {
		if entry.cgi != nil {
			if entry.cgi.Expired(now) {
				e.timeoutCGI(fd, entry)
			}
			continue
		}
		if entry.conn.IdleFor(now) > ClientTimeoutSeconds {
			e.closeConnection(fd)
		}
	}
}

func (e *Engine) timeoutCGI(fd int, entry *connEntry) {
	loc, srv := config.LocationConfig{}, config.ServerConfig{}
	if entry.decision != nil {
		loc, srv = entry.decision.Location, entry.decision.Server
	}

	e.abortCGI(entry)

	resp := handler.ErrorPage(504, "", loc, srv)
	e.queue(fd, entry, resp)
}

// abortCGI deregisters and kills entry's CGI process without producing a
// response; used when the owning connection is being closed outright.
func (e *Engine) abortCGI(entry *connEntry) {
	proc := entry.cgi
	if proc == nil {
		return
	}

	_ = e.pollRemove(proc.WriteFD)
	delete(e.pipeIndex, proc.WriteFD)
	_ = e.pollRemove(proc.ReadFD)
	delete(e.pipeIndex, proc.ReadFD)

	if err := proc.Kill(); err != nil {
		logger.GetDefault().Warnf("engine: killing cgi pid %d failed: %v", proc.PID, err)
	}

	e.reaping = append(e.reaping, proc)
	entry.cgi = nil
	entry.decision = nil
	entry.conn.CGI = nil
}

func (e *Engine) reapPending() {
	if len(e.reaping) == 0 {
		return
	}

	kept := e.reaping[:0]
	for _, proc := range e.reaping {
		reaped, err := proc.Reap()
		if err != nil {
			logger.GetDefault().Warnf("engine: reap cgi pid %d failed: %v", proc.PID, err)
		}
		if !reaped {
			kept = append(kept, proc)
		}
	}
	e.reaping = kept
}

func (e *Engine) countActiveCGI() int {
	n := 0
	for _, entry := range e.conns {
		if entry.cgi != nil {
			n++
		}
	}
	return n
}

// closeConnection tears down fd's connection, killing and queuing for
// reap any CGI process still running on its behalf. Pipe fds are always
// deregistered from the poll set and the pipe index before the sockets
// close, so the invariant that pipeIndex's keys are a subset of the poll
// set's descriptors holds at the end of every loop iteration.
func (e *Engine) closeConnection(fd int) {
	entry, ok := e.conns[fd]
	if !ok {
		return
	}

	if entry.cgi != nil {
		e.abortCGI(entry)
	}

	_ = e.pollRemove(fd)
	_ = entry.conn.Close()
	delete(e.conns, fd)
}
