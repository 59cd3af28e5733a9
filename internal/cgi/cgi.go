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

// Package cgi implements the CGI subsystem (C7): it forks the configured
// interpreter, rigs its stdin/stdout to non-blocking pipes, and drives a
// small per-instance state machine (INITIAL -> STREAMING -> DONE) as the
// engine reports readiness on those pipes, exactly per spec.md §4.7.
package cgi

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/OmarIssa0/webserv/errors"
	"github.com/OmarIssa0/webserv/internal/httpparse"
	"github.com/OmarIssa0/webserv/internal/router"
)

// Timeout is the absolute wall-clock budget a CGI process is given before
// the engine's timeout sweep kills it.
const Timeout = 30 * time.Second

// State is the per-instance lifecycle spec.md §4.7 names.
type State int

const (
	Initial State = iota
	Streaming
	Done
)

// Process is one running (or just-finished) CGI instance: the pid, the two
// pipe ends the parent owns, the request body still to be written, the
// output collected so far, and the state-machine flags.
type Process struct {
	PID       int
	WriteFD   int
	ReadFD    int
	StartedAt time.Time

	pending []byte
	output  []byte

	writeDone bool
	readDone  bool
	reaped    bool

	proc *os.Process
}

// State reports where in the INITIAL/STREAMING/DONE machine this instance
// currently sits.
func (p *Process) State() State {
	switch {
	case !p.writeDone:
		return Initial
	case !p.readDone:
		return Streaming
	default:
		return Done
	}
}

// Output returns the bytes collected from the child's stdout so far.
func (p *Process) Output() []byte {
	return p.output
}

// Start forks the interpreter bound to decision's extension, wires its
// stdin/stdout to non-blocking pipes, and returns a Process ready to be
// registered with the poll set on both pipe descriptors.
func Start(decision router.Decision, req *httpparse.Request, listenPort int) (*Process, errors.Error) {
	interpreter, _ := decision.Location.Interpreter(decision.Ext)

	parentToChildRead, parentToChildWrite, err := pipe()
	if err != nil {
		return nil, ErrorPipe.Error(err)
	}
	childToParentRead, childToParentWrite, err := pipe()
	if err != nil {
		_ = unix.Close(parentToChildRead)
		_ = unix.Close(parentToChildWrite)
		return nil, ErrorPipe.Error(err)
	}

	scriptDir := filepath.Dir(decision.FilePath)
	scriptBase := filepath.Base(decision.FilePath)

	childStdin := os.NewFile(uintptr(parentToChildRead), "cgi-stdin")
	childStdout := os.NewFile(uintptr(childToParentWrite), "cgi-stdout")

	attr := &os.ProcAttr{
		Dir:   scriptDir,
		Env:   buildEnv(decision, req, listenPort),
		Files: []*os.File{childStdin, childStdout, os.Stderr},
	}

	proc, serr := os.StartProcess(interpreter, []string{interpreter, scriptBase}, attr)
	_ = childStdin.Close()
	_ = childStdout.Close()
	if serr != nil {
		_ = unix.Close(parentToChildWrite)
		_ = unix.Close(childToParentRead)
		return nil, ErrorStart.Error(serr)
	}

	if err := unix.SetNonblock(parentToChildWrite, true); err != nil {
		return nil, ErrorNonblock.Error(err)
	}
	if err := unix.SetNonblock(childToParentRead, true); err != nil {
		return nil, ErrorNonblock.Error(err)
	}

	p := &Process{
		PID:       proc.Pid,
		WriteFD:   parentToChildWrite,
		ReadFD:    childToParentRead,
		StartedAt: time.Now(),
		pending:   append([]byte(nil), req.Body...),
		proc:      proc,
	}
	if len(p.pending) == 0 {
		p.closeWrite()
	}
	return p, nil
}

// pipe opens both ends close-on-exec: os.StartProcess dup2s whichever end
// is handed to the child onto a fixed descriptor (0/1/2), and a dup'd
// descriptor is never close-on-exec regardless of the original, so the
// child still inherits its own stdin/stdout; every other descriptor this
// process holds -- listeners, other clients' sockets, other CGI instances'
// pipes -- is closed by the exec call itself instead of leaking into the
// child, per spec.md §4.7.
func pipe() (readFD, writeFD int, err error) {
	var fds [2]int
	if e := unix.Pipe2(fds[:], unix.O_CLOEXEC); e != nil {
		return -1, -1, e
	}
	return fds[0], fds[1], nil
}

// OnWritable writes as much of the pending request body as the write end
// accepts without blocking. Once the body is fully drained, the write end
// is closed and the instance transitions INITIAL -> STREAMING.
func (p *Process) OnWritable() errors.Error {
	if p.writeDone {
		return nil
	}

	for len(p.pending) > 0 {
		n, err := unix.Write(p.WriteFD, p.pending)
		if n > 0 {
			p.pending = p.pending[n:]
		}
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			if err == unix.EINTR {
				continue
			}
			p.closeWrite()
			return nil
		}
		if n == 0 {
			break
		}
	}

	if len(p.pending) == 0 {
		p.closeWrite()
	}
	return nil
}

func (p *Process) closeWrite() {
	if p.writeDone {
		return
	}
	_ = unix.Close(p.WriteFD)
	p.writeDone = true
}

// OnReadable drains whatever the child has written to stdout into the
// output buffer. EOF (a zero-byte read) closes the read end and
// transitions STREAMING -> DONE.
func (p *Process) OnReadable() errors.Error {
	if p.readDone {
		return nil
	}

	buf := make([]byte, 64*1024)
	for {
		n, err := unix.Read(p.ReadFD, buf)
		if n > 0 {
			p.output = append(p.output, buf[:n]...)
		}
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			if err == unix.EINTR {
				continue
			}
			p.closeRead()
			return nil
		}
		if n == 0 {
			p.closeRead()
			return nil
		}
	}
}

func (p *Process) closeRead() {
	if p.readDone {
		return
	}
	_ = unix.Close(p.ReadFD)
	p.readDone = true
}

// Finished reports whether both pipe directions have completed, i.e. the
// instance has reached the DONE state.
func (p *Process) Finished() bool {
	return p.writeDone && p.readDone
}

// WriteDone reports whether the request body has been fully written (and
// the write end closed), per spec.md §4.7's INITIAL -> STREAMING edge.
func (p *Process) WriteDone() bool {
	return p.writeDone
}

// ReadDone reports whether the child's stdout has been fully drained (and
// the read end closed), per spec.md §4.7's STREAMING -> DONE edge.
func (p *Process) ReadDone() bool {
	return p.readDone
}

// Expired reports whether the process has run longer than Timeout.
func (p *Process) Expired(now time.Time) bool {
	return now.Sub(p.StartedAt) > Timeout
}

// Kill sends SIGKILL to the child and closes both pipe ends. Callers still
// need to call Reap to clear the zombie.
func (p *Process) Kill() errors.Error {
	if !p.writeDone {
		p.closeWrite()
	}
	if !p.readDone {
		p.closeRead()
	}
	if err := unix.Kill(p.PID, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return ErrorKill.Error(err)
	}
	return nil
}

// Reap performs a single non-blocking WNOHANG wait for the child. It
// returns true once the child has actually been reaped; callers should
// retry on a later tick if it returns false (the child hasn't exited yet).
func (p *Process) Reap() (bool, errors.Error) {
	if p.reaped {
		return true, nil
	}

	var ws unix.WaitStatus
	pid, err := unix.Wait4(p.PID, &ws, unix.WNOHANG, nil)
	if err != nil {
		if err == unix.ECHILD {
			p.reaped = true
			return true, nil
		}
		return false, ErrorWait.Error(err)
	}
	if pid == 0 {
		return false, nil
	}

	p.reaped = true
	return true, nil
}

// ParsedOutput is the parsed result of a CGI instance's collected stdout: the
// status line (defaulted to 200 when the child never set one), headers,
// and the body that follows the blank-line separator.
type ParsedOutput struct {
	StatusCode int
	Reason     string
	Headers    map[string]string
	Body       []byte
}

// ParseOutput splits raw CGI output at the first blank line (preferring
// "\r\n\r\n", falling back to "\n\n"), lifts a "Status:" header into the
// response status if present, and copies the rest of the headers through.
func ParseOutput(raw []byte) ParsedOutput {
	sep := "\r\n\r\n"
	idx := indexOf(raw, sep)
	if idx == -1 {
		sep = "\n\n"
		idx = indexOf(raw, sep)
	}

	out := ParsedOutput{StatusCode: 200, Reason: "OK", Headers: make(map[string]string)}

	if idx == -1 {
		out.Body = raw
		return out
	}

	headerPart := string(raw[:idx])
	out.Body = raw[idx+len(sep):]

	for _, line := range splitLines(headerPart) {
		if line == "" {
			continue
		}
		colon := indexByte(line, ':')
		if colon < 0 {
			continue
		}
		key := strings.TrimSpace(line[:colon])
		val := strings.TrimSpace(line[colon+1:])
		if strings.EqualFold(key, "status") {
			fields := strings.Fields(val)
			if len(fields) > 0 {
				if code, err := strconv.Atoi(fields[0]); err == nil {
					out.StatusCode = code
				}
			}
			if len(fields) > 1 {
				out.Reason = strings.Join(fields[1:], " ")
			}
			continue
		}
		out.Headers[key] = val
	}

	return out
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

func indexOf(b []byte, sub string) int {
	return strings.Index(string(b), sub)
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// buildEnv assembles the RFC 3875 meta-variables plus HTTP_* request
// headers, per spec.md §4.7.
func buildEnv(decision router.Decision, req *httpparse.Request, listenPort int) []string {
	env := []string{
		"REQUEST_METHOD=" + req.Method,
		"QUERY_STRING=" + req.Query,
		"CONTENT_LENGTH=" + strconv.Itoa(len(req.Body)),
		"SCRIPT_NAME=" + decision.Location.Path,
		"SCRIPT_FILENAME=" + decision.FilePath,
		"PATH_INFO=" + decision.Remainder,
		"SERVER_NAME=" + decision.Server.ServerName,
		"SERVER_PORT=" + strconv.Itoa(listenPort),
		"GATEWAY_INTERFACE=CGI/1.1",
		"SERVER_PROTOCOL=HTTP/1.1",
	}

	if ct, ok := req.Header("Content-Type"); ok {
		env = append(env, "CONTENT_TYPE="+ct)
	}

	for key, val := range req.Headers {
		if strings.EqualFold(key, "content-type") || strings.EqualFold(key, "content-length") {
			continue
		}
		envKey := "HTTP_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		env = append(env, fmt.Sprintf("%s=%s", envKey, val))
	}

	return env
}
