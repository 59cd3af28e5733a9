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

// Package httpparse incrementally frames an HTTP/1.1 request (C4) out of a
// connection's inbound buffer and reports back exactly
// how many bytes it consumed once a request is fully framed.
package httpparse

import (
	"bytes"
	"strconv"
	"strings"
)

// MaxHeaderSize is the hard limit on the header section, RFC 431 territory.
const MaxHeaderSize = 8 * 1024

// Outcome is the three-way contract the parser hands back to the engine.
type Outcome int

const (
	NeedMore Outcome = iota
	Ready
	Fail
)

// KnownMethods is the set of request-line tokens the protocol layer
// recognises; whether a given method is actually allowed on a location is
// the router's concern, not the parser's.
var KnownMethods = map[string]bool{
	"GET":     true,
	"HEAD":    true,
	"POST":    true,
	"PUT":     true,
	"DELETE":  true,
	"OPTIONS": true,
	"PATCH":   true,
}

// Request is a fully framed HTTP/1.1 request.
type Request struct {
	Method  string
	Path    string
	Query   string
	Version string
	Headers map[string]string
	Body    []byte
}

// Header looks up a header by its lowercased name.
func (r *Request) Header(name string) (string, bool) {
	v, ok := r.Headers[strings.ToLower(name)]
	return v, ok
}

// Result is what Parse returns: exactly one of NEED_MORE, READY(Request) or
// FAIL(StatusCode, Reason), plus the byte count consumed on success.
type Result struct {
	Outcome    Outcome
	Request    *Request
	StatusCode int
	Reason     string
	Consumed   int
}

func needMore() Result {
	return Result{Outcome: NeedMore}
}

func fail(status int, reason string) Result {
	return Result{Outcome: Fail, StatusCode: status, Reason: reason}
}

// Parse attempts to frame one request out of buf. maxBodySize is the
// effective client_max_body_size already resolved by the caller
// (location -> server -> http -> default).
func Parse(buf []byte, maxBodySize uint64) Result {
	headerEnd := bytes.Index(buf, []byte("\r\n\r\n"))
	if headerEnd == -1 {
		if len(buf) > MaxHeaderSize {
			return fail(431, "request header fields too large")
		}
		return needMore()
	}
	if headerEnd > MaxHeaderSize {
		return fail(431, "request header fields too large")
	}

	headerSection := string(buf[:headerEnd])
	bodyStart := headerEnd + 4

	lines := strings.Split(headerSection, "\r\n")
	if len(lines) == 0 {
		return fail(400, "empty request")
	}

	method, path, query, version, ok := parseRequestLine(lines[0])
	if !ok {
		return fail(400, "malformed request line")
	}
	if !KnownMethods[method] {
		return fail(400, "unknown method")
	}

	headers := make(map[string]string, len(lines)-1)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return fail(400, "malformed header line")
		}
		key := strings.ToLower(strings.TrimSpace(line[:colon]))
		val := strings.TrimSpace(line[colon+1:])
		if key == "" {
			return fail(400, "malformed header line")
		}
		headers[key] = val
	}

	req := &Request{
		Method:  method,
		Path:    path,
		Query:   query,
		Version: version,
		Headers: headers,
	}

	if te, ok := headers["transfer-encoding"]; ok && strings.EqualFold(strings.TrimSpace(te), "chunked") {
		return parseChunked(buf, bodyStart, req, maxBodySize)
	}

	if cl, ok := headers["content-length"]; ok {
		return parseFixedLength(buf, bodyStart, cl, req, maxBodySize)
	}

	if len(buf) > bodyStart {
		return fail(400, "unexpected body with no content-length or chunked encoding")
	}

	req.Body = nil
	return Result{Outcome: Ready, Request: req, Consumed: bodyStart}
}

func parseRequestLine(line string) (method, path, query, version string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return "", "", "", "", false
	}

	method = strings.ToUpper(fields[0])
	uri := fields[1]
	version = fields[2]

	if !strings.HasPrefix(version, "HTTP/1.") {
		return "", "", "", "", false
	}

	if q := strings.IndexByte(uri, '?'); q >= 0 {
		path = uri[:q]
		query = uri[q+1:]
	} else {
		path = uri
	}

	if path == "" {
		return "", "", "", "", false
	}

	return method, path, query, version, true
}

func parseFixedLength(buf []byte, bodyStart int, cl string, req *Request, maxBodySize uint64) Result {
	n, err := strconv.ParseUint(strings.TrimSpace(cl), 10, 64)
	if err != nil {
		return fail(400, "malformed content-length")
	}
	if n > maxBodySize {
		return fail(413, "payload too large")
	}

	need := bodyStart + int(n)
	if len(buf) < need {
		return needMore()
	}

	req.Body = append([]byte(nil), buf[bodyStart:need]...)
	return Result{Outcome: Ready, Request: req, Consumed: need}
}

func parseChunked(buf []byte, bodyStart int, req *Request, maxBodySize uint64) Result {
	rest := buf[bodyStart:]
	terminator := []byte("0\r\n\r\n")

	end := bytes.Index(rest, terminator)
	if end == -1 {
		return needMore()
	}

	chunkedBody := rest[:end+len(terminator)]
	decoded, ok := decodeChunked(chunkedBody)
	if !ok {
		return fail(400, "malformed chunked body")
	}
	if uint64(len(decoded)) > maxBodySize {
		return fail(413, "payload too large")
	}

	req.Body = decoded
	return Result{Outcome: Ready, Request: req, Consumed: bodyStart + end + len(terminator)}
}

// decodeChunked decodes an RFC 7230 chunked body: repeated hex-size CRLF
// chunk-bytes CRLF, ending at a zero-size chunk.
func decodeChunked(data []byte) ([]byte, bool) {
	var out []byte
	pos := 0

	for {
		lineEnd := bytes.Index(data[pos:], []byte("\r\n"))
		if lineEnd == -1 {
			return nil, false
		}
		sizeLine := string(data[pos : pos+lineEnd])
		if semi := strings.IndexByte(sizeLine, ';'); semi >= 0 {
			sizeLine = sizeLine[:semi]
		}
		size, err := strconv.ParseUint(strings.TrimSpace(sizeLine), 16, 64)
		if err != nil {
			return nil, false
		}
		pos += lineEnd + 2

		if size == 0 {
			return out, true
		}

		if pos+int(size)+2 > len(data) {
			return nil, false
		}
		out = append(out, data[pos:pos+int(size)]...)
		pos += int(size)

		if pos+2 > len(data) || data[pos] != '\r' || data[pos+1] != '\n' {
			return nil, false
		}
		pos += 2
	}
}
