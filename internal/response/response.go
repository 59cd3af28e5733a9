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

// Package response assembles the final byte stream of an HTTP/1.1 response
// (C8): status line, a stable header ordering, and body, always closing the
// connection after one request per the server's non-persistent model.
package response

import (
	"bytes"
	"fmt"
	"sort"
)

// ReasonPhrases maps a status code to its standard reason phrase.
var ReasonPhrases = map[int]string{
	200: "OK",
	201: "Created",
	204: "No Content",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	409: "Conflict",
	413: "Payload Too Large",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	504: "Gateway Timeout",
}

// Reason returns the reason phrase for code, or a generic fallback.
func Reason(code int) string {
	if r, ok := ReasonPhrases[code]; ok {
		return r
	}
	return "Unknown"
}

// Response is a fully assembled HTTP/1.1 response, built incrementally by a
// handler and finally serialised by Bytes.
type Response struct {
	StatusCode int
	Reason     string
	Headers    map[string]string
	Body       []byte
}

// New starts a response with the given status code and its standard reason
// phrase.
func New(statusCode int) *Response {
	return &Response{
		StatusCode: statusCode,
		Reason:     Reason(statusCode),
		Headers:    make(map[string]string),
	}
}

// SetHeader sets a response header, overwriting any prior value.
func (r *Response) SetHeader(key, value string) {
	r.Headers[key] = value
}

// SetBody sets the response body and the implied Content-Length.
func (r *Response) SetBody(body []byte) {
	r.Body = body
}

// Bytes serialises the response: status line, Content-Type (if set) then
// Content-Length (the Content-Length header when one is set, as for a HEAD
// response, else the body length) then the remaining headers in
// alphabetical order, then Connection: close, then the body.
func (r *Response) Bytes() []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", r.StatusCode, r.Reason)

	if ct, ok := r.Headers["Content-Type"]; ok {
		fmt.Fprintf(&buf, "Content-Type: %s\r\n", ct)
	}
	contentLength := fmt.Sprintf("%d", len(r.Body))
	if cl, ok := r.Headers["Content-Length"]; ok {
		contentLength = cl
	}
	fmt.Fprintf(&buf, "Content-Length: %s\r\n", contentLength)

	keys := make([]string, 0, len(r.Headers))
	for k := range r.Headers {
		if k == "Content-Type" || k == "Content-Length" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, r.Headers[k])
	}

	buf.WriteString("Connection: close\r\n\r\n")
	buf.Write(r.Body)

	return buf.Bytes()
}
