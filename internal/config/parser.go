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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/OmarIssa0/webserv/errors"
	"github.com/OmarIssa0/webserv/internal/sizeunit"
)

// stream is a cursor over a token slice with lookahead, used by the
// recursive-descent parser below.
type stream struct {
	tok []token
	pos int
}

func (s *stream) done() bool {
	return s.pos >= len(s.tok)
}

func (s *stream) peek() (token, bool) {
	if s.done() {
		return token{}, false
	}
	return s.tok[s.pos], true
}

func (s *stream) next() (token, bool) {
	t, ok := s.peek()
	if ok {
		s.pos++
	}
	return t, ok
}

func (s *stream) expect(text string) error {
	t, ok := s.next()
	if !ok {
		return fmt.Errorf("expected %q, reached end of input", text)
	}
	if t.text != text {
		return fmt.Errorf("line %d: expected %q, got %q", t.line, text, t.text)
	}
	return nil
}

// ParseFile reads path and parses it as the server's configuration grammar.
func ParseFile(path string) (HTTPConfig, errors.Error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return HTTPConfig{}, ErrorOpenFile.Error(err)
	}

	return Parse(string(data))
}

// Parse tokenizes and parses src (the full contents of a configuration
// file) into an HTTPConfig. A configuration consists of at most one `http`
// block and/or one or more top-level `server` blocks; all discovered
// servers are collected into the returned HTTPConfig.Servers.
func Parse(src string) (HTTPConfig, errors.Error) {
	s := &stream{tok: lex(src)}

	var (
		cfg       HTTPConfig
		sawHTTP   bool
		httpSize  = DefaultClientMaxBodySize
		perr      = ErrorSyntax.Error(nil)
		hadErrors bool
	)

	fail := func(e error) {
		hadErrors = true
		perr.Add(e)
	}

	for !s.done() {
		t, _ := s.next()

		switch t.text {
		case "http":
			if sawHTTP {
				fail(fmt.Errorf("line %d: duplicate http block", t.line))
			}
			sawHTTP = true

			if err := s.expect("{"); err != nil {
				fail(err)
				continue
			}

			size, servers, err := parseHTTPBody(s)
			if err != nil {
				fail(err)
				continue
			}

			httpSize = size
			cfg.Servers = append(cfg.Servers, servers...)
		case "server":
			if err := s.expect("{"); err != nil {
				fail(err)
				continue
			}

			srv, err := parseServerBody(s)
			if err != nil {
				fail(err)
				continue
			}

			cfg.Servers = append(cfg.Servers, srv)
		default:
			fail(fmt.Errorf("line %d: unexpected top-level token %q", t.line, t.text))
		}
	}

	cfg.ClientMaxBodySize = httpSize

	if len(cfg.Servers) == 0 {
		fail(fmt.Errorf("configuration must declare at least one server"))
	}

	if hadErrors {
		return HTTPConfig{}, perr
	}

	return cfg, nil
}

// parseHTTPBody parses the body of an `http { ... }` block: an optional
// client_max_body_size directive followed by one or more server blocks.
func parseHTTPBody(s *stream) (sizeunit.Size, []ServerConfig, error) {
	size := DefaultClientMaxBodySize
	sawSize := false
	var servers []ServerConfig

	for {
		t, ok := s.next()
		if !ok {
			return size, servers, fmt.Errorf("unterminated http block")
		}

		switch t.text {
		case "}":
			return size, servers, nil
		case "client_max_body_size":
			if sawSize {
				return size, servers, fmt.Errorf("line %d: duplicate client_max_body_size", t.line)
			}
			sawSize = true

			lit, err := readArg(s, "client_max_body_size")
			if err != nil {
				return size, servers, err
			}
			if err := s.expect(";"); err != nil {
				return size, servers, err
			}

			v, perr := sizeunit.Parse(lit)
			if perr != nil {
				return size, servers, fmt.Errorf("line %d: %w", t.line, perr)
			}
			size = v
		case "server":
			if err := s.expect("{"); err != nil {
				return size, servers, err
			}
			srv, err := parseServerBody(s)
			if err != nil {
				return size, servers, err
			}
			servers = append(servers, srv)
		default:
			return size, servers, fmt.Errorf("line %d: unknown http directive %q", t.line, t.text)
		}
	}
}

// parseServerBody parses the body of a `server { ... }` block up to (and
// consuming) its closing '}'.
func parseServerBody(s *stream) (ServerConfig, error) {
	var (
		srv              ServerConfig
		sawServerName    bool
		sawRoot          bool
		sawClientMaxSize bool
	)

	for {
		t, ok := s.next()
		if !ok {
			return srv, fmt.Errorf("unterminated server block")
		}

		switch t.text {
		case "}":
			return srv, nil
		case "listen":
			lit, err := readArg(s, "listen")
			if err != nil {
				return srv, err
			}
			if err := s.expect(";"); err != nil {
				return srv, err
			}
			addr, err := parseListenAddress(lit)
			if err != nil {
				return srv, fmt.Errorf("line %d: %w", t.line, err)
			}
			srv.Listen = append(srv.Listen, addr)
		case "server_name":
			if sawServerName {
				return srv, fmt.Errorf("line %d: duplicate server_name", t.line)
			}
			sawServerName = true

			val, err := readArg(s, "server_name")
			if err != nil {
				return srv, err
			}
			if err := s.expect(";"); err != nil {
				return srv, err
			}
			srv.ServerName = val
		case "root":
			if sawRoot {
				return srv, fmt.Errorf("line %d: duplicate root", t.line)
			}
			sawRoot = true

			val, err := readArg(s, "root")
			if err != nil {
				return srv, err
			}
			if err := s.expect(";"); err != nil {
				return srv, err
			}
			srv.Root = val
		case "index":
			vals, err := readArgsUntilSemicolon(s, "index")
			if err != nil {
				return srv, err
			}
			srv.Index = append(srv.Index, vals...)
		case "client_max_body_size":
			if sawClientMaxSize {
				return srv, fmt.Errorf("line %d: duplicate client_max_body_size", t.line)
			}
			sawClientMaxSize = true

			lit, err := readArg(s, "client_max_body_size")
			if err != nil {
				return srv, err
			}
			if err := s.expect(";"); err != nil {
				return srv, err
			}
			v, perr := sizeunit.Parse(lit)
			if perr != nil {
				return srv, fmt.Errorf("line %d: %w", t.line, perr)
			}
			srv.ClientMaxBodySize = &v
		case "error_page":
			code, path, err := parseErrorPage(s)
			if err != nil {
				return srv, err
			}
			if srv.ErrorPages == nil {
				srv.ErrorPages = make(map[int]string)
			}
			if _, dup := srv.ErrorPages[code]; dup {
				return srv, fmt.Errorf("line %d: duplicate error_page for code %d", t.line, code)
			}
			srv.ErrorPages[code] = path
		case "location":
			loc, err := parseLocation(s)
			if err != nil {
				return srv, err
			}
			srv.Locations = append(srv.Locations, loc)
		default:
			return srv, fmt.Errorf("line %d: unknown server directive %q", t.line, t.text)
		}
	}
}

// parseLocation parses `location <prefix> { ... }`, with the "location"
// keyword already consumed.
func parseLocation(s *stream) (LocationConfig, error) {
	prefixTok, ok := s.next()
	if !ok {
		return LocationConfig{}, fmt.Errorf("location: missing path prefix")
	}

	if !strings.HasPrefix(prefixTok.text, "/") {
		return LocationConfig{}, fmt.Errorf("line %d: location path %q must start with '/'", prefixTok.line, prefixTok.text)
	}

	loc := LocationConfig{Path: prefixTok.text}

	if err := s.expect("{"); err != nil {
		return loc, err
	}

	var (
		sawRoot          bool
		sawMethods       bool
		sawAutoindex     bool
		sawUploadEnable  bool
		sawUploadStore   bool
		sawReturn        bool
		sawClientMaxSize bool
	)

	for {
		t, ok := s.next()
		if !ok {
			return loc, fmt.Errorf("unterminated location block for %q", loc.Path)
		}

		switch t.text {
		case "}":
			return loc, nil
		case "root":
			if sawRoot {
				return loc, fmt.Errorf("line %d: duplicate root", t.line)
			}
			sawRoot = true
			val, err := readArg(s, "root")
			if err != nil {
				return loc, err
			}
			if err := s.expect(";"); err != nil {
				return loc, err
			}
			loc.Root = val
		case "index":
			vals, err := readArgsUntilSemicolon(s, "index")
			if err != nil {
				return loc, err
			}
			loc.Index = append(loc.Index, vals...)
		case "methods":
			if sawMethods {
				return loc, fmt.Errorf("line %d: duplicate methods", t.line)
			}
			sawMethods = true
			vals, err := readArgsUntilSemicolon(s, "methods")
			if err != nil {
				return loc, err
			}
			for _, m := range vals {
				loc.Methods = append(loc.Methods, strings.ToUpper(m))
			}
		case "autoindex":
			if sawAutoindex {
				return loc, fmt.Errorf("line %d: duplicate autoindex", t.line)
			}
			sawAutoindex = true
			val, err := readArg(s, "autoindex")
			if err != nil {
				return loc, err
			}
			if err := s.expect(";"); err != nil {
				return loc, err
			}
			on, err := parseOnOff(val)
			if err != nil {
				return loc, fmt.Errorf("line %d: %w", t.line, err)
			}
			loc.Autoindex = on
		case "upload_enable":
			if sawUploadEnable {
				return loc, fmt.Errorf("line %d: duplicate upload_enable", t.line)
			}
			sawUploadEnable = true
			val, err := readArg(s, "upload_enable")
			if err != nil {
				return loc, err
			}
			if err := s.expect(";"); err != nil {
				return loc, err
			}
			on, err := parseOnOff(val)
			if err != nil {
				return loc, fmt.Errorf("line %d: %w", t.line, err)
			}
			loc.UploadEnable = on
		case "upload_store":
			if sawUploadStore {
				return loc, fmt.Errorf("line %d: duplicate upload_store", t.line)
			}
			sawUploadStore = true
			val, err := readArg(s, "upload_store")
			if err != nil {
				return loc, err
			}
			if err := s.expect(";"); err != nil {
				return loc, err
			}
			loc.UploadStore = val
		case "cgi_pass":
			ext, err := readArg(s, "cgi_pass")
			if err != nil {
				return loc, err
			}
			interp, err := readArg(s, "cgi_pass")
			if err != nil {
				return loc, err
			}
			if err := s.expect(";"); err != nil {
				return loc, err
			}
			if loc.CgiPass == nil {
				loc.CgiPass = make(map[string]string)
			}
			if _, dup := loc.CgiPass[ext]; dup {
				return loc, fmt.Errorf("line %d: duplicate cgi_pass for extension %q", t.line, ext)
			}
			loc.CgiPass[ext] = interp
			loc.CgiEnable = true
		case "return":
			if sawReturn {
				return loc, fmt.Errorf("line %d: duplicate return", t.line)
			}
			sawReturn = true
			codeStr, err := readArg(s, "return")
			if err != nil {
				return loc, err
			}
			url, err := readArg(s, "return")
			if err != nil {
				return loc, err
			}
			if err := s.expect(";"); err != nil {
				return loc, err
			}
			code, err := strconv.Atoi(codeStr)
			if err != nil {
				return loc, fmt.Errorf("line %d: invalid return code %q", t.line, codeStr)
			}
			loc.Return = &Redirect{Code: code, URL: url}
		case "client_max_body_size":
			if sawClientMaxSize {
				return loc, fmt.Errorf("line %d: duplicate client_max_body_size", t.line)
			}
			sawClientMaxSize = true
			lit, err := readArg(s, "client_max_body_size")
			if err != nil {
				return loc, err
			}
			if err := s.expect(";"); err != nil {
				return loc, err
			}
			v, perr := sizeunit.Parse(lit)
			if perr != nil {
				return loc, fmt.Errorf("line %d: %w", t.line, perr)
			}
			loc.ClientMaxBodySize = &v
		case "error_page":
			code, path, err := parseErrorPage(s)
			if err != nil {
				return loc, err
			}
			if loc.ErrorPages == nil {
				loc.ErrorPages = make(map[int]string)
			}
			if _, dup := loc.ErrorPages[code]; dup {
				return loc, fmt.Errorf("line %d: duplicate error_page for code %d", t.line, code)
			}
			loc.ErrorPages[code] = path
		default:
			return loc, fmt.Errorf("line %d: unknown location directive %q", t.line, t.text)
		}
	}
}

func parseErrorPage(s *stream) (int, string, error) {
	codeStr, err := readArg(s, "error_page")
	if err != nil {
		return 0, "", err
	}
	path, err := readArg(s, "error_page")
	if err != nil {
		return 0, "", err
	}
	if err := s.expect(";"); err != nil {
		return 0, "", err
	}

	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return 0, "", fmt.Errorf("invalid error_page status code %q", codeStr)
	}

	return code, path, nil
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("expected on|off, got %q", s)
}

func parseListenAddress(lit string) (ListenAddress, error) {
	idx := strings.LastIndex(lit, ":")
	if idx < 0 {
		return ListenAddress{}, fmt.Errorf("listen address %q missing port", lit)
	}

	iface := lit[:idx]
	portStr := lit[idx+1:]

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ListenAddress{}, fmt.Errorf("listen address %q has invalid port", lit)
	}

	return ListenAddress{Iface: iface, Port: port}, nil
}

// readArg consumes and returns the next token as a directive argument,
// rejecting structural tokens so a missing argument is reported instead of
// silently consuming the next directive's keyword.
func readArg(s *stream, directive string) (string, error) {
	t, ok := s.next()
	if !ok {
		return "", fmt.Errorf("%s: missing argument", directive)
	}
	if t.text == "{" || t.text == "}" || t.text == ";" {
		return "", fmt.Errorf("line %d: %s: missing argument", t.line, directive)
	}
	return t.text, nil
}

// readArgsUntilSemicolon consumes tokens as arguments until ';', which it
// also consumes. Used by directives accepting a variable-length argument
// list (index, methods).
func readArgsUntilSemicolon(s *stream, directive string) ([]string, error) {
	var out []string

	for {
		t, ok := s.next()
		if !ok {
			return out, fmt.Errorf("%s: unterminated directive", directive)
		}
		if t.text == ";" {
			if len(out) == 0 {
				return out, fmt.Errorf("line %d: %s: missing argument", t.line, directive)
			}
			return out, nil
		}
		if t.text == "{" || t.text == "}" {
			return out, fmt.Errorf("line %d: %s: missing terminating ';'", t.line, directive)
		}
		out = append(out, t.text)
	}
}
