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

// Package router resolves an accepted listener plus a parsed request down
// to a single decision (C5): virtual host, location, method check, path
// resolution and final classification.
package router

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/OmarIssa0/webserv/errors"
	"github.com/OmarIssa0/webserv/internal/config"
	"github.com/OmarIssa0/webserv/internal/httpparse"
)

// Kind is the outcome classification of a routing decision.
type Kind int

const (
	KindError Kind = iota
	KindRedirect
	KindCGI
	KindAutoindex
	KindStatic
)

// Decision is everything the handler set needs to act on a routed request.
type Decision struct {
	Kind        Kind
	Server      config.ServerConfig
	Location    config.LocationConfig
	FilePath    string
	DirPath     string
	Ext         string
	Remainder   string
	RequestPath string
	Redirect    *config.Redirect
	StatusCode  int
	AllowHeader string
}

// statFunc is overridable in tests; production code always uses os.Stat.
var statFunc = os.Stat

// Route resolves servers bound to listen against the Host header and path
// of req, selects a location by longest-prefix match, checks the method,
// resolves the filesystem path and classifies the result.
func Route(servers []config.ServerConfig, listen config.ListenAddress, req *httpparse.Request) (Decision, errors.Error) {
	candidates := serversForListener(servers, listen)
	if len(candidates) == 0 {
		return Decision{}, ErrorNoListener.Error(nil)
	}

	host, _ := req.Header("Host")
	host = stripPort(host)

	server := selectVirtualHost(candidates, host)
	location, ok := selectLocation(server, req.Path)
	if !ok {
		return Decision{Kind: KindError, Server: server, StatusCode: 404, RequestPath: req.Path}, nil
	}

	if !location.AllowsMethod(req.Method) {
		return Decision{
			Kind:        KindError,
			Server:      server,
			Location:    location,
			StatusCode:  405,
			AllowHeader: strings.Join(location.EffectiveMethods(), ", "),
			RequestPath: req.Path,
		}, nil
	}

	if location.Return != nil {
		r := *location.Return
		return Decision{Kind: KindRedirect, Server: server, Location: location, Redirect: &r, RequestPath: req.Path}, nil
	}

	root := location.EffectiveRoot(server.Root)
	resolved, remainder, escaped := resolvePath(root, location.Path, req.Path)
	if escaped {
		return Decision{Kind: KindError, Server: server, Location: location, StatusCode: 403, RequestPath: req.Path}, nil
	}

	ext := filepath.Ext(resolved)
	if _, ok := location.Interpreter(ext); location.CgiEnable && ok {
		return Decision{Kind: KindCGI, Server: server, Location: location, FilePath: resolved, Ext: ext, Remainder: remainder, RequestPath: req.Path}, nil
	}

	info, err := statFunc(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return Decision{Kind: KindError, Server: server, Location: location, StatusCode: 404, RequestPath: req.Path}, nil
		}
		return Decision{Kind: KindError, Server: server, Location: location, StatusCode: 403, RequestPath: req.Path}, nil
	}

	if info.IsDir() {
		for _, idx := range location.EffectiveIndex(server.EffectiveIndex()) {
			candidate := filepath.Join(resolved, idx)
			if fi, ferr := statFunc(candidate); ferr == nil && !fi.IsDir() {
				return Decision{Kind: KindStatic, Server: server, Location: location, FilePath: candidate, RequestPath: req.Path}, nil
			}
		}
		if location.Autoindex {
			return Decision{Kind: KindAutoindex, Server: server, Location: location, DirPath: resolved, RequestPath: req.Path}, nil
		}
		return Decision{Kind: KindError, Server: server, Location: location, StatusCode: 403, RequestPath: req.Path}, nil
	}

	return Decision{Kind: KindStatic, Server: server, Location: location, FilePath: resolved, RequestPath: req.Path}, nil
}

func serversForListener(servers []config.ServerConfig, listen config.ListenAddress) []config.ServerConfig {
	var out []config.ServerConfig
	for _, s := range servers {
		for _, l := range s.Listen {
			if l.Port != listen.Port {
				continue
			}
			if l.Iface == listen.Iface || l.Iface == "0.0.0.0" || l.Iface == "::" {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func selectVirtualHost(candidates []config.ServerConfig, host string) config.ServerConfig {
	for _, s := range candidates {
		if s.ServerName != "" && strings.EqualFold(s.ServerName, host) {
			return s
		}
	}
	return candidates[0]
}

func selectLocation(server config.ServerConfig, path string) (config.LocationConfig, bool) {
	best := -1
	bestLen := -1
	for i, loc := range server.Locations {
		if !strings.HasPrefix(path, loc.Path) {
			continue
		}
		if len(loc.Path) > bestLen {
			bestLen = len(loc.Path)
			best = i
		}
	}
	if best == -1 {
		return config.LocationConfig{}, false
	}
	return server.Locations[best], true
}

func resolvePath(root, locationPath, requestPath string) (resolved, remainder string, escaped bool) {
	remainder = strings.TrimPrefix(requestPath, locationPath)
	remainder = strings.TrimPrefix(remainder, "/")

	joined := filepath.Join(root, remainder)
	cleanRoot := filepath.Clean(root)

	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", "", true
	}

	return joined, remainder, false
}

func stripPort(host string) string {
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}
