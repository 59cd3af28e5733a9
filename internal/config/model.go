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

// Package config holds the data model described by the server's
// configuration grammar (ListenAddress/ServerConfig/LocationConfig) and the
// hand-written parser that builds it from a configuration file.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/OmarIssa0/webserv/errors"
	"github.com/OmarIssa0/webserv/internal/sizeunit"
)

// DefaultClientMaxBodySize is the value used when no scope in the
// location→server→http chain sets client_max_body_size.
const DefaultClientMaxBodySize = sizeunit.SizeMega

// DefaultIndex is the index file list used when a server or location omits
// the index directive entirely.
var DefaultIndex = []string{"index.html"}

// DefaultMethods is the method list used when a location omits methods.
var DefaultMethods = []string{"GET"}

// ListenAddress is a bound interface literal + port pair. A Listener (C2) is
// uniquely keyed by this pair.
type ListenAddress struct {
	Iface string `validate:"required"`
	Port  int    `validate:"required,min=1,max=65535"`
}

func (l ListenAddress) String() string {
	return fmt.Sprintf("%s:%d", l.Iface, l.Port)
}

// Clone returns a value copy of the ListenAddress.
func (l ListenAddress) Clone() ListenAddress {
	return ListenAddress{Iface: l.Iface, Port: l.Port}
}

// Redirect is the `return <code> <url>;` directive of a location.
type Redirect struct {
	Code int    `validate:"required,oneof=301 302 303 307 308"`
	URL  string `validate:"required"`
}

// HTTPConfig is the top-level `http { ... }` scope: at most one per
// configuration file, holding the default client_max_body_size inherited by
// every server/location that does not override it, and the full server
// pool.
type HTTPConfig struct {
	ClientMaxBodySize sizeunit.Size
	Servers           []ServerConfig `validate:"required,min=1,dive"`
}

// Clone returns a deep copy of the HTTPConfig, safe to mutate independently
// of the receiver.
func (h HTTPConfig) Clone() HTTPConfig {
	r := HTTPConfig{ClientMaxBodySize: h.ClientMaxBodySize}
	r.Servers = make([]ServerConfig, len(h.Servers))
	for i, s := range h.Servers {
		r.Servers[i] = s.Clone()
	}
	return r
}

// Validate runs struct-tag validation on the HTTPConfig and every server and
// location it transitively owns, collecting every failure instead of
// stopping at the first.
func (h HTTPConfig) Validate() errors.Error {
	out := ErrorValidate.Error(nil)

	val := validator.New()
	if err := val.Struct(h); err != nil {
		if _, ok := err.(*validator.InvalidValidationError); ok {
			out.Add(err)
		} else {
			for _, e := range err.(validator.ValidationErrors) {
				out.Add(fmt.Errorf("http: field %q failed constraint %q", e.Namespace(), e.ActualTag()))
			}
		}
	}

	for i := range h.Servers {
		if e := h.Servers[i].Validate(); e != nil {
			out.Add(e)
		}
	}

	if !out.HasParent() {
		return nil
	}

	return out
}

// ServerConfig is one virtual host: at least one ListenAddress, an optional
// server_name used for Host-header matching, document root, index list,
// client_max_body_size override, an error-page table, and at least one
// LocationConfig.
type ServerConfig struct {
	Listen            []ListenAddress `validate:"required,min=1,dive"`
	ServerName        string
	Root              string
	Index             []string
	ClientMaxBodySize *sizeunit.Size
	ErrorPages        map[int]string
	Locations         []LocationConfig `validate:"required,min=1,dive"`
}

// Clone returns a deep copy of the ServerConfig.
func (s ServerConfig) Clone() ServerConfig {
	r := ServerConfig{
		ServerName: s.ServerName,
		Root:       s.Root,
	}

	r.Listen = make([]ListenAddress, len(s.Listen))
	for i, l := range s.Listen {
		r.Listen[i] = l.Clone()
	}

	r.Index = append([]string(nil), s.Index...)

	if s.ClientMaxBodySize != nil {
		v := *s.ClientMaxBodySize
		r.ClientMaxBodySize = &v
	}

	if s.ErrorPages != nil {
		r.ErrorPages = make(map[int]string, len(s.ErrorPages))
		for k, v := range s.ErrorPages {
			r.ErrorPages[k] = v
		}
	}

	r.Locations = make([]LocationConfig, len(s.Locations))
	for i, loc := range s.Locations {
		r.Locations[i] = loc.Clone()
	}

	return r
}

// Validate runs struct-tag validation on the ServerConfig and its locations,
// then enforces the invariant the grammar cannot express with tags alone:
// unique location paths. Repeated listen addresses within the server are
// not rejected.
func (s ServerConfig) Validate() errors.Error {
	out := ErrorValidate.Error(nil)

	val := validator.New()
	if err := val.Struct(s); err != nil {
		if _, ok := err.(*validator.InvalidValidationError); ok {
			out.Add(err)
		} else {
			for _, e := range err.(validator.ValidationErrors) {
				out.Add(fmt.Errorf("server %q: field %q failed constraint %q", s.ServerName, e.Namespace(), e.ActualTag()))
			}
		}
	}

	seen := make(map[string]bool, len(s.Locations))
	for _, loc := range s.Locations {
		if seen[loc.Path] {
			out.Add(fmt.Errorf("server %q: duplicate location path %q", s.ServerName, loc.Path))
		}
		seen[loc.Path] = true

		if e := loc.Validate(); e != nil {
			out.Add(e)
		}
	}

	if !out.HasParent() {
		return nil
	}

	return out
}

// EffectiveIndex returns the server's index list, falling back to
// DefaultIndex when unset.
func (s ServerConfig) EffectiveIndex() []string {
	if len(s.Index) > 0 {
		return s.Index
	}
	return DefaultIndex
}

// EffectiveClientMaxBodySize resolves client_max_body_size against the http
// scope's default, per the location→server→http→1MiB inheritance chain.
func (s ServerConfig) EffectiveClientMaxBodySize(httpDefault sizeunit.Size) sizeunit.Size {
	if s.ClientMaxBodySize != nil {
		return *s.ClientMaxBodySize
	}
	return httpDefault
}

// LocationConfig is a path-prefix-scoped block within a ServerConfig.
type LocationConfig struct {
	Path              string `validate:"required"`
	Root              string
	Index             []string
	Methods           []string
	Autoindex         bool
	UploadEnable      bool
	UploadStore       string
	CgiEnable         bool
	CgiPass           map[string]string
	Return            *Redirect
	ClientMaxBodySize *sizeunit.Size
	ErrorPages        map[int]string
}

// Clone returns a deep copy of the LocationConfig.
func (l LocationConfig) Clone() LocationConfig {
	r := LocationConfig{
		Path:         l.Path,
		Root:         l.Root,
		Autoindex:    l.Autoindex,
		UploadEnable: l.UploadEnable,
		UploadStore:  l.UploadStore,
		CgiEnable:    l.CgiEnable,
	}

	r.Index = append([]string(nil), l.Index...)
	r.Methods = append([]string(nil), l.Methods...)

	if l.CgiPass != nil {
		r.CgiPass = make(map[string]string, len(l.CgiPass))
		for k, v := range l.CgiPass {
			r.CgiPass[k] = v
		}
	}

	if l.Return != nil {
		v := *l.Return
		r.Return = &v
	}

	if l.ClientMaxBodySize != nil {
		v := *l.ClientMaxBodySize
		r.ClientMaxBodySize = &v
	}

	if l.ErrorPages != nil {
		r.ErrorPages = make(map[int]string, len(l.ErrorPages))
		for k, v := range l.ErrorPages {
			r.ErrorPages[k] = v
		}
	}

	return r
}

func (l LocationConfig) Validate() errors.Error {
	val := validator.New()
	err := val.Struct(l)
	if err == nil {
		return nil
	}

	if _, ok := err.(*validator.InvalidValidationError); ok {
		return ErrorValidate.Error(err)
	}

	out := ErrorValidate.Error(nil)
	for _, e := range err.(validator.ValidationErrors) {
		out.Add(fmt.Errorf("location %q: field %q failed constraint %q", l.Path, e.Namespace(), e.ActualTag()))
	}

	if !out.HasParent() {
		return nil
	}

	return out
}

// EffectiveRoot returns the location's root, falling back to the owning
// server's root when unset.
func (l LocationConfig) EffectiveRoot(serverRoot string) string {
	if l.Root != "" {
		return l.Root
	}
	return serverRoot
}

// EffectiveIndex returns the location's index list, falling back to the
// server's and then DefaultIndex.
func (l LocationConfig) EffectiveIndex(serverIndex []string) []string {
	if len(l.Index) > 0 {
		return l.Index
	}
	if len(serverIndex) > 0 {
		return serverIndex
	}
	return DefaultIndex
}

// EffectiveMethods returns the location's allowed methods, defaulting to
// GET-only.
func (l LocationConfig) EffectiveMethods() []string {
	if len(l.Methods) > 0 {
		return l.Methods
	}
	return DefaultMethods
}

// AllowsMethod reports whether method is permitted on this location.
func (l LocationConfig) AllowsMethod(method string) bool {
	for _, m := range l.EffectiveMethods() {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// EffectiveClientMaxBodySize resolves client_max_body_size against the
// owning server and http scope.
func (l LocationConfig) EffectiveClientMaxBodySize(server ServerConfig, httpDefault sizeunit.Size) sizeunit.Size {
	if l.ClientMaxBodySize != nil {
		return *l.ClientMaxBodySize
	}
	return server.EffectiveClientMaxBodySize(httpDefault)
}

// Interpreter returns the CGI interpreter bound to ext (including the
// leading dot) and whether one is configured.
func (l LocationConfig) Interpreter(ext string) (string, bool) {
	if !l.CgiEnable || l.CgiPass == nil {
		return "", false
	}
	interp, ok := l.CgiPass[ext]
	return interp, ok
}
