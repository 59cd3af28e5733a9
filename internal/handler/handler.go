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

// Package handler implements the closed handler-set variant (C6) the
// router's classification dispatches into: static file service, directory
// autoindex, DELETE, upload (POST), and the error-page fallback.
package handler

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/OmarIssa0/webserv/internal/config"
	"github.com/OmarIssa0/webserv/internal/mime"
	"github.com/OmarIssa0/webserv/internal/response"
	"github.com/OmarIssa0/webserv/internal/router"
)

// Static serves path's full content for a GET, or just the headers for a
// HEAD (the router has already resolved directory/index lookups). statusCode
// is 0 on success, or the error status (404 missing, 403 unreadable) to
// hand to ErrorPage.
func Static(path string, head bool) (resp *response.Response, statusCode int) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 404
		}
		return nil, 403
	}
	if info.IsDir() {
		return nil, 403
	}

	resp = response.New(200)
	resp.SetHeader("Content-Type", mime.TypeForPath(path))

	if head {
		resp.Body = make([]byte, 0)
		resp.Headers["Content-Length"] = fmt.Sprintf("%d", info.Size())
		return resp, 0
	}

	body, rerr := os.ReadFile(path)
	if rerr != nil {
		return nil, 403
	}
	resp.SetBody(body)
	return resp, 0
}

// Autoindex renders an HTML directory listing for dirPath: entries sorted
// lexicographically with ".." first, each annotated with size and
// modification time.
func Autoindex(dirPath, requestPath string) (*response.Response, bool) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, false
	}

	type row struct {
		name  string
		isDir bool
		size  int64
		mtime time.Time
	}

	rows := make([]row, 0, len(entries))
	for _, e := range entries {
		info, ierr := e.Info()
		if ierr != nil {
			continue
		}
		rows = append(rows, row{name: e.Name(), isDir: e.IsDir(), size: info.Size(), mtime: info.ModTime()})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })

	var buf strings.Builder
	buf.WriteString("<!DOCTYPE html>\n<html>\n<head><title>Index of ")
	buf.WriteString(html.EscapeString(requestPath))
	buf.WriteString("</title></head>\n<body>\n<h1>Index of ")
	buf.WriteString(html.EscapeString(requestPath))
	buf.WriteString("</h1>\n<table>\n<tr><th>Name</th><th>Size</th><th>Last Modified</th></tr>\n")
	buf.WriteString(`<tr><td><a href="../">../</a></td><td>-</td><td>-</td></tr>` + "\n")

	for _, r := range rows {
		name := r.name
		if r.isDir {
			name += "/"
		}
		size := fmt.Sprintf("%d", r.size)
		if r.isDir {
			size = "-"
		}
		fmt.Fprintf(&buf, "<tr><td><a href=\"%s\">%s</a></td><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(name), html.EscapeString(name), size, r.mtime.Format(time.RFC1123))
	}

	buf.WriteString("</table>\n</body>\n</html>\n")

	resp := response.New(200)
	resp.SetHeader("Content-Type", "text/html")
	resp.SetBody([]byte(buf.String()))
	return resp, true
}

// Delete removes path, per spec.md §4.6's DELETE handler: 204 on success,
// 404 if the path never existed, 500 on unlink failure.
func Delete(path string) *response.Response {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return response.New(404)
		}
		return response.New(500)
	}

	if err := os.Remove(path); err != nil {
		return response.New(500)
	}

	return response.New(204)
}

// Upload writes body under loc's upload_store, deriving the filename from
// the location-relative URI remainder. 201 on create, 409 if the target
// already exists.
func Upload(loc config.LocationConfig, remainder string, body []byte) *response.Response {
	filename := filepath.Base(remainder)
	if filename == "" || filename == "." || filename == "/" {
		filename = fmt.Sprintf("upload-%d", time.Now().UnixNano())
	}

	target := filepath.Join(loc.UploadStore, filename)

	if _, err := os.Stat(target); err == nil {
		return response.New(409)
	}

	if err := os.MkdirAll(loc.UploadStore, 0o755); err != nil {
		return response.New(500)
	}

	if err := os.WriteFile(target, body, 0o644); err != nil {
		return response.New(500)
	}

	resp := response.New(201)
	resp.SetHeader("Location", filename)
	return resp
}

// ErrorPage builds the response for status code >= 400: a custom page from
// the location or server error_page table when one is readable, else a
// synthesised HTML body.
func ErrorPage(code int, message string, loc config.LocationConfig, srv config.ServerConfig) *response.Response {
	if path, ok := loc.ErrorPages[code]; ok {
		if body, err := os.ReadFile(path); err == nil {
			resp := response.New(code)
			resp.SetHeader("Content-Type", mime.TypeForPath(path))
			resp.SetBody(body)
			return resp
		}
	}
	if path, ok := srv.ErrorPages[code]; ok {
		if body, err := os.ReadFile(path); err == nil {
			resp := response.New(code)
			resp.SetHeader("Content-Type", mime.TypeForPath(path))
			resp.SetBody(body)
			return resp
		}
	}

	if message == "" {
		message = response.Reason(code)
	}

	body := synthesizeErrorBody(code, message)
	resp := response.New(code)
	resp.SetHeader("Content-Type", "text/html")
	resp.SetBody(body)
	return resp
}

func synthesizeErrorBody(code int, message string) []byte {
	var buf strings.Builder
	fmt.Fprintf(&buf, "<!DOCTYPE html>\n<html>\n<head><title>%d %s</title></head>\n", code, html.EscapeString(message))
	fmt.Fprintf(&buf, "<body>\n<h1>%d</h1>\n<p>%s</p>\n</body>\n</html>\n", code, html.EscapeString(message))
	return []byte(buf.String())
}

// Dispatch runs the handler that decision.Kind names and always returns a
// fully formed response, synthesising an error page when the chosen
// handler can't produce one.
func Dispatch(decision router.Decision, method string, body []byte) *response.Response {
	switch decision.Kind {
	case router.KindRedirect:
		resp := response.New(decision.Redirect.Code)
		resp.SetHeader("Location", decision.Redirect.URL)
		return resp

	case router.KindAutoindex:
		if resp, ok := Autoindex(decision.DirPath, decision.RequestPath); ok {
			return resp
		}
		return ErrorPage(403, "", decision.Location, decision.Server)

	case router.KindStatic:
		switch method {
		case "DELETE":
			resp := Delete(decision.FilePath)
			if resp.StatusCode >= 400 {
				return ErrorPage(resp.StatusCode, "", decision.Location, decision.Server)
			}
			return resp
		case "POST":
			if !decision.Location.UploadEnable {
				return ErrorPage(403, "upload disabled for this location", decision.Location, decision.Server)
			}
			resp := Upload(decision.Location, decision.Remainder, body)
			if resp.StatusCode >= 400 {
				return ErrorPage(resp.StatusCode, "", decision.Location, decision.Server)
			}
			return resp
		default:
			resp, status := Static(decision.FilePath, method == "HEAD")
			if status != 0 {
				return ErrorPage(status, "", decision.Location, decision.Server)
			}
			return resp
		}

	case router.KindError:
		return ErrorPage(decision.StatusCode, "", decision.Location, decision.Server)
	}

	return ErrorPage(500, "unhandled routing decision", decision.Location, decision.Server)
}
