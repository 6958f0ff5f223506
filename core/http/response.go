package http

import (
	"os"
	"path/filepath"

	"github.com/searchktools/fast-static/core/buffer"
	"github.com/searchktools/fast-static/core/mapfile"
)

const serverName = "fast-static"

// Response builds the header block of one reply and owns the mapping of
// the file served as its body. The body is written straight from the
// mapping, never copied into the write buffer.
type Response struct {
	site      *Site
	path      string
	code      int
	keepAlive bool

	info    os.FileInfo
	statErr error
	file    *mapfile.Mapping

	scratch []byte
	page    []byte
}

// Init prepares the response for path. A code of -1 lets MakeResponse
// pick the status from the filesystem. Any previous mapping is released.
func (r *Response) Init(site *Site, path string, keepAlive bool, code int) {
	r.UnmapFile()
	r.site = site
	r.path = path
	r.code = code
	r.keepAlive = keepAlive
	r.info = nil
	r.statErr = nil
}

// MakeResponse resolves the target file, settles the status code and
// appends the status line, headers and any inline error body to buf.
func (r *Response) MakeResponse(buf *buffer.Buffer) {
	if r.code < 400 {
		r.stat()
		switch {
		case r.statErr != nil || r.info.IsDir():
			r.code = 404
		case r.info.Mode().Perm()&0o004 == 0:
			r.code = 403
		default:
			r.code = 200
		}
	}
	if page, ok := r.site.ErrorPages[r.code]; ok {
		r.path = page
		r.stat()
	}

	r.addStatusLine(buf)
	r.addHeaders(buf)
	r.addContent(buf)
}

// Code returns the status code settled by MakeResponse
func (r *Response) Code() int {
	return r.code
}

// KeepAlive reports whether the connection stays open after this reply
func (r *Response) KeepAlive() bool {
	return r.keepAlive
}

// Path returns the path of the file backing the body
func (r *Response) Path() string {
	return r.path
}

// File returns the mapped body, nil when there is none
func (r *Response) File() []byte {
	return r.file.Bytes()
}

// FileLen returns the length of the mapped body
func (r *Response) FileLen() int {
	return r.file.Len()
}

// UnmapFile releases the mapped body. Safe to call repeatedly.
func (r *Response) UnmapFile() {
	if r.file != nil {
		r.file.Release()
		r.file = nil
	}
}

// ErrorContent appends a small inline HTML page for the current status
func (r *Response) ErrorContent(buf *buffer.Buffer, message string) {
	status, _ := statusText(r.code)

	body := r.page[:0]
	body = append(body, "<html><title>Error</title>"...)
	body = append(body, `<body bgcolor="ffffff">`...)
	body = appendInt(body, r.code)
	body = append(body, " : "...)
	body = append(body, status...)
	body = append(body, '\n')
	body = append(body, "<p>"...)
	body = append(body, message...)
	body = append(body, "</p>"...)
	body = append(body, "<hr><em>"+serverName+"</em></body></html>"...)
	r.page = body

	r.addContentLength(buf, len(body))
	buf.Append(body)
}

func (r *Response) filePath() string {
	return filepath.Join(r.site.Root, cleanPath(r.path))
}

func (r *Response) stat() {
	r.info, r.statErr = os.Stat(r.filePath())
}

func (r *Response) addStatusLine(buf *buffer.Buffer) {
	status, ok := statusText(r.code)
	if !ok {
		r.code = 400
		status, _ = statusText(r.code)
	}

	line := r.scratch[:0]
	line = append(line, "HTTP/1.1 "...)
	line = appendInt(line, r.code)
	line = append(line, ' ')
	line = append(line, status...)
	line = append(line, "\r\n"...)
	r.scratch = line
	buf.Append(line)
}

func (r *Response) addHeaders(buf *buffer.Buffer) {
	h := r.scratch[:0]
	if r.keepAlive {
		h = append(h, "Connection: keep-alive\r\n"...)
		h = append(h, "keep-alive: max="...)
		h = appendInt(h, r.site.KeepAliveMax)
		h = append(h, ", timeout="...)
		h = appendInt(h, r.site.KeepAliveTimeout)
		h = append(h, "\r\n"...)
	} else {
		h = append(h, "Connection: close\r\n"...)
	}
	h = append(h, "Content-type: "...)
	h = append(h, mapfile.ContentType(r.path)...)
	h = append(h, "\r\n"...)
	r.scratch = h
	buf.Append(h)
}

func (r *Response) addContentLength(buf *buffer.Buffer, n int) {
	h := r.scratch[:0]
	h = append(h, "Content-length: "...)
	h = appendInt(h, n)
	h = append(h, "\r\n\r\n"...)
	r.scratch = h
	buf.Append(h)
}

func (r *Response) addContent(buf *buffer.Buffer) {
	if r.statErr != nil || r.info == nil || r.info.IsDir() {
		r.ErrorContent(buf, "File NotFound!")
		return
	}

	size := r.info.Size()
	if size == 0 {
		r.addContentLength(buf, 0)
		return
	}

	m, err := mapfile.Map(r.filePath(), size)
	if err != nil {
		r.ErrorContent(buf, "File NotFound!")
		return
	}
	r.file = m
	r.addContentLength(buf, m.Len())
}
