package http

import (
	"bytes"
	"errors"
	"path"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/searchktools/fast-static/core/buffer"
)

var (
	ErrBadRequest      = errors.New("malformed HTTP request")
	ErrRequestTooLarge = errors.New("HTTP request too large")
)

var crlf = []byte("\r\n")

// Parse runs the request state machine over the readable bytes of buf.
//
// It returns true once the request is complete and retires exactly the
// bytes it consumed. When more input is needed it returns false with a
// nil error and leaves buf untouched, so the next call starts over after
// Init. A malformed request line yields ErrBadRequest.
func (r *Request) Parse(buf *buffer.Buffer, site *Site) (bool, error) {
	data := buf.Peek()
	if len(data) == 0 {
		return false, nil
	}

	pos := 0
	for r.state != StateFinish {
		rest := data[pos:]

		if r.state == StateBody {
			n, ok := r.parseBody(rest, site)
			if !ok {
				return r.incomplete(len(data), site)
			}
			pos += n
			continue
		}

		idx := bytes.Index(rest, crlf)
		if idx < 0 {
			return r.incomplete(len(data), site)
		}
		line := rest[:idx]
		pos += idx + 2

		switch r.state {
		case StateRequestLine:
			if err := r.parseRequestLine(line); err != nil {
				return false, err
			}
			r.parsePath(site)
		case StateHeaders:
			if !r.parseHeader(line) {
				r.state = StateBody
				if _, declared := r.contentLength(); !declared && len(data)-pos < 2 {
					r.state = StateFinish
				}
			}
		}
	}

	buf.Retrieve(pos)
	return true, nil
}

func (r *Request) incomplete(buffered int, site *Site) (bool, error) {
	if site.MaxRequestSize > 0 && buffered >= site.MaxRequestSize {
		return false, ErrRequestTooLarge
	}
	return false, nil
}

// parseRequestLine matches "METHOD SP PATH SP HTTP/VERSION"
func (r *Request) parseRequestLine(line []byte) error {
	method, rest, ok := strings.Cut(string(line), " ")
	if !ok {
		return ErrBadRequest
	}
	target, proto, ok := strings.Cut(rest, " ")
	if !ok || strings.IndexByte(proto, ' ') >= 0 {
		return ErrBadRequest
	}
	version, ok := strings.CutPrefix(proto, "HTTP/")
	if !ok || method == "" || target == "" {
		return ErrBadRequest
	}

	r.Method = method
	r.Path = target
	r.Version = version
	r.state = StateHeaders
	return nil
}

func (r *Request) parsePath(site *Site) {
	if r.Path == "/" {
		r.Path = site.DefaultDocument
		return
	}
	if _, ok := site.Pages[r.Path]; ok {
		r.Path += ".html"
	}
}

// parseHeader splits "Name: value" at the first colon. A line without a
// colon ends the header block and reports false.
func (r *Request) parseHeader(line []byte) bool {
	name, value, ok := strings.Cut(string(line), ":")
	if !ok {
		return false
	}
	if httpguts.ValidHeaderFieldName(name) {
		r.Headers[name] = strings.TrimPrefix(value, " ")
	}
	return true
}

// contentLength returns the declared body length, if any
func (r *Request) contentLength() (int, bool) {
	v := r.Header("Content-Length")
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// parseBody takes Content-Length bytes when declared, otherwise the rest
// of the current line. It returns the bytes consumed.
func (r *Request) parseBody(rest []byte, site *Site) (int, bool) {
	consumed := 0
	if n, ok := r.contentLength(); ok {
		if len(rest) < n {
			return 0, false
		}
		r.Body = string(rest[:n])
		consumed = n
	} else if idx := bytes.Index(rest, crlf); idx >= 0 {
		r.Body = string(rest[:idx])
		consumed = idx + 2
	} else {
		r.Body = string(rest)
		consumed = len(rest)
	}

	r.parsePost(site)
	r.state = StateFinish
	return consumed, true
}

func (r *Request) parsePost(site *Site) {
	if r.Method != "POST" || !isFormContentType(r.Header("Content-Type")) {
		return
	}

	if site.LegacyFormDecoding {
		r.Body = decodeFormLegacy(r.Body, r.Form)
	} else {
		decodeForm(r.Body, r.Form)
	}

	var login bool
	switch r.Path {
	case site.LoginPage:
		login = true
	case site.RegisterPage:
	default:
		return
	}

	if site.Verifier != nil && site.Verifier.Verify(r.Form["username"], r.Form["password"], login) {
		r.Path = site.WelcomePage
	} else {
		r.Path = site.FailurePage
	}
}

func isFormContentType(v string) bool {
	mediaType, _, _ := strings.Cut(v, ";")
	return strings.EqualFold(strings.TrimSpace(mediaType), "application/x-www-form-urlencoded")
}

// cleanPath keeps a request path inside the served root
func cleanPath(p string) string {
	return path.Clean("/" + p)
}
