package http

import (
	"strings"

	"golang.org/x/net/http/httpguts"
)

// ParseState is the position of the request parser
type ParseState int

const (
	StateRequestLine ParseState = iota
	StateHeaders
	StateBody
	StateFinish
)

// Request is the parse result of one request
type Request struct {
	Method  string
	Path    string
	Version string

	Headers map[string]string
	Form    map[string]string
	Body    string

	state ParseState
}

// Init resets the request for a new parse cycle, keeping map storage
func (r *Request) Init() {
	r.Method = ""
	r.Path = ""
	r.Version = ""
	r.Body = ""
	r.state = StateRequestLine

	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	for k := range r.Headers {
		delete(r.Headers, k)
	}
	if r.Form == nil {
		r.Form = make(map[string]string)
	}
	for k := range r.Form {
		delete(r.Form, k)
	}
}

// State returns the parser state reached by the last Parse
func (r *Request) State() ParseState {
	return r.state
}

// Header returns the value of key, matching the name case-insensitively
// when there is no exact match.
func (r *Request) Header(key string) string {
	if v, ok := r.Headers[key]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// PostValue returns a decoded form value
func (r *Request) PostValue(key string) string {
	return r.Form[key]
}

// IsKeepAlive reports whether an HTTP/1.1 request asked for keep-alive
func (r *Request) IsKeepAlive() bool {
	conn := r.Header("Connection")
	if conn == "" || r.Version != "1.1" {
		return false
	}
	return httpguts.HeaderValuesContainsToken([]string{conn}, "keep-alive")
}
