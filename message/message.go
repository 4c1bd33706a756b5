// Copyright 2014 Volker Dobler.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package message provides Message, the owned representation of a single
// HTTP request/response exchange used throughout the mock server.
package message

import (
	"net/http"
	"net/url"
)

// HTTPVersion identifies the protocol version of a Message.
type HTTPVersion int

// Recognized protocol versions. Version10 is the zero value so a freshly
// constructed Message defaults to it, matching the trace format's own
// default.
const (
	Version10 HTTPVersion = iota
	Version11
	Version20
)

func (v HTTPVersion) String() string {
	switch v {
	case Version11:
		return "HTTP/1.1"
	case Version20:
		return "HTTP/2"
	default:
		return "HTTP/1.0"
	}
}

// StatusNone is the status value of a Message whose response has not been
// set yet.
const StatusNone = 0

// Recognized request methods. Others are accepted during parsing but are
// reported distinctly since they aren't part of the well-known set.
const (
	MethodGet     = "GET"
	MethodPost    = "POST"
	MethodPut     = "PUT"
	MethodDelete  = "DELETE"
	MethodPatch   = "PATCH"
	MethodConnect = "CONNECT"
)

// Header is an ordered, case-insensitive multimap of HTTP header
// name/value pairs. Unlike net/http.Header (a plain map), Header preserves
// insertion order so that a trace round-tripped through Emit/NextExpected
// reproduces its original header ordering.
type Header struct {
	names  []string
	values map[string][]string
}

// NewHeader returns an empty Header ready for use.
func NewHeader() *Header {
	return &Header{values: make(map[string][]string)}
}

func canonical(name string) string {
	return http.CanonicalHeaderKey(name)
}

// Add appends a name/value pair, preserving any prior values for name.
func (h *Header) Add(name, value string) {
	name = canonical(name)
	if _, ok := h.values[name]; !ok {
		h.names = append(h.names, name)
	}
	h.values[name] = append(h.values[name], value)
}

// Set replaces all values for name with value.
func (h *Header) Set(name, value string) {
	name = canonical(name)
	if _, ok := h.values[name]; !ok {
		h.names = append(h.names, name)
	}
	h.values[name] = []string{value}
}

// Get returns the first value for name, or "" if absent.
func (h *Header) Get(name string) string {
	vs := h.values[canonical(name)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Values returns all values for name, in insertion order.
func (h *Header) Values(name string) []string {
	return h.values[canonical(name)]
}

// Del removes all values for name.
func (h *Header) Del(name string) {
	name = canonical(name)
	delete(h.values, name)
	for i, n := range h.names {
		if n == name {
			h.names = append(h.names[:i], h.names[i+1:]...)
			break
		}
	}
}

// Foreach calls f once per (name, value) pair, in the order the names were
// first inserted and the order values were added within a name.
func (h *Header) Foreach(f func(name, value string)) {
	for _, name := range h.names {
		for _, v := range h.values[name] {
			f(name, v)
		}
	}
}

// Body is an opaque byte buffer accumulated a chunk at a time, with a flag
// marking whether all chunks have been appended.
type Body struct {
	data     []byte
	Complete bool
}

// Append adds b to the body.
func (b *Body) Append(p []byte) {
	b.data = append(b.data, p...)
}

// Bytes returns the accumulated body content.
func (b *Body) Bytes() []byte {
	return b.data
}

// Len returns the number of bytes accumulated so far.
func (b *Body) Len() int {
	return len(b.data)
}

// Message is the canonical representation of one HTTP exchange: the
// request as sent and the response as received (or synthesized).
type Message struct {
	Method         string
	HTTPVersion    HTTPVersion
	Status         int
	Reason         string
	URI            *url.URL
	RequestHeader  *Header
	ResponseHeader *Header
	RequestBody    Body
	ResponseBody   Body
}

// New constructs a Message for method and uri with empty bodies, empty
// headers, version 1.0 and status 0.
func New(method string, uri *url.URL) *Message {
	return &Message{
		Method:         method,
		HTTPVersion:    Version10,
		URI:            uri,
		RequestHeader:  NewHeader(),
		ResponseHeader: NewHeader(),
	}
}

// FromRequest builds a Message from a live incoming *http.Request, sharing
// nothing with the request: method, URI, and headers are copied so the
// Message remains valid after the request has been fully handled.
func FromRequest(r *http.Request) *Message {
	uri := *r.URL
	if uri.Host == "" && r.Host != "" {
		uri.Host = r.Host
	}
	m := New(r.Method, &uri)
	for name, values := range r.Header {
		for _, v := range values {
			m.RequestHeader.Add(name, v)
		}
	}
	switch {
	case r.ProtoMajor == 2:
		m.HTTPVersion = Version20
	case r.ProtoMajor == 1 && r.ProtoMinor == 0:
		m.HTTPVersion = Version10
	default:
		m.HTTPVersion = Version11
	}
	return m
}

// SetStatus sets the response status code and reason phrase.
func (m *Message) SetStatus(status int, reason string) {
	m.Status = status
	m.Reason = reason
}

// SetHTTPVersion sets the protocol version of the Message.
func (m *Message) SetHTTPVersion(v HTTPVersion) {
	m.HTTPVersion = v
}

// PathQuery returns the URI's path (defaulting to "/") concatenated with a
// "?"-joined query string, used in diagnostic messages.
func (m *Message) PathQuery() string {
	if m.URI == nil {
		return ""
	}
	path := m.URI.Path
	if path == "" {
		path = "/"
	}
	if m.URI.RawQuery == "" {
		return path
	}
	return path + "?" + m.URI.RawQuery
}
