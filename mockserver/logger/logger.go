// Copyright 2015 Volker Dobler.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logger provides the client-side half of the compare/log
// pipeline: an http.RoundTripper decorator that dumps every request and
// response it sees into the same "> "/"< "-prefixed, two-space-terminated
// chunk-line shape the trace format uses, and feeds those lines to a
// sink such as (*mockserver.Server).IngestChunkLine.
package logger

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"net/http/httputil"
)

// Sink receives one already-tagged chunk line at a time.
type Sink interface {
	IngestChunkLine(line string) error
}

// Transport decorates an http.RoundTripper, feeding every request/response
// pair it observes to a Sink as chunk lines.
type Transport struct {
	Base http.RoundTripper
	Sink Sink
}

// New wraps base (http.DefaultTransport if nil) to report traffic to sink.
func New(base http.RoundTripper, sink Sink) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Sink: sink}
}

// RoundTrip performs the request via Base, reporting the outgoing request
// and incoming response to Sink before returning the response to the
// caller. A failure to dump or report the request aborts the round trip
// and is returned to the caller; a failure reporting the response is
// swallowed so a broken Sink can never cause a client to lose a response
// it already received.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.reportRequest(req); err != nil {
		return nil, fmt.Errorf("logger: dumping request: %w", err)
	}

	resp, err := t.Base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	t.reportResponse(resp)
	return resp, nil
}

func (t *Transport) reportRequest(req *http.Request) error {
	dump, err := httputil.DumpRequestOut(req, true)
	if err != nil {
		return err
	}
	return t.feed('>', dump)
}

func (t *Transport) reportResponse(resp *http.Response) error {
	dump, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return err
	}
	return t.feed('<', dump)
}

func (t *Transport) feed(direction byte, dump []byte) error {
	prefix := "> "
	if direction == '<' {
		prefix = "< "
	}
	scanner := bufio.NewScanner(bytes.NewReader(dump))
	for scanner.Scan() {
		if err := t.Sink.IngestChunkLine(prefix + scanner.Text()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return t.Sink.IngestChunkLine("  ")
}
