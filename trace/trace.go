// Copyright 2015 Volker Dobler.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package trace implements the trace file codec: a parser and emitter for
// the ASCII interleaved request/response log format used to drive replay
// and compare modes.
//
// A trace file is a sequence of records. Each record is two half-messages:
// a request (every line prefixed "> ") followed by a response (every line
// prefixed "< "), each terminated by a line consisting of exactly two
// spaces. Within a half-message, the first line is the start line, then
// header lines ("Name: Value"), a blank header-terminator line, then body
// lines (verbatim, including their trailing newline).
package trace

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/vdobler/mockhttp/message"
)

// ParseError reports a malformed trace file. Offset is the byte offset
// (within the current record) at which the problem was found.
type ParseError struct {
	Reason string
	Offset int64
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("trace: %s (offset %d)", e.Reason, e.Offset)
}

func parseErr(offset int64, format string, args ...interface{}) error {
	return &ParseError{Reason: fmt.Sprintf(format, args...), Offset: offset}
}

// Source reads successive records from a trace file.
type Source struct {
	r      *bufio.Reader
	offset int64
}

// NewSource wraps r for sequential record-at-a-time reading.
func NewSource(r io.Reader) *Source {
	return &Source{r: bufio.NewReader(r)}
}

func (s *Source) readLine() (string, bool, error) {
	line, err := s.r.ReadString('\n')
	if err == io.EOF {
		if line == "" {
			return "", false, nil
		}
		// Unterminated final line: treat as-is, next call reports EOF.
		s.offset += int64(len(line))
		return strings.TrimSuffix(line, "\n"), true, nil
	}
	if err != nil {
		return "", false, err
	}
	s.offset += int64(len(line))
	return strings.TrimSuffix(line, "\n"), true, nil
}

// NextExpected reads and parses exactly one record (a request half-message
// followed by a response half-message) from s. It returns (nil, nil)
// cleanly when the stream is exhausted between records. Records whose
// response status is 0 ("none") are skipped transparently.
func (s *Source) NextExpected(baseURI *url.URL) (*message.Message, error) {
	for {
		msg, ok, err := s.readRecord(baseURI)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		if msg.Status == message.StatusNone {
			continue
		}
		return msg, nil
	}
}

func (s *Source) readRecord(baseURI *url.URL) (*message.Message, bool, error) {
	startOffset := s.offset
	line, ok, err := s.readLine()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	if line == "" {
		// Tolerate a single stray blank line between records.
		line, ok, err = s.readLine()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
	}

	if !strings.HasPrefix(line, "> ") {
		return nil, false, parseErr(startOffset, "expected request start line, got %q", line)
	}
	method, rawURI, version, err := parseRequestStart(strings.TrimPrefix(line, "> "), startOffset)
	if err != nil {
		return nil, false, err
	}

	uri, err := resolveURI(baseURI, rawURI)
	if err != nil {
		return nil, false, parseErr(startOffset, "invalid URI %q: %s", rawURI, err)
	}

	msg := message.New(method, uri)
	msg.SetHTTPVersion(version)

	if err := s.readHalfMessage('>', msg.RequestHeader, &msg.RequestBody); err != nil {
		return nil, false, err
	}

	respOffset := s.offset
	line, ok, err = s.readLine()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, parseErr(respOffset, "unexpected EOF before response start line")
	}
	if !strings.HasPrefix(line, "< ") {
		return nil, false, parseErr(respOffset, "expected response start line, got %q", line)
	}
	version, status, reason, err := parseResponseStart(strings.TrimPrefix(line, "< "), respOffset)
	if err != nil {
		return nil, false, err
	}
	msg.SetHTTPVersion(version)
	msg.SetStatus(status, reason)

	if err := s.readHalfMessage('<', msg.ResponseHeader, &msg.ResponseBody); err != nil {
		return nil, false, err
	}

	return msg, true, nil
}

// readHalfMessage reads header lines followed by body lines, both prefixed
// by tag+" ", up to and including the two-space terminator line.
func (s *Source) readHalfMessage(tag byte, headers *message.Header, body *message.Body) error {
	prefix := string(tag) + " "

	for {
		offset := s.offset
		line, ok, err := s.readLine()
		if err != nil {
			return err
		}
		if !ok {
			return parseErr(offset, "unexpected EOF in header section")
		}
		if line == "  " {
			body.Complete = true
			return nil
		}
		if !strings.HasPrefix(line, prefix) {
			return parseErr(offset, "unrecognised line %q, want prefix %q", line, prefix)
		}
		rest := strings.TrimPrefix(line, prefix)
		if rest == "" {
			break // End of headers, go parse the body.
		}
		name, value, ok := strings.Cut(rest, ": ")
		if !ok {
			return parseErr(offset, "header line %q missing %q spacer", rest, ": ")
		}
		headers.Add(name, value)
	}

	for {
		offset := s.offset
		line, ok, err := s.readLine()
		if err != nil {
			return err
		}
		if !ok {
			body.Complete = true
			return nil
		}
		if line == "  " {
			body.Complete = true
			return nil
		}
		if !strings.HasPrefix(line, prefix) {
			return parseErr(offset, "unrecognised line %q, want prefix %q", line, prefix)
		}
		body.Append([]byte(strings.TrimPrefix(line, prefix)))
		body.Append([]byte("\n"))
	}
}

var knownMethods = map[string]bool{
	message.MethodGet: true, message.MethodPost: true, message.MethodPut: true,
	message.MethodDelete: true, message.MethodPatch: true, message.MethodConnect: true,
}

func parseRequestStart(line string, offset int64) (method, uri string, version message.HTTPVersion, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return "", "", 0, parseErr(offset, "malformed request start line %q", line)
	}
	method = parts[0]
	if !knownMethods[method] {
		return "", "", 0, parseErr(offset, "unknown method %q", method)
	}
	version, _ = parseVersion(parts[2], true)
	return method, parts[1], version, nil
}

func parseResponseStart(line string, offset int64) (version message.HTTPVersion, status int, reason string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return 0, 0, "", parseErr(offset, "malformed response start line %q", line)
	}
	version, ok := parseVersion(parts[0], false)
	if !ok {
		// An unrecognized version token has nothing meaningful to map to
		// in the enum, so default rather than fail the record.
		version = message.Version11
	}
	status, convErr := strconv.Atoi(parts[1])
	if convErr != nil || status < 1 || status > 999 {
		return 0, 0, "", parseErr(offset, "invalid status %q", parts[1])
	}
	if len(parts) == 3 {
		reason = parts[2]
	}
	return version, status, reason, nil
}

func parseVersion(s string, isRequest bool) (message.HTTPVersion, bool) {
	switch s {
	case "HTTP/1.0":
		return message.Version10, true
	case "HTTP/1.1":
		return message.Version11, true
	case "HTTP/2", "HTTP/2.0":
		return message.Version20, true
	default:
		if isRequest {
			return message.Version11, false
		}
		return message.Version10, false
	}
}

func resolveURI(base *url.URL, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return u, nil
	}
	return base.ResolveReference(u), nil
}

// Emitter appends pre-formatted chunk lines (as produced by an HTTP
// client's logger, one line per call) to an output stream, exactly as
// received, each followed by a newline.
type Emitter struct {
	w io.Writer
}

// NewEmitter wraps w for chunk-at-a-time appending.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

// WriteChunk appends line and a trailing "\n" to the output stream.
func (e *Emitter) WriteChunk(line string) error {
	if _, err := io.WriteString(e.w, line); err != nil {
		return err
	}
	_, err := io.WriteString(e.w, "\n")
	return err
}
