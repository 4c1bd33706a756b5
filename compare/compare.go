// Copyright 2015 Volker Dobler.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compare implements message equality checks and the line-stream
// state machine that reconstitutes full request/response exchanges out of
// a live HTTP client's logged chunk lines, for comparison against a trace.
package compare

import (
	"fmt"
	"net/url"

	"github.com/kr/pretty"

	"github.com/vdobler/mockhttp/message"
)

// DiagnosticString renders expected and actual for verbose test-failure
// output, in the same "% #v" pretty-printed style used elsewhere for
// dumping mismatched requests.
func DiagnosticString(expected, actual *message.Message) string {
	return fmt.Sprintf("expected:\n%s\nactual:\n%s", pretty.Sprintf("% #v", expected), pretty.Sprintf("% #v", actual))
}

// Filter decides whether actual matches expected. The default, Equal,
// compares method and the user/password/path/query/fragment URI
// components; headers and bodies are never compared. A Filter replaces the
// default entirely rather than augmenting it.
type Filter func(expected, actual *message.Message) bool

// Equal is the default Filter.
func Equal(expected, actual *message.Message) bool {
	if expected.Method != actual.Method {
		return false
	}
	return sameURI(expected.URI, actual.URI)
}

func sameURI(a, b *url.URL) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.User.String() == b.User.String() &&
		a.Path == b.Path &&
		a.RawQuery == b.RawQuery &&
		a.Fragment == b.Fragment
}

// IgnoreParameterValues returns a Filter identical to Equal except for the
// query string: each name in names must be present in both queries (their
// values are not compared and are removed before the final comparison);
// every remaining parameter must match name-for-name and value-for-value.
//
// Presence is checked on both sides rather than re-testing the expected
// side twice, so a registered name missing from the actual request's
// query is always caught as a mismatch.
func IgnoreParameterValues(names ...string) Filter {
	ignored := make(map[string]bool, len(names))
	for _, n := range names {
		ignored[n] = true
	}
	return func(expected, actual *message.Message) bool {
		if expected.Method != actual.Method {
			return false
		}
		if expected.URI == nil || actual.URI == nil {
			return expected.URI == actual.URI
		}
		if expected.URI.User.String() != actual.URI.User.String() ||
			expected.URI.Path != actual.URI.Path ||
			expected.URI.Fragment != actual.URI.Fragment {
			return false
		}

		expQuery, err := url.ParseQuery(expected.URI.RawQuery)
		if err != nil {
			return false
		}
		actQuery, err := url.ParseQuery(actual.URI.RawQuery)
		if err != nil {
			return false
		}

		for name := range ignored {
			_, expHas := expQuery[name]
			_, actHas := actQuery[name]
			if expHas != actHas {
				return false
			}
			delete(expQuery, name)
			delete(actQuery, name)
		}

		if len(expQuery) != len(actQuery) {
			return false
		}
		for name, vs := range expQuery {
			avs, ok := actQuery[name]
			if !ok || len(avs) != len(vs) {
				return false
			}
			for i := range vs {
				if vs[i] != avs[i] {
					return false
				}
			}
		}
		return true
	}
}

// StreamState is a state in the compare-mode line-reassembly machine. The
// zero value, Unknown, is the idle/discard state.
type StreamState int

const (
	Unknown StreamState = iota
	ReqData
	ReqTerm
	RespData
	RespTerm
)

func (s StreamState) String() string {
	switch s {
	case ReqData:
		return "REQ_DATA"
	case ReqTerm:
		return "REQ_TERM"
	case RespData:
		return "RESP_DATA"
	case RespTerm:
		return "RESP_TERM"
	default:
		return "UNKNOWN"
	}
}

func linePrefix(line string) string {
	if len(line) >= 2 {
		return line[:2]
	}
	return line
}

// Next computes the successor state given the next input line, classified
// solely by its first two characters ("> ", "< ", "  ", or anything else).
// The language accepted end to end is (UNKNOWN* (> * "  " < * "  "))*: a
// request's lines, its terminator, a response's lines, its terminator.
func (s StreamState) Next(line string) StreamState {
	p := linePrefix(line)
	switch s {
	case Unknown:
		if p == "> " {
			return ReqData
		}
		return Unknown
	case ReqData:
		switch p {
		case "> ":
			return ReqData
		case "  ":
			return ReqTerm
		default:
			return Unknown
		}
	case ReqTerm:
		if p == "< " {
			return RespData
		}
		return Unknown
	case RespData:
		switch p {
		case "< ":
			return RespData
		case "  ":
			return RespTerm
		default:
			return Unknown
		}
	case RespTerm:
		if p == "> " {
			return ReqData
		}
		return Unknown
	default:
		return Unknown
	}
}

// Accumulator collects chunk lines across state transitions and reports
// when a full request+response exchange is ready to be parsed: on
// transition into RespTerm, after the terminator line itself has been
// appended.
type Accumulator struct {
	state StreamState
	buf   []byte
}

// NewAccumulator returns an idle Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Reset discards any partially accumulated exchange and returns to Unknown.
func (a *Accumulator) Reset() {
	a.state = Unknown
	a.buf = nil
}

// State returns the accumulator's current StreamState.
func (a *Accumulator) State() StreamState {
	return a.state
}

// Feed advances the machine by one line. It returns the accumulated buffer
// and true when the line completes a full exchange (the machine entered
// RespTerm); otherwise it returns (nil, false). A line that leaves the
// machine in Unknown is dropped and does not contribute to the buffer of
// whatever exchange follows.
func (a *Accumulator) Feed(line string) ([]byte, bool) {
	next := a.state.Next(line)

	switch next {
	case Unknown:
		a.buf = nil
	case ReqData, RespData, ReqTerm:
		a.buf = append(a.buf, line...)
		a.buf = append(a.buf, '\n')
	case RespTerm:
		a.buf = append(a.buf, line...)
		a.buf = append(a.buf, '\n')
		done := a.buf
		a.state = Unknown
		a.buf = nil
		return done, true
	}

	a.state = next
	return nil, false
}
