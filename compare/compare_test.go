// Copyright 2015 Volker Dobler.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compare

import (
	"net/url"
	"testing"

	"github.com/vdobler/mockhttp/message"
)

func msg(t *testing.T, method, raw string) *message.Message {
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return message.New(method, u)
}

func TestEqualIgnoresHostAndScheme(t *testing.T) {
	a := msg(t, message.MethodGet, "http://mock.example/x?y=1")
	b := msg(t, message.MethodGet, "https://real.example:8443/x?y=1")
	if !Equal(a, b) {
		t.Error("expected Equal to ignore host/scheme/port")
	}
}

func TestEqualChecksPath(t *testing.T) {
	a := msg(t, message.MethodGet, "http://h/x")
	b := msg(t, message.MethodGet, "http://h/y")
	if Equal(a, b) {
		t.Error("expected mismatch on differing paths")
	}
}

func TestEqualChecksMethod(t *testing.T) {
	a := msg(t, message.MethodGet, "http://h/x")
	b := msg(t, message.MethodPost, "http://h/x")
	if Equal(a, b) {
		t.Error("expected mismatch on differing methods")
	}
}

func TestIgnoreParameterValuesPresenceRequired(t *testing.T) {
	f := IgnoreParameterValues("token")
	expected := msg(t, message.MethodGet, "http://h/x?token=abc&a=1")
	actual := msg(t, message.MethodGet, "http://h/x?a=1")
	if f(expected, actual) {
		t.Error("expected mismatch: ignored param missing on actual side")
	}
}

func TestIgnoreParameterValuesIgnoresValue(t *testing.T) {
	f := IgnoreParameterValues("token")
	expected := msg(t, message.MethodGet, "http://h/x?token=abc&a=1")
	actual := msg(t, message.MethodGet, "http://h/x?token=xyz&a=1")
	if !f(expected, actual) {
		t.Error("expected match: only the ignored param's value differs")
	}
}

func TestIgnoreParameterValuesStillChecksOthers(t *testing.T) {
	f := IgnoreParameterValues("token")
	expected := msg(t, message.MethodGet, "http://h/x?token=abc&a=1")
	actual := msg(t, message.MethodGet, "http://h/x?token=xyz&a=2")
	if f(expected, actual) {
		t.Error("expected mismatch: non-ignored param differs")
	}
}

func TestStreamStateTransitions(t *testing.T) {
	cases := []struct {
		state StreamState
		line  string
		want  StreamState
	}{
		{Unknown, "> GET / HTTP/1.1", ReqData},
		{Unknown, "< junk", Unknown},
		{ReqData, "> Host: x", ReqData},
		{ReqData, "  ", ReqTerm},
		{ReqData, "< oops", Unknown},
		{ReqTerm, "< HTTP/1.1 200 OK", RespData},
		{ReqTerm, "> oops", Unknown},
		{RespData, "< body", RespData},
		{RespData, "  ", RespTerm},
		{RespTerm, "> GET /2 HTTP/1.1", ReqData},
		{RespTerm, "< oops", Unknown},
	}
	for _, c := range cases {
		if got := c.state.Next(c.line); got != c.want {
			t.Errorf("%v.Next(%q) = %v, want %v", c.state, c.line, got, c.want)
		}
	}
}

func TestAccumulatorCompletesOnRespTerm(t *testing.T) {
	a := NewAccumulator()
	lines := []string{
		"> GET /x HTTP/1.1",
		"> Host: h",
		"> ",
		"  ",
		"< HTTP/1.1 200 OK",
		"< ",
		"< body",
		"  ",
	}
	var buf []byte
	var done bool
	for _, l := range lines {
		buf, done = a.Feed(l)
	}
	if !done {
		t.Fatal("expected the final terminator to complete the exchange")
	}
	if len(buf) == 0 {
		t.Error("expected a non-empty accumulated buffer")
	}
	if a.State() != Unknown {
		t.Errorf("state after completion = %v, want Unknown", a.State())
	}
}

func TestDiagnosticStringMentionsMethod(t *testing.T) {
	expected := msg(t, message.MethodGet, "http://h/x")
	actual := msg(t, message.MethodPost, "http://h/x")
	s := DiagnosticString(expected, actual)
	if s == "" {
		t.Fatal("expected a non-empty diagnostic dump")
	}
}

func TestAccumulatorDropsStrayResponse(t *testing.T) {
	a := NewAccumulator()
	_, done := a.Feed("< HTTP/1.1 200 OK")
	if done {
		t.Error("a lone response line should never complete an exchange")
	}
	if a.State() != Unknown {
		t.Errorf("state = %v, want Unknown", a.State())
	}
}
