// Copyright 2014 Volker Dobler.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package message

import (
	"net/url"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	u, _ := url.Parse("http://example.org/x")
	m := New(MethodGet, u)

	if m.HTTPVersion != Version10 {
		t.Errorf("got version %v, want Version10", m.HTTPVersion)
	}
	if m.Status != StatusNone {
		t.Errorf("got status %d, want %d", m.Status, StatusNone)
	}
	if m.RequestBody.Len() != 0 || m.ResponseBody.Len() != 0 {
		t.Errorf("expected empty bodies on a fresh Message")
	}
}

func TestHeaderOrderPreserved(t *testing.T) {
	h := NewHeader()
	h.Add("Content-Type", "text/plain")
	h.Add("X-Foo", "1")
	h.Add("X-Foo", "2")
	h.Add("Accept", "*/*")

	var got []string
	h.Foreach(func(name, value string) {
		got = append(got, name+"="+value)
	})
	want := []string{"Content-Type=text/plain", "X-Foo=1", "X-Foo=2", "Accept=*/*"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHeaderCaseInsensitive(t *testing.T) {
	h := NewHeader()
	h.Set("content-length", "4")
	if got := h.Get("Content-Length"); got != "4" {
		t.Errorf("got %q, want %q", got, "4")
	}
}

func TestPathQuery(t *testing.T) {
	u, _ := url.Parse("http://example.org/x?a=1")
	m := New(MethodGet, u)
	if got, want := m.PathQuery(), "/x?a=1"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
