// Copyright 2015 Volker Dobler.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mockserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func writeTrace(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func startServer(t *testing.T, tracePath string) (*Server, func()) {
	t.Helper()
	s := New()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := s.LoadTrace(tracePath); err != nil {
		s.Stop()
		t.Fatalf("LoadTrace: %v", err)
	}
	return s, func() { s.Stop() }
}

func get(t *testing.T, s *Server, method, path string) *http.Response {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	url := fmt.Sprintf("http://%s/%s", net.JoinHostPort(s.Address(), strconv.Itoa(s.Port())), path)
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestReplayHappyPath(t *testing.T) {
	dir := t.TempDir()
	path := writeTrace(t, dir, "s1.trace",
		"> GET /x HTTP/1.1\n"+
			"> Host: example.org\n"+
			"> \n"+
			"  \n"+
			"< HTTP/1.1 200 OK\n"+
			"< Content-Length: 2\n"+
			"< \n"+
			"< ok\n"+
			"  \n")

	s, stop := startServer(t, path)
	defer stop()

	resp := get(t, s, http.MethodGet, "x")
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok\n" {
		t.Errorf("body = %q, want %q", body, "ok\n")
	}
	if resp.Header.Get("X-Mock-Trace-File-Offset") != "1" {
		t.Errorf("offset header = %q, want %q", resp.Header.Get("X-Mock-Trace-File-Offset"), "1")
	}
}

func TestReplayMethodMismatch(t *testing.T) {
	dir := t.TempDir()
	path := writeTrace(t, dir, "s2.trace",
		"> GET /x HTTP/1.1\n> \n  \n< HTTP/1.1 200 OK\n< \n  \n")

	s, stop := startServer(t, path)
	defer stop()

	resp := get(t, s, http.MethodPost, "x")
	defer resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	want := "Expected GET URI '/x', but got POST '/x'."
	if string(body) != want {
		t.Errorf("body = %q, want %q", body, want)
	}
}

func TestReplayUnexpectedAtEOF(t *testing.T) {
	dir := t.TempDir()
	path := writeTrace(t, dir, "s3.trace",
		"> GET /x HTTP/1.1\n> \n  \n< HTTP/1.1 200 OK\n< \n  \n")

	s, stop := startServer(t, path)
	defer stop()

	get(t, s, http.MethodGet, "x").Body.Close()
	resp := get(t, s, http.MethodGet, "y")
	defer resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	want := "Expected no request, but got GET '/y'."
	if string(body) != want {
		t.Errorf("body = %q, want %q", body, want)
	}
}

func TestReplayContentLengthPadding(t *testing.T) {
	dir := t.TempDir()
	path := writeTrace(t, dir, "s5.trace",
		"> GET /x HTTP/1.1\n> \n  \n"+
			"< HTTP/1.1 200 OK\n< Content-Length: 8\n< \n< abc\n  \n")

	s, stop := startServer(t, path)
	defer stop()

	resp := get(t, s, http.MethodGet, "x")
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	want := []byte("abc\n\x00\x00\x00")
	if len(body) != 8 {
		t.Fatalf("body length = %d, want 8", len(body))
	}
	for i := range want {
		if body[i] != want[i] {
			t.Errorf("byte %d = %q, want %q", i, body[i], want[i])
			break
		}
	}
}

func TestLoadTraceTwiceIsInvalidState(t *testing.T) {
	dir := t.TempDir()
	path := writeTrace(t, dir, "x.trace", "> GET / HTTP/1.1\n> \n  \n< HTTP/1.1 200 OK\n< \n  \n")
	s, stop := startServer(t, path)
	defer stop()

	err := s.LoadTrace(path)
	if _, ok := err.(*InvalidStateError); !ok {
		t.Fatalf("got %v (%T), want *InvalidStateError", err, err)
	}
}

func TestRunTwiceIsInvalidState(t *testing.T) {
	s := New()
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	err := s.Run(context.Background())
	if _, ok := err.(*InvalidStateError); !ok {
		t.Fatalf("got %v (%T), want *InvalidStateError", err, err)
	}
}

func TestStartTraceFullReplayStartsListener(t *testing.T) {
	dir := t.TempDir()
	path := writeTrace(t, dir, "s6.trace",
		"> GET /x HTTP/1.1\n> \n  \n< HTTP/1.1 200 OK\n< \n  \n")

	s := New(WithTraceDirectory(dir))
	defer s.Stop()

	if err := s.StartTraceFull(path); err != nil {
		t.Fatalf("StartTraceFull: %v", err)
	}
	if s.Address() == "" || s.Port() == 0 {
		t.Fatal("expected StartTraceFull to start the listener for replay mode")
	}

	resp := get(t, s, http.MethodGet, "x")
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestRequestBeforeTraceLoadedReturns400(t *testing.T) {
	s := New()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer s.Stop()

	resp := get(t, s, http.MethodGet, "x")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestLogModeWritesTraceAndHostsFiles(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "out.trace")

	s := New(WithTraceDirectory(dir), WithEnableOnline(true), WithEnableLogging(true))
	if err := s.StartTraceFull(logPath); err != nil {
		t.Fatalf("StartTraceFull: %v", err)
	}

	lines := []string{
		"> GET /x HTTP/1.1",
		"> Host: example.org",
		"> ",
		"  ",
		"< HTTP/1.1 200 OK",
		"< ",
		"  ",
	}
	for _, l := range lines {
		if err := s.IngestChunkLine(l); err != nil {
			t.Fatalf("IngestChunkLine(%q): %v", l, err)
		}
	}
	if err := s.EndTrace(); err != nil {
		t.Fatalf("EndTrace: %v", err)
	}

	got, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading trace file: %v", err)
	}
	want := strings.Join(lines, "\n") + "\n"
	if string(got) != want {
		t.Errorf("trace file = %q, want %q", got, want)
	}

	hosts, err := os.ReadFile(logPath + ".hosts")
	if err != nil {
		t.Fatalf("reading hosts file: %v", err)
	}
	if string(hosts) != "example.org\n" {
		t.Errorf("hosts file = %q, want %q", hosts, "example.org\n")
	}
}

func TestHostsFileSeedsResolver(t *testing.T) {
	dir := t.TempDir()
	path := writeTrace(t, dir, "hosts.trace", "> GET / HTTP/1.1\n> \n  \n< HTTP/1.1 200 OK\n< \n  \n")
	if err := os.WriteFile(path+".hosts", []byte("api.example.org\n\nother.example.org\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, stop := startServer(t, path)
	defer stop()

	addrs, err := s.Resolver().LookupByName(context.Background(), "api.example.org", 0)
	if err != nil {
		t.Fatalf("LookupByName: %v", err)
	}
	if len(addrs) != 1 || addrs[0].String() != s.Address() {
		t.Errorf("got %v, want [%s]", addrs, s.Address())
	}
}
