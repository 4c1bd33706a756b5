// Copyright 2015 Volker Dobler.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mockserver implements the mock HTTP/HTTPS server: a listener
// that runs on a dedicated goroutine and, depending on configuration,
// replays a trace file, compares live traffic against one, or records live
// traffic into one.
package mockserver

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/vdobler/mockhttp/compare"
	"github.com/vdobler/mockhttp/message"
	"github.com/vdobler/mockhttp/resolver"
	"github.com/vdobler/mockhttp/trace"
)

// Server is a mock HTTP/HTTPS server driven by a trace file. The zero
// value is not usable; construct one with New.
type Server struct {
	mu sync.Mutex

	// configuration, set at construction
	traceDirectory      string
	enableOnline        bool
	enableLogging       bool
	tlsCertificate      *tls.Certificate
	expectedDomainNames []string
	logger              *log.Logger

	// listener lifecycle
	running    bool
	listener   net.Listener
	httpServer *http.Server
	addr       string
	port       int
	resolver   *resolver.Resolver
	wg         sync.WaitGroup

	// trace orchestration
	traceStarted   bool
	traceLoaded    bool
	traceFile      string
	traceHandle    *os.File
	traceSource    *trace.Source
	nextExpected   *message.Message
	messageCounter int64
	compareAcc     *compare.Accumulator

	// logging-session output (online + logging)
	logHandle    *os.File
	hostsHandle  *os.File
	traceEmitter *trace.Emitter
	hostsEmitter *trace.Emitter
	hostsSeen    map[string]bool

	// HandleMessage decides the response for an incoming request. It
	// receives a Message already populated with the request and must
	// fill in Status/Reason/ResponseHeader/ResponseBody. The bool result
	// is reserved for future pass-through support; the default handler
	// always returns true. A nil HandleMessage falls back to
	// DefaultHandleMessage.
	HandleMessage func(*message.Message) bool

	// CompareMessages decides whether an actual message matches the
	// expected one, for both replay and online-compare mode. A nil
	// CompareMessages falls back to compare.Equal.
	CompareMessages compare.Filter
}

// New constructs a Server with default configuration, overridden by opts.
func New(opts ...Option) *Server {
	s := &Server{
		logger:    log.New(os.Stderr, "", log.LstdFlags),
		hostsSeen: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Address returns the loopback address the server is bound to, or "" if
// it is not running.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Port returns the OS-chosen port the server is bound to, or 0 if it is
// not running.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Resolver returns the mock resolver backing name lookups for the current
// run, or nil if the server is not running.
func (s *Server) Resolver() *resolver.Resolver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolver
}

// SetCompareMessages installs filter as the Filter used to judge a match
// between an incoming request and the next expected trace record, in both
// replay and online-compare mode. SetCompareMessages(nil) removes any
// previously installed filter, reverting to compare.Equal.
func (s *Server) SetCompareMessages(filter compare.Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CompareMessages = filter
}

// Run starts the listener on a dedicated goroutine. It binds a loopback
// address chosen by the OS, preferring a dual-stack IPv6 listener and
// falling back to IPv4-only, installs a fresh mock resolver as the
// process-wide default, and pre-seeds it with ExpectedDomainNames.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return &InvalidStateError{Op: "Run", Reason: "server is already running"}
	}

	ln, addr, port, err := listenLoopback()
	if err != nil {
		s.mu.Unlock()
		return &IOError{Op: "Run", Err: err}
	}

	res := resolver.New()
	for _, name := range s.expectedDomainNames {
		if err := res.AddA(name, addr); err != nil {
			s.logWarn("registering expected domain name %q: %v", name, err)
		}
	}
	if err := installResolver(res); err != nil {
		ln.Close()
		s.mu.Unlock()
		return err
	}

	router := mux.NewRouter()
	router.PathPrefix("/").HandlerFunc(s.serveHTTP)
	httpServer := &http.Server{Handler: router}
	if s.tlsCertificate != nil {
		httpServer.TLSConfig = &tls.Config{Certificates: []tls.Certificate{*s.tlsCertificate}}
	}

	s.listener = ln
	s.httpServer = httpServer
	s.addr = addr
	s.port = port
	s.resolver = res
	s.running = true
	s.wg.Add(1)
	tlsEnabled := s.tlsCertificate != nil
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		var serveErr error
		if tlsEnabled {
			serveErr = httpServer.ServeTLS(ln, "", "")
		} else {
			serveErr = httpServer.Serve(ln)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logError("listener stopped: %v", serveErr)
		}
	}()

	return nil
}

// Stop shuts down the listener, waits for its goroutine to finish,
// uninstalls the mock resolver, and unloads any loaded trace.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return &InvalidStateError{Op: "Stop", Reason: "server is not running"}
	}
	httpServer := s.httpServer
	res := s.resolver
	s.running = false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := httpServer.Shutdown(ctx)
	s.wg.Wait()
	uninstallResolver(res)

	s.mu.Lock()
	s.listener = nil
	s.httpServer = nil
	s.addr = ""
	s.port = 0
	s.resolver = nil
	s.mu.Unlock()

	unloadErr := s.UnloadTrace()
	if shutdownErr != nil {
		return &IOError{Op: "Stop", Err: shutdownErr}
	}
	return unloadErr
}

func listenLoopback() (net.Listener, string, int, error) {
	ln, err := net.Listen("tcp", "[::1]:0")
	if err != nil {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, "", 0, err
		}
	}
	tcpAddr := ln.Addr().(*net.TCPAddr)
	return ln, tcpAddr.IP.String(), tcpAddr.Port, nil
}

// baseURLLocked returns the server's own base URL, used to resolve
// relative request-line URIs parsed out of a trace. Callers must hold s.mu.
func (s *Server) baseURLLocked() *url.URL {
	scheme := "http"
	if s.tlsCertificate != nil {
		scheme = "https"
	}
	return &url.URL{Scheme: scheme, Host: fmt.Sprintf("%s:%d", s.addr, s.port)}
}

// LoadTrace opens path, pre-parses its first record, and pre-seeds the
// resolver from path+".hosts" if that file exists.
func (s *Server) LoadTrace(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadTraceLocked(path)
}

func (s *Server) loadTraceLocked(path string) error {
	if s.traceLoaded {
		return &InvalidStateError{Op: "LoadTrace", Reason: "a trace is already loaded"}
	}
	f, err := os.Open(path)
	if err != nil {
		return &IOError{Op: "LoadTrace", Err: err}
	}
	source := trace.NewSource(f)
	first, err := source.NextExpected(s.baseURLLocked())
	if err != nil {
		f.Close()
		return err
	}

	s.traceFile = path
	s.traceHandle = f
	s.traceSource = source
	s.nextExpected = first
	s.messageCounter = 0
	s.compareAcc = compare.NewAccumulator()
	s.traceLoaded = true

	s.loadHostsFileLocked(path + ".hosts")
	return nil
}

func (s *Server) loadHostsFileLocked(path string) {
	hf, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logWarn("reading hosts file %s: %v", path, err)
		}
		return
	}
	defer hf.Close()

	addr := s.addr
	scanner := bufio.NewScanner(hf)
	for scanner.Scan() {
		host := strings.TrimSpace(scanner.Text())
		if host == "" {
			continue
		}
		if s.resolver != nil {
			if err := s.resolver.AddA(host, addr); err != nil {
				s.logWarn("adding hosts-file entry %q: %v", host, err)
			}
		}
	}
}

// LoadTraceAsync runs LoadTrace off the calling goroutine, delivering its
// result on the returned channel. Cancelling ctx before the load completes
// makes the eventual result a *CancelledError.
func (s *Server) LoadTraceAsync(ctx context.Context, path string) <-chan error {
	ch := make(chan error, 1)
	go func() {
		done := make(chan error, 1)
		go func() { done <- s.LoadTrace(path) }()
		select {
		case <-ctx.Done():
			ch <- &CancelledError{Op: "LoadTrace"}
		case err := <-done:
			ch <- err
		}
	}()
	return ch
}

// LoadTraceFinish waits for a LoadTraceAsync operation to complete.
func (s *Server) LoadTraceFinish(op <-chan error) error {
	return <-op
}

// UnloadTrace closes and clears any loaded trace, its input stream, the
// pre-parsed next-expected record, and the compare accumulator.
func (s *Server) UnloadTrace() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unloadTraceLocked()
}

func (s *Server) unloadTraceLocked() error {
	var err error
	if s.traceHandle != nil {
		if cerr := s.traceHandle.Close(); cerr != nil {
			err = &IOError{Op: "UnloadTrace", Err: cerr}
		}
	}
	s.traceFile = ""
	s.traceHandle = nil
	s.traceSource = nil
	s.nextExpected = nil
	s.messageCounter = 0
	s.compareAcc = nil
	s.traceLoaded = false
	return err
}

// StartTrace resolves name against TraceDirectory and calls StartTraceFull.
func (s *Server) StartTrace(name string) error {
	s.mu.Lock()
	dir := s.traceDirectory
	s.mu.Unlock()
	return s.StartTraceFull(filepath.Join(dir, name))
}

// StartTraceFull begins a trace session against file, whose shape depends
// on EnableOnline and EnableLogging: replay (run the listener if it isn't
// already, then load), log (record live traffic), or compare (load-only,
// against an already-running listener).
func (s *Server) StartTraceFull(file string) error {
	s.mu.Lock()
	if s.traceStarted {
		s.mu.Unlock()
		return &InvalidStateError{Op: "StartTrace", Reason: "a trace is already started; call EndTrace first"}
	}
	online := s.enableOnline
	logging := s.enableLogging
	running := s.running
	s.traceStarted = true
	s.mu.Unlock()

	var err error
	switch {
	case !online:
		if !running {
			if rerr := s.Run(context.Background()); rerr != nil {
				err = rerr
				break
			}
		}
		err = s.LoadTrace(file)
	case online && logging:
		err = s.openLogStreams(file)
	default:
		err = s.LoadTrace(file)
	}
	if err != nil {
		s.mu.Lock()
		s.traceStarted = false
		s.mu.Unlock()
	}
	return err
}

func (s *Server) openLogStreams(file string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tf, err := os.Create(file)
	if err != nil {
		return &IOError{Op: "StartTrace", Err: err}
	}
	hf, err := os.Create(file + ".hosts")
	if err != nil {
		tf.Close()
		return &IOError{Op: "StartTrace", Err: err}
	}
	s.traceFile = file
	s.logHandle = tf
	s.hostsHandle = hf
	s.traceEmitter = trace.NewEmitter(tf)
	s.hostsEmitter = trace.NewEmitter(hf)
	s.hostsSeen = make(map[string]bool)
	s.compareAcc = compare.NewAccumulator()
	return nil
}

// EndTrace mirrors StartTrace, closing whatever streams it opened.
func (s *Server) EndTrace() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.traceStarted {
		return &InvalidStateError{Op: "EndTrace", Reason: "no trace is started"}
	}
	s.traceStarted = false

	var err error
	if s.logHandle != nil {
		if cerr := s.logHandle.Close(); cerr != nil {
			err = &IOError{Op: "EndTrace", Err: cerr}
		}
		s.logHandle = nil
		s.traceEmitter = nil
	}
	if s.hostsHandle != nil {
		if cerr := s.hostsHandle.Close(); cerr != nil && err == nil {
			err = &IOError{Op: "EndTrace", Err: cerr}
		}
		s.hostsHandle = nil
		s.hostsEmitter = nil
	}
	if s.traceLoaded {
		if uerr := s.unloadTraceLocked(); uerr != nil && err == nil {
			err = uerr
		}
	}
	return err
}

// IngestChunk splits data into lines, prefixes each with "> " or "< "
// depending on direction, and feeds them through IngestChunkLine.
func (s *Server) IngestChunk(direction byte, data []byte) error {
	prefix := "> "
	if direction == '<' {
		prefix = "< "
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if err := s.IngestChunkLine(prefix + scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// IngestChunkLine feeds one already-tagged chunk line ("> ...", "< ...",
// or the two-space terminator) into the compare state machine. Lines that
// leave the machine in Unknown state are silently dropped, matching the
// stream grammar.
func (s *Server) IngestChunkLine(line string) error {
	s.mu.Lock()
	if s.compareAcc == nil {
		s.mu.Unlock()
		return &InvalidStateError{Op: "IngestChunkLine", Reason: "no trace started"}
	}
	buf, done := s.compareAcc.Feed(line)
	online, logging := s.enableOnline, s.enableLogging
	s.mu.Unlock()

	if !done {
		return nil
	}
	if online && logging {
		return s.recordChunk(buf)
	}
	return s.compareChunk(buf)
}

// recordChunk appends a freshly completed exchange (buf, the Accumulator's
// newline-terminated lines) to the trace file and extracts any Host header
// into the hosts side-file, both through a trace.Emitter so the log path
// drives the same codec NextExpected later reads back.
func (s *Server) recordChunk(buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := strings.Split(strings.TrimSuffix(string(buf), "\n"), "\n")
	for _, line := range lines {
		if s.traceEmitter != nil {
			if err := s.traceEmitter.WriteChunk(line); err != nil {
				return &IOError{Op: "IngestChunkLine", Err: err}
			}
		}
		if !strings.HasPrefix(line, "> ") {
			continue
		}
		name, value, ok := strings.Cut(strings.TrimPrefix(line, "> "), ": ")
		if !ok || !strings.EqualFold(name, "Host") {
			continue
		}
		host := strings.TrimSpace(value)
		if host == "" || s.hostsSeen[host] {
			continue
		}
		s.hostsSeen[host] = true
		if s.hostsEmitter != nil {
			if err := s.hostsEmitter.WriteChunk(host); err != nil {
				return &IOError{Op: "IngestChunkLine", Err: err}
			}
		}
	}
	return nil
}

func (s *Server) compareChunk(buf []byte) error {
	s.mu.Lock()
	base := s.baseURLLocked()
	s.mu.Unlock()

	actual, err := trace.NewSource(bytes.NewReader(buf)).NextExpected(base)
	if err != nil {
		return err
	}
	if actual == nil {
		return nil
	}

	s.mu.Lock()
	expected := s.nextExpected
	cmp := s.CompareMessages
	if cmp == nil {
		cmp = compare.Equal
	}
	s.mu.Unlock()

	expectedURI := ""
	if expected != nil {
		expectedURI = expected.PathQuery()
	}
	if expected == nil || !cmp(expected, actual) {
		return &MessageMismatchError{ExpectedURI: expectedURI, ActualURI: actual.PathQuery()}
	}

	s.mu.Lock()
	next, err := s.traceSource.NextExpected(base)
	s.nextExpected = next
	s.mu.Unlock()
	return err
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	msg := message.FromRequest(r)
	if r.Body != nil {
		if body, err := io.ReadAll(r.Body); err == nil {
			msg.RequestBody.Append(body)
		}
		msg.RequestBody.Complete = true
	}

	s.mu.Lock()
	handler := s.HandleMessage
	s.mu.Unlock()
	if handler == nil {
		handler = s.DefaultHandleMessage
	}
	handler(msg)

	s.mu.Lock()
	traceFile := s.traceFile
	counter := s.messageCounter
	s.mu.Unlock()
	msg.ResponseHeader.Set("X-Mock-Trace-File", traceFile)
	msg.ResponseHeader.Set("X-Mock-Trace-File-Offset", strconv.FormatInt(counter, 10))

	msg.ResponseHeader.Foreach(func(name, value string) {
		w.Header().Add(name, value)
	})
	status := msg.Status
	if status == message.StatusNone {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(msg.ResponseBody.Bytes())
}

// DefaultHandleMessage is the default HandleMessage: it lazily pre-parses
// the trace if needed, compares the incoming request against the next
// expected record, and on a match copies the expected response onto msg
// (rewriting any Location header's port and zero-padding a declared
// Content-Length). It always returns true.
func (s *Server) DefaultHandleMessage(msg *message.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.traceSource == nil {
		msg.SetStatus(http.StatusBadRequest, "Bad Request")
		msg.ResponseHeader.Set("Content-Type", "text/plain; charset=utf-8")
		body := fmt.Sprintf("Expected no request, but got %s '%s': no trace is loaded.", msg.Method, msg.PathQuery())
		msg.ResponseBody.Append([]byte(body))
		msg.ResponseBody.Complete = true
		return true
	}

	if s.nextExpected == nil {
		parsed, err := s.traceSource.NextExpected(s.baseURLLocked())
		if err != nil {
			msg.SetStatus(http.StatusInternalServerError, "Internal Server Error")
			msg.ResponseHeader.Set("Content-Type", "text/plain; charset=utf-8")
			msg.ResponseBody.Append([]byte("Error: " + err.Error()))
			msg.ResponseBody.Complete = true
			return true
		}
		if parsed == nil {
			msg.SetStatus(http.StatusBadRequest, "Bad Request")
			msg.ResponseHeader.Set("Content-Type", "text/plain; charset=utf-8")
			body := fmt.Sprintf("Expected no request, but got %s '%s'.", msg.Method, msg.PathQuery())
			msg.ResponseBody.Append([]byte(body))
			msg.ResponseBody.Complete = true
			return true
		}
		s.nextExpected = parsed
	}

	expected := s.nextExpected
	s.messageCounter++

	cmp := s.CompareMessages
	if cmp == nil {
		cmp = compare.Equal
	}
	if !cmp(expected, msg) {
		msg.SetStatus(http.StatusBadRequest, "Bad Request")
		msg.ResponseHeader.Set("Content-Type", "text/plain; charset=utf-8")
		body := fmt.Sprintf("Expected %s URI '%s', but got %s '%s'.",
			expected.Method, expected.PathQuery(), msg.Method, msg.PathQuery())
		msg.ResponseBody.Append([]byte(body))
		msg.ResponseBody.Complete = true
		s.nextExpected = nil
		return true
	}

	msg.SetHTTPVersion(expected.HTTPVersion)
	msg.SetStatus(expected.Status, expected.Reason)
	expected.ResponseHeader.Foreach(func(name, value string) {
		if strings.EqualFold(name, "Location") {
			value = s.rewriteLocationPortLocked(value)
		}
		msg.ResponseHeader.Add(name, value)
	})

	body := append([]byte(nil), expected.ResponseBody.Bytes()...)
	if cl := msg.ResponseHeader.Get("Content-Length"); cl != "" {
		if n, err := strconv.Atoi(cl); err == nil && n > len(body) {
			body = append(body, make([]byte, n-len(body))...)
		}
	}
	msg.ResponseBody.Append(body)
	msg.ResponseBody.Complete = true
	// The recorded Content-Length is only ever stretched (zero-padded), never
	// shrunk, so it always matches what's actually written; re-set it here
	// since the trace parser's trailing-newline preservation can otherwise
	// leave it one byte short of the body it was recorded next to.
	msg.ResponseHeader.Set("Content-Length", strconv.Itoa(len(body)))

	s.nextExpected = nil
	return true
}

// rewriteLocationPortLocked rewrites raw's port to the server's own,
// leaving scheme, userinfo, host, path, query and fragment untouched.
// Callers must hold s.mu.
func (s *Server) rewriteLocationPortLocked(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Host = fmt.Sprintf("%s:%d", u.Hostname(), s.port)
	return u.String()
}
