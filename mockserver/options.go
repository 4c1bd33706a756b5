// Copyright 2015 Volker Dobler.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mockserver

import (
	"crypto/tls"
	"log"
)

// Option configures a Server at construction time.
type Option func(*Server)

// WithTraceDirectory sets the base directory StartTrace resolves trace
// names against.
func WithTraceDirectory(dir string) Option {
	return func(s *Server) { s.traceDirectory = dir }
}

// WithEnableOnline selects whether StartTrace sends traffic to a real
// server (true, compare/log modes) or has this Server synthesize responses
// itself (false, replay mode).
func WithEnableOnline(enable bool) Option {
	return func(s *Server) { s.enableOnline = enable }
}

// WithEnableLogging selects whether StartTrace records traffic to a trace
// and hosts file (true) rather than comparing it against one (false).
// Only meaningful when online is enabled.
func WithEnableLogging(enable bool) Option {
	return func(s *Server) { s.enableLogging = enable }
}

// WithTLSCertificate makes Run bind an HTTPS listener presenting cert
// instead of a plain HTTP one.
func WithTLSCertificate(cert tls.Certificate) Option {
	return func(s *Server) { s.tlsCertificate = &cert }
}

// WithExpectedDomainNames registers host names that should resolve to this
// server's own address every time it runs, in addition to whatever a
// loaded trace's hosts side-file contributes.
func WithExpectedDomainNames(names ...string) Option {
	return func(s *Server) { s.expectedDomainNames = append([]string(nil), names...) }
}

// WithLogger overrides the destination for the server's own diagnostic
// logging (warnings about a missing hosts file, listener errors, etc).
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}
