// Copyright 2015 Volker Dobler.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mockserver

import "fmt"

// InvalidStateError reports lifecycle misuse: double Run, nested
// StartTrace, loading a trace over one already loaded, and similar
// programmer errors. No partial state is left behind when this is
// returned.
type InvalidStateError struct {
	Op     string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("mockserver: %s: %s", e.Op, e.Reason)
}

// MessageMismatchError reports an online compare-mode exchange that didn't
// match the next expected trace record.
type MessageMismatchError struct {
	ExpectedURI string
	ActualURI   string
}

func (e *MessageMismatchError) Error() string {
	return fmt.Sprintf("mockserver: expected %q, got %q", e.ExpectedURI, e.ActualURI)
}

// IOError wraps a failure reading or writing a trace, hosts, or log file.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("mockserver: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// CancelledError reports an async operation whose context was cancelled
// before it completed. No partial state is published in that case.
type CancelledError struct {
	Op string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("mockserver: %s cancelled", e.Op)
}
