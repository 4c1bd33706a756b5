// Copyright 2015 Volker Dobler.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mockserver

import (
	"sync"

	"github.com/vdobler/mockhttp/resolver"
)

// Go has no hookable process-wide default DNS resolver the way GLib's
// GResolver does; the nearest equivalent available to client code is a
// package-level handle. installResolver/uninstallResolver model a single
// global install scope, including the ban on nested scopes, even though
// nothing in net's resolution machinery actually consults it.
var (
	installMu  sync.Mutex
	installed  *resolver.Resolver
)

func installResolver(r *resolver.Resolver) error {
	installMu.Lock()
	defer installMu.Unlock()
	if installed != nil {
		return &InvalidStateError{Op: "Run", Reason: "a mock resolver is already installed process-wide"}
	}
	installed = r
	return nil
}

func uninstallResolver(r *resolver.Resolver) {
	installMu.Lock()
	defer installMu.Unlock()
	if installed == r {
		installed = nil
	}
}

// InstalledResolver returns the Resolver currently installed as the
// process-wide default, or nil if no Server is running.
func InstalledResolver() *resolver.Resolver {
	installMu.Lock()
	defer installMu.Unlock()
	return installed
}
