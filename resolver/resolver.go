// Copyright 2015 Volker Dobler.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package resolver implements a closed-world, in-memory DNS resolver for
// redirecting a client under test towards the mock server: host names and
// SRV records not explicitly registered fail lookup rather than falling
// through to a real resolver.
package resolver

import (
	"context"
	"fmt"
	"net"
	"sync"

	"golang.org/x/net/idna"
)

// NotFoundError reports a lookup for a name or rrname with no registered
// fake record.
type NotFoundError struct {
	Kind string // "hostname" or "service"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("resolver: no fake %s record registered for %q", e.Kind, e.Name)
}

// LookupFlags narrows a LookupByName result to one address family.
type LookupFlags int

const (
	LookupDefault LookupFlags = iota
	LookupIPv4Only
	LookupIPv6Only
)

type fakeHost struct {
	name string
	addr net.IP
}

// SRVTarget is one resolved service record: an address, port, priority and
// weight, mirroring the fields a real SRV lookup would return.
type SRVTarget struct {
	Host     string
	Port     uint16
	Priority uint16
	Weight   uint16
}

type fakeService struct {
	rrname string
	target SRVTarget
}

// Resolver holds the fake A and SRV record tables. The zero value is not
// usable; construct one with New. A Resolver is safe for concurrent use.
type Resolver struct {
	mu   sync.RWMutex
	a    []fakeHost
	srv  []fakeService
}

// New returns an empty Resolver.
func New() *Resolver {
	return &Resolver{}
}

// Reset discards every record added with AddA and AddSRV.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.a = nil
	r.srv = nil
}

// AddA registers a resolution from hostname to addr (dotted-quad or IPv6
// literal). Multiple addresses may be registered for the same hostname.
func (r *Resolver) AddA(hostname, addr string) error {
	if hostname == "" {
		return fmt.Errorf("resolver: empty hostname")
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return fmt.Errorf("resolver: invalid IP address %q", addr)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.a = append(r.a, fakeHost{name: hostname, addr: ip})
	return nil
}

// ServiceRRName builds the resource-record name that LookupService expects
// for the given service, protocol and domain, ASCII-folding domain exactly
// as a real resolver's underlying getaddrinfo(3) would.
func ServiceRRName(service, protocol, domain string) (string, error) {
	asciiDomain, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", fmt.Errorf("resolver: %w", err)
	}
	return fmt.Sprintf("_%s._%s.%s", service, protocol, asciiDomain), nil
}

// AddSRV registers service/protocol/domain to resolve, via LookupService, to
// a target at addr:port.
func (r *Resolver) AddSRV(service, protocol, domain, addr string, port uint16) error {
	if service == "" || protocol == "" || domain == "" {
		return fmt.Errorf("resolver: service, protocol and domain must be non-empty")
	}
	if addr == "" {
		return fmt.Errorf("resolver: empty address")
	}
	if port == 0 {
		return fmt.Errorf("resolver: port must be non-zero")
	}
	rrname, err := ServiceRRName(service, protocol, domain)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.srv = append(r.srv, fakeService{rrname: rrname, target: SRVTarget{Host: addr, Port: port}})
	return nil
}

func familyMatches(ip net.IP, flags LookupFlags) bool {
	switch flags {
	case LookupIPv4Only:
		return ip.To4() != nil
	case LookupIPv6Only:
		return ip.To4() == nil
	default:
		return true
	}
}

// LookupByName returns every registered address for hostname matching
// flags, or a *NotFoundError if none is registered.
func (r *Resolver) LookupByName(ctx context.Context, hostname string, flags LookupFlags) ([]net.IP, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found []net.IP
	for _, h := range r.a {
		if h.name != hostname {
			continue
		}
		if !familyMatches(h.addr, flags) {
			continue
		}
		found = append(found, h.addr)
	}
	if len(found) == 0 {
		return nil, &NotFoundError{Kind: "hostname", Name: hostname}
	}
	return found, nil
}

// LookupService returns every registered target for rrname (as produced by
// ServiceRRName), or a *NotFoundError if none is registered.
func (r *Resolver) LookupService(ctx context.Context, rrname string) ([]SRVTarget, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found []SRVTarget
	for _, s := range r.srv {
		if s.rrname != rrname {
			continue
		}
		found = append(found, s.target)
	}
	if len(found) == 0 {
		return nil, &NotFoundError{Kind: "service", Name: rrname}
	}
	return found, nil
}

// LookupByNameAsync runs LookupByName in its own goroutine, delivering the
// result on the returned channel. Cancelling ctx aborts the wait promptly
// without leaking the goroutine, mirroring the cancellable async lookup a
// GResolver subclass provides.
func (r *Resolver) LookupByNameAsync(ctx context.Context, hostname string, flags LookupFlags) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		addrs, err := r.LookupByName(ctx, hostname, flags)
		ch <- Result{Addrs: addrs, Err: err}
	}()
	return ch
}

// LookupServiceAsync is the service-record analogue of LookupByNameAsync.
func (r *Resolver) LookupServiceAsync(ctx context.Context, rrname string) <-chan ServiceResult {
	ch := make(chan ServiceResult, 1)
	go func() {
		targets, err := r.LookupService(ctx, rrname)
		ch <- ServiceResult{Targets: targets, Err: err}
	}()
	return ch
}

// Result is delivered on the channel returned by LookupByNameAsync.
type Result struct {
	Addrs []net.IP
	Err   error
}

// ServiceResult is delivered on the channel returned by LookupServiceAsync.
type ServiceResult struct {
	Targets []SRVTarget
	Err     error
}
