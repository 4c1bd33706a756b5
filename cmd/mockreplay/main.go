// Copyright 2015 Volker Dobler.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// mockreplay runs a mock server against a single trace file and prints
// its address, for smoke-testing a trace by hand or from a shell script.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/vdobler/mockhttp/mockserver"
)

var (
	domains = flag.String("domains", "", "comma-separated host names that should resolve to the mock server")
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "usage: mockreplay <trace-file>\n")
		os.Exit(2)
	}

	var opts []mockserver.Option
	if *domains != "" {
		opts = append(opts, mockserver.WithExpectedDomainNames(splitNonEmpty(*domains)...))
	}

	s := mockserver.New(opts...)
	if err := s.Run(context.Background()); err != nil {
		log.Fatalf("starting server: %v", err)
	}
	defer s.Stop()

	if err := s.LoadTrace(args[0]); err != nil {
		log.Fatalf("loading trace %s: %v", args[0], err)
	}

	log.Printf("replaying %s on http://%s:%d", args[0], s.Address(), s.Port())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
}

func splitNonEmpty(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
