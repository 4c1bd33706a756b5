// Copyright 2015 Volker Dobler.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mockserver

import (
	"fmt"

	"github.com/mgutz/ansi"
)

func (s *Server) logWarn(format string, args ...interface{}) {
	s.logger.Println(ansi.Color("WARN  "+fmt.Sprintf(format, args...), "yellow"))
}

func (s *Server) logError(format string, args ...interface{}) {
	s.logger.Println(ansi.Color("ERROR "+fmt.Sprintf(format, args...), "red"))
}
