/*
Copyright (C) 2026  nodekv contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package resp

import (
	"log"
	"net"

	"github.com/nodekv/nodekv/internal/kernel"
	"github.com/nodekv/nodekv/internal/objects"
)

// Server accepts RESP connections and spawns one Session per connection
// (spec §5: "each accepted connection is handled by one task ... it
// does not migrate mid-command"). It carries no raw-socket precedent
// from the teacher (see package doc); the recover-and-log-per-connection
// discipline below mirrors scm/network.go's websocket read loop and
// HttpServer.ServeHTTP, both of which wrap their per-connection work in
// a deferred panic recovery that logs and returns rather than taking
// the whole process down.
type Server struct {
	Main       *kernel.Kernel
	Objects    *objects.Store
	Dispatcher *Dispatcher
	AOF        AppendOnlyLog
	Router     Router
	Txn        TxnManager
	Admin      ClusterAdmin
	Pause      PauseGate
	Monitor    MonitorHooks
}

// Serve accepts connections on ln until it returns an error (typically
// because the listener was closed during shutdown).
func (srv *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go srv.handle(conn)
	}
}

func (srv *Server) handle(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("resp: recovered panic serving %s: %v", conn.RemoteAddr(), r)
		}
	}()
	s := NewSession(conn, srv.Main, srv.Objects, srv.Dispatcher)
	s.AOF = srv.AOF
	s.Router = srv.Router
	s.Txn = srv.Txn
	s.Admin = srv.Admin
	s.Pause = srv.Pause
	s.Monitor = srv.Monitor
	s.Serve()
}
