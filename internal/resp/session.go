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
	"bufio"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nodekv/nodekv/internal/kernel"
	"github.com/nodekv/nodekv/internal/objects"
)

// QueuedCommand is one command buffered between MULTI and EXEC/DISCARD.
type QueuedCommand struct {
	Name string
	Args [][]byte
}

// Router resolves cluster slot ownership for a key (spec §4.9 consumer
// side). A nil Router means cluster mode is disabled: every key is
// treated as locally owned.
type Router interface {
	Owns(key []byte) bool
	// Redirect returns the owning node's address and whether the
	// redirect is an ASK (migrating slot) rather than a MOVED.
	Redirect(key []byte) (addr string, ask bool)
}

// TxnManager implements spec §4.8's Prepare/Main/Finalize transaction
// flow: canonical-order locking over the keys queued commands touch,
// WATCH version checks, and atomic execution. Session defers to it only
// for EXEC; MULTI/DISCARD/WATCH bookkeeping (per spec §3 "Session" owns
// "current transaction (if any)") lives on the Session itself.
type TxnManager interface {
	Watch(sessionID int32, keys [][]byte)
	Unwatch(sessionID int32)
	// Exec runs each queued command via run, inside the manager's
	// locking/versioning discipline, and returns the aggregated array
	// reply — or a null array if a watched key's version advanced.
	Exec(sessionID int32, queued []QueuedCommand, run func(QueuedCommand) Value) Value
}

var sessionCounter int32

// Session is the per-connection protocol state machine of spec §4.7: a
// single-threaded command loop over one net.Conn, dispatching parsed
// commands against the shared main store, object store, and (if
// cluster mode is enabled) the slot router and transaction manager.
type Session struct {
	ID   int32
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer

	Main    *kernel.Kernel
	Objects *objects.Store
	AOF     AppendOnlyLog // nil disables AOF writing
	Router  Router        // nil disables cluster redirects
	Txn     TxnManager    // nil disables MULTI/EXEC
	Admin   ClusterAdmin  // nil disables the CLUSTER GOSSIP/failover RPC subcommands
	Pause   PauseGate     // nil disables failover write-pausing
	Monitor MonitorHooks  // nil disables traffic/latency accounting

	tracker *kernel.Tracker
	dialect *Dispatcher
	counts  SessionMonitor

	authenticated bool
	inTxn         bool
	dirtyTxn      bool // a queued command failed arity/name checks
	queued        []QueuedCommand
}

// AppendOnlyLog is the subset of *aof.Writer the session needs, kept as
// an interface so resp never imports internal/aof directly.
type AppendOnlyLog interface {
	AppendUpsertFrame(version int64, sessionID int32, objectStore bool, key, value []byte) error
	AppendDeleteFrame(version int64, sessionID int32, objectStore bool, key []byte) error
}

// NewSession wires a freshly accepted connection against the shared
// server-wide state. d supplies the command table (built once at server
// startup, shared read-only across sessions per spec §9's "global
// mutable state" guidance).
func NewSession(conn net.Conn, main *kernel.Kernel, objs *objects.Store, d *Dispatcher) *Session {
	return &Session{
		ID:      atomic.AddInt32(&sessionCounter, 1),
		conn:    conn,
		r:       bufio.NewReaderSize(conn, 64*1024),
		w:       bufio.NewWriterSize(conn, 64*1024),
		Main:    main,
		Objects: objs,
		tracker: kernel.NewTracker(),
		dialect: d,
	}
}

// Serve runs the command loop until the connection closes or a parse
// error forces it shut. Multiple pipelined commands are decoded and
// executed back to back; the reply buffer is flushed once the socket's
// read buffer runs dry, matching spec §4.7's "flushed cooperatively on
// ... end-of-batch" rule — a cheap proxy for "high-water mark" that
// needs no separate byte counter.
func (s *Session) Serve() {
	defer s.conn.Close()
	if s.Monitor != nil {
		s.counts = s.Monitor.RegisterSession(s.ID)
		defer s.Monitor.UnregisterSession(s.ID)
	}
	for {
		args, name, err := s.readCommand()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				Encode(s.w, Errorf("%s", err.Error()))
				s.w.Flush()
			}
			return
		}
		if name == "" {
			continue // blank inline line, ignore
		}
		start := time.Now()
		reply := s.execute(name, args)
		if s.Monitor != nil {
			s.Monitor.RecordLatency(name, time.Since(start))
			s.counts.RecordCommand(approxArgsSize(name, args), approxValueSize(reply))
		}
		if err := Encode(s.w, reply); err != nil {
			return
		}
		if s.r.Buffered() == 0 {
			if err := s.w.Flush(); err != nil {
				return
			}
		}
	}
}

// readCommand decodes one pipelined command: a RESP array of bulk
// strings naming the command and its arguments.
func (s *Session) readCommand() (args [][]byte, name string, err error) {
	v, err := Decode(s.r)
	if err != nil {
		return nil, "", err
	}
	if v.Kind != KindArray || v.ArrayNull || len(v.Array) == 0 {
		return nil, "", errors.New("invalid command: expected non-empty array")
	}
	out := make([][]byte, len(v.Array))
	for i, e := range v.Array {
		if e.Kind != KindBulk || e.BulkNull {
			return nil, "", errors.New("invalid command: expected bulk string arguments")
		}
		out[i] = e.Bulk
	}
	return out[1:], strings.ToUpper(string(out[0])), nil
}

// execute resolves cluster ownership, transaction queuing, and command
// dispatch for one already-parsed command.
func (s *Session) execute(name string, args [][]byte) Value {
	if s.Pause != nil && s.Pause.Paused() && !pauseExempt[name] {
		return ErrorReply("TRYAGAIN failover in progress")
	}

	if s.Router != nil && len(args) > 0 {
		if key, ok := s.dialect.routingKey(name, args); ok {
			if !s.Router.Owns(key) {
				addr, ask := s.Router.Redirect(key)
				slot := ClusterKeySlot(key)
				if ask {
					return ErrorReply("ASK " + strconv.Itoa(slot) + " " + addr)
				}
				return ErrorReply("MOVED " + strconv.Itoa(slot) + " " + addr)
			}
		}
	}

	switch name {
	case "MULTI":
		return s.cmdMulti()
	case "EXEC":
		return s.cmdExec()
	case "DISCARD":
		return s.cmdDiscard()
	case "WATCH":
		return s.cmdWatch(args)
	}

	if s.inTxn {
		if _, ok := s.dialect.lookup(name); !ok {
			s.dirtyTxn = true
			return Errorf("unknown command '%s'", name)
		}
		s.queued = append(s.queued, QueuedCommand{Name: name, Args: args})
		return SimpleString("QUEUED")
	}

	fn, ok := s.dialect.lookup(name)
	if !ok {
		return Errorf("unknown command '%s'", name)
	}
	return fn(s, args)
}

func (s *Session) cmdMulti() Value {
	if s.inTxn {
		return Errorf("MULTI calls can not be nested")
	}
	s.inTxn = true
	s.dirtyTxn = false
	s.queued = nil
	return SimpleString("OK")
}

func (s *Session) cmdDiscard() Value {
	if !s.inTxn {
		return Errorf("DISCARD without MULTI")
	}
	s.inTxn = false
	s.queued = nil
	if s.Txn != nil {
		s.Txn.Unwatch(s.ID)
	}
	return SimpleString("OK")
}

func (s *Session) cmdWatch(args [][]byte) Value {
	if s.inTxn {
		return Errorf("WATCH inside MULTI is not allowed")
	}
	if len(args) == 0 {
		return Errorf("wrong number of arguments for 'watch' command")
	}
	if s.Txn == nil {
		return Errorf("transactions are not available on this server")
	}
	s.Txn.Watch(s.ID, args)
	return SimpleString("OK")
}

func (s *Session) cmdExec() Value {
	if !s.inTxn {
		return Errorf("EXEC without MULTI")
	}
	s.inTxn = false
	if s.dirtyTxn {
		s.queued = nil
		return Errorf("EXECABORT Transaction discarded because of previous errors")
	}
	queued := s.queued
	s.queued = nil
	if s.Txn == nil {
		// No transaction manager wired: run queued commands in order,
		// with no cross-key atomicity guarantee.
		out := make([]Value, len(queued))
		for i, c := range queued {
			fn, ok := s.dialect.lookup(c.Name)
			if !ok {
				out[i] = Errorf("unknown command '%s'", c.Name)
				continue
			}
			out[i] = fn(s, c.Args)
		}
		return Array(out...)
	}
	return s.Txn.Exec(s.ID, queued, func(c QueuedCommand) Value {
		fn, ok := s.dialect.lookup(c.Name)
		if !ok {
			return Errorf("unknown command '%s'", c.Name)
		}
		return fn(s, c.Args)
	})
}
