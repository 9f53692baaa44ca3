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

// CommandFunc executes one command against a session's stores and
// returns the reply to encode.
type CommandFunc func(s *Session, args [][]byte) Value

type commandEntry struct {
	fn       CommandFunc
	keyIndex int // index into args naming the routing key, -1 if none
}

// Dispatcher is the command table spec §9 asks to be "constructed once
// at server startup and passed as a struct" rather than held in package
// globals: one Dispatcher is shared read-only across every Session.
type Dispatcher struct {
	commands map[string]commandEntry
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{commands: make(map[string]commandEntry)}
}

// Register binds name (already upper-cased) to fn. keyIndex names which
// argument (0-based, after the command name) is the routing key for
// cluster slot ownership checks; pass -1 for commands with no single
// routable key (administrative commands, MULTI/EXEC, CLUSTER).
func (d *Dispatcher) Register(name string, keyIndex int, fn CommandFunc) {
	d.commands[name] = commandEntry{fn: fn, keyIndex: keyIndex}
}

func (d *Dispatcher) lookup(name string) (CommandFunc, bool) {
	e, ok := d.commands[name]
	if !ok {
		return nil, false
	}
	return e.fn, true
}

func (d *Dispatcher) routingKey(name string, args [][]byte) ([]byte, bool) {
	e, ok := d.commands[name]
	if !ok || e.keyIndex < 0 || e.keyIndex >= len(args) {
		return nil, false
	}
	return args[e.keyIndex], true
}

// RoutingKey is the exported form of routingKey, for callers outside
// this package that need the same lookup — namely
// txn.NewManager's routingKey argument, so the transaction manager
// locks commands in terms of the same key the cluster router uses.
func (d *Dispatcher) RoutingKey(name string, args [][]byte) ([]byte, bool) {
	return d.routingKey(name, args)
}
