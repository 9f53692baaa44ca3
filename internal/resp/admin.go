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

import "time"

// ClusterAdmin carries spec §6's internal cluster RPC subcommands, sent
// over the same RESP wire as client commands but between nodes rather
// than from a client: CLUSTER GOSSIP/GOSSIP WITHMEET (config exchange),
// CLUSTER failstopwrites/failauthreq/failreplicationoffset (the
// failover handshake of spec §4.10). Kept as an interface, like Router
// and TxnManager, so this package never imports internal/cluster,
// internal/gossip or internal/failover directly — cmd/nodekv-server
// wires a concrete adapter in.
type ClusterAdmin interface {
	// HandleGossip merges an incoming peer config payload; withMeet
	// additionally admits a previously unknown node (CLUSTER MEET's
	// first contact, per spec §4.9/§4.10).
	HandleGossip(payload []byte, withMeet bool) error
	// HandleFailStopWrites asks this node (believed to be the current
	// primary for the caller's slots) to pause writes and report the
	// replication offset a promoting replica must catch up to.
	HandleFailStopWrites(nodeID string) (offset uint64, err error)
	// HandleFailAuthReq asks this node to vote on a failover election
	// for epoch/slots; the reply reports whether the vote was granted.
	HandleFailAuthReq(nodeID string, epoch uint64, slots []byte) (granted bool, err error)
	// HandleFailReplicationOffset reports a promoted replica's final
	// replication offset to the rest of the cluster.
	HandleFailReplicationOffset(offset uint64) error
}

// PauseGate reports whether the server is currently refusing ordinary
// client commands during a failover's IssuingPauseWrites window (spec
// §4.10). A nil PauseGate (the default) means pausing is never
// checked, matching a single-node deployment with no failover support.
type PauseGate interface {
	Paused() bool
}

// pauseExempt commands keep working even while paused: connection and
// cluster-topology bookkeeping must not itself be blocked by the very
// failover it is trying to carry out.
var pauseExempt = map[string]bool{
	"PING": true, "ECHO": true, "HELLO": true, "AUTH": true,
	"INFO": true, "COMMAND": true, "CLUSTER": true,
}

// SessionMonitor is the per-connection counters a Session feeds traffic
// into (spec §4.11). *monitor.SessionCounters satisfies this directly.
type SessionMonitor interface {
	RecordCommand(bytesIn, bytesOut uint64)
}

// MonitorHooks registers/unregisters a Session's lifetime against the
// server-wide monitor and records per-command latency. Kept as an
// interface, like ClusterAdmin, so this package never imports
// internal/monitor directly — cmd/nodekv-server adapts a *monitor.Monitor
// to this shape (RegisterSession's concrete *SessionCounters return type
// doesn't itself satisfy the interface method signature below, so the
// adapter exists to convert it).
type MonitorHooks interface {
	RegisterSession(sessionID int32) SessionMonitor
	UnregisterSession(sessionID int32)
	RecordLatency(command string, d time.Duration)
}

// approxArgsSize and approxValueSize estimate a command's or reply's wire footprint for traffic
// accounting, rather than threading a byte-counting reader/writer
// through the hot command-loop path.
func approxArgsSize(name string, args [][]byte) uint64 {
	n := uint64(len(name))
	for _, a := range args {
		n += uint64(len(a)) + 2
	}
	return n
}

func approxValueSize(v Value) uint64 {
	switch v.Kind {
	case KindBulk:
		if v.BulkNull {
			return 5
		}
		return uint64(len(v.Bulk)) + 2
	case KindArray:
		if v.ArrayNull {
			return 5
		}
		n := uint64(4)
		for _, e := range v.Array {
			n += approxValueSize(e)
		}
		return n
	case KindSimple, KindError:
		return uint64(len(v.Str)) + 3
	default:
		return 16
	}
}
