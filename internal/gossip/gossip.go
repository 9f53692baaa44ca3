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

// Package gossip implements the peer connection store and periodic
// config-exchange task of spec §4.10: each local node keeps one
// websocket per remote node id, and a background task periodically
// picks a connection, ships the local cluster config (or an empty ping
// when it hasn't changed since the last send), and merges whatever the
// peer sends back.
//
// The connection itself is grounded on scm/network.go's own websocket
// wiring (HttpServer's "websocket" callback): a dedicated read-loop
// goroutine guarded by recover, and a send-side mutex serializing
// WriteMessage calls, since gorilla/websocket forbids concurrent
// writers on one connection.
package gossip

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jtolds/gls"
	"github.com/nodekv/nodekv/internal/cluster"
)

// wireWorker is the JSON form of cluster.Worker exchanged between
// nodes; cluster.Worker itself carries no struct tags, so gossip keeps
// its own wire type rather than exporting tags the rest of the package
// has no use for.
type wireWorker struct {
	NodeID      string `json:"node_id"`
	Address     string `json:"address"`
	Role        uint8  `json:"role"`
	PrimaryID   string `json:"primary_id,omitempty"`
	ConfigEpoch uint64 `json:"config_epoch"`
	Slots       []bool `json:"slots,omitempty"`
}

func toWire(w cluster.Worker) wireWorker {
	return wireWorker{
		NodeID:      w.NodeID,
		Address:     w.Address,
		Role:        uint8(w.Role),
		PrimaryID:   w.PrimaryID,
		ConfigEpoch: w.ConfigEpoch,
		Slots:       w.Slots,
	}
}

func fromWire(w wireWorker) cluster.Worker {
	return cluster.Worker{
		NodeID:      w.NodeID,
		Address:     w.Address,
		Role:        cluster.Role(w.Role),
		PrimaryID:   w.PrimaryID,
		ConfigEpoch: w.ConfigEpoch,
		Slots:       w.Slots,
	}
}

// Stats are the per-connection counters spec §4.10 asks gossip to
// record ("bytes in/out and full/empty send counts").
type Stats struct {
	BytesIn    atomic.Uint64
	BytesOut   atomic.Uint64
	FullSends  atomic.Uint64
	EmptySends atomic.Uint64
}

// Conn is one gossip link to a remote node.
type Conn struct {
	NodeID string
	ws     *websocket.Conn
	sendMu sync.Mutex
	Stats  Stats

	lastSentEpoch atomic.Int64 // config epoch of the last full send; -1 means "never sent"
}

func newConn(nodeID string, ws *websocket.Conn) *Conn {
	c := &Conn{NodeID: nodeID, ws: ws}
	c.lastSentEpoch.Store(-1)
	return c
}

// send writes msg as one websocket text frame, serialized against
// concurrent senders on the same connection.
func (c *Conn) send(msg []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		return err
	}
	c.Stats.BytesOut.Add(uint64(len(msg)))
	return nil
}

// Store is the connection store of spec §4.10: "a connection store
// keyed by remote node-id". Per spec §5's resource model ("single-
// writer/multi-reader lock during insertion; readers use reader
// locks"), it is guarded by a plain sync.RWMutex rather than
// cluster.Config's lock-free map — the connection store's entries are
// live network connections, not immutable snapshots, so there is
// nothing for a CAS-swap to usefully copy.
type Store struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewStore() *Store {
	return &Store{conns: make(map[string]*Conn)}
}

// Add registers ws as the connection for nodeID, replacing any prior
// connection for the same node.
func (s *Store) Add(nodeID string, ws *websocket.Conn) *Conn {
	c := newConn(nodeID, ws)
	s.mu.Lock()
	s.conns[nodeID] = c
	s.mu.Unlock()
	return c
}

// Remove drops nodeID's connection, if any.
func (s *Store) Remove(nodeID string) {
	s.mu.Lock()
	delete(s.conns, nodeID)
	s.mu.Unlock()
}

// Get returns nodeID's current connection, if one is open.
func (s *Store) Get(nodeID string) (*Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[nodeID]
	return c, ok
}

// All returns a snapshot of every currently open connection.
func (s *Store) All() []*Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

// pingMessage is sent in place of a full config payload when nothing
// has changed since the last full send to that peer.
type pingMessage struct {
	Ping bool `json:"ping"`
}

// Exchanger drives the periodic gossip task against one cluster.Config,
// picking a connection from a Store every interval, sending the local
// config (or an empty ping if unchanged since the last send to that
// peer), and merging whatever comes back.
type Exchanger struct {
	config *cluster.Config
	conns  *Store
	next   atomic.Uint64 // round-robin cursor into conns.All()
}

func NewExchanger(config *cluster.Config, conns *Store) *Exchanger {
	return &Exchanger{config: config, conns: conns}
}

// Start spawns Run on a dedicated background worker via gls.Go, so the
// gossip task's goroutine-local state (request-scoped log fields, etc.)
// is inherited from the caller the way the teacher's own worker pools
// propagate it (storage/compute.go, storage/partition.go,
// storage/scan.go all spawn their shard workers through gls.Go rather
// than a bare `go`). Matches spec §5's "Background tasks (gossip,
// monitor, failover, checkpoint streaming) run on dedicated workers".
func (e *Exchanger) Start(ctx context.Context, interval time.Duration) {
	gls.Go(func() { e.Run(ctx, interval) })
}

// Run loops every interval until ctx is cancelled, performing one
// gossip exchange per tick.
func (e *Exchanger) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick performs one round-robin pick-and-exchange; kept as its own
// step so in-package callers can drive it without a real ticker.
func (e *Exchanger) tick() {
	conns := e.conns.All()
	if len(conns) == 0 {
		return
	}
	idx := e.next.Add(1) % uint64(len(conns))
	e.exchangeWith(conns[idx])
}

// BroadcastNow pushes a full config send to every open connection,
// ignoring the per-peer "unchanged since last send" ping shortcut —
// used right after a failover promotion (spec §4.10 step "(d) broadcast
// the new config") to propagate the new topology immediately rather
// than waiting for each peer's next round-robin turn.
func (e *Exchanger) BroadcastNow() {
	for _, c := range e.conns.All() {
		c.lastSentEpoch.Store(-1)
		e.exchangeWith(c)
	}
}

func (e *Exchanger) exchangeWith(c *Conn) error {
	epoch := e.config.ConfigEpoch()
	var payload []byte
	var err error
	if int64(epoch) == c.lastSentEpoch.Load() {
		payload, err = json.Marshal(pingMessage{Ping: true})
		c.Stats.EmptySends.Add(1)
	} else {
		workers := e.config.Workers()
		wire := make([]wireWorker, len(workers))
		for i, w := range workers {
			wire[i] = toWire(w)
		}
		payload, err = json.Marshal(wire)
		c.Stats.FullSends.Add(1)
		c.lastSentEpoch.Store(int64(epoch))
	}
	if err != nil {
		return err
	}
	return c.send(payload)
}

// HandleIncoming decodes one received gossip payload and merges it into
// config. An empty ping payload is a no-op beyond accounting.
func HandleIncoming(config *cluster.Config, stats *Stats, payload []byte) error {
	stats.BytesIn.Add(uint64(len(payload)))

	var ping pingMessage
	if json.Unmarshal(payload, &ping) == nil && ping.Ping {
		return nil
	}

	var wire []wireWorker
	if err := json.Unmarshal(payload, &wire); err != nil {
		return err
	}
	workers := make([]cluster.Worker, len(wire))
	for i, w := range wire {
		workers[i] = fromWire(w)
	}
	config.Merge(workers)
	return nil
}

// StartReadLoop spawns ReadLoop on a dedicated background worker via
// gls.Go (see Start's doc comment for why gls.Go rather than a bare
// `go` statement).
func StartReadLoop(ctx context.Context, c *Conn, config *cluster.Config, onClose func()) {
	gls.Go(func() { ReadLoop(ctx, c, config, onClose) })
}

// ReadLoop runs c's receive side until the connection closes or ctx is
// cancelled, calling HandleIncoming for every message and onClose once
// the loop exits for any reason. Grounded on scm/network.go's websocket
// read-loop goroutine: recover-guarded, runs until ReadMessage errors.
func ReadLoop(ctx context.Context, c *Conn, config *cluster.Config, onClose func()) {
	defer func() {
		recover()
		if onClose != nil {
			onClose()
		}
	}()
	for {
		if ctx.Err() != nil {
			return
		}
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		HandleIncoming(config, &c.Stats, msg)
	}
}
