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

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/nodekv/nodekv/internal/cluster"
	"github.com/nodekv/nodekv/internal/gossip"
)

// upgrader is shared across all incoming gossip connections, mirroring
// scm/network.go's "websocket" endpoint: a fixed buffer size and an
// open CheckOrigin (peers dial in by address, not by browser origin).
var upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096}

func init() { upgrader.CheckOrigin = func(r *http.Request) bool { return true } }

// gossipServer upgrades incoming /gossip requests to a websocket and
// hands the connection to a gossip.Store, the same upgrade-then-spawn-
// read-loop shape as scm/network.go's "websocket" callback (see
// internal/gossip's package doc for the full grounding).
type gossipServer struct {
	store *gossip.Store
	cfg   *cluster.Config
}

func (g *gossipServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	nodeID := r.URL.Query().Get("node")
	if nodeID == "" {
		http.Error(w, "missing node query parameter", http.StatusBadRequest)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("nodekv: gossip: upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	conn := g.store.Add(nodeID, ws)
	log.Printf("nodekv: gossip: accepted connection from node %s (%s)", nodeID, r.RemoteAddr)
	gossip.StartReadLoop(context.Background(), conn, g.cfg, func() {
		g.store.Remove(nodeID)
		log.Printf("nodekv: gossip: connection from node %s closed", nodeID)
	})
}

// dialPeer opens an outbound gossip connection to a peer's gossip
// listen address (the same host:port named by -join or CLUSTER MEET),
// registering it in store so the periodic Exchanger can pick it for its
// round-robin send.
func dialPeer(ctx context.Context, store *gossip.Store, cfg *cluster.Config, selfID, peerAddr string) error {
	url := fmt.Sprintf("ws://%s/gossip?node=%s", peerAddr, selfID)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	// The peer's node id isn't known locally until its config arrives
	// over this very connection and Merge admits it; the connection
	// itself is keyed by its dial address in the meantime so the
	// Exchanger has something to send to right away.
	conn := store.Add(peerAddr, ws)
	gossip.StartReadLoop(ctx, conn, cfg, func() { store.Remove(peerAddr) })
	return nil
}
