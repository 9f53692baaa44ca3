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

// Package txn implements the transaction manager (spec §4.8): MULTI/EXEC
// over the main store, with WATCH-based optimistic concurrency and
// canonical-order key locking so concurrent EXECs touching overlapping
// keys can never deadlock each other.
//
// The commit-time shape (sort touched keys into a deterministic order,
// lock them all, validate, apply, unlock) is grounded directly on
// storage/transaction.go's commitACID: that function sorts touched
// shards by UUID before locking them, validates each DeleteMask entry
// against the shard's live deletions bitmap, and aborts the whole
// transaction on the first conflict rather than partially applying it.
// Here the "shards" are individual keys (hashed, not UUID-sorted, since
// spec §4.8 explicitly asks for "key hash ascending" order) and the
// "DeleteMask conflict check" becomes a WATCH version comparison.
//
// Manager imports internal/resp for QueuedCommand/Value so it can
// satisfy resp.TxnManager directly; this is a one-way dependency (resp
// never imports txn — Session.Txn is typed as the resp.TxnManager
// interface and wired in by cmd/nodekv-server), so no import cycle
// results.
package txn

import (
	"sort"
	"sync"

	"github.com/nodekv/nodekv/internal/hashindex"
	"github.com/nodekv/nodekv/internal/resp"
)

// KeyVersioner is the subset of *kernel.Kernel the manager needs: a
// per-key write-version counter to implement WATCH. Kept as an
// interface so this package can be unit-tested without a real Kernel.
type KeyVersioner interface {
	KeyVersion(key []byte) uint64
}

type watchEntry struct {
	key     []byte
	version uint64
}

// Manager implements spec §4.8's MULTI/EXEC/WATCH flow over one Kernel.
type Manager struct {
	versions   KeyVersioner
	routingKey func(name string, args [][]byte) (key []byte, ok bool)

	mu      sync.Mutex
	watches map[int32]map[uint64]watchEntry // sessionID -> key hash -> (key, version snapshot)

	locksMu sync.Mutex
	locks   map[uint64]*sync.Mutex // key hash -> its canonical-order lock, created lazily and kept forever
}

// NewManager constructs a Manager over versions (normally a
// *kernel.Kernel) using routingKey (normally the server's
// *resp.Dispatcher routing-key lookup) to find each queued command's
// key.
func NewManager(versions KeyVersioner, routingKey func(name string, args [][]byte) (key []byte, ok bool)) *Manager {
	return &Manager{
		versions:   versions,
		routingKey: routingKey,
		watches:    make(map[int32]map[uint64]watchEntry),
		locks:      make(map[uint64]*sync.Mutex),
	}
}

// Watch records the current version of each key for sessionID, to be
// checked again at EXEC time.
func (m *Manager) Watch(sessionID int32, keys [][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot, ok := m.watches[sessionID]
	if !ok {
		snapshot = make(map[uint64]watchEntry)
		m.watches[sessionID] = snapshot
	}
	for _, k := range keys {
		h := hashindex.Hash64(k)
		snapshot[h] = watchEntry{key: k, version: m.versions.KeyVersion(k)}
	}
}

// Unwatch discards sessionID's watched keys (DISCARD, or EXEC having
// run, clears watches per Redis's own WATCH semantics).
func (m *Manager) Unwatch(sessionID int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watches, sessionID)
}

func (m *Manager) lockFor(h uint64) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[h]
	if !ok {
		l = new(sync.Mutex)
		m.locks[h] = l
	}
	return l
}

// Exec runs queued under canonical-order (key hash ascending, per spec
// §4.8) locks covering both the queued commands' own routing keys and
// any key the session WATCHed. If a watched key's version has advanced
// since the WATCH, it aborts without running anything and returns a
// null array (Redis's own EXEC-abort-on-dirty-watch reply); otherwise
// it calls run for each queued command in order and returns the
// aggregated array reply. Watches for sessionID are cleared either way,
// matching Redis's "EXEC always clears WATCH" rule.
func (m *Manager) Exec(sessionID int32, queued []resp.QueuedCommand, run func(resp.QueuedCommand) resp.Value) resp.Value {
	defer m.Unwatch(sessionID)

	touched := make(map[uint64][]byte)
	if m.routingKey != nil {
		for _, c := range queued {
			if key, found := m.routingKey(c.Name, c.Args); found {
				touched[hashindex.Hash64(key)] = key
			}
		}
	}

	m.mu.Lock()
	watched := m.watches[sessionID]
	for h, entry := range watched {
		if _, already := touched[h]; !already {
			touched[h] = entry.key
		}
	}
	m.mu.Unlock()

	hashes := make([]uint64, 0, len(touched))
	for h := range touched {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })

	for _, h := range hashes {
		m.lockFor(h).Lock()
	}
	defer func() {
		for i := len(hashes) - 1; i >= 0; i-- {
			m.lockFor(hashes[i]).Unlock()
		}
	}()

	for _, entry := range watched {
		if m.versions.KeyVersion(entry.key) != entry.version {
			return resp.NullArray()
		}
	}

	results := make([]resp.Value, len(queued))
	for i, c := range queued {
		results[i] = run(c)
	}
	return resp.Array(results...)
}
