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

// Package cluster implements the cluster configuration (spec §4.9):
// an immutable peer table with copy-on-write updates guarded by
// single-word compare-and-set, 16384-slot ownership, a ban list for
// recently-removed nodes, and the Merge algorithm gossip (§4.10) uses
// to reconcile two nodes' views of the cluster.
//
// The peer table itself is a nonlockingreadmap.NonLockingReadMap, the
// teacher's own read-optimized CAS map (third_party/NonLockingReadMap,
// vendored here as internal/concurrent/nonlockingreadmap): "read often,
// write rarely" is exactly the cluster config's access pattern (every
// command touches Owns/Redirect; AddWorker/RemoveWorker/Merge are rare
// gossip-driven events), and Set/Remove already retry under CAS
// internally, matching spec §4.9's "writers retry under CAS" literally
// rather than needing a second hand-rolled retry loop on top.
package cluster

import (
	"sync/atomic"

	"github.com/nodekv/nodekv/internal/resp"
	nonlockingreadmap "github.com/nodekv/nonlockingreadmap"
)

const SlotCount = 16384

// Role is a worker's position in its replication group.
type Role uint8

const (
	RolePrimary Role = iota
	RoleReplica
)

// Worker is one cluster member as known to this node's config. Slots is
// a 16384-length ownership bitmap, only meaningful when Role is
// RolePrimary ("slot ownership follows the winning primary", spec
// §4.9's Merge rule).
type Worker struct {
	NodeID      string
	Address     string
	Role        Role
	PrimaryID   string // set when Role == RoleReplica
	ConfigEpoch uint64
	Slots       []bool
}

// GetKey satisfies nonlockingreadmap.KeyGetter[string]. Value receiver:
// the map's type parameter is instantiated as Worker, not *Worker, so
// GetKey/ComputeSize must live in Worker's own method set.
func (w Worker) GetKey() string { return w.NodeID }

// ComputeSize satisfies nonlockingreadmap.Sizable with a rough estimate
// (fixed struct overhead plus the slot bitmap), matching the teacher's
// own ComputeSize methods elsewhere (e.g. NonBlockingBitMap.ComputeSize).
func (w Worker) ComputeSize() uint {
	return 64 + uint(len(w.Address)) + uint(len(w.Slots))
}

func (w *Worker) clone() *Worker {
	c := *w
	if w.Slots != nil {
		c.Slots = append([]bool(nil), w.Slots...)
	}
	return &c
}

// banEntry records a removed node's re-admission deadline.
type banEntry struct {
	nodeID      string
	bannedUntil uint64 // tick count; see RemoveWorker
}

func (b banEntry) GetKey() string    { return b.nodeID }
func (b banEntry) ComputeSize() uint { return 32 + uint(len(b.nodeID)) }

// selfState is the local node's own identity and config epoch, swapped
// as one unit under a single atomic.Pointer CAS (the "single-word
// compare-and-set" spec §4.9 asks for at the top level, distinct from
// the peer table's own internal CAS retries).
type selfState struct {
	nodeID      string
	configEpoch uint64
}

// Config is one node's view of the cluster. All public accessors read
// a const snapshot (the peer table's current slice, or self's current
// pointer); every mutator is safe for concurrent use and never blocks.
type Config struct {
	self atomic.Pointer[selfState]

	workers nonlockingreadmap.NonLockingReadMap[Worker, string]
	banned  nonlockingreadmap.NonLockingReadMap[banEntry, string]

	migrating atomic.Pointer[map[int]string] // slot -> target node id, for ASK redirects
}

// New returns an unconfigured Config; call InitializeLocalWorker before
// using it as a resp.Router.
func New() *Config {
	c := &Config{
		workers: nonlockingreadmap.New[Worker, string](),
		banned:  nonlockingreadmap.New[banEntry, string](),
	}
	c.self.Store(&selfState{})
	empty := make(map[int]string)
	c.migrating.Store(&empty)
	return c
}

// InitializeLocalWorker sets self's identity and registers it as a
// primary with no slots yet assigned.
func (c *Config) InitializeLocalWorker(nodeID, address string) {
	c.self.Store(&selfState{nodeID: nodeID})
	c.workers.Set(&Worker{NodeID: nodeID, Address: address, Role: RolePrimary})
}

// SelfID returns the local node's id.
func (c *Config) SelfID() string { return c.self.Load().nodeID }

// ConfigEpoch returns the local node's current config epoch.
func (c *Config) ConfigEpoch() uint64 { return c.self.Load().configEpoch }

// BumpConfigEpoch atomically increments and returns the local config
// epoch, used before a promoted replica claims its new primary slots
// (spec §4.10 failover step "(c) bumping config-epoch").
func (c *Config) BumpConfigEpoch() uint64 {
	for {
		old := c.self.Load()
		next := &selfState{nodeID: old.nodeID, configEpoch: old.configEpoch + 1}
		if c.self.CompareAndSwap(old, next) {
			return next.configEpoch
		}
	}
}

// Worker returns a copy of the worker entry for nodeID, if known.
func (c *Config) Worker(nodeID string) (Worker, bool) {
	w := c.workers.Get(nodeID)
	if w == nil {
		return Worker{}, false
	}
	return *w, true
}

// Workers returns a snapshot of every known worker.
func (c *Config) Workers() []Worker {
	all := c.workers.GetAll()
	out := make([]Worker, len(all))
	for i, w := range all {
		out[i] = *w
	}
	return out
}

// AddWorker installs or replaces w in the peer table, unless w's node
// is currently banned.
func (c *Config) AddWorker(w Worker) {
	if c.isBanned(w.NodeID) {
		return
	}
	stored := w
	c.workers.Set(&stored)
}

// RemoveWorker evicts nodeID from the peer table and bans it from
// re-admission (via AddWorker/Merge) until expiryTicks ticks from now,
// measured on now's own tick domain (the gossip loop's tick counter).
func (c *Config) RemoveWorker(nodeID string, now, expiryTicks uint64) {
	c.workers.Remove(nodeID)
	c.banned.Set(&banEntry{nodeID: nodeID, bannedUntil: now + expiryTicks})
}

func (c *Config) isBanned(nodeID string) bool {
	b := c.banned.Get(nodeID)
	return b != nil
}

// ExpireBans drops ban entries whose deadline has passed, given the
// gossip loop's current tick. Ban entries are themselves immutable, so
// expiry is a Remove, not a field update.
func (c *Config) ExpireBans(nowTick uint64) {
	for _, b := range c.banned.GetAll() {
		if nowTick >= b.bannedUntil {
			c.banned.Remove(b.nodeID)
		}
	}
}

// MakeReplicaOf demotes the local node to a replica of primaryID.
func (c *Config) MakeReplicaOf(primaryID string) {
	id := c.SelfID()
	w := c.workers.Get(id)
	if w == nil {
		return
	}
	next := w.clone()
	next.Role = RoleReplica
	next.PrimaryID = primaryID
	next.Slots = nil
	c.workers.Set(next)
}

// ClaimSlots rewrites the local worker's slot ownership wholesale, used
// when a promoted replica "rewrit[es] the slot map to claim the primary's
// slots" (spec §4.10 failover step (c)).
func (c *Config) ClaimSlots(slots []bool) {
	id := c.SelfID()
	w := c.workers.Get(id)
	if w == nil {
		return
	}
	next := w.clone()
	next.Role = RolePrimary
	next.PrimaryID = ""
	next.Slots = append([]bool(nil), slots...)
	c.workers.Set(next)
}

// SetMigrating marks slot as being handed off to targetNodeID, so Redirect
// returns an ASK rather than a MOVED for keys in that slot until the
// handoff completes (call SetMigrating(slot, "") to clear it).
func (c *Config) SetMigrating(slot int, targetNodeID string) {
	for {
		old := c.migrating.Load()
		next := make(map[int]string, len(*old))
		for k, v := range *old {
			next[k] = v
		}
		if targetNodeID == "" {
			delete(next, slot)
		} else {
			next[slot] = targetNodeID
		}
		if c.migrating.CompareAndSwap(old, &next) {
			return
		}
	}
}

// ownerOf returns the primary worker whose Slots bitmap covers slot, if
// any is currently known.
func (c *Config) ownerOf(slot int) (Worker, bool) {
	for _, w := range c.workers.GetAll() {
		if w.Role == RolePrimary && slot < len(w.Slots) && w.Slots[slot] {
			return *w, true
		}
	}
	return Worker{}, false
}

// Owns reports whether the local node is the owning primary for key's
// slot, satisfying resp.Router.
func (c *Config) Owns(key []byte) bool {
	slot := resp.ClusterKeySlot(key)
	owner, ok := c.ownerOf(slot)
	if !ok {
		return true // no cluster topology configured yet: treat everything as local
	}
	return owner.NodeID == c.SelfID()
}

// Redirect resolves the address a client should be pointed at for key,
// satisfying resp.Router. ask is true when the slot is mid-migration
// (SetMigrating), matching Redis Cluster's ASK-vs-MOVED distinction.
func (c *Config) Redirect(key []byte) (addr string, ask bool) {
	slot := resp.ClusterKeySlot(key)
	if target := (*c.migrating.Load())[slot]; target != "" {
		if w, ok := c.Worker(target); ok {
			return w.Address, true
		}
	}
	owner, ok := c.ownerOf(slot)
	if !ok {
		return "", false
	}
	return owner.Address, false
}

// Merge reconciles an incoming peer's config (received over gossip)
// into this one: per worker, the side with the higher ConfigEpoch wins;
// the local node's own entry is always preserved untouched; banned
// nodes are never re-admitted (spec §4.9's Merge rule, verbatim).
func (c *Config) Merge(incoming []Worker) {
	selfID := c.SelfID()
	for _, w := range incoming {
		if w.NodeID == selfID {
			continue
		}
		if c.isBanned(w.NodeID) {
			continue
		}
		existing := c.workers.Get(w.NodeID)
		if existing == nil || w.ConfigEpoch > existing.ConfigEpoch {
			stored := w
			c.workers.Set(&stored)
		}
	}
}
