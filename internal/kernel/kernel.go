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

// Package kernel is the store kernel (spec §4.4): Read, Upsert, RMW and
// Delete over a hash-indexed, log-structured record store, with a
// pending-I/O model for chain hops that land on a page evicted from
// memory, and checkpoint/recovery over the same log and index.
package kernel

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nodekv/nodekv/internal/hashindex"
	"github.com/nodekv/nodekv/internal/walog"
)

// Updater is the copy-update function an RMW caller supplies: given the
// current value (nil, found=false if the key doesn't exist yet), it
// returns the value to write, or deleteIt=true to turn the RMW into a
// tombstone.
type Updater func(current []byte, found bool) (next []byte, deleteIt bool)

// Kernel is the main-store (or object-store) kernel over one log and
// one hash index. Both stores named in spec §3 ("dual-store") are
// separate Kernel instances sharing this same implementation — the
// object store's "value" bytes happen to be serialized object.Value
// wire forms, a concern entirely owned by internal/objects.
type Kernel struct {
	log   *walog.Log
	index *hashindex.Index

	version  atomic.Uint64
	keyCount atomic.Int64
	now      func() time.Time

	// keyVersions backs WATCH (spec §4.8: "WATCH establishes a per-key-hash
	// version; EXEC fails if any watched version has advanced"). It is a
	// separate counter from the global log version since WATCH needs to
	// detect writes to one specific key, not any write anywhere in the
	// store.
	keyVersions sync.Map // map[uint64]*atomic.Uint64

	// rmwLocks serializes RMW/RMWResume pairs on the same key hash, one
	// lock per hash, created lazily and kept forever — the same shape
	// internal/txn.Manager uses for its own per-key locking. See
	// rmwLockFor.
	rmwLocksMu sync.Mutex
	rmwLocks   map[uint64]*sync.Mutex
}

// New constructs a Kernel over an already-open log and index. On a log
// with nothing appended yet, the first slot (address 0, which is
// hashindex.InvalidAddress) is filled with a placeholder record that no
// index entry points at, so every real record gets a nonzero address.
func New(log *walog.Log, index *hashindex.Index) *Kernel {
	if log.HeadAddress() == 0 {
		log.Append(encodeRecord(record{tombstone: true}))
	}
	return &Kernel{log: log, index: index, now: time.Now, rmwLocks: make(map[uint64]*sync.Mutex)}
}

// Version returns the current global log version, advanced on each
// checkpoint boundary per spec §4.4.
func (k *Kernel) Version() uint64 { return k.version.Load() }

// KeyCount approximates the number of live keys, for DBSIZE. A write
// that finds no bucket entry for the key's hash adds one, and a Delete
// of a live record subtracts one; a write whose bucket entry already
// exists (including one left by a tombstone or an expired record) does
// not add, so the count can drift below the true number of live keys.
func (k *Kernel) KeyCount() int64 { return k.keyCount.Load() }

// Flush drops every live key (FLUSHDB). It resets the hash index so no
// bucket resolves to an existing chain; the log itself is left
// untouched (records become unreachable garbage rather than being
// erased), matching the log-structured store's append-only design.
func (k *Kernel) Flush() {
	k.index.Reset()
	k.keyCount.Store(0)
	k.keyVersions.Range(func(key, _ any) bool {
		k.keyVersions.Delete(key)
		return true
	})
}

func hashKey(key []byte) uint64 { return hashindex.Hash64(key) }

// KeyVersion returns key's current write-version counter (0 if it has
// never been written), for WATCH to snapshot and later compare against.
func (k *Kernel) KeyVersion(key []byte) uint64 {
	v, ok := k.keyVersions.Load(hashKey(key))
	if !ok {
		return 0
	}
	return v.(*atomic.Uint64).Load()
}

// bumpKeyVersion increments key's write-version counter, called once per
// Upsert/RMW-write/Delete that actually mutates the key.
func (k *Kernel) bumpKeyVersion(h uint64) {
	actual, _ := k.keyVersions.LoadOrStore(h, new(atomic.Uint64))
	actual.(*atomic.Uint64).Add(1)
}

func (k *Kernel) expired(r record) bool {
	return r.expireAt != 0 && uint64(k.now().UnixNano()) >= r.expireAt
}

// resolveChain walks the hash-collision chain starting at addr looking
// for key, resolving as much as possible synchronously from cached
// pages. If it bottoms out on a page that must come from the device, it
// schedules the fetch and returns pending=true without calling
// tracker.begin/finish itself — the caller (chaseAsync, or the
// top-level op) owns exactly one begin/finish pair per external
// request regardless of how many internal hops that request takes.
func (k *Kernel) resolveChain(addr uint64, key []byte, tracker *Tracker) (out Output, pending bool) {
	for {
		if addr == hashindex.InvalidAddress || addr < k.log.BeginAddress() {
			return Output{Status: NotFound}, false
		}
		if !k.log.Cached(addr) {
			k.log.ReadEntryAsync(addr, func(entry []byte, _ uint64, err error) {
				k.continueChase(entry, err, key, tracker)
			})
			return Output{}, true
		}
		entry, _, err := k.log.ReadEntry(addr)
		if err != nil {
			return Output{Status: NotFound, Err: err}, false
		}
		rec, err := decodeRecord(entry)
		if err != nil {
			return Output{Status: NotFound, Err: err}, false
		}
		if bytes.Equal(rec.key, key) {
			if rec.tombstone || k.expired(rec) {
				return Output{Status: NotFound}, false
			}
			return Output{Status: Found, Value: append([]byte(nil), rec.value...), ExpireAt: rec.expireAt}, false
		}
		addr = rec.prev
	}
}

// continueChase runs on the device read's own completion goroutine once
// an uncached page a resolveChain hop was waiting on has arrived.
func (k *Kernel) continueChase(entry []byte, err error, key []byte, tracker *Tracker) {
	if err != nil {
		tracker.finish(Output{Status: NotFound, Err: err})
		return
	}
	rec, derr := decodeRecord(entry)
	if derr != nil {
		tracker.finish(Output{Status: NotFound, Err: derr})
		return
	}
	if bytes.Equal(rec.key, key) {
		if rec.tombstone || k.expired(rec) {
			tracker.finish(Output{Status: NotFound})
		} else {
			tracker.finish(Output{Status: Found, Value: append([]byte(nil), rec.value...), ExpireAt: rec.expireAt})
		}
		return
	}
	k.chaseAsync(rec.prev, key, tracker)
}

// chaseAsync resumes a chain walk that has already crossed one async
// boundary. It guarantees tracker.finish is called exactly once for the
// whole walk, however many further hops are needed.
func (k *Kernel) chaseAsync(addr uint64, key []byte, tracker *Tracker) {
	out, pending := k.resolveChain(addr, key, tracker)
	if !pending {
		tracker.finish(out)
	}
}

// Read looks up key. A Pending result means tracker's pending counter
// has been incremented by one; the caller drains the eventual Found/
// NotFound via tracker.CompletePending.
func (k *Kernel) Read(key []byte, tracker *Tracker) Output {
	addr, found := k.index.Lookup(hashKey(key))
	if !found {
		return Output{Status: NotFound}
	}
	out, pending := k.resolveChain(addr, key, tracker)
	if pending {
		tracker.begin()
		return Output{Status: Pending}
	}
	return out
}

// Upsert unconditionally writes value for key, superseding any prior
// record. It is never Pending: no read of the prior value is required,
// only its address (to chain the collision list), which the hash index's
// Lookup hands back.
//
// Open Question decision: true CAS-linked prev-pointer chaining (so a
// racing Upsert to the same key can never both link to the same prior
// head) is not implemented here — the Lookup-then-Append-then-Update
// sequence below can race under concurrent writers to the same key,
// losing one writer's link in the chain (the record itself is never
// lost; only its position relative to a concurrent sibling write might
// be). See DESIGN.md.
func (k *Kernel) Upsert(key, value []byte) (Output, error) {
	h := hashKey(key)
	prevAddr, existed := k.index.Lookup(h)
	rec := record{key: key, value: value, prev: prevAddr, version: k.version.Load()}
	addr, err := k.log.Append(encodeRecord(rec))
	if err != nil {
		return Output{Status: NotFound, Err: err}, err
	}
	k.index.Update(h, addr)
	if !existed {
		k.keyCount.Add(1)
	}
	k.bumpKeyVersion(h)
	return Output{Status: Ok}, nil
}

// UpsertWithExpiry is Upsert plus a metadata expiration tick, used by
// EXPIRE/PEXPIRE/SETEX-style commands.
func (k *Kernel) UpsertWithExpiry(key, value []byte, expireAt time.Time) (Output, error) {
	h := hashKey(key)
	prevAddr, existed := k.index.Lookup(h)
	rec := record{key: key, value: value, prev: prevAddr, version: k.version.Load(), expireAt: uint64(expireAt.UnixNano())}
	addr, err := k.log.Append(encodeRecord(rec))
	if err != nil {
		return Output{Status: NotFound, Err: err}, err
	}
	k.index.Update(h, addr)
	if !existed {
		k.keyCount.Add(1)
	}
	k.bumpKeyVersion(h)
	return Output{Status: Ok}, nil
}

// rmwLockFor returns key hash h's read-modify-write lock, creating it on
// first use. One lock per key hash, kept forever, the same shape
// internal/txn.Manager uses for its own canonical-order key locking.
// RMW/RMWResume hold this lock across the whole read-then-append
// sequence (including the Pending wait, if any) so two concurrent RMWs
// on the same key can never both read the same prior value and both
// write prior+delta, losing one of the updates — exactly the
// linearizable-at-record-granularity guarantee spec §5 asks for, and
// the reason INCR/DECR/INCRBY/DECRBY go through RMW rather than a
// plain Read followed by a separate Upsert.
func (k *Kernel) rmwLockFor(h uint64) *sync.Mutex {
	k.rmwLocksMu.Lock()
	defer k.rmwLocksMu.Unlock()
	l, ok := k.rmwLocks[h]
	if !ok {
		l = new(sync.Mutex)
		k.rmwLocks[h] = l
	}
	return l
}

// RMW reads the current value for key (possibly Pending), applies fn,
// and appends the result as a new record (copy-to-tail; see DESIGN.md
// for why the in-place-if-same-size fast path is not implemented).
//
// The per-key lock taken here is released by whichever of RMW or
// RMWResume ends up actually calling applyRMW: on a synchronous read it
// is this call; on a Pending read it is the later RMWResume once the
// caller's tracker has drained the completed Read. Any concurrent RMW
// on the same key blocks behind it either way, rather than interleaving
// with this one's read.
func (k *Kernel) RMW(key []byte, fn Updater, tracker *Tracker) Output {
	h := hashKey(key)
	lock := k.rmwLockFor(h)
	lock.Lock()
	read := k.Read(key, tracker)
	if read.Status == Pending {
		// The lock stays held; the caller is expected to call RMWResume
		// with the drained Output once CompletePending surfaces it,
		// which is what releases it.
		return Output{Status: Pending}
	}
	out := k.applyRMW(key, read, fn)
	lock.Unlock()
	return out
}

// RMWResume finishes an RMW whose initial Read reported Pending, once
// the caller has drained the corresponding Output via
// Tracker.CompletePending. This two-step shape (Read, then apply) keeps
// the pending-I/O contract uniform across Read/RMW instead of growing a
// second callback-chasing path. It releases the lock RMW took for key
// before returning Pending.
func (k *Kernel) RMWResume(key []byte, readResult Output, fn Updater) Output {
	h := hashKey(key)
	lock := k.rmwLockFor(h)
	out := k.applyRMW(key, readResult, fn)
	lock.Unlock()
	return out
}

func (k *Kernel) applyRMW(key []byte, read Output, fn Updater) Output {
	if read.Err != nil {
		return Output{Status: NotFound, Err: read.Err}
	}
	found := read.Status == Found
	next, deleteIt := fn(read.Value, found)
	if deleteIt {
		out, err := k.Delete(key)
		if err != nil {
			return Output{Status: NotFound, Err: err}
		}
		return out
	}
	h := hashKey(key)
	prevAddr, bucketExisted := k.index.Lookup(h)
	rec := record{key: key, value: next, prev: prevAddr, version: k.version.Load()}
	addr, err := k.log.Append(encodeRecord(rec))
	if err != nil {
		return Output{Status: NotFound, Err: err}
	}
	k.index.Update(h, addr)
	if !found && !bucketExisted {
		k.keyCount.Add(1)
	}
	k.bumpKeyVersion(h)
	return Output{Status: Ok, Value: next}
}

// liveRecordAt walks the collision chain starting at addr, the same way
// resolveChain does for Read, to confirm a live (non-tombstone,
// non-expired) record for key exists somewhere on it. Unlike Read,
// Delete's callers have no Tracker of their own to drain a Pending
// result from, so any hop that lands on an uncached page is waited out
// here on a private Tracker instead of surfacing Pending — Delete must
// know the answer before it decides whether to tombstone.
func (k *Kernel) liveRecordAt(addr uint64, key []byte) bool {
	tracker := NewTracker()
	out, pending := k.resolveChain(addr, key, tracker)
	if pending {
		tracker.begin()
		results := tracker.CompletePending(true)
		out = results[len(results)-1]
	}
	return out.Status == Found
}

// Delete appends a tombstone record for key. It reports NotFound
// (rather than Ok) when the key had no live record, matching the
// read-modify-write convention used elsewhere in the store so callers
// can distinguish "deleted something" from "nothing to delete" for
// RESP's integer reply count. A bucket tag hit alone is not enough: the
// chain is chased (liveRecordAt) to confirm a live record for key is
// actually still there, the same check Read makes, so deleting an
// already-tombstoned or expired key — or a second Delete of the same
// key — correctly reports NotFound instead of a spurious second
// tombstone and key-count decrement.
func (k *Kernel) Delete(key []byte) (Output, error) {
	h := hashKey(key)
	prevAddr, found := k.index.Lookup(h)
	if !found || !k.liveRecordAt(prevAddr, key) {
		return Output{Status: NotFound}, nil
	}
	rec := record{key: key, prev: prevAddr, version: k.version.Load(), tombstone: true}
	addr, err := k.log.Append(encodeRecord(rec))
	if err != nil {
		return Output{Status: NotFound, Err: err}, err
	}
	k.index.Update(h, addr)
	k.keyCount.Add(-1)
	k.bumpKeyVersion(h)
	return Output{Status: Ok}, nil
}
