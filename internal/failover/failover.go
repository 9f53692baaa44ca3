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

// Package failover implements the replica-driven promotion state
// machine of spec §4.10:
//
//	NoFailover -> IssuingPauseWrites -> WaitingForSync ->
//	TakingOverAsPrimary -> AttachingReplicas -> NoFailover
//
// State tracking follows storage/transaction.go's TxState shape (a
// small uint8 enum with a String method for logging), generalized from
// a three-state commit lifecycle to a five-state promotion lifecycle.
package failover

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nodekv/nodekv/internal/cluster"
)

// State is one step of the promotion lifecycle.
type State uint8

const (
	NoFailover State = iota
	IssuingPauseWrites
	WaitingForSync
	TakingOverAsPrimary
	AttachingReplicas
)

func (s State) String() string {
	switch s {
	case NoFailover:
		return "NoFailover"
	case IssuingPauseWrites:
		return "IssuingPauseWrites"
	case WaitingForSync:
		return "WaitingForSync"
	case TakingOverAsPrimary:
		return "TakingOverAsPrimary"
	case AttachingReplicas:
		return "AttachingReplicas"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Mode selects how strict the promotion is about primary reachability
// and replica catch-up.
type Mode uint8

const (
	// Default requires the primary to be reachable and the local
	// replication offset to catch up to the primary's before taking
	// over.
	Default Mode = iota
	// Force skips the catch-up wait (WaitingForSync), taking over as
	// soon as the primary's offset is known. Like Default, it still
	// needs the primary to answer: an unreachable primary fails it.
	Force
	// Takeover skips contacting the primary entirely (no vote, no
	// pause-and-offset round trip) and promotes unconditionally.
	Takeover
)

// PrimaryLink is what the FSM needs from the connection to the primary
// being failed over from: pause its writes and report back its current
// replication offset.
type PrimaryLink interface {
	PauseWritesAndOffset(ctx context.Context) (offset uint64, err error)
}

// Broadcaster announces the post-promotion topology to the rest of the
// cluster. In cmd/nodekv-server it is the clusterAdapter: BroadcastConfig
// triggers an immediate full-config gossip round, and SendReplicaOf only
// logs the new primary (no remote reparent call is made).
type Broadcaster interface {
	BroadcastConfig(workers []cluster.Worker)
	SendReplicaOf(nodeID, newPrimaryID string)
}

// FSM drives one node's promotion-from-replica state machine over a
// shared cluster.Config. Only one failover runs at a time; a concurrent
// Begin call while one is already in flight returns false immediately.
type FSM struct {
	config *cluster.Config
	state  atomic.Uint32
	mu     sync.Mutex
}

// New returns an FSM in state NoFailover.
func New(config *cluster.Config) *FSM {
	return &FSM{config: config}
}

// State returns the FSM's current step.
func (f *FSM) State() State { return State(f.state.Load()) }

func (f *FSM) setState(s State) { f.state.Store(uint32(s)) }

// Begin drives the replica-side promotion described in spec §4.10:
//
//	(a) pause primary writes and receive its replication offset
//	(b) wait until localOffset() reaches that value, or timeout
//	(c) bump config-epoch and claim the old primary's slots
//	(d) broadcast the new config and send ReplicaOf to the remaining
//	    replicas (and, in Default mode, the demoted old primary)
//
// It returns true on a completed promotion, false if it timed out, the
// primary was unreachable (Default/Force only), or a failover was
// already in progress. The FSM always resets to NoFailover before
// returning, matching spec §5's "on expiry the state machine returns
// false and resets to NoFailover".
func (f *FSM) Begin(ctx context.Context, mode Mode, primary PrimaryLink, localOffset func() uint64, broadcaster Broadcaster, remainingReplicas []string, timeout time.Duration) bool {
	if !f.mu.TryLock() {
		return false
	}
	defer f.mu.Unlock()
	defer f.setState(NoFailover)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	selfID := f.config.SelfID()
	self, ok := f.config.Worker(selfID)
	if !ok {
		return false
	}
	oldPrimaryID := self.PrimaryID

	var targetOffset uint64
	if mode != Takeover {
		f.setState(IssuingPauseWrites)
		if primary == nil {
			return false
		}
		off, err := primary.PauseWritesAndOffset(ctx)
		if err != nil {
			return false
		}
		targetOffset = off
	}

	if mode == Default {
		f.setState(WaitingForSync)
		for localOffset() < targetOffset {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(10 * time.Millisecond):
			}
		}
	}

	f.setState(TakingOverAsPrimary)
	var slots []bool
	if oldPrimary, ok := f.config.Worker(oldPrimaryID); ok {
		slots = oldPrimary.Slots
	}
	f.config.BumpConfigEpoch()
	f.config.ClaimSlots(slots)

	f.setState(AttachingReplicas)
	if broadcaster != nil {
		broadcaster.BroadcastConfig(f.config.Workers())
		for _, r := range remainingReplicas {
			broadcaster.SendReplicaOf(r, selfID)
		}
		if mode == Default && oldPrimaryID != "" {
			broadcaster.SendReplicaOf(oldPrimaryID, selfID)
		}
	}
	return true
}
