package failover

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nodekv/nodekv/internal/cluster"
)

func allSlots() []bool {
	s := make([]bool, cluster.SlotCount)
	for i := range s {
		s[i] = true
	}
	return s
}

func newReplicaConfig() *cluster.Config {
	c := cluster.New()
	c.InitializeLocalWorker("replica-1", "127.0.0.1:7002")
	c.AddWorker(cluster.Worker{NodeID: "primary-1", Address: "127.0.0.1:7000", Role: cluster.RolePrimary, Slots: allSlots()})
	c.MakeReplicaOf("primary-1")
	return c
}

type fakePrimary struct {
	offset uint64
	err    error
}

func (p *fakePrimary) PauseWritesAndOffset(ctx context.Context) (uint64, error) {
	return p.offset, p.err
}

type fakeBroadcaster struct {
	broadcasts  int
	replicaOfTo []string
}

func (b *fakeBroadcaster) BroadcastConfig(workers []cluster.Worker) { b.broadcasts++ }
func (b *fakeBroadcaster) SendReplicaOf(nodeID, newPrimaryID string) {
	b.replicaOfTo = append(b.replicaOfTo, nodeID+"->"+newPrimaryID)
}

func TestBeginDefaultModePromotesAfterCatchUp(t *testing.T) {
	cfg := newReplicaConfig()
	fsm := New(cfg)

	var localOffset uint64
	primary := &fakePrimary{offset: 100}
	bc := &fakeBroadcaster{}

	done := make(chan bool, 1)
	go func() {
		done <- fsm.Begin(context.Background(), Default, primary, func() uint64 { return localOffset }, bc, []string{"replica-2"}, time.Second)
	}()

	// Give the FSM a moment to reach WaitingForSync, then let it catch up.
	time.Sleep(20 * time.Millisecond)
	localOffset = 100

	if ok := <-done; !ok {
		t.Fatal("expected Begin to succeed once localOffset caught up")
	}

	w, found := cfg.Worker("replica-1")
	if !found || w.Role != cluster.RolePrimary {
		t.Fatalf("expected replica-1 promoted to primary, got %+v", w)
	}
	if bc.broadcasts != 1 {
		t.Fatalf("broadcasts = %d, want 1", bc.broadcasts)
	}
	wantReplicaOf := []string{"replica-2->replica-1", "primary-1->replica-1"}
	if len(bc.replicaOfTo) != len(wantReplicaOf) {
		t.Fatalf("SendReplicaOf targets = %v, want %v", bc.replicaOfTo, wantReplicaOf)
	}
	for i, want := range wantReplicaOf {
		if bc.replicaOfTo[i] != want {
			t.Fatalf("SendReplicaOf[%d] = %q, want %q", i, bc.replicaOfTo[i], want)
		}
	}
	if fsm.State() != NoFailover {
		t.Fatalf("state after Begin = %v, want NoFailover", fsm.State())
	}
}

func TestBeginTakeoverSkipsPrimaryContact(t *testing.T) {
	cfg := newReplicaConfig()
	fsm := New(cfg)
	bc := &fakeBroadcaster{}

	ok := fsm.Begin(context.Background(), Takeover, nil, func() uint64 { return 0 }, bc, nil, time.Second)
	if !ok {
		t.Fatal("expected Takeover to succeed without a PrimaryLink")
	}
	w, _ := cfg.Worker("replica-1")
	if w.Role != cluster.RolePrimary {
		t.Fatalf("expected promotion, got %+v", w)
	}
}

func TestBeginFailsWhenPrimaryUnreachable(t *testing.T) {
	cfg := newReplicaConfig()
	fsm := New(cfg)
	primary := &fakePrimary{err: errors.New("unreachable")}

	ok := fsm.Begin(context.Background(), Default, primary, func() uint64 { return 0 }, &fakeBroadcaster{}, nil, time.Second)
	if ok {
		t.Fatal("expected Begin to fail when the primary is unreachable")
	}
	if fsm.State() != NoFailover {
		t.Fatalf("state after failed Begin = %v, want NoFailover", fsm.State())
	}
	w, _ := cfg.Worker("replica-1")
	if w.Role != cluster.RoleReplica {
		t.Fatal("expected no promotion on failure")
	}
}

func TestBeginTimesOutWaitingForSync(t *testing.T) {
	cfg := newReplicaConfig()
	fsm := New(cfg)
	primary := &fakePrimary{offset: 1000}

	ok := fsm.Begin(context.Background(), Default, primary, func() uint64 { return 0 }, &fakeBroadcaster{}, nil, 50*time.Millisecond)
	if ok {
		t.Fatal("expected Begin to time out and fail")
	}
	if fsm.State() != NoFailover {
		t.Fatalf("state after timeout = %v, want NoFailover", fsm.State())
	}
}

func TestBeginRejectsConcurrentFailover(t *testing.T) {
	cfg := newReplicaConfig()
	fsm := New(cfg)
	primary := &fakePrimary{offset: 1000}

	firstStarted := make(chan struct{})
	firstDone := make(chan bool, 1)
	go func() {
		close(firstStarted)
		firstDone <- fsm.Begin(context.Background(), Default, primary, func() uint64 { return 0 }, &fakeBroadcaster{}, nil, 200*time.Millisecond)
	}()
	<-firstStarted
	time.Sleep(10 * time.Millisecond)

	if ok := fsm.Begin(context.Background(), Takeover, nil, func() uint64 { return 0 }, &fakeBroadcaster{}, nil, time.Second); ok {
		t.Fatal("expected second concurrent Begin to be rejected")
	}
	<-firstDone
}
