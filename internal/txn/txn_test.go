package txn

import (
	"testing"

	"github.com/nodekv/nodekv/internal/resp"
)

type fakeVersions struct {
	m map[string]uint64
}

func newFakeVersions() *fakeVersions { return &fakeVersions{m: make(map[string]uint64)} }

func (f *fakeVersions) KeyVersion(key []byte) uint64 { return f.m[string(key)] }

func (f *fakeVersions) bump(key string) { f.m[key]++ }

func routeFirstArg(name string, args [][]byte) ([]byte, bool) {
	if len(args) == 0 {
		return nil, false
	}
	return args[0], true
}

func TestExecRunsQueuedCommandsInOrder(t *testing.T) {
	fv := newFakeVersions()
	m := NewManager(fv, routeFirstArg)

	queued := []resp.QueuedCommand{
		{Name: "SET", Args: [][]byte{[]byte("a"), []byte("1")}},
		{Name: "SET", Args: [][]byte{[]byte("b"), []byte("2")}},
	}
	var ran []string
	reply := m.Exec(1, queued, func(c resp.QueuedCommand) resp.Value {
		ran = append(ran, c.Name+":"+string(c.Args[0]))
		return resp.SimpleString("OK")
	})

	if reply.Kind != resp.KindArray || len(reply.Array) != 2 {
		t.Fatalf("Exec reply = %+v", reply)
	}
	if len(ran) != 2 || ran[0] != "SET:a" || ran[1] != "SET:b" {
		t.Fatalf("commands ran = %v", ran)
	}
}

func TestExecAbortsWhenWatchedKeyChanged(t *testing.T) {
	fv := newFakeVersions()
	m := NewManager(fv, routeFirstArg)

	m.Watch(1, [][]byte{[]byte("watched")})
	fv.bump("watched") // simulates another session writing the key

	called := false
	reply := m.Exec(1, []resp.QueuedCommand{{Name: "GET", Args: [][]byte{[]byte("watched")}}}, func(c resp.QueuedCommand) resp.Value {
		called = true
		return resp.SimpleString("OK")
	})

	if !reply.ArrayNull {
		t.Fatalf("expected null array abort reply, got %+v", reply)
	}
	if called {
		t.Fatal("expected no queued command to run after an aborted EXEC")
	}
}

func TestExecSucceedsWhenWatchedKeyUnchanged(t *testing.T) {
	fv := newFakeVersions()
	m := NewManager(fv, routeFirstArg)

	m.Watch(1, [][]byte{[]byte("watched")})

	reply := m.Exec(1, []resp.QueuedCommand{{Name: "GET", Args: [][]byte{[]byte("watched")}}}, func(c resp.QueuedCommand) resp.Value {
		return resp.SimpleString("OK")
	})

	if reply.ArrayNull {
		t.Fatal("expected EXEC to succeed when no watched key changed")
	}
}

func TestUnwatchClearsWatchesForSession(t *testing.T) {
	fv := newFakeVersions()
	m := NewManager(fv, routeFirstArg)

	m.Watch(1, [][]byte{[]byte("k")})
	m.Unwatch(1)
	fv.bump("k")

	reply := m.Exec(1, []resp.QueuedCommand{{Name: "GET", Args: [][]byte{[]byte("k")}}}, func(c resp.QueuedCommand) resp.Value {
		return resp.SimpleString("OK")
	})
	if reply.ArrayNull {
		t.Fatal("expected EXEC to succeed since WATCH was cleared before the key changed")
	}
}

func TestExecClearsWatchAfterRunning(t *testing.T) {
	fv := newFakeVersions()
	m := NewManager(fv, routeFirstArg)

	m.Watch(1, [][]byte{[]byte("k")})
	m.Exec(1, nil, func(c resp.QueuedCommand) resp.Value { return resp.Value{} })

	fv.bump("k")
	reply := m.Exec(1, nil, func(c resp.QueuedCommand) resp.Value { return resp.Value{} })
	if reply.ArrayNull {
		t.Fatal("expected second EXEC to succeed since the first EXEC already cleared the WATCH")
	}
}
