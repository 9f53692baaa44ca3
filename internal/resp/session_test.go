package resp

import (
	"bufio"
	"net"
	"strings"
	"testing"

	"github.com/nodekv/nodekv/internal/device"
	"github.com/nodekv/nodekv/internal/hashindex"
	"github.com/nodekv/nodekv/internal/kernel"
	"github.com/nodekv/nodekv/internal/objects"
	"github.com/nodekv/nodekv/internal/walog"
)

func newTestKernel(t *testing.T) *kernel.Kernel {
	t.Helper()
	dir := t.TempDir()
	dev, err := device.NewFileDevice(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dev.Close() })
	log := walog.Open(dev, 4096, 0, 0)
	idx := hashindex.New(8)
	return kernel.New(log, idx)
}

// serveOverPipe starts a Session on one end of an in-memory net.Pipe and
// returns the other end for the test to drive as a client.
func serveOverPipe(t *testing.T) (net.Conn, *kernel.Kernel, *objects.Store) {
	t.Helper()
	client, server := net.Pipe()
	main := newTestKernel(t)
	objs := objects.NewStore()
	d := NewDefaultDispatcher()
	s := NewSession(server, main, objs, d)
	go s.Serve()
	t.Cleanup(func() { client.Close() })
	return client, main, objs
}

func sendCommand(t *testing.T, w *bufio.Writer, parts ...string) {
	t.Helper()
	args := make([]Value, len(parts))
	for i, p := range parts {
		args[i] = BulkString([]byte(p))
	}
	if err := Encode(w, Array(args...)); err != nil {
		t.Fatalf("encode command: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestSessionSetGetRoundTrip(t *testing.T) {
	client, _, _ := serveOverPipe(t)
	w := bufio.NewWriter(client)
	r := bufio.NewReader(client)

	sendCommand(t, w, "SET", "foo", "bar")
	reply, err := Decode(r)
	if err != nil {
		t.Fatalf("decode SET reply: %v", err)
	}
	if reply.Kind != KindSimple || reply.Str != "OK" {
		t.Fatalf("SET reply = %+v", reply)
	}

	sendCommand(t, w, "GET", "foo")
	reply, err = Decode(r)
	if err != nil {
		t.Fatalf("decode GET reply: %v", err)
	}
	if reply.Kind != KindBulk || string(reply.Bulk) != "bar" {
		t.Fatalf("GET reply = %+v", reply)
	}
}

func TestSessionGetMissingKeyIsNullBulk(t *testing.T) {
	client, _, _ := serveOverPipe(t)
	w := bufio.NewWriter(client)
	r := bufio.NewReader(client)

	sendCommand(t, w, "GET", "ghost")
	reply, err := Decode(r)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reply.BulkNull {
		t.Fatalf("expected null bulk, got %+v", reply)
	}
}

func TestSessionIncrDecr(t *testing.T) {
	client, _, _ := serveOverPipe(t)
	w := bufio.NewWriter(client)
	r := bufio.NewReader(client)

	sendCommand(t, w, "INCR", "counter")
	reply, _ := Decode(r)
	if reply.Kind != KindInteger || reply.Int != 1 {
		t.Fatalf("INCR reply = %+v", reply)
	}

	sendCommand(t, w, "INCRBY", "counter", "9")
	reply, _ = Decode(r)
	if reply.Int != 10 {
		t.Fatalf("INCRBY reply = %+v", reply)
	}

	sendCommand(t, w, "DECR", "counter")
	reply, _ = Decode(r)
	if reply.Int != 9 {
		t.Fatalf("DECR reply = %+v", reply)
	}
}

func TestSessionMultiExecScenario(t *testing.T) {
	client, _, _ := serveOverPipe(t)
	w := bufio.NewWriter(client)
	r := bufio.NewReader(client)

	sendCommand(t, w, "MULTI")
	reply, _ := Decode(r)
	if reply.Str != "OK" {
		t.Fatalf("MULTI reply = %+v", reply)
	}

	sendCommand(t, w, "SET", "a", "1")
	reply, _ = Decode(r)
	if reply.Str != "QUEUED" {
		t.Fatalf("queued SET reply = %+v", reply)
	}

	sendCommand(t, w, "SET", "b", "2")
	reply, _ = Decode(r)
	if reply.Str != "QUEUED" {
		t.Fatalf("queued SET reply = %+v", reply)
	}

	sendCommand(t, w, "EXEC")
	reply, err := Decode(r)
	if err != nil {
		t.Fatalf("decode EXEC reply: %v", err)
	}
	if reply.Kind != KindArray || len(reply.Array) != 2 {
		t.Fatalf("EXEC reply = %+v", reply)
	}
	for _, v := range reply.Array {
		if v.Kind != KindSimple || v.Str != "OK" {
			t.Fatalf("EXEC element = %+v", v)
		}
	}

	sendCommand(t, w, "GET", "a")
	reply, _ = Decode(r)
	if string(reply.Bulk) != "1" {
		t.Fatalf("GET a after EXEC = %+v", reply)
	}
}

func TestSessionZAddZRangeByScoreScenario(t *testing.T) {
	client, _, _ := serveOverPipe(t)
	w := bufio.NewWriter(client)
	r := bufio.NewReader(client)

	sendCommand(t, w, "ZADD", "leaderboard", "10", "alice", "20", "bob", "5", "carol")
	reply, err := Decode(r)
	if err != nil {
		t.Fatalf("decode ZADD reply: %v", err)
	}
	if reply.Int != 3 {
		t.Fatalf("ZADD reply = %+v", reply)
	}

	sendCommand(t, w, "ZRANGEBYSCORE", "leaderboard", "0", "15")
	reply, err = Decode(r)
	if err != nil {
		t.Fatalf("decode ZRANGEBYSCORE reply: %v", err)
	}
	if len(reply.Array) != 2 {
		t.Fatalf("ZRANGEBYSCORE reply = %+v", reply)
	}
	if string(reply.Array[0].Bulk) != "carol" || string(reply.Array[1].Bulk) != "alice" {
		t.Fatalf("ZRANGEBYSCORE members = %+v", reply.Array)
	}
}

func TestSessionGeoAddGeoDistPalermoCatania(t *testing.T) {
	client, _, _ := serveOverPipe(t)
	w := bufio.NewWriter(client)
	r := bufio.NewReader(client)

	sendCommand(t, w, "GEOADD", "sicily", "13.361389", "38.115556", "Palermo", "15.087269", "37.502669", "Catania")
	reply, err := Decode(r)
	if err != nil {
		t.Fatalf("decode GEOADD reply: %v", err)
	}
	if reply.Int != 2 {
		t.Fatalf("GEOADD reply = %+v", reply)
	}

	sendCommand(t, w, "GEODIST", "sicily", "Palermo", "Catania", "km")
	reply, err = Decode(r)
	if err != nil {
		t.Fatalf("decode GEODIST reply: %v", err)
	}
	dist := strings.TrimSpace(string(reply.Bulk))
	if !strings.HasPrefix(dist, "166.") {
		t.Fatalf("GEODIST Palermo-Catania = %q, want ~166.27 km", dist)
	}
}

func TestSessionPipeliningMultipleCommandsOneFlush(t *testing.T) {
	client, _, _ := serveOverPipe(t)
	w := bufio.NewWriter(client)
	r := bufio.NewReader(client)

	sendCommand(t, w, "PING")
	sendCommand(t, w, "PING")
	sendCommand(t, w, "PING")

	for i := 0; i < 3; i++ {
		reply, err := Decode(r)
		if err != nil {
			t.Fatalf("decode reply %d: %v", i, err)
		}
		if reply.Str != "PONG" {
			t.Fatalf("reply %d = %+v", i, reply)
		}
	}
}

func TestSessionUnknownCommandReportsError(t *testing.T) {
	client, _, _ := serveOverPipe(t)
	w := bufio.NewWriter(client)
	r := bufio.NewReader(client)

	sendCommand(t, w, "FROBNICATE", "x")
	reply, err := Decode(r)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.Kind != KindError {
		t.Fatalf("expected error reply, got %+v", reply)
	}
}

func TestSessionFlushDBClearsMainAndObjectStores(t *testing.T) {
	client, main, objs := serveOverPipe(t)
	w := bufio.NewWriter(client)
	r := bufio.NewReader(client)

	sendCommand(t, w, "SET", "a", "1")
	Decode(r)
	sendCommand(t, w, "LPUSH", "mylist", "x")
	Decode(r)

	sendCommand(t, w, "FLUSHDB")
	reply, err := Decode(r)
	if err != nil {
		t.Fatalf("decode FLUSHDB reply: %v", err)
	}
	if reply.Str != "OK" {
		t.Fatalf("FLUSHDB reply = %+v", reply)
	}

	if main.KeyCount() != 0 {
		t.Fatalf("KeyCount after FLUSHDB = %d, want 0", main.KeyCount())
	}
	if objs.Len() != 0 {
		t.Fatalf("Objects.Len() after FLUSHDB = %d, want 0", objs.Len())
	}
}
