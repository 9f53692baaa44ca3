package gossip

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nodekv/nodekv/internal/cluster"
)

func jsonMarshalForTest(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return b
}

func jsonUnmarshalForTest(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// dialPair spins up a local websocket server and returns (server-side,
// client-side) *websocket.Conn connected to each other, so gossip.Conn
// can be exercised against a real connection without any network
// dependency beyond loopback.
func dialPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	serverConnCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverConnCh <- c
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-serverConnCh
	t.Cleanup(func() { serverConn.Close() })
	return serverConn, clientConn
}

func TestStoreAddGetRemove(t *testing.T) {
	s := NewStore()
	_, client := dialPair(t)
	c := s.Add("node-b", client)

	got, ok := s.Get("node-b")
	if !ok || got != c {
		t.Fatalf("Get after Add = (%v, %v)", got, ok)
	}
	if len(s.All()) != 1 {
		t.Fatalf("All() len = %d, want 1", len(s.All()))
	}

	s.Remove("node-b")
	if _, ok := s.Get("node-b"); ok {
		t.Fatal("expected Get to fail after Remove")
	}
}

func TestExchangeWithSendsFullConfigThenPing(t *testing.T) {
	server, client := dialPair(t)

	cfg := cluster.New()
	cfg.InitializeLocalWorker("node-a", "127.0.0.1:7000")

	store := NewStore()
	c := store.Add("node-b", client)
	ex := NewExchanger(cfg, store)

	done := make(chan error, 1)
	go func() {
		_, msg, err := server.ReadMessage()
		if err != nil {
			done <- err
			return
		}
		done <- HandleIncoming(cluster.New(), &Stats{}, msg)
	}()

	if err := ex.exchangeWith(c); err != nil {
		t.Fatalf("exchangeWith (full) = %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server receive (full) = %v", err)
	}
	if c.Stats.FullSends.Load() != 1 {
		t.Fatalf("FullSends = %d, want 1", c.Stats.FullSends.Load())
	}

	done2 := make(chan struct{}, 1)
	var pingPayload []byte
	go func() {
		_, msg, _ := server.ReadMessage()
		pingPayload = msg
		done2 <- struct{}{}
	}()
	// Same config epoch as before: no BumpConfigEpoch, so this should
	// send an empty ping instead of a full payload.
	if err := ex.exchangeWith(c); err != nil {
		t.Fatalf("exchangeWith (ping) = %v", err)
	}
	<-done2
	if c.Stats.EmptySends.Load() != 1 {
		t.Fatalf("EmptySends = %d, want 1", c.Stats.EmptySends.Load())
	}
	var ping pingMessage
	if err := jsonUnmarshalForTest(pingPayload, &ping); err != nil || !ping.Ping {
		t.Fatalf("expected ping payload, got %q (err=%v)", pingPayload, err)
	}
}

func TestHandleIncomingMergesFullPayload(t *testing.T) {
	cfg := cluster.New()
	cfg.InitializeLocalWorker("node-a", "127.0.0.1:7000")

	wire := []wireWorker{{NodeID: "node-b", Address: "127.0.0.1:7001", Role: uint8(cluster.RolePrimary), ConfigEpoch: 1}}
	payload := jsonMarshalForTest(t, wire)

	var stats Stats
	if err := HandleIncoming(cfg, &stats, payload); err != nil {
		t.Fatalf("HandleIncoming = %v", err)
	}
	if stats.BytesIn.Load() != uint64(len(payload)) {
		t.Fatalf("BytesIn = %d, want %d", stats.BytesIn.Load(), len(payload))
	}
	if _, ok := cfg.Worker("node-b"); !ok {
		t.Fatal("expected node-b to be merged into config")
	}
}

func TestHandleIncomingPingIsNoop(t *testing.T) {
	cfg := cluster.New()
	cfg.InitializeLocalWorker("node-a", "127.0.0.1:7000")

	payload := jsonMarshalForTest(t, pingMessage{Ping: true})
	var stats Stats
	if err := HandleIncoming(cfg, &stats, payload); err != nil {
		t.Fatalf("HandleIncoming(ping) = %v", err)
	}
	if len(cfg.Workers()) != 1 {
		t.Fatalf("Workers() after ping = %d, want 1 (only self)", len(cfg.Workers()))
	}
}

func TestReadLoopCallsOnCloseWhenPeerDisconnects(t *testing.T) {
	server, client := dialPair(t)
	cfg := cluster.New()
	cfg.InitializeLocalWorker("node-a", "127.0.0.1:7000")

	c := newConn("node-b", client)
	closed := make(chan struct{})
	go ReadLoop(t.Context(), c, cfg, func() { close(closed) })

	server.Close()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected ReadLoop to invoke onClose after peer disconnect")
	}
}
