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

// Command nodekv-server runs one cluster node: a RESP listener over the
// store kernel, the AOF, and (when -cluster is set) gossip and
// failover. Flag parsing uses the standard library's flag package — the
// teacher's own command entrypoints (cmd/memcp/main.go) do the same;
// nothing in the example pack pulls in a CLI framework worth adopting
// here for a handful of scalar flags.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nodekv/nodekv/internal/bulkimport"
	"github.com/nodekv/nodekv/internal/cluster"
	"github.com/nodekv/nodekv/internal/config"
	"github.com/nodekv/nodekv/internal/failover"
	"github.com/nodekv/nodekv/internal/gossip"
	"github.com/nodekv/nodekv/internal/kernel"
	"github.com/nodekv/nodekv/internal/monitor"
	"github.com/nodekv/nodekv/internal/objects"
	"github.com/nodekv/nodekv/internal/resp"
	"github.com/nodekv/nodekv/internal/txn"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "./data", "directory holding the node's log/index/AOF files")
		configFile  = flag.String("config", "", "optional JSON config file (spec §6 knobs); hot-reloaded on write")
		bind        = flag.String("bind", "", "override bind_address from config")
		nodeID      = flag.String("node-id", "", "stable cluster node id; generated and persisted under data-dir if empty")
		clusterFlag = flag.Bool("cluster", false, "enable cluster mode (gossip + failover)")
		gossipBind  = flag.String("gossip-bind", "", "address for the gossip websocket listener (default: bind host, port+10000)")
		join        = flag.String("join", "", "comma-separated gossip addresses of existing cluster members to connect to at startup")
		importFile  = flag.String("import", "", "path to a JSON bulk-import spec; runs the import then exits")
	)
	flag.Parse()

	if err := os.MkdirAll(*dataDir, 0750); err != nil {
		log.Fatalf("nodekv: creating data dir: %v", err)
	}

	cfgStore, watcher := loadConfig(*configFile)
	if watcher != nil {
		defer watcher.Close()
	}
	cfg := cfgStore.Get()
	if *bind != "" {
		cfg.BindAddress = *bind
		cfgStore.Swap(cfg)
	}

	st, err := openStores(cfg, *dataDir)
	if err != nil {
		log.Fatalf("nodekv: opening stores: %v", err)
	}
	defer st.Close()

	if *importFile != "" {
		runBulkImport(st, *importFile)
		return
	}

	objectStore := objects.NewStore()
	dispatcher := resp.NewDefaultDispatcher()
	txnManager := txn.NewManager(st.main, dispatcher.RoutingKey)

	id := resolveNodeID(*dataDir, *nodeID)
	clusterConfig := cluster.New()
	clusterConfig.InitializeLocalWorker(id, cfg.BindAddress)

	adapter := &clusterAdapter{cfg: clusterConfig, aofWriter: st.aofWriter}

	mon := monitor.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.LatencyMonitor {
		mon.Start(ctx, cfg.SamplingFrequency, func(s monitor.Snapshot) {
			log.Printf("nodekv: monitor: %+v", s)
		})
	}

	var gossipStore *gossip.Store
	var exchanger *gossip.Exchanger
	var fsm *failover.FSM
	if *clusterFlag {
		gossipStore = gossip.NewStore()
		exchanger = gossip.NewExchanger(clusterConfig, gossipStore)
		exchanger.Start(ctx, cfg.GossipDelay)
		adapter.exchanger = exchanger

		gossipAddr := *gossipBind
		if gossipAddr == "" {
			gossipAddr = defaultGossipAddr(cfg.BindAddress)
		}
		gossipLn, err := net.Listen("tcp", gossipAddr)
		if err != nil {
			log.Fatalf("nodekv: gossip listen on %s: %v", gossipAddr, err)
		}
		go func() {
			httpSrv := &http.Server{Handler: &gossipServer{store: gossipStore, cfg: clusterConfig}}
			if err := httpSrv.Serve(gossipLn); err != nil {
				log.Printf("nodekv: gossip server stopped: %v", err)
			}
		}()
		log.Printf("nodekv: gossip listening on %s", gossipAddr)

		for _, peer := range splitNonEmpty(*join) {
			if err := dialPeer(ctx, gossipStore, clusterConfig, id, peer); err != nil {
				log.Printf("nodekv: join %s failed: %v", peer, err)
			}
		}

		fsm = failover.New(clusterConfig)
		go runFailoverWatch(ctx, fsm, clusterConfig, adapter, st)
	}

	go runCheckpointLoop(ctx, *dataDir, st, cfg.CheckpointMode)

	srv := &resp.Server{
		Main:       st.main,
		Objects:    objectStore,
		Dispatcher: dispatcher,
		AOF:        st.aofWriter,
		Router:     clusterConfig,
		Txn:        txnManager,
		Admin:      adapter,
		Pause:      adapter,
		Monitor:    monitorAdapter{m: mon},
	}

	ln, err := listen(cfg)
	if err != nil {
		log.Fatalf("nodekv: listen on %s: %v", cfg.BindAddress, err)
	}
	log.Printf("nodekv: node %s serving on %s", id, cfg.BindAddress)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		log.Printf("nodekv: server stopped: %v", err)
	case s := <-sig:
		log.Printf("nodekv: received %s, shutting down", s)
		ln.Close()
	}

	cancel()
	if err := saveRecoveryState(*dataDir, recoveryState{AOFHead: st.aofLog.TailAddress()}); err != nil {
		log.Printf("nodekv: saving recovery state: %v", err)
	}
}

func listen(cfg config.T) (net.Listener, error) {
	if cfg.TLSCertFile == "" && cfg.TLSKeyFile == "" {
		return net.Listen("tcp", cfg.BindAddress)
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("nodekv: loading TLS keypair: %w", err)
	}
	return tls.Listen("tcp", cfg.BindAddress, &tls.Config{Certificates: []tls.Certificate{cert}})
}

func loadConfig(path string) (*config.Store, *config.Watcher) {
	if path == "" {
		return config.NewStore(config.Defaults), nil
	}
	initial, err := config.Load(path)
	if err != nil {
		log.Fatalf("nodekv: loading config %s: %v", path, err)
	}
	store := config.NewStore(initial)
	watcher, err := config.WatchFile(path, store)
	if err != nil {
		log.Fatalf("nodekv: watching config %s: %v", path, err)
	}
	return store, watcher
}

// resolveNodeID returns the explicit id if given, otherwise loads or
// generates a stable id file under dataDir so the node keeps the same
// identity across restarts (spec §4.10's cluster topology is keyed by
// node id; a new id on every restart would orphan the node's own slots
// and replication links).
func resolveNodeID(dataDir, explicit string) string {
	if explicit != "" {
		return explicit
	}
	path := dataDir + "/node-id"
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	id := fmt.Sprintf("node-%d", time.Now().UnixNano())
	if err := os.WriteFile(path, []byte(id), 0640); err != nil {
		log.Printf("nodekv: persisting node id: %v", err)
	}
	return id
}

func defaultGossipAddr(bindAddr string) string {
	host, port, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return bindAddr
	}
	var p int
	fmt.Sscanf(port, "%d", &p)
	return net.JoinHostPort(host, fmt.Sprintf("%d", p+10000))
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// runCheckpointLoop runs the main store's five-step checkpoint
// (spec §4.4) once a minute and, after each successful run, saves the
// AOF's durable tail address as the recovery state's AOFHead. It does
// not truncate the AOF or move its begin address.
func runCheckpointLoop(ctx context.Context, dataDir string, st *stores, mode config.CheckpointMode) {
	kernelMode := kernelCheckpointMode(mode)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := st.mainCkpt.Run(kernelMode); err != nil {
				log.Printf("nodekv: checkpoint: %v", err)
				continue
			}
			if err := saveRecoveryState(dataDir, recoveryState{AOFHead: st.aofLog.TailAddress()}); err != nil {
				log.Printf("nodekv: saving recovery state: %v", err)
			}
		}
	}
}

// runFailoverWatch periodically pings the local node's primary (if it
// has one) over the internal RPC wire, and begins a Default-mode
// failover once a primary looks unreachable across several consecutive
// checks. Replicas only: a node with no PrimaryID (a primary itself, or
// not yet joined) has nothing to watch.
func runFailoverWatch(ctx context.Context, fsm *failover.FSM, cfg *cluster.Config, adapter *clusterAdapter, st *stores) {
	const (
		interval        = 2 * time.Second
		failuresToTrip  = 3
		failoverTimeout = 10 * time.Second
	)
	var misses int
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			self, ok := cfg.Worker(cfg.SelfID())
			if !ok || self.PrimaryID == "" {
				misses = 0
				continue
			}
			primary, ok := cfg.Worker(self.PrimaryID)
			if !ok {
				continue
			}
			pingCtx, cancel := context.WithTimeout(ctx, time.Second)
			_, err := callRPC(pingCtx, primary.Address, "PING")
			cancel()
			if err == nil {
				misses = 0
				continue
			}
			misses++
			if misses < failuresToTrip {
				continue
			}
			misses = 0
			log.Printf("nodekv: failover: primary %s unreachable, beginning promotion", primary.NodeID)
			localOffset := func() uint64 { return st.aofLog.TailAddress() }
			remaining := remainingReplicaAddrs(cfg, self.PrimaryID, cfg.SelfID())
			ok = fsm.Begin(ctx, failover.Default, adapter, localOffset, adapter, remaining, failoverTimeout)
			log.Printf("nodekv: failover: promotion completed=%v", ok)
		}
	}
}

func remainingReplicaAddrs(cfg *cluster.Config, primaryID, selfID string) []string {
	var out []string
	for _, w := range cfg.Workers() {
		if w.PrimaryID == primaryID && w.NodeID != selfID {
			out = append(out, w.NodeID)
		}
	}
	return out
}

func kernelCheckpointMode(m config.CheckpointMode) kernel.Mode {
	if m == config.CheckpointSnapshot {
		return kernel.Snapshot
	}
	return kernel.FoldOver
}

// runBulkImport loads a bulkimport spec file ({"source":{...},
// "tables":[...]}) and seeds the main store from it, once, then
// returns. There is no live wiring from RESP commands into bulkimport —
// spec §6 describes it purely as an offline seeding tool.
func runBulkImport(st *stores, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("nodekv: reading import spec: %v", err)
	}
	var spec struct {
		Source bulkimport.Source      `json:"source"`
		Tables []bulkimport.TableSpec `json:"tables"`
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		log.Fatalf("nodekv: parsing import spec: %v", err)
	}
	imp := bulkimport.NewImporter(st.main, 0)
	results, err := imp.ImportTables(context.Background(), spec.Source, spec.Tables)
	if err != nil {
		log.Fatalf("nodekv: import: %v", err)
	}
	for _, r := range results {
		log.Printf("nodekv: import: %s: %d rows", r.Table, r.Rows)
	}
}
