// Command hexwar-spawner is the reference TaskSpawner collaborator:
// it answers /spawn and /stop-all by launching real
// hexwar-agent OS processes, one per requested grid node, so the
// lazy-provisioning bridge and /join capital-spawn path are exercisable
// end to end without a real cluster orchestrator. Compute-task lifecycle
// belongs to an external orchestrator in production; this binary is a
// test/reference adapter, kept separate in cmd/ precisely so it is
// optional and swappable for a production spawner.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/kartikbazzad/hexwar/pkg/logger"
)

func main() {
	addr := flag.String("addr", ":8090", "HTTP listen address for the spawner")
	agentBin := flag.String("agent-bin", "hexwar-agent", "Path to the hexwar-agent binary")
	dataDir := flag.String("data", "./hexwar-spawner-data", "Root data directory for spawned agents")
	portBase := flag.Int("port-base", 20000, "First port in the pool handed to spawned agents")
	portCount := flag.Int("port-count", 3000, "Number of ports in the pool (3 consumed per spawned agent)")
	host := flag.String("host", "127.0.0.1", "Host spawned agents advertise and bind to")
	logLevel := flag.String("log-level", "INFO", "Log level: DEBUG, INFO, WARN, ERROR")
	flag.Parse()

	logger.Init(logger.Config{Level: *logLevel, Format: "json"})
	log := logger.Named("hexwar-spawner")

	mgr, err := NewManager(Options{
		AgentBin:  *agentBin,
		DataDir:   *dataDir,
		PortBase:  *portBase,
		PortCount: *portCount,
		Host:      *host,
	})
	if err != nil {
		log.Error("failed to construct manager", "error", err)
		os.Exit(1)
	}
	defer mgr.Close()

	var nextNodeID uint64

	mux := http.NewServeMux()
	mux.HandleFunc("/spawn", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req spawnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.GameID == "" {
			http.Error(w, "game_id required", http.StatusBadRequest)
			return
		}

		var key string
		if req.Kind == "capital" {
			key = fmt.Sprintf("%s/capital/%d", req.GameID, req.OwnerID)
		} else {
			id := atomic.AddUint64(&nextNodeID, 1)
			if req.Q != nil && req.R != nil {
				key = fmt.Sprintf("%s/regular/%d,%d", req.GameID, *req.Q, *req.R)
			} else {
				key = fmt.Sprintf("%s/regular/anon-%d", req.GameID, id)
			}
		}

		endpoint, raftAddr, err := mgr.Spawn(key, req.GameID, req.OwnerID, req.Kind)
		if err != nil {
			log.Error("spawn failed", "key", key, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(spawnResponse{Endpoint: endpoint, RaftAddr: raftAddr})
	})

	mux.HandleFunc("/stop-all", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		gameID := r.URL.Query().Get("game_id")
		if gameID == "" {
			http.Error(w, "game_id required", http.StatusBadRequest)
			return
		}
		mgr.StopAll(gameID)
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	srv := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		log.Info("spawner listening", "addr", *addr, "agent_bin", *agentBin)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down, stopping all spawned agents")
	mgr.Close()
}

type spawnRequest struct {
	Kind    string `json:"kind"`
	GameID  string `json:"game_id"`
	OwnerID uint64 `json:"owner_id"`
	Q       *int32 `json:"q,omitempty"`
	R       *int32 `json:"r,omitempty"`
}

type spawnResponse struct {
	Endpoint string `json:"endpoint"`
	RaftAddr string `json:"raft_addr"`
}
