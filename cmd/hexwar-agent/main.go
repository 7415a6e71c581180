// Command hexwar-agent is the one binary every grid node, every capital,
// and every raft voter runs: it hosts exactly one replicated game state
// machine, one combat UDP endpoint, and the HTTP command surface a
// player's client or another agent talks to.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kartikbazzad/hexwar/agentapi"
	"github.com/kartikbazzad/hexwar/capture"
	"github.com/kartikbazzad/hexwar/combat"
	"github.com/kartikbazzad/hexwar/finisher"
	"github.com/kartikbazzad/hexwar/gamestate"
	"github.com/kartikbazzad/hexwar/internal/config"
	"github.com/kartikbazzad/hexwar/pkg/logger"
	"github.com/kartikbazzad/hexwar/provision"
	"github.com/kartikbazzad/hexwar/raft"
)

func main() {
	cfg := config.Parse(os.Args[1:])

	logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logger.Named("cmd.hexwar-agent")

	if cfg.RaftID == "" {
		log.Error("missing required -raft-id / HEXWAR_RAFT_ID")
		os.Exit(1)
	}
	if cfg.ControlEndpoint == "" {
		cfg.ControlEndpoint = fmt.Sprintf("http://%s:%d", localHost(), cfg.HTTPPort)
	}

	raftCfg := raft.DefaultConfig(cfg.RaftID, cfg.RaftPeers)
	transport := raft.NewTCPTransport()
	game := gamestate.NewGame(raftCfg, transport)

	raftLn, err := net.Listen("tcp", cfg.RaftID)
	if err != nil {
		log.Error("failed to bind raft RPC listener", "addr", cfg.RaftID, "error", err)
		os.Exit(1)
	}
	go func() {
		if err := raft.Serve(raftLn, game.Node()); err != nil {
			log.Warn("raft RPC listener stopped", "error", err)
		}
	}()

	game.Start()
	defer game.Stop()

	receiver, err := combat.NewReceiver(cfg.UDPPort)
	if err != nil {
		log.Error("failed to bind combat UDP receiver", "port", cfg.UDPPort, "error", err)
		os.Exit(1)
	}
	defer receiver.Close()

	combatEndpoint := fmt.Sprintf("%s:%d", localHost(), cfg.UDPPort)
	engine := combat.NewEngine(game, receiver, combatEndpoint)

	var spawner provision.TaskSpawner
	if cfg.SpawnerURL != "" {
		spawner = provision.NewHTTPSpawner(cfg.SpawnerURL)
	}

	if cfg.RegistryURL != "" {
		// Advisory only: real membership converges via the leader's
		// learner handshake, so a registry failure is a warning, not a
		// startup blocker.
		regCtx, regCancel := context.WithTimeout(context.Background(), 5*time.Second)
		peer, err := provision.NewHTTPRegistry(cfg.RegistryURL).Register(regCtx, cfg.RaftID, cfg.ControlEndpoint, cfg.GameID)
		regCancel()
		switch {
		case err != nil:
			log.Warn("peer-registry registration failed", "registry", cfg.RegistryURL, "error", err)
		case peer == "":
			log.Info("registered with peer registry, first agent of this game")
		default:
			log.Info("registered with peer registry", "existing_peer", peer)
		}
	}

	srv := agentapi.NewServer(game, spawner, cfg.GameID)
	srv.SetControlEndpoint(cfg.ControlEndpoint)

	captureCtrl, err := capture.NewController(game, cfg.CapturePoolSize)
	if err != nil {
		log.Error("failed to construct capture controller", "error", err)
		os.Exit(1)
	}
	defer captureCtrl.Close()

	finisherCoord, err := finisher.NewCoordinator(game, combatEndpoint, cfg.FinisherPoolSize)
	if err != nil {
		log.Error("failed to construct finisher coordinator", "error", err)
		os.Exit(1)
	}
	defer finisherCoord.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go engine.Run(ctx)
	go captureCtrl.Run(ctx)
	go finisherCoord.Run(ctx)
	go runMetricsReporter(ctx, game, receiver, engine)

	if spawner != nil {
		bridge := provision.NewBridge(game, spawner, cfg.GameID)
		go bridge.Run(ctx)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      srv.Mux(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // /updates streams indefinitely
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("agent starting", "http_addr", httpServer.Addr, "raft_id", cfg.RaftID, "udp_port", cfg.UDPPort, "game_id", cfg.GameID)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server forced shutdown", "error", err)
	}
	_ = raftLn.Close()
	log.Info("stopped")
}

// runMetricsReporter waits for engine's auto-discovery to resolve this
// node's own coordinate, then starts submitting periodic MetricsReports
// for it. Without this, a node's packet_loss/bandwidth_in never update
// and NodeCaptured can never fire against it.
func runMetricsReporter(ctx context.Context, game *gamestate.Game, receiver *combat.Receiver, engine *combat.Engine) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if coord, ok := engine.SelfCoord(); ok {
			combat.NewMetricsReporter(game, receiver, coord).Run(ctx)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func localHost() string {
	if h := os.Getenv("HEXWAR_ADVERTISE_HOST"); h != "" {
		return h
	}
	return "127.0.0.1"
}
