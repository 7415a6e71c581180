package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/kartikbazzad/hexwar/pkg/logger"
)

// agentInstance is one spawned hexwar-agent OS process.
type agentInstance struct {
	GameID   string
	OwnerID  uint64
	Kind     string
	HTTPPort int
	UDPPort  int
	Endpoint string
	RaftAddr string
	Cmd      *exec.Cmd
}

// Manager spawns hexwar-agent processes on demand, one per requested grid
// node: a port pool plus a process-per-key hot map. There is no
// idle-eviction loop; grid nodes live for the whole game, never go cold.
type Manager struct {
	mu        sync.Mutex
	instances map[string]*agentInstance // "gameID/capital/ownerID", "gameID/regular/q,r" or "gameID/regular/anon-N"

	agentBin string
	dataDir  string
	ports    *portPool
	host     string

	log *slog.Logger
}

// Options configures the Manager.
type Options struct {
	AgentBin  string
	DataDir   string
	PortBase  int
	PortCount int
	Host      string
}

func NewManager(opts Options) (*Manager, error) {
	pool, err := newPortPool(opts.PortBase, opts.PortCount)
	if err != nil {
		return nil, err
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	return &Manager{
		instances: make(map[string]*agentInstance),
		agentBin:  opts.AgentBin,
		dataDir:   opts.DataDir,
		ports:     pool,
		host:      opts.Host,
		log:       logger.Named("hexwar-spawner.manager"),
	}, nil
}

// Spawn starts one hexwar-agent process for the requested node, pauses a
// fixed 150ms for its listeners to come up (it does not check that they
// bound), and returns its combat UDP endpoint and raft address. The process is launched with no -peers: it joins the shared
// replicated log as a learner once the caller (provision.Bridge or
// agentapi.Server, both leader-gated) admits raftAddr via
// raft.Node.AddLearner and later raft.Node.PromoteToVoter. A static peer
// list would be redundant for that handshake — raft/replication.go accepts
// AppendEntries from the leader regardless of this node's own local
// voter/learner bookkeeping, so membership converges purely from the
// replicated MembershipChange entries the leader appends.
func (m *Manager) Spawn(key, gameID string, ownerID uint64, kind string) (endpoint, raftAddr string, err error) {
	m.mu.Lock()
	if existing, ok := m.instances[key]; ok {
		m.mu.Unlock()
		return existing.Endpoint, existing.RaftAddr, nil
	}
	m.mu.Unlock()

	httpPort, err := m.ports.Acquire()
	if err != nil {
		return "", "", fmt.Errorf("spawner: acquire http port: %w", err)
	}
	udpPort, err := m.ports.Acquire()
	if err != nil {
		m.ports.Release(httpPort)
		return "", "", fmt.Errorf("spawner: acquire udp port: %w", err)
	}
	raftPort, err := m.ports.Acquire()
	if err != nil {
		m.ports.Release(httpPort)
		m.ports.Release(udpPort)
		return "", "", fmt.Errorf("spawner: acquire raft port: %w", err)
	}

	raftID := fmt.Sprintf("%s:%d", m.host, raftPort)
	// The returned endpoint is the agent's combat UDP address: it is what
	// NodeInitComplete records on the Node entry, what attackers dial,
	// and what the agent's own auto-discovery matches against. The HTTP
	// surface travels separately as the control endpoint.
	endpoint = fmt.Sprintf("%s:%d", m.host, udpPort)
	httpEndpoint := fmt.Sprintf("http://%s:%d", m.host, httpPort)

	dataDir := filepath.Join(m.dataDir, gameID, key)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		m.ports.Release(httpPort)
		m.ports.Release(udpPort)
		m.ports.Release(raftPort)
		return "", "", fmt.Errorf("spawner: create data dir: %w", err)
	}

	cmd := exec.Command(m.agentBin,
		"-raft-id", raftID,
		"-http-port", strconv.Itoa(httpPort),
		"-udp-port", strconv.Itoa(udpPort),
		"-game-id", gameID,
		"-control-endpoint", httpEndpoint,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Dir = dataDir

	if err := cmd.Start(); err != nil {
		m.ports.Release(httpPort)
		m.ports.Release(udpPort)
		m.ports.Release(raftPort)
		return "", "", fmt.Errorf("spawner: start agent: %w", err)
	}

	inst := &agentInstance{
		GameID:   gameID,
		OwnerID:  ownerID,
		Kind:     kind,
		HTTPPort: httpPort,
		UDPPort:  udpPort,
		Endpoint: endpoint,
		RaftAddr: raftID,
		Cmd:      cmd,
	}

	m.mu.Lock()
	if existing, ok := m.instances[key]; ok {
		m.mu.Unlock()
		terminateProcess(cmd)
		m.ports.Release(httpPort)
		m.ports.Release(udpPort)
		m.ports.Release(raftPort)
		return existing.Endpoint, existing.RaftAddr, nil
	}
	m.instances[key] = inst
	m.mu.Unlock()

	m.log.Info("spawned agent", "key", key, "endpoint", endpoint, "raft_addr", raftID, "kind", kind)
	time.Sleep(150 * time.Millisecond) // give the HTTP/raft listeners time to bind
	return endpoint, raftID, nil
}

// StopAll tears down every instance tagged with gameID.
func (m *Manager) StopAll(gameID string) {
	m.mu.Lock()
	var toStop []string
	for key, inst := range m.instances {
		if inst.GameID == gameID {
			toStop = append(toStop, key)
		}
	}
	m.mu.Unlock()

	for _, key := range toStop {
		m.mu.Lock()
		inst, ok := m.instances[key]
		if ok {
			delete(m.instances, key)
		}
		m.mu.Unlock()
		if !ok {
			continue
		}
		terminateProcess(inst.Cmd)
	}
}

// Close tears down every instance the manager has ever spawned.
func (m *Manager) Close() {
	m.mu.Lock()
	instances := m.instances
	m.instances = make(map[string]*agentInstance)
	m.mu.Unlock()

	for _, inst := range instances {
		terminateProcess(inst.Cmd)
	}
}

// terminateProcess sends SIGTERM, escalating to SIGKILL after a grace
// period.
func terminateProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-time.After(5 * time.Second):
		cmd.Process.Kill()
		<-done
	case <-done:
	}
}
