// Package agentapi is the HTTP/JSON command surface each hexwar-agent
// exposes: join, attack, stop-attack, state/status snapshots, a websocket
// update stream, and the finisher sink mount.
package agentapi

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kartikbazzad/hexwar/event"
	"github.com/kartikbazzad/hexwar/finisher"
	"github.com/kartikbazzad/hexwar/gamestate"
	"github.com/kartikbazzad/hexwar/hex"
	"github.com/kartikbazzad/hexwar/pkg/apperr"
	"github.com/kartikbazzad/hexwar/pkg/logger"
	"github.com/kartikbazzad/hexwar/provision"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const appendTimeout = 2 * time.Second

var errCapitalConflict = errors.New("capital hex was claimed by a concurrent join, retry")

// Server wires a gamestate.Game, an optional TaskSpawner, and a finisher
// sink behind one HTTP command surface. One Server instance corresponds
// to one hexwar-agent process; if this process is the control endpoint
// for a single player, /join binds that player's identity to the
// process for the lifetime of the agent (there is no authentication
// layer, so the command surface assumes one process, one player).
type Server struct {
	game    *gamestate.Game
	spawner provision.TaskSpawner
	gameID  string
	sink    *finisher.Sink
	log     *slog.Logger

	mu              sync.Mutex
	playerID        uint64
	joined          bool
	controlEndpoint string

	registry    *prometheus.Registry
	joinCounter *prometheus.CounterVec
	attackCount prometheus.Counter
}

// SetControlEndpoint records this process's own dialable address, used as
// the PlayerJoin control_endpoint once /join runs. cmd/hexwar-agent calls
// this after binding its listener and before accepting requests.
func (s *Server) SetControlEndpoint(endpoint string) {
	s.mu.Lock()
	s.controlEndpoint = endpoint
	s.mu.Unlock()
}

func NewServer(game *gamestate.Game, spawner provision.TaskSpawner, gameID string) *Server {
	s := &Server{
		game:     game,
		spawner:  spawner,
		gameID:   gameID,
		sink:     finisher.NewSink(),
		log:      logger.Named("agentapi.server"),
		registry: prometheus.NewRegistry(),
		joinCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hexwar_join_requests_total",
			Help: "Join requests handled by this agent, by outcome.",
		}, []string{"outcome"}),
		attackCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hexwar_attack_requests_total",
			Help: "Attack requests handled by this agent.",
		}),
	}
	// A per-server registry rather than the process default: the agent is
	// the only exporter in its process, and tests construct several
	// Servers per process.
	s.registry.MustRegister(s.joinCounter, s.attackCount)
	return s
}

// Mux builds the full route table.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/join", s.handleJoin)
	mux.HandleFunc("/attack", s.handleAttack)
	mux.HandleFunc("/stop-attack", s.handleStopAttack)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/updates", s.handleUpdates)
	mux.HandleFunc("/finisher", s.sink.ServeHTTP)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperr.IllegalCommand("POST required"))
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apperr.IllegalCommand("could not read body"))
		return
	}
	if err := validateBody(joinSchema, raw); err != nil {
		s.joinCounter.WithLabelValues("bad_request").Inc()
		writeError(w, apperr.IllegalCommand(err.Error()))
		return
	}
	var req joinRequest
	if err := decodeJSON(raw, &req); err != nil {
		writeError(w, apperr.IllegalCommand("malformed json"))
		return
	}

	s.mu.Lock()
	if s.joined {
		s.mu.Unlock()
		writeError(w, apperr.IllegalCommand("this agent already has a joined player"))
		return
	}
	s.mu.Unlock()

	if !s.game.IsLeader() {
		hint, _ := s.game.LeaderHint()
		writeError(w, apperr.NotLeader(hint))
		return
	}

	// player_id is generated here, not read from existing state: two
	// concurrent /join calls landing on the leader must never be able to
	// compute the same "next" ID. A random uuid-derived id64 makes that
	// collision vanishingly unlikely without any read-then-append window,
	// consistent with uuid's use elsewhere in the tree (capture episode
	// IDs). event.Apply's duplicate-player_id no-op remains the
	// retry-safety net if this same request is ever replayed.
	playerID := newPlayerID()
	capital, ok := pickCapitalCoord(s.game.Snapshot())
	if !ok {
		writeError(w, apperr.IllegalCommand("no free hex available for a capital"))
		return
	}

	var appendErr *apperr.AppError
	if s.spawner != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		endpoint, raftAddr, err := s.spawner.Spawn(ctx, provision.KindCapital, req.GameID, playerID, &provision.CoordHint{Q: capital.Q, R: capital.R})
		if err != nil {
			s.joinCounter.WithLabelValues("provisioning_failure").Inc()
			writeError(w, apperr.ProvisioningFailure(err))
			return
		}
		if raftAddr != "" {
			joinCtx, joinCancel := context.WithTimeout(r.Context(), 10*time.Second)
			joinErr := provision.JoinCluster(joinCtx, s.game, raftAddr)
			joinCancel()
			if joinErr != nil {
				s.joinCounter.WithLabelValues("provisioning_failure").Inc()
				writeError(w, apperr.ProvisioningFailure(joinErr))
				return
			}
		}
		appendErr = s.appendJoinAndCapital(r.Context(), playerID, req.Name, capital, endpoint)
	} else {
		appendErr = s.appendJoinOnly(r.Context(), playerID, req.Name, capital)
	}
	if appendErr != nil {
		s.joinCounter.WithLabelValues("append_failed").Inc()
		writeError(w, appendErr)
		return
	}

	s.mu.Lock()
	s.playerID, s.joined = playerID, true
	s.mu.Unlock()

	s.joinCounter.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"player_id": playerID, "capital": capital})
}

// capitalSpacing is how many rings separate consecutive capitals when the
// spiral walk picks the next free hex: a fresh capital two rings clear of
// all existing territory starts with its full neighborhood unowned.
const capitalSpacing = 3

// pickCapitalCoord walks a spiral out from the origin and returns the
// first hex with no Node entry whose whole capitalSpacing-neighborhood is
// also untouched. The walk order is deterministic, so concurrent joins
// race for the same hex; event.Apply's occupied-capital no-op settles that
// race and the loser re-joins.
func pickCapitalCoord(state event.State) (hex.Coord, bool) {
	for _, c := range hex.Spiral(hex.Origin, 64) {
		if coordClear(state, c) {
			return c, true
		}
	}
	return hex.Coord{}, false
}

func coordClear(state event.State, c hex.Coord) bool {
	if _, taken := state.Nodes[c]; taken {
		return false
	}
	for r := int32(1); r < capitalSpacing; r++ {
		for _, n := range hex.Ring(c, r) {
			if _, taken := state.Nodes[n]; taken {
				return false
			}
		}
	}
	return true
}

// newPlayerID derives a player_id from a fresh random UUID's low 8 bytes.
// Collisions within one game's lifetime are astronomically unlikely, which
// is what makes this safe to call with no lock held and no state read.
func newPlayerID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[8:16])
}

func (s *Server) appendJoinAndCapital(ctx context.Context, playerID uint64, name string, capital hex.Coord, endpoint string) *apperr.AppError {
	if appErr := s.appendJoinOnly(ctx, playerID, name, capital); appErr != nil {
		return appErr
	}
	completeCtx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()
	if _, err := s.game.Append(completeCtx, event.NodeInitComplete(capital, endpoint, time.Now().UnixMicro())); err != nil {
		return leaderAwareError(s.game, err)
	}
	return nil
}

func (s *Server) appendJoinOnly(ctx context.Context, playerID uint64, name string, capital hex.Coord) *apperr.AppError {
	appendCtx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()
	if _, err := s.game.Append(appendCtx, event.PlayerJoin(playerID, name, capital, s.selfControlEndpoint(), true, time.Now().UnixMicro())); err != nil {
		return leaderAwareError(s.game, err)
	}
	// A concurrent join may have claimed the same hex first; the log's
	// total order makes the losing PlayerJoin a no-op, and the loser
	// shows up here as a missing player. Checking before anything else
	// touches the capital keeps the loser from filling the winner's
	// placeholder with its own endpoint.
	if _, ok := s.game.GetPlayer(playerID); !ok {
		return apperr.Unavailable(errCapitalConflict)
	}
	return nil
}

func (s *Server) selfControlEndpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controlEndpoint
}

func (s *Server) handleAttack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperr.IllegalCommand("POST required"))
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apperr.IllegalCommand("could not read body"))
		return
	}
	if err := validateBody(attackSchema, raw); err != nil {
		writeError(w, apperr.IllegalCommand(err.Error()))
		return
	}
	var req attackRequest
	if err := decodeJSON(raw, &req); err != nil {
		writeError(w, apperr.IllegalCommand("malformed json"))
		return
	}

	s.mu.Lock()
	playerID, joined := s.playerID, s.joined
	s.mu.Unlock()
	if !joined {
		writeError(w, apperr.IllegalCommand("no player joined on this agent"))
		return
	}

	state := s.game.Snapshot()
	player, ok := state.Players[playerID]
	if !ok || !player.Alive {
		writeError(w, apperr.IllegalCommand("joined player is not alive"))
		return
	}

	from := player.CapitalCoord
	if req.From != nil {
		from = hex.Coord{Q: req.From.Q, R: req.From.R}
	}
	to := hex.Coord{Q: req.To.Q, R: req.To.R}

	fromNode, ok := state.Nodes[from]
	if !ok || fromNode.OwnerID != playerID {
		writeError(w, apperr.IllegalCommand("from hex is not owned by this player"))
		return
	}
	if !hex.IsAdjacent(from, to) {
		writeError(w, apperr.IllegalCommand("to hex is not adjacent to from"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), appendTimeout)
	defer cancel()
	ev := event.SetNodeTarget(from, event.Target{Kind: event.TargetHex, Hex: to}, time.Now().UnixMicro())
	if _, err := s.game.Append(ctx, ev); err != nil {
		writeError(w, leaderAwareError(s.game, err))
		return
	}
	s.attackCount.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStopAttack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperr.IllegalCommand("POST required"))
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apperr.IllegalCommand("could not read body"))
		return
	}
	if err := validateBody(stopAttackSchema, raw); err != nil {
		writeError(w, apperr.IllegalCommand(err.Error()))
		return
	}
	var req stopAttackRequest
	if err := decodeJSON(raw, &req); err != nil {
		writeError(w, apperr.IllegalCommand("malformed json"))
		return
	}

	s.mu.Lock()
	playerID, joined := s.playerID, s.joined
	s.mu.Unlock()
	if !joined {
		writeError(w, apperr.IllegalCommand("no player joined on this agent"))
		return
	}

	from := hex.Coord{Q: req.From.Q, R: req.From.R}
	state := s.game.Snapshot()
	fromNode, ok := state.Nodes[from]
	if !ok || fromNode.OwnerID != playerID {
		writeError(w, apperr.IllegalCommand("from hex is not owned by this player"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), appendTimeout)
	defer cancel()
	ev := event.SetNodeTarget(from, event.NoTarget, time.Now().UnixMicro())
	if _, err := s.game.Append(ctx, ev); err != nil {
		writeError(w, leaderAwareError(s.game, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// playerView and nodeView are the /state response shapes. The folded
// State keys nodes by hex.Coord, which encoding/json cannot use as a map
// key, so the snapshot is flattened into sorted slices instead; sorting
// keeps the output stable for diffing clients.
type playerView struct {
	PlayerID        uint64    `json:"player_id"`
	Name            string    `json:"name"`
	CapitalCoord    hex.Coord `json:"capital_coord"`
	Alive           bool      `json:"alive"`
	ControlEndpoint string    `json:"control_endpoint,omitempty"`
}

type nodeView struct {
	Coord    hex.Coord      `json:"coord"`
	OwnerID  uint64         `json:"owner_id"`
	Kind     string         `json:"kind"`
	Target   *event.Target  `json:"target,omitempty"`
	Ready    bool           `json:"ready"`
	Endpoint string         `json:"endpoint,omitempty"`
	Metrics  *event.Metrics `json:"metrics,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state := s.game.Snapshot()

	players := make([]playerView, 0, len(state.Players))
	for _, p := range state.Players {
		players = append(players, playerView{
			PlayerID:        p.PlayerID,
			Name:            p.Name,
			CapitalCoord:    p.CapitalCoord,
			Alive:           p.Alive,
			ControlEndpoint: p.ControlEndpoint,
		})
	}
	sort.Slice(players, func(i, j int) bool { return players[i].PlayerID < players[j].PlayerID })

	nodes := make([]nodeView, 0, len(state.Nodes))
	for coord, n := range state.Nodes {
		v := nodeView{
			Coord:    coord,
			OwnerID:  n.OwnerID,
			Kind:     "regular",
			Ready:    n.Ready,
			Endpoint: n.Endpoint,
		}
		if n.Kind == event.Capital {
			v.Kind = "capital"
		}
		if n.Target.Kind != event.TargetNone {
			t := n.Target
			v.Target = &t
		}
		if m, ok := state.Metrics[coord]; ok {
			mv := m
			v.Metrics = &mv
		}
		nodes = append(nodes, v)
	}
	sort.Slice(nodes, func(i, j int) bool { return hex.Less(nodes[i].Coord, nodes[j].Coord) })

	writeJSON(w, http.StatusOK, map[string]any{
		"players":      players,
		"nodes":        nodes,
		"total_events": state.TotalEvents,
		"game_over":    state.GameOver,
		"winner_id":    state.WinnerID,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	hint, _ := s.game.LeaderHint()
	writeJSON(w, http.StatusOK, map[string]any{
		"is_leader":     s.game.IsLeader(),
		"leader_hint":   hint,
		"current_term":  s.game.CurrentTerm(),
		"applied_index": s.game.AppliedIndex(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err *apperr.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	_ = json.NewEncoder(w).Encode(err)
}

// leaderAwareError maps a raft append failure to the not-leader kind when
// this node is no longer (or never was) leader, and to
// consensus-unavailable otherwise.
func leaderAwareError(game *gamestate.Game, err error) *apperr.AppError {
	if !game.IsLeader() {
		hint, _ := game.LeaderHint()
		return apperr.NotLeader(hint)
	}
	return apperr.Unavailable(err)
}
