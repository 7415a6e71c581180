// Package provision implements the lazy-provisioning bridge: when an
// attack targets an empty hex, the leader asks an external task spawner
// for a new agent and, once the spawn call returns, appends the agent's
// NodeInitComplete itself; attacks against the hex do nothing until that
// entry is applied. The spawned agent does not announce its own readiness.
package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Kind is the node kind requested from the spawner.
type Kind string

const (
	KindRegular Kind = "regular"
	KindCapital Kind = "capital"
)

// TaskSpawner is the external compute-task lifecycle collaborator; the
// core only ever calls through this narrow interface.
type TaskSpawner interface {
	// Spawn requests one new agent of the given kind for gameID, owned by
	// ownerID, optionally pinned to intendedCoord (nil lets the spawner
	// choose; /join passes the capital's chosen hex and the bridge passes
	// the attacked hex). It returns the new agent's combat UDP endpoint —
	// the address recorded on its Node entry, dialed by attackers, and
	// matched by the agent's own auto-discovery — and its raft RPC
	// address, the latter needed so the caller can admit it to the shared
	// replicated log (raft.Node.AddLearner / PromoteToVoter) once it is
	// reachable.
	Spawn(ctx context.Context, kind Kind, gameID string, ownerID uint64, intendedCoord *CoordHint) (endpoint, raftAddr string, err error)

	// StopAll tears down every agent tagged with gameID, invoked once
	// after GameOver.
	StopAll(ctx context.Context, gameID string) error
}

// CoordHint names the hex a spawned node is intended to represent.
type CoordHint struct {
	Q int32
	R int32
}

// HTTPSpawner is the reference TaskSpawner client: it calls a spawner
// service's HTTP API — request a node by hex, get back its combat endpoint
// and raft address.
type HTTPSpawner struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewHTTPSpawner(baseURL string) *HTTPSpawner {
	return &HTTPSpawner{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type spawnRequest struct {
	Kind    Kind   `json:"kind"`
	GameID  string `json:"game_id"`
	OwnerID uint64 `json:"owner_id"`
	Q       *int32 `json:"q,omitempty"`
	R       *int32 `json:"r,omitempty"`
}

type spawnResponse struct {
	Endpoint string `json:"endpoint"`
	RaftAddr string `json:"raft_addr"`
}

func (s *HTTPSpawner) Spawn(ctx context.Context, kind Kind, gameID string, ownerID uint64, coord *CoordHint) (string, string, error) {
	req := spawnRequest{Kind: kind, GameID: gameID, OwnerID: ownerID}
	if coord != nil {
		req.Q, req.R = &coord.Q, &coord.R
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/spawn", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTPClient.Do(httpReq)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("provision: spawner returned status %d", resp.StatusCode)
	}

	var out spawnResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("provision: decode spawn response: %w", err)
	}
	return out.Endpoint, out.RaftAddr, nil
}

func (s *HTTPSpawner) StopAll(ctx context.Context, gameID string) error {
	url := fmt.Sprintf("%s/stop-all?game_id=%s", s.BaseURL, gameID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provision: stop-all returned status %d", resp.StatusCode)
	}
	return nil
}
