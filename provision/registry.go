package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// PeerRegistry is the external peer-discovery collaborator: an agent
// announces itself at startup and gets back an arbitrary existing peer of
// the same game, or empty if it is the first. The result is advisory —
// actual membership converges through the leader's learner-then-voter
// handshake — so callers log and move on rather than block on it.
type PeerRegistry interface {
	Register(ctx context.Context, agentID, endpoint, gameID string) (peer string, err error)
}

// HTTPRegistry is the reference PeerRegistry client.
type HTTPRegistry struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewHTTPRegistry(baseURL string) *HTTPRegistry {
	return &HTTPRegistry{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

type registerRequest struct {
	AgentID  string `json:"agent_id"`
	Endpoint string `json:"endpoint"`
	GameID   string `json:"game_id"`
}

type registerResponse struct {
	Peer string `json:"peer,omitempty"`
}

func (r *HTTPRegistry) Register(ctx context.Context, agentID, endpoint, gameID string) (string, error) {
	body, err := json.Marshal(registerRequest{AgentID: agentID, Endpoint: endpoint, GameID: gameID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/register", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("provision: registry returned status %d", resp.StatusCode)
	}

	var out registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("provision: decode register response: %w", err)
	}
	return out.Peer, nil
}
