// Package finisher implements the finishing-attack coordinator: when a
// capital falls, every grid node owned by the new owner opens one
// long-lived byte-stream to the victim's control endpoint and floods it
// with framed payloads for a fixed window.
package finisher

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kartikbazzad/hexwar/event"
	"github.com/kartikbazzad/hexwar/gamestate"
	"github.com/kartikbazzad/hexwar/hex"
	"github.com/kartikbazzad/hexwar/pkg/logger"
	"github.com/kartikbazzad/hexwar/wire"
	"github.com/panjf2000/ants/v2"
)

// StreamDuration is the fixed finishing-attack window.
const StreamDuration = 10 * time.Second

// Coordinator runs inside one hexwar-agent process, representing exactly
// one grid node. It watches applied events for a capital falling and, if
// this node happens to be owned by the winning player, opens its stream.
type Coordinator struct {
	game         *gamestate.Game
	selfEndpoint string
	client       *http.Client
	pool         *ants.Pool
	log          *slog.Logger

	mu         sync.Mutex
	selfCoord  hex.Coord
	discovered bool
	lastAlive  map[uint64]bool
	triggered  map[uint64]bool // victim playerID -> already streamed for this process
}

func NewCoordinator(game *gamestate.Game, selfEndpoint string, poolSize int) (*Coordinator, error) {
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		game:         game,
		selfEndpoint: selfEndpoint,
		client:       &http.Client{Timeout: StreamDuration + 5*time.Second},
		pool:         pool,
		log:          logger.Named("finisher.coordinator"),
		lastAlive:    make(map[uint64]bool),
		triggered:    make(map[uint64]bool),
	}, nil
}

func (c *Coordinator) Close() { c.pool.Release() }

// Run subscribes to applied events until ctx is done, firing the
// finishing attack exactly once per victim the instant their Alive flag
// transitions true-to-false.
func (c *Coordinator) Run(ctx context.Context) {
	sub, cancel := c.game.SubscribeApplied()
	defer cancel()

	c.seedAliveLocked(c.game.Snapshot())

	for {
		select {
		case <-ctx.Done():
			return
		case applied, ok := <-sub:
			if !ok {
				return
			}
			c.onApplied(ctx, applied.Event)
		}
	}
}

func (c *Coordinator) seedAliveLocked(state event.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range state.Players {
		c.lastAlive[id] = p.Alive
	}
}

func (c *Coordinator) onApplied(ctx context.Context, ev event.Event) {
	state := c.game.Snapshot()

	if !c.discovered {
		c.tryDiscover(state)
	}

	if ev.Kind != event.KindNodeCaptured {
		return
	}

	c.mu.Lock()
	var justDefeated []uint64
	for id, p := range state.Players {
		was, seen := c.lastAlive[id]
		if seen && was && !p.Alive {
			justDefeated = append(justDefeated, id)
		}
		c.lastAlive[id] = p.Alive
	}
	c.mu.Unlock()

	for _, victimID := range justDefeated {
		c.maybeFire(ctx, state, victimID)
	}
}

func (c *Coordinator) tryDiscover(state event.State) {
	for coord, node := range state.Nodes {
		if node.Endpoint == c.selfEndpoint && node.Endpoint != "" {
			c.mu.Lock()
			c.selfCoord = coord
			c.discovered = true
			c.mu.Unlock()
			return
		}
	}
}

func (c *Coordinator) maybeFire(ctx context.Context, state event.State, victimID uint64) {
	c.mu.Lock()
	if c.triggered[victimID] {
		c.mu.Unlock()
		return
	}
	c.triggered[victimID] = true
	selfCoord, discovered := c.selfCoord, c.discovered
	c.mu.Unlock()

	if !discovered {
		return
	}
	victim, ok := state.Players[victimID]
	if !ok || victim.ControlEndpoint == "" {
		return
	}
	self, ok := state.Nodes[selfCoord]
	if !ok {
		return
	}

	// Only nodes owned by the new owner at the moment of defeat stream.
	var newOwner uint64
	if captured, ok := state.Nodes[victim.CapitalCoord]; ok {
		newOwner = captured.OwnerID
	}
	if self.OwnerID == 0 || self.OwnerID != newOwner {
		return
	}

	c.log.Info("finishing attack starting", "victim", victimID, "target", victim.ControlEndpoint)
	err := c.pool.Submit(func() { c.stream(ctx, victim.ControlEndpoint) })
	if err != nil {
		go c.stream(ctx, victim.ControlEndpoint)
	}
}

// stream floods the victim's control endpoint with framed payloads over a
// single HTTP request body for StreamDuration, then closes; the absolute
// deadline and any network error both fully release the socket.
func (c *Coordinator) stream(ctx context.Context, endpoint string) {
	streamCtx, cancel := context.WithTimeout(ctx, StreamDuration)
	defer cancel()

	pr, pw := io.Pipe()
	go func() {
		defer pw.Close()
		payload := bytes.Repeat([]byte{0xFF}, wire.FinisherFrameSize)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-streamCtx.Done():
				return
			case <-ticker.C:
				if err := wire.WriteFinisherFrame(pw, payload); err != nil {
					return
				}
			}
		}
	}()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, endpoint+"/finisher", pr)
	if err != nil {
		c.log.Warn("finisher stream build failed", "endpoint", endpoint, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		// Transport fault: log and move on, matching the UDP-loss
		// treatment for transport faults elsewhere.
		c.log.Warn("finisher stream ended", "endpoint", endpoint, "error", err)
		return
	}
	resp.Body.Close()
}
