package combat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kartikbazzad/hexwar/event"
	"github.com/kartikbazzad/hexwar/gamestate"
	"github.com/kartikbazzad/hexwar/hex"
	"github.com/kartikbazzad/hexwar/pkg/logger"
)

// Engine runs one node's full combat lifecycle: auto-discovery of its own
// coordinate, a UDP receiver, and an on-demand sender that restarts
// whenever the node's target changes.
type Engine struct {
	game         *gamestate.Game
	receiver     *Receiver
	selfEndpoint string

	log *slog.Logger

	mu         sync.Mutex
	selfCoord  hex.Coord
	discovered bool
	cancelSend context.CancelFunc

	hasTarget     bool
	currentTarget event.Target
}

// NewEngine constructs an Engine. selfEndpoint is this node's combat UDP
// address as recorded on its Node entry by NodeInitComplete; it is also
// the key auto-discovery matches against the Node table.
func NewEngine(game *gamestate.Game, receiver *Receiver, selfEndpoint string) *Engine {
	return &Engine{
		game:         game,
		receiver:     receiver,
		selfEndpoint: selfEndpoint,
		log:          logger.Named("combat.engine"),
	}
}

// Run drives auto-discovery and target-change reactions from the applied
// event stream until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	sub, cancel := e.game.SubscribeApplied()
	defer cancel()

	go e.receiver.Run(ctx)

	// A node already present at startup (e.g. rejoining leader state) may
	// already be discoverable from the current snapshot.
	if e.tryDiscover(e.game.Snapshot()) {
		e.adoptCurrentTarget(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			e.stopSender()
			return
		case applied, ok := <-sub:
			if !ok {
				return
			}
			e.onApplied(ctx, applied.Event)
		}
	}
}

func (e *Engine) onApplied(ctx context.Context, ev event.Event) {
	e.mu.Lock()
	discovered := e.discovered
	e.mu.Unlock()

	if !discovered {
		if e.tryDiscover(e.game.Snapshot()) {
			e.adoptCurrentTarget(ctx)
		}
		return
	}

	switch ev.Kind {
	case event.KindSetNodeTarget:
		if ev.NodeCoord != e.selfCoord || ev.Target == nil {
			return
		}
		e.mu.Lock()
		e.hasTarget = ev.Target.Kind == event.TargetHex
		e.currentTarget = *ev.Target
		e.mu.Unlock()
		e.restartSender(ctx, *ev.Target)
	case event.KindNodeCaptured:
		// Any node whose target was the victim keeps attacking — no
		// restart needed here unless this node itself was captured away
		// from its owner, which a future SetNodeTarget from the new
		// owner will express explicitly.
	case event.KindNodeInitComplete:
		// This node may have attacked a hex that hadn't been
		// provisioned yet, so resolveEndpoint failed fast and the
		// sender never started flooding. Once that hex's NodeInitComplete
		// lands, restart the sender against the same target now that it
		// has an endpoint to resolve.
		e.mu.Lock()
		target, retarget := e.currentTarget, e.hasTarget && e.currentTarget.Hex == ev.NodeCoord
		e.mu.Unlock()
		if retarget {
			e.restartSender(ctx, target)
		}
	}
}

// tryDiscover matches selfEndpoint against the Node table to learn this
// node's own coordinate. It reports whether discovery has completed,
// whether just now or earlier.
func (e *Engine) tryDiscover(state event.State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.discovered {
		return true
	}
	for coord, n := range state.Nodes {
		if n.Endpoint == e.selfEndpoint && n.Endpoint != "" {
			e.selfCoord = coord
			e.discovered = true
			e.log.Info("auto-discovered coordinate", "coord", coord.String())
			return true
		}
	}
	return false
}

// adoptCurrentTarget picks up whatever target the Node table already
// holds for this node, covering targets committed before discovery
// resolved (or before this process restarted).
func (e *Engine) adoptCurrentTarget(ctx context.Context) {
	e.mu.Lock()
	coord := e.selfCoord
	e.mu.Unlock()

	node, ok := e.game.GetNode(coord)
	if !ok || node.Target.Kind != event.TargetHex {
		return
	}
	e.mu.Lock()
	e.hasTarget = true
	e.currentTarget = node.Target
	e.mu.Unlock()
	e.restartSender(ctx, node.Target)
}

// SelfCoord returns this node's auto-discovered coordinate, if discovery
// has completed. cmd/hexwar-agent uses it to start a combat.MetricsReporter
// for this node once it knows its own place on the grid.
func (e *Engine) SelfCoord() (hex.Coord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selfCoord, e.discovered
}

func (e *Engine) restartSender(ctx context.Context, target event.Target) {
	e.stopSender()

	if target.Kind != event.TargetHex {
		return
	}

	node, ok := e.game.GetNode(e.selfCoord)
	if !ok {
		return
	}

	sendCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancelSend = cancel
	e.mu.Unlock()

	sender := NewSender(e.game, e.selfCoord)
	go sender.Run(sendCtx, target.Hex, node.OwnerID)
}

func (e *Engine) stopSender() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelSend != nil {
		e.cancelSend()
		e.cancelSend = nil
	}
}
