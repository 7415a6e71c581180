package agentapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// updatesInterval is the coarse delta cadence for /updates: a delta goes
// out at least this often even when nothing commits.
const updatesInterval = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type updateDelta struct {
	AppliedIndex uint64 `json:"applied_index"`
	PlayersAlive int    `json:"players_alive"`
	LatestEvent  string `json:"latest_event_summary"`
}

// handleUpdates upgrades to a websocket and pushes one updateDelta at
// least every updatesInterval, plus immediately whenever a new event
// commits, whichever comes first. A background read pump is the only way
// gorilla surfaces client disconnects (close frames, dropped TCP), so one
// runs for the life of the connection even though this endpoint never
// expects client messages.
func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sub, cancel := s.game.SubscribeApplied()
	defer cancel()

	ticker := time.NewTicker(updatesInterval)
	defer ticker.Stop()

	send := func(summary string) bool {
		state := s.game.Snapshot()
		delta := updateDelta{
			AppliedIndex: s.game.AppliedIndex(),
			PlayersAlive: state.AlivePlayerCount(),
			LatestEvent:  summary,
		}
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteJSON(delta) == nil
	}

	if !send("") {
		return
	}

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case applied, ok := <-sub:
			if !ok {
				return
			}
			if !send(string(applied.Event.Kind)) {
				return
			}
		case <-ticker.C:
			if !send("") {
				return
			}
		}
	}
}
