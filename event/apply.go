package event

// Apply folds one event into state, returning the resulting state. It is
// a pure function: the same (state, event) pair always yields the same
// result, and event.Ts is never inspected to make a decision, so every
// agent folds an identical state. Apply never returns an error — an
// event it cannot make sense of is simply a no-op, exactly as each rule
// below specifies; a caller that appended an event apply will reject
// outright (not merely no-op) is the determinism-violation case handled
// one layer up, in gamestate.
func Apply(state State, ev Event) State {
	if state.GameOver {
		return state
	}

	switch ev.Kind {
	case KindPlayerJoin:
		return applyPlayerJoin(state, ev)
	case KindSetNodeTarget:
		return applySetNodeTarget(state, ev)
	case KindMetricsReport:
		return applyMetricsReport(state, ev)
	case KindNodeInitStarted:
		return applyNodeInitStarted(state, ev)
	case KindNodeInitComplete:
		return applyNodeInitComplete(state, ev)
	case KindNodeCaptured:
		return applyNodeCaptured(state, ev)
	case KindGameOver:
		return applyGameOver(state, ev)
	default:
		return state
	}
}

func applyPlayerJoin(state State, ev Event) State {
	if !ev.IsControlEndpoint {
		return state
	}
	if _, exists := state.Players[ev.PlayerID]; exists {
		return state
	}
	// A capital can only rise on virgin ground. Two concurrent joins
	// racing for the same hex commit in some total order; the second
	// must not clobber the first's capital, so it no-ops entirely and
	// the submitter re-joins at a different coordinate.
	if _, occupied := state.Nodes[ev.CapitalCoord]; occupied {
		return state
	}

	next := state.clone()
	next.Players[ev.PlayerID] = Player{
		PlayerID:        ev.PlayerID,
		Name:            ev.Name,
		CapitalCoord:    ev.CapitalCoord,
		Alive:           true,
		ControlEndpoint: ev.Endpoint,
	}
	next.Nodes[ev.CapitalCoord] = Node{
		Coord:   ev.CapitalCoord,
		OwnerID: ev.PlayerID,
		Kind:    Capital,
		Target:  NoTarget,
		Ready:   false,
	}
	next.TotalEvents++
	return next
}

func applySetNodeTarget(state State, ev Event) State {
	node, ok := state.Nodes[ev.NodeCoord]
	if !ok || node.OwnerID == 0 {
		return state
	}
	owner, ok := state.Players[node.OwnerID]
	if !ok || !owner.Alive {
		return state
	}
	if ev.Target == nil {
		return state
	}

	next := state.clone()
	node.Target = *ev.Target
	next.Nodes[ev.NodeCoord] = node
	next.TotalEvents++
	return next
}

func applyMetricsReport(state State, ev Event) State {
	next := state.clone()
	next.Metrics[ev.NodeCoord] = Metrics{
		Coord:       ev.NodeCoord,
		BandwidthIn: ev.BandwidthIn,
		PacketLoss:  ev.PacketLoss,
		ReportedAt:  ev.Ts,
	}
	next.TotalEvents++
	return next
}

func applyNodeInitStarted(state State, ev Event) State {
	if _, ok := state.Nodes[ev.NodeCoord]; ok {
		return state
	}

	next := state.clone()
	next.Nodes[ev.NodeCoord] = Node{
		Coord:  ev.NodeCoord,
		Kind:   Regular,
		Target: NoTarget,
		Ready:  false,
	}
	next.TotalEvents++
	return next
}

func applyNodeInitComplete(state State, ev Event) State {
	node, ok := state.Nodes[ev.NodeCoord]
	if !ok || node.Ready {
		return state
	}

	next := state.clone()
	node.Endpoint = ev.Endpoint
	node.Ready = true
	next.Nodes[ev.NodeCoord] = node
	next.TotalEvents++
	return next
}

func applyNodeCaptured(state State, ev Event) State {
	node, ok := state.Nodes[ev.NodeCoord]
	if !ok {
		return state
	}

	next := state.clone()
	node.OwnerID = ev.NewOwnerID

	for id, player := range next.Players {
		if player.CapitalCoord == ev.NodeCoord && player.PlayerID != ev.NewOwnerID {
			node.Kind = Regular
			player.Alive = false
			next.Players[id] = player
		}
	}

	next.Nodes[ev.NodeCoord] = node
	next.TotalEvents++
	return next
}

func applyGameOver(state State, ev Event) State {
	next := state.clone()
	next.GameOver = true
	next.WinnerID = ev.WinnerID
	next.TotalEvents++
	return next
}
