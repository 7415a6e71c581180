package main

import "fmt"

// portPool hands out one port at a time from a fixed range. Every
// spawned hexwar-agent needs three free ports (HTTP command surface,
// combat UDP, raft RPC), so the pool is drawn from three times per
// spawn.
type portPool struct {
	ports chan int
}

func newPortPool(base, count int) (*portPool, error) {
	if count <= 0 {
		return nil, fmt.Errorf("port count must be positive")
	}
	ch := make(chan int, count)
	for i := 0; i < count; i++ {
		ch <- base + i
	}
	return &portPool{ports: ch}, nil
}

func (p *portPool) Acquire() (int, error) {
	select {
	case port := <-p.ports:
		return port, nil
	default:
		return 0, fmt.Errorf("port pool exhausted")
	}
}

func (p *portPool) Release(port int) {
	select {
	case p.ports <- port:
	default:
	}
}
