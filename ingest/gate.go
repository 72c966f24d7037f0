package ingest

import "sync"

// gate is the forward-only InitializationState machine. Each state has a
// channel that is closed exactly once, when the state is reached.
type gate struct {
	mu      sync.Mutex
	current InitializationState
	reached [Initialized + 1]chan struct{}
}

func newGate() *gate {
	g := &gate{}
	for i := range g.reached {
		g.reached[i] = make(chan struct{})
	}
	close(g.reached[Started])
	return g
}

func (g *gate) state() InitializationState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// advance moves to s if s is later than the current state, and reports
// whether it moved.
func (g *gate) advance(s InitializationState) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if s <= g.current || s > Initialized {
		return false
	}
	for next := g.current + 1; next <= s; next++ {
		close(g.reached[next])
	}
	g.current = s
	return true
}

func (g *gate) when(s InitializationState) <-chan struct{} {
	if s < Started {
		s = Started
	}
	if s > Initialized {
		s = Initialized
	}
	return g.reached[s]
}
