package engine

import "sync"

// guard marks files the engine is currently writing. Local changes observed
// for a held file are the engine's own and must not be broadcast.
type guard struct {
	mu   sync.Mutex
	held map[string]int
}

func newGuard() *guard {
	return &guard{held: make(map[string]int)}
}

func (g *guard) Hold(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.held[path]++
}

func (g *guard) Release(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[path] <= 1 {
		delete(g.held, path)
		return
	}
	g.held[path]--
}

func (g *guard) Held(path string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held[path] > 0
}

func (g *guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	clear(g.held)
}
