package service

import (
	"context"
	"sync"
)

// Generations hands out per-key request tokens. Beginning a new request
// for a key cancels the context of the previous one, and only the newest
// token may commit its result.
type Generations struct {
	mu     sync.Mutex
	seq    map[string]uint64
	cancel map[string]context.CancelFunc
}

// NewGenerations creates an empty tracker.
func NewGenerations() *Generations {
	return &Generations{
		seq:    make(map[string]uint64),
		cancel: make(map[string]context.CancelFunc),
	}
}

// Token identifies one request generation.
type Token struct {
	g   *Generations
	key string
	gen uint64
}

// Begin starts a new generation for key and returns a context that is
// canceled when a newer generation begins.
func (g *Generations) Begin(ctx context.Context, key string) (context.Context, Token) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cancel, ok := g.cancel[key]; ok {
		cancel()
	}
	g.seq[key]++
	ctx, cancel := context.WithCancel(ctx)
	g.cancel[key] = cancel
	return ctx, Token{g: g, key: key, gen: g.seq[key]}
}

// Current reports whether t is still the newest generation of its key.
func (t Token) Current() bool {
	t.g.mu.Lock()
	defer t.g.mu.Unlock()
	return t.g.seq[t.key] == t.gen
}

// Commit runs apply only if t is still current, holding the tracker lock
// so no newer generation can begin in between.
func (t Token) Commit(apply func()) bool {
	t.g.mu.Lock()
	defer t.g.mu.Unlock()
	if t.g.seq[t.key] != t.gen {
		return false
	}
	apply()
	return true
}

// Done releases the context of t if it is still current.
func (t Token) Done() {
	t.g.mu.Lock()
	defer t.g.mu.Unlock()
	if t.g.seq[t.key] != t.gen {
		return
	}
	if cancel, ok := t.g.cancel[t.key]; ok {
		cancel()
		delete(t.g.cancel, t.key)
	}
}
