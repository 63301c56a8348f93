package simple

import (
	"context"
	"fmt"
	"sync"
)

// Generator hands out prefixed sequential ids. Deterministic, so tests use it.
type Generator struct {
	mu      sync.Mutex
	prefix  string
	counter int
}

func New(prefix string) *Generator {
	//nolint:exhaustruct
	return &Generator{prefix: prefix}
}

func (g *Generator) GetID(_ context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.counter++

	return fmt.Sprintf("%s%d", g.prefix, g.counter), nil
}
