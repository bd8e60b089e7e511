// Package readiness tracks whether the engine has finished initialising.
//
// A Gate moves from uninitialized to ready exactly once and never back.
// Until then every public operation must fail with a not-ready error without
// touching engine memory.
package readiness

import (
	"sync"
	"sync/atomic"
)

// Gate is a one-shot readiness latch. The zero value is not ready.
type Gate struct {
	ready atomic.Bool
	once  sync.Once
	done  chan struct{}
	init  sync.Once
}

// IsReady reports whether MarkReady has been called.
func (g *Gate) IsReady() bool {
	return g.ready.Load()
}

// MarkReady opens the gate. Later calls are no-ops.
func (g *Gate) MarkReady() {
	g.once.Do(func() {
		g.ready.Store(true)
		close(g.channel())
	})
}

// Ready returns a channel closed when the gate opens.
func (g *Gate) Ready() <-chan struct{} {
	return g.channel()
}

func (g *Gate) channel() chan struct{} {
	g.init.Do(func() {
		g.done = make(chan struct{})
	})
	return g.done
}
