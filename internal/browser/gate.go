package browser

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// FocusGate serializes operations that depend on which window the backend has
// focused. One gate is shared by a Session and every Tab derived from it.
//
// Waiters are admitted one at a time; no ordering between them is promised.
type FocusGate struct {
	sem  *semaphore.Weighted
	held atomic.Bool
}

// NewFocusGate returns a free gate.
func NewFocusGate() *FocusGate {
	return &FocusGate{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the gate is free or ctx is done. On a context error
// the gate is not held.
func (g *FocusGate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.held.Store(true)
	return nil
}

// TryAcquire takes the gate only if it is free right now.
func (g *FocusGate) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.held.Store(true)
	return true
}

// Release frees the gate. Releasing a free gate is a no-op. The gate does not
// track its holder, so only the caller whose Acquire or TryAcquire succeeded
// may call Release; prefer Do.
func (g *FocusGate) Release() {
	if g.held.CompareAndSwap(true, false) {
		g.sem.Release(1)
	}
}

// Held reports whether some operation is inside the gate.
func (g *FocusGate) Held() bool {
	return g.held.Load()
}

// Do runs fn while holding the gate. The gate is released on every exit,
// including a panic in fn.
func (g *FocusGate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn(ctx)
}
