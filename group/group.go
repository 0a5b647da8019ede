// Package group starts and stops a fixed set of tasks as one unit.
package group

import (
	"context"
	"sync"
)

// Member is anything with a start/stop lifecycle, typically a *task.Task or
// a *relay.Relay.
type Member interface {
	Start()
	Stop()
}

// Group holds an ordered list of members. Start and Stop visit the members
// in insertion order; Start and Stop on the same group are mutually exclusive.
// Nil members are dropped when added. Beyond that the group does not inspect
// its members: duplicates stay, and a member's own failures are its own.
type Group struct {
	mu      sync.Mutex
	members []Member
}

// New creates a group over members. Nil members are skipped; duplicates are
// kept and visited once per occurrence.
func New(members ...Member) *Group {
	g := &Group{}
	for _, m := range members {
		if m != nil {
			g.members = append(g.members, m)
		}
	}
	return g
}

// Add appends members. Nil members are skipped.
func (g *Group) Add(members ...Member) *Group {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, m := range members {
		if m != nil {
			g.members = append(g.members, m)
		}
	}
	return g
}

// Start starts every member in order. Per-member Start is idempotent, so
// starting a running group is harmless.
func (g *Group) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, m := range g.members {
		m.Start()
	}
}

// Stop stops every member in order. A member that forwards into one already
// stopped leaves its output in that member's queue.
func (g *Group) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, m := range g.members {
		m.Stop()
	}
}

// OnShutdown stops the group, giving up when ctx ends first. The stop keeps
// running in the background in that case.
func (g *Group) OnShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Stop()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Members returns a copy of the member list.
func (g *Group) Members() []Member {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Member, len(g.members))
	copy(out, g.members)
	return out
}

// Len returns the number of members.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}
