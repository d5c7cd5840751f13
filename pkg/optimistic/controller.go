// ABOUTME: Optimistic delete with snapshot rollback for a visible list of items
// ABOUTME: Removes locally first, then restores the full snapshot if the remote call fails

package optimistic

import (
	"context"
	"sync"
)

// SignalKind tells whether a remote delete was confirmed or rolled back.
type SignalKind int

const (
	SignalSuccess SignalKind = iota
	SignalError
)

func (k SignalKind) String() string {
	if k == SignalSuccess {
		return "success"
	}
	return "error"
}

// Signal is surfaced to the user after each delete.
type Signal struct {
	Kind SignalKind
	ID   string
	Err  error
}

// Snapshot is an immutable copy of the visible list.
type Snapshot[T any] struct {
	items []T
}

// Len returns the number of items captured.
func (s Snapshot[T]) Len() int { return len(s.items) }

// Items returns a copy of the captured items.
func (s Snapshot[T]) Items() []T {
	return append([]T(nil), s.items...)
}

// RemoteDelete performs the authoritative delete.
type RemoteDelete func(ctx context.Context, id string) error

// Controller owns the visible list. All mutations go through its lock, so
// a snapshot is atomic relative to the controller's own changes.
type Controller[T any] struct {
	mu       sync.Mutex
	items    []T
	key      func(T) string
	onSignal func(Signal)
}

// Option configures a Controller.
type Option[T any] func(*Controller[T])

// OnSignal registers fn to receive every success or error signal.
func OnSignal[T any](fn func(Signal)) Option[T] {
	return func(c *Controller[T]) { c.onSignal = fn }
}

// New creates a Controller over items, identified by key.
func New[T any](items []T, key func(T) string, opts ...Option[T]) *Controller[T] {
	c := &Controller[T]{
		items: append([]T(nil), items...),
		key:   key,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Items returns a copy of the visible list.
func (c *Controller[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.items...)
}

// Replace loads a fresh list, e.g. after a refetch.
func (c *Controller[T]) Replace(items []T) {
	c.mu.Lock()
	c.items = append([]T(nil), items...)
	c.mu.Unlock()
}

// Snapshot captures the visible list.
func (c *Controller[T]) Snapshot() Snapshot[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot[T]{items: append([]T(nil), c.items...)}
}

// Restore replaces the visible list with snap. Changes made since the
// snapshot was taken are discarded.
func (c *Controller[T]) Restore(snap Snapshot[T]) {
	c.Replace(snap.items)
}

// Delete removes id from the visible list, then calls remote. On failure
// the list taken before the removal is restored in full.
func (c *Controller[T]) Delete(ctx context.Context, id string, remote RemoteDelete) Signal {
	c.mu.Lock()
	snap := Snapshot[T]{items: append([]T(nil), c.items...)}
	kept := c.items[:0:0]
	for _, item := range c.items {
		if c.key(item) != id {
			kept = append(kept, item)
		}
	}
	c.items = kept
	c.mu.Unlock()

	sig := Signal{Kind: SignalSuccess, ID: id}
	if err := remote(ctx, id); err != nil {
		c.Restore(snap)
		sig = Signal{Kind: SignalError, ID: id, Err: err}
	}

	if c.onSignal != nil {
		c.onSignal(sig)
	}
	return sig
}
