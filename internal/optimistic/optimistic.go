// Package optimistic applies local state changes ahead of their backend
// confirmation and rolls them back when the backend rejects them.
package optimistic

import (
	"context"
	"fmt"
)

// Mutation describes one optimistic update. Apply runs immediately against
// local state, Remote performs the backend call, and exactly one of Confirm
// or Rollback runs afterwards depending on the Remote outcome.
type Mutation[T any] struct {
	// Name identifies the mutation in errors
	Name string

	// Snapshot captures the local state needed to undo Apply
	Snapshot func() T

	// Apply performs the local change
	Apply func()

	// Remote performs the backend call the local change anticipates
	Remote func(ctx context.Context) error

	// Rollback restores the snapshot after a Remote failure
	Rollback func(snapshot T)

	// Confirm runs after Remote succeeds. Optional.
	Confirm func()
}

// Run executes a mutation: snapshot, apply locally, call the backend, then
// confirm or roll back. The returned error is the Remote error, annotated
// with the mutation name.
func Run[T any](ctx context.Context, m Mutation[T]) error {
	if m.Apply == nil || m.Remote == nil {
		return fmt.Errorf("optimistic mutation %q is missing Apply or Remote", m.Name)
	}

	var snapshot T
	if m.Snapshot != nil {
		snapshot = m.Snapshot()
	}

	m.Apply()

	if err := m.Remote(ctx); err != nil {
		if m.Rollback != nil {
			m.Rollback(snapshot)
		}
		return fmt.Errorf("%s failed: %w", m.Name, err)
	}

	if m.Confirm != nil {
		m.Confirm()
	}
	return nil
}
