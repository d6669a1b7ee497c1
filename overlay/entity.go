package overlay

import "github.com/MapConductor/geocore/geo"

// Entity wraps one accepted overlay state together with its
// fingerprint and the provider-specific rendered handle. Entities are
// immutable: an update constructs a replacement, never mutates in
// place.
type Entity[S State, H any] struct {
	ID          string
	State       S
	Fingerprint uint32

	// Handle is the renderer's artifact for this entity, nil when the
	// renderer declined to render it.
	Handle *H
}

// NewEntity builds an entity from a state, deriving the id and
// fingerprint. The handle starts absent.
func NewEntity[S State, H any](s S) *Entity[S, H] {
	return &Entity[S, H]{
		ID:          StateID(s),
		State:       s,
		Fingerprint: Fingerprint(s),
	}
}

// Rendered reports whether the renderer produced a handle.
func (e *Entity[S, H]) Rendered() bool {
	return e.Handle != nil
}

// Anchor returns the entity's representative position.
func (e *Entity[S, H]) Anchor() geo.Point {
	return Anchor(e.State)
}
