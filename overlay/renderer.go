package overlay

import "context"

// Change pairs a new desired state with the entity currently rendered
// for the same id.
type Change[S State, H any] struct {
	State    S
	Previous *Entity[S, H]
}

// Renderer is the external, provider-specific collaborator that turns
// overlay state into on-screen artifacts. One implementation exists
// per map provider; the engine depends only on this interface.
//
// OnAdd and OnChange must return exactly one result per input, in
// input order. A nil result means "not rendered": the engine skips
// registering that entity; it is never an error and never retried.
// OnRemove and OnPostProcess cannot signal failure; renderers must
// absorb their own errors.
type Renderer[S State, H any] interface {
	OnAdd(ctx context.Context, states []S) []*H
	OnChange(ctx context.Context, changes []Change[S, H]) []*H
	OnRemove(ctx context.Context, removed []*Entity[S, H])
	OnPostProcess(ctx context.Context)
}
