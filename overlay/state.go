package overlay

import "github.com/MapConductor/geocore/geo"

// State is the caller-supplied description of one overlay: an
// attribute bag with a mandatory position (or point list) and an
// optional explicit id. Implementations must be value types: the
// engine assumes a State never mutates after submission.
type State interface {
	// OverlayID returns the caller-chosen id, or "" to have one
	// derived from the state's content (see StateID).
	OverlayID() string

	// Kind names the overlay type ("marker", "polyline", ...). Used
	// for derived ids and telemetry labels.
	Kind() string

	// Points returns the state's positions. Must be non-empty; the
	// first point is the anchor used for spatial queries.
	Points() []geo.Point

	// AppendHash feeds the state's public attributes to the hasher in
	// a fixed order. This drives both fingerprints and derived ids,
	// and must match the sibling platform field-for-field.
	AppendHash(h *Hasher)
}

// Anchor returns the representative position of a state.
func Anchor(s State) geo.Point {
	return s.Points()[0]
}
