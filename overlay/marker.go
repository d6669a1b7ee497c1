package overlay

import "github.com/MapConductor/geocore/geo"

// MarkerState describes one point-anchored overlay.
type MarkerState struct {
	ID       string
	Position geo.Point
	Title    string
	Color    Color
	ZIndex   int
	Visible  bool
}

func (m MarkerState) OverlayID() string { return m.ID }

func (m MarkerState) Kind() string { return "marker" }

func (m MarkerState) Points() []geo.Point { return []geo.Point{m.Position} }

func (m MarkerState) AppendHash(h *Hasher) {
	h.LatLng(m.Position.Lat, m.Position.Lng, m.Position.Alt)
	h.String(m.Title)
	h.Color(m.Color)
	h.Int(m.ZIndex)
	h.Bool(m.Visible)
}

// MarkerHandle is the provider-side artifact for a rendered marker.
type MarkerHandle struct {
	ProviderID string
}

// NewMarkerReconciler instantiates the reconcile engine for markers.
func NewMarkerReconciler(r Renderer[MarkerState, MarkerHandle], cfg Config) *Reconciler[MarkerState, MarkerHandle] {
	return NewReconciler("marker", r, cfg)
}
