package overlay

import "github.com/MapConductor/geocore/geo"

// PolylineState describes one multi-point path overlay. The first path
// point anchors spatial queries.
type PolylineState struct {
	ID      string
	Path    []geo.Point
	WidthPx float64
	Color   Color
	Visible bool
}

func (p PolylineState) OverlayID() string { return p.ID }

func (p PolylineState) Kind() string { return "polyline" }

func (p PolylineState) Points() []geo.Point { return p.Path }

func (p PolylineState) AppendHash(h *Hasher) {
	h.Int(len(p.Path))
	for _, pt := range p.Path {
		h.LatLng(pt.Lat, pt.Lng, pt.Alt)
	}
	h.Float(p.WidthPx)
	h.Color(p.Color)
	h.Bool(p.Visible)
}

// PolylineHandle is the provider-side artifact for a rendered polyline.
type PolylineHandle struct {
	ProviderID string
}

// NewPolylineReconciler instantiates the reconcile engine for
// polylines.
func NewPolylineReconciler(r Renderer[PolylineState, PolylineHandle], cfg Config) *Reconciler[PolylineState, PolylineHandle] {
	return NewReconciler("polyline", r, cfg)
}
