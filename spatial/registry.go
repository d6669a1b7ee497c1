package spatial

import (
	"math"
	"sort"
	"sync"

	"github.com/MapConductor/geocore/geo"
	"github.com/MapConductor/geocore/hexgrid"
)

// DefaultTileSize is the assumed map tile edge in pixels for
// pixel-radius conversions.
const DefaultTileSize = 256

// Registry keeps a kd-tree synchronized with a mutating entity set.
// Writes only move entities between cells and mark the index dirty;
// the tree is rebuilt lazily on the next query, amortizing the
// O(n log n) rebuild over a burst of writes.
//
// One mutex guards everything: the three coupled maps, the tree
// pointer, and the dirty flag. A rebuild holds the lock for its full
// duration.
type Registry struct {
	grid *hexgrid.Grid
	zoom int

	mu         sync.Mutex
	entityCell map[string]string              // entity id → cell id
	members    map[string]map[string]struct{} // cell id → entity ids
	cells      map[string]hexgrid.Cell        // cell id → cell
	tree       *Tree
	dirty      bool
}

// NewRegistry creates an empty registry indexing at the given zoom.
func NewRegistry(grid *hexgrid.Grid, zoom int) *Registry {
	return &Registry{
		grid:       grid,
		zoom:       zoom,
		entityCell: make(map[string]string),
		members:    make(map[string]map[string]struct{}),
		cells:      make(map[string]hexgrid.Cell),
	}
}

// SetPoint places (or moves) an entity at the given position. If the
// entity previously occupied a different cell it is detached there
// first, deleting that cell if it became empty. The index is marked
// dirty; no rebuild happens here.
func (r *Registry) SetPoint(id string, p geo.Point) {
	cell := r.grid.CellAt(p, r.zoom)

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.entityCell[id]; ok {
		if prev == cell.ID {
			return
		}
		r.detachLocked(id, prev)
	}

	set, ok := r.members[cell.ID]
	if !ok {
		set = make(map[string]struct{})
		r.members[cell.ID] = set
		r.cells[cell.ID] = cell
		r.dirty = true
	}
	set[id] = struct{}{}
	r.entityCell[id] = cell.ID
}

// RemovePoint detaches an entity from the registry. Unknown ids are
// ignored.
func (r *Registry) RemovePoint(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cellID, ok := r.entityCell[id]
	if !ok {
		return
	}
	r.detachLocked(id, cellID)
	delete(r.entityCell, id)
}

// detachLocked removes the entity from a cell's member set and deletes
// the cell (marking the index dirty) if the set became empty.
func (r *Registry) detachLocked(id, cellID string) {
	set := r.members[cellID]
	delete(set, id)
	if len(set) == 0 {
		delete(r.members, cellID)
		delete(r.cells, cellID)
		r.dirty = true
	}
}

// Len returns the number of registered entities.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entityCell)
}

// CellCount returns the number of occupied cells.
func (r *Registry) CellCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cells)
}

// ensureIndexLocked rebuilds the tree from the current cell set if a
// write has invalidated it.
func (r *Registry) ensureIndexLocked() {
	if !r.dirty && r.tree != nil {
		return
	}
	cells := make([]hexgrid.Cell, 0, len(r.cells))
	for _, c := range r.cells {
		cells = append(cells, c)
	}
	r.tree = Build(cells)
	r.dirty = false
}

// CellMatch pairs a matched cell with a sorted snapshot of the entity
// ids occupying it.
type CellMatch struct {
	Cell    hexgrid.Cell
	Members []string
}

func (r *Registry) matchLocked(cell hexgrid.Cell) CellMatch {
	set := r.members[cell.ID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return CellMatch{Cell: cell, Members: ids}
}

// Nearest returns the occupied cell closest to the point, with its
// members, or false when the registry is empty.
func (r *Registry) Nearest(p geo.Point) (CellMatch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ensureIndexLocked()
	cell, ok := r.tree.Nearest(geo.Project(p))
	if !ok {
		return CellMatch{}, false
	}
	return r.matchLocked(cell), true
}

// KNearest returns the k occupied cells closest to the point, sorted
// ascending by distance.
func (r *Registry) KNearest(p geo.Point, k int) ([]CellMatch, error) {
	if k <= 0 {
		return nil, ErrNonPositiveK
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.ensureIndexLocked()
	cells, err := r.tree.KNearest(geo.Project(p), k)
	if err != nil {
		return nil, err
	}
	matches := make([]CellMatch, len(cells))
	for i, c := range cells {
		matches[i] = r.matchLocked(c)
	}
	return matches, nil
}

// WithinRadius returns every occupied cell whose center lies within
// the given ground distance in meters, sorted ascending by distance.
// The tree measures planar Mercator meters, which run 1/cos(lat)
// longer than ground meters, so the radius is stretched to match
// before querying.
func (r *Registry) WithinRadius(p geo.Point, meters float64) ([]CellMatch, error) {
	if meters < 0 {
		return nil, ErrNegativeRadius
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.ensureIndexLocked()
	cells, err := r.tree.WithinRadius(geo.Project(p), meters*mercatorStretch(p.Lat))
	if err != nil {
		return nil, err
	}
	matches := make([]CellMatch, len(cells))
	for i, c := range cells {
		matches[i] = r.matchLocked(c)
	}
	return matches, nil
}

// WithinPixelRadius converts a screen-space pixel radius to meters at
// the given zoom and delegates to WithinRadius.
func (r *Registry) WithinPixelRadius(p geo.Point, zoom int, pixels float64) ([]CellMatch, error) {
	if pixels < 0 {
		return nil, ErrNegativeRadius
	}
	return r.WithinRadius(p, r.MetersPerPixel(p, zoom, DefaultTileSize)*pixels)
}

// MetersPerPixel estimates the ground distance covered by one screen
// pixel at the given position and zoom, via a longitude-delta probe.
// Intentionally approximate: adequate for UI-scale hit testing, not
// full ellipsoidal geodesy.
func (r *Registry) MetersPerPixel(p geo.Point, zoom int, tileSize int) float64 {
	worldPixels := float64(tileSize) * math.Pow(2, float64(zoom))
	degPerPixel := 360 / worldPixels
	probe := geo.Point{Lat: p.Lat, Lng: p.Lng + degPerPixel}
	return geo.Haversine(p, probe)
}

// mercatorStretch is the local scale of the projection: one ground
// meter spans 1/cos(lat) planar meters. Floored so the factor stays
// finite near the poles.
func mercatorStretch(lat float64) float64 {
	cos := math.Cos(lat * math.Pi / 180)
	if cos < 0.01 {
		cos = 0.01
	}
	return 1 / cos
}
