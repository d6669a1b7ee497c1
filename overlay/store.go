package overlay

import (
	"errors"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/MapConductor/geocore/geo"
	"github.com/MapConductor/geocore/hexgrid"
	"github.com/MapConductor/geocore/spatial"
)

var (
	// ErrNonPositiveK rejects k-nearest queries with k <= 0.
	ErrNonPositiveK = errors.New("overlay: k must be positive")
	// ErrNegativeRadius rejects radius queries with a negative radius.
	ErrNegativeRadius = errors.New("overlay: radius must be non-negative")
)

// indexThreshold is the population above which nearest-neighbor
// queries switch from a brute-force scan to the cell registry. Below
// it, index maintenance costs more than the scans it saves.
const indexThreshold = 50

// StoreConfig configures the spatial behavior of a Store.
type StoreConfig struct {
	// Grid converts positions to hex cells for the registry. Nil means
	// hexgrid.Default().
	Grid *hexgrid.Grid

	// IndexZoom is the zoom level the registry buckets at.
	IndexZoom int
}

// DefaultStoreConfig returns the standard configuration: the default
// grid bucketing at zoom 14.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{Grid: hexgrid.Default(), IndexZoom: 14}
}

// Store is the canonical keyed store of overlay entities. All access
// is guarded by one mutex. For large populations it lazily constructs
// a cell registry and delegates spatial queries to it; the registry is
// kept synchronized with every later write.
//
// Destroy is a one-shot terminal transition: afterwards every read
// returns empty and every write is a no-op, permanently.
type Store[S State, H any] struct {
	cfg StoreConfig

	mu        sync.Mutex
	entities  map[string]*Entity[S, H]
	registry  *spatial.Registry // nil until the crossover triggers
	destroyed bool
}

// NewStore creates an empty store.
func NewStore[S State, H any](cfg StoreConfig) *Store[S, H] {
	if cfg.Grid == nil {
		cfg.Grid = hexgrid.Default()
	}
	if cfg.IndexZoom <= 0 {
		cfg.IndexZoom = DefaultStoreConfig().IndexZoom
	}
	return &Store[S, H]{
		cfg:      cfg,
		entities: make(map[string]*Entity[S, H]),
	}
}

// Register inserts or replaces an entity.
func (st *Store[S, H]) Register(e *Entity[S, H]) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.destroyed {
		return
	}
	st.entities[e.ID] = e
	if st.registry != nil {
		st.registry.SetPoint(e.ID, e.Anchor())
	}
}

// Update replaces an existing entity. Same operation as Register; the
// distinct name documents intent at call sites.
func (st *Store[S, H]) Update(e *Entity[S, H]) {
	st.Register(e)
}

// Remove deletes an entity by id. Unknown ids are ignored.
func (st *Store[S, H]) Remove(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.destroyed {
		return
	}
	delete(st.entities, id)
	if st.registry != nil {
		st.registry.RemovePoint(id)
	}
}

// Get returns the entity with the given id.
func (st *Store[S, H]) Get(id string) (*Entity[S, H], bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.destroyed {
		return nil, false
	}
	e, ok := st.entities[id]
	return e, ok
}

// Has reports whether an entity with the given id exists.
func (st *Store[S, H]) Has(id string) bool {
	_, ok := st.Get(id)
	return ok
}

// All returns a snapshot of every entity, sorted by id for
// deterministic iteration.
func (st *Store[S, H]) All() []*Entity[S, H] {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.allLocked()
}

func (st *Store[S, H]) allLocked() []*Entity[S, H] {
	if st.destroyed {
		return nil
	}
	out := make([]*Entity[S, H], 0, len(st.entities))
	for _, e := range st.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns a snapshot of every entity id, sorted.
func (st *Store[S, H]) IDs() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.destroyed {
		return nil
	}
	out := make([]string, 0, len(st.entities))
	for id := range st.entities {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of stored entities.
func (st *Store[S, H]) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.destroyed {
		return 0
	}
	return len(st.entities)
}

// Clear removes every entity. The registry is discarded and rebuilt
// lazily when the population grows back past the crossover.
func (st *Store[S, H]) Clear() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.destroyed {
		return
	}
	st.entities = make(map[string]*Entity[S, H])
	st.registry = nil
}

// Destroy tears the store down. Terminal and idempotent: after the
// first call every read returns empty and every write is a no-op,
// regardless of call order.
func (st *Store[S, H]) Destroy() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.destroyed = true
	st.entities = nil
	st.registry = nil
}

// Destroyed reports whether Destroy has been called.
func (st *Store[S, H]) Destroyed() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.destroyed
}

// FindNearest returns the entity closest to the point. Below the
// crossover it scans; above, it delegates to the cell registry and
// resolves the best member by exact distance.
func (st *Store[S, H]) FindNearest(p geo.Point) (*Entity[S, H], bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.destroyed || len(st.entities) == 0 {
		return nil, false
	}

	if len(st.entities) < indexThreshold {
		return st.scanNearestLocked(p)
	}

	st.ensureRegistryLocked()
	match, ok := st.registry.Nearest(p)
	if !ok {
		return nil, false
	}
	return st.bestOfLocked(p, match.Members)
}

func (st *Store[S, H]) scanNearestLocked(p geo.Point) (*Entity[S, H], bool) {
	var best *Entity[S, H]
	bestD := math.MaxFloat64
	for _, e := range st.entities {
		if d := geo.Haversine(p, e.Anchor()); d < bestD || (d == bestD && (best == nil || e.ID < best.ID)) {
			best, bestD = e, d
		}
	}
	return best, best != nil
}

func (st *Store[S, H]) bestOfLocked(p geo.Point, ids []string) (*Entity[S, H], bool) {
	var best *Entity[S, H]
	bestD := math.MaxFloat64
	for _, id := range ids {
		e, ok := st.entities[id]
		if !ok {
			continue
		}
		if d := geo.Haversine(p, e.Anchor()); d < bestD {
			best, bestD = e, d
		}
	}
	return best, best != nil
}

// FindKNearest returns the min(k, Len) entities closest to the point,
// sorted ascending by distance.
func (st *Store[S, H]) FindKNearest(p geo.Point, k int) ([]*Entity[S, H], error) {
	if k <= 0 {
		return nil, ErrNonPositiveK
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.destroyed || len(st.entities) == 0 {
		return nil, nil
	}

	var pool []*Entity[S, H]
	if len(st.entities) < indexThreshold {
		pool = make([]*Entity[S, H], 0, len(st.entities))
		for _, e := range st.entities {
			pool = append(pool, e)
		}
	} else {
		st.ensureRegistryLocked()
		matches, err := st.registry.KNearest(p, k)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			for _, id := range m.Members {
				if e, ok := st.entities[id]; ok {
					pool = append(pool, e)
				}
			}
		}
	}

	sortByDistance(pool, p)
	if len(pool) > k {
		pool = pool[:k]
	}
	return pool, nil
}

// FindWithinRadius returns every entity within the given ground
// distance in meters, sorted ascending by distance. Indexed lookups
// search the registry with one cell circumradius of slack, then filter
// members by exact distance.
func (st *Store[S, H]) FindWithinRadius(p geo.Point, meters float64) ([]*Entity[S, H], error) {
	if meters < 0 {
		return nil, ErrNegativeRadius
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.destroyed || len(st.entities) == 0 {
		return nil, nil
	}

	var pool []*Entity[S, H]
	if len(st.entities) < indexThreshold {
		for _, e := range st.entities {
			pool = append(pool, e)
		}
	} else {
		st.ensureRegistryLocked()
		slack := st.cfg.Grid.SideMeters(p.Lat, st.cfg.IndexZoom) * 2 / math.Sqrt(3)
		matches, err := st.registry.WithinRadius(p, meters+slack)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			for _, id := range m.Members {
				if e, ok := st.entities[id]; ok {
					pool = append(pool, e)
				}
			}
		}
	}

	out := pool[:0]
	for _, e := range pool {
		if geo.Haversine(p, e.Anchor()) <= meters {
			out = append(out, e)
		}
	}
	sortByDistance(out, p)
	return out, nil
}

// FindWithinPixelRadius converts a screen-space pixel radius to meters
// at the given zoom and delegates to FindWithinRadius.
func (st *Store[S, H]) FindWithinPixelRadius(p geo.Point, zoom int, pixels float64) ([]*Entity[S, H], error) {
	if pixels < 0 {
		return nil, ErrNegativeRadius
	}
	meters := metersPerPixel(p, zoom) * pixels
	return st.FindWithinRadius(p, meters)
}

// FindInBounds returns every entity whose anchor lies inside the
// rectangle. Always a guarded linear scan: hex cells do not tile
// rectangles, so the index offers no shortcut here.
func (st *Store[S, H]) FindInBounds(b geo.Bounds) []*Entity[S, H] {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.destroyed {
		return nil
	}
	var out []*Entity[S, H]
	for _, e := range st.allLocked() {
		if b.Contains(e.Anchor()) {
			out = append(out, e)
		}
	}
	return out
}

// FindByIDPrefix returns every entity whose id starts with the prefix,
// sorted by id.
func (st *Store[S, H]) FindByIDPrefix(prefix string) []*Entity[S, H] {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.destroyed {
		return nil
	}
	var out []*Entity[S, H]
	for _, e := range st.allLocked() {
		if strings.HasPrefix(e.ID, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// ensureRegistryLocked builds the cell registry on first indexed
// query, seeded from every current entity.
func (st *Store[S, H]) ensureRegistryLocked() {
	if st.registry != nil {
		return
	}
	st.registry = spatial.NewRegistry(st.cfg.Grid, st.cfg.IndexZoom)
	for id, e := range st.entities {
		st.registry.SetPoint(id, e.Anchor())
	}
}

func sortByDistance[S State, H any](entities []*Entity[S, H], p geo.Point) {
	sort.Slice(entities, func(i, j int) bool {
		di := geo.Haversine(p, entities[i].Anchor())
		dj := geo.Haversine(p, entities[j].Anchor())
		if di != dj {
			return di < dj
		}
		return entities[i].ID < entities[j].ID
	})
}

// metersPerPixel estimates ground meters per screen pixel at a
// position and zoom, assuming the standard 256px tile.
func metersPerPixel(p geo.Point, zoom int) float64 {
	worldPixels := float64(spatial.DefaultTileSize) * math.Pow(2, float64(zoom))
	degPerPixel := 360 / worldPixels
	return geo.Haversine(p, geo.Point{Lat: p.Lat, Lng: p.Lng + degPerPixel})
}
