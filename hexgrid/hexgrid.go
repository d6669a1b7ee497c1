// Package hexgrid maps geographic points onto a hexagonal tessellation
// of the projected plane. Cells use flat-top axial coordinates (q, r);
// the third cube coordinate s is derived: s = -q - r. Cell size adapts
// to zoom level and latitude so a cell covers a roughly constant number
// of screen pixels.
package hexgrid

import (
	"fmt"
	"math"

	"github.com/MapConductor/geocore/geo"
)

// DefaultBaseSideMeters is the hex side length at zoom 0 on the equator.
const DefaultBaseSideMeters = 100_000

// minLatCos floors the latitude correction so the adjusted side length
// stays finite near the poles.
const minLatCos = 0.01

// Coord is a hex-grid position in axial coordinates, tagged with the
// zoom depth it was produced at. Coordinates from different depths
// address different tessellations and must not be mixed.
type Coord struct {
	Q     int `json:"q"`
	R     int `json:"r"`
	Depth int `json:"depth"`
}

// S returns the implicit third cube coordinate.
func (c Coord) S() int {
	return -c.Q - c.R
}

// NeighborDirections defines the six neighbor offsets in axial coordinates.
var NeighborDirections = [6]Coord{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// Neighbors returns the six adjacent coordinates at the same depth.
func (c Coord) Neighbors() [6]Coord {
	var result [6]Coord
	for i, dir := range NeighborDirections {
		result[i] = Coord{Q: c.Q + dir.Q, R: c.R + dir.R, Depth: c.Depth}
	}
	return result
}

// Distance returns the hex distance between two coordinates:
// (|dq| + |dq+dr| + |dr|) / 2, a true metric on the grid.
func Distance(a, b Coord) int {
	dq := a.Q - b.Q
	dr := a.R - b.R
	return (abs(dq) + abs(dq+dr) + abs(dr)) / 2
}

// Range enumerates every coordinate within the given hex distance of
// center, center included. O(radius²). A negative radius yields nil.
func Range(center Coord, radius int) []Coord {
	if radius < 0 {
		return nil
	}
	coords := make([]Coord, 0, 1+3*radius*(radius+1))
	for dq := -radius; dq <= radius; dq++ {
		lo := max(-radius, -dq-radius)
		hi := min(radius, -dq+radius)
		for dr := lo; dr <= hi; dr++ {
			coords = append(coords, Coord{Q: center.Q + dq, R: center.R + dr, Depth: center.Depth})
		}
	}
	return coords
}

// Cell is an immutable hex cell: its coordinate, planar and geographic
// centers, and a deterministic string id. Equality and hashing are by
// id only.
type Cell struct {
	Coord  Coord
	Planar geo.Planar
	Center geo.Point
	ID     string
}

// Equal reports whether two cells address the same grid cell.
func (c Cell) Equal(o Cell) bool {
	return c.ID == o.ID
}

// Grid converts between geographic points and hex cells. Construct one
// explicitly and pass it to whoever needs it; there is no package-level
// shared instance.
type Grid struct {
	baseSide float64
}

// New creates a grid with the given base side length in meters.
func New(baseSideMeters float64) (*Grid, error) {
	if baseSideMeters <= 0 {
		return nil, fmt.Errorf("hexgrid: base side must be positive, got %g", baseSideMeters)
	}
	return &Grid{baseSide: baseSideMeters}, nil
}

// Default returns a grid with DefaultBaseSideMeters.
func Default() *Grid {
	return &Grid{baseSide: DefaultBaseSideMeters}
}

// SideMeters returns the adjusted hex side length at the given latitude
// and zoom: base / 2^zoom / max(cos(lat), 0.01). The cosine floor keeps
// the side finite near the poles.
func (g *Grid) SideMeters(lat float64, zoom int) float64 {
	cos := math.Cos(lat * math.Pi / 180)
	if cos < minLatCos {
		cos = minLatCos
	}
	return g.baseSide / math.Pow(2, float64(zoom)) / cos
}

// PointToCoord maps a geographic point to the hex coordinate containing
// it at the given zoom.
func (g *Grid) PointToCoord(p geo.Point, zoom int) Coord {
	fq, fr := g.fracAxial(p, zoom)
	q, r := roundCube(fq, fr)
	return Coord{Q: q, R: r, Depth: zoom}
}

// fracAxial converts a point to fractional axial coordinates via the
// flat-top hex basis.
func (g *Grid) fracAxial(p geo.Point, zoom int) (fq, fr float64) {
	side := g.SideMeters(p.Lat, zoom)
	pl := geo.Project(p)
	fq = (2.0 / 3.0) * pl.X / side
	fr = (-1.0/3.0*pl.X + math.Sqrt(3)/3*pl.Y) / side
	return fq, fr
}

// roundCube snaps fractional axial coordinates to the nearest valid
// integer coordinate. Each cube component is rounded independently,
// then the component with the largest rounding error is recomputed
// from the other two so that q+r+s = 0 holds exactly.
func roundCube(fq, fr float64) (int, int) {
	fs := -fq - fr

	q := math.Round(fq)
	r := math.Round(fr)
	s := math.Round(fs)

	dq := math.Abs(q - fq)
	dr := math.Abs(r - fr)
	ds := math.Abs(s - fs)

	// The largest-error component is recomputed from the other two; when
	// s has the largest error nothing needs fixing, since s is derived.
	switch {
	case dq > dr && dq > ds:
		q = -r - s
	case dr > ds:
		r = -q - s
	}

	return int(q), int(r)
}

// Center returns the geographic center of a coordinate. A bare hex
// coordinate carries no latitude, so latHint supplies the latitude used
// for the adaptive side length; pass the latitude of the region the
// coordinate was produced from.
func (g *Grid) Center(c Coord, latHint float64, zoom int) geo.Point {
	return geo.Unproject(g.planarCenter(c, latHint, zoom))
}

func (g *Grid) planarCenter(c Coord, latHint float64, zoom int) geo.Planar {
	side := g.SideMeters(latHint, zoom)
	x := side * 1.5 * float64(c.Q)
	y := side * math.Sqrt(3) * (float64(c.R) + float64(c.Q)/2)
	return geo.Planar{X: x, Y: y}
}

// Polygon returns the six vertices of a cell, at circumradius
// side·2/√3 around the center, stepping 60° from -30°.
func (g *Grid) Polygon(c Coord, latHint float64, zoom int) []geo.Point {
	side := g.SideMeters(latHint, zoom)
	center := g.planarCenter(c, latHint, zoom)
	circum := side * 2 / math.Sqrt(3)

	vertices := make([]geo.Point, 6)
	for i := 0; i < 6; i++ {
		angle := (-30 + 60*float64(i)) * math.Pi / 180
		vertices[i] = geo.Unproject(geo.Planar{
			X: center.X + circum*math.Cos(angle),
			Y: center.Y + circum*math.Sin(angle),
		})
	}
	return vertices
}

// CellID returns the deterministic string id for a coordinate at the
// given zoom bucket. Ids are hierarchical: all ids of one zoom bucket
// share the "<zoom>/" prefix, so prefix matching selects a resolution.
func (g *Grid) CellID(c Coord, zoom int) string {
	return fmt.Sprintf("%d/%d/%d", zoom, c.Q, c.R)
}

// CellAt builds the full cell containing a point at the given zoom.
func (g *Grid) CellAt(p geo.Point, zoom int) Cell {
	coord := g.PointToCoord(p, zoom)
	center := g.Center(coord, p.Lat, zoom)
	return Cell{
		Coord:  coord,
		Planar: geo.Project(center),
		Center: center,
		ID:     g.CellID(coord, zoom),
	}
}

// EnclosingCell returns the cell containing the spherical centroid of a
// point set. The centroid is computed on the sphere, not in the plane,
// so point sets straddling the antimeridian resolve correctly.
func (g *Grid) EnclosingCell(points []geo.Point, zoom int) (Cell, error) {
	if len(points) == 0 {
		return Cell{}, fmt.Errorf("hexgrid: enclosing cell of empty point set")
	}
	return g.CellAt(geo.SphericalCentroid(points), zoom), nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
