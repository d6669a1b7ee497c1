package hexgrid

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MapConductor/geocore/geo"
)

func TestRoundCubeInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10_000; i++ {
		fq := rng.Float64()*2000 - 1000
		fr := rng.Float64()*2000 - 1000
		q, r := roundCube(fq, fr)
		s := -q - r

		require.Equal(t, 0, q+r+s, "cube invariant for (%f, %f)", fq, fr)

		// The snapped coordinate stays within one unit of the input on
		// every cube axis.
		fs := -fq - fr
		require.LessOrEqual(t, math.Abs(float64(q)-fq), 1.0)
		require.LessOrEqual(t, math.Abs(float64(r)-fr), 1.0)
		require.LessOrEqual(t, math.Abs(float64(s)-fs), 1.0)
	}
}

func TestRoundCubeExactIntegers(t *testing.T) {
	q, r := roundCube(3, -5)
	assert.Equal(t, 3, q)
	assert.Equal(t, -5, r)
}

// Round-tripping a point through its cell center must land back in the
// same cell. Points close to a cell boundary are skipped: the side
// length depends on latitude, so the center's re-conversion drifts a
// little, and on-boundary points are excluded by contract anyway.
func TestPointRoundTrip(t *testing.T) {
	g := Default()
	rng := rand.New(rand.NewSource(11))

	tried, tested := 0, 0
	for tried < 3000 {
		tried++
		p := geo.Point{
			Lat: rng.Float64()*40 - 20,
			Lng: rng.Float64()*30 - 15,
		}
		zoom := rng.Intn(9)

		coord := g.PointToCoord(p, zoom)
		if boundaryMargin(g, p, zoom, coord) < 0.25 {
			continue
		}
		tested++

		center := g.Center(coord, p.Lat, zoom)
		again := g.PointToCoord(center, zoom)
		require.Equal(t, coord, again, "round trip for %v zoom %d", p, zoom)
	}
	require.Greater(t, tested, 400, "boundary filter rejected too many samples")
}

// boundaryMargin measures how far inside its cell a point sits, in
// fractional cube units: 0.5 means dead center, 0 means on an edge.
func boundaryMargin(g *Grid, p geo.Point, zoom int, c Coord) float64 {
	fq, fr := g.fracAxial(p, zoom)
	fs := -fq - fr
	worst := math.Abs(fq - float64(c.Q))
	if d := math.Abs(fr - float64(c.R)); d > worst {
		worst = d
	}
	if d := math.Abs(fs - float64(c.S())); d > worst {
		worst = d
	}
	return 0.5 - worst
}

func TestDistanceIsAMetric(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	randCoord := func() Coord {
		return Coord{Q: rng.Intn(200) - 100, R: rng.Intn(200) - 100}
	}

	for i := 0; i < 1000; i++ {
		a, b, c := randCoord(), randCoord(), randCoord()

		assert.Equal(t, Distance(a, b), Distance(b, a), "symmetry")
		assert.Zero(t, Distance(a, a), "identity")
		if a != b {
			assert.Positive(t, Distance(a, b), "distinct coords are apart")
		}
		assert.LessOrEqual(t, Distance(a, c), Distance(a, b)+Distance(b, c), "triangle inequality")
	}
}

func TestRange(t *testing.T) {
	center := Coord{Q: 2, R: -1, Depth: 5}

	for radius := 0; radius <= 4; radius++ {
		coords := Range(center, radius)

		// 1 + 3r(r+1) coordinates within hex distance r.
		assert.Len(t, coords, 1+3*radius*(radius+1), "radius %d", radius)

		seen := make(map[Coord]struct{})
		for _, c := range coords {
			assert.LessOrEqual(t, Distance(center, c), radius)
			assert.Equal(t, center.Depth, c.Depth)
			seen[c] = struct{}{}
		}
		assert.Len(t, seen, len(coords), "no duplicates")
	}

	assert.Nil(t, Range(center, -1))
}

func TestNeighbors(t *testing.T) {
	c := Coord{Q: 4, R: -7, Depth: 3}
	for _, n := range c.Neighbors() {
		assert.Equal(t, 1, Distance(c, n))
		assert.Equal(t, c.Depth, n.Depth)
	}
}

func TestCellID(t *testing.T) {
	g := Default()
	id := g.CellID(Coord{Q: 3, R: -2}, 14)
	assert.Equal(t, "14/3/-2", id)
	assert.True(t, strings.HasPrefix(id, "14/"), "zoom bucket is the id prefix")
}

func TestCellAtEquality(t *testing.T) {
	g := Default()
	p := geo.Point{Lat: 20, Lng: 3}
	a := g.CellAt(p, 10)
	b := g.CellAt(a.Center, 10)
	assert.True(t, a.Equal(b), "a cell's center maps back to the cell")
}

// Two points ~55 m apart share a cell while cells are large, and split
// once the adaptive side length shrinks below their separation.
func TestZoomScenario(t *testing.T) {
	g := Default() // 100 km base side
	p1 := geo.Point{Lat: 0, Lng: 0}
	p2 := geo.Point{Lat: 0, Lng: 0.0005} // ~55 m east

	for _, zoom := range []int{0, 10} {
		c1 := g.PointToCoord(p1, zoom)
		c2 := g.PointToCoord(p2, zoom)
		assert.LessOrEqual(t, Distance(c1, c2), 1, "same or adjacent at zoom %d", zoom)
	}

	c1 := g.PointToCoord(p1, 14)
	c2 := g.PointToCoord(p2, 14)
	assert.NotEqual(t, c1, c2, "separate cells at zoom 14 (side ~6 m)")

	// Side length shrinks monotonically with zoom at fixed latitude.
	prev := math.Inf(1)
	for zoom := 0; zoom <= 20; zoom++ {
		side := g.SideMeters(0, zoom)
		assert.Less(t, side, prev, "zoom %d", zoom)
		prev = side
	}
	assert.InDelta(t, 97.66, g.SideMeters(0, 10), 0.01)
	assert.InDelta(t, 6.10, g.SideMeters(0, 14), 0.01)
}

func TestSideMetersPolarFloor(t *testing.T) {
	g := Default()
	// cos(89.9°) < 0.01, so the floor kicks in and the side stays finite.
	assert.InDelta(t, g.SideMeters(89.9, 0), DefaultBaseSideMeters/minLatCos, 1e-6)
}

func TestEnclosingCell(t *testing.T) {
	g := Default()

	_, err := g.EnclosingCell(nil, 5)
	require.Error(t, err)

	t.Run("centroid inside cluster", func(t *testing.T) {
		points := []geo.Point{
			{Lat: 10, Lng: 20},
			{Lat: 10.02, Lng: 20.02},
			{Lat: 9.98, Lng: 19.98},
		}
		cell, err := g.EnclosingCell(points, 6)
		require.NoError(t, err)
		assert.InDelta(t, 10, cell.Center.Lat, 1.0)
		assert.InDelta(t, 20, cell.Center.Lng, 1.0)
	})

	t.Run("antimeridian cluster", func(t *testing.T) {
		points := []geo.Point{
			{Lat: 0, Lng: 179.9},
			{Lat: 0, Lng: -179.9},
		}
		cell, err := g.EnclosingCell(points, 4)
		require.NoError(t, err)
		assert.Greater(t, math.Abs(cell.Center.Lng), 170.0,
			"centroid stays near the antimeridian, not at lng 0")
	})
}

func TestPolygon(t *testing.T) {
	g := Default()
	coord := Coord{Q: 1, R: 1}
	vertices := g.Polygon(coord, 0, 8)
	require.Len(t, vertices, 6)

	center := g.Center(coord, 0, 8)
	circum := g.SideMeters(0, 8) * 2 / math.Sqrt(3)
	for _, v := range vertices {
		d := geo.Haversine(center, v)
		// Haversine vs planar circumradius diverge slightly; 1% slack.
		assert.InDelta(t, circum, d, circum*0.01)
	}
}
