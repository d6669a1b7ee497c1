// Package geo provides geographic value types and the planar meter
// projection the hex grid is built on. It is the leaf of the spatial
// stack: no dependencies on any other geocore package.
package geo

import (
	"fmt"
	"math"
)

const (
	// EarthRadiusMeters is the spherical earth radius used by the
	// projection and all great-circle math.
	EarthRadiusMeters = 6378137.0

	// DegreeTolerance is the coarse equality tolerance for geographic
	// coordinates. Points round-trip repeatedly through the projection,
	// so comparing bit-exact would make equality useless.
	DegreeTolerance = 1e-7

	// mercatorMaxLat bounds the projection; beyond it the Mercator y
	// coordinate diverges.
	mercatorMaxLat = 85.05112878

	degToRad = math.Pi / 180
	radToDeg = 180 / math.Pi
)

// Point is a geographic position in degrees, with an optional altitude
// in meters. The zero value is the null island at sea level.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
	Alt float64 `json:"alt,omitempty"`
}

// Equal reports whether two points are the same position within
// DegreeTolerance. Altitude is ignored.
func (p Point) Equal(o Point) bool {
	return math.Abs(p.Lat-o.Lat) < DegreeTolerance &&
		math.Abs(p.Lng-o.Lng) < DegreeTolerance
}

// Wrap normalizes a point whose coordinates have drifted outside the
// canonical ranges: latitude overflow is reflected across the poles
// (crossing a pole lands you on the far meridian), and longitude is
// folded into [-180, 180).
func (p Point) Wrap() Point {
	lat := math.Mod(p.Lat, 360)
	if lat > 180 {
		lat -= 360
	} else if lat < -180 {
		lat += 360
	}

	lng := p.Lng
	if lat > 90 {
		lat = 180 - lat
		lng += 180
	} else if lat < -90 {
		lat = -180 - lat
		lng += 180
	}

	lng = math.Mod(lng+180, 360)
	if lng < 0 {
		lng += 360
	}
	lng -= 180

	return Point{Lat: lat, Lng: lng, Alt: p.Alt}
}

// String returns a compact "lat,lng" rendering for logs.
func (p Point) String() string {
	return fmt.Sprintf("%.7f,%.7f", p.Lat, p.Lng)
}

// Bounds is a latitude/longitude rectangle. It does not handle
// antimeridian-crossing rectangles.
type Bounds struct {
	SW Point `json:"sw"`
	NE Point `json:"ne"`
}

// Contains reports whether the point lies inside the rectangle,
// edges inclusive.
func (b Bounds) Contains(p Point) bool {
	return p.Lat >= b.SW.Lat && p.Lat <= b.NE.Lat &&
		p.Lng >= b.SW.Lng && p.Lng <= b.NE.Lng
}

// Planar is a position in the projected plane, in meters.
type Planar struct {
	X float64
	Y float64
}

// Project maps a geographic point into the spherical-Mercator plane.
// Latitude is clamped to the Mercator limit so the projection stays
// finite near the poles.
func Project(p Point) Planar {
	lat := p.Lat
	if lat > mercatorMaxLat {
		lat = mercatorMaxLat
	} else if lat < -mercatorMaxLat {
		lat = -mercatorMaxLat
	}
	x := EarthRadiusMeters * p.Lng * degToRad
	y := EarthRadiusMeters * math.Log(math.Tan(math.Pi/4+lat*degToRad/2))
	return Planar{X: x, Y: y}
}

// Unproject is the inverse of Project.
func Unproject(pl Planar) Point {
	lng := pl.X / EarthRadiusMeters * radToDeg
	lat := (2*math.Atan(math.Exp(pl.Y/EarthRadiusMeters)) - math.Pi/2) * radToDeg
	return Point{Lat: lat, Lng: lng}
}

// SphericalCentroid computes the centroid of a point set on the unit
// sphere: average the 3D unit vectors and re-project the mean back to
// latitude/longitude. Unlike a planar average this behaves correctly
// across the antimeridian and near the poles. An empty set yields the
// zero point; a degenerate set whose vectors cancel falls back to the
// first point.
func SphericalCentroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}

	var sx, sy, sz float64
	for _, p := range points {
		lat := p.Lat * degToRad
		lng := p.Lng * degToRad
		sx += math.Cos(lat) * math.Cos(lng)
		sy += math.Cos(lat) * math.Sin(lng)
		sz += math.Sin(lat)
	}

	n := float64(len(points))
	sx /= n
	sy /= n
	sz /= n

	norm := math.Sqrt(sx*sx + sy*sy + sz*sz)
	if norm < 1e-12 {
		// Antipodal cancellation, no meaningful centroid exists.
		return points[0].Wrap()
	}

	lat := math.Asin(sz/norm) * radToDeg
	lng := math.Atan2(sy, sx) * radToDeg
	return Point{Lat: lat, Lng: lng}
}

// Haversine returns the great-circle distance between two points in
// meters.
func Haversine(a, b Point) float64 {
	dLat := (b.Lat - a.Lat) * degToRad
	dLng := (b.Lng - a.Lng) * degToRad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*degToRad)*math.Cos(b.Lat*degToRad)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
