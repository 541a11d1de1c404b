// Package heightmap levels programs against a surface measured by probing.
package heightmap

import (
	"encoding/json"
	"errors"
	"io"
	"math"

	"github.com/fogleman/delaunay"
	"github.com/mastercactapus/grblctl/coord"
	"github.com/mastercactapus/grblctl/machine"
)

var ErrTooFewPoints = errors.New("need at least 3 points to create a height map")

// Map is a triangulated surface. OffsetZ interpolates the height of any
// point inside the probed area.
type Map struct {
	minX, minY, maxX, maxY float64
	points                 []coord.Point
	triangles              []coord.Triangle
}

// FromResults builds a map from probe results, skipping failed probes.
func FromResults(results []machine.ProbeResult) (*Map, error) {
	points := make([]coord.Point, 0, len(results))
	for _, r := range results {
		if !r.Valid {
			continue
		}
		points = append(points, r.Point)
	}
	return New(points)
}

// New triangulates points on the XY plane.
func New(points []coord.Point) (*Map, error) {
	if len(points) < 3 {
		return nil, ErrTooFewPoints
	}

	points2d := make([]delaunay.Point, len(points))
	byXY := make(map[delaunay.Point]coord.Point, len(points))

	m := &Map{
		minX:   points[0].X,
		minY:   points[0].Y,
		maxX:   points[0].X,
		maxY:   points[0].Y,
		points: append([]coord.Point(nil), points...),
	}
	for i, p := range points {
		m.minX = math.Min(m.minX, p.X)
		m.minY = math.Min(m.minY, p.Y)
		m.maxX = math.Max(m.maxX, p.X)
		m.maxY = math.Max(m.maxY, p.Y)

		d := delaunay.Point{X: p.X, Y: p.Y}
		byXY[d] = p
		points2d[i] = d
	}
	m.minX -= coord.Epsilon
	m.minY -= coord.Epsilon
	m.maxX += coord.Epsilon
	m.maxY += coord.Epsilon

	tri, err := delaunay.Triangulate(points2d)
	if err != nil {
		return nil, err
	}

	m.triangles = make([]coord.Triangle, 0, len(tri.Triangles)/3)
	for i := 0; i < len(tri.Triangles); i += 3 {
		m.triangles = append(m.triangles, coord.Triangle{
			A: byXY[tri.Points[tri.Triangles[i]]],
			B: byXY[tri.Points[tri.Triangles[i+1]]],
			C: byXY[tri.Points[tri.Triangles[i+2]]],
		})
	}

	return m, nil
}

// Points returns the measured points.
func (m *Map) Points() []coord.Point { return append([]coord.Point(nil), m.points...) }

// OffsetZ returns the surface height at x, y, if it lies within the map.
func (m *Map) OffsetZ(x, y float64) (bool, float64) {
	if x < m.minX || m.maxX < x || y < m.minY || m.maxY < y {
		return false, 0
	}
	for _, t := range m.triangles {
		if !t.ContainsXY(x, y) {
			continue
		}
		return true, t.Z(x, y)
	}

	return false, 0
}

// Relative returns a copy of the map with every height reduced by z, so
// the reference height becomes zero.
func (m *Map) Relative(z float64) *Map {
	res := *m
	res.points = m.Points()
	for i := range res.points {
		res.points[i].Z -= z
	}
	res.triangles = make([]coord.Triangle, len(m.triangles))
	for i, t := range m.triangles {
		t.A.Z -= z
		t.B.Z -= z
		t.C.Z -= z
		res.triangles[i] = t
	}
	return &res
}

func (m *Map) MarshalJSON() ([]byte, error) { return json.Marshal(m.points) }

// Save writes the measured points as JSON.
func (m *Map) Save(w io.Writer) error { return json.NewEncoder(w).Encode(m.points) }

// Load reads points written by Save and triangulates them.
func Load(r io.Reader) (*Map, error) {
	var points []coord.Point
	if err := json.NewDecoder(r).Decode(&points); err != nil {
		return nil, err
	}
	return New(points)
}
