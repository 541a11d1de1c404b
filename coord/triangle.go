package coord

import (
	"math"
)

const (
	// Epsilon is the max error when checking containment.
	Epsilon   = 0.001
	epsilonSq = Epsilon * Epsilon
)

type Triangle struct{ A, B, C Point }

// Bounds returns the XY bounding box of the triangle.
func (t Triangle) Bounds() (minX, minY, maxX, maxY float64) {
	minX = math.Min(t.A.X, math.Min(t.B.X, t.C.X))
	maxX = math.Max(t.A.X, math.Max(t.B.X, t.C.X))
	minY = math.Min(t.A.Y, math.Min(t.B.Y, t.C.Y))
	maxY = math.Max(t.A.Y, math.Max(t.B.Y, t.C.Y))
	return minX, minY, maxX, maxY
}

// ContainsXY returns true if the 2D projection of the triangle
// has the point x,y.
func (t Triangle) ContainsXY(x, y float64) bool {
	if !pointInTriangleBoundingBox(t, x, y) {
		return false
	}
	return accuratePointInTriangle(
		t.A.X, t.A.Y,
		t.B.X, t.B.Y,
		t.C.X, t.C.Y,
		x, y)
}

// Z will give the Z-coordinate on the plane defined by the triangle
// where it intersects x,y.
func (t Triangle) Z(x, y float64) float64 {
	ac := t.C.Sub(t.A)
	ab := t.B.Sub(t.A)

	n := ac.Cross(ab)
	return (n.Dot(t.C) - n.X*x - n.Y*y) / n.Z
}

// adapted from https://totologic.blogspot.com/2014/01/accurate-point-in-triangle-test.html

func side(x1, y1, x2, y2, x, y float64) float64 {
	return (y2-y1)*(x-x1) + (-x2+x1)*(y-y1)
}
func naivePointInTriangle(x1, y1, x2, y2, x3, y3, x, y float64) bool {
	s1 := side(x1, y1, x2, y2, x, y)
	s2 := side(x2, y2, x3, y3, x, y)
	s3 := side(x3, y3, x1, y1, x, y)
	// either winding
	return (s1 >= 0 && s2 >= 0 && s3 >= 0) || (s1 <= 0 && s2 <= 0 && s3 <= 0)
}
func pointInTriangleBoundingBox(t Triangle, x, y float64) bool {
	xMin, yMin, xMax, yMax := t.Bounds()
	return x >= xMin-Epsilon && x <= xMax+Epsilon && y >= yMin-Epsilon && y <= yMax+Epsilon
}

func distanceSquarePointToSegment(x1, y1, x2, y2, x, y float64) float64 {
	p1p2squareLength := (x2-x1)*(x2-x1) + (y2-y1)*(y2-y1)
	dotProduct := ((x-x1)*(x2-x1) + (y-y1)*(y2-y1)) / p1p2squareLength
	if dotProduct < 0 {
		return (x-x1)*(x-x1) + (y-y1)*(y-y1)
	}
	if dotProduct <= 1 {
		p0p1squareLength := (x1-x)*(x1-x) + (y1-y)*(y1-y)
		return p0p1squareLength - dotProduct*dotProduct*p1p2squareLength
	}

	return (x-x2)*(x-x2) + (y-y2)*(y-y2)
}

func accuratePointInTriangle(x1, y1, x2, y2, x3, y3, x, y float64) bool {
	if naivePointInTriangle(x1, y1, x2, y2, x3, y3, x, y) {
		return true
	}
	if distanceSquarePointToSegment(x1, y1, x2, y2, x, y) <= epsilonSq {
		return true
	}
	if distanceSquarePointToSegment(x2, y2, x3, y3, x, y) <= epsilonSq {
		return true
	}
	if distanceSquarePointToSegment(x3, y3, x1, y1, x, y) <= epsilonSq {
		return true
	}

	return false
}
