package coord

import (
	"math"
)

type Point struct{ X, Y, Z float64 }

func (p Point) Equal(b Point) bool {
	return p.X == b.X && p.Y == b.Y && p.Z == b.Z
}
func (p Point) Cross(op Point) Point {
	return Point{
		p.Y*op.Z - p.Z*op.Y,
		p.Z*op.X - p.X*op.Z,
		p.X*op.Y - p.Y*op.X,
	}
}
func (p Point) Dot(op Point) float64 {
	return p.X*op.X + p.Y*op.Y + p.Z*op.Z
}

// Mul scales every axis by val.
func (p Point) Mul(val float64) Point {
	return Point{p.X * val, p.Y * val, p.Z * val}
}

// Div divides every axis by val.
func (p Point) Div(val float64) Point {
	return Point{p.X / val, p.Y / val, p.Z / val}
}

// Add will add the target values to p.
func (p Point) Add(target Point) Point {
	return Point{p.X + target.X, p.Y + target.Y, p.Z + target.Z}
}

// Sub will subtract the target values from p.
func (p Point) Sub(target Point) Point {
	return Point{p.X - target.X, p.Y - target.Y, p.Z - target.Z}
}

// Axis returns the value of the named axis ('X', 'Y' or 'Z').
func (p Point) Axis(a byte) (float64, bool) {
	switch a {
	case 'X':
		return p.X, true
	case 'Y':
		return p.Y, true
	case 'Z':
		return p.Z, true
	}
	return 0, false
}

// WithAxis returns a copy of p with the named axis set to v.
func (p Point) WithAxis(a byte, v float64) Point {
	switch a {
	case 'X':
		p.X = v
	case 'Y':
		p.Y = v
	case 'Z':
		p.Z = v
	}
	return p
}

// Lerp returns the point a fraction t of the way from p to target.
func (p Point) Lerp(target Point, t float64) Point {
	return p.Add(target.Sub(p).Mul(t))
}

// DistanceXY will return the 2D distance to p from (x,y).
func (p Point) DistanceXY(x, y float64) float64 {
	return math.Hypot(x-p.X, y-p.Y)
}
