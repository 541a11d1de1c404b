package machine

import (
	"errors"
	"math"
)

// GridOptions describe a rectangular probe grid starting at the origin of
// Template (its X and Y).
type GridOptions struct {
	Template ProbeRequest

	DistanceX, DistanceY float64

	// Granularity is the maximum distance between neighbouring points.
	Granularity float64
}

// Requests lays out the grid as a serpentine so the head never travels
// back across a full row.
func (opt GridOptions) Requests() ([]ProbeRequest, error) {
	if opt.Granularity <= 0 {
		return nil, errors.New("granularity must be positive")
	}
	if opt.DistanceX < 0 || opt.DistanceY < 0 {
		return nil, errors.New("grid distances must not be negative")
	}

	xyDist := math.Sqrt(opt.Granularity * opt.Granularity / 2)
	xCount := int(math.Ceil(opt.DistanceX / xyDist))
	yCount := int(math.Ceil(opt.DistanceY / xyDist))

	step := func(dist float64, n, i int) float64 {
		if n == 0 {
			return 0
		}
		return dist / float64(n) * float64(i)
	}

	res := make([]ProbeRequest, 0, (xCount+1)*(yCount+1))
	for y := 0; y <= yCount; y++ {
		for x := 0; x <= xCount; x++ {
			xVal := step(opt.DistanceX, xCount, x)
			if y%2 != 0 {
				xVal = opt.DistanceX - xVal
			}
			r := opt.Template
			r.X = opt.Template.X + xVal
			r.Y = opt.Template.Y + step(opt.DistanceY, yCount, y)
			res = append(res, r)
		}
	}
	return res, nil
}
