package machine

import (
	"errors"
	"fmt"

	"github.com/mastercactapus/grblctl/coord"
	"github.com/mastercactapus/grblctl/gcode"
)

// ProbeResult is a position reported by a probe cycle.
type ProbeResult struct {
	coord.Point
	Valid bool
}

// ProbeRequest describes one straight Z probe at X,Y.
//
// Heights are absolute work coordinates; feeds are in the active unit per minute.
type ProbeRequest struct {
	X, Y float64

	Clearance  float64
	ProbeStart float64
	ProbeEnd   float64

	MotionFeed float64
	ProbeFeed  float64
}

func (r ProbeRequest) Validate() error {
	switch {
	case r.MotionFeed <= 0:
		return errors.New("motion feed must be positive")
	case r.ProbeFeed <= 0:
		return errors.New("probe feed must be positive")
	case r.ProbeEnd >= r.ProbeStart:
		return fmt.Errorf("probe end %g must be below probe start %g", r.ProbeEnd, r.ProbeStart)
	case r.ProbeStart > r.Clearance:
		return fmt.Errorf("probe start %g must not be above clearance %g", r.ProbeStart, r.Clearance)
	}
	return nil
}

// blocks returns the motion sequence of a single request.
func (r ProbeRequest) blocks() []gcode.Block {
	return []gcode.Block{
		{{W: 'G', Arg: 1}, {W: 'Z', Arg: r.Clearance}, {W: 'F', Arg: r.MotionFeed}},
		{{W: 'G', Arg: 1}, {W: 'X', Arg: r.X}, {W: 'Y', Arg: r.Y}},
		{{W: 'G', Arg: 1}, {W: 'Z', Arg: r.ProbeStart}},
		{{W: 'G', Arg: 38.2}, {W: 'Z', Arg: r.ProbeEnd}, {W: 'F', Arg: r.ProbeFeed}},
		{{W: 'G', Arg: 1}, {W: 'Z', Arg: r.Clearance}, {W: 'F', Arg: r.MotionFeed}},
	}
}

// ProbeProgram expands a batch of requests into one program. Absolute
// distance mode is selected once up front.
func ProbeProgram(reqs []ProbeRequest) (Program, error) {
	if len(reqs) == 0 {
		return Program{}, errors.New("no probe requests")
	}
	p := Program{
		Name:   "probe",
		Blocks: []gcode.Block{{{W: 'G', Arg: 90}}},
	}
	for i, r := range reqs {
		if err := r.Validate(); err != nil {
			return Program{}, fmt.Errorf("probe request %d: %w", i, err)
		}
		p.Blocks = append(p.Blocks, r.blocks()...)
	}
	return p, nil
}
